package threadlist

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/store"
	"github.com/nhle/mailcache/internal/theme"
)

// maxThreads caps how many cached threads are rendered for one folder.
const maxThreads = 5000

// ThreadsLoadedMsg is sent when a folder's threads have been read.
type ThreadsLoadedMsg struct {
	Folder  model.Folder
	Threads []model.Thread
	Err     error
}

// ThreadItem wraps a model.Thread so it can be used in a bubbles/list.
type ThreadItem struct {
	Thread model.Thread
}

// FilterValue returns the string used for filtering.
func (i ThreadItem) FilterValue() string { return i.Thread.Subject }

type threadDelegate struct{}

func (d threadDelegate) Height() int                             { return 1 }
func (d threadDelegate) Spacing() int                            { return 0 }
func (d threadDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d threadDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ti, ok := item.(ThreadItem)
	if !ok {
		return
	}
	t := ti.Thread

	marker := " "
	if t.Flagged {
		marker = lipgloss.NewStyle().Foreground(theme.ColorYellow).Render("★")
	}

	sender := t.FromName
	if sender == "" {
		sender = t.From
	}
	sender = truncate(sender, 20)

	subject := t.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	if !t.Seen {
		subject = theme.UnreadStyle.Render(subject)
	}

	line := fmt.Sprintf("%s %-20s %s %s",
		marker,
		sender,
		subject,
		theme.MutedStyle.Render(relativeTime(t.Date)),
	)
	if index == m.Index() {
		fmt.Fprint(w, theme.SelectedItemStyle.Render(line))
		return
	}
	fmt.Fprint(w, theme.ListItemStyle.Render(line))
}

// Model is the thread pane of the open folder.
type Model struct {
	list    list.Model
	store   store.ContentStore
	folder  *model.Folder
	loading bool
	width   int
	height  int
}

// New creates a thread pane reading from the mailbox content store.
func New(s store.ContentStore, width, height int) Model {
	l := list.New([]list.Item{}, threadDelegate{}, width, max(height-1, 0))
	l.SetShowTitle(false)
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)

	return Model{
		list:   l,
		store:  s,
		width:  width,
		height: height,
	}
}

// Update handles messages for the thread pane.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(ThreadsLoadedMsg); ok {
		if msg.Err != nil {
			return m, nil
		}
		f := msg.Folder
		m.folder = &f
		items := make([]list.Item, len(msg.Threads))
		for i, t := range msg.Threads {
			items[i] = ThreadItem{Thread: t}
		}
		return m, m.list.SetItems(items)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the threads followed by the history footer.
func (m Model) View() string {
	if m.folder == nil {
		return theme.MutedStyle.Render("Select a folder.")
	}
	body := m.list.View()
	if len(m.list.Items()) == 0 {
		body = lipgloss.NewStyle().
			Width(m.width).
			Height(max(m.height-1, 0)).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No messages cached.")
	}
	return lipgloss.JoinVertical(lipgloss.Left, body, m.footer())
}

func (m Model) footer() string {
	switch {
	case m.loading:
		return theme.HelpStyle.Render("Loading older messages…")
	case m.folder.IsHistoryComplete:
		return theme.HelpStyle.Render("All messages loaded.")
	case m.folder.LastUpdate == nil:
		return theme.HelpStyle.Render("Waiting for first sync…")
	default:
		return theme.HelpStyle.Render("Press m to load older messages.")
	}
}

// Folder returns the open folder, if any.
func (m Model) Folder() (model.Folder, bool) {
	if m.folder == nil {
		return model.Folder{}, false
	}
	return *m.folder, true
}

// SetLoading marks a "load older" gesture as running for the open folder.
func (m *Model) SetLoading(loading bool) {
	m.loading = loading
}

// IsLoading reports whether the "loading older" footer is shown.
func (m Model) IsLoading() bool {
	return m.loading
}

// LoadThreads returns a tea.Cmd that reads folderID and its threads.
func (m Model) LoadThreads(folderID string) tea.Cmd {
	s := m.store
	return func() tea.Msg {
		ctx := context.Background()
		f, err := s.GetFolder(ctx, folderID)
		if err != nil {
			return ThreadsLoadedMsg{Err: err}
		}
		threads, err := s.GetThreads(ctx, folderID, maxThreads, 0)
		return ThreadsLoadedMsg{Folder: *f, Threads: threads, Err: err}
	}
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, max(height-1, 0))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// relativeTime formats a time as a short human-readable relative string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return strings.TrimSpace(t.Local().Format("Jan _2"))
	}
}
