package folderlist

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailcache/internal/keys"
	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/store"
	"github.com/nhle/mailcache/internal/theme"
)

// FoldersLoadedMsg is sent when folders have been read from the store.
type FoldersLoadedMsg struct {
	Folders []model.Folder
	Err     error
}

// SelectedFolderMsg is sent when the user opens a folder.
type SelectedFolderMsg struct {
	Folder model.Folder
}

// FolderItem wraps a model.Folder so it can be used in a bubbles/list.
type FolderItem struct {
	Folder model.Folder
}

// FilterValue returns the string used for filtering.
func (i FolderItem) FilterValue() string { return i.Folder.Name }

// folderDelegate renders one folder per line with its unread count. The
// loading map is shared with the Model so spinner state is visible.
type folderDelegate struct {
	loading map[string]bool
	spinner *spinner.Model
}

func (d folderDelegate) Height() int                             { return 1 }
func (d folderDelegate) Spacing() int                            { return 0 }
func (d folderDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d folderDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	fi, ok := item.(FolderItem)
	if !ok {
		return
	}
	f := fi.Folder

	var b strings.Builder
	b.WriteString(theme.RoleStyle(f.Role).Render(f.Name))
	if f.UnreadCount > 0 {
		b.WriteString(" ")
		b.WriteString(theme.UnreadStyle.Render(fmt.Sprintf("(%d)", f.UnreadCount)))
	}
	if d.loading[f.ID] {
		b.WriteString(" ")
		b.WriteString(d.spinner.View())
	}

	line := b.String()
	if index == m.Index() {
		fmt.Fprint(w, theme.SelectedItemStyle.Render(line))
		return
	}
	fmt.Fprint(w, theme.ListItemStyle.Render(line))
}

// Model is the folder pane.
type Model struct {
	list    list.Model
	store   store.ContentStore
	keys    *keys.KeyMap
	spinner *spinner.Model
	loading map[string]bool
	width   int
	height  int
}

// New creates a folder pane reading from the mailbox content store.
func New(s store.ContentStore, k *keys.KeyMap, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.HelpStyle
	loading := make(map[string]bool)

	l := list.New([]list.Item{}, folderDelegate{loading: loading, spinner: &sp}, width, height)
	l.Title = "Folders"
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:    l,
		store:   s,
		keys:    k,
		spinner: &sp,
		loading: loading,
		width:   width,
		height:  height,
	}
}

// Init loads the cached folders.
func (m Model) Init() tea.Cmd {
	return m.LoadFolders()
}

// Update handles messages for the folder pane.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case FoldersLoadedMsg:
		if msg.Err != nil {
			return m, nil
		}
		items := make([]list.Item, len(msg.Folders))
		for i, f := range msg.Folders {
			items[i] = FolderItem{Folder: f}
		}
		return m, m.list.SetItems(items)

	case spinner.TickMsg:
		if len(m.loading) == 0 {
			return m, nil
		}
		sp, cmd := m.spinner.Update(msg)
		*m.spinner = sp
		return m, cmd

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Select) {
			f, ok := m.Selected()
			if !ok {
				return m, nil
			}
			return m, func() tea.Msg { return SelectedFolderMsg{Folder: f} }
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the folder pane.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return theme.MutedStyle.Render("No folders yet.\nPress r to refresh.")
	}
	return m.list.View()
}

// Selected returns the highlighted folder.
func (m Model) Selected() (model.Folder, bool) {
	fi, ok := m.list.SelectedItem().(FolderItem)
	if !ok {
		return model.Folder{}, false
	}
	return fi.Folder, true
}

// Folders returns every folder currently shown.
func (m Model) Folders() []model.Folder {
	items := m.list.Items()
	folders := make([]model.Folder, 0, len(items))
	for _, it := range items {
		if fi, ok := it.(FolderItem); ok {
			folders = append(folders, fi.Folder)
		}
	}
	return folders
}

// SetLoading toggles the spinner next to a folder. It returns the command
// that keeps the spinner ticking.
func (m *Model) SetLoading(folderID string, loading bool) tea.Cmd {
	if !loading {
		delete(m.loading, folderID)
		return nil
	}
	wasIdle := len(m.loading) == 0
	m.loading[folderID] = true
	if wasIdle {
		return m.spinner.Tick
	}
	return nil
}

// IsLoading reports whether the spinner is shown for folderID.
func (m Model) IsLoading(folderID string) bool {
	return m.loading[folderID]
}

// LoadFolders returns a tea.Cmd that reads the folders from the store.
func (m Model) LoadFolders() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		folders, err := s.GetFolders(context.Background())
		return FoldersLoadedMsg{Folders: folders, Err: err}
	}
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
