package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailcache/internal/account"
	"github.com/nhle/mailcache/internal/keys"
	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/source"
	appsync "github.com/nhle/mailcache/internal/sync"
	"github.com/nhle/mailcache/internal/theme"
	"github.com/nhle/mailcache/internal/ui"
	"github.com/nhle/mailcache/internal/ui/folderlist"
	helpview "github.com/nhle/mailcache/internal/ui/help"
	"github.com/nhle/mailcache/internal/ui/login"
	"github.com/nhle/mailcache/internal/ui/threadlist"
)

// ErrorMsg carries a background failure to the status bar.
type ErrorMsg struct {
	FolderID string
	Err      error
}

// ProgramReporter returns an error reporter that forwards load failures
// to a running program as ErrorMsg. send is typically (*tea.Program).Send.
func ProgramReporter(send func(tea.Msg)) appsync.ReporterFunc {
	return func(folderID string, err error) {
		send(ErrorMsg{FolderID: folderID, Err: err})
	}
}

type sessionOpenedMsg struct {
	session *Session
	err     error
}

type loggedOutMsg struct {
	err error
}

type unseenMsg struct {
	count int
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewStarting ViewState = iota
	ViewLogin
	ViewMailbox
	ViewHelp
)

// Model is the root Bubble Tea model. It routes between the sign-in
// screen and the mailbox, and owns the current session.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	deps         Deps
	accounts     *account.Manager
	keys         *keys.KeyMap
	login        login.Model
	folders      folderlist.Model
	threads      threadlist.Model
	helpView     helpview.Model
	session      *Session
	focusFolders bool
	ready        bool
	unseen       int
	status       string
	errMsg       string
	now          func() time.Time
}

// New creates the root model. If accounts already has a current account
// its session is opened on Init; otherwise the sign-in form is shown.
func New(deps Deps, accounts *account.Manager) Model {
	k := keys.DefaultKeyMap()
	username := ""
	if acct := accounts.CurrentAccount(); acct != nil {
		username = acct.Token.Username
	}

	m := Model{
		currentView:  ViewLogin,
		deps:         deps,
		accounts:     accounts,
		keys:         k,
		login:        login.New(username, 80, 24).WithSuggestions(addressSuggester(deps)),
		helpView:     helpview.New(k, 80, 24),
		focusFolders: true,
		now:          time.Now,
	}
	if accounts.IsLoggedIn() {
		m.currentView = ViewStarting
	}
	return m
}

// Init opens the restored session or starts the sign-in form.
func (m Model) Init() tea.Cmd {
	if acct := m.accounts.CurrentAccount(); acct != nil {
		return m.openSession(*acct)
	}
	return m.login.Init()
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.resize()
		if m.currentView == ViewLogin {
			var cmd tea.Cmd
			m.login, cmd = m.login.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m.handleKey(msg)

	case login.SubmittedMsg:
		lifetime := time.Duration(m.deps.Config.Account.TokenLifetimeDays) * 24 * time.Hour
		token := login.NewToken(msg, m.now(), lifetime)
		acct, err := m.accounts.CreateAndSetCurrentAccount(context.Background(), token)
		if err != nil {
			m.login = m.login.Reset(err)
			return m, m.login.Init()
		}
		m.currentView = ViewStarting
		m.status = "Signing in…"
		return m, m.openSession(*acct)

	case login.CancelledMsg:
		return m, tea.Quit

	case sessionOpenedMsg:
		return m.handleSessionOpened(msg)

	case loggedOutMsg:
		if msg.err != nil {
			m.errMsg = fmt.Sprintf("Sign out failed: %v", msg.err)
			return m, nil
		}
		m.session = nil
		m.unseen = 0
		m.errMsg = ""
		m.currentView = ViewLogin
		m.login = login.New("", m.layout.Width, m.layout.Height).WithSuggestions(addressSuggester(m.deps))
		return m, m.login.Init()

	case appsync.RefreshResultMsg:
		return m.handleRefreshResult(msg)

	case appsync.LoadOlderDoneMsg:
		return m.handleLoadOlderDone(msg)

	case ErrorMsg:
		m.errMsg = describeError(msg.FolderID, msg.Err)
		return m, nil

	case unseenMsg:
		m.unseen = msg.count
		return m, nil

	case folderlist.SelectedFolderMsg:
		m.focusFolders = false
		return m, m.threads.LoadThreads(msg.Folder.ID)

	case folderlist.FoldersLoadedMsg, spinner.TickMsg:
		if m.session == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.folders, cmd = m.folders.Update(msg)
		return m, cmd

	case threadlist.ThreadsLoadedMsg:
		if m.session == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.threads, cmd = m.threads.Update(msg)
		return m, cmd
	}

	if m.currentView == ViewLogin {
		var cmd tea.Cmd
		m.login, cmd = m.login.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.currentView {
	case ViewLogin:
		var cmd tea.Cmd
		m.login, cmd = m.login.Update(msg)
		return m, cmd

	case ViewStarting:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		return m, nil

	case ViewHelp:
		if key.Matches(msg, m.keys.Help, m.keys.Back, m.keys.Quit) {
			m.currentView = m.previousView
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return m, nil

	case key.Matches(msg, m.keys.Back):
		m.errMsg = ""
		m.focusFolders = true
		return m, nil

	case key.Matches(msg, m.keys.SwitchPane):
		m.focusFolders = !m.focusFolders
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		if f, ok := m.threads.Folder(); ok && !m.focusFolders {
			return m, m.session.Poller.Refresh(f.ID)
		}
		return m, m.session.Poller.RefreshAll()

	case key.Matches(msg, m.keys.LoadMore):
		return m.loadOlder()

	case key.Matches(msg, m.keys.Logout):
		return m, m.logout()
	}

	var cmd tea.Cmd
	if m.focusFolders {
		m.folders, cmd = m.folders.Update(msg)
	} else {
		m.threads, cmd = m.threads.Update(msg)
	}
	return m, cmd
}

func (m Model) handleSessionOpened(msg sessionOpenedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		// A rejected credential is shown on the form itself.
		if !source.IsAuthError(msg.err) {
			m.errMsg = fmt.Sprintf("Could not open mailbox: %v", msg.err)
		}
		m.currentView = ViewLogin
		m.login = m.login.Reset(msg.err)
		return m, m.login.Init()
	}

	m.session = msg.session
	m.unseen = msg.session.Mailbox.UnseenCount
	m.status = ""
	m.errMsg = ""
	m.currentView = ViewMailbox
	m.focusFolders = true
	m.folders = folderlist.New(m.session.Content, m.keys, 20, 20)
	m.threads = threadlist.New(m.session.Content, 60, 20)
	m.resize()

	return m, tea.Batch(m.folders.Init(), m.session.Poller.Start())
}

func (m Model) handleRefreshResult(msg appsync.RefreshResultMsg) (tea.Model, tea.Cmd) {
	if m.session == nil {
		return m, nil
	}

	switch {
	case msg.AuthExpired:
		m.errMsg = "Your session has expired. Press L to sign out and sign in again."
	case msg.Error != nil:
		m.errMsg = describeError(msg.FolderID, msg.Error)
	case msg.FolderID != "":
		m.errMsg = ""
	}

	cmds := []tea.Cmd{
		m.session.Poller.WaitForNextResult(),
		m.folders.LoadFolders(),
		m.updateUnseen(),
	}
	if f, ok := m.threads.Folder(); ok && f.ID == msg.FolderID {
		cmds = append(cmds, m.threads.LoadThreads(f.ID))
	}
	return m, tea.Batch(cmds...)
}

func (m Model) loadOlder() (tea.Model, tea.Cmd) {
	folderID := ""
	if f, ok := m.threads.Folder(); ok && !m.focusFolders {
		folderID = f.ID
	} else if f, ok := m.folders.Selected(); ok {
		folderID = f.ID
	}
	if folderID == "" || m.session.Paginator.IsLoading(folderID) {
		return m, nil
	}

	if f, ok := m.threads.Folder(); ok && f.ID == folderID {
		m.threads.SetLoading(true)
	}
	tick := m.folders.SetLoading(folderID, true)
	return m, tea.Batch(tick, m.session.LoadOlder(folderID))
}

func (m Model) handleLoadOlderDone(msg appsync.LoadOlderDoneMsg) (tea.Model, tea.Cmd) {
	// A rejected duplicate leaves the running load's indicators alone.
	if m.session == nil || errors.Is(msg.Err, appsync.ErrLoadInProgress) {
		return m, nil
	}
	m.folders.SetLoading(msg.FolderID, false)

	switch {
	case errors.Is(msg.Err, appsync.ErrNothingToLoad):
		m.status = "Nothing older to load"
	case msg.Err != nil:
		// Reported through ErrorMsg.
	case msg.Result.HistoryComplete:
		m.status = fmt.Sprintf("Loaded %d older messages; all mail is cached", msg.Result.Created)
	default:
		m.status = fmt.Sprintf("Loaded %d older messages", msg.Result.Created)
	}

	cmds := []tea.Cmd{m.folders.LoadFolders()}
	if f, ok := m.threads.Folder(); ok && f.ID == msg.FolderID {
		m.threads.SetLoading(false)
		cmds = append(cmds, m.threads.LoadThreads(f.ID))
	}
	return m, tea.Batch(cmds...)
}

// addressSuggester completes login addresses from known contacts, which
// include the user's own address once their sent mail has been cached.
func addressSuggester(deps Deps) login.Suggester {
	if deps.Contacts == nil {
		return nil
	}
	return func(prefix string) []string {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		found, err := deps.Contacts.SearchContacts(ctx, prefix, 5)
		if err != nil {
			if deps.Logger != nil {
				deps.Logger.Warn("searching contacts", "error", err)
			}
			return nil
		}
		addresses := make([]string, len(found))
		for i, c := range found {
			addresses[i] = c.Email
		}
		return addresses
	}
}

func (m Model) openSession(acct model.Account) tea.Cmd {
	deps := m.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s, err := OpenSession(ctx, deps, acct)
		return sessionOpenedMsg{session: s, err: err}
	}
}

// logout removes the credential first so that a failure leaves the user
// signed in with the session intact.
func (m Model) logout() tea.Cmd {
	accounts := m.accounts
	session := m.session
	logger := m.deps.Logger
	return func() tea.Msg {
		if err := accounts.DeleteTokenAndAccount(context.Background()); err != nil {
			return loggedOutMsg{err: err}
		}
		if session != nil {
			if err := session.Discard(); err != nil && logger != nil {
				logger.Warn("discarding mailbox cache", "error", err)
			}
		}
		return loggedOutMsg{}
	}
}

func (m Model) updateUnseen() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		n, err := session.UpdateUnseen(context.Background())
		if err != nil {
			return nil
		}
		return unseenMsg{count: n}
	}
}

// Close releases the current session. Call it after the program exits.
func (m Model) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Close()
}

// Session returns the current session, or nil.
func (m Model) Session() *Session {
	return m.session
}

func (m *Model) resize() {
	if !m.ready {
		return
	}
	w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
	m.helpView.SetSize(w, h)
	m.login.SetSize(w, h)
	if m.session != nil {
		fw, tw, ph := m.layout.PaneSizes()
		m.folders.SetSize(fw, ph)
		m.threads.SetSize(tw, ph)
	}
}

// View renders the active view inside the header and status bar frame.
func (m Model) View() string {
	if !m.ready {
		return "Starting…"
	}

	header := m.layout.RenderHeader("mailcache", m.headerStatus())
	statusBar := m.layout.RenderStatusBar(m.statusText(), m.errMsg)

	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

func (m Model) renderContent() string {
	w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
	center := lipgloss.NewStyle().Width(w).Height(h).Align(lipgloss.Center, lipgloss.Center)

	switch m.currentView {
	case ViewStarting:
		return center.Foreground(theme.ColorGray).Render("Opening mailbox…")
	case ViewLogin:
		return center.Render(m.login.View())
	case ViewHelp:
		return m.helpView.View()
	default:
		return m.layout.RenderPanes(m.folders.View(), m.threads.View(), m.focusFolders)
	}
}

func (m Model) headerStatus() string {
	if m.session == nil {
		return ""
	}
	mb := m.session.Mailbox
	status := mb.Email
	if m.unseen > 0 {
		status = fmt.Sprintf("%s · %d unread", status, m.unseen)
	}
	if mb.QuotaMax > 0 {
		status += " · " + theme.QuotaStyle(mb.QuotaRatio()).
			Render(fmt.Sprintf("%.0f%% used", mb.QuotaRatio()*100))
	}
	return status
}

func (m Model) statusText() string {
	if m.status != "" && m.currentView == ViewMailbox {
		return m.status + "  " + m.helpView.ShortView()
	}
	if m.currentView == ViewMailbox {
		return m.helpView.ShortView()
	}
	return m.status
}

func describeError(folderID string, err error) string {
	var prefix string
	switch {
	case source.IsAuthError(err):
		prefix = "Sign-in rejected"
	case source.IsNetworkError(err):
		prefix = "Network error"
	case source.IsServerError(err):
		prefix = "Server error"
	case source.IsLocalError(err):
		prefix = "Local error"
	default:
		prefix = "Error"
	}
	if folderID != "" {
		prefix += " in " + folderID
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}
