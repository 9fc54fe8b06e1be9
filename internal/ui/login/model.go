package login

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailcache/internal/model"
	"github.com/nhle/mailcache/internal/theme"
)

// SubmittedMsg is sent when the login form is completed.
type SubmittedMsg struct {
	Username string
	Password string
}

// CancelledMsg is sent when the login form is aborted.
type CancelledMsg struct{}

// fields lives on the heap so the form's value pointers survive copies of
// Model.
type fields struct {
	username string
	password string
}

// Suggester returns addresses that complete prefix.
type Suggester func(prefix string) []string

// Model is the sign-in screen.
type Model struct {
	form    *huh.Form
	values  *fields
	suggest Suggester
	errMsg  string
	width   int
	height  int
}

// New creates a sign-in form, prefilled with username when non-empty.
func New(username string, width, height int) Model {
	m := Model{
		values: &fields{username: username},
		width:  width,
		height: height,
	}
	m.form = m.buildForm()
	return m
}

// WithSuggestions completes the email address with the results of fn.
func (m Model) WithSuggestions(fn Suggester) Model {
	m.suggest = fn
	m.form = m.buildForm()
	return m
}

func (m Model) buildForm() *huh.Form {
	address := huh.NewInput().
		Title("Email address").
		Placeholder("you@example.org").
		Value(&m.values.username).
		Validate(validateAddress)
	if m.suggest != nil {
		suggest, values := m.suggest, m.values
		address = address.SuggestionsFunc(func() []string {
			return suggest(values.username)
		}, &m.values.username)
	}

	return huh.NewForm(
		huh.NewGroup(
			address,
			huh.NewInput().
				Title("App password").
				Description("Generated in your mail provider's security settings").
				EchoMode(huh.EchoModePassword).
				Value(&m.values.password).
				Validate(validateRequired("Password")),
		),
	).WithWidth(m.formWidth()).WithShowHelp(true)
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update forwards messages to the form and reports its completion.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		submitted := SubmittedMsg{
			Username: strings.TrimSpace(m.values.username),
			Password: m.values.password,
		}
		return m, func() tea.Msg { return submitted }
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelledMsg{} }
	}

	return m, cmd
}

// View renders the form and the last sign-in error.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Sign in")

	parts := []string{title, m.form.View()}
	if m.errMsg != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorRed).Render(m.errMsg))
	}

	return theme.PanelStyle.
		Width(m.formWidth()).
		Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// Reset rebuilds the form after a failed attempt, keeping the username.
func (m Model) Reset(err error) Model {
	m.values.password = ""
	if err != nil {
		m.errMsg = err.Error()
	}
	m.form = m.buildForm()
	return m
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.form = m.form.WithWidth(m.formWidth())
}

func (m Model) formWidth() int {
	return min(max(m.width-8, 30), 72)
}

// NewToken builds the stored credential for a submitted login. App
// passwords carry no expiry, so they are given the configured lifetime.
func NewToken(msg SubmittedMsg, now time.Time, lifetime time.Duration) model.Token {
	return model.Token{
		UserID:      strings.ToLower(msg.Username),
		Username:    msg.Username,
		AccessToken: msg.Password,
		ExpiresAt:   now.Add(lifetime),
	}
}

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("email address is required")
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return fmt.Errorf("not a valid email address")
	}
	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
