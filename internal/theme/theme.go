package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailcache/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the application title bar.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// ErrorBarStyle replaces the status bar while an error is shown.
var ErrorBarStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorRed).
	Padding(0, 1)

// PanelStyle wraps the help and login panels.
var PanelStyle = lipgloss.NewStyle().
	Padding(1, 2).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// PaneStyle frames the folder and thread panes.
var PaneStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// FocusedPaneStyle marks the pane receiving keys.
var FocusedPaneStyle = PaneStyle.
	BorderForeground(ColorBlue)

// ListItemStyle is the base style for items in a list.
var ListItemStyle = lipgloss.NewStyle().
	PaddingLeft(2)

// SelectedItemStyle highlights the currently focused list item.
var SelectedItemStyle = lipgloss.NewStyle().
	PaddingLeft(1).
	Bold(true).
	Foreground(ColorBlue).
	Border(lipgloss.NormalBorder(), false, false, false, true).
	BorderForeground(ColorBlue)

// UnreadStyle renders unread counts and unread subjects.
var UnreadStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite)

// MutedStyle renders secondary text such as dates and senders.
var MutedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// RoleStyle returns a color-coded style for a folder role.
func RoleStyle(role string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch role {
	case model.RoleInbox:
		return base.Foreground(ColorBlue)
	case model.RoleSent, model.RoleDrafts:
		return base.Foreground(ColorGreen)
	case model.RoleSpam:
		return base.Foreground(ColorOrange)
	case model.RoleTrash:
		return base.Foreground(ColorRed)
	case model.RoleArchive:
		return base.Foreground(ColorMagenta)
	default:
		return lipgloss.NewStyle().Foreground(ColorWhite)
	}
}

// QuotaStyle colors a quota usage ratio.
func QuotaStyle(ratio float64) lipgloss.Style {
	base := lipgloss.NewStyle()

	switch {
	case ratio >= 0.95:
		return base.Foreground(ColorRed).Bold(true)
	case ratio >= 0.8:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}
