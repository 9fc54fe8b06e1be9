package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailcache/internal/theme"
)

// Layout manages the terminal layout dimensions: a header, a folder pane
// beside a thread pane, and a status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.StatusBarHeight, 0)
}

// PaneSizes returns the inner sizes of the folder and thread panes. The
// folder pane takes a quarter of the width, at least 20 columns.
func (l Layout) PaneSizes() (folderWidth, threadWidth, height int) {
	const borders = 2
	folderWidth = max(l.Width/4, 20)
	threadWidth = max(l.Width-folderWidth-2*borders, 0)
	height = max(l.ContentHeight()-borders, 0)
	return folderWidth, threadWidth, height
}

// RenderHeader renders the top header bar with a title and sync status.
func (l Layout) RenderHeader(title string, syncStatus string) string {
	titleRendered := theme.HeaderStyle.Render(title)

	statusRendered := theme.HeaderStyle.
		Align(lipgloss.Right).
		Render(syncStatus)

	gap := max(l.Width-lipgloss.Width(titleRendered)-lipgloss.Width(statusRendered), 0)

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(theme.HeaderStyle.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, titleRendered, filler, statusRendered)
}

// RenderStatusBar renders the bottom bar with keyboard hints, or with the
// error message when one is set.
func (l Layout) RenderStatusBar(hints string, errMsg string) string {
	style := theme.StatusBarStyle
	text := hints
	if errMsg != "" {
		style = theme.ErrorBarStyle
		text = errMsg
	}

	rendered := style.MaxWidth(l.Width).Render(text)
	gap := max(l.Width-lipgloss.Width(rendered), 0)

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderPanes places the folder pane to the left of the thread pane and
// highlights the focused one.
func (l Layout) RenderPanes(folders, threads string, foldersFocused bool) string {
	folderWidth, threadWidth, height := l.PaneSizes()

	left, right := theme.PaneStyle, theme.FocusedPaneStyle
	if foldersFocused {
		left, right = theme.FocusedPaneStyle, theme.PaneStyle
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		left.Width(folderWidth).Height(height).Render(folders),
		right.Width(threadWidth).Height(height).Render(threads),
	)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(
	header string,
	content string,
	statusBar string,
) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}
