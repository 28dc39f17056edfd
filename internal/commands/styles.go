package commands

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#10B981") // own messages
	mutedColor     = lipgloss.Color("#9CA3AF")
	errorColor     = lipgloss.Color("#EF4444")
	activeColor    = lipgloss.Color("#F59E0B")
)

// styles are bound to the output writer so that colors are only emitted
// when it is a terminal.
type styles struct {
	title  lipgloss.Style
	active lipgloss.Style
	badge  lipgloss.Style
	muted  lipgloss.Style
	own    lipgloss.Style
	other  lipgloss.Style
	err    lipgloss.Style
}

func newStyles(out io.Writer) styles {
	r := lipgloss.NewRenderer(out)
	return styles{
		title:  r.NewStyle().Bold(true).Foreground(primaryColor),
		active: r.NewStyle().Bold(true).Foreground(activeColor),
		badge:  r.NewStyle().Bold(true).Foreground(errorColor),
		muted:  r.NewStyle().Foreground(mutedColor),
		own:    r.NewStyle().Bold(true).Foreground(secondaryColor),
		other:  r.NewStyle().Bold(true).Foreground(primaryColor),
		err:    r.NewStyle().Foreground(errorColor),
	}
}
