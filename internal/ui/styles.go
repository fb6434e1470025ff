// Package ui holds the fixed terminal styles shared by the pane REPL
// and the CLI. There is deliberately no theme surface; four panes with
// four different configured palettes would defeat the point of the
// color coding.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"personamux/internal/persona"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	tipStyle    = lipgloss.NewStyle().Faint(true)
	localStyle  = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("6"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	delimStyle  = lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("7"))

	promptStyles = map[persona.Key]lipgloss.Style{
		persona.PM:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5")),
		persona.Impl:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4")),
		persona.Review: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		persona.Docs:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
	}

	fallbackPromptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
)

// Header renders a banner line.
func Header(text string) string { return headerStyle.Render(text) }

// Tip renders a usage hint line.
func Tip(text string) string { return tipStyle.Render(text) }

// LocalPrefix marks output of commands handled without the assistant.
func LocalPrefix() string { return localStyle.Render("(local)") }

// Error renders an error message.
func Error(text string) string { return errorStyle.Render(text) }

// Prompt renders the colored "pm> " style input prompt for key.
func Prompt(key persona.Key) string {
	style, ok := promptStyles[key]
	if !ok {
		style = fallbackPromptStyle
	}
	return style.Render(string(key)) + delimStyle.Render(">") + " "
}
