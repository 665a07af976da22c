package output

import "github.com/charmbracelet/lipgloss"

// Styles colour the interactive prompt and messages.
type Styles struct {
	Prompt lipgloss.Style
	Info   lipgloss.Style
	Error  lipgloss.Style
	Dim    lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Prompt: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Info:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Error:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// PlainStyles renders text unchanged.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{Prompt: s, Info: s, Error: s, Dim: s}
}
