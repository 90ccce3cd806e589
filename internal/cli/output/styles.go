package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used in text output.
type Styles struct {
	Header    lipgloss.Style
	Subheader lipgloss.Style
	Key       lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Muted     lipgloss.Style
	Concept   lipgloss.Style
	SQL       lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Header:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Subheader: r.NewStyle().Bold(true),
		Key:       r.NewStyle().Foreground(lipgloss.Color("8")),
		Success:   r.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:   r.NewStyle().Foreground(lipgloss.Color("11")),
		Error:     r.NewStyle().Foreground(lipgloss.Color("9")),
		Muted:     r.NewStyle().Foreground(lipgloss.Color("8")),
		Concept:   r.NewStyle().Foreground(lipgloss.Color("14")),
		SQL:       r.NewStyle().Foreground(lipgloss.Color("7")),
	}
}
