package output

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles are the lipgloss styles of text output. Without a terminal every
// style renders its input unchanged.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
}

// NewStyles returns coloured styles, or plain ones when color is false.
func NewStyles(color bool) *Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return &Styles{
			Header:  plain,
			Success: plain,
			Error:   plain,
			Warning: plain,
			Info:    plain,
			Muted:   plain,
		}
	}
	return &Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Status renders a run or node status in its colour.
func (s *Styles) Status(status string) string {
	switch status {
	case "success", "completed":
		return s.Success.Render(status)
	case "failed":
		return s.Error.Render(status)
	case "skipped", "cancelled":
		return s.Warning.Render(status)
	case "running", "pending":
		return s.Info.Render(status)
	default:
		return s.Muted.Render(status)
	}
}
