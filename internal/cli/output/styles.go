package output

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used for text-mode rendering.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style

	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style

	// PipelinePath styles pipeline names in listings.
	PipelinePath lipgloss.Style

	// Status icons carry their glyph as the style's string value, so
	// StatusSuccess.String() renders the styled checkmark directly.
	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusSkipped lipgloss.Style
}

// NewStyles builds the style set. With colored false every style renders
// its input unchanged, which keeps piped output free of escape codes.
func NewStyles(colored bool) *Styles {
	if !colored {
		plain := lipgloss.NewStyle()
		return &Styles{
			Header1:       plain,
			Header2:       plain,
			Bold:          plain,
			Muted:         plain,
			Success:       plain,
			Warning:       plain,
			Error:         plain,
			Info:          plain,
			PipelinePath:  plain,
			StatusSuccess: lipgloss.NewStyle().SetString("+"),
			StatusFailed:  lipgloss.NewStyle().SetString("x"),
			StatusSkipped: lipgloss.NewStyle().SetString("-"),
		}
	}

	return &Styles{
		Header1:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		Header2:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Bold:          lipgloss.NewStyle().Bold(true),
		Muted:         lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Success:       lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Warning:       lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Error:         lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Info:          lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		PipelinePath:  lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		StatusSuccess: lipgloss.NewStyle().SetString("✓").Foreground(lipgloss.Color("10")),
		StatusFailed:  lipgloss.NewStyle().SetString("✗").Foreground(lipgloss.Color("9")),
		StatusSkipped: lipgloss.NewStyle().SetString("-").Foreground(lipgloss.Color("11")),
	}
}
