package cmd

import "github.com/charmbracelet/lipgloss"

// Warm base16 palette shared by the console surfaces
var (
	colorOrange = lipgloss.Color("#eb8755")
	colorYellow = lipgloss.Color("#f5b761")
	colorGreen  = lipgloss.Color("#93b56b")
	colorCyan   = lipgloss.Color("#61afaf")
	colorBlue   = lipgloss.Color("#6b93b5")
	colorPurple = lipgloss.Color("#976bb5")
	colorRed    = lipgloss.Color("#d95f5f")
	colorMuted  = lipgloss.Color("#5c5044")
)

// Styles holds the lipgloss styles for console output
type Styles struct {
	Prompt           lipgloss.Style
	UserMessage      lipgloss.Style
	AssistantMessage lipgloss.Style
	SystemMessage    lipgloss.Style
	ErrorMessage     lipgloss.Style
	InfoMessage      lipgloss.Style
	SuccessMessage   lipgloss.Style
	Muted            lipgloss.Style
	Status           lipgloss.Style
}

// DefaultStyles returns the default console styles
func DefaultStyles() *Styles {
	return &Styles{
		Prompt: lipgloss.NewStyle().
			Foreground(colorOrange).
			Bold(true),

		UserMessage: lipgloss.NewStyle().
			Foreground(colorGreen),

		AssistantMessage: lipgloss.NewStyle().
			Foreground(colorBlue),

		SystemMessage: lipgloss.NewStyle().
			Foreground(colorPurple),

		ErrorMessage: lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true),

		InfoMessage: lipgloss.NewStyle().
			Foreground(colorCyan),

		SuccessMessage: lipgloss.NewStyle().
			Foreground(colorGreen),

		Muted: lipgloss.NewStyle().
			Foreground(colorMuted),

		Status: lipgloss.NewStyle().
			Foreground(colorYellow).
			Italic(true),
	}
}
