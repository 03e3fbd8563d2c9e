package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorRed    = lipgloss.Color("#FF5555")
	colorGreen  = lipgloss.Color("#50FA7B")
	colorYellow = lipgloss.Color("#F1FA8C")
	colorCyan   = lipgloss.Color("#8BE9FD")
	colorGray   = lipgloss.Color("#6272A4")
	colorPink   = lipgloss.Color("#FF79C6")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPink)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	connectedDotStyle = lipgloss.NewStyle().
				Foreground(colorGreen).
				Bold(true)

	idleDotStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	localLabelStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	remoteLabelStyle = lipgloss.NewStyle().
				Foreground(colorPink)

	typingStyle = lipgloss.NewStyle().
			Foreground(colorYellow).
			Italic(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorGray)
)
