package ui

import "github.com/charmbracelet/lipgloss"

// Color palette, dark terminal friendly
var (
	colorBg     = lipgloss.Color("#0d1117")
	colorBorder = lipgloss.Color("#30363d")
	colorAccent = lipgloss.Color("#58a6ff")
	colorGold   = lipgloss.Color("#d29922")
	colorGreen  = lipgloss.Color("#3fb950")
	colorRed    = lipgloss.Color("#f85149")
	colorYellow = lipgloss.Color("#e3b341")
	colorMuted  = lipgloss.Color("#8b949e")
	colorWhite  = lipgloss.Color("#e6edf3")
	colorTeal   = lipgloss.Color("#39d353")

	bgPanel = lipgloss.Color("#161b22")
)

var (
	// Layout
	StyleHeader = lipgloss.NewStyle().
			Background(colorBg).
			Foreground(colorWhite).
			Padding(0, 1)

	StyleTitle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	StyleSubtitle = lipgloss.NewStyle().
			Foreground(colorMuted)

	StylePane = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	StyleFooter = lipgloss.NewStyle().
			Foreground(colorMuted).
			Background(colorBg).
			Padding(0, 1)

	StyleFooterStatus = lipgloss.NewStyle().
				Foreground(colorGreen).
				Background(colorBg).
				Padding(0, 1)

	// Content styles
	StyleSectionHeader = lipgloss.NewStyle().
				Foreground(colorAccent).
				Bold(true).
				Background(bgPanel).
				Padding(0, 2)

	StyleLabel = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(22)

	StyleFocusedLabel = lipgloss.NewStyle().
				Foreground(colorGold).
				Bold(true).
				Width(22)

	StyleValue = lipgloss.NewStyle().
			Foreground(colorWhite).
			Bold(true)

	StyleAdviceCategory = lipgloss.NewStyle().
				Foreground(colorTeal).
				Bold(true).
				Width(12)

	StyleError = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	StyleWarning = lipgloss.NewStyle().
			Foreground(colorYellow)

	StyleSuccess = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	StyleSpinner = lipgloss.NewStyle().
			Foreground(colorAccent)

	StyleMuted = lipgloss.NewStyle().
			Foreground(colorMuted)

	StyleAccent = lipgloss.NewStyle().
			Foreground(colorAccent)

	StyleHint = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	StylePrompt = lipgloss.NewStyle().
			Foreground(colorWhite).
			Bold(true)

	// Setup wizard
	StyleSetupTitle = lipgloss.NewStyle().
			Foreground(colorGold).
			Bold(true)

	StyleStepIndicator = lipgloss.NewStyle().
				Foreground(colorAccent)

	StyleSetupPane = lipgloss.NewStyle().
			Padding(1, 2)
)
