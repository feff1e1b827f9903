package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agrocast/config"
	"agrocast/params"
	"agrocast/transport"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	stepAPIBase = iota
	stepHistory
	stepLocation
	stepSaving
	stepDone
)

var historyChoices = []struct {
	strategy params.HistoryStrategy
	label    string
}{
	{params.HistoryFixed, "fixed (2000-07-09 to 2025-08-31)"},
	{params.HistoryRelative, "relative (last N years before the target)"},
}

type SetupModel struct {
	step        int
	selectedIdx int

	cfg      *config.Config
	path     string
	geocoder *transport.Client

	apiBaseInput textinput.Model
	cityInput    textinput.Model
	countryInput textinput.Model

	spinner   spinner.Model
	geocoding bool
	saving    bool
	err       string

	width  int
	height int
}

// NewSetupModel edits a copy of cfg and writes it to path when finished.
// City lookups go through geocoder.
func NewSetupModel(cfg *config.Config, path string, geocoder *transport.Client) SetupModel {
	edited := *cfg

	apiBaseInput := textinput.New()
	apiBaseInput.Placeholder = "e.g., http://localhost:8000"
	apiBaseInput.SetValue(edited.APIBase)
	apiBaseInput.Focus()

	cityInput := textinput.New()
	cityInput.Placeholder = "e.g., Saint-Hyacinthe (leave empty to keep defaults)"
	cityInput.Focus()

	countryInput := textinput.New()
	countryInput.Placeholder = "e.g., CA"
	countryInput.CharLimit = 2

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StyleSpinner

	selected := 0
	for i, c := range historyChoices {
		if s, err := params.ParseHistoryStrategy(edited.History.Strategy); err == nil && s == c.strategy {
			selected = i
		}
	}

	return SetupModel{
		step:         stepAPIBase,
		selectedIdx:  selected,
		cfg:          &edited,
		path:         path,
		geocoder:     geocoder,
		apiBaseInput: apiBaseInput,
		cityInput:    cityInput,
		countryInput: countryInput,
		spinner:      sp,
	}
}

// Config is the edited configuration. It is only written to disk once the
// wizard reaches its last step.
func (m SetupModel) Config() *config.Config {
	return m.cfg
}

// Done reports whether the configuration was saved.
func (m SetupModel) Done() bool {
	return m.step == stepDone
}

func (m SetupModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m SetupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.apiBaseInput.Width = minInt(50, msg.Width-20)
		m.cityInput.Width = minInt(30, msg.Width-20)
		m.countryInput.Width = 4

	case tea.KeyMsg:
		if msg.Type == tea.KeyEsc || msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}

		switch m.step {
		case stepAPIBase:
			switch msg.Type {
			case tea.KeyEnter:
				base := strings.TrimRight(strings.TrimSpace(m.apiBaseInput.Value()), "/")
				if base == "" {
					m.err = "the backend address is required"
					break
				}
				m.err = ""
				m.cfg.APIBase = base
				m.step = stepHistory
			default:
				var cmd tea.Cmd
				m.apiBaseInput, cmd = m.apiBaseInput.Update(msg)
				cmds = append(cmds, cmd)
			}

		case stepHistory:
			switch msg.Type {
			case tea.KeyUp, tea.KeyShiftTab:
				m.selectedIdx = (m.selectedIdx - 1 + len(historyChoices)) % len(historyChoices)
			case tea.KeyDown, tea.KeyTab:
				m.selectedIdx = (m.selectedIdx + 1) % len(historyChoices)
			case tea.KeyEnter:
				m.cfg.History.Strategy = string(historyChoices[m.selectedIdx].strategy)
				m.step = stepLocation
			}

		case stepLocation:
			switch msg.Type {
			case tea.KeyEnter:
				city := strings.TrimSpace(m.cityInput.Value())
				country := strings.TrimSpace(m.countryInput.Value())
				switch {
				case city == "":
					m.err = ""
					m.step = stepSaving
					m.saving = true
					cmds = append(cmds, m.doSave())
				case country == "":
					m.err = "country code required"
				default:
					m.err = ""
					m.step = stepSaving
					m.geocoding = true
					cmds = append(cmds, m.doGeocode(city, country))
				}
			case tea.KeyTab:
				if m.cityInput.Focused() {
					m.cityInput.Blur()
					cmds = append(cmds, m.countryInput.Focus())
				} else {
					m.countryInput.Blur()
					cmds = append(cmds, m.cityInput.Focus())
				}
			default:
				var cmd1, cmd2 tea.Cmd
				m.cityInput, cmd1 = m.cityInput.Update(msg)
				m.countryInput, cmd2 = m.countryInput.Update(msg)
				cmds = append(cmds, cmd1, cmd2)
			}

		case stepSaving:
			if msg.Type == tea.KeyEnter && m.err != "" {
				m.step = stepLocation
				m.err = ""
			}

		case stepDone:
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case geocodeResultMsg:
		m.geocoding = false
		if msg.err != nil {
			m.err = msg.err.Error()
		} else {
			m.cfg.Defaults.Lat = msg.lat
			m.cfg.Defaults.Lon = msg.lon
			m.saving = true
			cmds = append(cmds, m.doSave())
		}

	case saveResultMsg:
		m.saving = false
		if msg.err != nil {
			m.err = msg.err.Error()
		} else {
			m.step = stepDone
		}
	}

	return m, tea.Batch(cmds...)
}

func (m SetupModel) View() string {
	if m.width == 0 {
		return "Initializing setup..."
	}

	stepIndicator := StyleStepIndicator.Render(fmt.Sprintf("[%d/5]", m.step+1))
	title := StyleSetupTitle.Render("Agrocast Setup")
	header := lipgloss.JoinHorizontal(lipgloss.Center, stepIndicator, "  ", title)

	var content string
	switch m.step {
	case stepAPIBase:
		content = m.renderAPIBaseStep()
	case stepHistory:
		content = m.renderHistoryStep()
	case stepLocation:
		content = m.renderLocationStep()
	case stepSaving:
		content = m.renderSavingStep()
	case stepDone:
		content = m.renderDoneStep()
	}

	footer := StyleMuted.Render("↑↓ select  tab switch  enter confirm  esc quit")

	centeredContent := lipgloss.Place(
		m.width-4, m.height-6,
		lipgloss.Center, lipgloss.Center,
		content,
	)

	container := lipgloss.JoinVertical(
		lipgloss.Center,
		header,
		"",
		centeredContent,
		"",
		footer,
	)

	return StyleSetupPane.Width(m.width).Render(container)
}

func (m SetupModel) renderAPIBaseStep() string {
	prompt := StylePrompt.Render("Where is the forecast backend?") + "\n\n"
	prompt += m.apiBaseInput.View() + "\n\n"
	if m.err != "" {
		prompt += StyleError.Render(m.err) + "\n"
	}
	prompt += StyleHint.Render("API_BASE or AGROCAST_API_BASE overrides this at runtime.")
	return prompt
}

func (m SetupModel) renderHistoryStep() string {
	var items []string
	for i, c := range historyChoices {
		if i == m.selectedIdx {
			items = append(items, StyleAccent.Render("> "+c.label))
		} else {
			items = append(items, StyleMuted.Render("  "+c.label))
		}
	}

	content := StylePrompt.Render("Which climate history window should be sent?") + "\n\n"
	content += lipgloss.JoinVertical(lipgloss.Left, items...)
	return content
}

func (m SetupModel) renderLocationStep() string {
	prompt := StylePrompt.Render("Default field location:") + "\n\n"
	prompt += "  City:          " + m.cityInput.View() + "\n"
	prompt += "  Country code: " + m.countryInput.View() + "\n\n"
	if m.err != "" {
		prompt += StyleError.Render(m.err) + "\n"
	}
	prompt += StyleHint.Render(fmt.Sprintf("Current defaults: %.4f, %.4f", m.cfg.Defaults.Lat, m.cfg.Defaults.Lon))
	return prompt
}

func (m SetupModel) renderSavingStep() string {
	var lines []string

	if m.geocoding {
		lines = append(lines, m.spinner.View()+" Looking up coordinates...")
	}
	if m.saving {
		lines = append(lines, m.spinner.View()+" Saving configuration...")
	}
	if m.err != "" {
		lines = append(lines, StyleError.Render("Error: "+m.err))
		lines = append(lines, StyleHint.Render("Press Enter to go back and try again."))
	}

	return lipgloss.JoinVertical(lipgloss.Center, lines...)
}

func (m SetupModel) renderDoneStep() string {
	msg := StyleSuccess.Render("Setup complete!") + "\n\n"
	msg += "  Backend:  " + StyleAccent.Render(m.cfg.APIBase) + "\n"
	msg += "  History:  " + StyleAccent.Render(m.cfg.History.Strategy) + "\n"
	msg += "  Location: " + StyleAccent.Render(fmt.Sprintf("%.4f, %.4f", m.cfg.Defaults.Lat, m.cfg.Defaults.Lon)) + "\n\n"
	msg += StyleHint.Render("Press any key to launch agrocast...")
	return msg
}

func (m SetupModel) doGeocode(city, country string) tea.Cmd {
	client := m.geocoder
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		lat, lon, err := config.Geocode(ctx, client, city, country)
		return geocodeResultMsg{lat: lat, lon: lon, err: err}
	}
}

func (m SetupModel) doSave() tea.Cmd {
	cfg := *m.cfg
	path := m.path
	return func() tea.Msg {
		if err := cfg.Validate(); err != nil {
			return saveResultMsg{err: err}
		}
		return saveResultMsg{err: config.Save(&cfg, path)}
	}
}

type geocodeResultMsg struct {
	lat float64
	lon float64
	err error
}

type saveResultMsg struct {
	err error
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
