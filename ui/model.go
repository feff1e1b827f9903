package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrocast/config"
	"agrocast/forecast"
	"agrocast/params"
	"agrocast/present"
	"agrocast/transport"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Message types
type (
	// resolvedMsg arrives when a submission's call has finished.
	resolvedMsg struct {
		seq uint64
	}
	healthMsg struct {
		err error
	}
)

// clearStatusMsg clears the status bar message
type clearStatusMsg struct{}

var fieldLabels = map[string]string{
	params.FieldLat:           "Latitude",
	params.FieldLon:           "Longitude",
	params.FieldTargetDate:    "Target date",
	params.FieldKc:            "Crop coefficient (Kc)",
	params.FieldSoilBufferMM:  "Soil buffer (mm)",
	params.FieldEffRainFactor: "Eff. rain factor",
}

// Model is the root bubbletea model
type Model struct {
	cfg    *config.Config
	orch   *forecast.Orchestrator
	client *transport.Client
	now    func() time.Time

	width  int
	height int

	// Form
	base   params.Set
	inputs []textinput.Model
	focus  int

	// State
	snap      forecast.Snapshot
	display   *present.Display
	formErr   string
	healthErr error
	checked   bool

	statusMsg    string
	statusExpiry time.Time

	spinner spinner.Model
}

func NewModel(cfg *config.Config, orch *forecast.Orchestrator, client *transport.Client) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StyleSpinner

	m := Model{
		cfg:     cfg,
		orch:    orch,
		client:  client,
		now:     time.Now,
		spinner: sp,
	}
	m.base = cfg.DefaultParams(m.now())
	m.inputs = newInputs(m.base)
	m.snap = orch.Snapshot()
	return m
}

func newInputs(p params.Set) []textinput.Model {
	values := p.Strings()
	inputs := make([]textinput.Model, len(params.Fields))
	for i, f := range params.Fields {
		in := textinput.New()
		in.Prompt = ""
		in.CharLimit = 24
		in.Width = 16
		in.Placeholder = fieldLabels[f]
		in.SetValue(values[f])
		if i == 0 {
			in.Focus()
		}
		inputs[i] = in
	}
	return inputs
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		checkHealth(m.client),
	)
}

func checkHealth(client *transport.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthMsg{err: client.Health(ctx)}
	}
}

// waitFor turns a submission into a message once it resolves.
func waitFor(sub *forecast.Submission) tea.Cmd {
	return func() tea.Msg {
		<-sub.Done()
		return resolvedMsg{seq: sub.Seq()}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return clearStatusMsg{} })
}

// ─── Update ───────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.orch.Cancel()
			return m, tea.Quit
		case "tab", "down":
			cmds = append(cmds, m.setFocus((m.focus+1)%len(m.inputs)))
		case "shift+tab", "up":
			cmds = append(cmds, m.setFocus((m.focus-1+len(m.inputs))%len(m.inputs)))
		case "enter":
			cmds = append(cmds, m.submit())
		case "esc":
			if m.snap.State == forecast.StatePending {
				m.orch.Cancel()
				m.snap = m.orch.Snapshot()
				cmds = append(cmds, m.setStatus("Request cancelled"))
			}
		case "ctrl+r":
			m.base = m.cfg.DefaultParams(m.now())
			m.inputs = newInputs(m.base)
			m.focus = 0
			m.formErr = ""
			cmds = append(cmds, m.setStatus("Form reset to defaults"))
		case "ctrl+h":
			cmds = append(cmds, checkHealth(m.client))
		default:
			var cmd tea.Cmd
			m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
			cmds = append(cmds, cmd)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case resolvedMsg:
		// Stale resolutions carry an old seq; the snapshot already moved on.
		m.refresh()

	case healthMsg:
		m.checked = true
		m.healthErr = msg.err

	case clearStatusMsg:
		if !m.now().Before(m.statusExpiry) {
			m.statusMsg = ""
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) setFocus(i int) tea.Cmd {
	m.inputs[m.focus].Blur()
	m.focus = i
	return m.inputs[m.focus].Focus()
}

func (m *Model) setStatus(s string) tea.Cmd {
	const ttl = 3 * time.Second
	m.statusMsg = s
	m.statusExpiry = m.now().Add(ttl)
	return clearStatusAfter(ttl)
}

func (m *Model) values() map[string]string {
	out := make(map[string]string, len(m.inputs))
	for i, f := range params.Fields {
		out[f] = m.inputs[i].Value()
	}
	return out
}

func (m *Model) submit() tea.Cmd {
	p, err := params.Parse(m.base, m.values())
	if err != nil {
		m.formErr = err.Error()
		return nil
	}
	m.formErr = ""

	sub, err := m.orch.Submit(context.Background(), p)

	var inProgress *forecast.InProgressError
	if errors.As(err, &inProgress) {
		return m.setStatus("A forecast is already running")
	}

	m.refresh()
	if err != nil {
		return nil
	}
	return waitFor(sub)
}

// refresh copies the orchestrator state and reformats the result.
func (m *Model) refresh() {
	m.snap = m.orch.Snapshot()
	m.display = nil
	if m.snap.State != forecast.StateSucceeded {
		return
	}
	d, err := present.Format(m.snap.Result)
	if err != nil {
		m.snap.State = forecast.StateFailed
		m.snap.Err = err
		m.snap.Message = err.Error()
		return
	}
	m.display = &d
}

// ─── View ─────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing agrocast..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderBody(),
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	var status string
	switch {
	case m.snap.State == forecast.StatePending:
		status = m.spinner.View() + " running forecast..."
	case !m.checked:
		status = "checking backend..."
	case m.healthErr != nil:
		status = StyleWarning.Render("backend unreachable")
	default:
		status = StyleSuccess.Render("backend ok")
	}
	base := m.client.BaseURL()
	if base == "" {
		base = "(no api base set)"
	}

	title := StyleTitle.Render("🌾 SMART IRRIGATION & ADVISORY")
	right := StyleSubtitle.Render(base+"  ") + status
	gap := m.width - lipgloss.Width(title) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}
	return StyleHeader.Width(m.width).Render(
		title + strings.Repeat(" ", gap) + right,
	)
}

func (m Model) renderBody() string {
	contentH := m.height - 4
	if contentH < 8 {
		contentH = 8
	}
	formW := 44
	resultW := m.width - formW - 4
	if resultW < 30 {
		resultW = 30
	}

	form := StylePane.Width(formW).Height(contentH).Render(m.renderForm())
	result := StylePane.Width(resultW).Height(contentH).Render(m.renderResult(resultW - 4))
	return lipgloss.JoinHorizontal(lipgloss.Top, form, result)
}

func (m Model) renderForm() string {
	var b strings.Builder
	b.WriteString(StyleSectionHeader.Render("PARAMETERS") + "\n\n")
	for i, f := range params.Fields {
		label := StyleLabel
		if i == m.focus {
			label = StyleFocusedLabel
		}
		b.WriteString(label.Render(fieldLabels[f]) + m.inputs[i].View() + "\n")
	}
	b.WriteString("\n")
	if m.formErr != "" {
		b.WriteString(StyleError.Render(wordWrap(m.formErr, 40)) + "\n")
	}
	b.WriteString(StyleHint.Render("enter to generate"))
	return b.String()
}

func (m Model) renderResult(w int) string {
	switch m.snap.State {
	case forecast.StateIdle:
		return StyleMuted.Render("Fill in the parameters and press enter.")
	case forecast.StatePending:
		return m.spinner.View() + " Running…\n\n" +
			StyleMuted.Render(fmt.Sprintf("request #%d  %s", m.snap.Seq, m.snap.Params.String()))
	case forecast.StateFailed:
		return StyleError.Render("Request failed") + "\n\n" + wordWrap(m.snap.Message, w)
	}
	if m.display == nil {
		return ""
	}
	d := m.display

	var b strings.Builder
	b.WriteString(StyleSectionHeader.Render("FORECAST FOR "+d.Target) + "\n\n")
	row := func(label, value string) {
		b.WriteString(StyleLabel.Render(label) + StyleValue.Render(value) + "\n")
	}
	row("🌡 Temperature", d.Temperature)
	row("💧 Humidity", d.Humidity)
	row("🌬 Wind", d.Wind)
	row("🌦 Precipitation", d.Precipitation)
	b.WriteString("\n")
	row("💦 Irrigation", d.Irrigation+"  ("+d.LitersPerHectare+")")
	b.WriteString(StyleMuted.Render(fmt.Sprintf("ET0 %s | ETc %s | EffRain %s", d.ET0, d.ETc, d.EffectiveRain)) + "\n\n")

	b.WriteString(StyleSectionHeader.Render("FARM ADVISORY") + "\n\n")
	textW := w - 14
	if textW < 20 {
		textW = 20
	}
	for _, line := range d.Advisory {
		wrapped := strings.Split(wordWrap(line.Text, textW), "\n")
		for i, part := range wrapped {
			label := ""
			if i == 0 {
				label = present.Title(line.Category)
			}
			b.WriteString(StyleAdviceCategory.Render(label) + " " + part + "\n")
		}
	}
	return b.String()
}

func (m Model) renderFooter() string {
	if m.statusMsg != "" && m.now().Before(m.statusExpiry) {
		return StyleFooterStatus.Width(m.width).Render("  ✓ " + m.statusMsg)
	}
	hint := "  tab/↑↓ field  enter generate  esc cancel  ctrl+r reset  ctrl+h check backend  ctrl+c quit"
	return StyleFooter.Width(m.width).Render(hint)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func wordWrap(s string, width int) string {
	if width <= 0 {
		return s
	}
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		line := words[0]
		for _, w := range words[1:] {
			if lipgloss.Width(line)+1+lipgloss.Width(w) > width {
				lines = append(lines, line)
				line = w
			} else {
				line += " " + w
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
