// Package tui renders a live dashboard of a download run.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mmcdole/nexdl/internal/domain"
	"github.com/mmcdole/nexdl/internal/tui/styles"
)

const (
	maxLogLines   = 8
	maxErrorWidth = 60
	maxBarWidth   = 60
	defaultWidth  = 80
	panelOverhead = 8 // border and padding
)

// RunEventMsg carries one run event into the update loop
type RunEventMsg struct {
	Event domain.RunEvent
}

// RunClosedMsg signals the event channel was closed: the run is over
type RunClosedMsg struct{}

// Model is the dashboard state. It only ever reads copies of run events.
type Model struct {
	events      <-chan domain.RunEvent
	requestStop func()
	keys        KeyMap
	progress    progress.Model
	spinner     spinner.Model

	title    string
	total    int
	done     int
	failed   int
	pending  int
	current  *domain.WorkItem
	index    int
	awaiting bool
	lines    []string

	stopping bool
	forced   bool
	finished bool
	width    int
}

// NewModel creates a dashboard reading events until the channel closes.
// requestStop is called once, on the first stop key press.
func NewModel(title string, events <-chan domain.RunEvent, requestStop func()) Model {
	return Model{
		events:      events,
		requestStop: requestStop,
		keys:        DefaultKeyMap(),
		progress:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth)),
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.SpinnerStyle)),
		title:       title,
		width:       defaultWidth,
	}
}

// Forced reports whether the user quit without waiting for the run to drain.
func (m Model) Forced() bool { return m.forced }

// listenCmd returns a command that reads the next event from the channel
func listenCmd(events <-chan domain.RunEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return RunClosedMsg{}
		}
		return RunEventMsg{Event: ev}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listenCmd(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Stop) {
			if m.stopping {
				m.forced = true
				return m, tea.Quit
			}
			m.stopping = true
			if m.requestStop != nil {
				m.requestStop()
			}
			m.addLine(styles.WarningStyle.Render("Stop requested, finishing the current mod..."))
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-panelOverhead, 10), maxBarWidth)
		return m, nil

	case RunEventMsg:
		m.apply(msg.Event)
		return m, listenCmd(m.events)

	case RunClosedMsg:
		m.finished = true
		m.current = nil
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(ev domain.RunEvent) {
	m.total = ev.Total
	m.done = ev.Done
	m.failed = ev.Failed

	switch ev.Kind {
	case domain.EventRunStarted:
		m.pending = ev.Pending
		m.addLine(fmt.Sprintf("%d mods, %d already downloaded, %d remaining", ev.Total, ev.Done, ev.Pending))

	case domain.EventItemStarted:
		item := ev.Item
		m.current = &item
		m.index = ev.Index
		m.pending = ev.Pending
		m.awaiting = false

	case domain.EventAwaitingClick:
		m.awaiting = true
		m.addLine(styles.AccentStyle.Render("Click the download button in the browser"))

	case domain.EventItemFinished:
		m.current = nil
		m.awaiting = false
		m.pending = ev.Pending
		m.addLine(itemLine(ev))

	case domain.EventBatchFlushed:
		line := fmt.Sprintf("Closed %d tabs", ev.Closed)
		if ev.Err != nil {
			line += styles.ErrorStyle.Render(" (some failed: " + ev.Err.Error() + ")")
		}
		m.addLine(styles.DimStyle.Render(line))

	case domain.EventStopRequested:
		m.stopping = true
		m.addLine(styles.WarningStyle.Render(fmt.Sprintf("Stopped with %d mods remaining", ev.Pending)))

	case domain.EventRunFinished:
		m.finished = true
		if ev.Err != nil {
			m.addLine(styles.ErrorStyle.Render("Run aborted: " + ev.Err.Error()))
		}
	}
}

func itemLine(ev domain.RunEvent) string {
	label := fmt.Sprintf("[%d/%d] %s", ev.Index, ev.Total, ev.Item)
	if ev.Outcome == domain.StatusCompleted {
		line := styles.SuccessStyle.Render("✓ ") + label
		if ev.Position != nil {
			line += styles.DimStyle.Render(" at " + ev.Position.String())
		}
		return line
	}
	line := styles.ErrorStyle.Render("✗ ") + label
	if ev.Err != nil {
		line += styles.DimStyle.Render(": " + styles.Truncate(ev.Err.Error(), maxErrorWidth))
	}
	return line
}

func (m *Model) addLine(line string) {
	stamp := styles.DimStyle.Render(time.Now().Format("15:04:05") + " ")
	m.lines = append(m.lines, stamp+line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
}

func (m Model) percent() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.done) / float64(m.total)
}

func (m Model) View() string {
	var b strings.Builder
	inner := max(m.width-panelOverhead, 20)

	b.WriteString(styles.BadgeStyle.Render("nexdl") + " " + styles.TitleStyle.Render(m.title))
	b.WriteString("\n\n")

	b.WriteString(m.progress.ViewAs(m.percent()))
	b.WriteString("\n")
	b.WriteString(styles.SubtitleStyle.Render(fmt.Sprintf(
		"%d/%d done · %d failed · %d remaining", m.done, m.total, m.failed, m.pending)))
	b.WriteString("\n\n")

	switch {
	case m.finished:
		b.WriteString(styles.SuccessStyle.Render("Run finished"))
	case m.current != nil && m.awaiting:
		b.WriteString(m.spinner.View() + " " + styles.AccentStyle.Render("Waiting for your click on "+m.current.String()))
	case m.current != nil:
		b.WriteString(m.spinner.View() + " " + fmt.Sprintf("[%d/%d] %s", m.index, m.total, m.current))
	default:
		b.WriteString(m.spinner.View() + " " + styles.DimStyle.Render("Waiting..."))
	}
	b.WriteString("\n\n")

	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	help := m.keys.Stop.Help()
	if m.stopping {
		b.WriteString(styles.HelpKeyStyle.Render(help.Key) + " " + styles.HelpDescStyle.Render("quit now"))
	} else {
		b.WriteString(styles.HelpKeyStyle.Render(help.Key) + " " + styles.HelpDescStyle.Render(help.Desc))
	}

	return styles.PanelStyle.Width(inner).Render(b.String())
}
