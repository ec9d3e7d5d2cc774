package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"transposer/console"
	"transposer/state"
	"transposer/status"
	"transposer/theme"
	"transposer/transpose"
)

// TickInterval is how often the view picks up changes made by other surfaces
const TickInterval = 100 * time.Millisecond

// NoteSource reports the last note sent to the output device
type NoteSource interface {
	LastNote() (uint8, bool)
}

type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Run  key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Run, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Up:   key.NewBinding(key.WithKeys("up"), key.WithHelp("↑", "transpose up")),
	Down: key.NewBinding(key.WithKeys("down"), key.WithHelp("↓", "transpose down")),
	Run:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run command")),
	Quit: key.NewBinding(key.WithKeys("esc", "ctrl+c"), key.WithHelp("esc", "quit")),
}

type Model struct {
	State   *state.State
	Console *console.Console
	Tracker *status.Tracker
	Theme   *theme.Theme
	Notes   NoteSource // may be nil

	prompt   textinput.Model
	help     help.Model
	output   string
	unknown  bool // output is an unrecognized-command notice
	lastNote int  // -1 until a note was seen
	quitting bool
}

type tickMsg time.Time

func NewModel(st *state.State, c *console.Console, tracker *status.Tracker, notes NoteSource, th *theme.Theme) Model {
	if th == nil {
		th = theme.Default()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "type help for commands"
	ti.CharLimit = 64
	ti.PromptStyle = lipgloss.NewStyle().Foreground(th.FG())
	ti.PlaceholderStyle = lipgloss.NewStyle().Foreground(th.Muted())
	ti.Focus()

	h := help.New()
	h.Styles.ShortKey = lipgloss.NewStyle().Foreground(th.Accent())
	h.Styles.ShortDesc = lipgloss.NewStyle().Foreground(th.Muted())
	h.Styles.ShortSeparator = lipgloss.NewStyle().Foreground(th.Muted())

	return Model{
		State:    st,
		Console:  c,
		Tracker:  tracker,
		Theme:    th,
		Notes:    notes,
		prompt:   ti,
		help:     h,
		lastNote: -1,
	}
}

func tick() tea.Cmd {
	return tea.Tick(TickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.State.RequestExit()
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Up):
			_, cur := m.State.StepTranspose(1)
			m.output, m.unknown = fmt.Sprintf("Transpose set to %d", cur), false

		case key.Matches(msg, keys.Down):
			_, cur := m.State.StepTranspose(-1)
			m.output, m.unknown = fmt.Sprintf("Transpose set to %d", cur), false

		case key.Matches(msg, keys.Run):
			line := strings.TrimSpace(m.prompt.Value())
			m.prompt.Reset()
			if line == "" {
				// an empty line exits the stdin listener; here it is a no-op
				return m, nil
			}
			res := m.Console.Execute(line)
			m.output = res.Output
			m.unknown = res.Unknown
			if res.Exit {
				m.quitting = true
				return m, tea.Quit
			}

		default:
			var cmd tea.Cmd
			m.prompt, cmd = m.prompt.Update(msg)
			return m, cmd
		}

	case tickMsg:
		if m.State.Exiting() {
			m.quitting = true
			return m, tea.Quit
		}
		if m.Notes != nil {
			if n, ok := m.Notes.LastNote(); ok {
				m.lastNote = int(n)
			}
		}
		return m, tick()

	default:
		// cursor blink
		var cmd tea.Cmd
		m.prompt, cmd = m.prompt.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	snap := m.State.Snapshot()
	min, max := m.State.Bounds()

	// Styles
	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent()).Bold(true)
	valueStyle := lipgloss.NewStyle().Foreground(m.Theme.Color(transposeNorm(snap.Transpose, min, max)))
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	outStyle := lipgloss.NewStyle().Foreground(m.Theme.Info())
	if m.unknown {
		outStyle = outStyle.Foreground(m.Theme.Warning())
	}

	header := headerStyle.Render("transposer") + "  " +
		valueStyle.Render(fmt.Sprintf("%c %+d st", m.Theme.Direction(snap.Transpose), snap.Transpose)) +
		dimStyle.Render(fmt.Sprintf("  [%d, %d]", min, max))

	relayMode := "transposed"
	if snap.SendOriginal {
		relayMode = "original"
	}
	flags := fmt.Sprintf("%s OSC send (%s)   %s MQTT   %s debug",
		m.Theme.Flag(snap.RelayEnabled), relayMode,
		m.Theme.Flag(snap.BrokerEnabled),
		m.Theme.Flag(snap.Debug))

	services := fmt.Sprintf("%s OSC listener   %s OSC senders: %d   %s broker",
		m.Theme.Flag(m.Tracker.ListenerRunning()),
		m.Theme.Flag(m.Tracker.SendersRunning() > 0), m.Tracker.SendersRunning(),
		m.Theme.Flag(snap.BrokerOnline))

	note := "last note: -"
	if m.lastNote >= 0 {
		note = "last note: " + transpose.NoteName(uint8(m.lastNote))
	}

	// Build output
	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(flags)
	out.WriteString("\n")
	out.WriteString(services)
	out.WriteString("\n")
	out.WriteString(dimStyle.Render(note))
	out.WriteString("\n\n")
	if m.output != "" {
		out.WriteString(outStyle.Render(m.output))
		out.WriteString("\n")
	}
	out.WriteString(m.prompt.View())
	out.WriteString("\n\n")
	out.WriteString(m.help.View(keys))

	return out.String()
}

// transposeNorm maps the offset into the palette, lowest bound at 0
func transposeNorm(v, min, max int) float64 {
	if max == min {
		return 0.5
	}
	return float64(v-min) / float64(max-min)
}
