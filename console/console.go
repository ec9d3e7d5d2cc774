package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"transposer/debug"
	"transposer/state"
	"transposer/theme"
)

// Result is the outcome of one command line
type Result struct {
	Output  string // text to echo, may span several lines
	Exit    bool   // the exit flag was set
	Unknown bool   // the line was not a recognized command
}

// Console is the line-oriented command dispatcher shared by the stdin
// listener and the TUI prompt
type Console struct {
	state *state.State
	theme *theme.Theme
}

// New creates a dispatcher. A nil theme falls back to the default.
func New(st *state.State, th *theme.Theme) *Console {
	if th == nil {
		th = theme.Default()
	}
	return &Console{state: st, theme: th}
}

var helpLines = [][2]string{
	{"<number>", "Set transpose in semitones"},
	{"osc on/enable", "Enable OSC sending"},
	{"osc off/disable", "Disable OSC sending"},
	{"osc original", "Send original input MIDI via OSC"},
	{"osc transposed", "Send transposed MIDI via OSC"},
	{"mqtt on/off", "Enable/Disable MQTT bridge"},
	{"debug on/off", "Enable/Disable verbose debug prints"},
	{"status", "Show current settings"},
	{"help/h", "Show this help"},
	{"exit/quit/q", "Exit program"},
}

// Execute runs one command line against the shared state
func (c *Console) Execute(line string) Result {
	cmd := strings.TrimSpace(line)
	lower := strings.ToLower(cmd)

	switch lower {
	case "", "exit", "quit", "q":
		c.state.RequestExit()
		return Result{Exit: true}

	case "debug on", "debug enable":
		c.state.SetDebug(true)
		return Result{Output: "Debug enabled"}
	case "debug off", "debug disable":
		c.state.SetDebug(false)
		return Result{Output: "Debug disabled"}

	case "osc on", "osc enable":
		c.state.SetRelayEnabled(true)
		return Result{Output: "OSC sending enabled"}
	case "osc off", "osc disable":
		c.state.SetRelayEnabled(false)
		return Result{Output: "OSC sending disabled"}

	case "osc original", "osc input", "osc_original":
		return c.sendOriginal(true)
	case "osc transposed", "osc output", "osc_transposed":
		return c.sendOriginal(false)

	case "mqtt on", "mqtt enable":
		c.state.SetBrokerEnabled(true)
		return Result{Output: "MQTT enabled"}
	case "mqtt off", "mqtt disable":
		c.state.SetBrokerEnabled(false)
		return Result{Output: "MQTT disabled"}

	case "status":
		return Result{Output: c.Status()}
	case "help", "h":
		return Result{Output: c.Help()}
	}

	// osc_original 1|0|on|off|enable|disable, also with ':' as separator
	if arg, ok := cutPrefix(lower, "osc_original"); ok {
		switch arg {
		case "1", "on", "enable":
			return c.sendOriginal(true)
		case "0", "off", "disable":
			return c.sendOriginal(false)
		}
	}

	if v, err := strconv.Atoi(cmd); err == nil {
		applied := c.state.SetTranspose(v)
		return Result{Output: fmt.Sprintf("Transpose set to %d", applied)}
	}

	return Result{
		Output:  fmt.Sprintf("Unrecognized command: '%s'. Type 'help' for available commands.", cmd),
		Unknown: true,
	}
}

func (c *Console) sendOriginal(on bool) Result {
	c.state.SetSendOriginal(on)
	if on {
		return Result{Output: "OSC sending original input MIDI"}
	}
	return Result{Output: "OSC sending transposed MIDI"}
}

func cutPrefix(s, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(s, prefix)
	if !ok || rest == "" {
		return "", false
	}
	if rest[0] != ' ' && rest[0] != ':' {
		return "", false
	}
	return strings.TrimSpace(rest[1:]), true
}

// Help renders the command list
func (c *Console) Help() string {
	keyStyle := lipgloss.NewStyle().Foreground(c.theme.Accent()).Width(18)
	descStyle := lipgloss.NewStyle().Foreground(c.theme.FG())

	var b strings.Builder
	b.WriteString("Commands:")
	for _, l := range helpLines {
		b.WriteString("\n  ")
		b.WriteString(keyStyle.Render(l[0]))
		b.WriteString(descStyle.Render(l[1]))
	}
	return b.String()
}

// Status renders the current settings
func (c *Console) Status() string {
	s := c.state.Snapshot()
	min, max := c.state.Bounds()
	relay := "transposed"
	if s.SendOriginal {
		relay = "original"
	}
	return fmt.Sprintf("Transpose %d [%d, %d] | OSC %s (%s) | MQTT %s, %s | Debug %s",
		s.Transpose, min, max,
		onOff(s.RelayEnabled), relay,
		onOff(s.BrokerEnabled), connected(s.BrokerOnline),
		onOff(s.Debug))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func connected(b bool) string {
	if b {
		return "connected"
	}
	return "disconnected"
}

// Run reads commands from r until an exit command, an empty line or EOF.
// Each echo is written to w.
func (c *Console) Run(r io.Reader, w io.Writer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		res := c.Execute(scanner.Text())
		if res.Output != "" {
			fmt.Fprintln(w, res.Output)
		}
		if res.Exit {
			debug.Log("console", "exit requested")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		debug.Error("console", "stdin read error: %v", err)
	}
	// stdin closed
	c.state.RequestExit()
}
