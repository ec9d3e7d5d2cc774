package status

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"

	"transposer/theme"
)

// StartupDelay lets the other services log their startup lines before the
// banner is printed
const StartupDelay = 300 * time.Millisecond

// Tracker records which network services are up and prints the one startup
// banner of the process.
type Tracker struct {
	out   io.Writer
	theme *theme.Theme

	listenerRunning atomic.Bool
	senders         atomic.Int32
	brokerConnected atomic.Bool
	bannerPrinted   atomic.Bool
}

// New creates a tracker printing to out
func New(out io.Writer, th *theme.Theme) *Tracker {
	if th == nil {
		th = theme.Default()
	}
	return &Tracker{out: out, theme: th}
}

func (t *Tracker) ListenerStarted() { t.listenerRunning.Store(true) }
func (t *Tracker) ListenerStopped() { t.listenerRunning.Store(false) }
func (t *Tracker) ListenerRunning() bool { return t.listenerRunning.Load() }

func (t *Tracker) SenderStarted() { t.senders.Add(1) }
func (t *Tracker) SenderStopped() { t.senders.Add(-1) }

// SendersRunning returns the number of live OSC relays
func (t *Tracker) SendersRunning() int { return int(t.senders.Load()) }

func (t *Tracker) SetBrokerConnected(on bool) { t.brokerConnected.Store(on) }
func (t *Tracker) BrokerConnected() bool { return t.brokerConnected.Load() }

// BannerPrinted reports whether a banner was already shown
func (t *Tracker) BannerPrinted() bool { return t.bannerPrinted.Load() }

// PrintActive prints the green banner plus the help hint, once per process
func (t *Tracker) PrintActive() {
	if !t.bannerPrinted.CompareAndSwap(false, true) {
		return
	}
	ok := lipgloss.NewStyle().Foreground(t.theme.Success()).Bold(true)
	fmt.Fprintln(t.out, ok.Render("Connections active | Program started"))
	t.PrintHint()
}

// PrintBroken prints the red banner, once per process
func (t *Tracker) PrintBroken() {
	if !t.bannerPrinted.CompareAndSwap(false, true) {
		return
	}
	bad := lipgloss.NewStyle().Foreground(t.theme.Error()).Bold(true)
	fmt.Fprintln(t.out, bad.Render("Connections broken | Program tries reconnecting"))
}

// PrintHint prints the short help line
func (t *Tracker) PrintHint() {
	hint := lipgloss.NewStyle().Foreground(t.theme.Info())
	fmt.Fprintln(t.out, hint.Render("Type 'help' for commands, 'exit' to quit"))
}

// ReportStartup waits StartupDelay and prints the banner based on the OSC
// services. With the broker enabled the broker reports instead, after its
// first connect attempt.
func (t *Tracker) ReportStartup(brokerEnabled bool) {
	time.Sleep(StartupDelay)
	t.reportNow(brokerEnabled)
}

func (t *Tracker) reportNow(brokerEnabled bool) {
	if brokerEnabled {
		return
	}
	if t.ListenerRunning() && t.SendersRunning() > 0 {
		t.PrintActive()
	} else {
		t.PrintBroken()
	}
}
