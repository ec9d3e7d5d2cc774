package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"transposer/broker"
	"transposer/config"
	"transposer/console"
	"transposer/debug"
	"transposer/midi"
	"transposer/osclisten"
	"transposer/queue"
	"transposer/relay"
	"transposer/state"
	"transposer/status"
	"transposer/theme"
	"transposer/tui"
)

// shutdownTimeout bounds the wait for all goroutines after exit
const shutdownTimeout = 3 * time.Second

type options struct {
	configPath string
	tui        bool
	debug      bool
	listPorts  bool
	saveConfig bool
	transpose  int
}

func parseFlags() options {
	var o options
	pflag.StringVarP(&o.configPath, "config", "c", "", "config file (.json, .yaml or .yml); default ~/.config/transposer/config.json")
	pflag.BoolVar(&o.tui, "tui", false, "run the terminal dashboard instead of the line prompt")
	pflag.BoolVarP(&o.debug, "debug", "d", false, "enable verbose debug output")
	pflag.BoolVar(&o.listPorts, "list-ports", false, "list MIDI ports and exit")
	pflag.BoolVar(&o.saveConfig, "save-config", false, "write the effective configuration to the config path and exit")
	pflag.IntVarP(&o.transpose, "transpose", "t", 0, "initial transpose in semitones")
	pflag.Parse()
	return o
}

func main() {
	if err := run(parseFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func run(opts options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.debug {
		cfg.Debug = true
	}
	if pflag.CommandLine.Changed("tui") {
		cfg.UI.TUI = opts.tui
	}

	if opts.saveConfig {
		path := opts.configPath
		if path == "" {
			path, _ = config.ConfigPath()
			err = cfg.Save()
		} else {
			err = cfg.SaveFile(path)
		}
		if err != nil {
			return errors.Wrap(err, "save config")
		}
		fmt.Printf("Configuration written to %s\n", path)
		return nil
	}

	if cfg.LogFile != "" {
		if err := debug.EnableFile(cfg.LogFile); err != nil {
			return err
		}
	}
	defer debug.Close()
	debug.SetVerbose(cfg.Debug)

	th, err := theme.Load(cfg.UI.Palette)
	if err != nil {
		debug.Warn("main", "palette %s: %v (using default)", cfg.UI.Palette, err)
		th = theme.Default()
	}

	defer midi.CloseDriver()
	ports, err := midi.ListPorts(midi.PortScanTimeout)
	if err != nil {
		return errors.Wrap(err, "try: sudo killall coreaudiod midiserver")
	}

	if opts.listPorts {
		printPorts(os.Stdout, ports)
		return nil
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	useTUI := cfg.UI.TUI && interactive && isatty.IsTerminal(os.Stdout.Fd())
	if cfg.UI.TUI && !useTUI {
		debug.Warn("main", "no terminal, falling back to the line prompt")
	}

	var prompt midi.Prompter
	if interactive {
		prompt = midi.ConsolePrompt(os.Stdin, os.Stdout)
	}

	inIdx, err := midi.SelectIn(ports.InNames(), cfg.MIDI.InputPort, prompt)
	if err != nil {
		return err
	}
	inPort := ports.In[inIdx]
	outIdx, err := midi.SelectOut(ports.OutNames(), cfg.MIDI.OutputPort, inPort.String(), prompt)
	if err != nil {
		return err
	}
	outPort := ports.Out[outIdx]
	fmt.Printf("Input:  %s\nOutput: %s\n", inPort.String(), outPort.String())

	send, err := midi.OpenSender(outPort)
	if err != nil {
		return err
	}

	st := state.New(cfg.Transpose.Min, cfg.Transpose.Max, state.Flags{
		Debug:         cfg.Debug,
		RelayEnabled:  cfg.OSC.SendingEnabled,
		SendOriginal:  cfg.OSC.SendOriginal,
		BrokerEnabled: cfg.MQTT.Enabled,
	})
	st.OnDebugChange = debug.SetVerbose
	initial := st.SetTranspose(opts.transpose)

	var out io.Writer = os.Stdout
	if useTUI {
		out = io.Discard
	}
	tracker := status.New(out, th)

	forwardQ, originalQ, transposedQ := queue.New(), queue.New(), queue.New()
	input := midi.NewInputListener(st, forwardQ, originalQ)
	forwarder := midi.NewForwarder(st, forwardQ, transposedQ, send)
	original := relay.New("original", st, originalQ, cfg.TargetAddr(), tracker)
	transposed := relay.New("transposed", st, transposedQ, cfg.TargetAddr(), tracker)
	listener := osclisten.New(cfg.ListenAddr(), osclisten.Paths{
		Transpose:     cfg.OSC.TransposePath,
		TransposeUp:   cfg.OSC.TransposeUpPath,
		TransposeDown: cfg.OSC.TransposeDownPath,
	}, st, tracker)
	bridge := broker.New(broker.Options{
		URL:       cfg.BrokerURL(),
		BaseTopic: cfg.MQTT.BaseTopic,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		ClientID:  cfg.MQTT.ClientID,
		Min:       cfg.Transpose.Min,
		Max:       cfg.Transpose.Max,
	}, st, tracker)

	var wg sync.WaitGroup
	start := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	start(forwarder.Run)
	start(original.Run)
	start(transposed.Run)
	start(listener.Run)
	start(bridge.Run)

	if err := input.Listen(inPort); err != nil {
		st.RequestExit()
		input.Close()
		wait(&wg)
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			st.RequestExit()
		case <-st.Done():
		}
	}()

	c := console.New(st, th)
	if useTUI {
		debug.SetOutput(io.Discard)
		p := tea.NewProgram(tui.NewModel(st, c, tracker, forwarder, th), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			debug.Error("tui", "%v", err)
		}
		st.RequestExit()
		debug.SetOutput(os.Stderr)
	} else {
		fmt.Printf("Using initial transpose: %d semitones (type number+Enter to change, empty line or 'exit' to quit)\n", initial)
		go tracker.ReportStartup(cfg.MQTT.Enabled)
		go c.Run(os.Stdin, os.Stdout)
	}

	<-st.Done()
	fmt.Println("Shutting down...")

	// producers first: closing the input closes the queues behind it
	input.Close()
	wait(&wg)

	sent, failed := forwarder.Stats()
	debug.Log("main", "forwarded %d messages (%d failed)", sent, failed)
	fmt.Println("Exiting")
	return nil
}

func wait(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		debug.Warn("main", "shutdown timed out after %s", shutdownTimeout)
	}
}

func printPorts(w io.Writer, ports midi.Ports) {
	fmt.Fprintln(w, "=== MIDI Input Ports ===")
	for i, name := range ports.InNames() {
		fmt.Fprintf(w, "  %d: %s\n", i, name)
	}
	fmt.Fprintln(w, "\n=== MIDI Output Ports ===")
	for i, name := range ports.OutNames() {
		fmt.Fprintf(w, "  %d: %s\n", i, name)
	}
}
