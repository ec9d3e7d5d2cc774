package midi

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// PortScanTimeout bounds port enumeration (CoreMIDI can hang)
const PortScanTimeout = 3 * time.Second

// Ports is a snapshot of the available MIDI ports
type Ports struct {
	In  []drivers.In
	Out []drivers.Out
}

// InNames returns the input port names in driver order
func (p Ports) InNames() []string {
	names := make([]string, len(p.In))
	for i, port := range p.In {
		names[i] = port.String()
	}
	return names
}

// OutNames returns the output port names in driver order
func (p Ports) OutNames() []string {
	names := make([]string, len(p.Out))
	for i, port := range p.Out {
		names[i] = port.String()
	}
	return names
}

// ListPorts enumerates ports with a timeout. A driver must be registered by
// the importing program (rtmididrv in main).
func ListPorts(timeout time.Duration) (Ports, error) {
	ch := make(chan Ports, 1)
	go func() {
		inPorts := gomidi.GetInPorts()
		outPorts := gomidi.GetOutPorts()
		ch <- Ports{In: inPorts, Out: outPorts}
	}()

	select {
	case ports := <-ch:
		return ports, nil
	case <-time.After(timeout):
		// User needs to run: sudo killall coreaudiod midiserver
		return Ports{}, errors.Errorf("MIDI port scan timed out after %s", timeout)
	}
}

// CloseDriver releases the registered MIDI driver
func CloseDriver() {
	gomidi.CloseDriver()
}

// Prompter asks the user to pick one of names. kind is "input" or "output".
type Prompter func(kind string, names []string) (int, error)

// SelectIn picks the first input whose name contains substr. Without a match
// the only port is used, otherwise prompt decides.
func SelectIn(names []string, substr string, prompt Prompter) (int, error) {
	if len(names) == 0 {
		return -1, errors.New("no input port found")
	}

	for i, name := range names {
		if substr != "" && strings.Contains(name, substr) {
			return i, nil
		}
	}

	return fallback("input", names, prompt)
}

// SelectOut is like SelectIn but skips a port named exactly like the chosen
// input, so a device's own input is not picked as its output.
func SelectOut(names []string, substr, inName string, prompt Prompter) (int, error) {
	if len(names) == 0 {
		return -1, errors.New("no output port found")
	}

	for i, name := range names {
		if substr != "" && strings.Contains(name, substr) && name != inName {
			return i, nil
		}
	}

	return fallback("output", names, prompt)
}

func fallback(kind string, names []string, prompt Prompter) (int, error) {
	if len(names) == 1 {
		return 0, nil
	}
	if prompt == nil {
		return -1, errors.Errorf("no %s port matched and no prompt available", kind)
	}

	idx, err := prompt(kind, names)
	if err != nil {
		return -1, err
	}
	if idx < 0 || idx >= len(names) {
		return -1, errors.Errorf("invalid %s port selected: %d", kind, idx)
	}
	return idx, nil
}

// ConsolePrompt lists ports on w and reads the chosen index from r
func ConsolePrompt(r io.Reader, w io.Writer) Prompter {
	reader := bufio.NewReader(r)
	return func(kind string, names []string) (int, error) {
		fmt.Fprintf(w, "\nAvailable %s ports:\n", kind)
		for i, name := range names {
			fmt.Fprintf(w, "%d: %s\n", i, name)
		}
		fmt.Fprintf(w, "Please select %s port: ", kind)

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return -1, errors.Wrapf(err, "read %s port selection", kind)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			return -1, errors.Wrapf(err, "invalid %s port selection %q", kind, strings.TrimSpace(line))
		}
		return idx, nil
	}
}
