package state

import (
	"sync"
	"sync/atomic"

	"transposer/debug"
	"transposer/transpose"
)

// Default transpose bounds in semitones
const (
	DefaultMin = -24
	DefaultMax = 24
)

// State is the single source of truth for runtime settings shared by all
// control surfaces. Every field is independently atomic; there is no lock
// spanning several fields.
type State struct {
	min, max int

	transpose     atomic.Int32
	exit          atomic.Bool
	debug         atomic.Bool
	relayEnabled  atomic.Bool
	sendOriginal  atomic.Bool
	brokerEnabled atomic.Bool
	brokerOnline  atomic.Bool

	done     chan struct{}
	doneOnce sync.Once

	// Called after the debug flag is stored. Set before sharing the State.
	OnDebugChange func(on bool)
}

// Flags holds the initial flag values
type Flags struct {
	Debug         bool
	RelayEnabled  bool
	SendOriginal  bool
	BrokerEnabled bool
}

// Snapshot is a point-in-time copy of the state. Fields may come from
// slightly different moments.
type Snapshot struct {
	Transpose     int
	Debug         bool
	RelayEnabled  bool
	SendOriginal  bool
	BrokerEnabled bool
	BrokerOnline  bool
	Exiting       bool
}

// New creates a state with transpose 0 and the given inclusive bounds.
// Swapped bounds are reordered.
func New(min, max int, flags Flags) *State {
	if min > max {
		min, max = max, min
	}
	s := &State{
		min:  min,
		max:  max,
		done: make(chan struct{}),
	}
	s.debug.Store(flags.Debug)
	s.relayEnabled.Store(flags.RelayEnabled)
	s.sendOriginal.Store(flags.SendOriginal)
	s.brokerEnabled.Store(flags.BrokerEnabled)
	return s
}

// Bounds returns the inclusive transpose range
func (s *State) Bounds() (min, max int) {
	return s.min, s.max
}

// SetTranspose clamps v to the configured bounds, stores it and returns the
// stored value. This is the only write path for the transpose offset.
func (s *State) SetTranspose(v int) int {
	clamped := transpose.Clamp(v, s.min, s.max)
	if clamped != v {
		debug.Info("state", "transpose %d out of range [%d, %d], clamped to %d", v, s.min, s.max, clamped)
	}
	s.transpose.Store(int32(clamped))
	return clamped
}

// Transpose returns the current offset in semitones
func (s *State) Transpose() int {
	return int(s.transpose.Load())
}

// StepTranspose adds delta to the current offset through SetTranspose.
// Concurrent steps may interleave; each result is still within bounds.
func (s *State) StepTranspose(delta int) (old, current int) {
	old = s.Transpose()
	return old, s.SetTranspose(old + delta)
}

// RequestExit sets the exit flag. It never resets.
func (s *State) RequestExit() {
	s.exit.Store(true)
	s.doneOnce.Do(func() { close(s.done) })
}

// Exiting reports whether shutdown was requested
func (s *State) Exiting() bool {
	return s.exit.Load()
}

// Done is closed once RequestExit is called
func (s *State) Done() <-chan struct{} {
	return s.done
}

func (s *State) Debug() bool { return s.debug.Load() }

func (s *State) SetDebug(on bool) {
	s.debug.Store(on)
	if s.OnDebugChange != nil {
		s.OnDebugChange(on)
	}
}

// RelayEnabled reports whether OSC sending is on
func (s *State) RelayEnabled() bool { return s.relayEnabled.Load() }
func (s *State) SetRelayEnabled(on bool) { s.relayEnabled.Store(on) }
func (s *State) SendOriginal() bool { return s.sendOriginal.Load() }
func (s *State) SetSendOriginal(on bool) { s.sendOriginal.Store(on) }
func (s *State) BrokerEnabled() bool { return s.brokerEnabled.Load() }
func (s *State) SetBrokerEnabled(on bool) { s.brokerEnabled.Store(on) }
func (s *State) BrokerOnline() bool { return s.brokerOnline.Load() }
func (s *State) SetBrokerOnline(on bool) { s.brokerOnline.Store(on) }

// Snapshot copies every field
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Transpose:     s.Transpose(),
		Debug:         s.Debug(),
		RelayEnabled:  s.RelayEnabled(),
		SendOriginal:  s.SendOriginal(),
		BrokerEnabled: s.BrokerEnabled(),
		BrokerOnline:  s.BrokerOnline(),
		Exiting:       s.Exiting(),
	}
}
