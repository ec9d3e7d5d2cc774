package midi

import (
	"sync/atomic"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"transposer/debug"
	"transposer/queue"
	"transposer/state"
	"transposer/transpose"
)

// Sender writes one raw message to the output device
type Sender func(msg []byte) error

// OpenSender opens outPort for writing
func OpenSender(outPort drivers.Out) (Sender, error) {
	send, err := gomidi.SendTo(outPort)
	if err != nil {
		return nil, errors.Wrapf(err, "open output %s", outPort.String())
	}
	return func(msg []byte) error {
		return send(gomidi.Message(msg))
	}, nil
}

// Forwarder owns the output device. It transposes everything from its queue
// and optionally hands the result to the transposed relay.
type Forwarder struct {
	state      *state.State
	in         *queue.Queue
	transposed *queue.Queue // may be nil
	send       Sender

	sent     atomic.Uint64
	failed   atomic.Uint64
	lastNote atomic.Int32 // -1 until the first note-on
}

// NewForwarder creates a forwarder. It is the only writer of send.
func NewForwarder(st *state.State, in, transposed *queue.Queue, send Sender) *Forwarder {
	f := &Forwarder{
		state:      st,
		in:         in,
		transposed: transposed,
		send:       send,
	}
	f.lastNote.Store(-1)
	return f
}

// Run forwards until the input queue is closed and drained (blocking - run in goroutine)
func (f *Forwarder) Run() {
	defer func() {
		if f.transposed != nil {
			f.transposed.Close()
		}
		debug.Log("forward", "forwarder exiting (sent=%d failed=%d)", f.sent.Load(), f.failed.Load())
	}()

	for {
		msg, ok := f.in.PopWait()
		if !ok {
			return
		}
		f.forward(msg)
	}
}

func (f *Forwarder) forward(msg []byte) {
	if len(msg) == 0 {
		return
	}

	semitones := f.state.Transpose()
	out := transpose.Apply(msg, semitones)

	if err := f.send(out); err != nil {
		f.failed.Add(1)
		debug.Error("forward", "error sending MIDI message to output: %v", err)
	} else {
		f.sent.Add(1)
	}
	if len(out) >= 3 && out[0]&0xF0 == transpose.NoteOn && out[2] > 0 {
		f.lastNote.Store(int32(out[1]))
	}
	if f.state.Debug() {
		debug.LogEvery(100, "forward", "forwarded %s (transpose %d)", debug.Sprint(out), semitones)
	}

	if f.transposed != nil && f.state.RelayEnabled() && !f.state.SendOriginal() {
		f.transposed.Push(out)
	}
}

// Stats returns the number of sent and failed writes
func (f *Forwarder) Stats() (sent, failed uint64) {
	return f.sent.Load(), f.failed.Load()
}

// LastNote returns the most recent transposed note-on
func (f *Forwarder) LastNote() (uint8, bool) {
	n := f.lastNote.Load()
	if n < 0 {
		return 0, false
	}
	return uint8(n), true
}
