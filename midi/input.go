package midi

import (
	"sync"

	"github.com/pkg/errors"
	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"transposer/debug"
	"transposer/queue"
	"transposer/state"
)

// InputListener receives raw messages from the input device and fans them
// out to the forwarder queue and, when the relay wants the untransposed
// stream, to the original relay queue.
type InputListener struct {
	state    *state.State
	forward  *queue.Queue
	original *queue.Queue // may be nil when no original relay runs

	stopFunc  func()
	closeOnce sync.Once
}

// NewInputListener creates a listener feeding the given queues
func NewInputListener(st *state.State, forward, original *queue.Queue) *InputListener {
	return &InputListener{
		state:    st,
		forward:  forward,
		original: original,
	}
}

// Handle is the per-event sink. It copies msg for every receiver and never
// blocks; pushes after shutdown are dropped silently.
func (l *InputListener) Handle(msg []byte) {
	if len(msg) == 0 {
		return
	}

	if l.state.Debug() {
		debug.Log("midi-in", "received %s", debug.Sprint(msg))
	}

	l.forward.Push(clone(msg))

	if l.original != nil && l.state.RelayEnabled() && l.state.SendOriginal() {
		l.original.Push(clone(msg))
	}
}

// Listen opens inPort and routes every message into Handle
func (l *InputListener) Listen(inPort drivers.In) error {
	stop, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, timestampms int32) {
		l.Handle(msg)
	}, gomidi.HandleError(func(err error) {
		debug.Warn("midi-in", "driver error: %v", err)
	}))
	if err != nil {
		return errors.Wrapf(err, "open input %s", inPort.String())
	}
	l.stopFunc = stop
	return nil
}

// Close stops the device callback and closes the queues it produces into,
// which lets the forwarder and the original relay drain and exit.
func (l *InputListener) Close() {
	l.closeOnce.Do(func() {
		if l.stopFunc != nil {
			l.stopFunc()
		}
		l.forward.Close()
		if l.original != nil {
			l.original.Close()
		}
	})
}

func clone(msg []byte) []byte {
	out := make([]byte, len(msg))
	copy(out, msg)
	return out
}
