package relay

import (
	"net"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"

	"transposer/debug"
	"transposer/queue"
	"transposer/state"
	"transposer/status"
)

// Polling intervals
const (
	DisabledPoll = 10 * time.Millisecond
	PopTimeout   = 100 * time.Millisecond
)

// Relay mirrors one MIDI stream (original or transposed) to the avatar OSC
// target. It owns its socket.
type Relay struct {
	name    string
	state   *state.State
	in      *queue.Queue
	target  string
	tracker *status.Tracker

	conn *net.UDPConn
	conv *Converter
}

// New creates a relay reading from in and sending to target (host:port)
func New(name string, st *state.State, in *queue.Queue, target string, tracker *status.Tracker) *Relay {
	return &Relay{
		name:    name,
		state:   st,
		in:      in,
		target:  target,
		tracker: tracker,
		conv:    NewConverter(),
	}
}

// Dial opens the socket on an ephemeral local port connected to the target
func (r *Relay) Dial() error {
	raddr, err := net.ResolveUDPAddr("udp", r.target)
	if err != nil {
		return errors.Wrapf(err, "resolve osc target %s", r.target)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return errors.Wrapf(err, "dial osc target %s", r.target)
	}
	r.conn = conn
	return nil
}

// Run converts and sends until the exit flag is set or the queue is closed
// (blocking - run in goroutine). While relaying is disabled the queue is not
// drained; the backlog is sent once relaying is enabled again.
func (r *Relay) Run() {
	r.tracker.SenderStarted()
	defer r.tracker.SenderStopped()

	if r.conn == nil {
		if err := r.Dial(); err != nil {
			debug.Error("osc-out", "failed to create %s OSC sender: %v", r.name, err)
			return
		}
	}
	defer r.conn.Close()

	debug.Log("osc-out", "%s relay started, local %s -> target %s", r.name, r.conn.LocalAddr(), r.target)

	for {
		if r.state.Exiting() {
			return
		}
		if !r.state.RelayEnabled() {
			time.Sleep(DisabledPoll)
			continue
		}

		msg, ok, closed := r.in.Pop(PopTimeout)
		if closed {
			debug.Log("osc-out", "%s relay input closed, exiting", r.name)
			return
		}
		if !ok {
			continue
		}

		if err := r.process(msg); err != nil {
			debug.Error("osc-out", "%s relay: %v", r.name, err)
		}
	}
}

func (r *Relay) process(raw []byte) error {
	msg := r.conv.Convert(raw)
	if msg == nil {
		return nil
	}
	return r.send(msg)
}

func (r *Relay) send(msg *osc.Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return errors.Wrapf(err, "encode %s", msg.Address)
	}
	n, err := r.conn.Write(data)
	if err != nil {
		return errors.Wrapf(err, "failed to send to %s", r.target)
	}
	if r.state.Debug() {
		debug.Log("osc-out", "sent %d bytes to %s: %s", n, r.target, msg.Address)
	}
	return nil
}

// SendOne sends a single message to target on a fresh socket
func SendOne(target string, msg *osc.Message) error {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return errors.Wrapf(err, "dial osc target %s", target)
	}
	defer conn.Close()

	data, err := msg.MarshalBinary()
	if err != nil {
		return errors.Wrapf(err, "encode %s", msg.Address)
	}
	_, err = conn.Write(data)
	return errors.Wrapf(err, "failed to send to %s", target)
}
