package osclisten

import (
	"math"
	"net"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"

	"transposer/debug"
	"transposer/state"
	"transposer/status"
)

// ReadTimeout bounds each receive so the exit flag is polled regularly
const ReadTimeout = 200 * time.Millisecond

// maxPacket is the largest datagram read in one go
const maxPacket = 1536

// Paths are the three control addresses
type Paths struct {
	Transpose     string
	TransposeUp   string
	TransposeDown string
}

// Listener applies inbound OSC control messages to the shared state
type Listener struct {
	addr    string
	paths   Paths
	state   *state.State
	tracker *status.Tracker

	conn *net.UDPConn
}

// New creates a listener for addr (host:port)
func New(addr string, paths Paths, st *state.State, tracker *status.Tracker) *Listener {
	return &Listener{
		addr:    addr,
		paths:   paths,
		state:   st,
		tracker: tracker,
	}
}

// Bind opens the UDP socket. Run binds on its own if Bind was not called.
func (l *Listener) Bind() error {
	laddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", l.addr)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return errors.Wrapf(err, "OSC bind failed on %s", l.addr)
	}
	l.conn = conn
	return nil
}

// LocalAddr returns the bound address, or nil before Bind
func (l *Listener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Run receives until the exit flag is set (blocking - run in goroutine).
// A bind failure ends the listener; the rest of the program keeps running.
func (l *Listener) Run() {
	if l.conn == nil {
		if err := l.Bind(); err != nil {
			debug.Error("osc-in", "%v", err)
			return
		}
	}
	defer l.conn.Close()

	l.tracker.ListenerStarted()
	defer l.tracker.ListenerStopped()

	debug.Log("osc-in", "OSC listener bound on %s (paths: %s, %s, %s)",
		l.conn.LocalAddr(), l.paths.Transpose, l.paths.TransposeUp, l.paths.TransposeDown)

	buf := make([]byte, maxPacket)
	for {
		if l.state.Exiting() {
			debug.Log("osc-in", "OSC listener exiting")
			return
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
			// without a deadline the read could block past the exit flag
			debug.Error("osc-in", "OSC listener stopped: %v", err)
			return
		}
		n, peer, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			debug.Error("osc-in", "OSC recv error: %v", err)
			continue
		}

		packet, err := osc.ParsePacket(string(buf[:n]))
		if err != nil {
			debug.Warn("osc-in", "OSC decode error from %s: %v", peer, err)
			continue
		}
		l.HandlePacket(packet)
	}
}

// HandlePacket applies a message, or every message of a bundle recursively
func (l *Listener) HandlePacket(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		l.HandleMessage(p)
	case *osc.Bundle:
		// go-osc splits bundle contents, so nested bundles run after the direct messages
		for _, msg := range p.Messages {
			l.HandleMessage(msg)
		}
		for _, inner := range p.Bundles {
			l.HandlePacket(inner)
		}
	}
}

// HandleMessage applies one control message. Unknown addresses are ignored.
func (l *Listener) HandleMessage(msg *osc.Message) {
	switch msg.Address {
	case l.paths.Transpose:
		if len(msg.Arguments) == 0 {
			debug.Warn("osc-in", "%s without argument ignored", msg.Address)
			return
		}
		v, ok := numeric(msg.Arguments[0])
		if !ok {
			debug.Warn("osc-in", "%s requires numeric argument (got %v)", msg.Address, msg.Arguments[0])
			return
		}
		applied := l.state.SetTranspose(v)
		debug.Log("osc-in", "transpose set to %d", applied)

	case l.paths.TransposeUp:
		l.step(msg, 1)

	case l.paths.TransposeDown:
		l.step(msg, -1)
	}
}

func (l *Listener) step(msg *osc.Message, delta int) {
	if len(msg.Arguments) == 0 {
		debug.Warn("osc-in", "%s without argument ignored", msg.Address)
		return
	}
	if !Truthy(msg.Arguments[0]) {
		return
	}
	old, cur := l.state.StepTranspose(delta)
	debug.Log("osc-in", "transpose %+d: %d -> %d", delta, old, cur)
}

// numeric converts an int or float argument, rounding floats to nearest
func numeric(arg interface{}) (int, bool) {
	switch v := arg.(type) {
	case int32:
		return int(v), true
	case int64:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return 0, false
		}
		return int(v), true
	case float32:
		return roundFloat(float64(v))
	case float64:
		return roundFloat(v)
	}
	return 0, false
}

func roundFloat(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Round(f)))
	return int(f), true
}

// Truthy reports whether arg means "do it": integer or float 1, or true
func Truthy(arg interface{}) bool {
	switch v := arg.(type) {
	case int32:
		return v == 1
	case int64:
		return v == 1
	case float32:
		return math.Abs(float64(v)-1) < 1e-6
	case float64:
		return math.Abs(v-1) < 1e-9
	case bool:
		return v
	}
	return false
}
