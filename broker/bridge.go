package broker

import (
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"transposer/debug"
	"transposer/state"
	"transposer/status"
)

const (
	LoopDelay      = 50 * time.Millisecond
	ReconnectDelay = time.Second
	KeepAlive      = 30 * time.Second
	ConnectTimeout = 5 * time.Second
	DisconnectWait = 250 // ms
	QoS            = 1
	inboundSize    = 64
)

// Options configures the bridge
type Options struct {
	URL       string // tcp://host:port
	BaseTopic string
	Username  string
	Password  string
	ClientID  string // generated when empty
	DeviceID  string // discovery identity; ClientID or derived from BaseTopic when empty
	Min, Max  int    // transpose bounds, announced in discovery
}

// Publisher sends one message with QoS 1
type Publisher interface {
	Publish(topic string, retained bool, payload interface{}) error
}

type clientPublisher struct {
	client mqtt.Client
}

func (p clientPublisher) Publish(topic string, retained bool, payload interface{}) error {
	token := p.client.Publish(topic, QoS, retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	default:
		// acknowledged later; failures surface through the connection lost handler
		return nil
	}
}

// session is the part of an mqtt.Client the bridge holds on to
type session interface {
	Disconnect(quiesce uint)
}

var (
	errTimeout = errors.New("timed out")
	errExiting = errors.New("shutdown requested")
)

type inbound struct {
	topic   string
	payload []byte
}

// published is the last state sent on each state topic
type published struct {
	transpose    int
	relayEnabled bool
	sendOriginal bool
	debug        bool
}

// Bridge mirrors the shared state to an MQTT broker and applies commands
// received on the command topics
type Bridge struct {
	opts    Options
	topics  Topics
	state   *state.State
	tracker *status.Tracker

	client session
	pub    Publisher
	dial   func() error // connects and sets client and pub

	inbound chan inbound
	lost    chan error
	last    published
}

// New creates a bridge. It does not connect until Run.
func New(opts Options, st *state.State, tracker *status.Tracker) *Bridge {
	if opts.DeviceID == "" {
		opts.DeviceID = deviceID(opts)
	}
	if opts.ClientID == "" {
		opts.ClientID = "transposer-" + uuid.NewString()
	}
	b := &Bridge{
		opts:    opts,
		topics:  NewTopics(opts.BaseTopic),
		state:   st,
		tracker: tracker,
		inbound: make(chan inbound, inboundSize),
		lost:    make(chan error, 1),
	}
	b.dial = b.connect
	return b
}

// deviceID must survive restarts, Home Assistant keys its entities on it
func deviceID(opts Options) string {
	if opts.ClientID != "" {
		return opts.ClientID
	}
	base := strings.Trim(opts.BaseTopic, "/")
	if base == "" {
		return "transposer"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(base)
}

// ClientID returns the MQTT client id in use
func (b *Bridge) ClientID() string { return b.opts.ClientID }

// DeviceID returns the identity announced in discovery
func (b *Bridge) DeviceID() string { return b.opts.DeviceID }

// Run keeps the broker session alive until the exit flag is set (blocking).
// While broker-enabled is off the bridge stays disconnected.
func (b *Bridge) Run() {
	for {
		if b.state.Exiting() {
			debug.Log("mqtt", "shutdown requested, stopping bridge")
			b.disconnect()
			return
		}

		if !b.state.BrokerEnabled() {
			if b.client != nil {
				debug.Info("mqtt", "MQTT disabled, disconnecting")
				b.disconnect()
			}
			time.Sleep(LoopDelay)
			continue
		}

		if b.client == nil {
			if err := b.dial(); err != nil {
				if b.state.Exiting() {
					continue
				}
				debug.Error("mqtt", "connection error: %v (reconnecting in %s)", err, ReconnectDelay)
				b.markOffline()
				b.tracker.PrintBroken()
				b.wait(ReconnectDelay)
				continue
			}
			b.onConnect()
		}

		select {
		case msg := <-b.inbound:
			b.handleMessage(msg.topic, msg.payload)
		case err := <-b.lost:
			debug.Error("mqtt", "connection lost: %v (reconnecting in %s)", err, ReconnectDelay)
			b.client = nil
			b.pub = nil
			b.markOffline()
			b.tracker.PrintBroken()
			b.wait(ReconnectDelay)
			continue
		case <-time.After(LoopDelay):
		}

		b.syncState()
	}
}

func (b *Bridge) connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.opts.URL)
	opts.SetClientID(b.opts.ClientID)
	opts.SetKeepAlive(KeepAlive)
	opts.SetConnectTimeout(ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetWill(b.topics.Availability, Offline, QoS, true)
	if b.opts.Username != "" {
		opts.SetUsername(b.opts.Username)
		opts.SetPassword(b.opts.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case b.lost <- err:
		default:
		}
	})

	// drop a stale loss from the previous session
	select {
	case <-b.lost:
	default:
	}

	client := mqtt.NewClient(opts)
	debug.Log("mqtt", "connecting to %s as %s", b.opts.URL, b.opts.ClientID)

	if err := b.await(client.Connect(), ConnectTimeout); err != nil {
		if err == errExiting {
			client.Disconnect(0)
		}
		return errors.Wrapf(err, "connect to %s", b.opts.URL)
	}

	for _, topic := range b.topics.Commands() {
		if err := b.await(client.Subscribe(topic, QoS, b.onMessage), ConnectTimeout); err != nil {
			client.Disconnect(DisconnectWait)
			return errors.Wrapf(err, "subscribe %s", topic)
		}
	}
	debug.Log("mqtt", "subscribed to %v", b.topics.Commands())

	b.client = client
	b.pub = clientPublisher{client: client}
	return nil
}

// await waits for token up to timeout, giving up early once the exit flag is set
func (b *Bridge) await(token mqtt.Token, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(LoopDelay)
	defer poll.Stop()

	for {
		select {
		case <-token.Done():
			return token.Error()
		case <-deadline.C:
			return errTimeout
		case <-poll.C:
			if b.state.Exiting() {
				return errExiting
			}
		}
	}
}

// onMessage runs on the paho goroutine and hands the message to Run
func (b *Bridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case b.inbound <- inbound{topic: msg.Topic(), payload: msg.Payload()}:
	default:
		debug.Warn("mqtt", "inbound queue full, dropping message on %s", msg.Topic())
	}
}

// onConnect announces the device and publishes every state
func (b *Bridge) onConnect() {
	b.publishDiscovery()
	b.publish(b.topics.Availability, Online)
	b.publishAll()

	b.tracker.SetBrokerConnected(true)
	b.state.SetBrokerOnline(true)
	debug.Info("mqtt", "connected to %s", b.opts.URL)
	b.tracker.PrintActive()
}

func (b *Bridge) publishDiscovery() {
	announcements, err := Discovery(b.topics, b.opts.DeviceID, b.opts.Min, b.opts.Max)
	if err != nil {
		debug.Error("mqtt", "discovery: %v", err)
		return
	}
	for _, a := range announcements {
		b.publish(a.Topic, a.Payload)
	}
	debug.Log("mqtt", "Home Assistant discovery configured")
}

// publishAll sends every state topic and resets the last-published snapshot
func (b *Bridge) publishAll() {
	snap := b.state.Snapshot()
	b.last = published{
		transpose:    snap.Transpose,
		relayEnabled: snap.RelayEnabled,
		sendOriginal: snap.SendOriginal,
		debug:        snap.Debug,
	}
	b.publish(b.topics.TransposeState, strconv.Itoa(snap.Transpose))
	b.publish(b.topics.OSCEnabledState, flagPayload(snap.RelayEnabled))
	b.publish(b.topics.SendOriginalState, flagPayload(snap.SendOriginal))
	b.publish(b.topics.DebugState, flagPayload(snap.Debug))
}

// syncState republishes every entity whose value changed since it was last
// published, whichever surface changed it
func (b *Bridge) syncState() {
	snap := b.state.Snapshot()
	if snap.Transpose != b.last.transpose {
		b.publishTranspose(snap.Transpose)
	}
	if snap.RelayEnabled != b.last.relayEnabled {
		b.publishRelayEnabled(snap.RelayEnabled)
	}
	if snap.SendOriginal != b.last.sendOriginal {
		b.publishSendOriginal(snap.SendOriginal)
	}
	if snap.Debug != b.last.debug {
		b.publishDebug(snap.Debug)
	}
}

func (b *Bridge) publishTranspose(v int) {
	b.publish(b.topics.TransposeState, strconv.Itoa(v))
	b.last.transpose = v
}

func (b *Bridge) publishRelayEnabled(on bool) {
	b.publish(b.topics.OSCEnabledState, flagPayload(on))
	b.last.relayEnabled = on
}

func (b *Bridge) publishSendOriginal(on bool) {
	b.publish(b.topics.SendOriginalState, flagPayload(on))
	b.last.sendOriginal = on
}

func (b *Bridge) publishDebug(on bool) {
	b.publish(b.topics.DebugState, flagPayload(on))
	b.last.debug = on
}

// handleMessage applies one command topic to the shared state and echoes
// the resulting state
func (b *Bridge) handleMessage(topic string, payload []byte) {
	switch topic {
	case b.topics.TransposeSet:
		v, ok := ParseTranspose(payload)
		if !ok {
			debug.Warn("mqtt", "invalid %s payload: %q", topic, payload)
			return
		}
		applied := b.state.SetTranspose(v)
		debug.Log("mqtt", "transpose set to %d", applied)
		b.publishTranspose(applied)

	case b.topics.TransposeUp, b.topics.TransposeDown:
		if !Truthy(payload) {
			return
		}
		delta := 1
		if topic == b.topics.TransposeDown {
			delta = -1
		}
		old, cur := b.state.StepTranspose(delta)
		debug.Log("mqtt", "transpose %+d: %d -> %d", delta, old, cur)
		b.publishTranspose(cur)

	case b.topics.OSCEnabledSet:
		on := Truthy(payload)
		b.state.SetRelayEnabled(on)
		debug.Log("mqtt", "OSC sending enabled -> %v", on)
		b.publishRelayEnabled(on)

	case b.topics.SendOriginalSet:
		on := Truthy(payload)
		b.state.SetSendOriginal(on)
		debug.Log("mqtt", "OSC send original -> %v", on)
		b.publishSendOriginal(on)

	case b.topics.DebugSet:
		on := Truthy(payload)
		b.state.SetDebug(on)
		debug.Log("mqtt", "debug enabled -> %v", on)
		b.publishDebug(on)

	default:
		debug.Log("mqtt", "ignoring message on %s", topic)
	}
}

func (b *Bridge) publish(topic string, payload interface{}) {
	if b.pub == nil {
		return
	}
	if err := b.pub.Publish(topic, true, payload); err != nil {
		debug.Error("mqtt", "publish %s: %v", topic, err)
	}
}

// disconnect publishes offline and closes the session gracefully
func (b *Bridge) disconnect() {
	if b.client != nil {
		b.publish(b.topics.Availability, Offline)
		b.client.Disconnect(DisconnectWait)
		debug.Log("mqtt", "disconnected")
	}
	b.client = nil
	b.pub = nil
	b.markOffline()
}

func (b *Bridge) markOffline() {
	b.tracker.SetBrokerConnected(false)
	b.state.SetBrokerOnline(false)
}

// wait sleeps for d, returning early when the exit flag is set
func (b *Bridge) wait(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if b.state.Exiting() {
			return
		}
		time.Sleep(LoopDelay)
	}
}
