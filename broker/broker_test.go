package broker

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"

	"transposer/state"
	"transposer/status"
)

type message struct {
	topic    string
	retained bool
	payload  string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
}

func (f *fakePublisher) Publish(topic string, retained bool, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var p string
	switch v := payload.(type) {
	case string:
		p = v
	case []byte:
		p = string(v)
	}
	f.msgs = append(f.msgs, message{topic, retained, p})
	return nil
}

func (f *fakePublisher) take() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.msgs
	f.msgs = nil
	return out
}

func (f *fakePublisher) all() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.msgs...)
}

type fakeSession struct {
	disconnects atomic.Int32
}

func (s *fakeSession) Disconnect(uint) { s.disconnects.Add(1) }

// pendingToken never completes
type pendingToken struct{}

func (pendingToken) Wait() bool { select {} }

func (pendingToken) WaitTimeout(d time.Duration) bool {
	time.Sleep(d)
	return false
}

func (pendingToken) Done() <-chan struct{} { return make(chan struct{}) }
func (pendingToken) Error() error          { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newBridge(flags state.Flags) (*Bridge, *state.State, *fakePublisher) {
	st := state.New(-24, 24, flags)
	b := New(Options{BaseTopic: "midi/transposer", ClientID: "test", Min: -24, Max: 24}, st, status.New(io.Discard, nil))
	pub := &fakePublisher{}
	b.pub = pub
	return b, st, pub
}

func TestNewTopics(t *testing.T) {
	topics := NewTopics("midi/transposer/")
	tests := map[string]string{
		topics.TransposeSet:      "midi/transposer/transpose",
		topics.TransposeUp:       "midi/transposer/transposeUp",
		topics.TransposeDown:     "midi/transposer/transposeDown",
		topics.TransposeState:    "midi/transposer/state/transpose",
		topics.Availability:      "midi/transposer/availability",
		topics.OSCEnabledSet:     "midi/transposer/osc/sendingEnabled",
		topics.OSCEnabledState:   "midi/transposer/state/osc/sendingEnabled",
		topics.SendOriginalSet:   "midi/transposer/osc/sendOriginal",
		topics.SendOriginalState: "midi/transposer/state/osc/sendOriginal",
		topics.DebugSet:          "midi/transposer/debug/enabled",
		topics.DebugState:        "midi/transposer/state/debug/enabled",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("topic %q, want %q", got, want)
		}
	}
	if len(topics.Commands()) != 6 {
		t.Errorf("Commands() = %v", topics.Commands())
	}
}

func TestParseTranspose(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"5", 5, true},
		{" -12\n", -12, true},
		{"2.6", 3, true},
		{"-0.4", 0, true},
		{"abc", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseTranspose([]byte(tt.in))
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseTranspose(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTruthy(t *testing.T) {
	for _, p := range []string{"1", "true", "TRUE", "on", " On "} {
		if !Truthy([]byte(p)) {
			t.Errorf("Truthy(%q) = false", p)
		}
	}
	for _, p := range []string{"0", "false", "off", "", "yes", "2"} {
		if Truthy([]byte(p)) {
			t.Errorf("Truthy(%q) = true", p)
		}
	}
}

func TestHandleTransposeCommands(t *testing.T) {
	b, st, pub := newBridge(state.Flags{})

	b.handleMessage(b.topics.TransposeSet, []byte("70"))
	if st.Transpose() != 24 {
		t.Fatalf("transpose = %d, want clamped 24", st.Transpose())
	}
	b.handleMessage(b.topics.TransposeDown, []byte("1"))
	b.handleMessage(b.topics.TransposeDown, []byte("true"))
	b.handleMessage(b.topics.TransposeUp, []byte("0"))
	if st.Transpose() != 22 {
		t.Fatalf("transpose = %d, want 22", st.Transpose())
	}
	b.handleMessage(b.topics.TransposeSet, []byte("garbage"))
	if st.Transpose() != 22 {
		t.Fatalf("invalid payload changed transpose to %d", st.Transpose())
	}

	var states []string
	for _, m := range pub.take() {
		if m.topic != b.topics.TransposeState || !m.retained {
			t.Errorf("unexpected publish %+v", m)
		}
		states = append(states, m.payload)
	}
	if strings.Join(states, ",") != "24,23,22" {
		t.Errorf("published states = %v", states)
	}
}

func TestHandleFlagCommands(t *testing.T) {
	b, st, pub := newBridge(state.Flags{})

	b.handleMessage(b.topics.OSCEnabledSet, []byte("on"))
	b.handleMessage(b.topics.SendOriginalSet, []byte("1"))
	b.handleMessage(b.topics.DebugSet, []byte("true"))
	snap := st.Snapshot()
	if !snap.RelayEnabled || !snap.SendOriginal || !snap.Debug {
		t.Fatalf("flags not set: %+v", snap)
	}

	b.handleMessage(b.topics.OSCEnabledSet, []byte("0"))
	if st.RelayEnabled() {
		t.Fatal("relay still enabled")
	}

	want := []message{
		{b.topics.OSCEnabledState, true, "1"},
		{b.topics.SendOriginalState, true, "1"},
		{b.topics.DebugState, true, "1"},
		{b.topics.OSCEnabledState, true, "0"},
	}
	got := pub.take()
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("publish %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// no divergence left after handled commands
	b.syncState()
	if extra := pub.take(); len(extra) != 0 {
		t.Errorf("sync republished %v", extra)
	}
}

func TestSyncStatePublishesOnlyChanges(t *testing.T) {
	b, st, pub := newBridge(state.Flags{RelayEnabled: true})
	b.publishAll()
	if n := len(pub.take()); n != 4 {
		t.Fatalf("publishAll sent %d messages, want 4", n)
	}

	b.syncState()
	if msgs := pub.take(); len(msgs) != 0 {
		t.Fatalf("unchanged state republished: %v", msgs)
	}

	// changes from other surfaces
	st.SetTranspose(-5)
	st.SetRelayEnabled(false)
	b.syncState()

	got := pub.take()
	want := []message{
		{b.topics.TransposeState, true, "-5"},
		{b.topics.OSCEnabledState, true, "0"},
	}
	if len(got) != len(want) {
		t.Fatalf("sync published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("publish %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	b.syncState()
	if msgs := pub.take(); len(msgs) != 0 {
		t.Errorf("second sync republished: %v", msgs)
	}
}

func TestDiscovery(t *testing.T) {
	topics := NewTopics("midi/transposer")
	announcements, err := Discovery(topics, "studio", -12, 12)
	if err != nil {
		t.Fatal(err)
	}
	if len(announcements) != 6 {
		t.Fatalf("got %d announcements", len(announcements))
	}

	first := announcements[0]
	if first.Topic != "homeassistant/number/midi_transposer/transpose/config" {
		t.Errorf("number topic = %q", first.Topic)
	}

	var number map[string]interface{}
	if err := json.Unmarshal(first.Payload, &number); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if number["min"] != float64(-12) || number["max"] != float64(12) {
		t.Errorf("min/max = %v/%v", number["min"], number["max"])
	}
	if number["unique_id"] != "studio_transpose" || number["state_topic"] != topics.TransposeState {
		t.Errorf("number = %v", number)
	}
	dev := number["device"].(map[string]interface{})
	if ids := dev["identifiers"].([]interface{}); ids[0] != "midi_transposer_studio" {
		t.Errorf("identifiers = %v", ids)
	}

	var sw map[string]interface{}
	json.Unmarshal(announcements[5].Payload, &sw)
	if announcements[5].Topic != "homeassistant/switch/midi_transposer/debug_enabled/config" {
		t.Errorf("switch topic = %q", announcements[5].Topic)
	}
	if sw["payload_on"] != "1" || sw["state_off"] != "0" || sw["availability_topic"] != topics.Availability {
		t.Errorf("switch = %v", sw)
	}
	if _, ok := sw["min"]; ok {
		t.Error("switch must not carry min")
	}
}

func TestDiscoveryIdentityStableAcrossRestarts(t *testing.T) {
	payloads := func() []Announcement {
		st := state.New(-24, 24, state.Flags{})
		b := New(Options{BaseTopic: "midi/transposer", Min: -24, Max: 24}, st, status.New(io.Discard, nil))
		pub := &fakePublisher{}
		b.pub = pub
		b.publishDiscovery()
		var out []Announcement
		for _, m := range pub.take() {
			out = append(out, Announcement{Topic: m.topic, Payload: []byte(m.payload)})
		}
		return out
	}

	first, second := payloads(), payloads()
	if len(first) != 6 || len(second) != 6 {
		t.Fatalf("announced %d and %d configs", len(first), len(second))
	}
	for i := range first {
		if first[i].Topic != second[i].Topic || !bytes.Equal(first[i].Payload, second[i].Payload) {
			t.Errorf("config %s changed between runs:\n%s\n%s", first[i].Topic, first[i].Payload, second[i].Payload)
		}
	}
	if !bytes.Contains(first[0].Payload, []byte(`"unique_id":"midi_transposer_transpose"`)) {
		t.Errorf("number config = %s", first[0].Payload)
	}
}

func TestDeviceID(t *testing.T) {
	tests := []struct {
		opts Options
		want string
	}{
		{Options{BaseTopic: "midi/transposer"}, "midi_transposer"},
		{Options{BaseTopic: "/home/midi/"}, "home_midi"},
		{Options{}, "transposer"},
		{Options{BaseTopic: "midi/transposer", ClientID: "studio"}, "studio"},
		{Options{BaseTopic: "midi/transposer", ClientID: "studio", DeviceID: "rack"}, "rack"},
	}
	st := state.New(-24, 24, state.Flags{})
	for _, tt := range tests {
		if got := New(tt.opts, st, status.New(io.Discard, nil)).DeviceID(); got != tt.want {
			t.Errorf("DeviceID(%+v) = %q, want %q", tt.opts, got, tt.want)
		}
	}
}

func TestGeneratedClientID(t *testing.T) {
	st := state.New(-24, 24, state.Flags{})
	a := New(Options{BaseTopic: "x"}, st, status.New(io.Discard, nil))
	b := New(Options{BaseTopic: "x"}, st, status.New(io.Discard, nil))
	if !strings.HasPrefix(a.ClientID(), "transposer-") || a.ClientID() == b.ClientID() {
		t.Errorf("client ids %q, %q", a.ClientID(), b.ClientID())
	}
}

func TestRunDisabledExits(t *testing.T) {
	st := state.New(-24, 24, state.Flags{BrokerEnabled: false})
	b := New(Options{URL: "tcp://127.0.0.1:1", BaseTopic: "x"}, st, status.New(io.Discard, nil))

	done := make(chan struct{})
	go func() {
		b.Run()
		close(done)
	}()

	time.Sleep(2 * LoopDelay)
	st.RequestExit()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bridge did not exit")
	}
}

func TestRunUnreachableBrokerReportsBroken(t *testing.T) {
	st := state.New(-24, 24, state.Flags{BrokerEnabled: true})
	var out bytes.Buffer
	tracker := status.New(&out, nil)
	b := New(Options{URL: "tcp://127.0.0.1:1", BaseTopic: "x"}, st, tracker)

	done := make(chan struct{})
	go func() {
		b.Run()
		close(done)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for !tracker.BannerPrinted() {
		if time.Now().After(deadline) {
			t.Fatal("no banner after failed connect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	st.RequestExit()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not exit during backoff")
	}

	if !strings.Contains(out.String(), "Connections broken") {
		t.Errorf("banner = %q", out.String())
	}
	if st.BrokerOnline() || tracker.BrokerConnected() {
		t.Error("bridge marked online without a broker")
	}
}

func TestRunReconnectsAfterConnectionLost(t *testing.T) {
	st := state.New(-24, 24, state.Flags{BrokerEnabled: true})
	var out bytes.Buffer
	tracker := status.New(&out, nil)
	b := New(Options{BaseTopic: "x"}, st, tracker)

	pub := &fakePublisher{}
	sess := &fakeSession{}
	var dials atomic.Int32
	b.dial = func() error {
		dials.Add(1)
		b.client = sess
		b.pub = pub
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.Run()
		close(done)
	}()

	waitFor(t, "first connect", st.BrokerOnline)
	online := message{b.topics.Availability, true, Online}
	offline := message{b.topics.Availability, true, Offline}
	var seen bool
	for _, m := range pub.all() {
		if m == online {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("availability online not published: %v", pub.all())
	}
	if !strings.Contains(out.String(), "Connections active") {
		t.Errorf("banner = %q", out.String())
	}

	b.lost <- errors.New("connection reset")
	waitFor(t, "offline after loss", func() bool { return !st.BrokerOnline() })
	if tracker.BrokerConnected() {
		t.Error("tracker still connected after loss")
	}
	if dials.Load() != 1 {
		t.Errorf("redialed before the backoff: %d dials", dials.Load())
	}

	waitFor(t, "reconnect", func() bool { return dials.Load() == 2 && st.BrokerOnline() })

	st.RequestExit()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not exit")
	}

	msgs := pub.all()
	if last := msgs[len(msgs)-1]; last != offline {
		t.Errorf("last publish = %+v, want %+v", last, offline)
	}
	if sess.disconnects.Load() != 1 {
		t.Errorf("Disconnect called %d times, want 1", sess.disconnects.Load())
	}
	if st.BrokerOnline() {
		t.Error("still online after shutdown")
	}
}

func TestMQTTOffDisconnectsGracefully(t *testing.T) {
	st := state.New(-24, 24, state.Flags{BrokerEnabled: true})
	b := New(Options{BaseTopic: "x"}, st, status.New(io.Discard, nil))
	pub := &fakePublisher{}
	sess := &fakeSession{}
	b.dial = func() error {
		b.client = sess
		b.pub = pub
		return nil
	}

	done := make(chan struct{})
	go func() {
		b.Run()
		close(done)
	}()

	waitFor(t, "connect", st.BrokerOnline)
	st.SetBrokerEnabled(false)
	waitFor(t, "disconnect", func() bool { return sess.disconnects.Load() == 1 })

	msgs := pub.all()
	if last := msgs[len(msgs)-1]; last != (message{b.topics.Availability, true, Offline}) {
		t.Errorf("last publish = %+v", last)
	}
	if st.BrokerOnline() {
		t.Error("online while disabled")
	}

	st.RequestExit()
	<-done
	if sess.disconnects.Load() != 1 {
		t.Errorf("disconnected %d times", sess.disconnects.Load())
	}
}

func TestAwaitGivesUpOnExit(t *testing.T) {
	st := state.New(-24, 24, state.Flags{})
	b := New(Options{BaseTopic: "x"}, st, status.New(io.Discard, nil))

	if err := b.await(pendingToken{}, 2*LoopDelay); err != errTimeout {
		t.Errorf("await = %v, want timeout", err)
	}

	st.RequestExit()
	start := time.Now()
	if err := b.await(pendingToken{}, ConnectTimeout); err != errExiting {
		t.Errorf("await = %v, want exiting", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("await blocked %s after exit was requested", waited)
	}
}
