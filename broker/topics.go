package broker

import (
	"math"
	"strconv"
	"strings"
)

// Topics are the full topic names below one base topic
type Topics struct {
	TransposeSet   string
	TransposeUp    string
	TransposeDown  string
	TransposeState string
	Availability   string

	OSCEnabledSet     string
	OSCEnabledState   string
	SendOriginalSet   string
	SendOriginalState string

	DebugSet   string
	DebugState string
}

// NewTopics builds the topic set for base (a trailing '/' is ignored)
func NewTopics(base string) Topics {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	return Topics{
		TransposeSet:   base + "/transpose",
		TransposeUp:    base + "/transposeUp",
		TransposeDown:  base + "/transposeDown",
		TransposeState: base + "/state/transpose",
		Availability:   base + "/availability",

		OSCEnabledSet:     base + "/osc/sendingEnabled",
		OSCEnabledState:   base + "/state/osc/sendingEnabled",
		SendOriginalSet:   base + "/osc/sendOriginal",
		SendOriginalState: base + "/state/osc/sendOriginal",

		DebugSet:   base + "/debug/enabled",
		DebugState: base + "/state/debug/enabled",
	}
}

// Commands returns the topics the bridge subscribes to
func (t Topics) Commands() []string {
	return []string{
		t.TransposeSet,
		t.TransposeUp,
		t.TransposeDown,
		t.OSCEnabledSet,
		t.SendOriginalSet,
		t.DebugSet,
	}
}

// Availability payloads
const (
	Online  = "online"
	Offline = "offline"
)

// ParseTranspose reads an integer payload, or a float rounded to nearest
func ParseTranspose(payload []byte) (int, bool) {
	s := strings.TrimSpace(string(payload))
	if v, err := strconv.Atoi(s); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Max(math.MinInt32, math.Min(math.MaxInt32, math.Round(f)))
	return int(f), true
}

// Truthy reports whether payload is 1, true or on (case-insensitive)
func Truthy(payload []byte) bool {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "1", "true", "on":
		return true
	}
	return false
}

func flagPayload(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
