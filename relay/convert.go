package relay

import (
	"math"
	"strings"

	"github.com/hypebeast/go-osc/osc"

	"transposer/transpose"
)

// Avatar parameter addresses
const (
	AddressPrefix    = "/avatar/parameters/"
	AddressPitchUp   = AddressPrefix + "PitchUp"
	AddressPitchDown = AddressPrefix + "PitchDown"
)

// ParameterName returns the OSC-safe note name; '#' is not allowed in
// avatar parameter names, so G#3 becomes GSHARP3
func ParameterName(note uint8) string {
	return strings.ReplaceAll(transpose.NoteName(note), "#", "SHARP")
}

// PitchBendValue decodes a 14-bit bend to [-1, 1] rounded to one decimal
func PitchBendValue(lsb, msb uint8) float32 {
	raw := int(msb)*128 + int(lsb) - 8192
	v := float64(raw) / 8192
	v = math.Max(-1, math.Min(1, v))
	return float32(math.Round(v*10) / 10)
}

// Converter turns raw MIDI into avatar parameter messages and remembers
// which notes are held
type Converter struct {
	keys map[string]bool
}

// NewConverter creates a converter with all notes up
func NewConverter() *Converter {
	return &Converter{keys: make(map[string]bool)}
}

// Down reports whether the note name was last sent as pressed
func (c *Converter) Down(name string) bool {
	return c.keys[name]
}

// Convert returns the message for msg, or nil if nothing should be sent.
// Missing data bytes read as zero.
func (c *Converter) Convert(msg []byte) *osc.Message {
	if len(msg) == 0 {
		return nil
	}

	status := msg[0]
	data1, data2 := byteAt(msg, 1), byteAt(msg, 2)
	if data1 > 127 {
		return nil
	}

	switch status & 0xF0 {
	case transpose.NoteOn:
		// velocity 0 is a note-off
		return c.note(data1, data2 > 0)

	case transpose.NoteOff:
		return c.note(data1, false)

	case transpose.PitchBend:
		v := PitchBendValue(data1, data2)
		switch {
		case v > 0:
			return osc.NewMessage(AddressPitchUp, v)
		case v < 0:
			return osc.NewMessage(AddressPitchDown, -v)
		}
	}
	return nil
}

func (c *Converter) note(note uint8, down bool) *osc.Message {
	name := transpose.NoteName(note)
	c.keys[name] = down

	var value int32
	if down {
		value = 1
	}
	return osc.NewMessage(AddressPrefix+ParameterName(note), value)
}

func byteAt(msg []byte, i int) uint8 {
	if i < len(msg) {
		return msg[i]
	}
	return 0
}
