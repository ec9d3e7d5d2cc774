package transpose

import "strconv"

// Channel voice status nibbles
const (
	NoteOff   uint8 = 0x80
	NoteOn    uint8 = 0x90
	PitchBend uint8 = 0xE0
)

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Apply returns msg with its note number shifted by semitones.
// Only note-on and note-off carry a note number; everything else is returned as is.
// The input slice is never modified.
func Apply(msg []byte, semitones int) []byte {
	out := make([]byte, len(msg))
	copy(out, msg)

	if len(out) < 2 {
		return out
	}

	switch out[0] & 0xF0 {
	case NoteOn, NoteOff:
		out[1] = uint8(Clamp(int(out[1])+semitones, 0, 127))
	}
	return out
}

// Clamp limits v to [lo, hi]
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NoteName returns the chromatic name with octave, e.g. 60 -> "C4", 61 -> "C#4"
func NoteName(note uint8) string {
	if note > 127 {
		return "INVALID"
	}
	octave := int(note)/12 - 1
	return noteNames[note%12] + strconv.Itoa(octave)
}
