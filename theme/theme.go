package theme

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

type Theme struct {
	Palette *Palette
	Symbols Symbols
}

type Symbols struct {
	On   rune // ● flag enabled
	Off  rune // ○ flag disabled
	Up   rune // ▲ transposed up
	Down rune // ▼ transposed down
	Flat rune // ─ no transpose
}

func New(palette *Palette) *Theme {
	if palette == nil || len(palette.Colors) == 0 {
		palette = DefaultPalette()
	}
	return &Theme{
		Palette: palette,
		Symbols: Symbols{
			On:   '●',
			Off:  '○',
			Up:   '▲',
			Down: '▼',
			Flat: '─',
		},
	}
}

// Default returns the built-in theme
func Default() *Theme {
	return New(DefaultPalette())
}

// Load returns the theme for a .gpl palette path, or the default when path is empty
func Load(path string) (*Theme, error) {
	if path == "" {
		return Default(), nil
	}
	p, err := LoadGPL(path)
	if err != nil {
		return nil, err
	}
	return New(p), nil
}

// Color roles mapped to palette positions (0-1)
const (
	RoleBG      = 0.0
	RoleMuted   = 1.0 / 7
	RoleInfo    = 2.0 / 7
	RoleFG      = 3.0 / 7
	RoleAccent  = 4.0 / 7
	RoleSuccess = 5.0 / 7
	RoleWarning = 6.0 / 7
	RoleError   = 1.0
)

// Style helpers

func (t *Theme) FG() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleFG))
}

func (t *Theme) Accent() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleAccent))
}

func (t *Theme) Muted() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleMuted))
}

func (t *Theme) Info() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleInfo))
}

func (t *Theme) Warning() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleWarning))
}

func (t *Theme) Success() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleSuccess))
}

func (t *Theme) Error() lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(RoleError))
}

// Color returns lipgloss color for any normalized value 0-1
func (t *Theme) Color(norm float64) lipgloss.Color {
	return rgbToLipgloss(t.Palette.Lookup(norm))
}

// Flag renders an on/off marker
func (t *Theme) Flag(on bool) string {
	if on {
		return lipgloss.NewStyle().Foreground(t.Success()).Render(string(t.Symbols.On))
	}
	return lipgloss.NewStyle().Foreground(t.Muted()).Render(string(t.Symbols.Off))
}

// Direction returns the symbol for a transpose offset
func (t *Theme) Direction(semitones int) rune {
	switch {
	case semitones > 0:
		return t.Symbols.Up
	case semitones < 0:
		return t.Symbols.Down
	}
	return t.Symbols.Flat
}

func rgbToLipgloss(c RGB) lipgloss.Color {
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2]))
}
