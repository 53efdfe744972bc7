package ndgr

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

// Comment is one normalized user-visible comment.
//
// Position, Size and Font are the lowercase wire names; AccountStatus and
// Opacity keep their palette form ("Standard"/"Premium",
// "Normal"/"Translucent"). Vpos is hundredths of a second relative to the
// program's vpos base time; No is best-effort and not unique.
type Comment struct {
	ID            string
	At            time.Time
	LiveID        int64
	RawUserID     int64 // 0 means anonymized; only HashedUserID is meaningful then
	HashedUserID  string
	AccountStatus string
	No            int
	Vpos          int
	Position      string
	Size          string
	Color         Color
	Font          string
	Opacity       string
	Content       string
}

// Anonymous reports whether the commenter is anonymized.
func (c Comment) Anonymous() bool { return c.RawUserID == 0 }

// Color is either a named palette value or a 24-bit RGB triple. The zero
// value renders as "white".
type Color struct {
	Name string
	Full *FullColor
}

// FullColor is a 24-bit RGB triple.
type FullColor struct {
	R, G, B uint8
}

// String renders the palette literal, or #RRGGBB for a full color.
func (c Color) String() string {
	if c.Full != nil {
		return fmt.Sprintf("#%02X%02X%02X", c.Full.R, c.Full.G, c.Full.B)
	}
	if c.Name == "" {
		return "white"
	}
	return c.Name
}

// IsDefault reports whether the color is the default white.
func (c Color) IsDefault() bool {
	return c.Full == nil && (c.Name == "" || c.Name == "white")
}

// ParseColor inverts Color.String: a #RRGGBB literal or a palette name.
func ParseColor(s string) (Color, error) {
	if len(s) == 7 && s[0] == '#' {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return Color{}, fmt.Errorf("ndgr: malformed color literal %q", s)
		}
		return Color{Full: &FullColor{
			R: uint8(v >> 16),
			G: uint8(v >> 8),
			B: uint8(v),
		}}, nil
	}
	if _, err := protocol.ParseColorName(s); err != nil {
		return Color{}, fmt.Errorf("ndgr: unknown color %q", s)
	}
	return Color{Name: s}, nil
}
