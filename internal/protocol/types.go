// Package protocol defines the NDGR wire shapes and their binary codec.
//
// The fabric serves three protobuf payloads: ChunkedEntry records on the
// view stream, ChunkedMessage records on segment streams, and a single
// PackedSegment message per backward batch. The schema here is a thin,
// hand-maintained mirror of the server's; decoding is done directly with
// protowire so the client does not carry generated bindings for a schema
// it reads only a handful of fields from.
package protocol

import (
	"fmt"
	"time"
)

// Timestamp is a seconds+nanos instant, wire-compatible with
// google.protobuf.Timestamp.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// Time converts to a time.Time in the local zone.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos))
}

// ChunkedEntry is one record of the view stream. Exactly one of the entry
// fields is set per record; records with none of the known variants are
// ignored by callers.
type ChunkedEntry struct {
	Backward *BackwardSegment
	Previous *MessageSegment
	Segment  *MessageSegment
	Next     *ReadyForNext
}

// MessageSegment advertises one live segment stream. From may lie up to
// eight seconds in the future; Until-From is nominally sixteen seconds.
type MessageSegment struct {
	From  *Timestamp
	Until *Timestamp
	URI   string
}

// ReadyForNext carries the at= timestamp for the next view slice.
type ReadyForNext struct {
	At int64
}

// BackwardSegment points at the most recent packed history batch.
type BackwardSegment struct {
	Until   *Timestamp
	Segment *SegmentRef
}

// SegmentRef is a bare URI reference to a packed segment.
type SegmentRef struct {
	URI string
}

// ChunkedMessage is one record of a segment stream. Only records with both
// Meta and Message set carry a user-visible comment.
type ChunkedMessage struct {
	Meta    *Meta
	Message *Message
}

// Meta identifies a message and its emission instant.
type Meta struct {
	ID     string
	At     *Timestamp
	Origin *Origin
}

// Origin names the live program a message belongs to.
type Origin struct {
	Chat *ChatOrigin
}

// ChatOrigin carries the numeric live id.
type ChatOrigin struct {
	LiveID int64
}

// Message is the payload union of a ChunkedMessage. Chat and OverflowedChat
// share one shape; every other variant is dropped during decode.
type Message struct {
	Chat           *Chat
	OverflowedChat *Chat
}

// Chat is a single comment as transmitted.
type Chat struct {
	Content       string
	Name          string
	Vpos          int32
	AccountStatus AccountStatus
	RawUserID     int64
	HashedUserID  string
	Modifier      *Modifier
	No            int32
}

// Modifier carries the rendering commands attached to a comment.
type Modifier struct {
	Position   Position
	Size       Size
	NamedColor *ColorName
	FullColor  *FullColor
	Font       Font
	Opacity    Opacity
}

// FullColor is a 24-bit RGB triple.
type FullColor struct {
	R, G, B uint32
}

// PackedSegment is one backward batch: messages sorted ascending by
// at-timestamp, plus an optional pointer to the next-older batch.
type PackedSegment struct {
	Messages []*ChunkedMessage
	Next     *SegmentRef
}

// AccountStatus distinguishes standard and premium accounts. String keeps
// the palette form used by the transcript surface.
type AccountStatus int32

const (
	AccountStandard AccountStatus = 0
	AccountPremium  AccountStatus = 1
)

func (a AccountStatus) String() string {
	if a == AccountPremium {
		return "Premium"
	}
	return "Standard"
}

// Position is the comment placement lane.
type Position int32

const (
	PositionNaka  Position = 0
	PositionShita Position = 1
	PositionUe    Position = 2
)

func (p Position) String() string {
	switch p {
	case PositionShita:
		return "shita"
	case PositionUe:
		return "ue"
	default:
		return "naka"
	}
}

// Size is the comment rendering size.
type Size int32

const (
	SizeMedium Size = 0
	SizeSmall  Size = 1
	SizeBig    Size = 2
)

func (s Size) String() string {
	switch s {
	case SizeSmall:
		return "small"
	case SizeBig:
		return "big"
	default:
		return "medium"
	}
}

// Font is the comment font family.
type Font int32

const (
	FontDefont Font = 0
	FontMincho Font = 1
	FontGothic Font = 2
)

func (f Font) String() string {
	switch f {
	case FontMincho:
		return "mincho"
	case FontGothic:
		return "gothic"
	default:
		return "defont"
	}
}

// Opacity keeps its palette form, matching the transcript surface.
type Opacity int32

const (
	OpacityNormal      Opacity = 0
	OpacityTranslucent Opacity = 1
)

func (o Opacity) String() string {
	if o == OpacityTranslucent {
		return "Translucent"
	}
	return "Normal"
}

// ColorName is the named comment palette.
type ColorName int32

const (
	ColorWhite ColorName = iota
	ColorRed
	ColorPink
	ColorOrange
	ColorYellow
	ColorGreen
	ColorCyan
	ColorBlue
	ColorPurple
	ColorBlack
	ColorWhite2
	ColorRed2
	ColorPink2
	ColorOrange2
	ColorYellow2
	ColorGreen2
	ColorCyan2
	ColorBlue2
	ColorPurple2
	ColorBlack2
)

var colorNames = [...]string{
	"white", "red", "pink", "orange", "yellow",
	"green", "cyan", "blue", "purple", "black",
	"white2", "red2", "pink2", "orange2", "yellow2",
	"green2", "cyan2", "blue2", "purple2", "black2",
}

func (c ColorName) String() string {
	if int(c) < 0 || int(c) >= len(colorNames) {
		return "white"
	}
	return colorNames[c]
}

// ParseColorName maps a lowercase palette literal back to its value.
func ParseColorName(s string) (ColorName, error) {
	for i, name := range colorNames {
		if name == s {
			return ColorName(i), nil
		}
	}
	return ColorWhite, fmt.Errorf("protocol: unknown color name %q", s)
}
