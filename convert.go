package ndgr

import (
	"github.com/Kocoro-lab/ndgr/internal/metrics"
	"github.com/Kocoro-lab/ndgr/internal/protocol"
)

// commentFromWire normalizes one ChunkedMessage into a Comment. Messages
// that are not user comments (state changes, operator payloads, anything
// without a chat body) return ok=false and are counted as dropped, never
// surfaced as errors: unknown payloads are expected on a live fabric.
func commentFromWire(msg *protocol.ChunkedMessage) (Comment, bool) {
	drop := func() (Comment, bool) {
		metrics.CommentsDropped.Inc()
		return Comment{}, false
	}

	if msg == nil || msg.Meta == nil || msg.Meta.ID == "" || msg.Meta.At == nil {
		return drop()
	}
	if msg.Meta.Origin == nil || msg.Meta.Origin.Chat == nil {
		return drop()
	}
	if msg.Message == nil {
		return drop()
	}
	chat := msg.Message.Chat
	if chat == nil {
		chat = msg.Message.OverflowedChat
	}
	if chat == nil || chat.Modifier == nil {
		return drop()
	}
	mod := chat.Modifier

	color := Color{}
	switch {
	case mod.FullColor != nil:
		color.Full = &FullColor{
			R: uint8(mod.FullColor.R),
			G: uint8(mod.FullColor.G),
			B: uint8(mod.FullColor.B),
		}
	case mod.NamedColor != nil:
		color.Name = mod.NamedColor.String()
	default:
		color.Name = "white"
	}

	return Comment{
		ID:            msg.Meta.ID,
		At:            msg.Meta.At.Time(),
		LiveID:        msg.Meta.Origin.Chat.LiveID,
		RawUserID:     chat.RawUserID,
		HashedUserID:  chat.HashedUserID,
		AccountStatus: chat.AccountStatus.String(),
		No:            int(chat.No),
		Vpos:          int(chat.Vpos),
		Position:      mod.Position.String(),
		Size:          mod.Size.String(),
		Color:         color,
		Font:          mod.Font.String(),
		Opacity:       mod.Opacity.String(),
		Content:       chat.Content,
	}, true
}
