package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Encoders for the wire shapes. The client itself only reads, but the codec
// stays symmetric so stream fixtures in tests (and any future posting
// surface) are produced by the same field table the decoder consumes.

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func appendTimestamp(b []byte, num protowire.Number, ts *Timestamp) []byte {
	if ts == nil {
		return b
	}
	var body []byte
	if ts.Seconds != 0 {
		body = protowire.AppendTag(body, timestampFieldSeconds, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(ts.Seconds))
	}
	if ts.Nanos != 0 {
		body = protowire.AppendTag(body, timestampFieldNanos, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(ts.Nanos))
	}
	return appendMessage(b, num, body)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// MarshalChunkedEntry encodes a view-stream record.
func MarshalChunkedEntry(e *ChunkedEntry) []byte {
	var b []byte
	if e.Backward != nil {
		b = appendMessage(b, entryFieldBackward, marshalBackwardSegment(e.Backward))
	}
	if e.Previous != nil {
		b = appendMessage(b, entryFieldPrevious, marshalMessageSegment(e.Previous))
	}
	if e.Segment != nil {
		b = appendMessage(b, entryFieldSegment, marshalMessageSegment(e.Segment))
	}
	if e.Next != nil {
		var body []byte
		body = appendVarintField(body, readyFieldAt, uint64(e.Next.At))
		b = appendMessage(b, entryFieldNext, body)
	}
	return b
}

func marshalMessageSegment(seg *MessageSegment) []byte {
	var b []byte
	b = appendTimestamp(b, segmentFieldFrom, seg.From)
	b = appendTimestamp(b, segmentFieldUntil, seg.Until)
	b = appendString(b, segmentFieldURI, seg.URI)
	return b
}

func marshalBackwardSegment(bw *BackwardSegment) []byte {
	var b []byte
	b = appendTimestamp(b, backwardFieldUntil, bw.Until)
	if bw.Segment != nil {
		b = appendMessage(b, backwardFieldSegment, appendString(nil, refFieldURI, bw.Segment.URI))
	}
	return b
}

// MarshalChunkedMessage encodes a segment-stream record.
func MarshalChunkedMessage(m *ChunkedMessage) []byte {
	var b []byte
	if m.Meta != nil {
		b = appendMessage(b, messageFieldMeta, marshalMeta(m.Meta))
	}
	if m.Message != nil {
		b = appendMessage(b, messageFieldPayload, marshalPayload(m.Message))
	}
	return b
}

func marshalMeta(meta *Meta) []byte {
	var b []byte
	b = appendString(b, metaFieldID, meta.ID)
	b = appendTimestamp(b, metaFieldAt, meta.At)
	if meta.Origin != nil && meta.Origin.Chat != nil {
		chat := appendVarintField(nil, chatOriginFieldLiveID, uint64(meta.Origin.Chat.LiveID))
		b = appendMessage(b, metaFieldOrigin, appendMessage(nil, originFieldChat, chat))
	}
	return b
}

func marshalPayload(p *Message) []byte {
	var b []byte
	if p.Chat != nil {
		b = appendMessage(b, payloadFieldChat, marshalChat(p.Chat))
	}
	if p.OverflowedChat != nil {
		b = appendMessage(b, payloadFieldOverflowedChat, marshalChat(p.OverflowedChat))
	}
	return b
}

func marshalChat(c *Chat) []byte {
	var b []byte
	b = appendString(b, chatFieldContent, c.Content)
	b = appendString(b, chatFieldName, c.Name)
	b = appendVarintField(b, chatFieldVpos, uint64(c.Vpos))
	b = appendVarintField(b, chatFieldAccountStatus, uint64(c.AccountStatus))
	b = appendVarintField(b, chatFieldRawUserID, uint64(c.RawUserID))
	b = appendString(b, chatFieldHashedUserID, c.HashedUserID)
	if c.Modifier != nil {
		b = appendMessage(b, chatFieldModifier, marshalModifier(c.Modifier))
	}
	b = appendVarintField(b, chatFieldNo, uint64(c.No))
	return b
}

func marshalModifier(m *Modifier) []byte {
	var b []byte
	b = appendVarintField(b, modifierFieldPosition, uint64(m.Position))
	b = appendVarintField(b, modifierFieldSize, uint64(m.Size))
	if m.NamedColor != nil {
		b = protowire.AppendTag(b, modifierFieldNamedColor, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*m.NamedColor))
	}
	if m.FullColor != nil {
		var body []byte
		body = appendVarintField(body, colorFieldR, uint64(m.FullColor.R))
		body = appendVarintField(body, colorFieldG, uint64(m.FullColor.G))
		body = appendVarintField(body, colorFieldB, uint64(m.FullColor.B))
		b = appendMessage(b, modifierFieldFullColor, body)
	}
	b = appendVarintField(b, modifierFieldFont, uint64(m.Font))
	b = appendVarintField(b, modifierFieldOpacity, uint64(m.Opacity))
	return b
}

// MarshalPackedSegment encodes one backward batch.
func MarshalPackedSegment(p *PackedSegment) []byte {
	var b []byte
	for _, msg := range p.Messages {
		b = appendMessage(b, packedFieldMessages, MarshalChunkedMessage(msg))
	}
	if p.Next != nil {
		b = appendMessage(b, packedFieldNext, appendString(nil, refFieldURI, p.Next.URI))
	}
	return b
}
