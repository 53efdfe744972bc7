package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers. These mirror the server schema; decode and encode
// share them so test fixtures stay honest.
const (
	entryFieldBackward = 1
	entryFieldPrevious = 2
	entryFieldSegment  = 3
	entryFieldNext     = 4

	segmentFieldFrom  = 1
	segmentFieldUntil = 2
	segmentFieldURI   = 3

	readyFieldAt = 1

	backwardFieldUntil   = 1
	backwardFieldSegment = 2

	refFieldURI = 1

	messageFieldMeta    = 1
	messageFieldPayload = 2

	metaFieldID     = 1
	metaFieldAt     = 2
	metaFieldOrigin = 3

	originFieldChat = 1

	chatOriginFieldLiveID = 1

	payloadFieldChat           = 1
	payloadFieldOverflowedChat = 7

	chatFieldContent       = 1
	chatFieldName          = 2
	chatFieldVpos          = 3
	chatFieldAccountStatus = 4
	chatFieldRawUserID     = 5
	chatFieldHashedUserID  = 6
	chatFieldModifier      = 8
	chatFieldNo            = 10

	modifierFieldPosition   = 1
	modifierFieldSize       = 2
	modifierFieldNamedColor = 3
	modifierFieldFullColor  = 4
	modifierFieldFont       = 5
	modifierFieldOpacity    = 6

	colorFieldR = 1
	colorFieldG = 2
	colorFieldB = 3

	timestampFieldSeconds = 1
	timestampFieldNanos   = 2

	packedFieldMessages = 1
	packedFieldNext     = 2
)

// fieldFunc consumes the value of one field. b is positioned after the tag.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walk iterates the fields of one message, dispatching known fields to fn
// and skipping the rest. fn returns (-1, nil) to decline a field.
func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("protocol: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("protocol: malformed field %d: %w", num, protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("protocol: malformed length-delimited field: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("protocol: malformed varint field: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

// DecodeChunkedEntry parses one view-stream record.
func DecodeChunkedEntry(b []byte) (*ChunkedEntry, error) {
	e := &ChunkedEntry{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		switch num {
		case entryFieldBackward:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			bw, err := decodeBackwardSegment(v)
			if err != nil {
				return 0, err
			}
			e.Backward = bw
			return n, nil
		case entryFieldPrevious, entryFieldSegment:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			seg, err := decodeMessageSegment(v)
			if err != nil {
				return 0, err
			}
			if num == entryFieldSegment {
				e.Segment = seg
			} else {
				e.Previous = seg
			}
			return n, nil
		case entryFieldNext:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			next := &ReadyForNext{}
			if err := walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == readyFieldAt && typ == protowire.VarintType {
					u, n, err := consumeVarint(b)
					if err != nil {
						return 0, err
					}
					next.At = int64(u)
					return n, nil
				}
				return -1, nil
			}); err != nil {
				return 0, err
			}
			e.Next = next
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func decodeMessageSegment(b []byte) (*MessageSegment, error) {
	seg := &MessageSegment{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		v, n, err := consumeBytes(b)
		if err != nil {
			return 0, err
		}
		switch num {
		case segmentFieldFrom, segmentFieldUntil:
			ts, err := decodeTimestamp(v)
			if err != nil {
				return 0, err
			}
			if num == segmentFieldFrom {
				seg.From = ts
			} else {
				seg.Until = ts
			}
		case segmentFieldURI:
			seg.URI = string(v)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return seg, nil
}

func decodeBackwardSegment(b []byte) (*BackwardSegment, error) {
	bw := &BackwardSegment{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		v, n, err := consumeBytes(b)
		if err != nil {
			return 0, err
		}
		switch num {
		case backwardFieldUntil:
			ts, err := decodeTimestamp(v)
			if err != nil {
				return 0, err
			}
			bw.Until = ts
		case backwardFieldSegment:
			ref, err := decodeSegmentRef(v)
			if err != nil {
				return 0, err
			}
			bw.Segment = ref
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return bw, nil
}

func decodeSegmentRef(b []byte) (*SegmentRef, error) {
	ref := &SegmentRef{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == refFieldURI && typ == protowire.BytesType {
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			ref.URI = string(v)
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func decodeTimestamp(b []byte) (*Timestamp, error) {
	ts := &Timestamp{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType {
			return -1, nil
		}
		u, n, err := consumeVarint(b)
		if err != nil {
			return 0, err
		}
		switch num {
		case timestampFieldSeconds:
			ts.Seconds = int64(u)
		case timestampFieldNanos:
			ts.Nanos = int32(u)
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// DecodeChunkedMessage parses one segment-stream record.
func DecodeChunkedMessage(b []byte) (*ChunkedMessage, error) {
	msg := &ChunkedMessage{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		switch num {
		case messageFieldMeta:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			meta, err := decodeMeta(v)
			if err != nil {
				return 0, err
			}
			msg.Meta = meta
			return n, nil
		case messageFieldPayload:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			payload, err := decodePayload(v)
			if err != nil {
				return 0, err
			}
			msg.Message = payload
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeMeta(b []byte) (*Meta, error) {
	meta := &Meta{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		v, n, err := consumeBytes(b)
		if err != nil {
			return 0, err
		}
		switch num {
		case metaFieldID:
			meta.ID = string(v)
		case metaFieldAt:
			ts, err := decodeTimestamp(v)
			if err != nil {
				return 0, err
			}
			meta.At = ts
		case metaFieldOrigin:
			origin, err := decodeOrigin(v)
			if err != nil {
				return 0, err
			}
			meta.Origin = origin
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func decodeOrigin(b []byte) (*Origin, error) {
	origin := &Origin{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == originFieldChat && typ == protowire.BytesType {
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			co := &ChatOrigin{}
			if err := walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if num == chatOriginFieldLiveID && typ == protowire.VarintType {
					u, n, err := consumeVarint(b)
					if err != nil {
						return 0, err
					}
					co.LiveID = int64(u)
					return n, nil
				}
				return -1, nil
			}); err != nil {
				return 0, err
			}
			origin.Chat = co
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return origin, nil
}

func decodePayload(b []byte) (*Message, error) {
	payload := &Message{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		switch num {
		case payloadFieldChat, payloadFieldOverflowedChat:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			chat, err := decodeChat(v)
			if err != nil {
				return 0, err
			}
			if num == payloadFieldChat {
				payload.Chat = chat
			} else {
				payload.OverflowedChat = chat
			}
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func decodeChat(b []byte) (*Chat, error) {
	chat := &Chat{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case chatFieldContent, chatFieldName, chatFieldHashedUserID, chatFieldModifier:
			if typ != protowire.BytesType {
				return -1, nil
			}
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			switch num {
			case chatFieldContent:
				chat.Content = string(v)
			case chatFieldName:
				chat.Name = string(v)
			case chatFieldHashedUserID:
				chat.HashedUserID = string(v)
			case chatFieldModifier:
				mod, err := decodeModifier(v)
				if err != nil {
					return 0, err
				}
				chat.Modifier = mod
			}
			return n, nil
		case chatFieldVpos, chatFieldAccountStatus, chatFieldRawUserID, chatFieldNo:
			if typ != protowire.VarintType {
				return -1, nil
			}
			u, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			switch num {
			case chatFieldVpos:
				chat.Vpos = int32(u)
			case chatFieldAccountStatus:
				chat.AccountStatus = AccountStatus(u)
			case chatFieldRawUserID:
				chat.RawUserID = int64(u)
			case chatFieldNo:
				chat.No = int32(u)
			}
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func decodeModifier(b []byte) (*Modifier, error) {
	mod := &Modifier{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case modifierFieldFullColor:
			if typ != protowire.BytesType {
				return -1, nil
			}
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			fc := &FullColor{}
			if err := walk(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if typ != protowire.VarintType {
					return -1, nil
				}
				u, n, err := consumeVarint(b)
				if err != nil {
					return 0, err
				}
				switch num {
				case colorFieldR:
					fc.R = uint32(u)
				case colorFieldG:
					fc.G = uint32(u)
				case colorFieldB:
					fc.B = uint32(u)
				}
				return n, nil
			}); err != nil {
				return 0, err
			}
			mod.FullColor = fc
			return n, nil
		case modifierFieldPosition, modifierFieldSize, modifierFieldNamedColor, modifierFieldFont, modifierFieldOpacity:
			if typ != protowire.VarintType {
				return -1, nil
			}
			u, n, err := consumeVarint(b)
			if err != nil {
				return 0, err
			}
			switch num {
			case modifierFieldPosition:
				mod.Position = Position(u)
			case modifierFieldSize:
				mod.Size = Size(u)
			case modifierFieldNamedColor:
				c := ColorName(u)
				mod.NamedColor = &c
			case modifierFieldFont:
				mod.Font = Font(u)
			case modifierFieldOpacity:
				mod.Opacity = Opacity(u)
			}
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return mod, nil
}

// DecodePackedSegment parses one backward batch.
func DecodePackedSegment(b []byte) (*PackedSegment, error) {
	packed := &PackedSegment{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		switch num {
		case packedFieldMessages:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			msg, err := DecodeChunkedMessage(v)
			if err != nil {
				return 0, err
			}
			packed.Messages = append(packed.Messages, msg)
			return n, nil
		case packedFieldNext:
			v, n, err := consumeBytes(b)
			if err != nil {
				return 0, err
			}
			ref, err := decodeSegmentRef(v)
			if err != nil {
				return 0, err
			}
			packed.Next = ref
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return packed, nil
}
