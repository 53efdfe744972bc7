// Package protostream decodes the length-prefixed protobuf framing used by
// the NDGR comment fabric. Each frame is a base-128 varint payload length
// followed by that many payload bytes; there is no envelope or terminator.
package protostream

import (
	"errors"
	"fmt"
)

const (
	// maxVarintLen is the longest valid length prefix (64-bit varint).
	maxVarintLen = 10

	// DefaultMaxMessageSize bounds a single frame. The view and segment
	// streams carry messages in the low-kilobyte range; anything near this
	// limit is corruption, not data.
	DefaultMaxMessageSize = 16 << 20
)

// ErrVarintOverflow is returned when the length prefix is not a valid
// 64-bit varint. The stream cannot be resynchronized after this.
var ErrVarintOverflow = errors.New("protostream: length prefix overflows varint")

// Reader accumulates arbitrarily sized byte chunks and yields whole frames.
//
// It is not safe for concurrent use; each stream owns its own Reader.
type Reader struct {
	buf []byte
	max int
}

// NewReader returns a Reader with the default max message size.
func NewReader() *Reader {
	return &Reader{max: DefaultMaxMessageSize}
}

// NewReaderSize returns a Reader that rejects frames larger than max bytes.
func NewReaderSize(max int) *Reader {
	if max <= 0 {
		max = DefaultMaxMessageSize
	}
	return &Reader{max: max}
}

// Append adds a chunk to the internal buffer.
func (r *Reader) Append(p []byte) {
	r.buf = append(r.buf, p...)
}

// Buffered reports how many bytes are pending in the internal buffer.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// Extract returns the next whole frame payload, or (nil, nil) when the
// buffer holds only a partial frame. The buffer is advanced exactly once
// per successful extraction. A malformed or oversized length prefix is
// fatal for the stream.
func (r *Reader) Extract() ([]byte, error) {
	length, n, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Partial length prefix; wait for more bytes.
		return nil, nil
	}
	if length > uint64(r.max) {
		return nil, fmt.Errorf("protostream: frame of %d bytes exceeds limit %d", length, r.max)
	}
	if uint64(len(r.buf)-n) < length {
		// Prefix decoded but payload incomplete. Consume nothing.
		return nil, nil
	}
	msg := make([]byte, length)
	copy(msg, r.buf[n:n+int(length)])
	r.buf = r.buf[n+int(length):]
	return msg, nil
}

// readVarint decodes the length prefix without consuming it. n == 0 means
// the buffer ends mid-prefix.
func (r *Reader) readVarint() (value uint64, n int, err error) {
	var shift uint
	for i := 0; ; i++ {
		if i >= len(r.buf) {
			return 0, 0, nil
		}
		if i >= maxVarintLen {
			return 0, 0, ErrVarintOverflow
		}
		b := r.buf[i]
		if i == maxVarintLen-1 && b > 1 {
			// Tenth byte may only contribute the 64th bit.
			return 0, 0, ErrVarintOverflow
		}
		value |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
}
