// Package reassembler turns a stream of raw TCP segments into a sequence of
// complete BinaryChunk frames, buffering whatever is incomplete so far the
// way an incremental staging buffer drains only the bytes it can account for.
package reassembler

import (
	"github.com/nishisan-dev/tzdebug/internal/protocol"
)

// Reassembler accumulates raw bytes for one direction of one connection and
// detaches complete BinaryChunk frames as they become available. It never
// drops or reorders bytes: TCP already guarantees in-order delivery within a
// direction, so reassembly here is purely about length-prefix framing across
// segment boundaries.
type Reassembler struct {
	buf []byte
}

// New creates an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{}
}

// Feed appends newly observed bytes to the internal buffer.
func (r *Reassembler) Feed(b []byte) {
	r.buf = append(r.buf, b...)
}

// Next detaches and returns the next complete BinaryChunk, if one is fully
// buffered. ok is false (with a nil error) when more bytes are needed; the
// internal buffer is left untouched in that case so a subsequent Feed can
// complete the frame. A non-nil error means the buffered length header is
// unsatisfiable (declares a payload larger than the protocol maximum) and the
// connection this reassembler belongs to should be treated as no longer
// decodable.
func (r *Reassembler) Next() (chunk protocol.BinaryChunk, ok bool, err error) {
	chunk, ok, err = protocol.ParseChunk(r.buf)
	if err != nil || !ok {
		return protocol.BinaryChunk{}, false, err
	}
	r.buf = r.buf[chunk.Len():]
	return chunk, true, nil
}

// Pending reports how many bytes are currently buffered and not yet part of
// a detached chunk.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}
