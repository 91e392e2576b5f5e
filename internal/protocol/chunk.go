// Package protocol implements the on-wire framing and message types observed
// on a P2P connection: the BinaryChunk length-prefixed frame, the plaintext
// ConnectionMessage exchanged during the handshake, and the decoded message
// types carried inside encrypted chunks once a connection has upgraded.
package protocol

import (
	"encoding/binary"
	"errors"
)

// MaxChunkPayload is the largest payload a BinaryChunk can carry: the u16
// length field's ceiling.
const MaxChunkPayload = 0xFFFF

// Protocol-level errors, surfaced by the framing and decode layers and
// mapped to ParserState transitions by the connection package.
var (
	ErrTruncatedFrame  = errors.New("protocol: truncated frame")
	ErrChunkTooLarge   = errors.New("protocol: declared chunk length exceeds maximum")
	ErrNotHandshake    = errors.New("protocol: payload is not a connection message")
	ErrShortConnection = errors.New("protocol: connection message too short")
)

// BinaryChunk is one length-prefixed frame: a u16-be length header followed
// by exactly that many content bytes.
type BinaryChunk struct {
	raw []byte // the full frame, header included
}

// FromContent builds a BinaryChunk around content, writing its own length
// header. Tests use it to frame fixture payloads; the handshake observer
// keeps the chunk parsed from the wire instead.
func FromContent(content []byte) (BinaryChunk, error) {
	if len(content) > MaxChunkPayload {
		return BinaryChunk{}, ErrChunkTooLarge
	}
	raw := make([]byte, 2+len(content))
	binary.BigEndian.PutUint16(raw[0:2], uint16(len(content)))
	copy(raw[2:], content)
	return BinaryChunk{raw: raw}, nil
}

// ParseChunk reads one complete BinaryChunk from the front of buf. It returns
// ok=false (not an error) if buf does not yet contain a full frame.
func ParseChunk(buf []byte) (chunk BinaryChunk, ok bool, err error) {
	if len(buf) < 2 {
		return BinaryChunk{}, false, nil
	}
	length := int(binary.BigEndian.Uint16(buf[0:2]))
	if length > MaxChunkPayload {
		return BinaryChunk{}, false, ErrChunkTooLarge
	}
	if len(buf) < 2+length {
		return BinaryChunk{}, false, nil
	}
	raw := make([]byte, 2+length)
	copy(raw, buf[:2+length])
	return BinaryChunk{raw: raw}, true, nil
}

// Len returns the total frame size, header included.
func (c BinaryChunk) Len() int { return len(c.raw) }

// Raw returns the full frame, header included — the bytes that fed nonce
// generation during the handshake.
func (c BinaryChunk) Raw() []byte { return c.raw }

// Content returns the frame's payload, header stripped.
func (c BinaryChunk) Content() []byte { return c.raw[2:] }
