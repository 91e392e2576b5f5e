// Package handshake reconstructs the shared key and starting nonces for a
// connection by observing the two plaintext ConnectionMessage frames each
// side exchanges exactly once.
package handshake

import (
	"errors"
	"fmt"
	"net"

	"github.com/nishisan-dev/tzdebug/internal/cryptobox"
	"github.com/nishisan-dev/tzdebug/internal/identity"
	"github.com/nishisan-dev/tzdebug/internal/protocol"
)

// ErrDuplicate is returned when the same side retransmits its connection
// message; the observer drops it silently rather than treating it as the
// second, complementary message.
var ErrDuplicate = errors.New("handshake: duplicate connection message from initiator")

type slot struct {
	addr net.Addr
	msg  protocol.ConnectionMessage
	raw  protocol.BinaryChunk
}

// Result is what a completed handshake yields: a precomputed shared key and
// the nonce each direction's decryptor should start from.
type Result struct {
	Key          cryptobox.PrecomputedKey
	IncomingInit protocol.Nonce
	OutgoingInit protocol.Nonce
}

// Observer watches one connection's first two plaintext frames and derives
// the shared key once both have arrived.
type Observer struct {
	localIP  net.IP
	identity identity.Identity

	first, second *slot
}

// New creates an Observer for one connection.
func New(localIP net.IP, id identity.Identity) *Observer {
	return &Observer{localIP: localIP, identity: id}
}

// Observe processes one plaintext packet believed to carry a
// ConnectionMessage. src is the packet's source address. It returns the
// decoded message (so the caller can submit it to storage) and, once both
// sides have been observed, a non-nil Result.
func (o *Observer) Observe(src net.Addr, payload []byte) (*protocol.ConnectionMessage, *Result, error) {
	chunk, ok, err := protocol.ParseChunk(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing handshake chunk: %w", err)
	}
	if !ok {
		return nil, nil, protocol.ErrTruncatedFrame
	}
	msg, err := protocol.DecodeConnectionMessage(chunk.Content())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", protocol.ErrNotHandshake, err)
	}

	if o.first == nil {
		o.first = &slot{addr: src, msg: msg, raw: chunk}
		return &msg, nil, nil
	}

	if sameHost(o.first.addr, src) {
		return nil, nil, ErrDuplicate
	}

	o.second = &slot{addr: src, msg: msg, raw: chunk}
	result, err := o.derive()
	if err != nil {
		return &msg, nil, err
	}
	return &msg, result, nil
}

// Initialized reports whether both connection messages have been observed
// and a shared key successfully derived.
func (o *Observer) Initialized() bool {
	return o.first != nil && o.second != nil
}

// derive implements the upgrade step: determine which message this host
// sent and which it received, re-derive the nonce pair from their raw wire
// bytes, and precompute the shared key from the peer's public key and this
// node's secret key.
func (o *Observer) derive() (*Result, error) {
	incoming := !o.first.addr.(*net.TCPAddr).IP.Equal(o.localIP)

	var sent, recv *slot
	if incoming {
		sent, recv = o.second, o.first
	} else {
		sent, recv = o.first, o.second
	}

	localNonce, remoteNonce := protocol.GenerateNonces(sent.raw.Raw(), recv.raw.Raw(), incoming)

	key := cryptobox.Precompute(recv.msg.PublicKey, o.identity.SecretKey)

	return &Result{
		Key:          key,
		IncomingInit: localNonce,
		OutgoingInit: remoteNonce,
	}, nil
}

func sameHost(a, b net.Addr) bool {
	ta, ok1 := a.(*net.TCPAddr)
	tb, ok2 := b.(*net.TCPAddr)
	if !ok1 || !ok2 {
		return a.String() == b.String()
	}
	return ta.IP.Equal(tb.IP) && ta.Port == tb.Port
}
