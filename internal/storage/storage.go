// Package storage defines the sink that receives decoded P2P traffic and
// deciphered-byte statistics, and provides two implementations: an in-memory
// sink for tests and demo runs, and a durable sink backed by pebble.
package storage

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/nishisan-dev/tzdebug/internal/protocol"
)

// ErrUnavailable is returned by a Sink that can no longer accept
// submissions (for example, a closed pebble database). It is treated as a
// terminal error by the process that owns the sink.
var ErrUnavailable = errors.New("storage: sink unavailable")

// Sink is the storage collaborator every connection worker submits decoded
// messages to. A submission costs the caller at most one enqueue or one
// write: MemorySink blocks the caller while its queue is full, which is the
// pipeline's back-pressure, and PebbleSink writes each record synchronously.
// ErrUnavailable is returned once a sink can no longer accept records.
type Sink interface {
	SubmitConnectionMessage(remote net.Addr, incoming bool, msg protocol.ConnectionMessage) error
	SubmitMetadataMessage(remote net.Addr, incoming bool, msg protocol.MetadataMessage) error
	SubmitPeerMessage(remote net.Addr, incoming bool, msg protocol.PeerMessage) error
	// SubmitRESTMessage records the node's own local RPC traffic, captured
	// by a collaborator outside this pipeline's scope. Kept on the
	// interface so both Sink implementations stay faithful to every
	// message kind the upstream system recognizes, even though the core
	// decryption pipeline never calls it directly.
	SubmitRESTMessage(remote net.Addr, incoming bool, method, path, payload string) error

	// DecipherData records that n additional plaintext bytes were produced.
	DecipherData(n int)

	Close() error
}

// record is the common envelope every submission is wrapped in before being
// written to a sink, stamped with a nanosecond timestamp the way every
// stored message is in the upstream system. ID lets a caller correlate a
// record across a sink's own log output and the log ring without depending
// on the storage key it ends up under.
type record struct {
	ID          string
	TimestampNs int64
	Remote      string
	Incoming    bool
	Kind        string
	Payload     any
}

func newRecord(remote net.Addr, incoming bool, kind string, payload any) record {
	return record{
		ID:          uuid.NewString(),
		TimestampNs: time.Now().UnixNano(),
		Remote:      remote.String(),
		Incoming:    incoming,
		Kind:        kind,
		Payload:     payload,
	}
}
