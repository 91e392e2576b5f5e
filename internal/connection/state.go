// Package connection implements the per-connection state machine that
// classifies a TCP flow as handshake, encrypted, or no longer worth parsing,
// and the goroutine-per-connection worker that drives it from a stream of
// socket events.
package connection

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/nishisan-dev/tzdebug/internal/decrypt"
	"github.com/nishisan-dev/tzdebug/internal/handshake"
	"github.com/nishisan-dev/tzdebug/internal/identity"
	"github.com/nishisan-dev/tzdebug/internal/protocol"
)

// ParserState classifies how much this connection's traffic can still be
// understood.
type ParserState int

const (
	// Unencrypted: the two ConnectionMessage frames have not both been seen
	// yet; every packet is offered to the handshake observer.
	Unencrypted ParserState = iota
	// Encrypted: both ConnectionMessage frames were observed and a shared
	// key derived; every packet is offered to the per-direction decryptor.
	Encrypted
	// Irrelevant: a prior error means this connection can no longer be
	// parsed. Terminal: no further transitions occur.
	Irrelevant
)

func (s ParserState) String() string {
	switch s {
	case Unencrypted:
		return "unencrypted"
	case Encrypted:
		return "encrypted"
	case Irrelevant:
		return "irrelevant"
	default:
		return "unknown"
	}
}

// Decoded is one emitted result of processing a packet: at most one of its
// fields is non-nil.
type Decoded struct {
	Connection *protocol.ConnectionMessage
	Metadata   *protocol.MetadataMessage
	Peer       *protocol.PeerMessage
	Incoming   bool
}

// StateMachine drives one connection's classification from Unencrypted
// through Encrypted to (optionally) Irrelevant.
type StateMachine struct {
	localIP net.IP
	logger  *slog.Logger

	state    ParserState
	observer *handshake.Observer

	incoming *decrypt.Decryptor
	outgoing *decrypt.Decryptor

	stats decrypt.StatsSink
}

// New creates a StateMachine for a connection on this host.
func New(localIP net.IP, id identity.Identity, stats decrypt.StatsSink, logger *slog.Logger) *StateMachine {
	return &StateMachine{
		localIP:  localIP,
		logger:   logger,
		state:    Unencrypted,
		observer: handshake.New(localIP, id),
		stats:    stats,
	}
}

// State returns the machine's current classification.
func (m *StateMachine) State() ParserState {
	return m.state
}

// Process handles one observed packet given its source and destination
// addresses, and returns every message the packet allowed this connection to
// decode. The packet is incoming when dst matches the local address.
func (m *StateMachine) Process(src, dst *net.TCPAddr, payload []byte) ([]Decoded, error) {
	switch m.state {
	case Irrelevant:
		return nil, nil

	case Unencrypted:
		out, err := m.processHandshake(src, dst, payload)
		if err != nil {
			m.state = Irrelevant
			if m.logger != nil {
				m.logger.Info("connection classified irrelevant during handshake", "error", err)
			}
			return out, err
		}
		if m.observer.Initialized() {
			m.state = Encrypted
		}
		return out, nil

	case Encrypted:
		incoming := dst.IP.Equal(m.localIP)
		out, err := m.processEncrypted(incoming, payload)
		if err != nil {
			m.state = Irrelevant
			if m.logger != nil {
				m.logger.Info("connection classified irrelevant during decrypt", "error", err)
			}
		}
		return out, err

	default:
		return nil, fmt.Errorf("connection: unknown state %v", m.state)
	}
}

func (m *StateMachine) processHandshake(src, dst *net.TCPAddr, payload []byte) ([]Decoded, error) {
	msg, result, err := m.observer.Observe(src, payload)
	if err != nil {
		if err == handshake.ErrDuplicate {
			if m.logger != nil {
				m.logger.Info("dropping duplicate connection message")
			}
			return nil, nil
		}
		return nil, err
	}

	out := []Decoded{{Connection: msg, Incoming: dst.IP.Equal(m.localIP)}}

	if result != nil {
		m.incoming = decrypt.New(result.Key, result.IncomingInit, m.stats, m.logger)
		m.outgoing = decrypt.New(result.Key, result.OutgoingInit, m.stats, m.logger)
		if m.logger != nil {
			m.logger.Info("connection upgraded to encrypted")
		}
	}

	return out, nil
}

func (m *StateMachine) processEncrypted(incoming bool, payload []byte) ([]Decoded, error) {
	d := m.outgoing
	if incoming {
		d = m.incoming
	}

	msgs, err := d.Feed(payload)
	out := make([]Decoded, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, Decoded{Metadata: msg.Metadata, Peer: msg.Peer, Incoming: incoming})
	}
	if err != nil {
		return out, err
	}
	return out, nil
}
