// Package decrypt implements the per-direction streaming decryptor: it turns
// a raw byte stream into decoded P2P messages by reassembling length-framed
// ciphertext chunks, authenticating and decrypting each one in nonce order,
// and reassembling the resulting plaintext into whole messages.
package decrypt

import (
	"errors"
	"log/slog"

	"github.com/nishisan-dev/tzdebug/internal/cryptobox"
	"github.com/nishisan-dev/tzdebug/internal/protocol"
	"github.com/nishisan-dev/tzdebug/internal/reassembler"
)

// StatsSink receives throughput bookkeeping for deciphered bytes. Satisfied
// by storage.Sink; declared narrowly here so this package never needs to
// import the storage package.
type StatsSink interface {
	DecipherData(n int)
}

// ErrTerminal is returned by Feed when a chunk fails authentication. The
// decryptor's nonce is left exactly where it was: there is no valid recovery
// once one chunk in the sequence cannot be opened, since every later chunk's
// nonce derives from having correctly counted every earlier one.
var ErrTerminal = errors.New("decrypt: chunk failed authentication")

// Message is one fully decoded unit produced by Feed: either a
// MetadataMessage (always first) or a PeerMessage.
type Message struct {
	Metadata *protocol.MetadataMessage
	Peer     *protocol.PeerMessage
}

// Decryptor holds the per-direction state needed to turn one side of one
// connection's ciphertext stream into decoded messages.
type Decryptor struct {
	key   cryptobox.PrecomputedKey
	nonce protocol.Nonce
	chunks *reassembler.Reassembler

	plain          []byte
	inputRemaining int
	metadataDone   bool

	stats  StatsSink
	logger *slog.Logger
}

// New creates a Decryptor for one direction, seeded with the starting nonce
// derived by the handshake observer.
func New(key cryptobox.PrecomputedKey, startNonce protocol.Nonce, stats StatsSink, logger *slog.Logger) *Decryptor {
	return &Decryptor{
		key:    key,
		nonce:  startNonce,
		chunks: reassembler.New(),
		stats:  stats,
		logger: logger,
	}
}

// Feed appends newly observed ciphertext bytes, decrypts every complete
// chunk now buffered, and returns every message fully decoded as a result.
// An ErrTerminal return means the connection's decryption state is no longer
// trustworthy; the caller (the connection state machine) must transition to
// Irrelevant and stop calling Feed.
func (d *Decryptor) Feed(b []byte) ([]Message, error) {
	d.chunks.Feed(b)

	var out []Message
	for {
		chunk, ok, err := d.chunks.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}

		plain, err := cryptobox.Open(chunk.Content(), (*[24]byte)(&d.nonce), &d.key)
		if err != nil {
			if d.logger != nil {
				d.logger.Debug("chunk failed authentication, nonce not advanced")
			}
			return out, ErrTerminal
		}
		d.nonce = d.nonce.Increment()
		if d.stats != nil {
			d.stats.DecipherData(len(plain))
		}

		d.plain = append(d.plain, plain...)
		if d.inputRemaining > len(plain) {
			d.inputRemaining -= len(plain)
		} else {
			d.inputRemaining = 0
		}
		if d.inputRemaining > 0 {
			// still below the threshold that made a previous decode attempt
			// fail with Underflow; skip decoding until enough has arrived.
			continue
		}

		msgs, err := d.drain()
		if err != nil {
			return out, err
		}
		out = append(out, msgs...)
	}
}

// drain repeatedly attempts to decode a message from the accumulated
// plaintext, handling the Underflow/Overflow/Error outcomes the way the
// reference decoder's BinaryReaderError cases are handled: Underflow raises
// the gate so the next Feed doesn't retry on every small segment, Overflow
// drops the decoded message's bytes from the front and immediately retries on
// the trailing bytes that belong to the next message, and Error is terminal
// for the connection.
func (d *Decryptor) drain() ([]Message, error) {
	var out []Message
	for {
		var result protocol.DecodeResult
		if !d.metadataDone {
			result = protocol.DecodeMetadata(d.plain)
		} else {
			result = protocol.DecodePeerMessage(d.plain)
		}

		switch result.Kind {
		case protocol.DecodeOK, protocol.DecodeOverflow:
			d.plain = d.plain[result.Consumed:]
			if !d.metadataDone {
				meta := result.Value.(protocol.MetadataMessage)
				d.metadataDone = true
				out = append(out, Message{Metadata: &meta})
			} else {
				peer := result.Value.(protocol.PeerMessage)
				out = append(out, Message{Peer: &peer})
			}
			if result.Kind == protocol.DecodeOK {
				// message consumed the whole buffer; nothing left to retry.
				return out, nil
			}
			continue

		case protocol.DecodeUnderflow:
			d.inputRemaining = result.NeedBytes
			return out, nil

		default: // protocol.DecodeError
			if d.logger != nil {
				d.logger.Warn("discarding undecodable plaintext", "error", result.Err)
			}
			return out, result.Err
		}
	}
}
