package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/nishisan-dev/tzdebug/internal/protocol"
)

// Key prefixes for the two key spaces PebbleSink maintains: the primary log,
// keyed by monotonically increasing timestamp, and a secondary index keyed
// by remote address so a caller can look up "everything seen for peer X"
// without scanning the whole log, the same role the upstream system's
// secondary-index abstraction plays.
const (
	primaryPrefix   = "m:"
	secondaryPrefix = "a:"
)

// PebbleSink is a durable Sink backed by a pebble key-value database.
type PebbleSink struct {
	db *pebble.DB

	decipheredBytes atomic.Int64
}

// OpenPebbleSink opens (creating if necessary) a pebble database at dir.
func OpenPebbleSink(dir string) (*PebbleSink, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble storage at %q: %w", dir, err)
	}
	return &PebbleSink{db: db}, nil
}

func (s *PebbleSink) write(rec record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	primaryKey := make([]byte, len(primaryPrefix)+8)
	copy(primaryKey, primaryPrefix)
	binary.BigEndian.PutUint64(primaryKey[len(primaryPrefix):], uint64(rec.TimestampNs))
	if err := batch.Set(primaryKey, value, nil); err != nil {
		return fmt.Errorf("staging primary record: %w", err)
	}

	secondaryKey := append([]byte(secondaryPrefix+rec.Remote+":"), primaryKey[len(primaryPrefix):]...)
	if err := batch.Set(secondaryKey, primaryKey, nil); err != nil {
		return fmt.Errorf("staging secondary index: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SubmitConnectionMessage implements Sink.
func (s *PebbleSink) SubmitConnectionMessage(remote net.Addr, incoming bool, msg protocol.ConnectionMessage) error {
	return s.write(newRecord(remote, incoming, "connection", msg))
}

// SubmitMetadataMessage implements Sink.
func (s *PebbleSink) SubmitMetadataMessage(remote net.Addr, incoming bool, msg protocol.MetadataMessage) error {
	return s.write(newRecord(remote, incoming, "metadata", msg))
}

// SubmitPeerMessage implements Sink.
func (s *PebbleSink) SubmitPeerMessage(remote net.Addr, incoming bool, msg protocol.PeerMessage) error {
	return s.write(newRecord(remote, incoming, "peer", msg))
}

// SubmitRESTMessage implements Sink.
func (s *PebbleSink) SubmitRESTMessage(remote net.Addr, incoming bool, method, path, payload string) error {
	return s.write(newRecord(remote, incoming, "rest", map[string]string{
		"method": method, "path": path, "payload": payload,
	}))
}

// DecipherData implements Sink.
func (s *PebbleSink) DecipherData(n int) {
	s.decipheredBytes.Add(int64(n))
}

// DecipheredBytes returns the running total of plaintext bytes recorded.
func (s *PebbleSink) DecipheredBytes() int64 {
	return s.decipheredBytes.Load()
}

// ByRemote returns every raw JSON record stored for the given remote
// address, oldest first, using the secondary index rather than a full scan.
func (s *PebbleSink) ByRemote(remote string) ([][]byte, error) {
	lower := []byte(secondaryPrefix + remote + ":")
	upper := append(append([]byte{}, lower...), 0xff)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("opening secondary index iterator: %w", err)
	}
	defer iter.Close()

	var out [][]byte
	for valid := iter.First(); valid; valid = iter.Next() {
		primaryKey := append([]byte{}, iter.Value()...)
		value, closer, err := s.db.Get(primaryKey)
		if err != nil {
			continue
		}
		out = append(out, append([]byte{}, value...))
		closer.Close()
	}
	return out, nil
}

// Close implements Sink.
func (s *PebbleSink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing pebble storage: %w", err)
	}
	return nil
}
