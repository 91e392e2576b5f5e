package storage

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/nishisan-dev/tzdebug/internal/protocol"
)

// MemorySink is a bounded, channel-backed Sink used by tests and the
// reference binary's demo mode. A single background goroutine drains the
// queue into a capped ring so queries never race writers.
type MemorySink struct {
	queue  chan record
	done   chan struct{}
	closed atomic.Bool

	mu      sync.Mutex
	records []record
	cap     int

	decipheredBytes atomic.Int64
}

// NewMemorySink creates a MemorySink with the given submission queue depth
// and retained-record capacity.
func NewMemorySink(queueCapacity, retain int) *MemorySink {
	if queueCapacity <= 0 {
		queueCapacity = 4096
	}
	if retain <= 0 {
		retain = 10000
	}
	s := &MemorySink{
		queue: make(chan record, queueCapacity),
		done:  make(chan struct{}),
		cap:   retain,
	}
	go s.drain()
	return s
}

func (s *MemorySink) drain() {
	for rec := range s.queue {
		s.mu.Lock()
		s.records = append(s.records, rec)
		if len(s.records) > s.cap {
			s.records = s.records[len(s.records)-s.cap:]
		}
		s.mu.Unlock()
	}
	close(s.done)
}

func (s *MemorySink) submit(rec record) error {
	if s.closed.Load() {
		return ErrUnavailable
	}
	s.queue <- rec
	return nil
}

// SubmitConnectionMessage implements Sink.
func (s *MemorySink) SubmitConnectionMessage(remote net.Addr, incoming bool, msg protocol.ConnectionMessage) error {
	return s.submit(newRecord(remote, incoming, "connection", msg))
}

// SubmitMetadataMessage implements Sink.
func (s *MemorySink) SubmitMetadataMessage(remote net.Addr, incoming bool, msg protocol.MetadataMessage) error {
	return s.submit(newRecord(remote, incoming, "metadata", msg))
}

// SubmitPeerMessage implements Sink.
func (s *MemorySink) SubmitPeerMessage(remote net.Addr, incoming bool, msg protocol.PeerMessage) error {
	return s.submit(newRecord(remote, incoming, "peer", msg))
}

// SubmitRESTMessage implements Sink.
func (s *MemorySink) SubmitRESTMessage(remote net.Addr, incoming bool, method, path, payload string) error {
	return s.submit(newRecord(remote, incoming, "rest", map[string]string{
		"method": method, "path": path, "payload": payload,
	}))
}

// DecipherData implements Sink.
func (s *MemorySink) DecipherData(n int) {
	s.decipheredBytes.Add(int64(n))
}

// DecipheredBytes returns the running total of plaintext bytes recorded.
func (s *MemorySink) DecipheredBytes() int64 {
	return s.decipheredBytes.Load()
}

// Count returns how many records are currently retained, for tests.
func (s *MemorySink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close implements Sink. It stops accepting new submissions and waits for
// the drain goroutine to flush the queue.
func (s *MemorySink) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.queue)
		<-s.done
	}
	return nil
}
