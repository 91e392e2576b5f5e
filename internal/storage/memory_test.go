package storage

import (
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/tzdebug/internal/protocol"
)

func TestMemorySinkSubmitAndCount(t *testing.T) {
	s := NewMemorySink(4, 10)
	defer s.Close()

	remote := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 9732}

	if err := s.SubmitConnectionMessage(remote, true, protocol.ConnectionMessage{Port: 9732}); err != nil {
		t.Fatalf("SubmitConnectionMessage: %v", err)
	}
	if err := s.SubmitMetadataMessage(remote, true, protocol.MetadataMessage{DisableMempool: true}); err != nil {
		t.Fatalf("SubmitMetadataMessage: %v", err)
	}
	if err := s.SubmitPeerMessage(remote, false, protocol.PeerMessage{Tag: 1, Payload: []byte("x")}); err != nil {
		t.Fatalf("SubmitPeerMessage: %v", err)
	}
	if err := s.SubmitRESTMessage(remote, false, "GET", "/chains/main", ""); err != nil {
		t.Fatalf("SubmitRESTMessage: %v", err)
	}

	s.Close() // flushes the drain goroutine so Count is deterministic

	if got := s.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
}

func TestMemorySinkRetainsOnlyCap(t *testing.T) {
	s := NewMemorySink(32, 3)
	remote := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 9732}

	for i := 0; i < 10; i++ {
		if err := s.SubmitPeerMessage(remote, true, protocol.PeerMessage{Tag: uint16(i)}); err != nil {
			t.Fatalf("SubmitPeerMessage %d: %v", i, err)
		}
	}
	s.Close()

	if got := s.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3 (capped retention)", got)
	}
}

func TestMemorySinkDecipherData(t *testing.T) {
	s := NewMemorySink(4, 4)
	defer s.Close()

	s.DecipherData(10)
	s.DecipherData(5)

	if got := s.DecipheredBytes(); got != 15 {
		t.Errorf("DecipheredBytes() = %d, want 15", got)
	}
}

func TestMemorySinkRejectsSubmissionsAfterClose(t *testing.T) {
	s := NewMemorySink(4, 4)
	remote := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 9732}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := s.SubmitPeerMessage(remote, true, protocol.PeerMessage{Tag: 1})
	if err != ErrUnavailable {
		t.Errorf("SubmitPeerMessage after Close = %v, want ErrUnavailable", err)
	}
}

func TestNewRecordStampsIDAndTimestamp(t *testing.T) {
	remote := &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 9732}
	before := time.Now().UnixNano()
	rec := newRecord(remote, true, "peer", protocol.PeerMessage{Tag: 1})
	after := time.Now().UnixNano()

	if rec.ID == "" {
		t.Error("expected a non-empty record ID")
	}
	if rec.TimestampNs < before || rec.TimestampNs > after {
		t.Errorf("TimestampNs = %d, want between %d and %d", rec.TimestampNs, before, after)
	}
	if rec.Remote != remote.String() {
		t.Errorf("Remote = %q, want %q", rec.Remote, remote.String())
	}
}
