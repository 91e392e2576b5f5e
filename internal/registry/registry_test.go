package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/tzdebug/internal/cryptobox"
	"github.com/nishisan-dev/tzdebug/internal/identity"
	"github.com/nishisan-dev/tzdebug/internal/socket"
	"github.com/nishisan-dev/tzdebug/internal/storage"
)

func newTestRegistry(t *testing.T) (*Registry, context.Context, context.CancelFunc, *storage.MemorySink) {
	t.Helper()
	localPub, localSec, _ := cryptobox.GenerateKeyPair()
	id := identity.Identity{PublicKey: localPub, SecretKey: localSec}
	sink := storage.NewMemorySink(64, 64)

	reg := New(net.ParseIP("127.0.0.1"), NewStaticIdentity(id), sink, nil, nil, "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go reg.Run(ctx)
	return reg, ctx, cancel, sink
}

func connectEvent(id socket.ID, src, dst *net.TCPAddr) socket.Event {
	return socket.Event{ID: socket.EventID{Socket: id}, Kind: socket.Connect, Src: src, Dst: dst}
}

func dataEvent(id socket.ID, src, dst *net.TCPAddr, payload []byte) socket.Event {
	return socket.Event{ID: socket.EventID{Socket: id}, Kind: socket.Data, Src: src, Dst: dst, Payload: payload}
}

func closeEvent(id socket.ID) socket.Event {
	return socket.Event{ID: socket.EventID{Socket: id}, Kind: socket.Close}
}

func waitForWorking(t *testing.T, reg *Registry, ctx context.Context, n int) Report {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rep := reg.GetReport(ctx)
		if len(rep.Working) >= n {
			return rep
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d working connections", n)
	return Report{}
}

func TestRegistryTracksWorkingConnection(t *testing.T) {
	reg, ctx, cancel, sink := newTestRegistry(t)
	defer cancel()
	defer sink.Close()

	id := socket.ID{PID: 1, FD: 3}
	peerAddr := mustAddr(t, "10.0.0.5:9732")
	localAddr := mustAddr(t, "127.0.0.1:12345")

	reg.ProcessConnect(ctx, connectEvent(id, peerAddr, localAddr))

	rep := waitForWorking(t, reg, ctx, 1)
	if len(rep.Closed) != 0 {
		t.Errorf("expected no closed connections yet, got %+v", rep.Closed)
	}
	if rep.Working[0].SocketID != id {
		t.Errorf("Working[0].SocketID = %+v, want %+v", rep.Working[0].SocketID, id)
	}
}

func TestRegistryReportsClosedConnectionAfterClose(t *testing.T) {
	reg, ctx, cancel, sink := newTestRegistry(t)
	defer cancel()
	defer sink.Close()

	id := socket.ID{PID: 1, FD: 4}
	peerAddr := mustAddr(t, "10.0.0.5:9732")
	localAddr := mustAddr(t, "127.0.0.1:12345")

	reg.ProcessConnect(ctx, connectEvent(id, peerAddr, localAddr))
	waitForWorking(t, reg, ctx, 1)

	reg.ProcessClose(ctx, closeEvent(id))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rep := reg.GetReport(ctx)
		if len(rep.Closed) == 1 {
			if rep.Closed[0].SocketID != id {
				t.Errorf("Closed[0].SocketID = %+v, want %+v", rep.Closed[0].SocketID, id)
			}
			if len(rep.Working) != 0 {
				t.Errorf("expected no working connections once closed, got %+v", rep.Working)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for the closure report")
}

func TestRegistryTerminateReportsOnlyAlreadyClosed(t *testing.T) {
	reg, ctx, cancel, sink := newTestRegistry(t)
	defer cancel()
	defer sink.Close()

	stillOpen := socket.ID{PID: 2, FD: 1}
	alreadyClosed := socket.ID{PID: 2, FD: 2}
	peerAddr := mustAddr(t, "10.0.0.5:9732")
	localAddr := mustAddr(t, "127.0.0.1:12345")

	reg.ProcessConnect(ctx, connectEvent(stillOpen, peerAddr, localAddr))
	reg.ProcessConnect(ctx, connectEvent(alreadyClosed, peerAddr, localAddr))
	waitForWorking(t, reg, ctx, 2)

	reg.ProcessClose(ctx, closeEvent(alreadyClosed))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rep := reg.Terminate(ctx)
		if len(rep.Closed) == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if len(rep.Closed) != 1 || rep.Closed[0].SocketID != alreadyClosed {
			t.Fatalf("Terminate reported %+v, want only %+v", rep.Closed, alreadyClosed)
		}
		return
	}
	t.Fatal("timed out waiting for Terminate to report the already-closed connection")
}

func TestRegistryDropsDataForUnknownSocket(t *testing.T) {
	reg, ctx, cancel, sink := newTestRegistry(t)
	defer cancel()
	defer sink.Close()

	unknown := socket.ID{PID: 9, FD: 9}
	peerAddr := mustAddr(t, "10.0.0.5:9732")
	localAddr := mustAddr(t, "127.0.0.1:12345")

	reg.ProcessData(ctx, dataEvent(unknown, peerAddr, localAddr, []byte("ignored")))

	rep := reg.GetReport(ctx)
	if len(rep.Working) != 0 || len(rep.Closed) != 0 {
		t.Errorf("data for an unknown socket must not create a tracked connection, got %+v", rep)
	}
}

func mustAddr(t *testing.T, s string) *net.TCPAddr {
	t.Helper()
	addr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		t.Fatalf("ResolveTCPAddr(%q): %v", s, err)
	}
	return addr
}
