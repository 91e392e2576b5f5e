// Package registry owns every connection's worker, routing socket events to
// the right one, joining workers on replacement and closure, and assembling
// the report a control-surface caller receives on request.
package registry

import (
	"context"
	"log/slog"
	"net"

	"github.com/nishisan-dev/tzdebug/internal/connection"
	"github.com/nishisan-dev/tzdebug/internal/identity"
	"github.com/nishisan-dev/tzdebug/internal/metrics"
	"github.com/nishisan-dev/tzdebug/internal/socket"
	"github.com/nishisan-dev/tzdebug/internal/storage"
)

// IdentityProvider reports whether the node identity needed to derive
// per-connection keys has been loaded yet.
type IdentityProvider interface {
	Identity() (identity.Identity, bool)
}

type staticIdentity struct {
	id identity.Identity
}

func (s staticIdentity) Identity() (identity.Identity, bool) { return s.id, true }

// NewStaticIdentity wraps an already-loaded Identity as an IdentityProvider.
func NewStaticIdentity(id identity.Identity) IdentityProvider {
	return staticIdentity{id: id}
}

// WorkingConnection summarizes a connection the registry is still tracking.
type WorkingConnection struct {
	SocketID socket.ID
	Remote   string
	State    connection.ParserState
}

// Report is a point-in-time snapshot of the registry's state.
type Report struct {
	Working []WorkingConnection
	Closed  []connection.Report
}

// Registry owns every in-flight connection worker. Every mutation and every
// read of the working-connection map is routed through a single dispatch
// goroutine (Run), so the map itself never needs a lock — the same
// single-owner-goroutine discipline a network server's session table uses.
type Registry struct {
	localIP          net.IP
	identity         IdentityProvider
	sink             storage.Sink
	stats            *metrics.Stats
	logger           *slog.Logger
	connectionLogDir string

	commands chan command
}

type opKind int

const (
	opConnect opKind = iota
	opData
	opClose
	opGetReport
	opTerminate
)

type command struct {
	kind  opKind
	ev    socket.Event
	reply chan Report
}

// New creates a Registry. stats may be nil; when set, the registry and the
// workers it creates report connection and message counts to it alongside
// sink's own bookkeeping. connectionLogDir, if non-empty, is passed to every
// worker so each connection also logs to its own file. Call Run in its own
// goroutine before feeding the registry events or GetReport/Terminate calls.
func New(localIP net.IP, identity IdentityProvider, sink storage.Sink, stats *metrics.Stats, logger *slog.Logger, connectionLogDir string) *Registry {
	return &Registry{
		localIP:          localIP,
		identity:         identity,
		sink:             sink,
		stats:            stats,
		logger:           logger,
		connectionLogDir: connectionLogDir,
		commands:         make(chan command, 1024),
	}
}

// ProcessConnect notifies the registry of a new tracked socket.
func (r *Registry) ProcessConnect(ctx context.Context, ev socket.Event) {
	r.send(ctx, command{kind: opConnect, ev: ev})
}

// ProcessData delivers one observed segment to its connection's worker.
func (r *Registry) ProcessData(ctx context.Context, ev socket.Event) {
	r.send(ctx, command{kind: opData, ev: ev})
}

// ProcessClose notifies the registry that a socket has closed.
func (r *Registry) ProcessClose(ctx context.Context, ev socket.Event) {
	r.send(ctx, command{kind: opClose, ev: ev})
}

// GetReport returns every connection still being tracked plus every closure
// report collected since the last GetReport/Terminate call, which this call
// clears. Blocks until the dispatch goroutine (Run) answers or ctx is done.
func (r *Registry) GetReport(ctx context.Context) Report {
	return r.execute(ctx, opGetReport)
}

// Terminate returns the closure reports of connections that had already
// closed before the call, and clears them like GetReport does. It does not
// stop the workers of connections that are still open, and those connections
// are not part of the returned report.
func (r *Registry) Terminate(ctx context.Context) Report {
	return r.execute(ctx, opTerminate)
}

func (r *Registry) execute(ctx context.Context, kind opKind) Report {
	reply := make(chan Report, 1)
	r.send(ctx, command{kind: kind, reply: reply})
	select {
	case rep := <-reply:
		return rep
	case <-ctx.Done():
		return Report{}
	}
}

func (r *Registry) send(ctx context.Context, c command) {
	select {
	case r.commands <- c:
	case <-ctx.Done():
	}
}

// Run drives the registry's single dispatch goroutine until ctx is
// canceled. It must be started exactly once, before any Process*,
// GetReport or Terminate call.
func (r *Registry) Run(ctx context.Context) {
	workers := make(map[socket.ID]*connection.Worker)
	var closed []connection.Report

	archive := func(ch chan<- connection.Report, w *connection.Worker) {
		<-w.Done()
		ch <- w.Report()
	}
	archived := make(chan connection.Report, 256)

	// joinExisting stops the worker already tracked for id and waits for it to
	// exit; its report reaches closed through the archive goroutine started
	// when it was connected.
	joinExisting := func(id socket.ID) {
		if old, ok := workers[id]; ok {
			delete(workers, id)
			old.Submit(ctx, socket.Event{ID: socket.EventID{Socket: id}, Kind: socket.Close})
			select {
			case <-old.Done():
			case <-ctx.Done():
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case rep := <-archived:
			closed = append(closed, rep)
			if r.stats != nil {
				r.stats.Connections.Dec()
				if rep.TerminalErr != "" {
					r.stats.DecodeErrors.Inc()
				}
			}

		case c := <-r.commands:
			switch c.kind {
			case opConnect:
				id := c.ev.ID.Socket
				joinExisting(id)

				ident, ok := r.identity.Identity()
				if !ok {
					if r.logger != nil {
						r.logger.Debug("ignoring connect, identity not yet loaded", "socket", id)
					}
					continue
				}

				weInitiated := c.ev.Src != nil && c.ev.Src.IP.Equal(r.localIP)
				w := connection.NewWorker(id, r.localIP, ident, weInitiated, r.sink, r.stats, r.logger, r.connectionLogDir)
				workers[id] = w
				go w.Run(ctx)
				go archive(archived, w)
				if r.stats != nil {
					r.stats.ConnectionsTotal.Inc()
					r.stats.Connections.Inc()
				}

			case opData:
				id := c.ev.ID.Socket
				w, ok := workers[id]
				if !ok {
					if r.logger != nil {
						r.logger.Warn("dropping data for unknown socket, likely a race with the kernel source deciding to ignore this flow", "socket", id)
					}
					continue
				}
				w.Submit(ctx, c.ev)

			case opClose:
				id := c.ev.ID.Socket
				if w, ok := workers[id]; ok {
					delete(workers, id)
					w.Submit(ctx, c.ev)
				}

			case opGetReport:
				drainArchived(archived, &closed, r.stats)
				rep := Report{Closed: closed, Working: snapshotWorking(workers)}
				closed = nil
				c.reply <- rep

			case opTerminate:
				drainArchived(archived, &closed, r.stats)
				rep := Report{Closed: closed}
				closed = nil
				c.reply <- rep
			}
		}
	}
}

func drainArchived(archived <-chan connection.Report, closed *[]connection.Report, stats *metrics.Stats) {
	for {
		select {
		case rep := <-archived:
			*closed = append(*closed, rep)
			if stats != nil {
				stats.Connections.Dec()
				if rep.TerminalErr != "" {
					stats.DecodeErrors.Inc()
				}
			}
		default:
			return
		}
	}
}

func snapshotWorking(workers map[socket.ID]*connection.Worker) []WorkingConnection {
	out := make([]WorkingConnection, 0, len(workers))
	for id, w := range workers {
		out = append(out, WorkingConnection{SocketID: id, Remote: w.LiveRemote(), State: w.LiveState()})
	}
	return out
}
