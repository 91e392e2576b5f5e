package connection

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/tzdebug/internal/decrypt"
	"github.com/nishisan-dev/tzdebug/internal/identity"
	"github.com/nishisan-dev/tzdebug/internal/logging"
	"github.com/nishisan-dev/tzdebug/internal/metrics"
	"github.com/nishisan-dev/tzdebug/internal/socket"
	"github.com/nishisan-dev/tzdebug/internal/storage"
)

// Report summarizes a connection's lifetime for the registry's closure
// report, the only view of a finished connection the rest of the system
// retains once its worker has exited.
type Report struct {
	SocketID    socket.ID
	Remote      string
	WeInitiated bool
	FinalState  ParserState
	Opened      time.Time
	Closed      time.Time
	BytesIn     uint64
	BytesOut    uint64
	MessagesIn  uint64
	MessagesOut uint64
	TerminalErr string
}

// Worker owns one connection's StateMachine and drives it from an inbound
// event channel until the connection closes or the worker is asked to stop.
type Worker struct {
	id      socket.ID
	localIP net.IP
	sm      *StateMachine
	sink    storage.Sink
	stats   *metrics.Stats
	logger  *slog.Logger
	inbound chan socket.Event

	logCloser io.Closer

	report Report
	done   chan struct{}

	// liveState and liveRemote let the registry's dispatch goroutine read a
	// still-running worker's classification and peer address without
	// synchronizing with the worker's own goroutine on the full report.
	liveState  atomic.Int32
	liveRemote atomic.Value // string
}

// NewWorker creates a Worker for socket id, ready to be started with Run.
// weInitiated records whether this host opened the connection (as opposed
// to having accepted an inbound one), carried straight into the closure
// report. stats may be nil; when set, it receives deciphered-byte bookkeeping
// alongside sink and per-direction message counts. connectionLogDir, if
// non-empty, makes this connection also log to its own file under that
// directory, named by socket id.
func NewWorker(id socket.ID, localIP net.IP, ident identity.Identity, weInitiated bool, sink storage.Sink, stats *metrics.Stats, logger *slog.Logger, connectionLogDir string) *Worker {
	connLogger, closer, _, err := logging.NewConnectionLogger(logger, connectionLogDir, id.String())
	if err != nil {
		if logger != nil {
			logger.Warn("falling back to the base logger, could not open connection log file", "socket", id, "error", err)
		}
		connLogger, closer = logger, io.NopCloser(nil)
	}

	w := &Worker{
		id:        id,
		localIP:   localIP,
		sink:      sink,
		stats:     stats,
		logger:    connLogger,
		logCloser: closer,
		inbound:   make(chan socket.Event, 256),
		done:      make(chan struct{}),
	}
	w.sm = New(localIP, ident, fanoutStats(sink, stats), connLogger)
	w.report = Report{SocketID: id, WeInitiated: weInitiated, Opened: time.Now()}
	return w
}

// fanoutStats combines sink's own DecipherData bookkeeping with an optional
// extra sink (typically a Prometheus counter), so both stay in sync without
// the decryptor needing to know either exists.
func fanoutStats(sink storage.Sink, extra *metrics.Stats) decrypt.StatsSink {
	if extra == nil {
		return sink
	}
	return multiStats{sink, extra}
}

type multiStats []decrypt.StatsSink

func (m multiStats) DecipherData(n int) {
	for _, s := range m {
		s.DecipherData(n)
	}
}

// Submit delivers one event to the worker. It blocks if the worker's
// inbound queue is full, providing back-pressure to whatever feeds the
// registry.
func (w *Worker) Submit(ctx context.Context, ev socket.Event) {
	select {
	case w.inbound <- ev:
	case <-ctx.Done():
	}
}

// Run drives the worker until it handles a Close event, its inbound channel
// is closed, or ctx is canceled, then closes done and leaves the final Report available via
// Report(). Intended to be called with `go worker.Run(ctx)`.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.inbound:
			if !ok {
				w.finish()
				return
			}
			w.handle(ev)
			if ev.Kind == socket.Close {
				w.finish()
				return
			}
		case <-ctx.Done():
			w.finish()
			return
		}
	}
}

func (w *Worker) handle(ev socket.Event) {
	if ev.Kind != socket.Data || len(ev.Payload) == 0 {
		return
	}
	remote := w.remoteOf(ev)
	if w.report.Remote == "" && remote != nil {
		w.report.Remote = remote.String()
		w.liveRemote.Store(remote.String())
	}

	decoded, err := w.sm.Process(ev.Src, ev.Dst, ev.Payload)
	for _, d := range decoded {
		w.submitDecoded(remote, d)
	}
	if err != nil && w.report.TerminalErr == "" {
		w.report.TerminalErr = err.Error()
	}
	w.liveState.Store(int32(w.sm.State()))
}

func (w *Worker) submitDecoded(remote net.Addr, d Decoded) {
	switch {
	case d.Connection != nil:
		if err := w.sink.SubmitConnectionMessage(remote, d.Incoming, *d.Connection); err != nil && w.logger != nil {
			w.logger.Warn("dropping connection message, storage unavailable", "error", err)
		}
	case d.Metadata != nil:
		w.countMessage(d.Incoming, 0)
		if err := w.sink.SubmitMetadataMessage(remote, d.Incoming, *d.Metadata); err != nil && w.logger != nil {
			w.logger.Warn("dropping metadata message, storage unavailable", "error", err)
		}
	case d.Peer != nil:
		w.countMessage(d.Incoming, len(d.Peer.Payload))
		if err := w.sink.SubmitPeerMessage(remote, d.Incoming, *d.Peer); err != nil && w.logger != nil {
			w.logger.Warn("dropping peer message, storage unavailable", "error", err)
		}
	}
}

func (w *Worker) countMessage(incoming bool, payloadBytes int) {
	direction := "out"
	if incoming {
		direction = "in"
		w.report.MessagesIn++
		w.report.BytesIn += uint64(payloadBytes)
	} else {
		w.report.MessagesOut++
		w.report.BytesOut += uint64(payloadBytes)
	}
	if w.stats != nil {
		w.stats.MessagesTotal.WithLabelValues(direction).Inc()
	}
}

func (w *Worker) finish() {
	w.report.FinalState = w.sm.State()
	w.report.Closed = time.Now()
	if w.logCloser != nil {
		w.logCloser.Close()
	}
}

// Report returns the worker's closure report. Only meaningful after Run has
// returned (Done is closed).
func (w *Worker) Report() Report {
	return w.report
}

// Done is closed once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// LiveState returns the connection's classification as of the last
// processed event. Safe to call concurrently with Run, for a still-running
// worker.
func (w *Worker) LiveState() ParserState {
	return ParserState(w.liveState.Load())
}

// LiveRemote returns the connection's peer address once observed, or "" if
// no data-bearing event has arrived yet. Safe to call concurrently with Run.
func (w *Worker) LiveRemote() string {
	s, _ := w.liveRemote.Load().(string)
	return s
}

// remoteOf picks whichever of an event's two addresses is not this host's
// own local address.
func (w *Worker) remoteOf(ev socket.Event) net.Addr {
	if ev.Dst != nil && !ev.Dst.IP.Equal(w.localIP) {
		return ev.Dst
	}
	if ev.Src != nil {
		return ev.Src
	}
	return ev.Dst
}
