package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nishisan-dev/tzdebug/internal/api"
	"github.com/nishisan-dev/tzdebug/internal/config"
	"github.com/nishisan-dev/tzdebug/internal/identity"
	"github.com/nishisan-dev/tzdebug/internal/logging"
	"github.com/nishisan-dev/tzdebug/internal/metrics"
	"github.com/nishisan-dev/tzdebug/internal/pki"
	"github.com/nishisan-dev/tzdebug/internal/registry"
	"github.com/nishisan-dev/tzdebug/internal/socket"
	"github.com/nishisan-dev/tzdebug/internal/storage"
)

func main() {
	configPath := flag.String("config", "/etc/tzdebug/config.yaml", "path to debugger config file")
	demo := flag.Bool("demo", false, "use an in-memory packet source and storage sink instead of the real capture pipeline")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ring := logging.NewRingSink(4096)
	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File, ring)
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger, ring, *demo); err != nil {
		logger.Error("tzdebug exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, ring *logging.RingSink, demo bool) error {
	var sink storage.Sink
	if demo {
		sink = storage.NewMemorySink(cfg.Storage.QueueCapacity, 10000)
	} else {
		pebbleSink, err := storage.OpenPebbleSink(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		sink = pebbleSink
	}
	defer sink.Close()

	loader := &identity.Loader{Paths: cfg.Identity.Paths, RetryPeriod: cfg.Identity.RetryPeriod, Logger: logger}
	id, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading node identity: %w", err)
	}

	stats := metrics.NewStats(prometheus.DefaultRegisterer)
	reg := registry.New(cfg.ParsedLocalIP, registry.NewStaticIdentity(id), sink, stats, logger, cfg.Logging.ConnectionLogDir)

	var source socket.Source
	if demo {
		source = socket.NewChannelSource(256)
	} else {
		return fmt.Errorf("no packet source configured: raw-socket/eBPF capture is outside this pipeline's scope")
	}

	go reg.Run(ctx)
	go pump(ctx, source, reg)

	apiServer := api.NewServer(reg, ring, logger)
	httpServer := &http.Server{Addr: cfg.Control.Listen, Handler: withMetrics(apiServer.Router())}

	if cfg.Control.TLS.Enabled() {
		tlsConfig, err := pki.NewControlServerTLSConfig(cfg.Control.TLS.CACert, cfg.Control.TLS.Cert, cfg.Control.TLS.Key)
		if err != nil {
			return fmt.Errorf("control surface TLS: %w", err)
		}
		httpServer.TLSConfig = tlsConfig
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	if cfg.Control.TLS.Enabled() {
		err = httpServer.ListenAndServeTLS("", "")
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control surface server: %w", err)
	}
	return nil
}

func pump(ctx context.Context, source socket.Source, reg *registry.Registry) {
	for {
		select {
		case ev, ok := <-source.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case socket.Connect:
				reg.ProcessConnect(ctx, ev)
			case socket.Data:
				reg.ProcessData(ctx, ev)
			case socket.Close:
				reg.ProcessClose(ctx, ev)
			}
		case <-ctx.Done():
			return
		}
	}
}

func withMetrics(next http.Handler) http.Handler {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	m.Handle("/", next)
	return m
}
