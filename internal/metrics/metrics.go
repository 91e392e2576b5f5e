// Package metrics exposes the pipeline's Prometheus counters and gauges.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Stats is the set of metrics the decryption pipeline updates. It also
// implements decrypt.StatsSink and storage.Sink's DecipherData method so it
// can be wired directly into a connection's decryptors.
type Stats struct {
	DecipheredBytes  prometheus.Counter
	Connections      prometheus.Gauge
	ConnectionsTotal prometheus.Counter
	DecodeErrors     prometheus.Counter
	MessagesTotal    *prometheus.CounterVec
}

// NewStats creates and registers the pipeline's metrics on reg.
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		DecipheredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tzdebug",
			Name:      "deciphered_bytes_total",
			Help:      "Total plaintext bytes produced by the decryption pipeline.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tzdebug",
			Name:      "connections_tracked",
			Help:      "Number of connections currently tracked by the registry.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tzdebug",
			Name:      "connections_total",
			Help:      "Total connections the registry has started tracking.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tzdebug",
			Name:      "decode_errors_total",
			Help:      "Total connections classified irrelevant due to a decode or decrypt error.",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tzdebug",
			Name:      "messages_total",
			Help:      "Total decoded P2P messages, by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(s.DecipheredBytes, s.Connections, s.ConnectionsTotal, s.DecodeErrors, s.MessagesTotal)
	return s
}

// DecipherData implements decrypt.StatsSink.
func (s *Stats) DecipherData(n int) {
	s.DecipheredBytes.Add(float64(n))
}
