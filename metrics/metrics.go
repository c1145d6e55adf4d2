// Package metrics holds the relay's Prometheus instruments. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Sessions         prometheus.Gauge
	Connections      prometheus.Counter
	Fragments        *prometheus.CounterVec
	Turns            *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	UtteranceSize    prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voxrelay_sessions",
			Help: "Current number of live sessions",
		}),
		Connections: factory.NewCounter(prometheus.CounterOpts{
			Name: "voxrelay_connections_total",
			Help: "Total number of accepted websocket connections",
		}),
		Fragments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_audio_fragments_total",
			Help: "Continuous-call audio fragments by disposition",
		}, []string{"disposition"}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voxrelay_turns_total",
			Help: "Completed turns by mode and outcome",
		}, []string{"mode", "outcome"}),
		ProviderDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxrelay_provider_duration_seconds",
			Help:    "Latency of provider calls by stage",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"stage", "outcome"}),
		UtteranceSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxrelay_utterance_size_bytes",
			Help:    "Size of flushed utterances",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
	}
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}

func (m *Metrics) RecordConnection() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

// RecordFragment counts a continuous-call fragment as accepted or dropped.
func (m *Metrics) RecordFragment(accepted bool) {
	if m == nil {
		return
	}
	disposition := "dropped"
	if accepted {
		disposition = "accepted"
	}
	m.Fragments.WithLabelValues(disposition).Inc()
}

func (m *Metrics) RecordUtterance(size int) {
	if m == nil {
		return
	}
	m.UtteranceSize.Observe(float64(size))
}

func (m *Metrics) RecordTurn(mode, outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) ObserveProvider(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ProviderDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}
