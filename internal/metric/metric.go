// Package metric holds the Prometheus metrics of the capture pipeline.
package metric

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains the reader metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Fragments       prometheus.Counter
	Lines           prometheus.Counter
	ForcedFlushes   prometheus.Counter
	ResolveFailures prometheus.Counter
	SinkErrors      prometheus.Counter
	OpenHandles     prometheus.Gauge
	PendingLines    prometheus.Gauge
}

// NewMetrics creates the reader metrics. They are not registered yet.
func NewMetrics() *Metrics {
	return &Metrics{
		Fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbwinlog",
			Subsystem: "reader",
			Name:      "fragments_total",
			Help:      "Total number of records read from the shared buffer",
		}),
		Lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbwinlog",
			Subsystem: "reader",
			Name:      "lines_total",
			Help:      "Total number of finished lines",
		}),
		ForcedFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbwinlog",
			Subsystem: "reader",
			Name:      "forced_flushes_total",
			Help:      "Partial lines flushed because their process went quiet",
		}),
		ResolveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbwinlog",
			Subsystem: "reader",
			Name:      "resolve_failures_total",
			Help:      "Fragments whose process could not be opened or named",
		}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbwinlog",
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Batches a sink failed to accept",
		}),
		OpenHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dbwinlog",
			Subsystem: "reader",
			Name:      "open_handles",
			Help:      "Process handles currently held by the handle cache",
		}),
		PendingLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dbwinlog",
			Subsystem: "reader",
			Name:      "pending_lines",
			Help:      "Processes with an unterminated partial line",
		}),
	}
}

// Register adds all metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Fragments, m.Lines, m.ForcedFlushes, m.ResolveFailures,
		m.SinkErrors, m.OpenHandles, m.PendingLines,
	}
}

// NewRegistry returns a registry holding m plus the Go runtime collectors.
func NewRegistry(m *Metrics) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := m.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) IncFragments() {
	if m != nil {
		m.Fragments.Inc()
	}
}

func (m *Metrics) AddLines(n int) {
	if m != nil {
		m.Lines.Add(float64(n))
	}
}

func (m *Metrics) AddForcedFlushes(n int) {
	if m != nil {
		m.ForcedFlushes.Add(float64(n))
	}
}

func (m *Metrics) IncResolveFailures() {
	if m != nil {
		m.ResolveFailures.Inc()
	}
}

func (m *Metrics) IncSinkErrors() {
	if m != nil {
		m.SinkErrors.Inc()
	}
}

// SetState records the sizes of the handle cache and the reassembler.
func (m *Metrics) SetState(openHandles, pendingLines int) {
	if m != nil {
		m.OpenHandles.Set(float64(openHandles))
		m.PendingLines.Set(float64(pendingLines))
	}
}
