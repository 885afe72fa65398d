// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics counts pipeline activity in a private Prometheus registry.
// The CLI is a batch job with no listener, so the registry is flushed to a
// node_exporter textfile at the end of each command.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pdiddy/cve-harvest/pkg/types"
)

const namespace = "cve_harvest"

// TextfileName is the file WriteTextfile writes inside the data directory.
const TextfileName = "metrics.prom"

// Metrics holds the pipeline's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	checkpoints     *prometheus.CounterVec
	identifiers     *prometheus.CounterVec
	captures        prometheus.Counter
	registryPages   prometheus.Counter
	candidates      prometheus.Gauge
	identifierTimer prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checkpoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_total",
				Help:      "Checkpoint outcomes by checkpoint and status.",
			},
			[]string{"checkpoint", "status"},
		),
		identifiers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identifiers_total",
				Help:      "Processed identifiers by overall result.",
			},
			[]string{"result"},
		),
		captures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verified_captures_total",
			Help:      "Screenshots whose OCR text confirmed the identifier.",
		}),
		registryPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_pages_total",
			Help:      "Registry result pages fetched.",
		}),
		candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "candidates",
			Help:      "Candidates returned by the last registry query.",
		}),
		identifierTimer: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "identifier_duration_seconds",
			Help:      "Wall time spent processing one identifier.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
	m.registry.MustRegister(
		m.checkpoints,
		m.identifiers,
		m.captures,
		m.registryPages,
		m.candidates,
		m.identifierTimer,
	)
	return m
}

// ObserveResult counts one identifier's checkpoints, captures, and overall
// result, and records how long it took in seconds.
func (m *Metrics) ObserveResult(r types.HarvestResult, seconds float64) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues("evidence", string(r.Evidence)).Inc()
	m.checkpoints.WithLabelValues("record", string(r.Record)).Inc()
	m.checkpoints.WithLabelValues("summary", string(r.Summary)).Inc()
	m.captures.Add(float64(r.Captures))

	result := "failure"
	if r.Success() {
		result = "success"
	}
	m.identifiers.WithLabelValues(result).Inc()
	m.identifierTimer.Observe(seconds)
}

// ObserveQuery records a registry query's page count and result size.
func (m *Metrics) ObserveQuery(pages, candidates int) {
	if m == nil {
		return
	}
	m.registryPages.Add(float64(pages))
	m.candidates.Set(float64(candidates))
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the current values to dir/metrics.prom in the text
// exposition format.
func (m *Metrics) WriteTextfile(dir string) error {
	if m == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	path := filepath.Join(dir, TextfileName)
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
