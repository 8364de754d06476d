// Package metrics collects per-run Prometheus metrics for a preparation run
// and writes them in the node_exporter textfile format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one run. Each Metrics owns its registry,
// so several runs in one process do not collide.
type Metrics struct {
	reg *prometheus.Registry

	Samples     *prometheus.CounterVec
	Frames      prometheus.Counter
	ClipSeconds prometheus.Histogram
	StageTime   *prometheus.HistogramVec
}

// New creates and registers the run metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Samples: f.NewCounterVec(prometheus.CounterOpts{
			Name: "speechprep_samples_total",
			Help: "Samples whose features were extracted, by split",
		}, []string{"split"}),
		Frames: f.NewCounter(prometheus.CounterOpts{
			Name: "speechprep_frames_total",
			Help: "Feature frames extracted",
		}),
		ClipSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechprep_clip_seconds",
			Help:    "Decoded clip duration",
			Buckets: []float64{1, 2, 4, 6, 8, 10, 15, 20, 30},
		}),
		StageTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "speechprep_stage_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"stage"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteFile writes all metrics to path in the textfile format.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
