// Package metrics exposes the Prometheus counters of a vrdprep run.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of a run. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	recordsTotal  *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
	imagesTotal   *prometheus.CounterVec
	attemptsTotal *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
}

// New registers the counters on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrdprep_records_total",
				Help: "Total number of relationship records kept, by dataset and split",
			},
			[]string{"dataset", "split"},
		),
		rejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrdprep_records_rejected_total",
				Help: "Total number of raw relationships rejected, by dataset and reason",
			},
			[]string{"dataset", "reason"},
		),
		imagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrdprep_images_total",
				Help: "Total number of images by acquisition outcome",
			},
			[]string{"dataset", "outcome"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vrdprep_fetch_attempts_total",
				Help: "Total number of image fetch attempts",
			},
			[]string{"dataset", "status"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vrdprep_fetch_duration_seconds",
				Help:    "Time taken by a single fetch attempt",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"dataset"},
		),
	}

	m.registry.MustRegister(
		m.recordsTotal,
		m.rejectedTotal,
		m.imagesTotal,
		m.attemptsTotal,
		m.fetchDuration,
	)

	return m
}

// Registry returns the registry holding the counters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

func (m *Metrics) RecordsKept(dataset, split string, n int) {
	if m == nil {
		return
	}
	m.recordsTotal.WithLabelValues(dataset, split).Add(float64(n))
}

func (m *Metrics) RecordsRejected(dataset, reason string, n int) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(dataset, reason).Add(float64(n))
}

// Image counts one image acquisition outcome: fetched, failed or skipped.
func (m *Metrics) Image(dataset, outcome string) {
	if m == nil {
		return
	}
	m.imagesTotal.WithLabelValues(dataset, outcome).Inc()
}

// FetchAttempt counts one fetch attempt and its duration.
func (m *Metrics) FetchAttempt(dataset string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.attemptsTotal.WithLabelValues(dataset, status).Inc()
	m.fetchDuration.WithLabelValues(dataset).Observe(elapsed.Seconds())
}

// WriteTextfile writes the counters in the text exposition format, for the node exporter
// textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}

	return errors.Wrapf(prometheus.WriteToTextfile(path, m.registry), "unable to write metrics to %s", path)
}
