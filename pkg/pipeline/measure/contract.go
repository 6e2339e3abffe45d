package measure

import "time"

// Measure collects one Metric per pipeline step.
type Measure interface {
	AddMetric(name string, concurrent int) Metric
	Metric(name string) (Metric, bool)
	AllMetrics() map[string]Metric
}

// Metric accumulates the timings of a single step.
type Metric interface {
	AddDuration(elapsed time.Duration)
	AddTransportDuration(inputStepName string, elapsed time.Duration)
	AVGDuration() time.Duration
	AVGTransportDuration() map[string]*TransportInfo
	SetTotalDuration(endDuration time.Duration)
	GetTotalDuration() time.Duration
	Total() int64
	AllTransports() map[string]*TransportInfo
}
