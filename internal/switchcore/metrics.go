package switchcore

import "time"

// MetricsSink receives switch counters: an interface with an always-
// present no-op default so the dispatch loop never needs a nil check on
// its hot path. A Prometheus-backed implementation lives in
// internal/metrics.
type MetricsSink interface {
	IncAccepted()
	IncRejected()
	IncRouted()
	IncDropped()
	IncAuthFailure()
	SetSessionCount(n int)
	ObserveControlLatency(chan_ string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncAccepted()                                {}
func (noopMetrics) IncRejected()                                {}
func (noopMetrics) IncRouted()                                  {}
func (noopMetrics) IncDropped()                                 {}
func (noopMetrics) IncAuthFailure()                              {}
func (noopMetrics) SetSessionCount(int)                          {}
func (noopMetrics) ObserveControlLatency(string, time.Duration)  {}

var _ MetricsSink = noopMetrics{}
