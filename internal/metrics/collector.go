// Package queenmetrics provides the switch's Prometheus-backed
// switchcore.MetricsSink implementation.
package queenmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus metric constants
// -------------------------------------------------------------------------

const (
	namespace = "goqueen"
	subsystem = "switch"
)

// Label name for control-channel latency observations.
const labelChan = "chan"

// -------------------------------------------------------------------------
// Collector — Prometheus switch metrics
// -------------------------------------------------------------------------

// Collector holds every switch-wide Prometheus metric and implements
// switchcore.MetricsSink: gauges for live state, counters for events, and
// a histogram for control-handler latency.
type Collector struct {
	// Sessions tracks the number of currently live switch sessions.
	Sessions prometheus.Gauge

	// Accepted counts sessions admitted by hook.Accept.
	Accepted prometheus.Counter

	// Rejected counts connect attempts turned away by hook.Accept.
	Rejected prometheus.Counter

	// Routed counts successful relay deliveries.
	Routed prometheus.Counter

	// Dropped counts messages dropped due to stream backpressure or a
	// closed peer; at-most-once delivery is the contract.
	Dropped prometheus.Counter

	// AuthFailures counts _auth attempts rejected by hook.Auth.
	AuthFailures prometheus.Counter

	// ControlLatency observes how long each control handler takes to run,
	// labeled by channel.
	ControlLatency *prometheus.HistogramVec
}

// NewCollector creates a Collector with every metric registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.Accepted,
		c.Rejected,
		c.Routed,
		c.Dropped,
		c.AuthFailures,
		c.ControlLatency,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently live switch sessions.",
		}),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "accepted_total",
			Help:      "Total connect attempts admitted by the accept hook.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejected_total",
			Help:      "Total connect attempts turned away by the accept hook.",
		}),
		Routed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "routed_total",
			Help:      "Total relay messages successfully delivered to a recipient.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_total",
			Help:      "Total messages dropped due to backpressure or a closed peer.",
		}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total _auth attempts rejected by the auth hook.",
		}),
		ControlLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "control_latency_seconds",
			Help:      "Control-channel handler latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{labelChan}),
	}
}

// -------------------------------------------------------------------------
// switchcore.MetricsSink
// -------------------------------------------------------------------------

func (c *Collector) IncAccepted()      { c.Accepted.Inc() }
func (c *Collector) IncRejected()      { c.Rejected.Inc() }
func (c *Collector) IncRouted()        { c.Routed.Inc() }
func (c *Collector) IncDropped()       { c.Dropped.Inc() }
func (c *Collector) IncAuthFailure()   { c.AuthFailures.Inc() }
func (c *Collector) SetSessionCount(n int) { c.Sessions.Set(float64(n)) }

func (c *Collector) ObserveControlLatency(chan_ string, d time.Duration) {
	c.ControlLatency.WithLabelValues(chan_).Observe(d.Seconds())
}
