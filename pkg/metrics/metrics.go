// Package metrics provides Prometheus instrumentation for lokitail.
//
// # Overview
//
// All metrics are registered on the default registry at package init and
// carry a "connector" label naming the connector instance. Components do
// not touch the vectors directly; they create a Collector bound to their
// name and call its recording methods:
//
//	m := metrics.NewCollector("loki")
//	m.PayloadReceived("tail")
//	m.RecordsEmitted(len(records))
//
//	timer := metrics.NewTimer("commit")
//	commit()
//	m.BatchCommitted(timer.Stop())
//
// The cmd/lokitail binary serves the default registry over HTTP with
// promhttp when observability.metrics_addr is set.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PayloadsReceived counts raw upstream payloads by transport mode (tail/poll).
	PayloadsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokitail_payloads_received_total",
			Help: "Raw payloads received from Loki",
		},
		[]string{"connector", "mode"},
	)

	// Heartbeats counts empty tail messages, which carry no data
	Heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokitail_heartbeats_total",
			Help: "Empty payloads skipped as heartbeats",
		},
		[]string{"connector"},
	)

	// RecordsEmitted counts rows committed to the sink
	RecordsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokitail_records_emitted_total",
			Help: "Log records committed to the sink",
		},
		[]string{"connector"},
	)

	// BatchesCommitted counts sink transactions by outcome (committed/rolled_back)
	BatchesCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokitail_batches_total",
			Help: "Sink transactions by outcome",
		},
		[]string{"connector", "status"},
	)

	// BatchDuration tracks how long one sink transaction takes, in seconds
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "lokitail_batch_duration_seconds",
			Help: "Time from BeginTx to Commit for one batch",
			Buckets: []float64{
				0.001, // 1ms - in-memory sinks
				0.01,  // 10ms - local database
				0.1,   // 100ms - remote database
				0.5,
				1,  // 1s - object store upload
				5,  // 5s - slow network
				30, // 30s - pathological
			},
		},
		[]string{"connector"},
	)

	// DecodeErrors counts payloads dropped because they could not be parsed
	DecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokitail_decode_errors_total",
			Help: "Payloads that failed to decode",
		},
		[]string{"connector"},
	)

	// QueryErrors counts failed polling ticks by stage (transport/status/read/decode)
	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokitail_query_errors_total",
			Help: "Range query ticks that failed",
		},
		[]string{"connector", "stage"},
	)

	// StreamFaults counts tail subscriptions lost mid-stream
	StreamFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokitail_stream_faults_total",
			Help: "Tail subscriptions that failed while reading",
		},
		[]string{"connector"},
	)

	// Reconnects counts reconnection attempts by outcome (success/failure)
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokitail_reconnects_total",
			Help: "Tail reconnection attempts",
		},
		[]string{"connector", "status"},
	)

	// DroppedEntries counts entries Loki reported as dropped from a tail
	DroppedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lokitail_dropped_entries_total",
			Help: "Entries Loki dropped from the tail because the client was too slow",
		},
		[]string{"connector"},
	)

	// RunState exposes the current run state as a 0/1 gauge per state name
	RunState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lokitail_run_state",
			Help: "1 for the connector's current run state, 0 otherwise",
		},
		[]string{"connector", "state"},
	)
)

// Collector records metrics for one named connector.
// It is safe for concurrent use; the underlying vectors are.
type Collector struct {
	name      string
	lastState string
	startTime time.Time
}

// NewCollector creates a new metrics collector for a component.
// The name parameter identifies the component in metrics labels.
func NewCollector(name string) *Collector {
	return &Collector{
		name:      name,
		startTime: time.Now(),
	}
}

// Name returns the connector label value
func (c *Collector) Name() string {
	return c.name
}

// StartTime returns when the collector was created
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// PayloadReceived counts one raw payload from the given mode
func (c *Collector) PayloadReceived(mode string) {
	PayloadsReceived.WithLabelValues(c.name, mode).Inc()
}

// Heartbeat counts one skipped empty payload
func (c *Collector) Heartbeat() {
	Heartbeats.WithLabelValues(c.name).Inc()
}

// RecordsEmitted counts n committed rows
func (c *Collector) RecordsEmitted(n int) {
	RecordsEmitted.WithLabelValues(c.name).Add(float64(n))
}

// BatchCommitted counts a committed transaction and observes its duration
func (c *Collector) BatchCommitted(d time.Duration) {
	BatchesCommitted.WithLabelValues(c.name, "committed").Inc()
	BatchDuration.WithLabelValues(c.name).Observe(d.Seconds())
}

// BatchRolledBack counts an aborted transaction
func (c *Collector) BatchRolledBack() {
	BatchesCommitted.WithLabelValues(c.name, "rolled_back").Inc()
}

// DecodeError counts one undecodable payload
func (c *Collector) DecodeError() {
	DecodeErrors.WithLabelValues(c.name).Inc()
}

// QueryError counts one failed tick at the given stage
func (c *Collector) QueryError(stage string) {
	QueryErrors.WithLabelValues(c.name, stage).Inc()
}

// StreamFault counts one lost subscription
func (c *Collector) StreamFault() {
	StreamFaults.WithLabelValues(c.name).Inc()
}

// Reconnect counts one reconnection attempt
func (c *Collector) Reconnect(ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	Reconnects.WithLabelValues(c.name, status).Inc()
}

// DroppedEntries counts entries Loki reported as dropped
func (c *Collector) DroppedEntries(n int) {
	if n <= 0 {
		return
	}
	DroppedEntries.WithLabelValues(c.name).Add(float64(n))
}

// SetState flips the run state gauge. Callers serialize state changes.
func (c *Collector) SetState(state string) {
	if c.lastState != "" {
		RunState.WithLabelValues(c.name, c.lastState).Set(0)
	}
	RunState.WithLabelValues(c.name, state).Set(1)
	c.lastState = state
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's label
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation.
// The timer can be stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
