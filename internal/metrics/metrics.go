// Package metrics exposes the server's Prometheus instrumentation: frame
// throughput, session lifecycle, task engine pressure, and tool outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesReceived counts length-framed messages read off the transport.
	FramesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embermcp_frames_received_total",
			Help: "Total number of length-framed messages received",
		},
		[]string{"connection"},
	)

	// FramesSent counts length-framed messages written to the transport.
	FramesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embermcp_frames_sent_total",
			Help: "Total number of length-framed messages sent",
		},
		[]string{"connection"},
	)

	// FrameBytes tracks the size distribution of frames crossing the wire.
	FrameBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embermcp_frame_bytes",
			Help:    "Size in bytes of length-framed messages",
			Buckets: prometheus.ExponentialBuckets(32, 4, 8), // 32B .. 512KiB
		},
		[]string{"direction"},
	)

	// ActiveSessions tracks currently connected sessions by lifecycle state.
	ActiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "embermcp_active_sessions",
			Help: "Number of connections currently in each session state",
		},
		[]string{"state"},
	)

	// SessionDuration tracks how long a connection stayed open.
	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embermcp_session_duration_seconds",
			Help:    "Connection lifetime in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"reason"},
	)

	// PendingTasks tracks the task engine's current queue depth.
	PendingTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "embermcp_pending_tasks",
			Help: "Number of tasks queued or running in the async task engine",
		},
	)

	// TaskDuration tracks how long a task spent from submission to terminal.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embermcp_task_duration_seconds",
			Help:    "Task duration in seconds from submission to terminal response",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// TasksRejected counts submissions rejected by the resource limit.
	TasksRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "embermcp_tasks_rejected_total",
			Help: "Total number of task submissions rejected for exceeding max_pending_tasks",
		},
	)

	// ToolCalls tracks tool invocations by name and outcome.
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embermcp_tool_calls_total",
			Help: "Total number of tools/call invocations",
		},
		[]string{"tool", "outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler, served alongside the
// length-framed listener on a small administrative HTTP mux.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetSessionStates replaces the active-sessions gauge with a fresh snapshot,
// one sample per lifecycle state name present in counts.
func SetSessionStates(counts map[string]int) {
	ActiveSessions.Reset()
	for state, n := range counts {
		ActiveSessions.WithLabelValues(state).Set(float64(n))
	}
}

// RecordSessionEnd records a closed connection's lifetime, bucketed by the
// reason it ended (e.g. "client_closed", "idle_timeout", "server_shutdown").
func RecordSessionEnd(reason string, durationSeconds float64) {
	SessionDuration.WithLabelValues(reason).Observe(durationSeconds)
}

// RecordToolCall counts one tools/call under the given outcome label;
// cmd/embermcpd records every call as "dispatched".
func RecordToolCall(tool, outcome string) {
	ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordTaskOutcome records a terminal task's duration under its outcome.
func RecordTaskOutcome(outcome string, durationSeconds float64) {
	TaskDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordTaskRejected records a synchronous -32011 resource-limit rejection.
func RecordTaskRejected() {
	TasksRejected.Inc()
}

// SetPendingTasks sets the task engine's current queue-depth gauge.
func SetPendingTasks(n int) {
	PendingTasks.Set(float64(n))
}

// RecordFrame records one length-framed message crossing the wire in the
// given direction ("in" or "out") for connection id, and its size.
func RecordFrame(connection, direction string, sizeBytes int) {
	FrameBytes.WithLabelValues(direction).Observe(float64(sizeBytes))
	if direction == "in" {
		FramesReceived.WithLabelValues(connection).Inc()
	} else {
		FramesSent.WithLabelValues(connection).Inc()
	}
}

// Sink adapts the package-level gauges to internal/schedule.MetricsSink, so
// the scheduler's periodic snapshot job can report into Prometheus without
// this package depending on internal/schedule.
type Sink struct{}

func (Sink) SetPendingTasks(n int)             { SetPendingTasks(n) }
func (Sink) SetSessionStates(c map[string]int) { SetSessionStates(c) }
