// Package prometheus provides the Prometheus-backed implementations of the
// metrics interfaces.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nxtools/dbibridge/pkg/metrics"
)

// sessionMetrics is the Prometheus implementation of metrics.SessionMetrics.
type sessionMetrics struct {
	frames         *prometheus.CounterVec
	commands       *prometheus.CounterVec
	streamedBytes  prometheus.Counter
	abortedXfers   prometheus.Counter
	sessionsOpened prometheus.Counter
	sessionsClosed prometheus.Counter
}

// NewSessionMetrics creates a new Prometheus-backed session metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called); the nil
// receiver is safe to use.
func NewSessionMetrics() *sessionMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &sessionMetrics{
		frames: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbi_frames_total",
				Help: "Total command headers received by decode result",
			},
			[]string{"result"}, // "ok", "bad_magic", "short"
		),
		commands: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbi_commands_total",
				Help: "Total commands dispatched by command name",
			},
			[]string{"command"},
		),
		streamedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dbi_streamed_bytes_total",
				Help: "Total payload bytes streamed to the peer",
			},
		),
		abortedXfers: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dbi_transfers_aborted_total",
				Help: "Total range transfers aborted before completion",
			},
		),
		sessionsOpened: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dbi_sessions_started_total",
				Help: "Total peer sessions accepted",
			},
		),
		sessionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dbi_sessions_ended_total",
				Help: "Total peer sessions ended",
			},
		),
	}
}

func (m *sessionMetrics) RecordFrame(result string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(result).Inc()
}

func (m *sessionMetrics) RecordCommand(command string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command).Inc()
}

func (m *sessionMetrics) RecordStreamedBytes(n uint64) {
	if m == nil {
		return
	}
	m.streamedBytes.Add(float64(n))
}

func (m *sessionMetrics) RecordTransferAborted() {
	if m == nil {
		return
	}
	m.abortedXfers.Inc()
}

func (m *sessionMetrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
}

func (m *sessionMetrics) RecordSessionEnded() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
}
