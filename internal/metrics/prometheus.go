package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	commandsTotal    *prometheus.CounterVec
	attemptsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	pauseVerify      *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
}

// NewPrometheusRecorder registers the coordinator metrics with reg.
// A nil reg uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "videoagent_commands_total",
				Help: "Total number of settled coordinator commands by type and status",
			},
			[]string{"type", "status"},
		),
		attemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "videoagent_command_attempts_total",
				Help: "Total number of command execution attempts by type",
			},
			[]string{"type"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "videoagent_transitions_total",
				Help: "Total number of system state transitions",
			},
			[]string{"from", "to"},
		),
		pauseVerify: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "videoagent_pause_verify_seconds",
				Help:    "Time spent verifying that the video is paused",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"verified"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "videoagent_active_sessions",
				Help: "Number of live coordinator sessions",
			},
		),
	}
}

// ObserveCommand records a settled command.
func (p *PrometheusRecorder) ObserveCommand(cmdType, status string, attempts int) {
	p.commandsTotal.WithLabelValues(cmdType, status).Inc()
	if attempts > 0 {
		p.attemptsTotal.WithLabelValues(cmdType).Add(float64(attempts))
	}
}

// ObserveTransition records a state change.
func (p *PrometheusRecorder) ObserveTransition(from, to string) {
	p.transitionsTotal.WithLabelValues(from, to).Inc()
}

// ObservePauseVerify records pause verification latency.
func (p *PrometheusRecorder) ObservePauseVerify(elapsed time.Duration, verified bool) {
	p.pauseVerify.WithLabelValues(strconv.FormatBool(verified)).Observe(elapsed.Seconds())
}

// SessionOpened increments the live session gauge.
func (p *PrometheusRecorder) SessionOpened() {
	p.activeSessions.Inc()
}

// SessionClosed decrements the live session gauge.
func (p *PrometheusRecorder) SessionClosed() {
	p.activeSessions.Dec()
}
