package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports supervisor activity to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	launches       *prometheus.CounterVec
	launchDuration prometheus.Histogram
	running        prometheus.Gauge
	exits          *prometheus.CounterVec
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		launches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crossroads",
				Subsystem: "engine",
				Name:      "launches_total",
				Help:      "Channel launches by outcome",
			},
			[]string{"result"},
		),
		launchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "crossroads",
				Subsystem: "engine",
				Name:      "launch_duration_seconds",
				Help:      "Time to start both workers of a channel",
				Buckets:   prometheus.DefBuckets,
			},
		),
		running: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "crossroads",
				Subsystem: "engine",
				Name:      "running_channels",
				Help:      "Channels with a live splitter/monitor pair",
			},
		),
		exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crossroads",
				Subsystem: "engine",
				Name:      "worker_exits_total",
				Help:      "Unexpected worker exits by worker kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(m.launches, m.launchDuration, m.running, m.exits)
	return m
}

func (m *Metrics) launchDone(err error, took time.Duration) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(launchResult(err)).Inc()
	m.launchDuration.Observe(took.Seconds())
}

func (m *Metrics) setRunning(n int) {
	if m == nil {
		return
	}
	m.running.Set(float64(n))
}

func (m *Metrics) workerExited(kind Kind) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(string(kind)).Inc()
}

func launchResult(err error) string {
	if err == nil {
		return "success"
	}
	var le *LaunchError
	if errors.As(err, &le) {
		return string(le.Code)
	}
	return "error"
}
