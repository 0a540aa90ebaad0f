package remote

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports engine link activity. A nil *Metrics records nothing.
type Metrics struct {
	launches       *prometheus.CounterVec
	launchDuration prometheus.Histogram
	pending        prometheus.Gauge
	orphans        prometheus.Counter
	protocolErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crossroads",
			Subsystem: "remote",
			Name:      "launches_total",
			Help:      "Launches forwarded to the engine by outcome",
		}, []string{"result"}),
		launchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crossroads",
			Subsystem: "remote",
			Name:      "launch_duration_seconds",
			Help:      "Time from sending add to receiving its result",
			Buckets:   prometheus.DefBuckets,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crossroads",
			Subsystem: "remote",
			Name:      "pending_requests",
			Help:      "Launches waiting for a result",
		}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crossroads",
			Subsystem: "remote",
			Name:      "orphan_results_total",
			Help:      "Results that matched no pending launch",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crossroads",
			Subsystem: "remote",
			Name:      "protocol_errors_total",
			Help:      "Malformed or unexpected messages from the engine",
		}),
	}
	reg.MustRegister(m.launches, m.launchDuration, m.pending, m.orphans, m.protocolErrors)
	return m
}

func (m *Metrics) launchDone(err error, took time.Duration) {
	if m == nil {
		return
	}
	m.launches.WithLabelValues(launchResult(err)).Inc()
	m.launchDuration.Observe(took.Seconds())
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) orphanResult() {
	if m == nil {
		return
	}
	m.orphans.Inc()
}

func (m *Metrics) protocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}

func launchResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrLaunchRejected):
		return "rejected"
	case errors.Is(err, ErrResultTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrNotConnected):
		return "disconnected"
	}
	return "error"
}
