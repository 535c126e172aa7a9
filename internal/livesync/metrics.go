package livesync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsMerged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botdash",
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Update events handed to the merger, by kind, source and outcome",
		},
		[]string{"kind", "source", "outcome"},
	)

	noticesDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botdash",
			Subsystem: "sync",
			Name:      "notices_discarded_total",
			Help:      "Notices dropped before merge",
		},
		[]string{"channel", "reason"},
	)

	channelErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botdash",
			Subsystem: "sync",
			Name:      "channel_errors_total",
			Help:      "Transport and decode errors reported by channel adapters",
		},
		[]string{"channel", "type"},
	)

	transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botdash",
			Subsystem: "sync",
			Name:      "transitions_total",
			Help:      "Failover controller state transitions",
		},
		[]string{"from", "to"},
	)

	controllerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botdash",
			Subsystem: "sync",
			Name:      "state",
			Help:      "Current controller state (0 probing, 1 push active, 2 poll active, 3 closed)",
		},
	)

	pollSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botdash",
			Subsystem: "poll",
			Name:      "skipped_ticks_total",
			Help:      "Poll ticks skipped because the previous request for the endpoint was still running",
		},
		[]string{"endpoint"},
	)

	pollRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "botdash",
			Subsystem: "poll",
			Name:      "request_duration_seconds",
			Help:      "Latency of poll and refresh GET requests",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"endpoint", "result"},
	)
)

func observePollRequest(ep Endpoint, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	pollRequestLatency.WithLabelValues(string(ep), result).Observe(time.Since(start).Seconds())
}
