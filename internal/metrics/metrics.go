package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the companion
type Metrics struct {
	// Command metrics
	Commands        *prometheus.CounterVec
	CommandDuration prometheus.Histogram

	// Drain metrics
	DrainRuns    prometheus.Counter
	DrainBacklog prometheus.Histogram

	// Relay connection metrics
	Reconnects prometheus.Counter
	RelayState prometheus.Gauge
}

var globalMetrics *Metrics

// connection states as gauge values
var stateValues = map[string]float64{
	"disconnected": 0,
	"connecting":   1,
	"connected":    2,
	"ready":        3,
}

// Init initializes the Prometheus metrics. viewCount, when non-nil, is
// polled by a collector for the number of attached observer views.
func Init(viewCount func() int) *Metrics {
	m := &Metrics{
		// Commands by type and outcome (counter - only goes up)
		Commands: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sheetlink_commands_total",
			Help: "Total number of remote commands by type and outcome",
		}, []string{"type", "outcome"}), // outcome: "completed", "failed" or "skipped"

		// Command latency histogram
		CommandDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sheetlink_command_duration_seconds",
			Help:    "Command execution latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5}, // dominated by relay round-trips
		}),

		// Backlog drain runs
		DrainRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sheetlink_drains_total",
			Help: "Total number of backlog drain passes",
		}),

		// Pending rows found per drain
		DrainBacklog: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sheetlink_drain_backlog_size",
			Help:    "Number of pending commands found per drain pass",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 200},
		}),

		// Relay reconnects
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sheetlink_relay_reconnects_total",
			Help: "Total number of relay reconnect attempts",
		}),

		// Relay connection state (gauge - 0 disconnected through 3 ready)
		RelayState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sheetlink_relay_state",
			Help: "Relay subscription state (0=disconnected 1=connecting 2=connected 3=ready)",
		}),
	}

	// Register a collector that reads the view count from the observer hub
	if viewCount != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "sheetlink_views_connected",
				Help: "Current number of attached observer views",
			},
			func() float64 {
				return float64(viewCount())
			},
		))
	}

	globalMetrics = m
	return m
}

// Get returns the global metrics instance, nil before Init
func Get() *Metrics {
	return globalMetrics
}

// RecordCommand records one executed command
func (m *Metrics) RecordCommand(commandType, outcome string, seconds float64) {
	m.Commands.WithLabelValues(commandType, outcome).Inc()
	m.CommandDuration.Observe(seconds)
}

// RecordDrain records a drain pass and the backlog size it found
func (m *Metrics) RecordDrain(backlog int) {
	m.DrainRuns.Inc()
	m.DrainBacklog.Observe(float64(backlog))
}

// RecordReconnect records a relay reconnect attempt
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// RecordRelayState records the relay subscription state
func (m *Metrics) RecordRelayState(state string) {
	m.RelayState.Set(stateValues[state])
}
