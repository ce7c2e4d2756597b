package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series exported by every fleet process. Kept as package-level
// vars since they are process-wide singletons injected nowhere else.
var (
	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_bot_trades_total",
			Help: "Total number of trade events appended, by bot and side.",
		},
		[]string{"bot_id", "side", "reason"},
	)

	TradeROI = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_bot_trade_roi_percent",
			Help:    "ROI percent recorded at close, by bot.",
			Buckets: prometheus.LinearBuckets(-200, 25, 20),
		},
		[]string{"bot_id"},
	)

	OpenPositions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_bot_open_positions",
			Help: "Whether a bot currently holds an open position (0/1).",
		},
		[]string{"bot_id", "symbol"},
	)

	ExchangeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_bot_exchange_latency_seconds",
			Help:    "Exchange REST call latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"endpoint"},
	)

	RateLimitWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleet_bot_rate_limit_wait_seconds",
			Help:    "Time callers spent waiting on the exchange rate-limit gate.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
	)

	CoordinatorQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_bot_coordinator_queue_depth",
			Help: "Number of bots waiting for search permission.",
		},
	)

	SafetyTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_bot_safety_trips_total",
			Help: "Number of times a bot's margin ratio breached the safety threshold.",
		},
		[]string{"bot_id"},
	)

	ErrorsByCategory = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_bot_errors_total",
			Help: "Errors observed, grouped by category.",
		},
		[]string{"category", "component"},
	)
)

// RecordTrade updates the trade counter and ROI histogram for a closed
// trade.
func RecordTrade(botID, side, reason string, roi float64) {
	TradesTotal.WithLabelValues(botID, side, reason).Inc()
	TradeROI.WithLabelValues(botID).Observe(roi)
}

// ObserveExchangeLatency records the duration of a single REST round trip.
func ObserveExchangeLatency(endpoint string, d time.Duration) {
	ExchangeLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// Handler exposes the Prometheus scrape endpoint, served on a standalone
// metrics port when the operator configures one.
func Handler() http.Handler {
	return promhttp.Handler()
}
