package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trading metrics
	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiwi_engine_trades_total",
			Help: "Total number of trades executed",
		},
		[]string{"symbol", "side"},
	)

	recommendationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiwi_engine_recommendations_total",
			Help: "Total number of recommendations published",
		},
		[]string{"symbol", "side"},
	)

	suppressionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiwi_engine_suppressions_total",
			Help: "Signals gated by the user-rejection suppressor",
		},
		[]string{"symbol"},
	)

	strategySwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiwi_engine_strategy_switches_total",
			Help: "Active strategy switch events",
		},
		[]string{"to", "reason"},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiwi_engine_current_price",
			Help: "Latest observed price per symbol",
		},
		[]string{"symbol"},
	)

	regimeConfidence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kiwi_engine_regime_confidence",
			Help: "Classifier confidence per regime",
		},
		[]string{"symbol", "regime"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiwi_engine_errors_total",
			Help: "Handled errors by taxonomy class",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(recommendationsTotal)
	prometheus.MustRegister(suppressionsTotal)
	prometheus.MustRegister(strategySwitchesTotal)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(regimeConfidence)
	prometheus.MustRegister(errorsTotal)
}

// Handler returns the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTrade records an executed trade.
func RecordTrade(symbol, side string) {
	tradesTotal.WithLabelValues(symbol, side).Inc()
}

// RecordRecommendation records a published recommendation.
func RecordRecommendation(symbol, side string) {
	recommendationsTotal.WithLabelValues(symbol, side).Inc()
}

// RecordSuppression records a gated signal.
func RecordSuppression(symbol string) {
	suppressionsTotal.WithLabelValues(symbol).Inc()
}

// RecordSwitch records a strategy switch.
func RecordSwitch(to, reason string) {
	strategySwitchesTotal.WithLabelValues(to, reason).Inc()
}

// SetPrice updates the latest price gauge.
func SetPrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// SetRegimeConfidence updates the classifier confidence gauges.
func SetRegimeConfidence(symbol, regime string, confidence float64) {
	regimeConfidence.WithLabelValues(symbol, regime).Set(confidence)
}

// RecordError counts a handled error by taxonomy class.
func RecordError(errType string) {
	errorsTotal.WithLabelValues(errType).Inc()
}
