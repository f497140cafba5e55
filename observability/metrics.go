package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnivault",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnivault",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "omnivault",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnivault",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "quota_exceeded" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// EngineMetrics captures the health of the vault engine: operation outcomes,
// portfolio gauges and batch shape.
type EngineMetrics struct {
	operations  *prometheus.CounterVec
	opLatency   *prometheus.HistogramVec
	batchSize   prometheus.Histogram
	totalAssets prometheus.Gauge
	shareSupply prometheus.Gauge
	sharePrice  prometheus.Gauge
	marketValue *prometheus.GaugeVec
}

// Engine returns the singleton metrics registry for the vault engine.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnivault",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of vault engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "omnivault",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "omnivault",
				Subsystem: "engine",
				Name:      "batch_actions",
				Help:      "Number of actions per committed execution batch.",
				Buckets:   []float64{1, 2, 4, 8, 16, 32},
			}),
			totalAssets: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "omnivault",
				Subsystem: "engine",
				Name:      "total_assets",
				Help:      "Managed assets in integer base-asset units, idle plus routed.",
			}),
			shareSupply: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "omnivault",
				Subsystem: "engine",
				Name:      "share_supply",
				Help:      "Outstanding vault shares in integer units.",
			}),
			sharePrice: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "omnivault",
				Subsystem: "engine",
				Name:      "share_price",
				Help:      "Base-asset units backing one share.",
			}),
			marketValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "omnivault",
				Subsystem: "engine",
				Name:      "market_value",
				Help:      "Value routed into each market in integer base-asset units.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.opLatency,
			engineRegistry.batchSize,
			engineRegistry.totalAssets,
			engineRegistry.shareSupply,
			engineRegistry.sharePrice,
			engineRegistry.marketValue,
		)
	})
	return engineRegistry
}

// ObserveOperation records the execution metrics for one engine operation.
func (m *EngineMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveBatch records the action count of a committed batch.
func (m *EngineMetrics) ObserveBatch(actions int) {
	if m == nil {
		return
	}
	if actions < 0 {
		actions = 0
	}
	m.batchSize.Observe(float64(actions))
}

// SetPortfolio refreshes the portfolio gauges after a committed operation.
// The share price is supplied WAD-scaled and stored as a plain ratio.
func (m *EngineMetrics) SetPortfolio(totalAssets, shareSupply, sharePriceWad *big.Int) {
	if m == nil {
		return
	}
	m.totalAssets.Set(bigToFloat(totalAssets))
	m.shareSupply.Set(bigToFloat(shareSupply))
	m.sharePrice.Set(bigToFloat(sharePriceWad) / 1e18)
}

// SetMarketValue updates the per-market routed value gauge.
func (m *EngineMetrics) SetMarketValue(market uint64, value *big.Int) {
	if m == nil {
		return
	}
	m.marketValue.WithLabelValues(fmt.Sprintf("%d", market)).Set(bigToFloat(value))
}

// OracleMetrics bundles collectors for price submissions and quote freshness.
type OracleMetrics struct {
	submissions *prometheus.CounterVec
	freshness   *prometheus.GaugeVec
}

// Oracle returns the metrics registry for the price oracle surface.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "omnivault",
				Subsystem: "oracle",
				Name:      "submissions_total",
				Help:      "Count of accepted price submissions per asset.",
			}, []string{"asset"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "omnivault",
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age in seconds of the most recent quote per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(oracleRegistry.submissions, oracleRegistry.freshness)
	})
	return oracleRegistry
}

// RecordSubmission increments the submission counter for an asset.
func (m *OracleMetrics) RecordSubmission(asset string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(labelAsset(asset)).Inc()
}

// RecordFreshness records how stale the current quote for an asset is.
func (m *OracleMetrics) RecordFreshness(asset string, age time.Duration) {
	if m == nil {
		return
	}
	m.freshness.WithLabelValues(labelAsset(asset)).Set(age.Seconds())
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
