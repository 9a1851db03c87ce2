package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

var (
	registry = prometheus.NewRegistry()
	logger   *zap.Logger
)

type MetricsConfig struct {
	ReportInterval time.Duration
	LogMetrics     bool
}

// Initialize makes the package registry the default registerer.
func Initialize(cfg *MetricsConfig, log *zap.Logger) {
	logger = log
	prometheus.DefaultRegisterer = registry
}

// Registry returns the process-wide registry used by Initialize.
func Registry() *prometheus.Registry {
	return registry
}

// FlashLoanMetrics instruments the aggregation engine.
type FlashLoanMetrics struct {
	ProviderSelections *prometheus.CounterVec
	SkippedProviders   *prometheus.CounterVec
	Errors             *prometheus.CounterVec
	ExecutionLatency   prometheus.Histogram
	Volume             prometheus.Counter
	Fees               prometheus.Counter
	Margin             prometheus.Counter
	ActiveLoans        prometheus.Gauge
	SuccessCount       prometheus.Counter
	TotalCount         prometheus.Counter
	SuccessRate        prometheus.Gauge
	QuoteCacheHits     prometheus.Counter
	QuoteCacheMisses   prometheus.Counter
}

// NewFlashLoanMetrics creates the engine metrics and registers them with reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewFlashLoanMetrics(namespace string, reg prometheus.Registerer) *FlashLoanMetrics {
	f := promauto.With(reg)
	return &FlashLoanMetrics{
		ProviderSelections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_selections_total",
			Help:      "Number of loan legs routed to each provider",
		}, []string{"provider"}),
		SkippedProviders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_query_failures_total",
			Help:      "Provider queries that failed during ranking and were treated as zero liquidity",
		}, []string{"provider"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Number of failed flash loans by error type",
		}, []string{"error_type"}),
		ExecutionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_latency_seconds",
			Help:      "Latency of flash loan execution",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16),
		}),
		Volume: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volume_total",
			Help:      "Total principal lent, in token base units",
		}),
		Fees: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venue_fees_total",
			Help:      "Total venue fees charged, in token base units",
		}),
		Margin: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregator_margin_total",
			Help:      "Total aggregator margin paid to the fee sink",
		}),
		ActiveLoans: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_loans",
			Help:      "Number of flash loans currently executing",
		}),
		SuccessCount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "success_count",
			Help:      "Number of successful flash loan executions",
		}),
		TotalCount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "total_count",
			Help:      "Total number of flash loan executions",
		}),
		SuccessRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "success_rate",
			Help:      "Success rate of flash loan executions",
		}),
		QuoteCacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_cache_hits_total",
			Help:      "Ranked provider lists served from cache",
		}),
		QuoteCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_cache_misses_total",
			Help:      "Ranked provider lists computed from live provider state",
		}),
	}
}

// ObserveOutcome records one finished execution and refreshes SuccessRate.
func (m *FlashLoanMetrics) ObserveOutcome(success bool) {
	m.TotalCount.Inc()
	if success {
		m.SuccessCount.Inc()
	}

	successCount := counterValue(m.SuccessCount)
	totalCount := counterValue(m.TotalCount)
	if totalCount > 0 {
		m.SuccessRate.Set(successCount / totalCount)
	}
}

func counterValue(c prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil || metric.Counter == nil {
		if logger != nil {
			logger.Debug("Failed to read counter", zap.Error(err))
		}
		return 0
	}
	return metric.Counter.GetValue()
}

// Float converts a token amount for counters. Precision loss above 2^53 is
// acceptable for monitoring.
func Float(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
