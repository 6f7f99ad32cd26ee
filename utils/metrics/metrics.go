package metrics

import (
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
	Namespace  string
	LogMetrics bool
}

// Initialize makes the package registry the default registerer
func Initialize(cfg *MetricsConfig, log *zap.Logger) {
	logger = log
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	if cfg != nil && cfg.LogMetrics && logger != nil {
		logger.Info("Metrics initialized", zap.String("namespace", cfg.Namespace))
	}
}

// Registry returns the registry installed by Initialize
func Registry() *prometheus.Registry {
	return registry
}

// CounterValue reads the current value of a counter
func CounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}

// SetRatio sets gauge to success/total when total is non-zero
func SetRatio(gauge prometheus.Gauge, success, total prometheus.Counter) {
	t := CounterValue(total)
	if t == 0 {
		return
	}
	gauge.Set(CounterValue(success) / t)
}

// QuoteMetrics tracks swap quote requests
type QuoteMetrics struct {
	Requests  prometheus.Counter
	CacheHits prometheus.Counter
	Stale     prometheus.Counter
	Skipped   prometheus.Counter
	Errors    prometheus.Counter
	Latency   prometheus.Histogram
}

// NewQuoteMetrics creates quote metrics on reg. A nil reg leaves them unregistered.
func NewQuoteMetrics(namespace string, reg prometheus.Registerer) *QuoteMetrics {
	f := promauto.With(reg)
	return &QuoteMetrics{
		Requests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "quote_requests_total",
			Help:      "Total number of swap quote requests",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "quote_cache_hits_total",
			Help:      "Total number of quotes served from cache",
		}),
		Stale: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "quote_stale_total",
			Help:      "Total number of quote responses discarded as superseded",
		}),
		Skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "quote_skipped_total",
			Help:      "Total number of quote requests skipped while a transaction is in flight",
		}),
		Errors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "quote_errors_total",
			Help:      "Total number of failed quote requests",
		}),
		Latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "swap",
			Name:      "quote_latency_seconds",
			Help:      "Aggregator quote latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
}

// BatchMetrics tracks the batch transaction lifecycle
type BatchMetrics struct {
	Approvals   *prometheus.CounterVec
	Executions  *prometheus.CounterVec
	Successes   prometheus.Counter
	Total       prometheus.Counter
	SuccessRate prometheus.Gauge
	Groups      prometheus.Gauge
	BatchSize   prometheus.Histogram
	GasLimit    prometheus.Histogram
	AutoClears  prometheus.Counter
}

// NewBatchMetrics creates batch metrics on reg. A nil reg leaves them unregistered.
func NewBatchMetrics(namespace string, reg prometheus.Registerer) *BatchMetrics {
	f := promauto.With(reg)
	return &BatchMetrics{
		Approvals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "approvals_total",
			Help:      "Approval submissions by outcome",
		}, []string{"outcome"}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "executions_total",
			Help:      "Batch executions by outcome",
		}, []string{"outcome"}),
		Successes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "execution_success_count",
			Help:      "Number of successful batch executions",
		}),
		Total: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "execution_total_count",
			Help:      "Number of submitted batch executions",
		}),
		SuccessRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "execution_success_rate",
			Help:      "Success rate of batch executions",
		}),
		Groups: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "groups",
			Help:      "Number of queued transaction groups",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "size_items",
			Help:      "Number of items in executed batches",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		GasLimit: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "gas_limit",
			Help:      "Aggregate gas limit of estimated batches",
			Buckets:   prometheus.ExponentialBuckets(21000, 2, 10),
		}),
		AutoClears: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "auto_clears_total",
			Help:      "Number of batches cleared by the post-settlement timer",
		}),
	}
}

// FlashloanMetrics tracks flashloan routing decisions
type FlashloanMetrics struct {
	Decisions *prometheus.CounterVec
	Blocked   prometheus.Counter
	Premium   prometheus.Histogram
}

// NewFlashloanMetrics creates flashloan metrics on reg. A nil reg leaves them unregistered.
func NewFlashloanMetrics(namespace string, reg prometheus.Registerer) *FlashloanMetrics {
	f := promauto.With(reg)
	return &FlashloanMetrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "routes_total",
			Help:      "Repay transactions built per route",
		}, []string{"route"}),
		Blocked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "blocked_total",
			Help:      "Flashloan required but disabled on the reserve",
		}),
		Premium: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flashloan",
			Name:      "premium_bps",
			Help:      "Flashloan premium in basis points",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),
	}
}
