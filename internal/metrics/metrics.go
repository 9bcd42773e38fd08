// Package metrics defines the Prometheus collectors of the client and its
// consumers. Collectors are created per registerer so several clients can
// coexist in one process; a nil registerer leaves them unregistered.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/breaker"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/ratelimit"
)

const namespace = "insights"

// Client holds the upstream call metrics.
type Client struct {
	Requests           *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	Retries            *prometheus.CounterVec
	BreakerTransitions *prometheus.CounterVec
}

// NewClient creates the upstream call metrics on reg.
func NewClient(reg prometheus.Registerer) *Client {
	factory := promauto.With(reg)
	return &Client{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of client operations by outcome",
		}, []string{"operation", "outcome"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Time taken by a client operation including rate limiting and retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Total number of retried upstream attempts",
		}, []string{"operation"}),

		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		}, []string{"from", "to"}),
	}
}

// ObserveBreakerTransition is a breaker.OnStateChange hook.
func (c *Client) ObserveBreakerTransition(from, to breaker.State) {
	c.BreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RegisterBreaker exposes the breaker state as a gauge: 0 closed, 1 open, 2 half-open.
func RegisterBreaker(reg prometheus.Registerer, b *breaker.Breaker) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open",
	}, func() float64 {
		return float64(b.State())
	})
}

// RegisterLimiter exposes the limiter counters and available tokens.
func RegisterLimiter(reg prometheus.Registerer, l *ratelimit.Limiter) {
	factory := promauto.With(reg)
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limiter_acquired_total",
		Help:      "Total number of rate limiter tokens acquired",
	}, func() float64 {
		return float64(l.Metrics().Acquired)
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limiter_throttled_total",
		Help:      "Total number of callers that had to wait for a token",
	}, func() float64 {
		return float64(l.Metrics().Throttled)
	})
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limiter_rejected_total",
		Help:      "Total number of callers refused a token",
	}, func() float64 {
		return float64(l.Metrics().Rejected)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limiter_tokens",
		Help:      "Tokens currently available in the bucket",
	}, l.Tokens)
}

// Ingest holds the ingestion pipeline metrics.
type Ingest struct {
	Pages         prometheus.Counter
	Ledgers       prometheus.Counter
	CurrentLedger prometheus.Gauge
	Waits         *prometheus.CounterVec
}

// NewIngest creates the ingestion metrics on reg.
func NewIngest(reg prometheus.Registerer) *Ingest {
	factory := promauto.With(reg)
	return &Ingest{
		Pages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_pages_total",
			Help:      "Total number of ledger pages handed to the sink",
		}),
		Ledgers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_ledgers_total",
			Help:      "Total number of ledgers handed to the sink",
		}),
		CurrentLedger: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_current_ledger",
			Help:      "Last ledger sequence handed to the sink",
		}),
		Waits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_waits_total",
			Help:      "Total number of pauses of the ingestion loop by reason",
		}, []string{"reason"}),
	}
}

// Corridor holds the corridor monitor metrics.
type Corridor struct {
	BestBid *prometheus.GaugeVec
	BestAsk *prometheus.GaugeVec
	Spread  *prometheus.GaugeVec
	Depth   *prometheus.GaugeVec
	Errors  *prometheus.CounterVec
}

// NewCorridor creates the corridor monitor metrics on reg.
func NewCorridor(reg prometheus.Registerer) *Corridor {
	factory := promauto.With(reg)
	return &Corridor{
		BestBid: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corridor_best_bid",
			Help:      "Highest bid price of the corridor",
		}, []string{"corridor"}),
		BestAsk: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corridor_best_ask",
			Help:      "Lowest ask price of the corridor",
		}, []string{"corridor"}),
		Spread: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corridor_spread",
			Help:      "Relative spread between best ask and best bid",
		}, []string{"corridor"}),
		Depth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corridor_depth",
			Help:      "Total amount offered on one side of the corridor",
		}, []string{"corridor", "side"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corridor_poll_errors_total",
			Help:      "Total number of failed order book polls",
		}, []string{"corridor"}),
	}
}
