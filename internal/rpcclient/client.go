// Package rpcclient is the resilient Stellar data client. A live client runs
// every operation through a circuit breaker, a rate limiter and a retry
// policy before reaching the RPC and Horizon upstreams; a mock client
// answers from deterministic synthetic data without any of them.
package rpcclient

import (
	"context"
	"net/http"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/support/log"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/breaker"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/horizonnetworkclient"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/metrics"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/mocknetworkclient"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/network"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/ratelimit"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/retry"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/rpcnetworkclient"
)

// Mode tells whether a client talks to the network.
type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

const defaultHTTPTimeout = 15 * time.Second

// Config is the construction-time configuration of a Client. Retry,
// RateLimit and Breaker are ignored in mock mode.
type Config struct {
	Network     network.Config
	Mock        bool
	Retry       retry.Config
	RateLimit   ratelimit.Config
	Breaker     breaker.Config
	HTTPTimeout time.Duration
	// HTTPClient replaces the client built from HTTPTimeout. Its transport
	// should come from internal.NewHTTPClient so status errors are typed.
	HTTPClient *http.Client
	// Registerer receives the client metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	Logger     *log.Entry
}

// DefaultConfig returns a live configuration for net with default policies.
func DefaultConfig(net network.Config) Config {
	return Config{
		Network:     net,
		Retry:       retry.DefaultConfig(),
		RateLimit:   ratelimit.DefaultConfig(),
		Breaker:     breaker.DefaultConfig(),
		HTTPTimeout: defaultHTTPTimeout,
	}
}

// Validate checks the endpoints and every policy of a live configuration.
func (c Config) Validate() error {
	if c.Mock {
		return nil
	}
	if !govalidator.IsURL(c.Network.RPCURL) {
		return errors.Errorf("invalid rpc url %q", c.Network.RPCURL)
	}
	if !govalidator.IsURL(c.Network.HorizonURL) {
		return errors.Errorf("invalid horizon url %q", c.Network.HorizonURL)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	if c.HTTPTimeout < 0 {
		return errors.Errorf("http timeout cannot be negative, got %s", c.HTTPTimeout)
	}
	return nil
}

// Option customizes the guards of a live client.
type Option func(*options)

type options struct {
	breaker []breaker.Option
	limiter []ratelimit.Option
	retry   []retry.Option
}

// WithBreakerOptions passes options to the circuit breaker.
func WithBreakerOptions(opts ...breaker.Option) Option {
	return func(o *options) { o.breaker = append(o.breaker, opts...) }
}

// WithLimiterOptions passes options to the rate limiter.
func WithLimiterOptions(opts ...ratelimit.Option) Option {
	return func(o *options) { o.limiter = append(o.limiter, opts...) }
}

// WithRetryOptions passes options to the retry executor.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *options) { o.retry = append(o.retry, opts...) }
}

// Client is safe for concurrent use. The breaker and limiter it owns are
// shared by all callers and never exposed.
type Client struct {
	mode    Mode
	network network.Config
	backend internal.NetworkClient
	invoker invoker
	metrics *metrics.Client
	logger  *log.Entry
}

// New builds a mock or live client from cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Mock {
		return newClient(cfg, mocknetworkclient.NewNetworkClient(cfg.Network.Passphrase), opts...)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout == 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = internal.NewHTTPClient(timeout, nil)
	}
	backend := internal.CombinedNetworkClient{
		LedgerSource: rpcnetworkclient.NewNetworkClient(cfg.Network.RPCURL, httpClient),
		MarketSource: horizonnetworkclient.NewNetworkClient(
			horizonnetworkclient.NewHorizonClient(cfg.Network.HorizonURL, httpClient),
		),
	}
	return newClient(cfg, backend, opts...)
}

func newClient(cfg Config, backend internal.NetworkClient, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating client config")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.DefaultLogger
	}
	mode := ModeLive
	if cfg.Mock {
		mode = ModeMock
	}
	logger = logger.WithFields(log.F{"component": "rpcclient", "mode": string(mode), "network": string(cfg.Network.Network)})

	c := &Client{
		mode:    mode,
		network: cfg.Network,
		backend: backend,
		metrics: metrics.NewClient(cfg.Registerer),
		logger:  logger,
	}
	if cfg.Mock {
		c.invoker = directInvoker{}
		return c, nil
	}

	b, err := breaker.New(cfg.Breaker, append([]breaker.Option{
		breaker.WithLogger(logger),
		breaker.OnStateChange(c.metrics.ObserveBreakerTransition),
	}, o.breaker...)...)
	if err != nil {
		return nil, errors.Wrap(err, "creating circuit breaker")
	}
	limiter, err := ratelimit.New(cfg.RateLimit, append([]ratelimit.Option{ratelimit.WithLogger(logger)}, o.limiter...)...)
	if err != nil {
		return nil, errors.Wrap(err, "creating rate limiter")
	}
	retrier, err := retry.New(cfg.Retry, internal.IsRetryable, append([]retry.Option{retry.WithLogger(logger)}, o.retry...)...)
	if err != nil {
		return nil, errors.Wrap(err, "creating retry executor")
	}
	metrics.RegisterBreaker(cfg.Registerer, b)
	metrics.RegisterLimiter(cfg.Registerer, limiter)

	c.invoker = &guardedInvoker{breaker: b, limiter: limiter, retrier: retrier, metrics: c.metrics}
	return c, nil
}

// Mode returns whether the client is live or mock.
func (c *Client) Mode() Mode {
	return c.mode
}

// Network returns the network the client was built for.
func (c *Client) Network() network.Config {
	return c.network
}

// Status is a point-in-time view of the client's guards. Breaker and
// Limiter are nil in mock mode.
type Status struct {
	Network network.Config     `json:"network"`
	Mode    Mode               `json:"mode"`
	Breaker *breaker.Snapshot  `json:"circuit_breaker,omitempty"`
	Limiter *ratelimit.Metrics `json:"rate_limiter,omitempty"`
}

// Status returns the client's mode, network and guard state.
func (c *Client) Status() Status {
	status := Status{Network: c.network, Mode: c.mode}
	if g, ok := c.invoker.(*guardedInvoker); ok {
		snapshot := g.breaker.Snapshot()
		limiter := g.limiter.Metrics()
		status.Breaker = &snapshot
		status.Limiter = &limiter
	}
	return status
}

// ResetCircuitBreaker forces the breaker closed. It reports false in mock
// mode, where there is no breaker.
func (c *Client) ResetCircuitBreaker() bool {
	g, ok := c.invoker.(*guardedInvoker)
	if !ok {
		return false
	}
	g.breaker.Reset()
	c.logger.Info("circuit breaker reset")
	return true
}

// CheckHealth returns the RPC node health.
func (c *Client) CheckHealth(ctx context.Context) (internal.HealthResponse, error) {
	return execute(ctx, c, "check_health", c.backend.GetHealth)
}

// FetchLatestLedger returns the most recently closed ledger.
func (c *Client) FetchLatestLedger(ctx context.Context) (internal.LedgerInfo, error) {
	return execute(ctx, c, "fetch_latest_ledger", c.backend.GetLatestLedger)
}

// FetchLedgers returns one page of consecutive ledgers. The returned cursor
// continues the enumeration when passed to the next call.
func (c *Client) FetchLedgers(ctx context.Context, request internal.LedgersRequest) (internal.LedgerPage, error) {
	if err := internal.ValidateLedgersRequest(request); err != nil {
		return internal.LedgerPage{}, c.rejected("fetch_ledgers", err)
	}
	return execute(ctx, c, "fetch_ledgers", func(ctx context.Context) (internal.LedgerPage, error) {
		return c.backend.GetLedgers(ctx, request)
	})
}

// FetchPayments returns up to limit payments after cursor. An empty cursor
// starts from the most recent payments.
func (c *Client) FetchPayments(ctx context.Context, limit int, cursor string) ([]internal.Payment, error) {
	if err := internal.ValidateLimit(limit); err != nil {
		return nil, c.rejected("fetch_payments", err)
	}
	return execute(ctx, c, "fetch_payments", func(ctx context.Context) ([]internal.Payment, error) {
		return c.backend.GetPayments(ctx, limit, cursor)
	})
}

// FetchAccountPayments returns the latest limit payments sent or received by account.
func (c *Client) FetchAccountPayments(ctx context.Context, account string, limit int) ([]internal.Payment, error) {
	if err := internal.ValidateAccount(account); err != nil {
		return nil, c.rejected("fetch_account_payments", err)
	}
	if err := internal.ValidateLimit(limit); err != nil {
		return nil, c.rejected("fetch_account_payments", err)
	}
	return execute(ctx, c, "fetch_account_payments", func(ctx context.Context) ([]internal.Payment, error) {
		return c.backend.GetAccountPayments(ctx, account, limit)
	})
}

// FetchTrades returns up to limit trades after cursor. An empty cursor
// starts from the most recent trades.
func (c *Client) FetchTrades(ctx context.Context, limit int, cursor string) ([]internal.Trade, error) {
	if err := internal.ValidateLimit(limit); err != nil {
		return nil, c.rejected("fetch_trades", err)
	}
	return execute(ctx, c, "fetch_trades", func(ctx context.Context) ([]internal.Trade, error) {
		return c.backend.GetTrades(ctx, limit, cursor)
	})
}

// FetchOrderBook returns up to limit bids and asks for the pair, best price first.
func (c *Client) FetchOrderBook(ctx context.Context, selling, buying internal.Asset, limit int) (internal.OrderBook, error) {
	if err := internal.ValidateOrderBookPair(selling, buying); err != nil {
		return internal.OrderBook{}, c.rejected("fetch_order_book", err)
	}
	if err := internal.ValidateLimit(limit); err != nil {
		return internal.OrderBook{}, c.rejected("fetch_order_book", err)
	}
	return execute(ctx, c, "fetch_order_book", func(ctx context.Context) (internal.OrderBook, error) {
		return c.backend.GetOrderBook(ctx, selling, buying, limit)
	})
}

func (c *Client) rejected(op string, err error) error {
	c.metrics.Requests.WithLabelValues(op, outcomeLabel(err)).Inc()
	return err
}
