package rpcclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/breaker"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/network"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/ratelimit"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/retry"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) GetHealth(ctx context.Context) (internal.HealthResponse, error) {
	args := m.Called(ctx)
	return args.Get(0).(internal.HealthResponse), args.Error(1)
}

func (m *mockBackend) GetLatestLedger(ctx context.Context) (internal.LedgerInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(internal.LedgerInfo), args.Error(1)
}

func (m *mockBackend) GetLedgers(ctx context.Context, request internal.LedgersRequest) (internal.LedgerPage, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(internal.LedgerPage), args.Error(1)
}

func (m *mockBackend) GetPayments(ctx context.Context, limit int, cursor string) ([]internal.Payment, error) {
	args := m.Called(ctx, limit, cursor)
	return args.Get(0).([]internal.Payment), args.Error(1)
}

func (m *mockBackend) GetAccountPayments(ctx context.Context, account string, limit int) ([]internal.Payment, error) {
	args := m.Called(ctx, account, limit)
	return args.Get(0).([]internal.Payment), args.Error(1)
}

func (m *mockBackend) GetTrades(ctx context.Context, limit int, cursor string) ([]internal.Trade, error) {
	args := m.Called(ctx, limit, cursor)
	return args.Get(0).([]internal.Trade), args.Error(1)
}

func (m *mockBackend) GetOrderBook(ctx context.Context, selling, buying internal.Asset, limit int) (internal.OrderBook, error) {
	args := m.Called(ctx, selling, buying, limit)
	return args.Get(0).(internal.OrderBook), args.Error(1)
}

// immediateTimer fires as soon as it is started.
type immediateTimer struct {
	c chan time.Time
}

func newImmediateTimer() *immediateTimer {
	return &immediateTimer{c: make(chan time.Time, 1)}
}

func (t *immediateTimer) Start(time.Duration) { t.c <- time.Now() }
func (t *immediateTimer) Stop()               {}
func (t *immediateTimer) C() <-chan time.Time { return t.c }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	healthy     = internal.HealthResponse{Status: "healthy", LatestLedger: 100, OldestLedger: 1, LedgerRetentionWindow: 100}
	unavailable = &internal.UpstreamStatusError{StatusCode: http.StatusServiceUnavailable}
)

func testConfig(t *testing.T) Config {
	t.Helper()
	net, err := network.ForNetwork(network.Testnet)
	require.NoError(t, err)
	cfg := DefaultConfig(net)
	cfg.RateLimit = ratelimit.Config{Capacity: 100, RefillRate: 100}
	return cfg
}

func newTestClient(t *testing.T, cfg Config, backend internal.NetworkClient, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithRetryOptions(retry.WithTimer(func() backoff.Timer { return newImmediateTimer() }))}, opts...)
	client, err := newClient(cfg, backend, opts...)
	require.NoError(t, err)
	return client
}

func TestMockModeFetchPayments(t *testing.T) {
	net, err := network.ForNetwork(network.Testnet)
	require.NoError(t, err)

	client, err := New(Config{Network: net, Mock: true})
	require.NoError(t, err)
	assert.Equal(t, ModeMock, client.Mode())
	assert.Equal(t, network.Testnet, client.Network().Network)

	payments, err := client.FetchPayments(context.Background(), 5, "")
	require.NoError(t, err)
	require.Len(t, payments, 5)
	for _, payment := range payments {
		assert.NotEmpty(t, payment.ID)
		assert.NotEqual(t, payment.SourceAccount, payment.Destination)
	}

	status := client.Status()
	assert.Nil(t, status.Breaker)
	assert.Nil(t, status.Limiter)
}

func TestMockModeIsDeterministic(t *testing.T) {
	net, err := network.ForNetwork(network.Mainnet)
	require.NoError(t, err)
	a, err := New(Config{Network: net, Mock: true})
	require.NoError(t, err)
	b, err := New(Config{Network: net, Mock: true})
	require.NoError(t, err)

	ctx := context.Background()
	start := uint32(1234)
	pageA, err := a.FetchLedgers(ctx, internal.LedgersRequest{StartSequence: &start, Limit: 10})
	require.NoError(t, err)
	pageB, err := b.FetchLedgers(ctx, internal.LedgersRequest{StartSequence: &start, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, pageA, pageB)
}

func TestInvalidRequestsNeverReachUpstream(t *testing.T) {
	backend := &mockBackend{}
	client := newTestClient(t, testConfig(t), backend)
	ctx := context.Background()

	var invalid *internal.InvalidRequestError
	_, err := client.FetchPayments(ctx, 0, "")
	assert.ErrorAs(t, err, &invalid)
	_, err = client.FetchTrades(ctx, internal.MaxLimit+1, "")
	assert.ErrorAs(t, err, &invalid)
	_, err = client.FetchAccountPayments(ctx, "not-an-account", 10)
	assert.ErrorAs(t, err, &invalid)
	_, err = client.FetchOrderBook(ctx, internal.NativeAsset(), internal.NativeAsset(), 10)
	assert.ErrorAs(t, err, &invalid)
	start := uint32(5)
	_, err = client.FetchLedgers(ctx, internal.LedgersRequest{StartSequence: &start, Cursor: "5", Limit: 1})
	assert.ErrorAs(t, err, &invalid)

	backend.AssertExpectations(t)
	assert.Empty(t, backend.Calls)
	assert.Equal(t, breaker.Closed, client.Status().Breaker.State)
	assert.Zero(t, client.Status().Limiter.Acquired)
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retry.MaxAttempts = 3
	cfg.Breaker.FailureThreshold = 10

	backend := &mockBackend{}
	backend.On("GetHealth", mock.Anything).
		Return(internal.HealthResponse{}, &internal.NetworkError{Op: "get_health", Err: http.ErrHandlerTimeout})
	client := newTestClient(t, cfg, backend)

	_, err := client.CheckHealth(context.Background())
	var netErr *internal.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, 3, netErr.Attempts)
	assert.Equal(t, "check_health", netErr.Op)
	backend.AssertNumberOfCalls(t, "GetHealth", 3)
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	backend := &mockBackend{}
	backend.On("GetHealth", mock.Anything).Return(internal.HealthResponse{}, unavailable).Once()
	backend.On("GetHealth", mock.Anything).Return(healthy, nil).Once()

	client := newTestClient(t, testConfig(t), backend)
	health, err := client.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, healthy, health)
	backend.AssertExpectations(t)
	assert.Equal(t, breaker.Closed, client.Status().Breaker.State)
	assert.Zero(t, client.Status().Breaker.ConsecutiveFailures)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	backend := &mockBackend{}
	backend.On("GetTrades", mock.Anything, 10, "").
		Return([]internal.Trade(nil), &internal.UpstreamStatusError{StatusCode: http.StatusNotFound}).Once()

	client := newTestClient(t, testConfig(t), backend)
	_, err := client.FetchTrades(context.Background(), 10, "")
	var status *internal.UpstreamStatusError
	require.ErrorAs(t, err, &status)
	assert.True(t, status.IsNotFound())
	assert.Equal(t, "fetch_trades", status.Op)
	backend.AssertExpectations(t)
	assert.Zero(t, client.Status().Breaker.ConsecutiveFailures)
}

func TestOpenCircuitShortCircuitsCalls(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = breaker.Config{FailureThreshold: 2, SuccessThreshold: 1, OpenDuration: time.Minute}

	backend := &mockBackend{}
	backend.On("GetLatestLedger", mock.Anything).Return(internal.LedgerInfo{}, unavailable)
	registry := prometheus.NewRegistry()
	cfg.Registerer = registry
	client := newTestClient(t, cfg, backend)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.FetchLatestLedger(ctx)
		var status *internal.UpstreamStatusError
		require.ErrorAs(t, err, &status)
	}
	assert.Equal(t, breaker.Open, client.Status().Breaker.State)

	for i := 0; i < 3; i++ {
		_, err := client.FetchLatestLedger(ctx)
		var open *internal.CircuitOpenError
		require.ErrorAs(t, err, &open)
		assert.True(t, internal.IsTemporary(err))
		assert.Positive(t, open.RetryAfter)
	}
	backend.AssertNumberOfCalls(t, "GetLatestLedger", 2)

	assert.Equal(t, 3.0, promtestutil.ToFloat64(client.metrics.Requests.WithLabelValues("fetch_latest_ledger", "circuit_open")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(client.metrics.BreakerTransitions.WithLabelValues("closed", "open")))
}

func TestHalfOpenTrialClosesCircuit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cfg := testConfig(t)
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenDuration: 30 * time.Second}

	backend := &mockBackend{}
	backend.On("GetHealth", mock.Anything).Return(internal.HealthResponse{}, unavailable).Once()
	backend.On("GetHealth", mock.Anything).Return(healthy, nil)
	client := newTestClient(t, cfg, backend, WithBreakerOptions(breaker.WithClock(clock.Now)))
	ctx := context.Background()

	_, err := client.CheckHealth(ctx)
	require.Error(t, err)
	_, err = client.CheckHealth(ctx)
	var open *internal.CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, 30*time.Second, open.RetryAfter)

	clock.Advance(31 * time.Second)
	health, err := client.CheckHealth(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, breaker.Closed, client.Status().Breaker.State)
	backend.AssertNumberOfCalls(t, "GetHealth", 2)
}

func TestHalfOpenTrialFailureReopensCircuit(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cfg := testConfig(t)
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, OpenDuration: 10 * time.Second}

	backend := &mockBackend{}
	backend.On("GetHealth", mock.Anything).Return(internal.HealthResponse{}, unavailable)
	client := newTestClient(t, cfg, backend, WithBreakerOptions(breaker.WithClock(clock.Now)))

	_, err := client.CheckHealth(context.Background())
	require.Error(t, err)
	clock.Advance(11 * time.Second)
	_, err = client.CheckHealth(context.Background())
	var status *internal.UpstreamStatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, breaker.Open, client.Status().Breaker.State)
	require.NotNil(t, client.Status().Breaker.OpenedAt)
	assert.Equal(t, clock.Now(), *client.Status().Breaker.OpenedAt)
}

func TestRateLimiterRejectsBeyondBurst(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = ratelimit.Config{Capacity: 2, RefillRate: 0.01, WaitTimeout: 10 * time.Millisecond}

	backend := &mockBackend{}
	backend.On("GetPayments", mock.Anything, 5, "").Return([]internal.Payment{{ID: "1"}}, nil)
	client := newTestClient(t, cfg, backend)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.FetchPayments(ctx, 5, "")
		require.NoError(t, err)
	}
	_, err := client.FetchPayments(ctx, 5, "")
	var limited *internal.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Greater(t, limited.RetryAfter, cfg.RateLimit.WaitTimeout)

	backend.AssertNumberOfCalls(t, "GetPayments", 2)
	status := client.Status()
	assert.Equal(t, breaker.Closed, status.Breaker.State)
	assert.Equal(t, uint64(2), status.Limiter.Acquired)
	assert.Equal(t, uint64(1), status.Limiter.Rejected)
}

func TestDeadlineWhileWaitingForTokenReturnsTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = ratelimit.Config{Capacity: 1, RefillRate: 0.01}

	backend := &mockBackend{}
	backend.On("GetHealth", mock.Anything).Return(healthy, nil)
	client := newTestClient(t, cfg, backend)

	_, err := client.CheckHealth(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.CheckHealth(ctx)

	var netErr *internal.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.IsTimeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var limited *internal.RateLimitedError
	assert.False(t, errors.As(err, &limited), "a caller deadline is not a rate limit")
	assert.False(t, internal.IsTemporary(err))
	backend.AssertNumberOfCalls(t, "GetHealth", 1)
	assert.Equal(t, breaker.Closed, client.Status().Breaker.State)
}

func TestCancelWhileWaitingForTokenIsNotTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit = ratelimit.Config{Capacity: 1, RefillRate: 0.01}

	backend := &mockBackend{}
	backend.On("GetHealth", mock.Anything).Return(healthy, nil)
	client := newTestClient(t, cfg, backend)

	_, err := client.CheckHealth(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err = client.CheckHealth(ctx)

	var netErr *internal.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.False(t, netErr.IsTimeout())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", outcomeLabel(err))
}

func TestDeadlineDuringBackoffReturnsTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retry = retry.Config{MaxAttempts: 5, InitialBackoff: time.Hour, Multiplier: 2, MaxBackoff: time.Hour}

	backend := &mockBackend{}
	backend.On("GetHealth", mock.Anything).Return(internal.HealthResponse{}, unavailable)
	client, err := newClient(cfg, backend)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = client.CheckHealth(ctx)
	assert.Less(t, time.Since(start), 10*time.Second)

	var netErr *internal.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.IsTimeout())
	assert.Equal(t, 1, netErr.Attempts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	backend.AssertNumberOfCalls(t, "GetHealth", 1)
	assert.Zero(t, client.Status().Breaker.ConsecutiveFailures)
}

func TestConcurrentCallersShareGuards(t *testing.T) {
	cfg := testConfig(t)
	backend := &mockBackend{}
	backend.On("GetTrades", mock.Anything, 3, "").Return([]internal.Trade{{ID: "1-0"}}, nil)
	client := newTestClient(t, cfg, backend)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := client.FetchTrades(context.Background(), 3, "")
			return err
		})
	}
	require.NoError(t, g.Wait())
	backend.AssertNumberOfCalls(t, "GetTrades", 20)
	assert.Equal(t, uint64(20), client.Status().Limiter.Acquired)
}

func TestConfigValidation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.RPCURL = "::not a url"
	_, err := New(cfg)
	assert.ErrorContains(t, err, "invalid rpc url")

	cfg = testConfig(t)
	cfg.Retry.MaxAttempts = 0
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Mock = true
	cfg.Retry.MaxAttempts = 0
	_, err = New(cfg)
	assert.NoError(t, err)
}
