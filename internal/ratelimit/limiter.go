// Package ratelimit bounds the outbound call rate with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/support/log"
	"golang.org/x/time/rate"
)

// Config configures the bucket. Capacity tokens are available at start and
// the bucket refills at RefillRate tokens per second. A zero WaitTimeout
// lets Acquire wait as long as the caller's context allows.
type Config struct {
	Capacity    int           `toml:"capacity" valid:"-"`
	RefillRate  float64       `toml:"refill_rate" valid:"-"`
	WaitTimeout time.Duration `toml:"wait_timeout" valid:"-"`
}

// DefaultConfig returns a bucket of 10 tokens refilled at 5 per second.
func DefaultConfig() Config {
	return Config{Capacity: 10, RefillRate: 5}
}

// Validate rejects a non-positive capacity or refill rate.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return errors.Errorf("rate limiter capacity must be at least 1, got %d", c.Capacity)
	}
	if c.RefillRate <= 0 {
		return errors.Errorf("rate limiter refill rate must be positive, got %v", c.RefillRate)
	}
	if c.WaitTimeout < 0 {
		return errors.Errorf("rate limiter wait timeout cannot be negative, got %s", c.WaitTimeout)
	}
	return nil
}

// LimitedError is returned when a token cannot be obtained within the
// wait-timeout or before the caller's deadline. Err is set to the context
// error when the caller's context was the reason rather than the wait-timeout.
type LimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *LimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited: next token in %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: next token in %s", e.RetryAfter)
}

// Unwrap returns the context error, if any.
func (e *LimitedError) Unwrap() error {
	return e.Err
}

// Metrics is a point-in-time view of the bucket and its counters.
type Metrics struct {
	Capacity   int     `json:"capacity"`
	RefillRate float64 `json:"refill_rate"`
	Tokens     float64 `json:"tokens"`
	Acquired   uint64  `json:"acquired"`
	Throttled  uint64  `json:"throttled"`
	Rejected   uint64  `json:"rejected"`
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger used for throttling messages.
func WithLogger(logger *log.Entry) Option {
	return func(l *Limiter) { l.logger = logger }
}

// Limiter is a token bucket safe for concurrent use. Every bucket mutation is
// serialized by the underlying rate.Limiter.
type Limiter struct {
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
	logger  *log.Entry

	acquired  atomic.Uint64
	throttled atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a full bucket.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RefillRate), cfg.Capacity),
		now:     time.Now,
		logger:  log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Acquire takes one token, suspending the caller until one is available.
// It fails without waiting when the required delay exceeds the wait-timeout
// or would outlast the context deadline, and stops waiting when ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	now := l.now()
	reservation := l.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		l.rejected.Add(1)
		return &LimitedError{}
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		l.acquired.Add(1)
		return nil
	}

	if l.cfg.WaitTimeout > 0 && delay > l.cfg.WaitTimeout {
		reservation.CancelAt(now)
		l.rejected.Add(1)
		return &LimitedError{RetryAfter: delay}
	}
	if deadline, ok := ctx.Deadline(); ok && now.Add(delay).After(deadline) {
		reservation.CancelAt(now)
		l.rejected.Add(1)
		return &LimitedError{RetryAfter: delay, Err: context.DeadlineExceeded}
	}

	l.throttled.Add(1)
	l.logger.WithField("delay", delay).Debug("waiting for rate limiter token")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		l.acquired.Add(1)
		return nil
	case <-ctx.Done():
		reservation.CancelAt(l.now())
		l.rejected.Add(1)
		return &LimitedError{RetryAfter: delay, Err: ctx.Err()}
	}
}

// Tokens returns the number of tokens currently available, in [0, Capacity].
func (l *Limiter) Tokens() float64 {
	tokens := l.limiter.TokensAt(l.now())
	switch {
	case tokens < 0:
		// pending reservations borrow against future refills
		return 0
	case tokens > float64(l.cfg.Capacity):
		return float64(l.cfg.Capacity)
	}
	return tokens
}

// Metrics returns the current bucket state and counters.
func (l *Limiter) Metrics() Metrics {
	return Metrics{
		Capacity:   l.cfg.Capacity,
		RefillRate: l.cfg.RefillRate,
		Tokens:     l.Tokens(),
		Acquired:   l.acquired.Load(),
		Throttled:  l.throttled.Load(),
		Rejected:   l.rejected.Load(),
	}
}
