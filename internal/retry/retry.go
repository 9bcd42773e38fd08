// Package retry re-runs read-only operations that fail with a retryable error,
// waiting an exponentially growing delay between attempts.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/support/log"
)

// Config is the retry policy. The delay after the k-th failed attempt is
// min(InitialBackoff * Multiplier^(k-1), MaxBackoff).
type Config struct {
	MaxAttempts    int           `toml:"max_attempts" valid:"-"`
	InitialBackoff time.Duration `toml:"initial_backoff" valid:"-"`
	Multiplier     float64       `toml:"multiplier" valid:"-"`
	MaxBackoff     time.Duration `toml:"max_backoff" valid:"-"`
}

// DefaultConfig makes 3 attempts starting at 100ms, doubling up to 2s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     2 * time.Second,
	}
}

// Validate enforces MaxAttempts >= 1 and Multiplier >= 1.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return errors.Errorf("retry max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.Multiplier < 1 {
		return errors.Errorf("retry multiplier must be at least 1, got %v", c.Multiplier)
	}
	if c.InitialBackoff < 0 {
		return errors.Errorf("retry initial backoff cannot be negative, got %s", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return errors.Errorf("retry max backoff %s is below initial backoff %s", c.MaxBackoff, c.InitialBackoff)
	}
	return nil
}

// Backoff returns the delay that follows the given failed attempt (1-based).
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt-1))
	if delay >= float64(c.MaxBackoff) {
		return c.MaxBackoff
	}
	return time.Duration(delay)
}

func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval: c.InitialBackoff,
		// no jitter: the schedule is a pure function of the attempt count
		RandomizationFactor: 0,
		Multiplier:          c.Multiplier,
		MaxInterval:         c.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// AbortedError is returned when the caller's context ends before the
// operation succeeds. Last is the error of the last attempt, if one ran.
type AbortedError struct {
	Attempts int
	Err      error
	Last     error
}

func (e *AbortedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("aborted after %d attempt(s): %v (last error: %v)", e.Attempts, e.Err, e.Last)
	}
	return fmt.Sprintf("aborted after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap returns the context error.
func (e *AbortedError) Unwrap() error {
	return e.Err
}

// Option customizes an Executor.
type Option func(*Executor)

// WithTimer replaces the timer used to wait between attempts.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(e *Executor) { e.newTimer = newTimer }
}

// WithLogger sets the logger used for retry messages.
func WithLogger(logger *log.Entry) Option {
	return func(e *Executor) { e.logger = logger }
}

// Executor runs operations under a retry policy. It holds no per-call state,
// so concurrent callers back off independently.
type Executor struct {
	cfg         Config
	isRetryable func(error) bool
	newTimer    func() backoff.Timer
	logger      *log.Entry
}

// New creates an Executor that retries errors for which isRetryable is true.
func New(cfg Config, isRetryable func(error) bool, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if isRetryable == nil {
		return nil, errors.New("retry classifier is required")
	}
	e := &Executor{
		cfg:         cfg,
		isRetryable: isRetryable,
		logger:      log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the policy.
func (e *Executor) Config() Config {
	return e.cfg
}

// Do runs op until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached, and returns the number of attempts made. The
// context is checked before every attempt; when it ends Do returns
// *AbortedError without waiting out the remaining backoff.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &AbortedError{Err: err}
	}

	var (
		attempts int
		last     error
		fatal    bool
	)
	operation := func() error {
		attempts++
		err := op(ctx)
		last = err
		if err != nil && !e.isRetryable(err) {
			fatal = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		e.logger.WithFields(log.F{
			"attempt": attempts,
			"delay":   delay,
			"err":     err,
		}).Warn("retrying after retryable error")
	}

	var timer backoff.Timer
	if e.newTimer != nil {
		timer = e.newTimer()
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(e.cfg.newBackOff(), uint64(e.cfg.MaxAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, timer)
	switch {
	case err == nil:
		return attempts, nil
	case fatal:
		return attempts, last
	case ctx.Err() != nil:
		return attempts, &AbortedError{Attempts: attempts, Err: ctx.Err(), Last: last}
	default:
		return attempts, last
	}
}
