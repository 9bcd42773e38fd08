// Package breaker implements a three-state circuit breaker that stops calling
// a failing upstream for a cooldown period.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/support/log"
)

// State is the breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Outcome is the result of a call admitted by Allow.
type Outcome int

const (
	// Success resets the failure count, or counts towards closing when half-open.
	Success Outcome = iota
	// Failure counts towards opening, or reopens immediately when half-open.
	Failure
	// Ignored releases the call without affecting the state, e.g. when the
	// caller gave up before the upstream answered.
	Ignored
)

// Config configures the thresholds. HalfOpenMaxTrials bounds the concurrent
// trial calls while half-open and defaults to SuccessThreshold.
type Config struct {
	FailureThreshold  int           `toml:"failure_threshold" valid:"-"`
	SuccessThreshold  int           `toml:"success_threshold" valid:"-"`
	OpenDuration      time.Duration `toml:"open_duration" valid:"-"`
	HalfOpenMaxTrials int           `toml:"half_open_max_trials" valid:"-"`
}

// DefaultConfig opens after 5 consecutive failures for 30 seconds and closes
// after 2 successful trials.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
	}
}

// Validate rejects non-positive thresholds and durations.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return errors.Errorf("breaker failure threshold must be at least 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return errors.Errorf("breaker success threshold must be at least 1, got %d", c.SuccessThreshold)
	}
	if c.OpenDuration <= 0 {
		return errors.Errorf("breaker open duration must be positive, got %s", c.OpenDuration)
	}
	if c.HalfOpenMaxTrials < 0 {
		return errors.Errorf("breaker half-open trials cannot be negative, got %d", c.HalfOpenMaxTrials)
	}
	return nil
}

func (c Config) maxTrials() int {
	if c.HalfOpenMaxTrials > 0 {
		return c.HalfOpenMaxTrials
	}
	return c.SuccessThreshold
}

// OpenError is returned by Allow while the circuit is open or while every
// half-open trial slot is taken.
type OpenError struct {
	OpenedAt   time.Time
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, retry after %s", e.RetryAfter)
}

// Snapshot is a consistent view of the breaker.
type Snapshot struct {
	State               State      `json:"-"`
	StateName           string     `json:"state"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TrialSuccesses      int        `json:"trial_successes"`
	TrialsInFlight      int        `json:"trials_in_flight"`
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *log.Entry) Option {
	return func(b *Breaker) { b.logger = logger }
}

// OnStateChange registers a hook called after every transition, outside the
// breaker's lock.
func OnStateChange(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

type transition struct {
	from, to State
}

// Breaker is safe for concurrent use. All transitions happen under one mutex.
type Breaker struct {
	cfg           Config
	now           func() time.Time
	logger        *log.Entry
	onStateChange func(from, to State)

	mu             sync.Mutex
	state          State
	generation     uint64
	openedAt       time.Time
	failures       int
	trialSuccesses int
	trialsInFlight int
}

// New creates a closed breaker.
func New(cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Breaker{
		cfg:    cfg,
		now:    time.Now,
		logger: log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Allow admits a call or returns *OpenError. An admitted call must report its
// result exactly once through the returned function; later reports are
// dropped, as are reports for calls admitted before the last transition.
func (b *Breaker) Allow() (func(Outcome), error) {
	b.mu.Lock()
	var moved []transition
	now := b.now()

	if b.state == Open {
		elapsed := now.Sub(b.openedAt)
		if elapsed < b.cfg.OpenDuration {
			err := &OpenError{OpenedAt: b.openedAt, RetryAfter: b.cfg.OpenDuration - elapsed}
			b.mu.Unlock()
			return nil, err
		}
		moved = append(moved, b.setState(HalfOpen, now))
	}
	if b.state == HalfOpen {
		if b.trialsInFlight >= b.cfg.maxTrials() {
			err := &OpenError{OpenedAt: b.openedAt}
			b.mu.Unlock()
			b.notify(moved)
			return nil, err
		}
		b.trialsInFlight++
	}
	generation := b.generation
	b.mu.Unlock()
	b.notify(moved)

	var once sync.Once
	return func(outcome Outcome) {
		once.Do(func() { b.record(generation, outcome) })
	}, nil
}

func (b *Breaker) record(generation uint64, outcome Outcome) {
	b.mu.Lock()
	if generation != b.generation {
		b.mu.Unlock()
		return
	}
	var moved []transition
	now := b.now()

	switch b.state {
	case Closed:
		switch outcome {
		case Success:
			b.failures = 0
		case Failure:
			b.failures++
			if b.failures >= b.cfg.FailureThreshold {
				moved = append(moved, b.setState(Open, now))
			}
		}
	case HalfOpen:
		b.trialsInFlight--
		switch outcome {
		case Success:
			b.trialSuccesses++
			if b.trialSuccesses >= b.cfg.SuccessThreshold {
				moved = append(moved, b.setState(Closed, now))
			}
		case Failure:
			moved = append(moved, b.setState(Open, now))
		}
	}
	b.mu.Unlock()
	b.notify(moved)
}

// setState must be called with mu held.
func (b *Breaker) setState(to State, now time.Time) transition {
	from := b.state
	b.state = to
	b.generation++
	b.failures = 0
	b.trialSuccesses = 0
	b.trialsInFlight = 0
	if to == Open {
		b.openedAt = now
	}
	return transition{from: from, to: to}
}

func (b *Breaker) notify(moved []transition) {
	for _, t := range moved {
		entry := b.logger.WithFields(log.F{"from": t.from.String(), "to": t.to.String()})
		if t.to == Open {
			entry.Warn("circuit breaker opened")
		} else {
			entry.Info("circuit breaker state changed")
		}
		if b.onStateChange != nil {
			b.onStateChange(t.from, t.to)
		}
	}
}

// State returns the current state. An expired open period is reported as
// Open until the next call to Allow.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the state and counters read under one lock.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := Snapshot{
		State:               b.state,
		StateName:           b.state.String(),
		ConsecutiveFailures: b.failures,
		TrialSuccesses:      b.trialSuccesses,
		TrialsInFlight:      b.trialsInFlight,
	}
	if b.state != Closed {
		openedAt := b.openedAt
		s.OpenedAt = &openedAt
	}
	return s
}

// Reset forces the breaker closed and drops results of calls in flight.
func (b *Breaker) Reset() {
	b.mu.Lock()
	if b.state == Closed && b.failures == 0 {
		b.mu.Unlock()
		return
	}
	var moved []transition
	if b.state != Closed {
		moved = append(moved, b.setState(Closed, b.now()))
	} else {
		b.failures = 0
		b.generation++
	}
	b.mu.Unlock()
	b.notify(moved)
}
