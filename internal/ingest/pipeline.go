// Package ingest pulls ledgers forward page by page and hands them to a sink.
package ingest

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/support/log"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/metrics"
)

// LedgerFetcher is the subset of rpcclient.Client the pipeline needs.
type LedgerFetcher interface {
	FetchLedgers(ctx context.Context, request internal.LedgersRequest) (internal.LedgerPage, error)
}

// Sink receives every non-empty page, in sequence order. A sink error stops
// the pipeline.
type Sink interface {
	Process(ctx context.Context, page internal.LedgerPage) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, page internal.LedgerPage) error

// Process calls f.
func (f SinkFunc) Process(ctx context.Context, page internal.LedgerPage) error {
	return f(ctx, page)
}

// Config controls paging and pacing.
type Config struct {
	PageSize     int           `toml:"page_size" valid:"-"`
	PollInterval time.Duration `toml:"poll_interval" valid:"-"`
	// EndSequence stops the pipeline once this ledger was processed. Zero
	// follows the network head forever.
	EndSequence uint32 `toml:"end_sequence" valid:"-"`
}

// DefaultConfig returns 100 ledger pages polled every 5 seconds once caught up.
func DefaultConfig() Config {
	return Config{PageSize: 100, PollInterval: 5 * time.Second}
}

// Validate checks the page size and poll interval.
func (c Config) Validate() error {
	if err := internal.ValidateLimit(c.PageSize); err != nil {
		return errors.Wrap(err, "page size")
	}
	if c.PollInterval <= 0 {
		return errors.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	return nil
}

// Stats counts the work handed to the sink.
type Stats struct {
	Pages        uint64 `json:"pages"`
	Ledgers      uint64 `json:"ledgers"`
	LastSequence uint32 `json:"last_sequence"`
	Cursor       string `json:"cursor,omitempty"`
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *log.Entry) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithRegisterer registers the ingestion metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pipeline) { p.metrics = metrics.NewIngest(reg) }
}

// Pipeline is a single forward ledger loop. Run must not be called
// concurrently on the same Pipeline; Stats may be read at any time.
type Pipeline struct {
	client  LedgerFetcher
	sink    Sink
	cfg     Config
	logger  *log.Entry
	metrics *metrics.Ingest

	mu    sync.Mutex
	stats Stats
}

// New creates a pipeline reading from client into sink.
func New(client LedgerFetcher, sink Sink, cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating ingest config")
	}
	if client == nil || sink == nil {
		return nil, errors.New("ingest requires a client and a sink")
	}
	p := &Pipeline{
		client: client,
		sink:   sink,
		cfg:    cfg,
		logger: log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.NewIngest(nil)
	}
	p.logger = p.logger.WithField("component", "ingest")
	return p, nil
}

// Stats returns the progress so far.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Run ingests from start, or from the most recent page when start is nil,
// until ctx is done, EndSequence is reached, or a fatal error occurs.
// Open circuits, local rate limiting and exhausted retries pause the loop
// and retry the same request. Cancellation is not an error.
func (p *Pipeline) Run(ctx context.Context, start *uint32) error {
	request := internal.LedgersRequest{StartSequence: start, Limit: p.cfg.PageSize}
	if start != nil && p.cfg.EndSequence != 0 && *start > p.cfg.EndSequence {
		return errors.Errorf("start %d is past end %d", *start, p.cfg.EndSequence)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		page, err := p.client.FetchLedgers(ctx, request)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			delay, reason, ok := p.backoffFor(err)
			if !ok {
				return errors.Wrap(err, "fetching ledgers")
			}
			p.logger.WithFields(log.F{"reason": reason, "delay": delay}).WithError(err).Warn("pausing ingestion")
			p.metrics.Waits.WithLabelValues(reason).Inc()
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}

		if len(page.Ledgers) == 0 {
			if page.Cursor != "" {
				request = internal.LedgersRequest{Cursor: page.Cursor, Limit: p.cfg.PageSize}
			}
			p.metrics.Waits.WithLabelValues("caught_up").Inc()
			if !sleep(ctx, p.cfg.PollInterval) {
				return nil
			}
			continue
		}

		done := false
		if end := p.cfg.EndSequence; end != 0 {
			page.Ledgers, done = truncateAt(page.Ledgers, end)
			if len(page.Ledgers) == 0 {
				return nil
			}
		}
		if err := p.sink.Process(ctx, page); err != nil {
			return errors.Wrap(err, "processing ledger page")
		}

		last := page.Ledgers[len(page.Ledgers)-1].Sequence
		cursor := page.Cursor
		if cursor == "" || done {
			cursor = strconv.FormatUint(uint64(last), 10)
		}
		p.record(page, last, cursor)
		if done || last == ^uint32(0) {
			p.logger.WithField("sequence", last).Info("reached end sequence")
			return nil
		}

		request = internal.LedgersRequest{Cursor: cursor, Limit: p.cfg.PageSize}
		if last >= page.LatestLedger {
			p.metrics.Waits.WithLabelValues("caught_up").Inc()
			if !sleep(ctx, p.cfg.PollInterval) {
				return nil
			}
		}
	}
}

// backoffFor returns how long to pause after err, or false if err is fatal.
func (p *Pipeline) backoffFor(err error) (time.Duration, string, bool) {
	delay := p.cfg.PollInterval
	switch {
	case internal.IsTemporary(err):
		if wait, ok := internal.RetryAfter(err); ok && wait > 0 {
			delay = wait
		}
		var open *internal.CircuitOpenError
		if stderrors.As(err, &open) {
			return delay, "circuit_open", true
		}
		return delay, "rate_limited", true
	case internal.IsRetryable(err):
		return delay, "upstream_error", true
	default:
		return 0, "", false
	}
}

func (p *Pipeline) record(page internal.LedgerPage, last uint32, cursor string) {
	p.mu.Lock()
	p.stats.Pages++
	p.stats.Ledgers += uint64(len(page.Ledgers))
	p.stats.LastSequence = last
	p.stats.Cursor = cursor
	p.mu.Unlock()

	p.metrics.Pages.Inc()
	p.metrics.Ledgers.Add(float64(len(page.Ledgers)))
	p.metrics.CurrentLedger.Set(float64(last))
	p.logger.WithFields(log.F{"ledgers": len(page.Ledgers), "last": last}).Debug("processed ledger page")
}

// truncateAt drops ledgers after end and reports whether end was reached.
func truncateAt(ledgers []internal.LedgerInfo, end uint32) ([]internal.LedgerInfo, bool) {
	for i, ledger := range ledgers {
		if ledger.Sequence == end {
			return ledgers[:i+1], true
		}
		if ledger.Sequence > end {
			return ledgers[:i], true
		}
	}
	return ledgers, false
}

// sleep waits for d and returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
