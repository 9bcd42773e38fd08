// Package monitor tracks the liquidity of asset corridors by polling their
// order books.
package monitor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/support/log"
	"golang.org/x/sync/errgroup"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/metrics"
)

// OrderBookFetcher is the subset of rpcclient.Client the monitor needs.
type OrderBookFetcher interface {
	FetchOrderBook(ctx context.Context, selling, buying internal.Asset, limit int) (internal.OrderBook, error)
}

// Corridor is a selling/buying asset pair.
type Corridor struct {
	Selling internal.Asset
	Buying  internal.Asset
}

// ParseCorridor parses "SELLING/BUYING", each side "native" or CODE:ISSUER.
func ParseCorridor(s string) (Corridor, error) {
	sellingStr, buyingStr, ok := strings.Cut(s, "/")
	if !ok {
		return Corridor{}, errors.Errorf("corridor %q must be SELLING/BUYING", s)
	}
	selling, err := internal.ParseAsset(sellingStr)
	if err != nil {
		return Corridor{}, errors.Wrap(err, "selling asset")
	}
	buying, err := internal.ParseAsset(buyingStr)
	if err != nil {
		return Corridor{}, errors.Wrap(err, "buying asset")
	}
	if err := internal.ValidateOrderBookPair(selling, buying); err != nil {
		return Corridor{}, err
	}
	return Corridor{Selling: selling, Buying: buying}, nil
}

// String returns the corridor in ParseCorridor form.
func (c Corridor) String() string {
	return c.Selling.String() + "/" + c.Buying.String()
}

// label is the short form used in metric labels.
func (c Corridor) label() string {
	return assetLabel(c.Selling) + "/" + assetLabel(c.Buying)
}

func assetLabel(a internal.Asset) string {
	if a.IsNative() {
		return "XLM"
	}
	return a.Code
}

// Snapshot is the last observation of one corridor. Prices are in units of
// the buying asset per unit of the selling asset.
type Snapshot struct {
	Corridor  string          `json:"corridor"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	Mid       decimal.Decimal `json:"mid"`
	Spread    decimal.Decimal `json:"spread"`
	BidDepth  decimal.Decimal `json:"bid_depth"`
	AskDepth  decimal.Decimal `json:"ask_depth"`
	TwoSided  bool            `json:"two_sided"`
	UpdatedAt time.Time       `json:"updated_at"`
	Err       string          `json:"error,omitempty"`
}

// Summarize computes the best prices, relative spread and depth of book.
// Spread and Mid stay zero unless both sides are quoted.
func Summarize(book internal.OrderBook) (Snapshot, error) {
	var s Snapshot
	var err error
	if s.BidDepth, err = depth(book.Bids); err != nil {
		return Snapshot{}, errors.Wrap(err, "bids")
	}
	if s.AskDepth, err = depth(book.Asks); err != nil {
		return Snapshot{}, errors.Wrap(err, "asks")
	}
	if len(book.Bids) > 0 {
		s.BestBid = price(book.Bids[0].PriceR)
	}
	if len(book.Asks) > 0 {
		s.BestAsk = price(book.Asks[0].PriceR)
	}
	if len(book.Bids) > 0 && len(book.Asks) > 0 {
		s.TwoSided = true
		s.Mid = s.BestBid.Add(s.BestAsk).Div(decimal.NewFromInt(2))
		if s.Mid.IsPositive() {
			s.Spread = s.BestAsk.Sub(s.BestBid).Div(s.Mid)
		}
	}
	return s, nil
}

func price(p internal.Price) decimal.Decimal {
	if p.D == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(p.N).Div(decimal.NewFromInt(p.D))
}

func depth(levels []internal.OrderBookEntry) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, level := range levels {
		amount, err := decimal.NewFromString(level.Amount)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "parsing amount %q", level.Amount)
		}
		total = total.Add(amount)
	}
	return total, nil
}

// Config lists the corridors and the polling cadence.
type Config struct {
	Corridors []Corridor
	Interval  time.Duration
	// Depth is the number of price levels requested per side.
	Depth int
	// Concurrency bounds the polls in flight. Zero polls every corridor at once.
	Concurrency int
}

// Validate checks the corridors and polling parameters.
func (c Config) Validate() error {
	if len(c.Corridors) == 0 {
		return errors.New("at least one corridor is required")
	}
	for _, corridor := range c.Corridors {
		if err := internal.ValidateOrderBookPair(corridor.Selling, corridor.Buying); err != nil {
			return errors.Wrapf(err, "corridor %s", corridor)
		}
	}
	if c.Interval <= 0 {
		return errors.Errorf("interval must be positive, got %s", c.Interval)
	}
	if err := internal.ValidateLimit(c.Depth); err != nil {
		return errors.Wrap(err, "depth")
	}
	if c.Concurrency < 0 {
		return errors.Errorf("concurrency cannot be negative, got %d", c.Concurrency)
	}
	return nil
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLogger sets the monitor logger.
func WithLogger(logger *log.Entry) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithRegisterer registers the corridor metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Monitor) { m.metrics = metrics.NewCorridor(reg) }
}

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor polls every corridor once per interval. Snapshots is safe to call
// while Run is active.
type Monitor struct {
	client  OrderBookFetcher
	cfg     Config
	logger  *log.Entry
	metrics *metrics.Corridor
	now     func() time.Time

	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// New creates a monitor reading order books from client.
func New(client OrderBookFetcher, cfg Config, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating monitor config")
	}
	m := &Monitor{
		client:    client,
		cfg:       cfg,
		logger:    log.DefaultLogger,
		now:       time.Now,
		snapshots: make(map[string]Snapshot, len(cfg.Corridors)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.NewCorridor(nil)
	}
	m.logger = m.logger.WithField("component", "monitor")
	return m, nil
}

// Run polls immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		m.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce fetches every corridor concurrently and updates the snapshots.
// A failing corridor keeps its previous prices with Err set and never stops
// the others.
func (m *Monitor) PollOnce(ctx context.Context) {
	var g errgroup.Group
	if m.cfg.Concurrency > 0 {
		g.SetLimit(m.cfg.Concurrency)
	}
	for _, corridor := range m.cfg.Corridors {
		g.Go(func() error {
			m.poll(ctx, corridor)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) poll(ctx context.Context, corridor Corridor) {
	key := corridor.String()
	label := corridor.label()

	book, err := m.client.FetchOrderBook(ctx, corridor.Selling, corridor.Buying, m.cfg.Depth)
	var snapshot Snapshot
	if err == nil {
		snapshot, err = Summarize(book)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.metrics.Errors.WithLabelValues(label).Inc()
		m.logger.WithField("corridor", label).WithError(err).Warn("order book poll failed")

		m.mu.Lock()
		previous := m.snapshots[key]
		previous.Corridor = key
		previous.Err = err.Error()
		m.snapshots[key] = previous
		m.mu.Unlock()
		return
	}

	snapshot.Corridor = key
	snapshot.UpdatedAt = m.now()
	m.mu.Lock()
	m.snapshots[key] = snapshot
	m.mu.Unlock()

	m.metrics.BestBid.WithLabelValues(label).Set(snapshot.BestBid.InexactFloat64())
	m.metrics.BestAsk.WithLabelValues(label).Set(snapshot.BestAsk.InexactFloat64())
	m.metrics.Spread.WithLabelValues(label).Set(snapshot.Spread.InexactFloat64())
	m.metrics.Depth.WithLabelValues(label, "bid").Set(snapshot.BidDepth.InexactFloat64())
	m.metrics.Depth.WithLabelValues(label, "ask").Set(snapshot.AskDepth.InexactFloat64())
}

// Snapshot returns the last observation of corridor.
func (m *Monitor) Snapshot(corridor Corridor) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[corridor.String()]
	return s, ok
}

// Snapshots returns the last observation of every polled corridor, sorted by corridor.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Corridor < out[j].Corridor })
	return out
}
