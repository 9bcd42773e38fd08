package internal

import "context"

// LedgerSource is the RPC side of the upstream: node health and ledgers.
type LedgerSource interface {
	// GetHealth returns the node status and the ledger range it retains.
	GetHealth(ctx context.Context) (HealthResponse, error)
	// GetLatestLedger returns the most recently closed ledger.
	GetLatestLedger(ctx context.Context) (LedgerInfo, error)
	// GetLedgers returns one forward page of ledgers.
	GetLedgers(ctx context.Context, request LedgersRequest) (LedgerPage, error)
}

// MarketSource is the Horizon side of the upstream: payments, trades and order books.
type MarketSource interface {
	GetPayments(ctx context.Context, limit int, cursor string) ([]Payment, error)
	GetAccountPayments(ctx context.Context, account string, limit int) ([]Payment, error)
	GetTrades(ctx context.Context, limit int, cursor string) ([]Trade, error)
	GetOrderBook(ctx context.Context, selling, buying Asset, limit int) (OrderBook, error)
}

// NetworkClient defines a general interface for reading Stellar network data.
// It abstracts the upstream services so the live RPC/Horizon pair and the
// deterministic mock can be used interchangeably. Implementations return
// errors from the taxonomy in errors.go and never panic on upstream input.
type NetworkClient interface {
	LedgerSource
	MarketSource
}

// CombinedNetworkClient joins a ledger source and a market source.
type CombinedNetworkClient struct {
	LedgerSource
	MarketSource
}
