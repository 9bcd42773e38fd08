package internal

import (
	"fmt"
	"math/big"
	"time"
)

// HealthResponse is the upstream RPC health summary.
type HealthResponse struct {
	Status                string `json:"status"`
	LatestLedger          uint32 `json:"latest_ledger"`
	OldestLedger          uint32 `json:"oldest_ledger"`
	LedgerRetentionWindow uint32 `json:"ledger_retention_window"`
}

// LedgerInfo contains the metadata of a single closed ledger.
type LedgerInfo struct {
	Sequence         uint32    `json:"sequence"`
	Hash             string    `json:"hash"`
	CloseTime        time.Time `json:"close_time"`
	TransactionCount int       `json:"transaction_count"`
	OperationCount   int       `json:"operation_count"`
}

// LedgersRequest selects a page of ledgers. StartSequence and Cursor are
// mutually exclusive; when both are empty the page ends at the latest ledger.
type LedgersRequest struct {
	StartSequence *uint32
	Limit         int
	Cursor        string
}

// LedgerPage is one page of ledgers in strictly increasing sequence order.
type LedgerPage struct {
	Ledgers      []LedgerInfo `json:"ledgers"`
	LatestLedger uint32       `json:"latest_ledger"`
	OldestLedger uint32       `json:"oldest_ledger"`
	// Cursor, when set, continues the enumeration after the last ledger of this page.
	Cursor string `json:"cursor,omitempty"`
}

// Payment is a normalized value transfer between two accounts.
// AssetCode and AssetIssuer are empty for the native asset.
type Payment struct {
	ID            string    `json:"id"`
	PagingToken   string    `json:"paging_token"`
	SourceAccount string    `json:"source_account"`
	Destination   string    `json:"destination"`
	Amount        string    `json:"amount"`
	AssetType     AssetType `json:"asset_type"`
	AssetCode     string    `json:"asset_code,omitempty"`
	AssetIssuer   string    `json:"asset_issuer,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Asset returns the asset the payment was made in.
func (p Payment) Asset() Asset {
	return Asset{Type: p.AssetType, Code: p.AssetCode, Issuer: p.AssetIssuer}
}

// Trade is a normalized DEX or liquidity pool trade.
type Trade struct {
	ID                 string    `json:"id"`
	PagingToken        string    `json:"paging_token"`
	BaseAmount         string    `json:"base_amount"`
	BaseAssetType      AssetType `json:"base_asset_type"`
	BaseAssetCode      string    `json:"base_asset_code,omitempty"`
	BaseAssetIssuer    string    `json:"base_asset_issuer,omitempty"`
	CounterAmount      string    `json:"counter_amount"`
	CounterAssetType   AssetType `json:"counter_asset_type"`
	CounterAssetCode   string    `json:"counter_asset_code,omitempty"`
	CounterAssetIssuer string    `json:"counter_asset_issuer,omitempty"`
	BaseIsSeller       bool      `json:"base_is_seller"`
	Price              Price     `json:"price"`
	LedgerCloseTime    time.Time `json:"ledger_close_time"`
}

// Price is a rational price n/d.
type Price struct {
	N int64 `json:"n"`
	D int64 `json:"d"`
}

// Validate reports whether the price is positive and has a non-zero denominator.
func (p Price) Validate() error {
	if p.D == 0 {
		return fmt.Errorf("price denominator cannot be 0: %d/%d", p.N, p.D)
	}
	if p.N <= 0 || p.D < 0 {
		return fmt.Errorf("price must be positive: %d/%d", p.N, p.D)
	}
	return nil
}

// String renders the price with seven decimal places.
func (p Price) String() string {
	if err := p.Validate(); err != nil {
		return fmt.Sprintf("<invalid price (%d/%d)>", p.N, p.D)
	}
	return big.NewRat(p.N, p.D).FloatString(7)
}

// Cheaper reports whether p is strictly lower than q. Both prices must be valid.
func (p Price) Cheaper(q Price) bool {
	// cross product avoids float rounding
	lhs := new(big.Int).Mul(big.NewInt(p.N), big.NewInt(q.D))
	rhs := new(big.Int).Mul(big.NewInt(q.N), big.NewInt(p.D))
	return lhs.Cmp(rhs) < 0
}

// OrderBookEntry is one aggregated price level.
type OrderBookEntry struct {
	Price  string `json:"price"`
	PriceR Price  `json:"price_r"`
	Amount string `json:"amount"`
}

// OrderBook holds bids (highest first) and asks (lowest first) for a pair.
type OrderBook struct {
	Selling Asset            `json:"selling"`
	Buying  Asset            `json:"buying"`
	Bids    []OrderBookEntry `json:"bids"`
	Asks    []OrderBookEntry `json:"asks"`
}
