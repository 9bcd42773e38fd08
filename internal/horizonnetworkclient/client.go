package horizonnetworkclient

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/support/errors"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
)

const (
	opPayments        = "payments"
	opAccountPayments = "account_payments"
	opTrades          = "trades"
	opOrderBook       = "order_book"
)

// NetworkClient wraps a horizon client and implements internal.MarketSource.
type NetworkClient struct {
	client horizonclient.ClientInterface
}

// NewNetworkClient creates a new NetworkClient wrapping the given horizon client.
func NewNetworkClient(client horizonclient.ClientInterface) *NetworkClient {
	return &NetworkClient{client: client}
}

// classify maps horizonclient failures onto the internal error taxonomy.
func classify(op string, err error) error {
	var hErr *horizonclient.Error
	if stderrors.As(err, &hErr) {
		status := hErr.Problem.Status
		if hErr.Response != nil {
			status = hErr.Response.StatusCode
		}
		if status == 0 {
			status = http.StatusBadGateway
		}
		return &internal.UpstreamStatusError{Op: op, StatusCode: status, Detail: hErr.Problem.Title}
	}
	return internal.ClassifyError(op, err)
}

// pageOrder returns the Horizon order for a page. Without a cursor the newest
// records are requested so the page ends at the head of the stream.
func pageOrder(cursor string) horizonclient.Order {
	if cursor == "" {
		return horizonclient.OrderDesc
	}
	return horizonclient.OrderAsc
}

// GetPayments returns up to limit payments after cursor, oldest first.
func (h *NetworkClient) GetPayments(ctx context.Context, limit int, cursor string) ([]internal.Payment, error) {
	if err := internal.ValidateLimit(limit); err != nil {
		return nil, err
	}
	request := horizonclient.OperationRequest{
		Cursor: cursor,
		Limit:  uint(limit),
		Order:  pageOrder(cursor),
	}
	return h.payments(ctx, opPayments, request, cursor == "")
}

// GetAccountPayments returns the latest limit payments sent or received by account, oldest first.
func (h *NetworkClient) GetAccountPayments(ctx context.Context, account string, limit int) ([]internal.Payment, error) {
	if err := internal.ValidateAccount(account); err != nil {
		return nil, err
	}
	if err := internal.ValidateLimit(limit); err != nil {
		return nil, err
	}
	request := horizonclient.OperationRequest{
		ForAccount: account,
		Limit:      uint(limit),
		Order:      horizonclient.OrderDesc,
	}
	return h.payments(ctx, opAccountPayments, request, true)
}

func (h *NetworkClient) payments(ctx context.Context, op string, request horizonclient.OperationRequest, reverse bool) ([]internal.Payment, error) {
	page, err := withContext(ctx, func() (operations.OperationsPage, error) {
		return h.client.Payments(request)
	})
	if err != nil {
		return nil, classify(op, err)
	}

	payments := make([]internal.Payment, 0, len(page.Embedded.Records))
	for _, record := range page.Embedded.Records {
		payment, ok, err := normalizePayment(record)
		if err != nil {
			return nil, &internal.DeserializationError{Op: op, Err: err}
		}
		if ok {
			payments = append(payments, payment)
		}
	}
	if reverse {
		for i, j := 0, len(payments)-1; i < j; i, j = i+1, j-1 {
			payments[i], payments[j] = payments[j], payments[i]
		}
	}
	return payments, nil
}

// normalizePayment converts a payments-endpoint record. Operation types that
// do not move value between two accounts are skipped.
func normalizePayment(record operations.Operation) (internal.Payment, bool, error) {
	var (
		payment operations.Payment
		found   bool
	)
	switch op := record.(type) {
	case operations.Payment:
		payment, found = op, true
	case operations.PathPayment:
		payment, found = op.Payment, true
	case operations.PathPaymentStrictSend:
		payment, found = op.Payment, true
	case operations.CreateAccount:
		if _, err := amount.Parse(op.StartingBalance); err != nil {
			return internal.Payment{}, false, errors.Wrapf(err, "operation %s starting balance", op.ID)
		}
		return internal.Payment{
			ID:            op.ID,
			PagingToken:   op.PT,
			SourceAccount: op.Funder,
			Destination:   op.Account,
			Amount:        op.StartingBalance,
			AssetType:     internal.AssetTypeNative,
			CreatedAt:     op.LedgerCloseTime,
		}, true, nil
	}
	if !found {
		return internal.Payment{}, false, nil
	}

	if _, err := amount.Parse(payment.Amount); err != nil {
		return internal.Payment{}, false, errors.Wrapf(err, "operation %s amount", payment.Base.ID)
	}
	asset := internal.Asset{
		Type:   internal.AssetType(payment.Asset.Type),
		Code:   payment.Asset.Code,
		Issuer: payment.Asset.Issuer,
	}
	if err := asset.Validate(); err != nil {
		return internal.Payment{}, false, errors.Wrapf(err, "operation %s asset", payment.Base.ID)
	}
	return internal.Payment{
		ID:            payment.Base.ID,
		PagingToken:   payment.Base.PT,
		SourceAccount: payment.From,
		Destination:   payment.To,
		Amount:        payment.Amount,
		AssetType:     asset.Type,
		AssetCode:     asset.Code,
		AssetIssuer:   asset.Issuer,
		CreatedAt:     payment.Base.LedgerCloseTime,
	}, true, nil
}

// GetTrades returns up to limit trades after cursor, oldest first.
func (h *NetworkClient) GetTrades(ctx context.Context, limit int, cursor string) ([]internal.Trade, error) {
	if err := internal.ValidateLimit(limit); err != nil {
		return nil, err
	}
	request := horizonclient.TradeRequest{
		Cursor: cursor,
		Limit:  uint(limit),
		Order:  pageOrder(cursor),
	}
	page, err := withContext(ctx, func() (horizon.TradesPage, error) {
		return h.client.Trades(request)
	})
	if err != nil {
		return nil, classify(opTrades, err)
	}

	records := page.Embedded.Records
	trades := make([]internal.Trade, 0, len(records))
	for _, record := range records {
		trade, err := normalizeTrade(record)
		if err != nil {
			return nil, &internal.DeserializationError{Op: opTrades, Err: err}
		}
		trades = append(trades, trade)
	}
	if cursor == "" {
		for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
			trades[i], trades[j] = trades[j], trades[i]
		}
	}
	return trades, nil
}

func normalizeTrade(t horizon.Trade) (internal.Trade, error) {
	for _, a := range []string{t.BaseAmount, t.CounterAmount} {
		if _, err := amount.Parse(a); err != nil {
			return internal.Trade{}, errors.Wrapf(err, "trade %s amount", t.ID)
		}
	}
	price := internal.Price{N: int64(t.Price.N), D: int64(t.Price.D)}
	if err := price.Validate(); err != nil {
		return internal.Trade{}, errors.Wrapf(err, "trade %s", t.ID)
	}
	return internal.Trade{
		ID:                 t.ID,
		PagingToken:        t.PT,
		BaseAmount:         t.BaseAmount,
		BaseAssetType:      internal.AssetType(t.BaseAssetType),
		BaseAssetCode:      t.BaseAssetCode,
		BaseAssetIssuer:    t.BaseAssetIssuer,
		CounterAmount:      t.CounterAmount,
		CounterAssetType:   internal.AssetType(t.CounterAssetType),
		CounterAssetCode:   t.CounterAssetCode,
		CounterAssetIssuer: t.CounterAssetIssuer,
		BaseIsSeller:       t.BaseIsSeller,
		Price:              price,
		LedgerCloseTime:    t.LedgerCloseTime,
	}, nil
}

// GetOrderBook returns up to limit price levels per side, best price first.
func (h *NetworkClient) GetOrderBook(ctx context.Context, selling, buying internal.Asset, limit int) (internal.OrderBook, error) {
	if err := internal.ValidateOrderBookPair(selling, buying); err != nil {
		return internal.OrderBook{}, err
	}
	if err := internal.ValidateLimit(limit); err != nil {
		return internal.OrderBook{}, err
	}
	request := horizonclient.OrderBookRequest{
		SellingAssetType:   horizonclient.AssetType(selling.Type),
		SellingAssetCode:   selling.Code,
		SellingAssetIssuer: selling.Issuer,
		BuyingAssetType:    horizonclient.AssetType(buying.Type),
		BuyingAssetCode:    buying.Code,
		BuyingAssetIssuer:  buying.Issuer,
		Limit:              uint(limit),
	}
	summary, err := withContext(ctx, func() (horizon.OrderBookSummary, error) {
		return h.client.OrderBook(request)
	})
	if err != nil {
		return internal.OrderBook{}, classify(opOrderBook, err)
	}

	bids, err := priceLevels(summary.Bids, limit, true)
	if err != nil {
		return internal.OrderBook{}, &internal.DeserializationError{Op: opOrderBook, Err: errors.Wrap(err, "bids")}
	}
	asks, err := priceLevels(summary.Asks, limit, false)
	if err != nil {
		return internal.OrderBook{}, &internal.DeserializationError{Op: opOrderBook, Err: errors.Wrap(err, "asks")}
	}
	return internal.OrderBook{Selling: selling, Buying: buying, Bids: bids, Asks: asks}, nil
}

// priceLevels validates a side of the book and checks that it is ordered
// best first: descending for bids, ascending for asks.
func priceLevels(levels []horizon.PriceLevel, limit int, descending bool) ([]internal.OrderBookEntry, error) {
	if len(levels) > limit {
		levels = levels[:limit]
	}
	entries := make([]internal.OrderBookEntry, 0, len(levels))
	for i, level := range levels {
		price := internal.Price{N: int64(level.PriceR.N), D: int64(level.PriceR.D)}
		if err := price.Validate(); err != nil {
			return nil, errors.Wrapf(err, "level %d", i)
		}
		if _, err := amount.Parse(level.Amount); err != nil {
			return nil, errors.Wrapf(err, "level %d amount", i)
		}
		if i > 0 {
			prev := entries[i-1].PriceR
			if (descending && prev.Cheaper(price)) || (!descending && price.Cheaper(prev)) {
				return nil, errors.Errorf("level %d price %s out of order", i, price)
			}
		}
		entries = append(entries, internal.OrderBookEntry{
			Price:  level.Price,
			PriceR: price,
			Amount: level.Amount,
		})
	}
	return entries, nil
}

// withContext runs a blocking horizonclient call and returns early when ctx
// ends. horizonclient requests carry no context, so the call itself is left
// to finish under the HTTP client's timeout.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn()
		done <- result{value: value, err: err}
	}()
	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
