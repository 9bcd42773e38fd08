// Package mocknetworkclient synthesizes deterministic network data. Every
// value is a pure function of the client's seed and the call's arguments, so
// identical calls always return identical results.
package mocknetworkclient

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/keypair"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
)

const (
	// LatestLedger is the sequence reported as the network head.
	LatestLedger uint32 = 50_000_000
	// RetentionWindow is the number of ledgers the mock node claims to retain.
	RetentionWindow uint32 = 17_280
	// DefaultPagingBase is where payment and trade paging tokens start when
	// no cursor is given.
	DefaultPagingBase uint64 = 200_000_000_000

	ledgerCloseInterval = 5 * time.Second
	accountPoolSize     = 32
	maxPaymentStroops   = 10_000 * amount.One
)

var genesisCloseTime = time.Date(2015, 9, 30, 16, 46, 54, 0, time.UTC)

var creditCodes = []string{"USDC", "EURC", "AQUA"}

// NetworkClient implements internal.NetworkClient without any I/O.
type NetworkClient struct {
	seed     string
	accounts []string
	assets   []internal.Asset
}

// NewNetworkClient creates a mock whose data is derived from seed, usually
// the network passphrase.
func NewNetworkClient(seed string) *NetworkClient {
	n := &NetworkClient{seed: seed}
	for i := 0; i < accountPoolSize; i++ {
		n.accounts = append(n.accounts, mustAddress(sha256.Sum256([]byte("account:"+strconv.Itoa(i)))))
	}
	for _, code := range creditCodes {
		issuer := mustAddress(sha256.Sum256([]byte("issuer:" + code)))
		n.assets = append(n.assets, internal.CreditAsset(code, issuer))
	}
	return n
}

// mustAddress derives an account ID from a raw seed. FromRawSeed only fails on
// seeds of the wrong length, which a sha256 sum never is.
func mustAddress(rawSeed [32]byte) string {
	kp, err := keypair.FromRawSeed(rawSeed)
	if err != nil {
		panic(err)
	}
	return kp.Address()
}

// Assets returns the credit assets used in synthesized payments and trades.
func (n *NetworkClient) Assets() []internal.Asset {
	return append([]internal.Asset(nil), n.assets...)
}

type digest [sha256.Size]byte

func (n *NetworkClient) digest(parts ...string) digest {
	return sha256.Sum256([]byte(n.seed + "|" + strings.Join(parts, "|")))
}

// word returns the i-th 64 bit word of the digest, i in [0, 4).
func (d digest) word(i int) uint64 {
	return binary.BigEndian.Uint64(d[i*8:])
}

// LedgerCloseTime returns the synthetic close time of seq.
func LedgerCloseTime(seq uint32) time.Time {
	return genesisCloseTime.Add(time.Duration(seq) * ledgerCloseInterval)
}

// LedgerHash returns the synthetic hash of seq.
func LedgerHash(seq uint32) string {
	sum := sha256.Sum256([]byte("ledger:" + strconv.FormatUint(uint64(seq), 10)))
	return hex.EncodeToString(sum[:])
}

func (n *NetworkClient) ledger(seq uint32) internal.LedgerInfo {
	d := n.digest("ledger", strconv.FormatUint(uint64(seq), 10))
	txs := int(d.word(0) % 200)
	return internal.LedgerInfo{
		Sequence:         seq,
		Hash:             LedgerHash(seq),
		CloseTime:        LedgerCloseTime(seq),
		TransactionCount: txs,
		OperationCount:   txs + int(d.word(1)%uint64(2*txs+1)),
	}
}

// GetHealth reports a healthy node retaining RetentionWindow ledgers.
func (n *NetworkClient) GetHealth(ctx context.Context) (internal.HealthResponse, error) {
	return internal.HealthResponse{
		Status:                "healthy",
		LatestLedger:          LatestLedger,
		OldestLedger:          LatestLedger - RetentionWindow + 1,
		LedgerRetentionWindow: RetentionWindow,
	}, nil
}

// GetLatestLedger returns ledger LatestLedger.
func (n *NetworkClient) GetLatestLedger(ctx context.Context) (internal.LedgerInfo, error) {
	return n.ledger(LatestLedger), nil
}

// GetLedgers returns exactly Limit consecutive ledgers unless the sequence
// space runs out. The cursor is the last returned sequence.
func (n *NetworkClient) GetLedgers(ctx context.Context, request internal.LedgersRequest) (internal.LedgerPage, error) {
	if err := internal.ValidateLedgersRequest(request); err != nil {
		return internal.LedgerPage{}, err
	}

	var start uint32
	switch {
	case request.StartSequence != nil:
		start = *request.StartSequence
	case request.Cursor != "":
		last, err := strconv.ParseUint(request.Cursor, 10, 32)
		if err != nil || last >= math.MaxUint32 {
			return internal.LedgerPage{}, &internal.InvalidRequestError{Field: "cursor", Reason: "not a ledger cursor"}
		}
		start = uint32(last) + 1
	default:
		start = LatestLedger - uint32(request.Limit) + 1
	}

	count := uint64(request.Limit)
	if remaining := uint64(math.MaxUint32) - uint64(start) + 1; count > remaining {
		count = remaining
	}
	page := internal.LedgerPage{
		Ledgers:      make([]internal.LedgerInfo, 0, count),
		LatestLedger: LatestLedger,
		OldestLedger: LatestLedger - RetentionWindow + 1,
	}
	for i := uint64(0); i < count; i++ {
		page.Ledgers = append(page.Ledgers, n.ledger(start+uint32(i)))
	}
	last := page.Ledgers[len(page.Ledgers)-1].Sequence
	page.LatestLedger = max(page.LatestLedger, last)
	page.Cursor = strconv.FormatUint(uint64(last), 10)
	return page, nil
}

func parsePagingCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return DefaultPagingBase, nil
	}
	base, err := strconv.ParseUint(cursor, 10, 63)
	if err != nil {
		return 0, &internal.InvalidRequestError{Field: "cursor", Reason: "not a paging token"}
	}
	return base, nil
}

// tokenTime places a paging token inside the retained ledger range.
func tokenTime(token uint64) time.Time {
	oldest := LatestLedger - RetentionWindow + 1
	return LedgerCloseTime(oldest + uint32(token%uint64(RetentionWindow)))
}

// stroops returns a positive amount below upper.
func stroops(word uint64, upper int64) int64 {
	return int64(word%uint64(upper-1)) + 1
}

// GetPayments returns limit payments with consecutive paging tokens after cursor.
func (n *NetworkClient) GetPayments(ctx context.Context, limit int, cursor string) ([]internal.Payment, error) {
	if err := internal.ValidateLimit(limit); err != nil {
		return nil, err
	}
	base, err := parsePagingCursor(cursor)
	if err != nil {
		return nil, err
	}
	payments := make([]internal.Payment, 0, limit)
	for i := 1; i <= limit; i++ {
		token := base + uint64(i)
		d := n.digest("payment", strconv.FormatUint(token, 10))
		from := n.accounts[d.word(2)%accountPoolSize]
		to := n.accounts[(d.word(2)+1+d.word(3)%(accountPoolSize-1))%accountPoolSize]
		payments = append(payments, n.payment(token, d, from, to))
	}
	return payments, nil
}

// GetAccountPayments returns limit payments that alternately credit and debit account.
func (n *NetworkClient) GetAccountPayments(ctx context.Context, account string, limit int) ([]internal.Payment, error) {
	if err := internal.ValidateAccount(account); err != nil {
		return nil, err
	}
	if err := internal.ValidateLimit(limit); err != nil {
		return nil, err
	}
	payments := make([]internal.Payment, 0, limit)
	for i := 1; i <= limit; i++ {
		token := DefaultPagingBase + uint64(i)
		d := n.digest("account_payment", account, strconv.FormatUint(token, 10))
		counterparty := n.accounts[d.word(2)%accountPoolSize]
		from, to := counterparty, account
		if i%2 == 0 {
			from, to = account, counterparty
		}
		payments = append(payments, n.payment(token, d, from, to))
	}
	return payments, nil
}

func (n *NetworkClient) payment(token uint64, d digest, from, to string) internal.Payment {
	asset := internal.NativeAsset()
	if token%3 != 0 {
		asset = n.assets[d.word(0)%uint64(len(n.assets))]
	}
	id := strconv.FormatUint(token, 10)
	return internal.Payment{
		ID:            id,
		PagingToken:   id,
		SourceAccount: from,
		Destination:   to,
		Amount:        amount.StringFromInt64(stroops(d.word(1), maxPaymentStroops)),
		AssetType:     asset.Type,
		AssetCode:     asset.Code,
		AssetIssuer:   asset.Issuer,
		CreatedAt:     tokenTime(token),
	}
}

// GetTrades returns limit trades of the native asset against the credit
// assets, with consecutive paging tokens after cursor.
func (n *NetworkClient) GetTrades(ctx context.Context, limit int, cursor string) ([]internal.Trade, error) {
	if err := internal.ValidateLimit(limit); err != nil {
		return nil, err
	}
	base, err := parsePagingCursor(cursor)
	if err != nil {
		return nil, err
	}
	trades := make([]internal.Trade, 0, limit)
	for i := 1; i <= limit; i++ {
		token := base + uint64(i)
		d := n.digest("trade", strconv.FormatUint(token, 10))
		counter := n.assets[d.word(0)%uint64(len(n.assets))]
		price := internal.Price{N: int64(d.word(1)%10_000) + 1, D: 10_000}
		baseStroops := stroops(d.word(2), maxPaymentStroops)
		counterStroops := max(baseStroops*price.N/price.D, 1)
		id := fmt.Sprintf("%d-0", token)
		trades = append(trades, internal.Trade{
			ID:                 id,
			PagingToken:        id,
			BaseAmount:         amount.StringFromInt64(baseStroops),
			BaseAssetType:      internal.AssetTypeNative,
			CounterAmount:      amount.StringFromInt64(counterStroops),
			CounterAssetType:   counter.Type,
			CounterAssetCode:   counter.Code,
			CounterAssetIssuer: counter.Issuer,
			BaseIsSeller:       d.word(3)%2 == 0,
			Price:              price,
			LedgerCloseTime:    tokenTime(token),
		})
	}
	return trades, nil
}

// GetOrderBook returns limit bids below and limit asks above a mid price
// seeded from the pair, best price first on both sides.
func (n *NetworkClient) GetOrderBook(ctx context.Context, selling, buying internal.Asset, limit int) (internal.OrderBook, error) {
	if err := internal.ValidateOrderBookPair(selling, buying); err != nil {
		return internal.OrderBook{}, err
	}
	if err := internal.ValidateLimit(limit); err != nil {
		return internal.OrderBook{}, err
	}

	const denominator = 10_000_000
	d := n.digest("order_book", selling.String(), buying.String())
	mid := int64(d.word(0)%(9*denominator)) + denominator
	step := mid / 1000

	book := internal.OrderBook{
		Selling: selling,
		Buying:  buying,
		Bids:    make([]internal.OrderBookEntry, 0, limit),
		Asks:    make([]internal.OrderBookEntry, 0, limit),
	}
	for i := 1; i <= limit; i++ {
		level := strconv.Itoa(i)
		bid := internal.Price{N: mid - int64(i)*step, D: denominator}
		ask := internal.Price{N: mid + int64(i)*step, D: denominator}
		book.Bids = append(book.Bids, internal.OrderBookEntry{
			Price:  bid.String(),
			PriceR: bid,
			Amount: amount.StringFromInt64(stroops(n.digest("bid", selling.String(), buying.String(), level).word(0), maxPaymentStroops)),
		})
		book.Asks = append(book.Asks, internal.OrderBookEntry{
			Price:  ask.String(),
			PriceR: ask,
			Amount: amount.StringFromInt64(stroops(n.digest("ask", selling.String(), buying.String(), level).word(0), maxPaymentStroops)),
		})
	}
	return book, nil
}
