package horizonnetworkclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/base"
	"github.com/stellar/go/protocols/horizon/operations"
	"github.com/stellar/go/support/render/problem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
)

const (
	accountA = "GAS4V4O2B7DW5T7IQRPEEVCRXMDZESKISR7DVIGKZQYYV3OSQ5SH5LVP"
	accountB = "GDRXE2BQUC3AZNPVFSCEZ76NJ3WWL25FYFK6RGZGIEKWE4SOOHSUJUJ6"
	issuer   = "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN"
)

var closeTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func opBase(id string) operations.Base {
	return operations.Base{ID: id, PT: id, LedgerCloseTime: closeTime, TransactionSuccessful: true}
}

func TestNewNetworkClient(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	client := NewNetworkClient(mockClient)

	assert.NotNil(t, client)
	assert.Equal(t, mockClient, client.client)
}

func TestGetPaymentsNormalizesRecords(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	request := horizonclient.OperationRequest{Cursor: "100", Limit: 10, Order: horizonclient.OrderAsc}

	page := operations.OperationsPage{}
	page.Embedded.Records = []operations.Operation{
		operations.Payment{
			Base:   opBase("101"),
			Asset:  base.Asset{Type: "native"},
			From:   accountA,
			To:     accountB,
			Amount: "10.0000000",
		},
		operations.PathPayment{Payment: operations.Payment{
			Base:   opBase("102"),
			Asset:  base.Asset{Type: "credit_alphanum4", Code: "USDC", Issuer: issuer},
			From:   accountB,
			To:     accountA,
			Amount: "2.5000000",
		}},
		operations.CreateAccount{
			Base:            opBase("103"),
			StartingBalance: "1.0000000",
			Funder:          accountA,
			Account:         accountB,
		},
		operations.AccountMerge{Base: opBase("104")},
	}
	mockClient.On("Payments", request).Return(page, nil)

	payments, err := NewNetworkClient(mockClient).GetPayments(context.Background(), 10, "100")
	require.NoError(t, err)
	mockClient.AssertExpectations(t)

	require.Len(t, payments, 3)
	assert.Equal(t, internal.Payment{
		ID:            "101",
		PagingToken:   "101",
		SourceAccount: accountA,
		Destination:   accountB,
		Amount:        "10.0000000",
		AssetType:     internal.AssetTypeNative,
		CreatedAt:     closeTime,
	}, payments[0])
	assert.Equal(t, internal.CreditAsset("USDC", issuer), payments[1].Asset())
	assert.Equal(t, "1.0000000", payments[2].Amount)
	assert.Equal(t, accountA, payments[2].SourceAccount)
	assert.True(t, payments[2].Asset().IsNative())
}

func TestGetPaymentsWithoutCursorReturnsNewestOldestFirst(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	request := horizonclient.OperationRequest{Limit: 2, Order: horizonclient.OrderDesc}

	page := operations.OperationsPage{}
	page.Embedded.Records = []operations.Operation{
		operations.Payment{Base: opBase("9"), Asset: base.Asset{Type: "native"}, Amount: "1"},
		operations.Payment{Base: opBase("8"), Asset: base.Asset{Type: "native"}, Amount: "1"},
	}
	mockClient.On("Payments", request).Return(page, nil)

	payments, err := NewNetworkClient(mockClient).GetPayments(context.Background(), 2, "")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "8", payments[0].ID)
	assert.Equal(t, "9", payments[1].ID)
}

func TestGetPaymentsRejectsBadAmount(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	page := operations.OperationsPage{}
	page.Embedded.Records = []operations.Operation{
		operations.Payment{Base: opBase("1"), Asset: base.Asset{Type: "native"}, Amount: "ten"},
	}
	mockClient.On("Payments", mock.Anything).Return(page, nil)

	_, err := NewNetworkClient(mockClient).GetPayments(context.Background(), 1, "")
	var deserialization *internal.DeserializationError
	require.ErrorAs(t, err, &deserialization)
	assert.False(t, internal.IsRetryable(err))
}

func TestGetAccountPayments(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	request := horizonclient.OperationRequest{ForAccount: accountA, Limit: 5, Order: horizonclient.OrderDesc}
	mockClient.On("Payments", request).Return(operations.OperationsPage{}, nil)

	payments, err := NewNetworkClient(mockClient).GetAccountPayments(context.Background(), accountA, 5)
	require.NoError(t, err)
	assert.Empty(t, payments)
	mockClient.AssertExpectations(t)
}

func TestArgumentsRejectedBeforeUpstream(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	client := NewNetworkClient(mockClient)
	ctx := context.Background()

	var invalid *internal.InvalidRequestError
	_, err := client.GetAccountPayments(ctx, "not-an-account", 5)
	assert.ErrorAs(t, err, &invalid)
	_, err = client.GetPayments(ctx, 0, "")
	assert.ErrorAs(t, err, &invalid)
	_, err = client.GetTrades(ctx, internal.MaxLimit+1, "")
	assert.ErrorAs(t, err, &invalid)
	_, err = client.GetOrderBook(ctx, internal.NativeAsset(), internal.NativeAsset(), 5)
	assert.ErrorAs(t, err, &invalid)

	mockClient.AssertNotCalled(t, "Payments", mock.Anything)
	mockClient.AssertNotCalled(t, "OrderBook", mock.Anything)
}

func TestHorizonErrorsAreClassified(t *testing.T) {
	testCases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "not found", status: http.StatusNotFound},
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true},
		{name: "gateway timeout", status: http.StatusGatewayTimeout, retryable: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockClient := &horizonclient.MockClient{}
			horizonErr := &horizonclient.Error{
				Response: &http.Response{StatusCode: tc.status},
				Problem:  problem.P{Status: tc.status, Title: tc.name},
			}
			mockClient.On("Trades", mock.Anything).Return(horizon.TradesPage{}, horizonErr)

			_, err := NewNetworkClient(mockClient).GetTrades(context.Background(), 10, "")
			var status *internal.UpstreamStatusError
			require.ErrorAs(t, err, &status)
			assert.Equal(t, tc.status, status.StatusCode)
			assert.Equal(t, tc.name, status.Detail)
			assert.Equal(t, tc.retryable, internal.IsRetryable(err))
		})
	}
}

func TestGetTrades(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	request := horizonclient.TradeRequest{Cursor: "5", Limit: 2, Order: horizonclient.OrderAsc}

	page := horizon.TradesPage{}
	page.Embedded.Records = []horizon.Trade{
		{
			ID:                 "6-0",
			PT:                 "6-0",
			LedgerCloseTime:    closeTime,
			BaseAmount:         "100.0000000",
			BaseAssetType:      "native",
			CounterAmount:      "12.0000000",
			CounterAssetType:   "credit_alphanum4",
			CounterAssetCode:   "USDC",
			CounterAssetIssuer: issuer,
			BaseIsSeller:       true,
			Price:              horizon.TradePrice{N: 3, D: 25},
		},
	}
	mockClient.On("Trades", request).Return(page, nil)

	trades, err := NewNetworkClient(mockClient).GetTrades(context.Background(), 2, "5")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, internal.Price{N: 3, D: 25}, trades[0].Price)
	assert.Equal(t, "USDC", trades[0].CounterAssetCode)
	assert.Equal(t, internal.AssetTypeNative, trades[0].BaseAssetType)
	assert.Equal(t, closeTime, trades[0].LedgerCloseTime)
}

func TestGetTradesRejectsZeroDenominator(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	page := horizon.TradesPage{}
	page.Embedded.Records = []horizon.Trade{
		{ID: "1", BaseAmount: "1", CounterAmount: "1", Price: horizon.TradePrice{N: 1, D: 0}},
	}
	mockClient.On("Trades", mock.Anything).Return(page, nil)

	_, err := NewNetworkClient(mockClient).GetTrades(context.Background(), 1, "")
	var deserialization *internal.DeserializationError
	assert.ErrorAs(t, err, &deserialization)
}

func TestGetOrderBook(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	usdc := internal.CreditAsset("USDC", issuer)
	request := horizonclient.OrderBookRequest{
		SellingAssetType:  horizonclient.AssetTypeNative,
		BuyingAssetType:   horizonclient.AssetType4,
		BuyingAssetCode:   "USDC",
		BuyingAssetIssuer: issuer,
		Limit:             2,
	}
	summary := horizon.OrderBookSummary{
		Bids: []horizon.PriceLevel{
			{PriceR: horizon.Price{N: 12, D: 100}, Price: "0.1200000", Amount: "50.0000000"},
			{PriceR: horizon.Price{N: 11, D: 100}, Price: "0.1100000", Amount: "75.0000000"},
			{PriceR: horizon.Price{N: 10, D: 100}, Price: "0.1000000", Amount: "90.0000000"},
		},
		Asks: []horizon.PriceLevel{
			{PriceR: horizon.Price{N: 13, D: 100}, Price: "0.1300000", Amount: "20.0000000"},
		},
	}
	mockClient.On("OrderBook", request).Return(summary, nil)

	book, err := NewNetworkClient(mockClient).GetOrderBook(context.Background(), internal.NativeAsset(), usdc, 2)
	require.NoError(t, err)
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.Equal(t, "0.1200000", book.Bids[0].Price)
	assert.Equal(t, internal.Price{N: 11, D: 100}, book.Bids[1].PriceR)
	assert.Equal(t, usdc, book.Buying)
}

func TestGetOrderBookRejectsUnorderedLevels(t *testing.T) {
	mockClient := &horizonclient.MockClient{}
	summary := horizon.OrderBookSummary{
		Asks: []horizon.PriceLevel{
			{PriceR: horizon.Price{N: 2, D: 1}, Price: "2.0000000", Amount: "1.0000000"},
			{PriceR: horizon.Price{N: 1, D: 1}, Price: "1.0000000", Amount: "1.0000000"},
		},
	}
	mockClient.On("OrderBook", mock.Anything).Return(summary, nil)

	_, err := NewNetworkClient(mockClient).GetOrderBook(context.Background(),
		internal.NativeAsset(), internal.CreditAsset("USDC", issuer), 10)
	var deserialization *internal.DeserializationError
	assert.ErrorAs(t, err, &deserialization)
}

func TestCancelledContextReturnsWithoutWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewNetworkClient(&horizonclient.MockClient{}).GetPayments(ctx, 1, "")
	var network *internal.NetworkError
	require.ErrorAs(t, err, &network)
	assert.True(t, network.IsTimeout())
}

func TestStatusTransportThroughHorizonClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	hclient := NewHorizonClient(server.URL, internal.NewHTTPClient(5*time.Second, nil))
	_, err := NewNetworkClient(hclient).GetTrades(context.Background(), 1, "")

	var status *internal.UpstreamStatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusServiceUnavailable, status.StatusCode)
	assert.Equal(t, opTrades, status.Op)
	assert.True(t, internal.IsRetryable(err))
}
