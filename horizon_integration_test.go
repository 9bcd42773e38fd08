package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/network"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/rpcclient"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/testutil"
)

// setupHorizonIntegration builds a live client whose market data comes from
// HORIZON_URL. The ledger endpoint is pointed at the same host and unused.
func setupHorizonIntegration(t *testing.T) *rpcclient.Client {
	t.Helper()

	horizonURL := testutil.HorizonURL(t)
	passphrase := testutil.NetworkPassphrase(t, horizonURL)

	base, err := network.ForNetwork(network.Testnet)
	require.NoError(t, err)
	cfg := rpcclient.DefaultConfig(base.WithOverrides(horizonURL, horizonURL, passphrase))
	client, err := rpcclient.New(cfg)
	require.NoError(t, err)
	return client
}

func TestHorizonIntegration_RecentPaymentsAndTrades(t *testing.T) {
	client := setupHorizonIntegration(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	payments, err := client.FetchPayments(ctx, 5, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(payments), 5)
	for i := 1; i < len(payments); i++ {
		assert.False(t, payments[i].CreatedAt.Before(payments[i-1].CreatedAt), "payments are oldest first")
	}

	trades, err := client.FetchTrades(ctx, 5, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(trades), 5)
	for _, trade := range trades {
		assert.NoError(t, trade.Price.Validate())
	}
}

func TestHorizonIntegration_FundedAccountPayments(t *testing.T) {
	client := setupHorizonIntegration(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	kp, err := keypair.Random()
	require.NoError(t, err)
	require.NoError(t, testutil.FundAccount(t, testutil.HorizonURL(t), kp.Address()))

	payments, err := client.FetchAccountPayments(ctx, kp.Address(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, payments)

	created := payments[0]
	assert.Equal(t, kp.Address(), created.Destination)
	assert.Equal(t, internal.AssetTypeNative, created.AssetType)
	assert.NotEmpty(t, created.Amount)
}

func TestHorizonIntegration_UnknownAccount(t *testing.T) {
	client := setupHorizonIntegration(t)

	kp, err := keypair.Random()
	require.NoError(t, err)

	_, err = client.FetchAccountPayments(context.Background(), kp.Address(), 10)
	var status *internal.UpstreamStatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.StatusCode)
}

func TestHorizonIntegration_OrderBook(t *testing.T) {
	client := setupHorizonIntegration(t)

	book, err := client.FetchOrderBook(context.Background(), internal.NativeAsset(),
		internal.CreditAsset("USDC", "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5"), 5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(book.Bids), 5)
	assert.LessOrEqual(t, len(book.Asks), 5)
	for i := 1; i < len(book.Asks); i++ {
		assert.False(t, book.Asks[i].PriceR.Cheaper(book.Asks[i-1].PriceR), "asks are lowest first")
	}
}
