package network

import (
	"testing"

	stellarnetwork "github.com/stellar/go/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelector(t *testing.T) {
	testCases := []struct {
		in      string
		want    Selector
		wantErr bool
	}{
		{in: "mainnet", want: Mainnet},
		{in: "PUBLIC", want: Mainnet},
		{in: "pubnet", want: Mainnet},
		{in: " testnet ", want: Testnet},
		{in: "futurenet", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseSelector(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestForNetwork(t *testing.T) {
	mainnet, err := ForNetwork(Mainnet)
	require.NoError(t, err)
	assert.Equal(t, "https://horizon.stellar.org", mainnet.HorizonURL)
	assert.Equal(t, "https://soroban-mainnet.stellar.org", mainnet.RPCURL)
	assert.Equal(t, stellarnetwork.PublicNetworkPassphrase, mainnet.Passphrase)
	assert.True(t, mainnet.IsMainnet())

	testnet, err := ForNetwork(Testnet)
	require.NoError(t, err)
	assert.Equal(t, "https://horizon-testnet.stellar.org", testnet.HorizonURL)
	assert.Equal(t, stellarnetwork.TestNetworkPassphrase, testnet.Passphrase)
	assert.False(t, testnet.IsMainnet())
	assert.NotEqual(t, mainnet.Color, testnet.Color)

	_, err = ForNetwork(Selector("devnet"))
	assert.Error(t, err)
}

func TestFromEnvDefaultsToTestnet(t *testing.T) {
	t.Setenv(envNetwork, "")
	t.Setenv(envRPCURL, "")
	t.Setenv(envHorizonURL, "")
	t.Setenv(envPassphrase, "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	want, _ := ForNetwork(Testnet)
	assert.Equal(t, want, cfg)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv(envNetwork, "public")
	t.Setenv(envRPCURL, "http://localhost:8000/rpc/")
	t.Setenv(envHorizonURL, "http://localhost:8000")
	t.Setenv(envPassphrase, "Standalone Network ; February 2017")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, Mainnet, cfg.Network)
	assert.Equal(t, "http://localhost:8000/rpc", cfg.RPCURL)
	assert.Equal(t, "http://localhost:8000", cfg.HorizonURL)
	assert.Equal(t, "Standalone Network ; February 2017", cfg.Passphrase)
	assert.Equal(t, "Mainnet", cfg.DisplayName)
}

func TestFromEnvRejectsUnknownNetwork(t *testing.T) {
	t.Setenv(envNetwork, "moonnet")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "moonnet")
}
