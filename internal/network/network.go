// Package network maps a network selector to its endpoints, passphrase and
// display metadata.
package network

import (
	"strings"

	"github.com/spf13/viper"
	stellarnetwork "github.com/stellar/go/network"
	"github.com/stellar/go/support/errors"
)

// Selector names one of the supported networks.
type Selector string

const (
	Mainnet Selector = "mainnet"
	Testnet Selector = "testnet"
)

const (
	envNetwork    = "STELLAR_NETWORK"
	envRPCURL     = "STELLAR_RPC_URL"
	envHorizonURL = "STELLAR_HORIZON_URL"
	envPassphrase = "STELLAR_NETWORK_PASSPHRASE"
)

// ParseSelector accepts the common aliases of each network, case-insensitively.
func ParseSelector(s string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "public", "pubnet":
		return Mainnet, nil
	case "testnet", "test":
		return Testnet, nil
	default:
		return "", errors.Errorf("unknown network %q: expected mainnet or testnet", s)
	}
}

// Config holds the per-network endpoints and metadata. It is immutable once
// constructed.
type Config struct {
	Network     Selector `json:"network"`
	RPCURL      string   `json:"rpc_url"`
	HorizonURL  string   `json:"horizon_url"`
	Passphrase  string   `json:"passphrase"`
	DisplayName string   `json:"display_name"`
	Color       string   `json:"color"`
}

// IsMainnet reports whether the config targets the public network.
func (c Config) IsMainnet() bool {
	return c.Network == Mainnet
}

var defaults = map[Selector]Config{
	Mainnet: {
		Network:     Mainnet,
		RPCURL:      "https://soroban-mainnet.stellar.org",
		HorizonURL:  "https://horizon.stellar.org",
		Passphrase:  stellarnetwork.PublicNetworkPassphrase,
		DisplayName: "Mainnet",
		Color:       "#00B37E",
	},
	Testnet: {
		Network:     Testnet,
		RPCURL:      "https://soroban-testnet.stellar.org",
		HorizonURL:  "https://horizon-testnet.stellar.org",
		Passphrase:  stellarnetwork.TestNetworkPassphrase,
		DisplayName: "Testnet",
		Color:       "#F5A623",
	},
}

// ForNetwork returns the default config for sel.
func ForNetwork(sel Selector) (Config, error) {
	cfg, ok := defaults[sel]
	if !ok {
		return Config{}, errors.Errorf("unknown network %q", sel)
	}
	return cfg, nil
}

// FromEnv reads STELLAR_NETWORK (default testnet) and applies the optional
// STELLAR_RPC_URL, STELLAR_HORIZON_URL and STELLAR_NETWORK_PASSPHRASE overrides.
func FromEnv() (Config, error) {
	v := viper.New()
	for key, env := range map[string]string{
		"network":     envNetwork,
		"rpc_url":     envRPCURL,
		"horizon_url": envHorizonURL,
		"passphrase":  envPassphrase,
	} {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, errors.Wrapf(err, "binding %s", env)
		}
	}
	v.SetDefault("network", string(Testnet))
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	sel, err := ParseSelector(v.GetString("network"))
	if err != nil {
		return Config{}, err
	}
	cfg, err := ForNetwork(sel)
	if err != nil {
		return Config{}, err
	}
	return cfg.WithOverrides(v.GetString("rpc_url"), v.GetString("horizon_url"), v.GetString("passphrase")), nil
}

// WithOverrides returns a copy of c with every non-empty argument replacing
// the corresponding field.
func (c Config) WithOverrides(rpcURL, horizonURL, passphrase string) Config {
	if rpcURL != "" {
		c.RPCURL = strings.TrimRight(rpcURL, "/")
	}
	if horizonURL != "" {
		c.HorizonURL = strings.TrimRight(horizonURL, "/")
	}
	if passphrase != "" {
		c.Passphrase = passphrase
	}
	return c
}
