package main

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stellar/go/support/config"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/support/log"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/breaker"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/ingest"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/network"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/ratelimit"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/retry"
)

const defaultConfigPath = "insights.cfg"

// Config is the insights configuration file. Every field is optional;
// network endpoints fall back to the STELLAR_* environment and then to the
// defaults of the selected network.
type Config struct {
	Port              int    `toml:"port" valid:"required"`
	Network           string `toml:"network" valid:"optional"`
	RPCURL            string `toml:"rpc_url" valid:"optional"`
	HorizonURL        string `toml:"horizon_url" valid:"optional"`
	NetworkPassphrase string `toml:"network_passphrase" valid:"optional"`
	Mock              bool   `toml:"mock" valid:"optional"`
	LogLevel          string `toml:"log_level" valid:"optional"`

	HTTPTimeout time.Duration    `toml:"http_timeout" valid:"-"`
	Retry       retry.Config     `toml:"retry" valid:"-"`
	RateLimit   ratelimit.Config `toml:"rate_limit" valid:"-"`
	Breaker     breaker.Config   `toml:"circuit_breaker" valid:"-"`
	Ingest      ingest.Config    `toml:"ingest" valid:"-"`

	// Corridors are SELLING/BUYING pairs watched by the monitor.
	Corridors       []string      `toml:"corridors" valid:"-"`
	MonitorInterval time.Duration `toml:"monitor_interval" valid:"-"`
	MonitorDepth    int           `toml:"monitor_depth" valid:"-"`
}

func defaultConfig() Config {
	return Config{
		Port:            8000,
		LogLevel:        "info",
		HTTPTimeout:     15 * time.Second,
		Retry:           retry.DefaultConfig(),
		RateLimit:       ratelimit.DefaultConfig(),
		Breaker:         breaker.DefaultConfig(),
		Ingest:          ingest.DefaultConfig(),
		MonitorInterval: 30 * time.Second,
		MonitorDepth:    20,
	}
}

// resolveNetwork applies, in increasing precedence, the network defaults,
// the STELLAR_* environment and the configured endpoints.
func (cfg Config) resolveNetwork() (network.Config, error) {
	fromEnv, err := network.FromEnv()
	if err != nil {
		return network.Config{}, err
	}
	base := fromEnv
	if cfg.Network != "" {
		sel, err := network.ParseSelector(cfg.Network)
		if err != nil {
			return network.Config{}, err
		}
		if sel != fromEnv.Network {
			if base, err = network.ForNetwork(sel); err != nil {
				return network.Config{}, err
			}
		}
	}
	return base.WithOverrides(cfg.RPCURL, cfg.HorizonURL, cfg.NetworkPassphrase), nil
}

type rootFlags struct {
	configPath string
	network    string
	mock       bool
	logLevel   string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		flags rootFlags
		cfg   Config
	)
	rootCmd := &cobra.Command{
		Use:          "insights",
		Short:        "Resilient Stellar network data client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "conf", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&flags.network, "network", "", "network to use: mainnet or testnet")
	rootCmd.PersistentFlags().BoolVar(&flags.mock, "mock", false, "serve deterministic synthetic data instead of calling the network")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(
		newServeCmd(&cfg),
		newHealthCmd(&cfg),
		newLedgersCmd(&cfg),
		newPaymentsCmd(&cfg),
		newTradesCmd(&cfg),
		newOrderBookCmd(&cfg),
		newIngestCmd(&cfg),
		newMonitorCmd(&cfg),
	)
	return rootCmd
}

// loadConfig reads .env, then the config file, then applies flags. A missing
// config file is only an error when --conf was given explicitly.
func loadConfig(cmd *cobra.Command, flags rootFlags) (Config, error) {
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, "loading .env")
	}

	cfg := defaultConfig()
	explicit := cmd.Flags().Changed("conf")
	if _, err := os.Stat(flags.configPath); err == nil || explicit {
		if err := config.Read(flags.configPath, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "reading config %s", flags.configPath)
		}
	}

	if flags.network != "" {
		cfg.Network = flags.network
	}
	if flags.mock {
		cfg.Mock = true
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return Config{}, errors.Wrap(err, "parsing log level")
	}
	log.DefaultLogger.SetLevel(level)
	return cfg, nil
}
