package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stellar/go/support/errors"
	supporthttp "github.com/stellar/go/support/http"
	"github.com/stellar/go/support/log"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/ingest"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/monitor"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newServeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST pass-through API and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			shutdownTracing, err := initTracing(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					log.DefaultLogger.WithError(err).Warn("flushing traces")
				}
			}()

			registry := prometheus.NewRegistry()
			client, err := initClient(*cfg, registry)
			if err != nil {
				return err
			}

			var corridors *monitor.Monitor
			if len(cfg.Corridors) > 0 {
				if corridors, err = initMonitor(*cfg, client, cfg.Corridors, registry); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if corridors != nil {
				go func() {
					if err := corridors.Run(ctx); err != nil {
						log.DefaultLogger.WithError(err).Error("corridor monitor stopped")
					}
				}()
			}

			registerProblems()
			addr := fmt.Sprintf(":%d", cfg.Port)
			supporthttp.Run(supporthttp.Config{
				ListenAddr: addr,
				Handler:    initRouter(client, registry, corridors),
				OnStarting: func() {
					log.Infof("starting insights server on %s", addr)
				},
				OnStopping: func() {
					log.Info("stopping insights server")
					cancel()
				},
			})
			return nil
		},
	}
}

func newHealthCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Print the RPC node health and the latest ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := initClient(*cfg, nil)
			if err != nil {
				return err
			}
			health, err := client.CheckHealth(cmd.Context())
			if err != nil {
				return err
			}
			latest, err := client.FetchLatestLedger(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{
				"network":       client.Network(),
				"health":        health,
				"latest_ledger": latest,
			})
		},
	}
}

func newLedgersCmd(cfg *Config) *cobra.Command {
	var (
		start  uint32
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "ledgers",
		Short: "Print one page of ledgers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := initClient(*cfg, nil)
			if err != nil {
				return err
			}
			request := internal.LedgersRequest{Limit: limit, Cursor: cursor}
			if cmd.Flags().Changed("start") {
				request.StartSequence = &start
			}
			page, err := client.FetchLedgers(cmd.Context(), request)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().Uint32Var(&start, "start", 0, "first ledger sequence")
	cmd.Flags().IntVar(&limit, "limit", defaultPageLimit, "number of ledgers")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor returned by a previous page")
	return cmd
}

func newPaymentsCmd(cfg *Config) *cobra.Command {
	var (
		limit   int
		cursor  string
		account string
	)
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Print recent payments, optionally for one account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := initClient(*cfg, nil)
			if err != nil {
				return err
			}
			var payments []internal.Payment
			if account != "" {
				payments, err = client.FetchAccountPayments(cmd.Context(), account, limit)
			} else {
				payments, err = client.FetchPayments(cmd.Context(), limit, cursor)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), payments)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultPageLimit, "number of payments")
	cmd.Flags().StringVar(&cursor, "cursor", "", "paging token to continue after")
	cmd.Flags().StringVar(&account, "account", "", "only payments sent or received by this account")
	return cmd
}

func newTradesCmd(cfg *Config) *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Print recent trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := initClient(*cfg, nil)
			if err != nil {
				return err
			}
			trades, err := client.FetchTrades(cmd.Context(), limit, cursor)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), trades)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultPageLimit, "number of trades")
	cmd.Flags().StringVar(&cursor, "cursor", "", "paging token to continue after")
	return cmd
}

func newOrderBookCmd(cfg *Config) *cobra.Command {
	var (
		selling string
		buying  string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "orderbook",
		Short: "Print the order book of an asset pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			sellingAsset, err := internal.ParseAsset(selling)
			if err != nil {
				return errors.Wrap(err, "selling")
			}
			buyingAsset, err := internal.ParseAsset(buying)
			if err != nil {
				return errors.Wrap(err, "buying")
			}
			client, err := initClient(*cfg, nil)
			if err != nil {
				return err
			}
			book, err := client.FetchOrderBook(cmd.Context(), sellingAsset, buyingAsset, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), book)
		},
	}
	cmd.Flags().StringVar(&selling, "selling", "native", "selling asset: native or CODE:ISSUER")
	cmd.Flags().StringVar(&buying, "buying", "", "buying asset: native or CODE:ISSUER")
	cmd.Flags().IntVar(&limit, "limit", defaultPageLimit, "price levels per side")
	return cmd
}

func newIngestCmd(cfg *Config) *cobra.Command {
	var start, end uint32
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Follow ledgers forward from a sequence and log each page",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := initClient(*cfg, nil)
			if err != nil {
				return err
			}
			ingestCfg := cfg.Ingest
			if cmd.Flags().Changed("end") {
				ingestCfg.EndSequence = end
			}
			sink := ingest.SinkFunc(func(ctx context.Context, page internal.LedgerPage) error {
				var txs, ops int
				for _, ledger := range page.Ledgers {
					txs += ledger.TransactionCount
					ops += ledger.OperationCount
				}
				log.WithFields(log.F{
					"first":        page.Ledgers[0].Sequence,
					"last":         page.Ledgers[len(page.Ledgers)-1].Sequence,
					"transactions": txs,
					"operations":   ops,
				}).Info("ingested ledgers")
				return nil
			})
			pipeline, err := ingest.New(client, sink, ingestCfg)
			if err != nil {
				return err
			}

			var from *uint32
			if cmd.Flags().Changed("start") {
				from = &start
			}
			runErr := pipeline.Run(ctx, from)
			if err := printJSON(cmd.OutOrStdout(), pipeline.Stats()); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().Uint32Var(&start, "start", 0, "first ledger sequence; defaults to the latest page")
	cmd.Flags().Uint32Var(&end, "end", 0, "last ledger sequence to ingest")
	return cmd
}

func newMonitorCmd(cfg *Config) *cobra.Command {
	var (
		corridors []string
		interval  time.Duration
		once      bool
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll corridor order books and print spread and depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := initClient(*cfg, nil)
			if err != nil {
				return err
			}
			if len(corridors) == 0 {
				corridors = cfg.Corridors
			}
			monitorCfg := *cfg
			if interval > 0 {
				monitorCfg.MonitorInterval = interval
			}
			m, err := initMonitor(monitorCfg, client, corridors, nil)
			if err != nil {
				return err
			}

			ticker := time.NewTicker(monitorCfg.MonitorInterval)
			defer ticker.Stop()
			for {
				m.PollOnce(ctx)
				if ctx.Err() != nil {
					return nil
				}
				if err := printJSON(cmd.OutOrStdout(), m.Snapshots()); err != nil {
					return err
				}
				if once {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().StringArrayVar(&corridors, "corridor", nil, "SELLING/BUYING pair to watch, repeatable")
	cmd.Flags().DurationVar(&interval, "interval", 0, "polling interval")
	cmd.Flags().BoolVar(&once, "once", false, "poll once and exit")
	return cmd
}
