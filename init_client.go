package main

import (
	"context"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/support/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/monitor"
	"github.com/victorisiguzoruzoma874/stellar-insights-sub001/internal/rpcclient"
)

const serviceName = "stellar-insights"

func initClient(cfg Config, reg prometheus.Registerer) (*rpcclient.Client, error) {
	net, err := cfg.resolveNetwork()
	if err != nil {
		return nil, errors.Wrap(err, "resolving network")
	}

	client, err := rpcclient.New(rpcclient.Config{
		Network:     net,
		Mock:        cfg.Mock,
		Retry:       cfg.Retry,
		RateLimit:   cfg.RateLimit,
		Breaker:     cfg.Breaker,
		HTTPTimeout: cfg.HTTPTimeout,
		Registerer:  reg,
		Logger:      log.DefaultLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating client")
	}
	log.WithFields(log.F{
		"network": net.DisplayName,
		"mainnet": net.IsMainnet(),
		"mode":    string(client.Mode()),
		"rpc":     net.RPCURL,
		"horizon": net.HorizonURL,
	}).Info("client ready")
	return client, nil
}

func initMonitor(cfg Config, client *rpcclient.Client, corridors []string, reg prometheus.Registerer) (*monitor.Monitor, error) {
	parsed := make([]monitor.Corridor, 0, len(corridors))
	for _, s := range corridors {
		corridor, err := monitor.ParseCorridor(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing corridor %q", s)
		}
		parsed = append(parsed, corridor)
	}
	return monitor.New(client, monitor.Config{
		Corridors: parsed,
		Interval:  cfg.MonitorInterval,
		Depth:     cfg.MonitorDepth,
	}, monitor.WithRegisterer(reg))
}

// initTracing installs an OTLP/HTTP tracer provider when
// OTEL_EXPORTER_OTLP_ENDPOINT is set. The returned function flushes it.
func initTracing(ctx context.Context) (func(context.Context) error, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func(context.Context) error { return nil }, nil
	}

	var exporter *otlptrace.Exporter
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating otlp exporter")
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(provider)
	log.Info("exporting traces over otlp")
	return provider.Shutdown, nil
}
