package main

import (
	"context"
	"errors"
	"fmt"

	goIdentity "github.com/MrEthical07/goIdentity"
	otelexport "github.com/MrEthical07/goIdentity/metrics/export/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
)

// startTelemetry pushes engine metrics to an OTLP collector over gRPC. The
// returned shutdown flushes the last interval; it is nil when no endpoint is
// configured.
func startTelemetry(ctx context.Context, cfg serviceEnv, engine *goIdentity.Engine, logger *zap.Logger) (func() error, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
		resource.WithFromEnv(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTLPInterval))),
	)
	bound, err := otelexport.Register(provider.Meter("github.com/MrEthical07/goIdentity"), engine)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	logger.Info("goidentity: pushing metrics over otlp",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.Duration("interval", cfg.OTLPInterval),
	)

	return func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Flush before unregistering so the final interval is reported.
		flushErr := provider.ForceFlush(shutdownCtx)
		return errors.Join(flushErr, bound.Close(), provider.Shutdown(shutdownCtx))
	}, nil
}
