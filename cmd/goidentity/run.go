package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/httpapi"
	"github.com/MrEthical07/goIdentity/messaging"
	promexport "github.com/MrEthical07/goIdentity/metrics/export/prometheus"
	"github.com/MrEthical07/goIdentity/storage/postgres"
	"github.com/MrEthical07/goIdentity/storage/sqlite"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// closer collects shutdown hooks in reverse order of acquisition.
type closer []func() error

func (c *closer) add(fn func() error) { *c = append(*c, fn) }

func (c closer) close(logger *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Warn("goidentity: close failed", zap.Error(err))
		}
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// run wires the service and serves until ctx is cancelled.
func run(ctx context.Context, cfg serviceEnv, logger *zap.Logger) error {
	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	var resources closer
	defer func() { resources.close(logger) }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	resources.add(rdb.Close)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	var db *sql.DB
	if cfg.UserStore == "postgres" || cfg.OTPStore == "postgres" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		resources.add(db.Close)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	builder := goIdentity.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithLogger(logger)

	switch cfg.UserStore {
	case "postgres":
		builder.WithUserStore(postgres.NewUserStore(db))
	default:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		resources.add(store.Close)
		builder.WithUserStore(store)
	}
	if cfg.OTPStore == "postgres" {
		builder.WithOTPStore(postgres.NewOTPStore(db))
	}

	gateway, closeGateway, err := buildGateway(cfg, logger)
	if err != nil {
		return err
	}
	if closeGateway != nil {
		resources.add(closeGateway)
	}
	builder.WithMessagingGateway(gateway)

	if cfg.AuditEnabled {
		builder.WithAuditSink(goIdentity.NewZapSink(logger.Named("audit")))
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("goidentity: security posture",
		zap.String("signing", report.SigningAlgorithm),
		zap.Duration("access_ttl", report.AccessTTL),
		zap.Duration("refresh_ttl", report.RefreshTTL),
		zap.Uint64("otp_code_space", report.OTPCodeSpace),
		zap.Int("otp_attempts", report.OTPAttempts),
		zap.Bool("login_throttle", report.LoginThrottleActive),
		zap.Bool("ip_throttle", report.IPThrottleActive),
		zap.Bool("refresh_throttle", report.RefreshThrottleActive),
		zap.Bool("audit", report.AuditEnabled),
	)

	stopTelemetry, err := startTelemetry(ctx, cfg, engine, logger)
	if err != nil {
		return err
	}
	if stopTelemetry != nil {
		defer func() {
			if err := stopTelemetry(); err != nil {
				logger.Warn("goidentity: otlp shutdown failed", zap.Error(err))
			}
		}()
	}

	router := httpapi.NewRouter(engine, httpapi.Options{
		Logger:         logger,
		Metrics:        promexport.Handler(promexport.NewCollector(engine)),
		Health:         func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		AllowedOrigins: cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("goidentity: listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("goidentity: shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildGateway assembles the messaging gateway. The returned close func may
// be nil.
func buildGateway(cfg serviceEnv, logger *zap.Logger) (goIdentity.MessagingGateway, func() error, error) {
	var (
		primary goIdentity.MessagingGateway
		closeFn func() error
	)

	switch cfg.Gateway {
	case "direct":
		primary = messaging.NewRouter(
			messaging.NewSMTPGateway(messaging.SMTPConfig{
				Host:        cfg.SMTPHost,
				Port:        cfg.SMTPPort,
				Username:    cfg.SMTPUsername,
				Password:    cfg.SMTPPassword,
				From:        cfg.SMTPFrom,
				ImplicitTLS: cfg.SMTPImplicitTLS,
			}, logger),
			messaging.NewHTTPSMSGateway(messaging.HTTPSMSConfig{
				Endpoint: cfg.SMSEndpoint,
				APIKey:   cfg.SMSAPIKey,
				UserID:   cfg.SMSUserID,
				Password: cfg.SMSPassword,
				SenderID: cfg.SMSSenderID,
			}, logger),
		)
	case "kafka":
		kg, err := messaging.NewKafkaGateway(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka gateway: %w", err)
		}
		primary = kg
		closeFn = kg.Close
	default:
		return messaging.NewLogGateway(logger), nil, nil
	}

	if cfg.GatewayLogCopy {
		return messaging.NewFanout(primary, messaging.NewLogGateway(logger)), closeFn, nil
	}
	return primary, closeFn, nil
}

func exitOnError(logger *zap.Logger, err error) {
	if err == nil {
		return
	}
	logger.Error("goidentity: stopped", zap.Error(err))
	_ = logger.Sync()
	os.Exit(1)
}
