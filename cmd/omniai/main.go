package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/omniai/payments/app/controllers"
	"github.com/omniai/payments/app/repository"
	"github.com/omniai/payments/internal/pkg/auth"
	"github.com/omniai/payments/internal/pkg/billing"
	"github.com/omniai/payments/internal/pkg/cache"
	"github.com/omniai/payments/internal/pkg/database"
	"github.com/omniai/payments/internal/pkg/env"
	"github.com/omniai/payments/internal/pkg/events"
	"github.com/omniai/payments/internal/pkg/logger"
	"github.com/omniai/payments/internal/pkg/metrics"
	"github.com/omniai/payments/internal/pkg/metrics/counter"
	"github.com/omniai/payments/internal/pkg/middleware"
	"github.com/omniai/payments/internal/pkg/monitoring"
	"github.com/omniai/payments/internal/pkg/router"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "omniai:", err)
		os.Exit(1)
	}
}

func run() error {
	envErr := env.SetupEnvFile()

	log, err := logger.New(env.GetEnv("APP_ENV", "prod"))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if errors.Is(envErr, env.ErrNoEnvFile) {
		log.Info("no .env file found, using process environment")
	}

	billingCfg, err := billing.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if !billingCfg.CheckoutConfigured() {
		log.Warn("STRIPE_SECRET_KEY not set, checkout is disabled")
	}
	if !billingCfg.WebhookConfigured() {
		log.Warn("STRIPE_WEBHOOK_SECRET not set, webhooks are rejected")
	}

	tokens, err := auth.NewManager(auth.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("jwt: %w", err)
	}

	db, err := database.Open(database.ConfigFromEnv(), log)
	if err != nil {
		return err
	}
	rdb := cache.NewClient(cache.ConfigFromEnv(), log)
	defer rdb.Close()

	var publisher billing.Publisher = events.NewLogPublisher(log)
	evCfg := events.ConfigFromEnv()
	var producerErr error
	if evCfg.Enabled() {
		producer, err := events.InitProducer(evCfg.Brokers, log)
		producerErr = err
		if err != nil {
			log.Warn("kafka unavailable, payment events are only logged", zap.Error(err))
		} else {
			kp := events.NewKafkaPublisher(producer, evCfg.Topic, log)
			defer kp.Close()
			publisher = kp
		}
	}

	stats := counter.NewWebhookStats(rdb)
	svc := billing.NewServiceFromDB(billingCfg, db, billing.NewStripeProvider(billingCfg, log),
		billing.WithLogger(log),
		billing.WithStats(metrics.InstrumentStats(stats)),
		billing.WithPublisher(metrics.InstrumentPublisher(publisher)),
	)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	monitor := monitoring.New([]monitoring.Check{
		monitoring.DatabaseCheck(sqlDB),
		monitoring.RedisCheck(rdb),
		monitoring.ConfiguredCheck("stripe", billingCfg.CheckoutConfigured(), "STRIPE_SECRET_KEY not set"),
		monitoring.ConfiguredCheck("webhook", billingCfg.WebhookConfigured(), "STRIPE_WEBHOOK_SECRET not set"),
		monitoring.ProducerCheck(evCfg.Enabled(), producerErr),
	}, monitoring.WithStats(stats), monitoring.WithLogger(log))

	repos := repository.NewFactory(db)
	api := router.ApiRouter{
		Payments:   controllers.NewPaymentController(svc, log),
		Webhooks:   controllers.NewWebhookController(svc, stats, log),
		Auth:       controllers.NewAuthController(repos.GetUserRepository(), tokens, log),
		Monitoring: controllers.NewMonitoringController(monitor, log),
		Tokens:     tokens,
		Users:      repos.GetUserRepository(),
		RateLimit: middleware.RateLimitConfig{
			Max:    env.GetEnvInt("RATE_LIMIT_MAX", 60),
			Window: env.GetEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			Cache:  rdb,
		},
		Log: log,
	}

	app := NewApplication(AppConfig{
		CORSOrigins:     env.GetEnvList("CORS_ALLOW_ORIGINS"),
		MetricsUser:     env.GetEnv("METRICS_USER", ""),
		MetricsPassword: env.GetEnv("METRICS_PASSWORD", ""),
		BasePath:        findBasePath(),
	}, log, api)

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	errCh := make(chan error, 1)
	go func() {
		log.Info("payment service listening", zap.String("addr", addr), zap.String("currency", billingCfg.Currency))
		errCh <- app.Listen(addr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
