package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/providers"
	"github.com/ledgerkit/bank-sync/internal/providers/jetstream"
	"github.com/ledgerkit/bank-sync/internal/ratelimit"
	"github.com/ledgerkit/bank-sync/internal/store"
	"github.com/ledgerkit/bank-sync/internal/syncer"
	"github.com/ledgerkit/bank-sync/internal/token"
	"github.com/ledgerkit/bank-sync/internal/worker"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadSyncWorkerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "sync-worker",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Bank Sync worker")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}

	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clock := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	canonicalizer := adapter.NewJCS()

	// Rate-limiting proxy guarding outbound provider calls
	redisClient := adapter.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	rateLimitProxy, err := ratelimit.NewProxy(cfg.RateLimit, redisClient, clock)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create rate limit proxy", zap.Error(err))
	}
	defer func() {
		if err := rateLimitProxy.Close(); err != nil {
			logger.WarnCtx(ctx, "Failed to close rate limit proxy", zap.Error(err))
		}
	}()

	// Register provider adapters for every configured provider
	registry := providers.BuildRegistry(ctx, cfg.Providers, cfg.Sync, rateLimitProxy, clock, jsonAdapter, canonicalizer)

	tokens := token.NewManager(dataStore, clock, jsonAdapter)
	orchestrator := syncer.NewOrchestrator(dataStore, registry, tokens, clock, jsonAdapter, cfg.Sync, cfg.Scheduler.DefaultSyncInterval)

	// Connect to NATS JetStream
	subscriber, err := jetstream.NewSubscriber(ctx, jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		ConsumerName:   cfg.NATS.ConsumerName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
		AckWait:        cfg.NATS.AckWait,
		MaxDeliver:     cfg.NATS.MaxDeliver,
	}, adapter.NewNatsJetStream(), jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to NATS",
		zap.String("url", cfg.NATS.URL),
		zap.String("consumer", cfg.NATS.ConsumerName),
	)

	w := worker.NewWorker(subscriber, orchestrator)
	defer w.Close()

	// Run the consumer until a shutdown signal arrives
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logger.ErrorCtx(ctx, err, zap.String("component", "worker"))
		}
		cancel()
	}

	logger.Info("Sync worker stopped")
}
