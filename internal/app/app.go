package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/api"
	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/config"
	"github.com/ayo6706/ledger-transfer/internal/db"
	"github.com/ayo6706/ledger-transfer/internal/events"
	"github.com/ayo6706/ledger-transfer/internal/gateway"
	"github.com/ayo6706/ledger-transfer/internal/idempotency"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/ayo6706/ledger-transfer/internal/worker"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// serviceTokenTTL bounds the tokens minted for saga legs.
const serviceTokenTTL = time.Minute

// RunLedger bootstraps the ledger HTTP server, blocking until shutdown.
// Redis is optional: without it movements are recorded but no events are
// published.
func RunLedger() error {
	cfg, logger, err := bootstrap(config.ServiceLedger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, "ledger-transfer-"+string(cfg.Service))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool, db.LedgerSchema); err != nil {
		return err
	}
	store := repository.NewStore(pool)

	accountSvc := service.NewAccountService(store)
	movementSvc := service.NewMovementService(store)

	var cache redis.Cmdable
	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, movement events disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache = redisClient
			movementSvc.WithEvents(events.NewPublisher(redisClient))
		}
	}

	router := api.NewLedgerRouter(cfg, logger, store, cache, accountSvc, movementSvc)
	return serve(cfg, logger, router.Routes(), nil)
}

// RunTransfer bootstraps the transfer HTTP server and the pending-transfer
// worker, blocking until shutdown.
func RunTransfer() error {
	cfg, logger, err := bootstrap(config.ServiceTransfer)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, "ledger-transfer-"+string(cfg.Service))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool, db.TransferSchema); err != nil {
		return err
	}
	store := repository.NewStore(pool)

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, store.Queries(), cfg.IdempotencyTTL)
	ledger := gateway.NewHTTPLedger(cfg.LedgerBaseURL, &http.Client{Timeout: cfg.LedgerTimeout}, gateway.BreakerSettings{
		MaxRequests:         cfg.BreakerMaxRequests,
		Interval:            cfg.BreakerInterval,
		Timeout:             cfg.BreakerOpenTimeout,
		ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
	})
	var ledgerClient gateway.Ledger = ledger
	if cfg.LedgerFaultRate > 0 || cfg.LedgerFaultMaxDelay > 0 {
		logger.Warn("ledger fault injection enabled",
			zap.Float64("failure_rate", cfg.LedgerFaultRate),
			zap.Duration("max_delay", cfg.LedgerFaultMaxDelay))
		faulty := gateway.NewFaultyLedger(ledger)
		faulty.FailureRate = cfg.LedgerFaultRate
		faulty.MaxDelay = cfg.LedgerFaultMaxDelay
		ledgerClient = faulty
	}
	transferSvc := service.NewTransferService(store, idemStore, ledgerClient).
		WithEvents(events.NewPublisher(redisClient)).
		WithResumeAfter(cfg.ResumeAfter).
		WithServiceTokens(func(accountID uuid.UUID, accountNumber string) (string, error) {
			return middleware.IssueServiceToken(string(config.ServiceTransfer), accountID, accountNumber, serviceTokenTTL)
		})

	reconciliationSvc := service.NewReconciliationService(store, cfg.PendingAge)
	stopWorker := worker.NewPendingTransferWorker(reconciliationSvc).
		WithInterval(cfg.PendingScanInterval).
		Start(ctx)

	router := api.NewTransferRouter(cfg, logger, store, redisClient, transferSvc)
	return serve(cfg, logger, router.Routes(), func() {
		logger.Info("stopping pending transfer worker")
		stopWorker()
	})
}

func bootstrap(svc config.Service) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(svc)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(zap.String("service", string(svc)))
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)
	return cfg, logger, nil
}

// serve runs the HTTP server until a signal or a server error, then calls
// beforeShutdown and drains in-flight requests.
func serve(cfg *config.Config, logger *zap.Logger, handler http.Handler, beforeShutdown func()) error {
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	if beforeShutdown != nil {
		beforeShutdown()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
