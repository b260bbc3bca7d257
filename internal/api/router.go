package api

import (
	"github.com/ayo6706/ledger-transfer/internal/api/handler"
	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/api/spec"
	"github.com/ayo6706/ledger-transfer/internal/config"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// LedgerRouter wires the ledger API.
type LedgerRouter struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        handler.Pinger
	redis     redis.Cmdable
	accounts  *service.AccountService
	movements *service.MovementService
}

// NewLedgerRouter builds the ledger router. redis may be nil.
func NewLedgerRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, redis redis.Cmdable,
	accounts *service.AccountService, movements *service.MovementService) *LedgerRouter {
	return &LedgerRouter{cfg: cfg, logger: logger, db: db, redis: redis, accounts: accounts, movements: movements}
}

func (api *LedgerRouter) Routes() chi.Router {
	r := newBaseRouter(api.cfg, api.logger, api.db, api.redis, spec.Ledger)
	ledgerHandler := handler.NewLedgerHandler(api.accounts, api.movements)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/accounts/balance", ledgerHandler.GetBalance)
		r.Get("/v1/accounts/movements", ledgerHandler.ListMovements)
		r.With(middleware.IdempotencyKey(domain.MaxIdempotencyKeyLength, true)).
			Post("/v1/accounts/movements", ledgerHandler.RecordMovement)
		r.Get("/v1/accounts/lookup/{number}", ledgerHandler.LookupAccount)
	})

	return r
}

// TransferRouter wires the transfer API.
type TransferRouter struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        handler.Pinger
	redis     redis.Cmdable
	transfers *service.TransferService
}

func NewTransferRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, redis redis.Cmdable,
	transfers *service.TransferService) *TransferRouter {
	return &TransferRouter{cfg: cfg, logger: logger, db: db, redis: redis, transfers: transfers}
}

func (api *TransferRouter) Routes() chi.Router {
	r := newBaseRouter(api.cfg, api.logger, api.db, api.redis, spec.Transfer)
	transferHandler := handler.NewTransferHandler(api.transfers)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.With(middleware.IdempotencyKey(domain.MaxTransferKeyLength, false)).
			Post("/v1/transfers", transferHandler.CreateTransfer)
		r.Get("/v1/transfers/{key}", transferHandler.GetTransfer)
	})

	return r
}

// newBaseRouter installs the middleware chain and the unauthenticated
// operational routes shared by both services.
func newBaseRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, redis redis.Cmdable, doc string) chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.RecoverMiddleware(logger))
	r.Use(middleware.MetricsMiddleware)

	// Per-IP limits cover anonymous routes only; authenticated routes are
	// limited per account.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(cfg.PublicRateLimitRPS))

		health := handler.NewHealthHandler(db, redis)
		r.Get("/health/live", health.Live)
		r.Get("/health/ready", health.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/openapi.yaml", spec.OpenAPIHandler(doc))
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	})

	return r
}
