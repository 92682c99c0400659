package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/mybank-labs/mybank/internal/accounts"
	"github.com/mybank-labs/mybank/internal/app"
	"github.com/mybank-labs/mybank/internal/ledger"
	"github.com/mybank-labs/mybank/internal/observability"
	"github.com/mybank-labs/mybank/internal/platform/cache"
	"github.com/mybank-labs/mybank/internal/platform/db"
	"github.com/mybank-labs/mybank/internal/shared"
	"github.com/mybank-labs/mybank/internal/users"
)

const retryInitialInterval = 20 * time.Millisecond

// deps bundles the connections and services every subcommand shares.
type deps struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client

	metrics *observability.Metrics

	idempotency *shared.IdempotencyStore
	users       *users.Service
	accounts    *accounts.Service
	ledger      *ledger.Service
}

func bootstrap(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*deps, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// budget queries fall back to PostgreSQL while Redis is away
		logger.Warn("redis ping", slog.Any("error", err))
	}

	auditLogger := shared.NewAuditLogger(pool)
	budgetCache := ledger.NewBudgetCache(redisClient, cfg.BudgetCacheTTL)

	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger, budgetCache, logger)
	ledgerService.WithRetry(cfg.LedgerMaxRetries, retryInitialInterval)
	metrics := observability.NewMetrics()
	ledgerService.WithMetrics(metrics.Ledger())
	accountsService := accounts.NewService(accounts.NewRepository(pool), ledgerService, auditLogger)
	usersService := users.NewService(users.NewRepository(pool), accountsService, auditLogger)

	return &deps{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		redis:       redisClient,
		metrics:     metrics,
		idempotency: shared.NewIdempotencyStore(pool),
		users:       usersService,
		accounts:    accountsService,
		ledger:      ledgerService,
	}, nil
}

func (rt *deps) Close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	rt.pool.Close()
}
