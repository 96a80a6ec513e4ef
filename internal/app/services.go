package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/brokerage/internal/analytics"
	"github.com/odyssey-erp/brokerage/internal/brokerage"
	"github.com/odyssey-erp/brokerage/internal/history"
	"github.com/odyssey-erp/brokerage/internal/ledger"
	"github.com/odyssey-erp/brokerage/internal/masterdata"
	"github.com/odyssey-erp/brokerage/internal/shared"
)

// Services is the domain service graph shared by the API and the worker.
type Services struct {
	MasterData *masterdata.Repository
	Brokerage  *brokerage.Service
	History    *history.Service
	Analytics  *analytics.Service
	Cache      *analytics.Cache
}

// NewServices wires repositories and services over one pool and one redis client.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) *Services {
	masterRepo := masterdata.NewRepository(pool)
	snapshots := history.NewRepository(pool)
	cache := analytics.NewCache(redisClient, cfg.AnalyticsCacheTTL)

	brokerageService := brokerage.NewService(brokerage.Deps{
		Repo:      brokerage.NewRepository(pool),
		Years:     masterRepo,
		Merchants: masterRepo,
		Ledger:    ledger.NewRepository(pool),
		Snapshots: snapshots,
		Locker:    shared.NewRedisLocker(redisClient),
		Logger:    logger.With(slog.String("module", "brokerage")),
	}, cfg.BrokerageConfig())

	return &Services{
		MasterData: masterRepo,
		Brokerage:  brokerageService,
		History:    history.NewService(snapshots, masterRepo, masterRepo),
		Analytics:  analytics.NewService(analytics.NewRepository(pool), cache, masterRepo, logger.With(slog.String("module", "analytics"))),
		Cache:      cache,
	}
}
