package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"jobmate/applier-service/internal/application"
	"jobmate/applier-service/internal/config"
	"jobmate/applier-service/internal/db"
	"jobmate/applier-service/internal/feedback"
	"jobmate/applier-service/internal/gateway"
	"jobmate/applier-service/internal/logger"
	"jobmate/applier-service/internal/notify"
	"jobmate/applier-service/internal/posting"
	"jobmate/applier-service/internal/profile"
	"jobmate/applier-service/internal/quota"
	"jobmate/applier-service/internal/scheduler"
	"jobmate/applier-service/internal/scoring"
)

// deps holds everything the subcommands share: connections, stores and the
// assembled cycle runner.
type deps struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	rdb    *redis.Client

	postings posting.Store
	versions scoring.VersionStore
	tracker  *feedback.Tracker
	fetcher  *posting.FeedFetcher
	runner   *scheduler.Runner
}

// build loads config, connects to PostgreSQL and Redis, and wires the full
// dependency graph. Callers must Close when done.
func build(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	zl, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, err
	}

	postings := posting.NewPGStore(pool, zl)
	profiles := profile.NewPGStore(pool)
	apps := application.NewPGStore(pool)
	versions := scoring.NewPGVersionStore(pool)

	executor := application.NewExecutor(
		apps,
		gateway.NewHTTPGateway(cfg.GatewayURL),
		notify.NewRedisNotifier(rdb, zl),
		cfg.SubmitTimeout,
		zl,
	)

	runner := scheduler.NewRunner(
		profiles,
		postings,
		apps,
		executor,
		versions,
		quota.NewRedisCounter(rdb),
		scheduler.NewRedisLock(rdb),
		scheduler.NewPGStatsStore(pool),
		scheduler.CycleConfig{
			WorkerConcurrency: cfg.WorkerConcurrency,
			MaxPerCycle:       cfg.MaxPerCycle,
			MinScore:          cfg.MinScore,
			PostingTTL:        time.Duration(cfg.PostingTTLDays) * 24 * time.Hour,
		},
		zl,
	)

	return &deps{
		cfg:      cfg,
		logger:   zl,
		pool:     pool,
		rdb:      rdb,
		postings: postings,
		versions: versions,
		tracker:  feedback.NewTracker(pool, zl),
		fetcher:  posting.NewFeedFetcher(cfg.FeedURLs, zl),
		runner:   runner,
	}, nil
}

// Close releases the database and redis connections.
func (d *deps) Close() {
	d.rdb.Close()
	d.pool.Close()
	d.logger.Sync()
}
