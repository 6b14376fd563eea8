package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobmate/applier-service/internal/posting"
)

// Scheduler wraps robfig/cron and manages the recurring jobs: the matching
// cycle, the posting feed sweep and the expiry sweep.
type Scheduler struct {
	cron      *cron.Cron
	runner    *Runner
	fetcher   *posting.FeedFetcher
	postings  posting.Store
	cycleSpec string // cron spec, e.g. "0 8,18 * * *"
	feedSpec  string // cron spec, e.g. "@every 6h"
	ttl       time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. cycleSpec drives the matching cycle;
// feedIntervalHours drives feed ingestion and posting expiry.
func New(runner *Runner, fetcher *posting.FeedFetcher, postings posting.Store, cycleSpec string, feedIntervalHours int, ttl time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		runner:    runner,
		fetcher:   fetcher,
		postings:  postings,
		cycleSpec: cycleSpec,
		feedSpec:  fmt.Sprintf("@every %dh", feedIntervalHours),
		ttl:       ttl,
		logger:    logger,
	}
}

// Start registers the jobs and starts the scheduler. The feed sweep also
// runs once immediately so the posting pool is populated before the first
// cycle tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cycleSpec, func() {
		s.runCycle(ctx)
	}); err != nil {
		return fmt.Errorf("registering cycle job: %w", err)
	}

	if _, err := s.cron.AddFunc(s.feedSpec, func() {
		s.runFeedSweep(ctx)
	}); err != nil {
		return fmt.Errorf("registering feed job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("cron started",
		zap.String("cycle_spec", s.cycleSpec),
		zap.String("feed_spec", s.feedSpec),
	)

	go s.runFeedSweep(ctx)

	return nil
}

// Stop shuts the scheduler down and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron stopped")
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.runner.Run(ctx); err != nil {
		s.logger.Error("cycle aborted", zap.Error(err))
	}
}

// runFeedSweep expires stale postings, then pulls every configured feed.
func (s *Scheduler) runFeedSweep(ctx context.Context) {
	expired, err := s.postings.MarkExpired(ctx, s.ttl)
	if err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
	} else if expired > 0 {
		s.logger.Info("postings expired", zap.Int64("count", expired))
	}

	s.fetcher.Run(ctx, s.postings)
}
