package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storyraise/newsletter-service/internal/newsletter"
	"github.com/storyraise/newsletter-service/internal/pkg/distlock"
	"github.com/storyraise/newsletter-service/internal/pkg/logger"
)

// Scheduler polls for scheduled campaigns whose send time has arrived and
// hands them to the orchestrator. Claiming flips the campaign to sending
// under FOR UPDATE SKIP LOCKED, so multiple scheduler instances never
// execute the same campaign twice; the distributed lock only keeps idle
// instances from polling concurrently.
type Scheduler struct {
	store        *newsletter.Store
	orchestrator *Orchestrator
	redis        *redis.Client

	pollInterval time.Duration
	batchSize    int
}

// NewScheduler creates a scheduled-campaign executor. redisClient may be
// nil; the poll lock then falls back to a PG advisory lock.
func NewScheduler(store *newsletter.Store, orchestrator *Orchestrator, redisClient *redis.Client, pollInterval time.Duration, batchSize int) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Scheduler{
		store:        store,
		orchestrator: orchestrator,
		redis:        redisClient,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("scheduler started", "poll_interval", s.pollInterval.String())

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	lock := distlock.New(s.redis, s.store.DB(), "newsletter:scheduler", 2*s.pollInterval)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Warn("scheduler lock error", "error", err.Error())
		return
	}
	if !acquired {
		return
	}
	defer lock.Release(ctx)

	ids, err := s.store.ClaimDueScheduled(ctx, s.batchSize)
	if err != nil {
		logger.Error("claim due campaigns failed", "error", err.Error())
		return
	}

	for _, id := range ids {
		logger.Info("executing scheduled campaign", "campaign_id", id.String())
		if _, err := s.orchestrator.Run(ctx, id, true); err != nil {
			logger.Error("scheduled delivery failed",
				"campaign_id", id.String(), "error", err.Error())
		}
	}
}
