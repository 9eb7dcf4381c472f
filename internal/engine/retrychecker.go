package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// RetryChecker re-enqueues items whose backoff expired. It never clears
// next_retry_at; the consumer rechecks due-ness on admission, so a clock
// race at worst parks the item once more.
type RetryChecker struct {
	missions domain.MissionRepository
	items    domain.ItemRepository
	engines  map[domain.EngineTrack]*Engine
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewRetryChecker constructs a checker feeding the given engines.
func NewRetryChecker(missions domain.MissionRepository, items domain.ItemRepository, engines map[domain.EngineTrack]*Engine, interval time.Duration, log *slog.Logger) *RetryChecker {
	return &RetryChecker{
		missions: missions,
		items:    items,
		engines:  engines,
		interval: interval,
		log:      log.With(slog.String("component", "retry_checker")),
		now:      time.Now,
	}
}

// Run loops until ctx is cancelled.
func (c *RetryChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *RetryChecker) sweep(ctx context.Context) {
	due, err := c.items.DueRetries(ctx, c.now())
	if err != nil {
		c.log.Error("list due retries", slog.Any("error", err))
		return
	}
	for _, it := range due {
		m, err := c.missions.Get(ctx, it.MissionID)
		if err != nil {
			c.log.Error("load mission for retry", slog.Int64("item_id", it.ID), slog.Any("error", err))
			continue
		}
		eng, ok := c.engines[m.Track]
		if !ok {
			c.log.Error("no engine for track", slog.String("track", string(m.Track)))
			continue
		}
		eng.Enqueue(it.ID)
	}
	if len(due) > 0 {
		c.log.Debug("retries re-enqueued", slog.Int("count", len(due)))
	}
}
