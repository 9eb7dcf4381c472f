package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// Scheduler promotes scheduled missions to queued when their time arrives.
type Scheduler struct {
	missions domain.MissionRepository
	engines  map[domain.EngineTrack]*Engine
	interval time.Duration
	// grace is how far past a scheduled time may be at startup before the
	// mission is expired instead of promoted.
	grace time.Duration
	log   *slog.Logger
	now   func() time.Time
}

// NewScheduler constructs a scheduler feeding the given engines.
func NewScheduler(missions domain.MissionRepository, engines map[domain.EngineTrack]*Engine, interval, grace time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		missions: missions,
		engines:  engines,
		interval: interval,
		grace:    grace,
		log:      log.With(slog.String("component", "scheduler")),
		now:      time.Now,
	}
}

// Run expires stale scheduled missions once, then loops promoting due ones
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.expireStale(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// expireStale fails scheduled missions whose time is already long past.
func (s *Scheduler) expireStale(ctx context.Context) {
	missions, err := s.missions.ListScheduled(ctx)
	if err != nil {
		s.log.Error("list scheduled", slog.Any("error", err))
		return
	}
	cutoff := s.now().Add(-s.grace)
	for _, m := range missions {
		if m.ScheduledAt == nil || !m.ScheduledAt.Before(cutoff) {
			continue
		}
		if err := s.missions.SetStatus(ctx, m.ID, domain.MissionFailed, "scheduled time elapsed"); err != nil {
			s.log.Error("expire mission", slog.Int64("mission_id", m.ID), slog.Any("error", err))
			continue
		}
		s.log.Warn("scheduled mission expired",
			slog.Int64("mission_id", m.ID),
			slog.Time("scheduled_at", *m.ScheduledAt))
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	due, err := s.missions.DueScheduled(ctx, s.now())
	if err != nil {
		s.log.Error("list due scheduled", slog.Any("error", err))
		return
	}
	for _, m := range due {
		ok, err := s.missions.TransitionStatus(ctx, m.ID, domain.MissionScheduled, domain.MissionQueued, "")
		if err != nil {
			s.log.Error("promote scheduled", slog.Int64("mission_id", m.ID), slog.Any("error", err))
			continue
		}
		if !ok {
			// Lost the race to a cancel; nothing to do.
			continue
		}
		eng, found := s.engines[m.Track]
		if !found {
			s.log.Error("no engine for track", slog.String("track", string(m.Track)))
			continue
		}
		if err := eng.EnqueueMission(ctx, m.ID); err != nil {
			s.log.Error("enqueue mission items", slog.Int64("mission_id", m.ID), slog.Any("error", err))
			continue
		}
		s.log.Info("scheduled mission promoted", slog.Int64("mission_id", m.ID))
	}
}
