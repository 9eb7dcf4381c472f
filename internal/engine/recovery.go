package engine

import (
	"context"
	"log/slog"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// recover rebuilds in-memory state from the store after a restart:
//
//  1. pending items with no retry hold go back on the ready queue
//  2. processing items with a platform task id get a polling worker and one
//     inflight unit
//  3. queued missions with live items are promoted to running; every live
//     mission gets a completion monitor
//
// Scheduled missions are left to the scheduler. Items already terminal by
// the time their first query lands simply finish normally.
func (e *Engine) recover(ctx context.Context) {
	live, err := e.missions.WithActiveItems(ctx)
	if err != nil {
		e.log.Error("recovery: list active missions", slog.Any("error", err))
		return
	}
	mine := map[int64]domain.Mission{}
	for _, m := range live {
		if m.Track == e.cfg.Track {
			mine[m.ID] = m
		}
	}
	if len(mine) == 0 {
		return
	}

	pending, err := e.items.PendingReady(ctx)
	if err != nil {
		e.log.Error("recovery: list pending items", slog.Any("error", err))
		return
	}
	var requeued int
	for _, it := range pending {
		if _, ok := mine[it.MissionID]; !ok {
			continue
		}
		e.Enqueue(it.ID)
		requeued++
	}

	processing, err := e.items.ProcessingWithTask(ctx)
	if err != nil {
		e.log.Error("recovery: list processing items", slog.Any("error", err))
		return
	}
	var resumed int
	for _, it := range processing {
		if _, ok := mine[it.MissionID]; !ok {
			continue
		}
		e.mu.Lock()
		e.inflight++
		e.mu.Unlock()
		e.spawnPoller(ctx, it.MissionID, it.ID, it.PlatformID, it.PlatformTaskID)
		resumed++
	}

	for id, m := range mine {
		if m.Status == domain.MissionQueued {
			if _, err := e.missions.MarkRunning(ctx, id, e.now()); err != nil {
				e.log.Error("recovery: promote mission", slog.Int64("mission_id", id), slog.Any("error", err))
			}
		}
		e.ensureMonitor(ctx, id)
	}

	e.log.Info("recovery complete",
		slog.Int("missions", len(mine)),
		slog.Int("requeued", requeued),
		slog.Int("resumed_pollers", resumed))
}
