package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// ensureMonitor starts the completion monitor for a mission exactly once.
func (e *Engine) ensureMonitor(ctx context.Context, missionID int64) {
	e.workersMu.Lock()
	if _, dup := e.monitors[missionID]; dup {
		e.workersMu.Unlock()
		return
	}
	e.monitors[missionID] = struct{}{}
	e.workersMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.workersMu.Lock()
			delete(e.monitors, missionID)
			e.workersMu.Unlock()
		}()
		e.monitor(ctx, missionID)
	}()
}

// monitor finalizes the mission once every item is terminal.
func (e *Engine) monitor(ctx context.Context, missionID int64) {
	ticker := time.NewTicker(e.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats, err := e.items.Stats(ctx, missionID)
		if err != nil {
			e.log.Error("monitor stats", slog.Int64("mission_id", missionID), slog.Any("error", err))
			continue
		}
		if err := e.missions.UpdateCounters(ctx, missionID, stats.Completed, stats.Failed); err != nil {
			e.log.Error("monitor counters", slog.Int64("mission_id", missionID), slog.Any("error", err))
		}

		m, err := e.missions.Get(ctx, missionID)
		if err != nil {
			e.log.Error("monitor mission load", slog.Int64("mission_id", missionID), slog.Any("error", err))
			continue
		}
		if m.Status.Terminal() {
			return
		}
		if !stats.Done() {
			continue
		}

		status := domain.MissionCompleted
		msg := ""
		if stats.Completed == 0 && stats.Failed > 0 {
			status = domain.MissionFailed
			msg = "all items failed"
		}
		// Guarded transition: a cancel landing after the status read above
		// must not be overwritten. Losing the race means another writer
		// owns the mission now; the next tick re-reads.
		ok, err := e.missions.TransitionStatus(ctx, missionID, m.Status, status, msg)
		if err != nil {
			e.log.Error("monitor finalize", slog.Int64("mission_id", missionID), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		e.log.Info("mission finished",
			slog.Int64("mission_id", missionID),
			slog.String("status", string(status)),
			slog.Int("completed", stats.Completed),
			slog.Int("failed", stats.Failed))
		return
	}
}
