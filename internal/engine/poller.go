package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/observability"
)

// spawnPoller registers and starts one polling worker for an in-flight item.
// The caller has already charged one inflight unit.
func (e *Engine) spawnPoller(ctx context.Context, missionID, itemID int64, platformID, taskID string) {
	e.workersMu.Lock()
	if _, dup := e.workers[itemID]; dup {
		e.workersMu.Unlock()
		e.releaseInflight()
		return
	}
	e.workers[itemID] = struct{}{}
	e.workersMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.workersMu.Lock()
			delete(e.workers, itemID)
			e.workersMu.Unlock()
			e.releaseInflight()
		}()
		e.poll(ctx, missionID, itemID, platformID, taskID)
	}()
}

// poll queries the platform until the item reaches a terminal outcome or is
// retried. Transport errors never terminate the worker.
func (e *Engine) poll(ctx context.Context, missionID, itemID int64, platformID, taskID string) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m, err := e.missions.Get(ctx, missionID)
		if err != nil {
			e.log.Error("poll mission load", slog.Int64("mission_id", missionID), slog.Any("error", err))
			continue
		}
		if m.Status == domain.MissionCancelled {
			// Leave the item as-is; nobody transitions items of a
			// cancelled mission.
			return
		}

		q, err := e.platforms.Query(ctx, platformID, taskID)
		if err != nil {
			e.log.Warn("poll transport error",
				slog.Int64("item_id", itemID),
				slog.String("task_id", taskID),
				slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.cfg.TransportRetrySleep):
			}
			continue
		}

		switch q.State {
		case domain.StateSuccess:
			url := firstNonEmpty(q.ResultURLs)
			if url == "" {
				e.retryDecision(ctx, itemID, "completed with no result")
				return
			}
			if err := e.items.MarkCompleted(ctx, itemID, url); err != nil {
				e.log.Error("mark completed", slog.Int64("item_id", itemID), slog.Any("error", err))
				return
			}
			observability.ItemsCompletedTotal.WithLabelValues(string(e.cfg.Track)).Inc()
			e.refreshCounters(ctx, missionID)
			return
		case domain.StateFailed:
			msg := q.Message
			if msg == "" {
				msg = "provider reported failure"
			}
			e.retryDecision(ctx, itemID, msg)
			return
		default:
			// PENDING, QUEUED, RUNNING: keep polling.
		}
	}
}

func firstNonEmpty(ss []string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
