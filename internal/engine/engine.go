// Package engine runs the task lifecycle: a bounded-concurrency consumer
// loop feeding platform submissions, per-item polling workers, per-mission
// completion monitors, crash recovery, plus the retry checker and scheduler
// loops.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/adapter/platform"
	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/observability"
)

// PlatformService is the slice of the platform manager the engine needs.
type PlatformService interface {
	Submit(ctx domain.Context, itemID int64, specified string, kind domain.TaskKind, p domain.Params, modelID string) (string, domain.SubmitResult, error)
	Query(ctx domain.Context, platformID, taskID string) (domain.QueryResult, error)
}

// Config tunes one engine instance.
type Config struct {
	Track         domain.EngineTrack
	MaxConcurrent int
	MaxRetry      int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	PollInterval  time.Duration
	// MonitorInterval is the completion-monitor period.
	MonitorInterval time.Duration
	// IdleSleep is the consumer pause when no work is admissible.
	IdleSleep time.Duration
	// TransportRetrySleep is the poller pause after a transport error.
	TransportRetrySleep time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 60 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = time.Hour
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 2 * time.Second
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 500 * time.Millisecond
	}
	if c.TransportRetrySleep <= 0 {
		c.TransportRetrySleep = 10 * time.Second
	}
	return c
}

// Status is the externally visible queue snapshot.
type Status struct {
	QueueLength     int `json:"queue_length"`
	RunningTasks    int `json:"running_tasks"`
	CurrentInflight int `json:"current_inflight"`
	MaxConcurrent   int `json:"max_concurrent"`
}

// Engine drives all items of one track.
type Engine struct {
	cfg       Config
	missions  domain.MissionRepository
	items     domain.ItemRepository
	platforms PlatformService
	log       *slog.Logger
	now       func() time.Time

	// mu guards the ready queue, the holding deque, the queued-id set and
	// the inflight counter.
	mu       sync.Mutex
	ready    []int64
	holding  []int64
	queued   map[int64]struct{}
	inflight int

	// workersMu guards the polling-worker and monitor registries.
	workersMu sync.Mutex
	workers   map[int64]struct{}
	monitors  map[int64]struct{}

	wg sync.WaitGroup
}

// New constructs an engine for one track.
func New(cfg Config, missions domain.MissionRepository, items domain.ItemRepository, platforms PlatformService, log *slog.Logger) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:       cfg,
		missions:  missions,
		items:     items,
		platforms: platforms,
		log:       log.With(slog.String("engine", string(cfg.Track))),
		now:       time.Now,
		queued:    map[int64]struct{}{},
		workers:   map[int64]struct{}{},
		monitors:  map[int64]struct{}{},
	}
}

// Start runs crash recovery and then the consumer loop until ctx is
// cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.recover(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.consume(ctx)
	}()
}

// Wait blocks until all engine goroutines have exited.
func (e *Engine) Wait() { e.wg.Wait() }

// Enqueue pushes item ids onto the ready queue. Ids already queued or in
// flight are dropped so an item is never queued twice.
func (e *Engine) Enqueue(ids ...int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if _, dup := e.queued[id]; dup {
			continue
		}
		e.queued[id] = struct{}{}
		e.ready = append(e.ready, id)
	}
	observability.QueueLength.WithLabelValues(string(e.cfg.Track)).Set(float64(len(e.ready) + len(e.holding)))
}

// EnqueueMission pushes every pending item of a mission.
func (e *Engine) EnqueueMission(ctx context.Context, missionID int64) error {
	items, err := e.items.PendingByMission(ctx, missionID)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	e.Enqueue(ids...)
	return nil
}

// Status reports the queue snapshot for this track.
func (e *Engine) Status() Status {
	e.mu.Lock()
	queueLen := len(e.ready) + len(e.holding)
	inflight := e.inflight
	e.mu.Unlock()
	e.workersMu.Lock()
	running := len(e.workers)
	e.workersMu.Unlock()
	return Status{
		QueueLength:     queueLen,
		RunningTasks:    running,
		CurrentInflight: inflight,
		MaxConcurrent:   e.cfg.MaxConcurrent,
	}
}

// Track returns the engine's track.
func (e *Engine) Track() domain.EngineTrack { return e.cfg.Track }

func (e *Engine) consume(ctx context.Context) {
	for ctx.Err() == nil {
		if e.step(ctx) {
			continue
		}
		e.mergeHolding()
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.IdleSleep):
		}
	}
}

// step pops and handles one queue entry; reports whether it made progress.
func (e *Engine) step(ctx context.Context) bool {
	e.mu.Lock()
	if e.inflight >= e.cfg.MaxConcurrent || len(e.ready) == 0 {
		e.mu.Unlock()
		return false
	}
	id := e.ready[0]
	e.ready = e.ready[1:]
	e.mu.Unlock()

	it, err := e.items.Get(ctx, id)
	if err != nil {
		e.log.Warn("drop queued item", slog.Int64("item_id", id), slog.Any("error", err))
		e.forget(id)
		return true
	}
	if it.Status != domain.ItemPending {
		e.forget(id)
		return true
	}
	if it.NextRetryAt != nil && it.NextRetryAt.After(e.now()) {
		// Not due yet; park it. The retry checker re-pushes when due, the
		// queued set keeps it deduplicated meanwhile.
		e.mu.Lock()
		e.holding = append(e.holding, id)
		e.mu.Unlock()
		return true
	}

	m, err := e.missions.Get(ctx, it.MissionID)
	if err != nil {
		e.log.Warn("drop item of unknown mission", slog.Int64("item_id", id), slog.Any("error", err))
		e.forget(id)
		return true
	}
	if m.Status.Terminal() || m.Status == domain.MissionScheduled {
		e.forget(id)
		return true
	}

	e.admit(ctx, m, it)
	return true
}

// admit takes one inflight slot and hands the item to the submission path.
func (e *Engine) admit(ctx context.Context, m domain.Mission, it domain.MissionItem) {
	e.mu.Lock()
	e.inflight++
	delete(e.queued, it.ID)
	observability.Inflight.WithLabelValues(string(e.cfg.Track)).Set(float64(e.inflight))
	observability.QueueLength.WithLabelValues(string(e.cfg.Track)).Set(float64(len(e.ready) + len(e.holding)))
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.submit(ctx, m, it)
	}()
}

// submit runs the submission path for one admitted item.
func (e *Engine) submit(ctx context.Context, m domain.Mission, it domain.MissionItem) {
	if m.Status == domain.MissionQueued {
		if _, err := e.missions.MarkRunning(ctx, m.ID, e.now()); err != nil {
			e.log.Error("mark mission running", slog.Int64("mission_id", m.ID), slog.Any("error", err))
		}
	}
	e.ensureMonitor(ctx, m.ID)

	merged := domain.MergeParams(m.Config, it.Params)
	specified := ""
	if v, ok := merged["platform_id"]; ok {
		specified = v.Str
		delete(merged, "platform_id")
	}

	tctx := platform.WithTrack(ctx, e.cfg.Track)
	platformID, res, err := e.platforms.Submit(tctx, it.ID, specified, m.Kind, merged, m.ModelID)
	if err != nil {
		e.log.Warn("submit error", slog.Int64("item_id", it.ID), slog.Any("error", err))
		e.retryDecision(ctx, it.ID, err.Error())
		e.releaseInflight()
		return
	}
	if !res.OK {
		e.log.Warn("submit rejected", slog.Int64("item_id", it.ID), slog.String("message", res.Message))
		e.retryDecision(ctx, it.ID, res.Message)
		e.releaseInflight()
		return
	}

	if err := e.items.MarkProcessing(ctx, it.ID, platformID, res.TaskID); err != nil {
		// Likely cancelled between admit and submit; the remote task is
		// abandoned, consistent with cancellation semantics.
		e.log.Warn("mark processing", slog.Int64("item_id", it.ID), slog.Any("error", err))
		e.releaseInflight()
		return
	}
	e.spawnPoller(ctx, m.ID, it.ID, platformID, res.TaskID)
}

// retryDecision applies the backoff policy to a failed attempt. The item
// either returns to pending with next_retry_at set, or becomes failed when
// its retry budget is spent.
func (e *Engine) retryDecision(ctx context.Context, itemID int64, msg string) {
	it, err := e.items.Get(ctx, itemID)
	if err != nil {
		e.log.Error("retry decision load", slog.Int64("item_id", itemID), slog.Any("error", err))
		return
	}
	if it.Status.Terminal() {
		return
	}
	if it.RetryCount < e.cfg.MaxRetry {
		delay := e.backoffDelay(it.RetryCount)
		if err := e.items.ScheduleRetry(ctx, itemID, it.RetryCount+1, e.now().Add(delay), msg); err != nil {
			e.log.Error("schedule retry", slog.Int64("item_id", itemID), slog.Any("error", err))
			return
		}
		observability.ItemsRetriedTotal.WithLabelValues(string(e.cfg.Track)).Inc()
		e.log.Info("retry scheduled",
			slog.Int64("item_id", itemID),
			slog.Int("retry_count", it.RetryCount+1),
			slog.Duration("delay", delay))
		return
	}
	if err := e.items.MarkFailed(ctx, itemID, msg); err != nil {
		e.log.Error("mark failed", slog.Int64("item_id", itemID), slog.Any("error", err))
		return
	}
	observability.ItemsFailedTotal.WithLabelValues(string(e.cfg.Track)).Inc()
	e.refreshCounters(ctx, it.MissionID)
}

// backoffDelay computes min(base * 2^retries, max).
func (e *Engine) backoffDelay(retries int) time.Duration {
	d := e.cfg.BaseDelay
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	if d > e.cfg.MaxDelay {
		return e.cfg.MaxDelay
	}
	return d
}

func (e *Engine) releaseInflight() {
	e.mu.Lock()
	e.inflight--
	observability.Inflight.WithLabelValues(string(e.cfg.Track)).Set(float64(e.inflight))
	e.mu.Unlock()
}

// forget removes an id from the queued set without admitting it.
func (e *Engine) forget(id int64) {
	e.mu.Lock()
	delete(e.queued, id)
	e.mu.Unlock()
}

func (e *Engine) mergeHolding() {
	e.mu.Lock()
	e.ready = append(e.ready, e.holding...)
	e.holding = nil
	e.mu.Unlock()
}

// refreshCounters recomputes and stores the mission's item counters.
func (e *Engine) refreshCounters(ctx context.Context, missionID int64) {
	stats, err := e.items.Stats(ctx, missionID)
	if err != nil {
		e.log.Error("item stats", slog.Int64("mission_id", missionID), slog.Any("error", err))
		return
	}
	if err := e.missions.UpdateCounters(ctx, missionID, stats.Completed, stats.Failed); err != nil {
		e.log.Error("update counters", slog.Int64("mission_id", missionID), slog.Any("error", err))
	}
}
