// Package usecase contains application business logic services.
package usecase

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/engine"
)

// TaskEngine is the slice of the engine the facade needs.
type TaskEngine interface {
	Track() domain.EngineTrack
	Enqueue(ids ...int64)
	EnqueueMission(ctx domain.Context, missionID int64) error
	Status() engine.Status
}

// MissionService is the facade over mission lifecycle operations.
type MissionService struct {
	Missions domain.MissionRepository
	Items    domain.ItemRepository
	Engines  map[domain.EngineTrack]TaskEngine
	// Fetcher downloads result URLs for the ZIP export.
	Fetcher *http.Client
}

// NewMissionService constructs a MissionService with its dependencies.
func NewMissionService(missions domain.MissionRepository, items domain.ItemRepository, engines map[domain.EngineTrack]TaskEngine) MissionService {
	return MissionService{
		Missions: missions,
		Items:    items,
		Engines:  engines,
		Fetcher:  &http.Client{Timeout: 30 * time.Second},
	}
}

// scheduledPastGrace is how far in the past a scheduled time may lie at
// creation before the request is rejected.
const scheduledPastGrace = 5 * time.Second

// CreateMissionInput is the facade DTO for mission creation.
type CreateMissionInput struct {
	Name        string
	Description string
	Kind        domain.TaskKind
	ModelID     string
	Track       domain.EngineTrack
	Config      domain.Params
	BatchInput  []domain.Params
	ScheduledAt *time.Time
}

// Create validates the input, persists the mission with its items and, when
// not scheduled for later, pushes every item onto the engine queue.
func (s MissionService) Create(ctx domain.Context, in CreateMissionInput) (domain.Mission, error) {
	if in.Name == "" {
		return domain.Mission{}, fmt.Errorf("%w: name required", domain.ErrInvalidArgument)
	}
	if !in.Kind.Valid() {
		return domain.Mission{}, fmt.Errorf("%w: unknown task_type %q", domain.ErrInvalidArgument, in.Kind)
	}
	if len(in.BatchInput) == 0 {
		return domain.Mission{}, fmt.Errorf("%w: batch_input must not be empty", domain.ErrInvalidArgument)
	}
	if in.Track == "" {
		in.Track = domain.TrackAPI
	}
	eng, ok := s.Engines[in.Track]
	if !ok {
		return domain.Mission{}, fmt.Errorf("%w: unknown engine %q", domain.ErrInvalidArgument, in.Track)
	}

	now := time.Now().UTC()
	status := domain.MissionQueued
	if in.ScheduledAt != nil {
		if in.ScheduledAt.Before(now.Add(-scheduledPastGrace)) {
			return domain.Mission{}, fmt.Errorf("%w: scheduled_time is in the past", domain.ErrInvalidArgument)
		}
		if in.ScheduledAt.After(now) {
			status = domain.MissionScheduled
		}
	}

	m := domain.Mission{
		Name:        in.Name,
		Description: in.Description,
		Kind:        in.Kind,
		ModelID:     in.ModelID,
		Track:       in.Track,
		Config:      in.Config,
		Status:      status,
		TotalCount:  len(in.BatchInput),
		ScheduledAt: in.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := s.Missions.Create(ctx, m, in.BatchInput)
	if err != nil {
		return domain.Mission{}, err
	}
	m.ID = id

	if status == domain.MissionQueued {
		if err := eng.EnqueueMission(ctx, id); err != nil {
			return domain.Mission{}, err
		}
	}
	return m, nil
}

// MissionPage is one page of the mission list.
type MissionPage struct {
	Missions []domain.Mission
	Total    int
	Page     int
	PageSize int
}

// List returns one page of missions, newest first, optionally filtered by
// status.
func (s MissionService) List(ctx domain.Context, page, pageSize int, status string) (MissionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if status != "" && !validMissionStatus(status) {
		return MissionPage{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, status)
	}
	missions, total, err := s.Missions.List(ctx, page, pageSize, status)
	if err != nil {
		return MissionPage{}, err
	}
	return MissionPage{Missions: missions, Total: total, Page: page, PageSize: pageSize}, nil
}

// ListScheduled returns every mission still waiting on its scheduled time.
func (s MissionService) ListScheduled(ctx domain.Context) ([]domain.Mission, error) {
	return s.Missions.ListScheduled(ctx)
}

// Get returns one mission.
func (s MissionService) Get(ctx domain.Context, id int64) (domain.Mission, error) {
	return s.Missions.Get(ctx, id)
}

// MissionItems returns all items of one mission in index order.
func (s MissionService) MissionItems(ctx domain.Context, id int64) ([]domain.MissionItem, error) {
	if _, err := s.Missions.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Items.ListByMission(ctx, id)
}

// Cancel stops a mission: the mission and its still-pending items move to
// cancelled in one transaction. Items already submitted keep running remotely
// but are never transitioned again. Returns the number of items cancelled.
func (s MissionService) Cancel(ctx domain.Context, id int64) (int, error) {
	return s.Missions.Cancel(ctx, id)
}

// Retry resets every failed item of a mission back to pending and re-queues
// them. A mission with no failed items is left untouched and 0 is returned.
func (s MissionService) Retry(ctx domain.Context, id int64) (int, error) {
	m, err := s.Missions.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if m.Status == domain.MissionCancelled {
		return 0, fmt.Errorf("%w: mission is cancelled", domain.ErrConflict)
	}
	eng, ok := s.Engines[m.Track]
	if !ok {
		return 0, fmt.Errorf("op=retry: no engine for track %q: %w", m.Track, domain.ErrInternal)
	}

	n, err := s.Items.ResetFailed(ctx, id)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if m.Status.Terminal() {
		if err := s.Missions.SetStatus(ctx, id, domain.MissionQueued, ""); err != nil {
			return 0, err
		}
	}
	if err := eng.EnqueueMission(ctx, id); err != nil {
		return 0, err
	}
	return n, nil
}

// Delete removes a terminal mission and its items.
func (s MissionService) Delete(ctx domain.Context, id int64) error {
	return s.Missions.Delete(ctx, id)
}

// Download writes a ZIP of the mission's completed results to w. Each result
// URL is fetched best-effort; unreachable results are skipped. Returns the
// number of entries written.
func (s MissionService) Download(ctx domain.Context, id int64, w io.Writer) (int, error) {
	if _, err := s.Missions.Get(ctx, id); err != nil {
		return 0, err
	}
	items, err := s.Items.CompletedResults(ctx, id)
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(w)
	written := 0
	for _, it := range items {
		body, err := s.fetch(ctx, it.ResultURL)
		if err != nil {
			continue
		}
		name := fmt.Sprintf("item_%03d%s", it.Index, resultExt(it.ResultURL))
		f, err := zw.Create(name)
		if err != nil {
			return written, fmt.Errorf("op=download: zip entry: %w", err)
		}
		if _, err := f.Write(body); err != nil {
			return written, fmt.Errorf("op=download: zip write: %w", err)
		}
		written++
	}
	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("op=download: zip close: %w", err)
	}
	return written, nil
}

func (s MissionService) fetch(ctx domain.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Fetcher.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrUpstream, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 256<<20))
}

func resultExt(url string) string {
	ext := path.Ext(path.Base(url))
	if ext == "" || len(ext) > 8 {
		return ".bin"
	}
	return ext
}

// QueueStatus reports the queue snapshot of every engine keyed by track.
func (s MissionService) QueueStatus() map[domain.EngineTrack]engine.Status {
	out := make(map[domain.EngineTrack]engine.Status, len(s.Engines))
	for track, eng := range s.Engines {
		out[track] = eng.Status()
	}
	return out
}

// Progress is the completed fraction of a mission in [0, 1].
func Progress(m domain.Mission) float64 {
	if m.TotalCount == 0 {
		return 0
	}
	return float64(m.CompletedCount) / float64(m.TotalCount)
}

func validMissionStatus(s string) bool {
	switch domain.MissionStatus(s) {
	case domain.MissionScheduled, domain.MissionQueued, domain.MissionRunning,
		domain.MissionCompleted, domain.MissionFailed, domain.MissionCancelled:
		return true
	}
	return false
}
