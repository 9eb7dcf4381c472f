package usecase_test

import (
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/engine"
)

// Function-field fakes; a nil field returns zero values.

type missionRepoFake struct {
	CreateFn           func(domain.Context, domain.Mission, []domain.Params) (int64, error)
	GetFn              func(domain.Context, int64) (domain.Mission, error)
	ListFn             func(domain.Context, int, int, string) ([]domain.Mission, int, error)
	ListScheduledFn    func(domain.Context) ([]domain.Mission, error)
	SetStatusFn        func(domain.Context, int64, domain.MissionStatus, string) error
	CancelFn           func(domain.Context, int64) (int, error)
	DeleteFn           func(domain.Context, int64) error
	TransitionStatusFn func(domain.Context, int64, domain.MissionStatus, domain.MissionStatus, string) (bool, error)
}

func (f *missionRepoFake) Create(ctx domain.Context, m domain.Mission, items []domain.Params) (int64, error) {
	if f.CreateFn == nil {
		return 1, nil
	}
	return f.CreateFn(ctx, m, items)
}

func (f *missionRepoFake) Get(ctx domain.Context, id int64) (domain.Mission, error) {
	if f.GetFn == nil {
		return domain.Mission{}, domain.ErrNotFound
	}
	return f.GetFn(ctx, id)
}

func (f *missionRepoFake) List(ctx domain.Context, page, pageSize int, status string) ([]domain.Mission, int, error) {
	if f.ListFn == nil {
		return nil, 0, nil
	}
	return f.ListFn(ctx, page, pageSize, status)
}

func (f *missionRepoFake) ListScheduled(ctx domain.Context) ([]domain.Mission, error) {
	if f.ListScheduledFn == nil {
		return nil, nil
	}
	return f.ListScheduledFn(ctx)
}

func (f *missionRepoFake) DueScheduled(domain.Context, time.Time) ([]domain.Mission, error) {
	return nil, nil
}

func (f *missionRepoFake) WithActiveItems(domain.Context) ([]domain.Mission, error) { return nil, nil }

func (f *missionRepoFake) TransitionStatus(ctx domain.Context, id int64, from, to domain.MissionStatus, errMsg string) (bool, error) {
	if f.TransitionStatusFn == nil {
		return true, nil
	}
	return f.TransitionStatusFn(ctx, id, from, to, errMsg)
}

func (f *missionRepoFake) MarkRunning(domain.Context, int64, time.Time) (bool, error) {
	return true, nil
}

func (f *missionRepoFake) SetStatus(ctx domain.Context, id int64, status domain.MissionStatus, errMsg string) error {
	if f.SetStatusFn == nil {
		return nil
	}
	return f.SetStatusFn(ctx, id, status, errMsg)
}

func (f *missionRepoFake) UpdateCounters(domain.Context, int64, int, int) error { return nil }

func (f *missionRepoFake) Cancel(ctx domain.Context, id int64) (int, error) {
	if f.CancelFn == nil {
		return 0, nil
	}
	return f.CancelFn(ctx, id)
}

func (f *missionRepoFake) Delete(ctx domain.Context, id int64) error {
	if f.DeleteFn == nil {
		return nil
	}
	return f.DeleteFn(ctx, id)
}

type itemRepoFake struct {
	ListByMissionFn    func(domain.Context, int64) ([]domain.MissionItem, error)
	ResetFailedFn      func(domain.Context, int64) (int, error)
	CompletedResultsFn func(domain.Context, int64) ([]domain.MissionItem, error)
}

func (f *itemRepoFake) Get(domain.Context, int64) (domain.MissionItem, error) {
	return domain.MissionItem{}, domain.ErrNotFound
}

func (f *itemRepoFake) ListByMission(ctx domain.Context, missionID int64) ([]domain.MissionItem, error) {
	if f.ListByMissionFn == nil {
		return nil, nil
	}
	return f.ListByMissionFn(ctx, missionID)
}

func (f *itemRepoFake) PendingByMission(domain.Context, int64) ([]domain.MissionItem, error) {
	return nil, nil
}

func (f *itemRepoFake) PendingReady(domain.Context) ([]domain.MissionItem, error) { return nil, nil }

func (f *itemRepoFake) ProcessingWithTask(domain.Context) ([]domain.MissionItem, error) {
	return nil, nil
}

func (f *itemRepoFake) DueRetries(domain.Context, time.Time) ([]domain.MissionItem, error) {
	return nil, nil
}

func (f *itemRepoFake) SetPlatformTask(domain.Context, int64, string, string) error { return nil }

func (f *itemRepoFake) MarkProcessing(domain.Context, int64, string, string) error { return nil }

func (f *itemRepoFake) MarkCompleted(domain.Context, int64, string) error { return nil }

func (f *itemRepoFake) MarkFailed(domain.Context, int64, string) error { return nil }

func (f *itemRepoFake) ScheduleRetry(domain.Context, int64, int, time.Time, string) error {
	return nil
}

func (f *itemRepoFake) ResetFailed(ctx domain.Context, missionID int64) (int, error) {
	if f.ResetFailedFn == nil {
		return 0, nil
	}
	return f.ResetFailedFn(ctx, missionID)
}

func (f *itemRepoFake) CompletedResults(ctx domain.Context, missionID int64) ([]domain.MissionItem, error) {
	if f.CompletedResultsFn == nil {
		return nil, nil
	}
	return f.CompletedResultsFn(ctx, missionID)
}

func (f *itemRepoFake) CountActive(domain.Context, int64) (int, error) { return 0, nil }

func (f *itemRepoFake) Stats(domain.Context, int64) (domain.ItemStats, error) {
	return domain.ItemStats{}, nil
}

type engineFake struct {
	track    domain.EngineTrack
	enqueued []int64
	missions []int64
	status   engine.Status
}

func (f *engineFake) Track() domain.EngineTrack { return f.track }

func (f *engineFake) Enqueue(ids ...int64) { f.enqueued = append(f.enqueued, ids...) }

func (f *engineFake) EnqueueMission(_ domain.Context, missionID int64) error {
	f.missions = append(f.missions, missionID)
	return nil
}

func (f *engineFake) Status() engine.Status { return f.status }

type mediaRepoFake struct {
	files  map[int64]domain.MediaFile
	byHash map[string]int64
	nextID int64
	bumps  int
}

func newMediaRepoFake() *mediaRepoFake {
	return &mediaRepoFake{files: map[int64]domain.MediaFile{}, byHash: map[string]int64{}}
}

func (f *mediaRepoFake) Create(_ domain.Context, m domain.MediaFile) (int64, error) {
	f.nextID++
	m.ID = f.nextID
	f.files[m.ID] = m
	f.byHash[m.Hash] = m.ID
	return m.ID, nil
}

func (f *mediaRepoFake) Get(_ domain.Context, id int64) (domain.MediaFile, error) {
	m, ok := f.files[id]
	if !ok {
		return domain.MediaFile{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *mediaRepoFake) FindByHash(_ domain.Context, hash string) (domain.MediaFile, error) {
	id, ok := f.byHash[hash]
	if !ok {
		return domain.MediaFile{}, domain.ErrNotFound
	}
	return f.files[id], nil
}

func (f *mediaRepoFake) FindByProviderNames(_ domain.Context, names []string) ([]domain.MediaFile, error) {
	var out []domain.MediaFile
	for _, m := range f.files {
		for _, n := range names {
			if m.ProviderName == n {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (f *mediaRepoFake) List(domain.Context) ([]domain.MediaFile, error) {
	var out []domain.MediaFile
	for _, m := range f.files {
		out = append(out, m)
	}
	return out, nil
}

func (f *mediaRepoFake) IncrementUploadCount(_ domain.Context, id int64) error {
	m := f.files[id]
	m.UploadCount++
	f.files[id] = m
	f.bumps++
	return nil
}

type uploaderFake struct {
	handle string
	err    error
	calls  int
}

func (f *uploaderFake) UploadFile(_ domain.Context, _, _ string) (string, error) {
	f.calls++
	return f.handle, f.err
}

type templateRepoFake struct {
	created []domain.Template
	deleted []int64
	listFn  func(domain.Context, string) ([]domain.Template, error)
}

func (f *templateRepoFake) Create(_ domain.Context, t domain.Template) (int64, error) {
	f.created = append(f.created, t)
	return int64(len(f.created)), nil
}

func (f *templateRepoFake) List(ctx domain.Context, kind string) ([]domain.Template, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, kind)
}

func (f *templateRepoFake) Delete(_ domain.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}
