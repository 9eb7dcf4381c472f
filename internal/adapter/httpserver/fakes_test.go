package httpserver_test

import (
	"sync"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/engine"
)

// missionStore is a tiny in-memory mission+item store for handler tests.
type missionStore struct {
	mu       sync.Mutex
	missions map[int64]domain.Mission
	items    map[int64][]domain.MissionItem
	nextID   int64
}

func newMissionStore() *missionStore {
	return &missionStore{missions: map[int64]domain.Mission{}, items: map[int64][]domain.MissionItem{}}
}

func (s *missionStore) put(m domain.Mission, items ...domain.MissionItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.ID] = m
	s.items[m.ID] = items
}

func (s *missionStore) Create(_ domain.Context, m domain.Mission, items []domain.Params) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	s.missions[m.ID] = m
	for i, p := range items {
		s.items[m.ID] = append(s.items[m.ID], domain.MissionItem{
			ID: int64(i + 1), MissionID: m.ID, Index: i, Params: p, Status: domain.ItemPending,
		})
	}
	return m.ID, nil
}

func (s *missionStore) Get(_ domain.Context, id int64) (domain.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return domain.Mission{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *missionStore) List(_ domain.Context, _, _ int, status string) ([]domain.Mission, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Mission
	for _, m := range s.missions {
		if status == "" || string(m.Status) == status {
			out = append(out, m)
		}
	}
	return out, len(out), nil
}

func (s *missionStore) ListScheduled(_ domain.Context) ([]domain.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Mission
	for _, m := range s.missions {
		if m.Status == domain.MissionScheduled {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *missionStore) DueScheduled(domain.Context, time.Time) ([]domain.Mission, error) {
	return nil, nil
}

func (s *missionStore) WithActiveItems(domain.Context) ([]domain.Mission, error) { return nil, nil }

func (s *missionStore) TransitionStatus(domain.Context, int64, domain.MissionStatus, domain.MissionStatus, string) (bool, error) {
	return true, nil
}

func (s *missionStore) MarkRunning(domain.Context, int64, time.Time) (bool, error) {
	return true, nil
}

func (s *missionStore) SetStatus(_ domain.Context, id int64, status domain.MissionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.missions[id]
	m.Status = status
	m.ErrorMessage = errMsg
	s.missions[id] = m
	return nil
}

func (s *missionStore) UpdateCounters(domain.Context, int64, int, int) error { return nil }

func (s *missionStore) Cancel(_ domain.Context, id int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if m.Status.Terminal() {
		return 0, domain.ErrConflict
	}
	m.Status = domain.MissionCancelled
	s.missions[id] = m
	n := 0
	for i, it := range s.items[id] {
		if it.Status == domain.ItemPending {
			s.items[id][i].Status = domain.ItemCancelled
			n++
		}
	}
	return n, nil
}

func (s *missionStore) Delete(_ domain.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !m.Status.Terminal() {
		return domain.ErrConflict
	}
	delete(s.missions, id)
	delete(s.items, id)
	return nil
}

// ItemRepository over the same store.

func (s *missionStore) GetItem(domain.Context, int64) (domain.MissionItem, error) {
	return domain.MissionItem{}, domain.ErrNotFound
}

func (s *missionStore) ListByMission(_ domain.Context, missionID int64) ([]domain.MissionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.MissionItem(nil), s.items[missionID]...), nil
}

func (s *missionStore) PendingByMission(_ domain.Context, missionID int64) ([]domain.MissionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MissionItem
	for _, it := range s.items[missionID] {
		if it.Status == domain.ItemPending {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *missionStore) PendingReady(domain.Context) ([]domain.MissionItem, error) { return nil, nil }

func (s *missionStore) ProcessingWithTask(domain.Context) ([]domain.MissionItem, error) {
	return nil, nil
}

func (s *missionStore) DueRetries(domain.Context, time.Time) ([]domain.MissionItem, error) {
	return nil, nil
}

func (s *missionStore) SetPlatformTask(domain.Context, int64, string, string) error { return nil }

func (s *missionStore) MarkProcessing(domain.Context, int64, string, string) error { return nil }

func (s *missionStore) MarkCompleted(domain.Context, int64, string) error { return nil }

func (s *missionStore) MarkFailed(domain.Context, int64, string) error { return nil }

func (s *missionStore) ScheduleRetry(domain.Context, int64, int, time.Time, string) error {
	return nil
}

func (s *missionStore) ResetFailed(_ domain.Context, missionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i, it := range s.items[missionID] {
		if it.Status == domain.ItemFailed {
			s.items[missionID][i].Status = domain.ItemPending
			n++
		}
	}
	return n, nil
}

func (s *missionStore) CompletedResults(domain.Context, int64) ([]domain.MissionItem, error) {
	return nil, nil
}

func (s *missionStore) CountActive(domain.Context, int64) (int, error) { return 0, nil }

func (s *missionStore) Stats(domain.Context, int64) (domain.ItemStats, error) {
	return domain.ItemStats{}, nil
}

// itemsView disambiguates Get between the two repository interfaces.
type itemsView struct{ *missionStore }

func (v itemsView) Get(_ domain.Context, id int64) (domain.MissionItem, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, items := range v.items {
		for _, it := range items {
			if it.ID == id {
				return it, nil
			}
		}
	}
	return domain.MissionItem{}, domain.ErrNotFound
}

type engineStub struct {
	track    domain.EngineTrack
	missions []int64
}

func (f *engineStub) Track() domain.EngineTrack { return f.track }

func (f *engineStub) Enqueue(...int64) {}

func (f *engineStub) EnqueueMission(_ domain.Context, missionID int64) error {
	f.missions = append(f.missions, missionID)
	return nil
}

func (f *engineStub) Status() engine.Status {
	return engine.Status{QueueLength: 2, RunningTasks: 1, CurrentInflight: 1, MaxConcurrent: 50}
}

type templateStore struct {
	mu     sync.Mutex
	tpls   map[int64]domain.Template
	nextID int64
}

func newTemplateStore() *templateStore { return &templateStore{tpls: map[int64]domain.Template{}} }

func (s *templateStore) Create(_ domain.Context, t domain.Template) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t.ID = s.nextID
	s.tpls[t.ID] = t
	return t.ID, nil
}

func (s *templateStore) List(_ domain.Context, kind string) ([]domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Template
	for _, t := range s.tpls {
		if kind == "" || string(t.Kind) == kind {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *templateStore) Delete(_ domain.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tpls[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.tpls, id)
	return nil
}

type mediaStore struct {
	mu     sync.Mutex
	files  map[int64]domain.MediaFile
	nextID int64
}

func newMediaStore() *mediaStore { return &mediaStore{files: map[int64]domain.MediaFile{}} }

func (s *mediaStore) Create(_ domain.Context, f domain.MediaFile) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	f.ID = s.nextID
	s.files[f.ID] = f
	return f.ID, nil
}

func (s *mediaStore) Get(_ domain.Context, id int64) (domain.MediaFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return domain.MediaFile{}, domain.ErrNotFound
	}
	return f, nil
}

func (s *mediaStore) FindByHash(_ domain.Context, hash string) (domain.MediaFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.files {
		if f.Hash == hash {
			return f, nil
		}
	}
	return domain.MediaFile{}, domain.ErrNotFound
}

func (s *mediaStore) FindByProviderNames(_ domain.Context, names []string) ([]domain.MediaFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MediaFile
	for _, f := range s.files {
		for _, n := range names {
			if f.ProviderName == n {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func (s *mediaStore) List(domain.Context) ([]domain.MediaFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MediaFile
	for _, f := range s.files {
		out = append(out, f)
	}
	return out, nil
}

func (s *mediaStore) IncrementUploadCount(_ domain.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.files[id]
	f.UploadCount++
	s.files[id] = f
	return nil
}

type uploaderStub struct{ handle string }

func (u uploaderStub) UploadFile(domain.Context, string, string) (string, error) {
	return u.handle, nil
}
