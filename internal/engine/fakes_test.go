package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// memStore is an in-memory implementation of the mission and item
// repositories, good enough to drive the engine end to end.
type memStore struct {
	mu          sync.Mutex
	missions    map[int64]*domain.Mission
	items       map[int64]*domain.MissionItem
	nextMission int64
	nextItem    int64
}

func newMemStore() *memStore {
	return &memStore{
		missions: map[int64]*domain.Mission{},
		items:    map[int64]*domain.MissionItem{},
	}
}

// addMission seeds one mission with n pending items and returns its id plus
// the item ids in index order.
func (s *memStore) addMission(track domain.EngineTrack, status domain.MissionStatus, n int) (int64, []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMission++
	mid := s.nextMission
	now := time.Now().UTC()
	s.missions[mid] = &domain.Mission{
		ID: mid, Name: fmt.Sprintf("m-%d", mid), Kind: domain.TextToImage,
		Track: track, Status: status, TotalCount: n, CreatedAt: now, UpdatedAt: now,
	}
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		s.nextItem++
		s.items[s.nextItem] = &domain.MissionItem{
			ID: s.nextItem, MissionID: mid, Index: i,
			Params: domain.Params{"prompt": domain.String(fmt.Sprintf("p-%d", i))},
			Status: domain.ItemPending, CreatedAt: now, UpdatedAt: now,
		}
		ids = append(ids, s.nextItem)
	}
	return mid, ids
}

func (s *memStore) mission(id int64) domain.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.missions[id]
}

func (s *memStore) item(id int64) domain.MissionItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

// MissionRepository

func (s *memStore) Create(_ domain.Context, m domain.Mission, items []domain.Params) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMission++
	m.ID = s.nextMission
	m.TotalCount = len(items)
	s.missions[m.ID] = &m
	for i, p := range items {
		s.nextItem++
		s.items[s.nextItem] = &domain.MissionItem{ID: s.nextItem, MissionID: m.ID, Index: i, Params: p, Status: domain.ItemPending}
	}
	return m.ID, nil
}

func (s *memStore) Get(_ domain.Context, id int64) (domain.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return domain.Mission{}, domain.ErrNotFound
	}
	return *m, nil
}

func (s *memStore) List(_ domain.Context, _, _ int, _ string) ([]domain.Mission, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Mission
	for _, m := range s.missions {
		out = append(out, *m)
	}
	return out, len(out), nil
}

func (s *memStore) ListScheduled(_ domain.Context) ([]domain.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Mission
	for _, m := range s.missions {
		if m.Status == domain.MissionScheduled {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) DueScheduled(_ domain.Context, now time.Time) ([]domain.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Mission
	for _, m := range s.missions {
		if m.Status == domain.MissionScheduled && m.ScheduledAt != nil && !m.ScheduledAt.After(now) {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) WithActiveItems(_ domain.Context) ([]domain.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := map[int64]bool{}
	for _, it := range s.items {
		if it.Status == domain.ItemPending || it.Status == domain.ItemProcessing {
			active[it.MissionID] = true
		}
	}
	var out []domain.Mission
	for id, m := range s.missions {
		if active[id] && (m.Status == domain.MissionQueued || m.Status == domain.MissionRunning) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) TransitionStatus(_ domain.Context, id int64, from, to domain.MissionStatus, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	m.ErrorMessage = errMsg
	return true, nil
}

func (s *memStore) MarkRunning(_ domain.Context, id int64, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok || m.Status != domain.MissionQueued {
		return false, nil
	}
	m.Status = domain.MissionRunning
	m.StartedAt = &startedAt
	return true, nil
}

func (s *memStore) SetStatus(_ domain.Context, id int64, status domain.MissionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = status
	m.ErrorMessage = errMsg
	return nil
}

func (s *memStore) UpdateCounters(_ domain.Context, id int64, completed, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.CompletedCount = completed
	m.FailedCount = failed
	return nil
}

func (s *memStore) Cancel(_ domain.Context, id int64) (int, error) {
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
	n := 0
	for _, it := range s.items {
		if it.MissionID == id && it.Status == domain.ItemPending {
			it.Status = domain.ItemCancelled
			n++
		}
	}
	return n, nil
}

func (s *memStore) Delete(_ domain.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.missions, id)
	for iid, it := range s.items {
		if it.MissionID == id {
			delete(s.items, iid)
		}
	}
	return nil
}

// ItemRepository

func (s *memStore) GetItem(ctx domain.Context, id int64) (domain.MissionItem, error) {
	return s.itemsView().Get(ctx, id)
}

func (s *memStore) ListByMission(_ domain.Context, missionID int64) ([]domain.MissionItem, error) {
	return s.selectItems(func(it *domain.MissionItem) bool { return it.MissionID == missionID }), nil
}

func (s *memStore) PendingByMission(_ domain.Context, missionID int64) ([]domain.MissionItem, error) {
	return s.selectItems(func(it *domain.MissionItem) bool {
		return it.MissionID == missionID && it.Status == domain.ItemPending
	}), nil
}

func (s *memStore) PendingReady(_ domain.Context) ([]domain.MissionItem, error) {
	s.mu.Lock()
	live := map[int64]bool{}
	for id, m := range s.missions {
		live[id] = m.Status == domain.MissionQueued || m.Status == domain.MissionRunning
	}
	s.mu.Unlock()
	return s.selectItems(func(it *domain.MissionItem) bool {
		return it.Status == domain.ItemPending && it.NextRetryAt == nil && live[it.MissionID]
	}), nil
}

func (s *memStore) ProcessingWithTask(_ domain.Context) ([]domain.MissionItem, error) {
	return s.selectItems(func(it *domain.MissionItem) bool {
		return it.Status == domain.ItemProcessing && it.PlatformTaskID != ""
	}), nil
}

func (s *memStore) DueRetries(_ domain.Context, now time.Time) ([]domain.MissionItem, error) {
	s.mu.Lock()
	live := map[int64]bool{}
	for id, m := range s.missions {
		live[id] = m.Status == domain.MissionQueued || m.Status == domain.MissionRunning
	}
	s.mu.Unlock()
	return s.selectItems(func(it *domain.MissionItem) bool {
		return it.Status == domain.ItemPending && it.NextRetryAt != nil && !it.NextRetryAt.After(now) && live[it.MissionID]
	}), nil
}

func (s *memStore) selectItems(keep func(*domain.MissionItem) bool) []domain.MissionItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MissionItem
	for _, it := range s.items {
		if keep(it) {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) SetPlatformTask(_ domain.Context, id int64, platformID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	it.PlatformID = platformID
	it.PlatformTaskID = taskID
	return nil
}

func (s *memStore) MarkProcessing(_ domain.Context, id int64, platformID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.Status != domain.ItemPending {
		return domain.ErrConflict
	}
	it.Status = domain.ItemProcessing
	it.PlatformID = platformID
	it.PlatformTaskID = taskID
	it.NextRetryAt = nil
	return nil
}

func (s *memStore) MarkCompleted(_ domain.Context, id int64, resultURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.Status != domain.ItemProcessing {
		return domain.ErrConflict
	}
	it.Status = domain.ItemCompleted
	it.ResultURL = resultURL
	it.ErrorMessage = ""
	return nil
}

func (s *memStore) MarkFailed(_ domain.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.Status.Terminal() {
		return domain.ErrConflict
	}
	it.Status = domain.ItemFailed
	it.ErrorMessage = errMsg
	return nil
}

func (s *memStore) ScheduleRetry(_ domain.Context, id int64, retryCount int, nextRetryAt time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok || it.Status.Terminal() {
		return domain.ErrConflict
	}
	it.Status = domain.ItemPending
	it.RetryCount = retryCount
	it.NextRetryAt = &nextRetryAt
	it.ErrorMessage = errMsg
	it.PlatformTaskID = ""
	return nil
}

func (s *memStore) ResetFailed(_ domain.Context, missionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items {
		if it.MissionID == missionID && it.Status == domain.ItemFailed {
			it.Status = domain.ItemPending
			it.RetryCount = 0
			it.NextRetryAt = nil
			it.ErrorMessage = ""
			it.PlatformID = ""
			it.PlatformTaskID = ""
			it.ResultURL = ""
			n++
		}
	}
	return n, nil
}

func (s *memStore) CompletedResults(_ domain.Context, missionID int64) ([]domain.MissionItem, error) {
	return s.selectItems(func(it *domain.MissionItem) bool {
		return it.MissionID == missionID && it.Status == domain.ItemCompleted && it.ResultURL != ""
	}), nil
}

func (s *memStore) CountActive(_ domain.Context, missionID int64) (int, error) {
	n := len(s.selectItems(func(it *domain.MissionItem) bool {
		return it.MissionID == missionID && (it.Status == domain.ItemPending || it.Status == domain.ItemProcessing)
	}))
	return n, nil
}

func (s *memStore) Stats(_ domain.Context, missionID int64) (domain.ItemStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st domain.ItemStats
	for _, it := range s.items {
		if it.MissionID != missionID {
			continue
		}
		st.Total++
		switch it.Status {
		case domain.ItemCompleted:
			st.Completed++
		case domain.ItemFailed:
			st.Failed++
		case domain.ItemPending:
			st.Pending++
		case domain.ItemProcessing:
			st.Processing++
		case domain.ItemCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

// itemRepo adapts memStore to domain.ItemRepository under the Get name
// collision with MissionRepository.
type itemRepo struct{ *memStore }

func (r itemRepo) Get(_ domain.Context, id int64) (domain.MissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	it, ok := r.items[id]
	if !ok {
		return domain.MissionItem{}, domain.ErrNotFound
	}
	return *it, nil
}

func (s *memStore) itemsView() itemRepo { return itemRepo{s} }

// fakePlatform implements PlatformService with a scriptable outcome per
// submission.
type fakePlatform struct {
	mu sync.Mutex
	// queriesToFinish is how many RUNNING answers precede the terminal one.
	queriesToFinish int
	// failAll makes every task end FAILED.
	failAll bool
	// rejectSubmits makes Submit return OK=false.
	rejectSubmits bool
	// emptyResult makes SUCCESS answers carry no result URL.
	emptyResult bool
	// queryErrs is how many transport errors Query returns before answering.
	queryErrs int

	seq       int
	submits   int
	active    int
	maxActive int
	tasks     map[string]*fakeTask
}

type fakeTask struct {
	queriesLeft int
	fail        bool
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{tasks: map[string]*fakeTask{}}
}

func (f *fakePlatform) Submit(_ domain.Context, _ int64, _ string, _ domain.TaskKind, _ domain.Params, _ string) (string, domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.rejectSubmits {
		return "fake", domain.SubmitResult{Message: "rejected"}, nil
	}
	f.seq++
	id := fmt.Sprintf("task-%d", f.seq)
	f.tasks[id] = &fakeTask{queriesLeft: f.queriesToFinish, fail: f.failAll}
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	return "fake", domain.SubmitResult{OK: true, TaskID: id}, nil
}

func (f *fakePlatform) Query(_ domain.Context, _, taskID string) (domain.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErrs > 0 {
		f.queryErrs--
		return domain.QueryResult{}, fmt.Errorf("%w: connection reset", domain.ErrUpstream)
	}
	t, ok := f.tasks[taskID]
	if !ok {
		return domain.QueryResult{State: domain.StateFailed, Message: "unknown task"}, nil
	}
	if t.queriesLeft > 0 {
		t.queriesLeft--
		return domain.QueryResult{State: domain.StateRunning}, nil
	}
	f.active--
	delete(f.tasks, taskID)
	if t.fail {
		return domain.QueryResult{State: domain.StateFailed, Message: "simulated failure"}, nil
	}
	if f.emptyResult {
		return domain.QueryResult{State: domain.StateSuccess}, nil
	}
	return domain.QueryResult{State: domain.StateSuccess, ResultURLs: []string{"https://fake/" + taskID + ".png"}}, nil
}

// addTask pre-registers a task as if it had been submitted before a restart.
func (f *fakePlatform) addTask(id string, queriesLeft int, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[id] = &fakeTask{queriesLeft: queriesLeft, fail: fail}
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
}

func (f *fakePlatform) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakePlatform) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}
