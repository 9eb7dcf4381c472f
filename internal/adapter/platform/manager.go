package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/observability"
)

// Manager is the provider registry. Selection strategy is "specified": a
// mission names its platform, otherwise the highest-priority registered
// adapter handles it.
type Manager struct {
	items domain.ItemRepository

	mu       sync.RWMutex
	adapters map[string]domain.PlatformAdapter
	priority map[string]int
}

// NewManager constructs an empty registry. The item repository is used to
// record the platform task id on the item row as part of submission.
func NewManager(items domain.ItemRepository) *Manager {
	return &Manager{
		items:    items,
		adapters: map[string]domain.PlatformAdapter{},
		priority: map[string]int{},
	}
}

// Register adds an adapter under its own id. Lower priority values win the
// default slot.
func (m *Manager) Register(a domain.PlatformAdapter, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.ID()] = a
	m.priority[a.ID()] = priority
}

// Get returns the adapter registered under id.
func (m *Manager) Get(id string) (domain.PlatformAdapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[id]
	if !ok {
		return nil, fmt.Errorf("op=platform.get: %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// DefaultID returns the id of the highest-priority adapter.
func (m *Manager) DefaultID() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.adapters) == 0 {
		return "", fmt.Errorf("op=platform.default: no adapters registered: %w", domain.ErrInternal)
	}
	ids := make([]string, 0, len(m.adapters))
	for id := range m.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if m.priority[ids[i]] != m.priority[ids[j]] {
			return m.priority[ids[i]] < m.priority[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids[0], nil
}

// IDs lists registered adapter ids.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.adapters))
	for id := range m.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// resolve picks the adapter for a submission: the specified platform when
// named, the default otherwise.
func (m *Manager) resolve(specified string) (domain.PlatformAdapter, error) {
	if specified != "" {
		return m.Get(specified)
	}
	id, err := m.DefaultID()
	if err != nil {
		return nil, err
	}
	return m.Get(id)
}

// Submit dispatches one item to its platform. On acceptance the platform id
// and remote task id are recorded on the item row before Submit returns, so
// a crash after this point can still resume polling.
func (m *Manager) Submit(ctx domain.Context, itemID int64, specified string, kind domain.TaskKind, p domain.Params, modelID string) (string, domain.SubmitResult, error) {
	a, err := m.resolve(specified)
	if err != nil {
		return "", domain.SubmitResult{}, err
	}
	res, err := a.Submit(ctx, kind, a.NormalizeParams(kind, p), modelID)
	if err != nil {
		return a.ID(), domain.SubmitResult{}, err
	}
	if res.OK {
		if rerr := m.items.SetPlatformTask(ctx, itemID, a.ID(), res.TaskID); rerr != nil {
			return a.ID(), domain.SubmitResult{}, fmt.Errorf("op=platform.submit: record task: %w", rerr)
		}
		observability.ItemsSubmittedTotal.WithLabelValues(trackLabel(ctx), a.ID()).Inc()
	}
	return a.ID(), res, nil
}

// Query proxies a status query to the platform that accepted the item.
func (m *Manager) Query(ctx domain.Context, platformID, taskID string) (domain.QueryResult, error) {
	a, err := m.Get(platformID)
	if err != nil {
		return domain.QueryResult{}, err
	}
	return a.Query(ctx, taskID)
}

type trackKey struct{}

// WithTrack tags ctx with the engine track for metric labels.
func WithTrack(ctx domain.Context, track domain.EngineTrack) domain.Context {
	return context.WithValue(ctx, trackKey{}, string(track))
}

func trackLabel(ctx domain.Context) string {
	if v, ok := ctx.Value(trackKey{}).(string); ok {
		return v
	}
	return "unknown"
}
