// Package mock simulates a generation platform for development and tests.
package mock

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// Options tune one simulated platform.
type Options struct {
	// PlatformID is the registry id, e.g. "mock_runninghub".
	PlatformID string
	// Delay is how long a task stays RUNNING before finishing.
	Delay time.Duration
	// FailureRate is the probability in [0,1] that a finished task fails.
	FailureRate float64
	// ForceFail makes every task fail regardless of FailureRate.
	ForceFail bool
	// StatePath persists simulated tasks as JSON so they survive restarts.
	// Empty keeps state in memory only.
	StatePath string
	// Seed fixes the failure dice for reproducible tests. Zero seeds from
	// the clock.
	Seed int64
}

type taskRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	FinishesAt time.Time `json:"finishes_at"`
	Fail       bool      `json:"fail"`
	ResultURL  string    `json:"result_url"`
}

type stateFile struct {
	Seq   int                    `json:"seq"`
	Tasks map[string]*taskRecord `json:"tasks"`
}

// Adapter implements domain.PlatformAdapter without any network I/O.
type Adapter struct {
	opts Options

	mu    sync.Mutex
	seq   int
	tasks map[string]*taskRecord
	rnd   *rand.Rand
	now   func() time.Time
}

// New constructs a mock adapter, loading persisted task state when present.
func New(opts Options) (*Adapter, error) {
	if opts.PlatformID == "" {
		opts.PlatformID = "mock"
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a := &Adapter{
		opts:  opts,
		tasks: map[string]*taskRecord{},
		rnd:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
	}
	if opts.StatePath != "" {
		if err := a.load(); err != nil {
			return nil, fmt.Errorf("op=mock.New: %w", err)
		}
	}
	return a, nil
}

// ID returns the registry id of this adapter.
func (a *Adapter) ID() string { return a.opts.PlatformID }

// SupportedKinds lists all task kinds; the mock accepts everything.
func (a *Adapter) SupportedKinds() []domain.TaskKind {
	return []domain.TaskKind{domain.TextToImage, domain.ImageToImage, domain.TextToVideo, domain.ImageToVideo}
}

// NormalizeParams is the identity transform.
func (a *Adapter) NormalizeParams(_ domain.TaskKind, p domain.Params) domain.Params { return p }

// Submit registers a simulated task. The failure decision is made up front
// so queries are stable across restarts.
func (a *Adapter) Submit(_ domain.Context, kind domain.TaskKind, _ domain.Params, _ string) (domain.SubmitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	id := fmt.Sprintf("mock_%s_%06d", a.opts.PlatformID, a.seq)
	fail := a.opts.ForceFail || (a.opts.FailureRate > 0 && a.rnd.Float64() < a.opts.FailureRate)
	now := a.now()
	rec := &taskRecord{
		ID:         id,
		Kind:       string(kind),
		CreatedAt:  now,
		FinishesAt: now.Add(a.opts.Delay),
		Fail:       fail,
	}
	if !fail {
		rec.ResultURL = fmt.Sprintf("https://mock.invalid/%s/%s.png", a.opts.PlatformID, id)
	}
	a.tasks[id] = rec
	if err := a.persistLocked(); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("op=mock.submit: %w", err)
	}
	return domain.SubmitResult{OK: true, TaskID: id, Message: "submitted"}, nil
}

// Query reports RUNNING until the simulated delay elapses, then SUCCESS or
// FAILED as decided at submission.
func (a *Adapter) Query(_ domain.Context, taskID string) (domain.QueryResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, ok := a.tasks[taskID]
	if !ok {
		return domain.QueryResult{State: domain.StateFailed, Message: "unknown task " + taskID}, nil
	}
	if a.now().Before(rec.FinishesAt) {
		return domain.QueryResult{State: domain.StateRunning}, nil
	}
	if rec.Fail {
		return domain.QueryResult{State: domain.StateFailed, Message: "simulated failure"}, nil
	}
	return domain.QueryResult{State: domain.StateSuccess, ResultURLs: []string{rec.ResultURL}}, nil
}

// SetNow overrides the clock for tests.
func (a *Adapter) SetNow(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

func (a *Adapter) load() error {
	raw, err := os.ReadFile(a.opts.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var sf stateFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return fmt.Errorf("decode state %s: %w", a.opts.StatePath, err)
	}
	a.seq = sf.Seq
	if sf.Tasks != nil {
		a.tasks = sf.Tasks
	}
	return nil
}

func (a *Adapter) persistLocked() error {
	if a.opts.StatePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.opts.StatePath), 0o750); err != nil {
		return err
	}
	raw, err := json.Marshal(stateFile{Seq: a.seq, Tasks: a.tasks})
	if err != nil {
		return err
	}
	tmp := a.opts.StatePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, a.opts.StatePath)
}
