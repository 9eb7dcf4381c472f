package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrUpstream        = errors.New("upstream error")
	ErrInternal        = errors.New("internal error")
)

// TaskKind enumerates the four generative modalities.
type TaskKind string

const (
	TextToImage  TaskKind = "text_to_image"
	ImageToImage TaskKind = "image_to_image"
	TextToVideo  TaskKind = "text_to_video"
	ImageToVideo TaskKind = "image_to_video"
)

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	switch k {
	case TextToImage, ImageToImage, TextToVideo, ImageToVideo:
		return true
	}
	return false
}

// MissionStatus is the mission-level state machine.
// scheduled -> queued -> running -> {completed, failed}; cancelled from any
// non-terminal state.
type MissionStatus string

const (
	MissionScheduled MissionStatus = "scheduled"
	MissionQueued    MissionStatus = "queued"
	MissionRunning   MissionStatus = "running"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
	MissionCancelled MissionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s MissionStatus) Terminal() bool {
	return s == MissionCompleted || s == MissionFailed || s == MissionCancelled
}

// ItemStatus is the per-item state machine.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemCancelled  ItemStatus = "cancelled"
)

// Terminal reports whether the item can no longer transition.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed || s == ItemCancelled
}

// EngineTrack names which engine owns a mission. Two engines run in one
// process with independent concurrency caps.
type EngineTrack string

const (
	TrackAPI EngineTrack = "api"
	TrackApp EngineTrack = "app"
)

// Mission is a user-submitted batch sharing one fixed config and task kind.
type Mission struct {
	ID             int64
	Name           string
	Description    string
	Kind           TaskKind
	ModelID        string
	Track          EngineTrack
	Config         Params
	Status         MissionStatus
	TotalCount     int
	CompletedCount int
	FailedCount    int
	ErrorMessage   string
	ScheduledAt    *time.Time
	StartedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MissionItem is one unit of generation work within a mission.
// Invariants: retry_count in [0, max]; processing implies a platform task id;
// completed implies a result URL; cancelled is terminal.
type MissionItem struct {
	ID             int64
	MissionID      int64
	Index          int
	Params         Params
	Status         ItemStatus
	RetryCount     int
	NextRetryAt    *time.Time
	PlatformID     string
	PlatformTaskID string
	ResultURL      string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ItemStats aggregates item states for one mission.
type ItemStats struct {
	Total      int
	Completed  int
	Failed     int
	Pending    int
	Processing int
	Cancelled  int
}

// Done reports whether every item reached a terminal state.
func (s ItemStats) Done() bool { return s.Pending == 0 && s.Processing == 0 && s.Total > 0 }

// MediaFile is a content-addressed upload; Hash is SHA-256 hex. A reused
// hash increments UploadCount instead of storing the blob again.
type MediaFile struct {
	ID           int64
	Hash         string
	OriginalName string
	Path         string
	Size         int64
	ProviderName string
	MIME         string
	UploadCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Template is a pre-baked mission config.
type Template struct {
	ID          int64
	Name        string
	Description string
	Kind        TaskKind
	Config      Params
	CreatedAt   time.Time
}

// Repositories (ports)

// MissionRepository persists missions. Creation inserts the mission and its
// items in one transaction; Cancel flips the mission and every pending item
// in one transaction.
type MissionRepository interface {
	Create(ctx Context, m Mission, items []Params) (int64, error)
	Get(ctx Context, id int64) (Mission, error)
	List(ctx Context, page, pageSize int, status string) ([]Mission, int, error)
	ListScheduled(ctx Context) ([]Mission, error)
	DueScheduled(ctx Context, now time.Time) ([]Mission, error)
	WithActiveItems(ctx Context) ([]Mission, error)
	// TransitionStatus performs a guarded single-row update, setting the
	// error message alongside, and reports whether the row was in the
	// expected state.
	TransitionStatus(ctx Context, id int64, from, to MissionStatus, errMsg string) (bool, error)
	MarkRunning(ctx Context, id int64, startedAt time.Time) (bool, error)
	SetStatus(ctx Context, id int64, status MissionStatus, errMsg string) error
	UpdateCounters(ctx Context, id int64, completed, failed int) error
	Cancel(ctx Context, id int64) (int, error)
	Delete(ctx Context, id int64) error
}

// ItemRepository persists mission items.
type ItemRepository interface {
	Get(ctx Context, id int64) (MissionItem, error)
	ListByMission(ctx Context, missionID int64) ([]MissionItem, error)
	PendingByMission(ctx Context, missionID int64) ([]MissionItem, error)
	// PendingReady returns pending items with no backoff whose mission is
	// neither scheduled nor terminal (crash-recovery step 1).
	PendingReady(ctx Context) ([]MissionItem, error)
	// ProcessingWithTask returns processing items carrying a platform task
	// id (crash-recovery step 2).
	ProcessingWithTask(ctx Context) ([]MissionItem, error)
	// DueRetries returns pending items whose next_retry_at is at or before
	// now and whose mission is still live.
	DueRetries(ctx Context, now time.Time) ([]MissionItem, error)
	SetPlatformTask(ctx Context, id int64, platformID, taskID string) error
	MarkProcessing(ctx Context, id int64, platformID, taskID string) error
	MarkCompleted(ctx Context, id int64, resultURL string) error
	MarkFailed(ctx Context, id int64, errMsg string) error
	// ScheduleRetry moves the item back to pending with a bumped retry
	// count, a future next_retry_at and a cleared platform task id.
	ScheduleRetry(ctx Context, id int64, retryCount int, nextRetryAt time.Time, errMsg string) error
	ResetFailed(ctx Context, missionID int64) (int, error)
	CompletedResults(ctx Context, missionID int64) ([]MissionItem, error)
	CountActive(ctx Context, missionID int64) (int, error)
	Stats(ctx Context, missionID int64) (ItemStats, error)
}

// TemplateRepository persists pre-baked mission configs.
type TemplateRepository interface {
	Create(ctx Context, t Template) (int64, error)
	List(ctx Context, kind string) ([]Template, error)
	Delete(ctx Context, id int64) error
}

// MediaRepository persists the media dedup index.
type MediaRepository interface {
	Create(ctx Context, f MediaFile) (int64, error)
	Get(ctx Context, id int64) (MediaFile, error)
	FindByHash(ctx Context, hash string) (MediaFile, error)
	FindByProviderNames(ctx Context, names []string) ([]MediaFile, error)
	List(ctx Context) ([]MediaFile, error)
	IncrementUploadCount(ctx Context, id int64) error
}

// Platform (ports)

// TaskState is the normalized remote task status.
type TaskState string

const (
	StatePending TaskState = "PENDING"
	StateQueued  TaskState = "QUEUED"
	StateRunning TaskState = "RUNNING"
	StateSuccess TaskState = "SUCCESS"
	StateFailed  TaskState = "FAILED"
)

// SubmitResult is the structured outcome of an adapter submission. A
// provider rejection sets OK=false with a message; transport failures are
// returned as errors instead.
type SubmitResult struct {
	OK      bool
	TaskID  string
	Message string
}

// QueryResult is the structured outcome of an adapter status query.
type QueryResult struct {
	State      TaskState
	ResultURLs []string
	Message    string
}

// PlatformAdapter is the narrow contract over one remote provider.
type PlatformAdapter interface {
	ID() string
	SupportedKinds() []TaskKind
	// NormalizeParams is a pure transform to provider wire shape; identity
	// is acceptable.
	NormalizeParams(kind TaskKind, p Params) Params
	Submit(ctx Context, kind TaskKind, p Params, modelID string) (SubmitResult, error)
	Query(ctx Context, taskID string) (QueryResult, error)
}

// MediaUploader pushes a local file to the provider and returns its opaque
// handle.
type MediaUploader interface {
	UploadFile(ctx Context, path, originalName string) (string, error)
}

// Context is an alias so adapters and usecases pass context.Context through
// without the domain importing transport concerns elsewhere.
type Context = context.Context
