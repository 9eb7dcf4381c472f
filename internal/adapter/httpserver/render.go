package httpserver

import (
	"strconv"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/usecase"
	"github.com/fairyhunter13/media-task-broker/pkg/timex"
)

type missionResponse struct {
	ID             int64          `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	TaskType       string         `json:"task_type"`
	ModelID        string         `json:"model_id,omitempty"`
	Engine         string         `json:"engine"`
	Config         map[string]any `json:"config,omitempty"`
	Status         string         `json:"status"`
	TotalCount     int            `json:"total_count"`
	CompletedCount int            `json:"completed_count"`
	FailedCount    int            `json:"failed_count"`
	Progress       float64        `json:"progress"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ScheduledTime  string         `json:"scheduled_time,omitempty"`
	StartedAt      string         `json:"started_at,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

func renderMission(m domain.Mission) missionResponse {
	return missionResponse{
		ID:             m.ID,
		Name:           m.Name,
		Description:    m.Description,
		TaskType:       string(m.Kind),
		ModelID:        m.ModelID,
		Engine:         string(m.Track),
		Config:         m.Config.Plain(),
		Status:         string(m.Status),
		TotalCount:     m.TotalCount,
		CompletedCount: m.CompletedCount,
		FailedCount:    m.FailedCount,
		Progress:       usecase.Progress(m),
		ErrorMessage:   m.ErrorMessage,
		ScheduledTime:  timex.FormatPtr(m.ScheduledAt),
		StartedAt:      timex.FormatPtr(m.StartedAt),
		CreatedAt:      timex.Format(m.CreatedAt),
		UpdatedAt:      timex.Format(m.UpdatedAt),
	}
}

func renderMissions(ms []domain.Mission) []missionResponse {
	out := make([]missionResponse, 0, len(ms))
	for _, m := range ms {
		out = append(out, renderMission(m))
	}
	return out
}

type itemResponse struct {
	ID             int64          `json:"id"`
	MissionID      int64          `json:"mission_id"`
	Index          int            `json:"index"`
	Params         map[string]any `json:"params,omitempty"`
	Status         string         `json:"status"`
	RetryCount     int            `json:"retry_count"`
	NextRetryAt    string         `json:"next_retry_at,omitempty"`
	PlatformID     string         `json:"platform_id,omitempty"`
	PlatformTaskID string         `json:"platform_task_id,omitempty"`
	ResultURL      string         `json:"result_url,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

func renderItem(it domain.MissionItem) itemResponse {
	return itemResponse{
		ID:             it.ID,
		MissionID:      it.MissionID,
		Index:          it.Index,
		Params:         it.Params.Plain(),
		Status:         string(it.Status),
		RetryCount:     it.RetryCount,
		NextRetryAt:    timex.FormatPtr(it.NextRetryAt),
		PlatformID:     it.PlatformID,
		PlatformTaskID: it.PlatformTaskID,
		ResultURL:      it.ResultURL,
		ErrorMessage:   it.ErrorMessage,
		CreatedAt:      timex.Format(it.CreatedAt),
		UpdatedAt:      timex.Format(it.UpdatedAt),
	}
}

func renderItems(items []domain.MissionItem) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, renderItem(it))
	}
	return out
}

type mediaResponse struct {
	FileID       int64  `json:"fileId"`
	FileName     string `json:"fileName"`
	FileHash     string `json:"fileHash"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	MIME         string `json:"mime"`
	UploadCount  int    `json:"uploadCount"`
	URL          string `json:"url"`
	CreatedAt    string `json:"createdAt"`
}

func renderMedia(f domain.MediaFile) mediaResponse {
	return mediaResponse{
		FileID:       f.ID,
		FileName:     f.ProviderName,
		FileHash:     f.Hash,
		OriginalName: f.OriginalName,
		Size:         f.Size,
		MIME:         f.MIME,
		UploadCount:  f.UploadCount,
		URL:          "/api/v1/media/file/" + strconv.FormatInt(f.ID, 10),
		CreatedAt:    timex.Format(f.CreatedAt),
	}
}

func renderMediaList(fs []domain.MediaFile) []mediaResponse {
	out := make([]mediaResponse, 0, len(fs))
	for _, f := range fs {
		out = append(out, renderMedia(f))
	}
	return out
}

type templateResponse struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	TaskType    string         `json:"task_type"`
	Config      map[string]any `json:"config,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

func renderTemplate(t domain.Template) templateResponse {
	return templateResponse{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		TaskType:    string(t.Kind),
		Config:      t.Config.Plain(),
		CreatedAt:   timex.Format(t.CreatedAt),
	}
}
