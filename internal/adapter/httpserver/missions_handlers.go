package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/usecase"
	"github.com/fairyhunter13/media-task-broker/pkg/timex"
)

type createMissionRequest struct {
	Name          string                     `json:"name" validate:"required,max=200"`
	Description   string                     `json:"description" validate:"max=2000"`
	TaskType      string                     `json:"task_type" validate:"required"`
	ModelID       string                     `json:"model_id" validate:"max=200"`
	Engine        string                     `json:"engine" validate:"omitempty,oneof=api app"`
	Config        map[string]json.RawMessage `json:"config" validate:"required"`
	ScheduledTime string                     `json:"scheduled_time"`
}

type createMissionResponse struct {
	MissionID     int64  `json:"mission_id"`
	TotalCount    int    `json:"total_count"`
	Status        string `json:"status"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
}

// CreateMissionHandler creates a batch mission from a config carrying
// batch_input plus fixed parameters shared by every item.
func (s *Server) CreateMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createMissionRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}

		in := usecase.CreateMissionInput{
			Name:        req.Name,
			Description: req.Description,
			Kind:        domain.TaskKind(req.TaskType),
			ModelID:     req.ModelID,
			Track:       domain.EngineTrack(req.Engine),
		}
		var err error
		if in.BatchInput, in.Config, err = splitConfig(req.Config); err != nil {
			writeError(w, err)
			return
		}
		if req.ScheduledTime != "" {
			at, err := timex.Parse(req.ScheduledTime)
			if err != nil {
				writeError(w, fmt.Errorf("%w: bad scheduled_time: %v", domain.ErrInvalidArgument, err))
				return
			}
			in.ScheduledAt = &at
		}

		m, err := s.Missions.Create(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeCreated(w, createMissionResponse{
			MissionID:     m.ID,
			TotalCount:    m.TotalCount,
			Status:        string(m.Status),
			ScheduledTime: timex.FormatPtr(m.ScheduledAt),
		})
	}
}

// splitConfig separates batch_input from the fixed config values.
func splitConfig(raw map[string]json.RawMessage) ([]domain.Params, domain.Params, error) {
	batchRaw, ok := raw["batch_input"]
	if !ok {
		return nil, nil, fmt.Errorf("%w: config.batch_input required", domain.ErrInvalidArgument)
	}
	var batch []domain.Params
	if err := json.Unmarshal(batchRaw, &batch); err != nil {
		return nil, nil, fmt.Errorf("%w: bad batch_input: %v", domain.ErrInvalidArgument, err)
	}

	fixed := domain.Params{}
	for k, v := range raw {
		if k == "batch_input" {
			continue
		}
		var val domain.Value
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, nil, fmt.Errorf("%w: config.%s: %v", domain.ErrInvalidArgument, k, err)
		}
		fixed[k] = val
	}
	return batch, fixed, nil
}

// ListMissionsHandler returns one page of missions.
func (s *Server) ListMissionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		pageSize, _ := strconv.Atoi(q.Get("page_size"))
		res, err := s.Missions.List(r.Context(), page, pageSize, q.Get("status"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]any{
			"missions":  renderMissions(res.Missions),
			"total":     res.Total,
			"page":      res.Page,
			"page_size": res.PageSize,
		})
	}
}

// ListScheduledHandler returns every mission still waiting on its time.
func (s *Server) ListScheduledHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ms, err := s.Missions.ListScheduled(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, renderMissions(ms))
	}
}

// GetMissionHandler returns one mission with its items.
func (s *Server) GetMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		m, err := s.Missions.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		items, err := s.Missions.MissionItems(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		out := map[string]any{"mission": renderMission(m), "items": renderItems(items)}
		writeData(w, out)
	}
}

// ListMissionItemsHandler returns the items of one mission.
func (s *Server) ListMissionItemsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		items, err := s.Missions.MissionItems(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, renderItems(items))
	}
}

// CancelMissionHandler cancels a mission and its pending items.
func (s *Server) CancelMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		n, err := s.Missions.Cancel(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]any{"cancelled_items": n})
	}
}

// RetryMissionHandler re-queues every failed item of a mission.
func (s *Server) RetryMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		n, err := s.Missions.Retry(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]any{"retried_items": n})
	}
}

// DeleteMissionHandler removes a terminal mission.
func (s *Server) DeleteMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.Missions.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]any{"deleted": true})
	}
}

// DownloadMissionHandler streams a ZIP of the mission's completed results.
func (s *Server) DownloadMissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		// Existence check before committing to the ZIP content type.
		if _, err := s.Missions.Get(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("mission_%d_results.zip", id)))
		if _, err := s.Missions.Download(r.Context(), id, w); err != nil {
			LoggerFrom(r).Error("mission download", "mission_id", id, "error", err)
		}
	}
}
