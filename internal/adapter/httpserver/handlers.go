package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/media-task-broker/internal/config"
	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg       config.Config
	Missions  usecase.MissionService
	Media     usecase.MediaService
	Templates usecase.TemplateService
	DBCheck   func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, missions usecase.MissionService, media usecase.MediaService, templates usecase.TemplateService, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Missions: missions, Media: media, Templates: templates, DBCheck: dbCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// pathID parses the {id} route parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", domain.ErrInvalidArgument, raw)
	}
	return id, nil
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, map[string]string{"status": "ok"})
	}
}

// ReadyHandler reports readiness, pinging the store.
func (s *Server) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DBCheck != nil {
			if err := s.DBCheck(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, envelope{
					Code: http.StatusServiceUnavailable,
					Msg:  "store unavailable",
				})
				return
			}
		}
		writeData(w, map[string]string{"status": "ready"})
	}
}

// QueueStatusHandler reports the queue snapshot of every engine.
func (s *Server) QueueStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := s.Missions.QueueStatus()
		out := make(map[string]any, len(status))
		for track, st := range status {
			out[string(track)] = st
		}
		writeData(w, out)
	}
}
