package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

type createTemplateRequest struct {
	Name        string                     `json:"name" validate:"required,max=200"`
	Description string                     `json:"description" validate:"max=2000"`
	TaskType    string                     `json:"task_type" validate:"required"`
	Config      map[string]json.RawMessage `json:"config"`
}

// CreateTemplateHandler stores a reusable configuration preset.
func (s *Server) CreateTemplateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTemplateRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, fmt.Errorf("%w: malformed body: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}
		cfg := domain.Params{}
		for k, v := range req.Config {
			var val domain.Value
			if err := json.Unmarshal(v, &val); err != nil {
				writeError(w, fmt.Errorf("%w: config.%s: %v", domain.ErrInvalidArgument, k, err))
				return
			}
			cfg[k] = val
		}

		tpl, err := s.Templates.Create(r.Context(), domain.Template{
			Name:        req.Name,
			Description: req.Description,
			Kind:        domain.TaskKind(req.TaskType),
			Config:      cfg,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeCreated(w, renderTemplate(tpl))
	}
}

// ListTemplatesHandler returns templates, optionally filtered by task type.
func (s *Server) ListTemplatesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpls, err := s.Templates.List(r.Context(), r.URL.Query().Get("task_type"))
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]templateResponse, 0, len(tpls))
		for _, t := range tpls {
			out = append(out, renderTemplate(t))
		}
		writeData(w, out)
	}
}

// DeleteTemplateHandler removes a template.
func (s *Server) DeleteTemplateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.Templates.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]any{"deleted": true})
	}
}
