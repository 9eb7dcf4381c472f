package usecase

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// TemplateService manages reusable mission configuration presets.
type TemplateService struct {
	Repo domain.TemplateRepository
}

// NewTemplateService constructs a TemplateService with the given repo.
func NewTemplateService(r domain.TemplateRepository) TemplateService { return TemplateService{Repo: r} }

// Create validates and stores a template, returning it with its id.
func (s TemplateService) Create(ctx domain.Context, t domain.Template) (domain.Template, error) {
	if t.Name == "" {
		return domain.Template{}, fmt.Errorf("%w: name required", domain.ErrInvalidArgument)
	}
	if !t.Kind.Valid() {
		return domain.Template{}, fmt.Errorf("%w: unknown task_type %q", domain.ErrInvalidArgument, t.Kind)
	}
	t.CreatedAt = time.Now().UTC()
	id, err := s.Repo.Create(ctx, t)
	if err != nil {
		return domain.Template{}, err
	}
	t.ID = id
	return t, nil
}

// List returns templates, optionally filtered by task type.
func (s TemplateService) List(ctx domain.Context, kind string) ([]domain.Template, error) {
	if kind != "" && !domain.TaskKind(kind).Valid() {
		return nil, fmt.Errorf("%w: unknown task_type %q", domain.ErrInvalidArgument, kind)
	}
	return s.Repo.List(ctx, kind)
}

// Delete removes a template.
func (s TemplateService) Delete(ctx domain.Context, id int64) error {
	return s.Repo.Delete(ctx, id)
}
