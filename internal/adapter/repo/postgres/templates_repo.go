package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// TemplateRepo persists reusable mission configs.
type TemplateRepo struct{ Pool PgxPool }

// NewTemplateRepo constructs a TemplateRepo with the given pool.
func NewTemplateRepo(p PgxPool) *TemplateRepo { return &TemplateRepo{Pool: p} }

// Create stores a template and returns its id.
func (r *TemplateRepo) Create(ctx domain.Context, t domain.Template) (int64, error) {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.Create")
	defer span.End()
	cfg, err := json.Marshal(t.Config)
	if err != nil {
		return 0, fmt.Errorf("op=template.create: encode config: %w", err)
	}
	var id int64
	q := `INSERT INTO templates (name, description, task_type, config, created_at) VALUES ($1,$2,$3,$4,$5) RETURNING id`
	if err := r.Pool.QueryRow(ctx, q, t.Name, t.Description, t.Kind, cfg, time.Now().UTC()).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=template.create: %w", err)
	}
	return id, nil
}

// List returns templates, optionally filtered by task kind, newest first.
func (r *TemplateRepo) List(ctx domain.Context, kind string) ([]domain.Template, error) {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.List")
	defer span.End()
	q := `SELECT id, name, description, task_type, config, created_at FROM templates ORDER BY created_at DESC, id DESC`
	args := []any{}
	if kind != "" {
		q = `SELECT id, name, description, task_type, config, created_at FROM templates WHERE task_type=$1 ORDER BY created_at DESC, id DESC`
		args = append(args, kind)
	}
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=template.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		var cfg []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Kind, &cfg, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=template.list: scan: %w", err)
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &t.Config); err != nil {
				return nil, fmt.Errorf("op=template.list: decode config: %w", err)
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=template.list: rows: %w", err)
	}
	return out, nil
}

// Delete removes a template by id.
func (r *TemplateRepo) Delete(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.templates")
	ctx, span := tracer.Start(ctx, "templates.Delete")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM templates WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=template.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=template.delete: %w", domain.ErrNotFound)
	}
	return nil
}
