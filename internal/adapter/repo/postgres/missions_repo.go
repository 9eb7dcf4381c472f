package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// MissionRepo persists and loads missions from PostgreSQL.
type MissionRepo struct{ Pool PgxPool }

// NewMissionRepo constructs a MissionRepo with the given pool.
func NewMissionRepo(p PgxPool) *MissionRepo { return &MissionRepo{Pool: p} }

const missionCols = `id, name, description, task_type, model_id, engine, config, status,
total_count, completed_count, failed_count, COALESCE(error,''), scheduled_at, started_at, created_at, updated_at`

func scanMission(row pgx.Row) (domain.Mission, error) {
	var m domain.Mission
	var cfg []byte
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Kind, &m.ModelID, &m.Track, &cfg, &m.Status,
		&m.TotalCount, &m.CompletedCount, &m.FailedCount, &m.ErrorMessage,
		&m.ScheduledAt, &m.StartedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return domain.Mission{}, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &m.Config); err != nil {
			return domain.Mission{}, fmt.Errorf("decode mission config: %w", err)
		}
	}
	return m, nil
}

// Create inserts the mission and all of its items in one transaction and
// returns the mission id.
func (r *MissionRepo) Create(ctx domain.Context, m domain.Mission, items []domain.Params) (int64, error) {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.Int("mission.items", len(items)),
	)

	cfg, err := json.Marshal(m.Config)
	if err != nil {
		return 0, fmt.Errorf("op=mission.create: encode config: %w", err)
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("op=mission.create: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var id int64
	q := `INSERT INTO missions (name, description, task_type, model_id, engine, config, status, total_count, scheduled_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10) RETURNING id`
	if err := tx.QueryRow(ctx, q, m.Name, m.Description, m.Kind, m.ModelID, m.Track, cfg, m.Status, len(items), m.ScheduledAt, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=mission.create: %w", err)
	}

	iq := `INSERT INTO mission_items (mission_id, item_index, input_params, status, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$5)`
	for i, p := range items {
		raw, err := json.Marshal(p)
		if err != nil {
			return 0, fmt.Errorf("op=mission.create: encode item %d: %w", i, err)
		}
		if _, err := tx.Exec(ctx, iq, id, i, raw, domain.ItemPending, now); err != nil {
			return 0, fmt.Errorf("op=mission.create: item %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("op=mission.create: commit: %w", err)
	}
	return id, nil
}

// Get loads a mission by id.
func (r *MissionRepo) Get(ctx domain.Context, id int64) (domain.Mission, error) {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.Get")
	defer span.End()
	q := `SELECT ` + missionCols + ` FROM missions WHERE id=$1`
	m, err := scanMission(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Mission{}, fmt.Errorf("op=mission.get: %w", domain.ErrNotFound)
		}
		return domain.Mission{}, fmt.Errorf("op=mission.get: %w", err)
	}
	return m, nil
}

// List returns one page of missions newest-first, optionally filtered by
// status, with the unfiltered-by-page total.
func (r *MissionRepo) List(ctx domain.Context, page, pageSize int, status string) ([]domain.Mission, int, error) {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var total int
	var rows pgx.Rows
	var err error
	if status != "" {
		if err = r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM missions WHERE status=$1`, status).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("op=mission.list: count: %w", err)
		}
		rows, err = r.Pool.Query(ctx, `SELECT `+missionCols+` FROM missions WHERE status=$1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, status, pageSize, offset)
	} else {
		if err = r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM missions`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("op=mission.list: count: %w", err)
		}
		rows, err = r.Pool.Query(ctx, `SELECT `+missionCols+` FROM missions ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, pageSize, offset)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("op=mission.list: %w", err)
	}
	defer rows.Close()

	var out []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("op=mission.list: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("op=mission.list: rows: %w", err)
	}
	return out, total, nil
}

// ListScheduled returns all missions still in the scheduled state, soonest
// first.
func (r *MissionRepo) ListScheduled(ctx domain.Context) ([]domain.Mission, error) {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.ListScheduled")
	defer span.End()
	q := `SELECT ` + missionCols + ` FROM missions WHERE status=$1 ORDER BY scheduled_at ASC`
	return r.queryMissions(ctx, q, domain.MissionScheduled)
}

// DueScheduled returns scheduled missions whose scheduled_at is at or before
// now.
func (r *MissionRepo) DueScheduled(ctx domain.Context, now time.Time) ([]domain.Mission, error) {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.DueScheduled")
	defer span.End()
	q := `SELECT ` + missionCols + ` FROM missions WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2 ORDER BY scheduled_at ASC`
	return r.queryMissions(ctx, q, domain.MissionScheduled, now)
}

// WithActiveItems returns non-terminal missions that still have pending or
// processing items. Used by crash recovery to restart completion monitors.
func (r *MissionRepo) WithActiveItems(ctx domain.Context) ([]domain.Mission, error) {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.WithActiveItems")
	defer span.End()
	q := `SELECT ` + missionCols + ` FROM missions m
WHERE m.status IN ($1,$2)
AND EXISTS (SELECT 1 FROM mission_items i WHERE i.mission_id = m.id AND i.status IN ($3,$4))
ORDER BY m.id ASC`
	return r.queryMissions(ctx, q, domain.MissionQueued, domain.MissionRunning, domain.ItemPending, domain.ItemProcessing)
}

func (r *MissionRepo) queryMissions(ctx domain.Context, q string, args ...any) ([]domain.Mission, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=mission.query: %w", err)
	}
	defer rows.Close()
	var out []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("op=mission.query: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=mission.query: rows: %w", err)
	}
	return out, nil
}

// TransitionStatus flips a mission from one status to another only when it
// still holds the expected status; reports whether the transition applied.
func (r *MissionRepo) TransitionStatus(ctx domain.Context, id int64, from, to domain.MissionStatus, errMsg string) (bool, error) {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.TransitionStatus")
	defer span.End()
	q := `UPDATE missions SET status=$3, error=$4, updated_at=$5 WHERE id=$1 AND status=$2`
	tag, err := r.Pool.Exec(ctx, q, id, from, to, errMsg, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("op=mission.transition: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRunning flips a queued mission to running and stamps started_at.
// Idempotent: reports false when the mission already left the queued state.
func (r *MissionRepo) MarkRunning(ctx domain.Context, id int64, startedAt time.Time) (bool, error) {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.MarkRunning")
	defer span.End()
	q := `UPDATE missions SET status=$2, started_at=$3, updated_at=$4 WHERE id=$1 AND status=$5`
	tag, err := r.Pool.Exec(ctx, q, id, domain.MissionRunning, startedAt, time.Now().UTC(), domain.MissionQueued)
	if err != nil {
		return false, fmt.Errorf("op=mission.mark_running: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStatus updates status and error message unconditionally.
func (r *MissionRepo) SetStatus(ctx domain.Context, id int64, status domain.MissionStatus, errMsg string) error {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.SetStatus")
	defer span.End()
	q := `UPDATE missions SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, status, errMsg, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=mission.set_status: %w", err)
	}
	return nil
}

// UpdateCounters stores the completed/failed item counters.
func (r *MissionRepo) UpdateCounters(ctx domain.Context, id int64, completed, failed int) error {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.UpdateCounters")
	defer span.End()
	q := `UPDATE missions SET completed_count=$2, failed_count=$3, updated_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, completed, failed, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=mission.update_counters: %w", err)
	}
	return nil
}

// Cancel flips a non-terminal mission to cancelled and cancels all of its
// pending items in the same transaction. Returns the number of items
// cancelled.
func (r *MissionRepo) Cancel(ctx domain.Context, id int64) (int, error) {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.Cancel")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("op=mission.cancel: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	q := `UPDATE missions SET status=$2, updated_at=$3 WHERE id=$1 AND status IN ($4,$5,$6)`
	tag, err := tx.Exec(ctx, q, id, domain.MissionCancelled, now,
		domain.MissionScheduled, domain.MissionQueued, domain.MissionRunning)
	if err != nil {
		return 0, fmt.Errorf("op=mission.cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("op=mission.cancel: %w", domain.ErrConflict)
	}

	iq := `UPDATE mission_items SET status=$2, updated_at=$3 WHERE mission_id=$1 AND status=$4`
	itag, err := tx.Exec(ctx, iq, id, domain.ItemCancelled, now, domain.ItemPending)
	if err != nil {
		return 0, fmt.Errorf("op=mission.cancel: items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("op=mission.cancel: commit: %w", err)
	}
	return int(itag.RowsAffected()), nil
}

// Delete removes a terminal mission; items cascade.
func (r *MissionRepo) Delete(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.missions")
	ctx, span := tracer.Start(ctx, "missions.Delete")
	defer span.End()
	q := `DELETE FROM missions WHERE id=$1 AND status IN ($2,$3,$4)`
	tag, err := r.Pool.Exec(ctx, q, id, domain.MissionCompleted, domain.MissionFailed, domain.MissionCancelled)
	if err != nil {
		return fmt.Errorf("op=mission.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=mission.delete: %w", domain.ErrConflict)
	}
	return nil
}
