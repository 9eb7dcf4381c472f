package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// ItemRepo persists and loads mission items from PostgreSQL.
type ItemRepo struct{ Pool PgxPool }

// NewItemRepo constructs an ItemRepo with the given pool.
func NewItemRepo(p PgxPool) *ItemRepo { return &ItemRepo{Pool: p} }

const itemCols = `id, mission_id, item_index, input_params, status, retry_count, next_retry_at,
COALESCE(platform_id,''), COALESCE(platform_task_id,''), COALESCE(result_url,''), COALESCE(error,''), created_at, updated_at`

func scanItem(row pgx.Row) (domain.MissionItem, error) {
	var it domain.MissionItem
	var params []byte
	if err := row.Scan(&it.ID, &it.MissionID, &it.Index, &params, &it.Status, &it.RetryCount, &it.NextRetryAt,
		&it.PlatformID, &it.PlatformTaskID, &it.ResultURL, &it.ErrorMessage, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return domain.MissionItem{}, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &it.Params); err != nil {
			return domain.MissionItem{}, fmt.Errorf("decode item params: %w", err)
		}
	}
	return it, nil
}

// Get loads one item by id.
func (r *ItemRepo) Get(ctx domain.Context, id int64) (domain.MissionItem, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.Get")
	defer span.End()
	q := `SELECT ` + itemCols + ` FROM mission_items WHERE id=$1`
	it, err := scanItem(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MissionItem{}, fmt.Errorf("op=item.get: %w", domain.ErrNotFound)
		}
		return domain.MissionItem{}, fmt.Errorf("op=item.get: %w", err)
	}
	return it, nil
}

// ListByMission returns all items of a mission in index order.
func (r *ItemRepo) ListByMission(ctx domain.Context, missionID int64) ([]domain.MissionItem, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.ListByMission")
	defer span.End()
	q := `SELECT ` + itemCols + ` FROM mission_items WHERE mission_id=$1 ORDER BY item_index ASC`
	return r.queryItems(ctx, q, missionID)
}

// PendingByMission returns the pending items of one mission in index order.
func (r *ItemRepo) PendingByMission(ctx domain.Context, missionID int64) ([]domain.MissionItem, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.PendingByMission")
	defer span.End()
	q := `SELECT ` + itemCols + ` FROM mission_items WHERE mission_id=$1 AND status=$2 ORDER BY item_index ASC`
	return r.queryItems(ctx, q, missionID, domain.ItemPending)
}

// PendingReady returns pending items with no retry hold whose mission is
// queued or running.
func (r *ItemRepo) PendingReady(ctx domain.Context) ([]domain.MissionItem, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.PendingReady")
	defer span.End()
	q := `SELECT ` + itemColsPrefixed + ` FROM mission_items i
JOIN missions m ON m.id = i.mission_id
WHERE i.status=$1 AND i.next_retry_at IS NULL AND m.status IN ($2,$3)
ORDER BY i.mission_id ASC, i.item_index ASC`
	return r.queryItems(ctx, q, domain.ItemPending, domain.MissionQueued, domain.MissionRunning)
}

// ProcessingWithTask returns processing items that carry a platform task id,
// for resuming pollers after a restart.
func (r *ItemRepo) ProcessingWithTask(ctx domain.Context) ([]domain.MissionItem, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.ProcessingWithTask")
	defer span.End()
	q := `SELECT ` + itemCols + ` FROM mission_items WHERE status=$1 AND platform_task_id <> '' ORDER BY id ASC`
	return r.queryItems(ctx, q, domain.ItemProcessing)
}

// DueRetries returns pending items whose next_retry_at elapsed and whose
// mission is still live.
func (r *ItemRepo) DueRetries(ctx domain.Context, now time.Time) ([]domain.MissionItem, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.DueRetries")
	defer span.End()
	q := `SELECT ` + itemColsPrefixed + ` FROM mission_items i
JOIN missions m ON m.id = i.mission_id
WHERE i.status=$1 AND i.next_retry_at IS NOT NULL AND i.next_retry_at <= $2 AND m.status IN ($3,$4)
ORDER BY i.next_retry_at ASC`
	return r.queryItems(ctx, q, domain.ItemPending, now, domain.MissionQueued, domain.MissionRunning)
}

const itemColsPrefixed = `i.id, i.mission_id, i.item_index, i.input_params, i.status, i.retry_count, i.next_retry_at,
COALESCE(i.platform_id,''), COALESCE(i.platform_task_id,''), COALESCE(i.result_url,''), COALESCE(i.error,''), i.created_at, i.updated_at`

func (r *ItemRepo) queryItems(ctx domain.Context, q string, args ...any) ([]domain.MissionItem, error) {
	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("op=item.query: %w", err)
	}
	defer rows.Close()
	var out []domain.MissionItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("op=item.query: scan: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=item.query: rows: %w", err)
	}
	return out, nil
}

// SetPlatformTask records which platform accepted the item and under which
// remote task id, before submission is considered complete.
func (r *ItemRepo) SetPlatformTask(ctx domain.Context, id int64, platformID, taskID string) error {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.SetPlatformTask")
	defer span.End()
	q := `UPDATE mission_items SET platform_id=$2, platform_task_id=$3, updated_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, platformID, taskID, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=item.set_platform_task: %w", err)
	}
	return nil
}

// MarkProcessing flips a pending item to processing with its platform task
// recorded in the same statement.
func (r *ItemRepo) MarkProcessing(ctx domain.Context, id int64, platformID, taskID string) error {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.MarkProcessing")
	defer span.End()
	q := `UPDATE mission_items SET status=$2, platform_id=$3, platform_task_id=$4, next_retry_at=NULL, updated_at=$5 WHERE id=$1 AND status=$6`
	tag, err := r.Pool.Exec(ctx, q, id, domain.ItemProcessing, platformID, taskID, time.Now().UTC(), domain.ItemPending)
	if err != nil {
		return fmt.Errorf("op=item.mark_processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=item.mark_processing: %w", domain.ErrConflict)
	}
	return nil
}

// MarkCompleted flips a processing item to completed with its result URL.
func (r *ItemRepo) MarkCompleted(ctx domain.Context, id int64, resultURL string) error {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.MarkCompleted")
	defer span.End()
	q := `UPDATE mission_items SET status=$2, result_url=$3, error='', updated_at=$4 WHERE id=$1 AND status=$5`
	tag, err := r.Pool.Exec(ctx, q, id, domain.ItemCompleted, resultURL, time.Now().UTC(), domain.ItemProcessing)
	if err != nil {
		return fmt.Errorf("op=item.mark_completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=item.mark_completed: %w", domain.ErrConflict)
	}
	return nil
}

// MarkFailed flips an item to failed with its error message.
func (r *ItemRepo) MarkFailed(ctx domain.Context, id int64, errMsg string) error {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.MarkFailed")
	defer span.End()
	q := `UPDATE mission_items SET status=$2, error=$3, updated_at=$4 WHERE id=$1 AND status IN ($5,$6)`
	tag, err := r.Pool.Exec(ctx, q, id, domain.ItemFailed, errMsg, time.Now().UTC(), domain.ItemPending, domain.ItemProcessing)
	if err != nil {
		return fmt.Errorf("op=item.mark_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=item.mark_failed: %w", domain.ErrConflict)
	}
	return nil
}

// ScheduleRetry returns an item to pending with a bumped retry count, a
// future retry time, and its platform task cleared.
func (r *ItemRepo) ScheduleRetry(ctx domain.Context, id int64, retryCount int, nextRetryAt time.Time, errMsg string) error {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.ScheduleRetry")
	defer span.End()
	q := `UPDATE mission_items SET status=$2, retry_count=$3, next_retry_at=$4, error=$5,
platform_task_id='', updated_at=$6 WHERE id=$1 AND status IN ($7,$8)`
	tag, err := r.Pool.Exec(ctx, q, id, domain.ItemPending, retryCount, nextRetryAt, errMsg, time.Now().UTC(),
		domain.ItemProcessing, domain.ItemPending)
	if err != nil {
		return fmt.Errorf("op=item.schedule_retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=item.schedule_retry: %w", domain.ErrConflict)
	}
	return nil
}

// ResetFailed returns all failed items of a mission to pending with fresh
// retry budgets. Returns how many were reset.
func (r *ItemRepo) ResetFailed(ctx domain.Context, missionID int64) (int, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.ResetFailed")
	defer span.End()
	q := `UPDATE mission_items SET status=$2, retry_count=0, next_retry_at=NULL, error='',
platform_id='', platform_task_id='', result_url='', updated_at=$3 WHERE mission_id=$1 AND status=$4`
	tag, err := r.Pool.Exec(ctx, q, missionID, domain.ItemPending, time.Now().UTC(), domain.ItemFailed)
	if err != nil {
		return 0, fmt.Errorf("op=item.reset_failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CompletedResults returns completed items with a non-empty result URL.
func (r *ItemRepo) CompletedResults(ctx domain.Context, missionID int64) ([]domain.MissionItem, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.CompletedResults")
	defer span.End()
	q := `SELECT ` + itemCols + ` FROM mission_items WHERE mission_id=$1 AND status=$2 AND result_url <> '' ORDER BY item_index ASC`
	return r.queryItems(ctx, q, missionID, domain.ItemCompleted)
}

// CountActive counts items still pending or processing for a mission.
func (r *ItemRepo) CountActive(ctx domain.Context, missionID int64) (int, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.CountActive")
	defer span.End()
	q := `SELECT COUNT(*) FROM mission_items WHERE mission_id=$1 AND status IN ($2,$3)`
	var n int
	if err := r.Pool.QueryRow(ctx, q, missionID, domain.ItemPending, domain.ItemProcessing).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=item.count_active: %w", err)
	}
	return n, nil
}

// Stats aggregates the item status counts of one mission.
func (r *ItemRepo) Stats(ctx domain.Context, missionID int64) (domain.ItemStats, error) {
	tracer := otel.Tracer("repo.items")
	ctx, span := tracer.Start(ctx, "items.Stats")
	defer span.End()
	q := `SELECT
COUNT(*),
COUNT(*) FILTER (WHERE status=$2),
COUNT(*) FILTER (WHERE status=$3),
COUNT(*) FILTER (WHERE status=$4),
COUNT(*) FILTER (WHERE status=$5),
COUNT(*) FILTER (WHERE status=$6)
FROM mission_items WHERE mission_id=$1`
	var s domain.ItemStats
	err := r.Pool.QueryRow(ctx, q, missionID,
		domain.ItemCompleted, domain.ItemFailed, domain.ItemPending, domain.ItemProcessing, domain.ItemCancelled).
		Scan(&s.Total, &s.Completed, &s.Failed, &s.Pending, &s.Processing, &s.Cancelled)
	if err != nil {
		return domain.ItemStats{}, fmt.Errorf("op=item.stats: %w", err)
	}
	return s, nil
}
