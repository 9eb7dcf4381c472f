package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// MediaRepo persists the content-addressed media index.
type MediaRepo struct{ Pool PgxPool }

// NewMediaRepo constructs a MediaRepo with the given pool.
func NewMediaRepo(p PgxPool) *MediaRepo { return &MediaRepo{Pool: p} }

const mediaCols = `id, file_hash, original_name, path, size, COALESCE(provider_name,''), COALESCE(mime,''), upload_count, created_at, updated_at`

func scanMedia(row pgx.Row) (domain.MediaFile, error) {
	var f domain.MediaFile
	err := row.Scan(&f.ID, &f.Hash, &f.OriginalName, &f.Path, &f.Size, &f.ProviderName, &f.MIME, &f.UploadCount, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// Create stores a new media file record and returns its id.
func (r *MediaRepo) Create(ctx domain.Context, f domain.MediaFile) (int64, error) {
	tracer := otel.Tracer("repo.media")
	ctx, span := tracer.Start(ctx, "media.Create")
	defer span.End()
	now := time.Now().UTC()
	var id int64
	q := `INSERT INTO media_files (file_hash, original_name, path, size, provider_name, mime, upload_count, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,1,$7,$7) RETURNING id`
	if err := r.Pool.QueryRow(ctx, q, f.Hash, f.OriginalName, f.Path, f.Size, f.ProviderName, f.MIME, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("op=media.create: %w", err)
	}
	return id, nil
}

// Get loads a media file by id.
func (r *MediaRepo) Get(ctx domain.Context, id int64) (domain.MediaFile, error) {
	tracer := otel.Tracer("repo.media")
	ctx, span := tracer.Start(ctx, "media.Get")
	defer span.End()
	f, err := scanMedia(r.Pool.QueryRow(ctx, `SELECT `+mediaCols+` FROM media_files WHERE id=$1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MediaFile{}, fmt.Errorf("op=media.get: %w", domain.ErrNotFound)
		}
		return domain.MediaFile{}, fmt.Errorf("op=media.get: %w", err)
	}
	return f, nil
}

// FindByHash loads a media file by its SHA-256 hex digest.
func (r *MediaRepo) FindByHash(ctx domain.Context, hash string) (domain.MediaFile, error) {
	tracer := otel.Tracer("repo.media")
	ctx, span := tracer.Start(ctx, "media.FindByHash")
	defer span.End()
	f, err := scanMedia(r.Pool.QueryRow(ctx, `SELECT `+mediaCols+` FROM media_files WHERE file_hash=$1`, hash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MediaFile{}, fmt.Errorf("op=media.find_by_hash: %w", domain.ErrNotFound)
		}
		return domain.MediaFile{}, fmt.Errorf("op=media.find_by_hash: %w", err)
	}
	return f, nil
}

// FindByProviderNames loads media files whose provider handle is in names.
func (r *MediaRepo) FindByProviderNames(ctx domain.Context, names []string) ([]domain.MediaFile, error) {
	tracer := otel.Tracer("repo.media")
	ctx, span := tracer.Start(ctx, "media.FindByProviderNames")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT `+mediaCols+` FROM media_files WHERE provider_name = ANY($1) ORDER BY id ASC`, names)
	if err != nil {
		return nil, fmt.Errorf("op=media.find_by_names: %w", err)
	}
	defer rows.Close()
	var out []domain.MediaFile
	for rows.Next() {
		f, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("op=media.find_by_names: scan: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=media.find_by_names: rows: %w", err)
	}
	return out, nil
}

// List returns all media files, newest first.
func (r *MediaRepo) List(ctx domain.Context) ([]domain.MediaFile, error) {
	tracer := otel.Tracer("repo.media")
	ctx, span := tracer.Start(ctx, "media.List")
	defer span.End()
	rows, err := r.Pool.Query(ctx, `SELECT `+mediaCols+` FROM media_files ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("op=media.list: %w", err)
	}
	defer rows.Close()
	var out []domain.MediaFile
	for rows.Next() {
		f, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("op=media.list: scan: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=media.list: rows: %w", err)
	}
	return out, nil
}

// IncrementUploadCount bumps the dedup counter for an existing file.
func (r *MediaRepo) IncrementUploadCount(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.media")
	ctx, span := tracer.Start(ctx, "media.IncrementUploadCount")
	defer span.End()
	q := `UPDATE media_files SET upload_count = upload_count + 1, updated_at=$2 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=media.increment: %w", err)
	}
	return nil
}
