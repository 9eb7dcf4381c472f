package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// MediaService stores uploaded files locally, deduplicates them by content
// hash and pushes new blobs to the platform uploader.
type MediaService struct {
	Repo     domain.MediaRepository
	Uploader domain.MediaUploader
	Dir      string
	MaxBytes int64
}

// NewMediaService constructs a MediaService writing blobs under dir.
func NewMediaService(repo domain.MediaRepository, up domain.MediaUploader, dir string, maxBytes int64) MediaService {
	return MediaService{Repo: repo, Uploader: up, Dir: dir, MaxBytes: maxBytes}
}

// UploadResult reports one upload, deduplicated or fresh.
type UploadResult struct {
	File     domain.MediaFile
	Existing bool
}

// Upload reads r to a local blob, hashing as it goes. A file whose hash is
// already known only bumps the upload counter; a new file is pushed to the
// provider and recorded.
func (s MediaService) Upload(ctx domain.Context, originalName string, r io.Reader) (UploadResult, error) {
	if originalName == "" {
		return UploadResult{}, fmt.Errorf("%w: file name required", domain.ErrInvalidArgument)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return UploadResult{}, fmt.Errorf("op=media.upload: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "upload-*")
	if err != nil {
		return UploadResult{}, fmt.Errorf("op=media.upload: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	h := sha256.New()
	limit := s.MaxBytes
	if limit <= 0 {
		limit = 30 << 20
	}
	size, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(r, limit+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return UploadResult{}, fmt.Errorf("op=media.upload: read body: %w", err)
	}
	if size > limit {
		return UploadResult{}, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidArgument, limit)
	}
	if size == 0 {
		return UploadResult{}, fmt.Errorf("%w: empty file", domain.ErrInvalidArgument)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	if existing, err := s.Repo.FindByHash(ctx, hash); err == nil {
		if err := s.Repo.IncrementUploadCount(ctx, existing.ID); err != nil {
			return UploadResult{}, err
		}
		existing.UploadCount++
		return UploadResult{File: existing, Existing: true}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return UploadResult{}, err
	}

	mt, err := mimetype.DetectFile(tmpName)
	if err != nil {
		return UploadResult{}, fmt.Errorf("op=media.upload: detect type: %w", err)
	}
	dest := filepath.Join(s.Dir, hash+mt.Extension())
	if err := os.Rename(tmpName, dest); err != nil {
		return UploadResult{}, fmt.Errorf("op=media.upload: store blob: %w", err)
	}

	providerName, err := s.Uploader.UploadFile(ctx, dest, originalName)
	if err != nil {
		_ = os.Remove(dest)
		return UploadResult{}, err
	}

	now := time.Now().UTC()
	f := domain.MediaFile{
		Hash:         hash,
		OriginalName: originalName,
		Path:         dest,
		Size:         size,
		ProviderName: providerName,
		MIME:         mt.String(),
		UploadCount:  1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	id, err := s.Repo.Create(ctx, f)
	if err != nil {
		return UploadResult{}, err
	}
	f.ID = id
	return UploadResult{File: f}, nil
}

// List returns every stored media file, newest first.
func (s MediaService) List(ctx domain.Context) ([]domain.MediaFile, error) {
	return s.Repo.List(ctx)
}

// Get returns one media file record.
func (s MediaService) Get(ctx domain.Context, id int64) (domain.MediaFile, error) {
	return s.Repo.Get(ctx, id)
}

// Open returns the record and a reader over the local blob.
func (s MediaService) Open(ctx domain.Context, id int64) (domain.MediaFile, io.ReadCloser, error) {
	f, err := s.Repo.Get(ctx, id)
	if err != nil {
		return domain.MediaFile{}, nil, err
	}
	rc, err := os.Open(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.MediaFile{}, nil, fmt.Errorf("%w: blob missing for file %d", domain.ErrNotFound, id)
		}
		return domain.MediaFile{}, nil, fmt.Errorf("op=media.open: %w", err)
	}
	return f, rc, nil
}

// FindByProviderNames resolves provider file handles back to records.
func (s MediaService) FindByProviderNames(ctx domain.Context, names []string) ([]domain.MediaFile, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: names required", domain.ErrInvalidArgument)
	}
	return s.Repo.FindByProviderNames(ctx, names)
}
