package mock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

// Uploader is a no-network media uploader for mock mode. The returned handle
// is derived from the file content so repeated uploads stay stable.
type Uploader struct{}

// UploadFile hashes the local file and returns a deterministic handle.
func (Uploader) UploadFile(_ domain.Context, path, originalName string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("op=mock.upload: %w", err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("op=mock.upload: %w", err)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return "mock_" + sum[:16] + filepath.Ext(originalName), nil
}
