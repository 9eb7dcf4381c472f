package runninghub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/media-task-broker/internal/domain"
)

const uploadPath = "/task/openapi/upload"

type uploadResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		FileName string `json:"fileName"`
		FileType string `json:"fileType"`
	} `json:"data"`
}

// UploadFile pushes a local file to RunningHub and returns the provider's
// file handle. Transient failures are retried with exponential backoff.
func (a *Adapter) UploadFile(ctx domain.Context, path, originalName string) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = time.Minute

	var handle string
	op := func() error {
		h, err := a.uploadOnce(ctx, path, originalName)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return "", fmt.Errorf("op=runninghub.upload: %w", err)
	}
	return handle, nil
}

func (a *Adapter) uploadOnce(ctx domain.Context, path, originalName string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("open %s: %w", path, err))
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("apiKey", a.apiKey); err != nil {
		return "", backoff.Permanent(err)
	}
	if err := w.WriteField("fileType", "input"); err != nil {
		return "", backoff.Permanent(err)
	}
	part, err := w.CreateFormFile("file", originalName)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+uploadPath, &buf)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", domain.ErrUpstream, resp.StatusCode)
	}
	var ur uploadResponse
	if err := json.Unmarshal(data, &ur); err != nil {
		return "", fmt.Errorf("%w: decode body: %v", domain.ErrUpstream, err)
	}
	if ur.Code != 0 || ur.Data.FileName == "" {
		return "", backoff.Permanent(fmt.Errorf("%w: upload rejected: %s", domain.ErrUpstream, ur.Msg))
	}
	return ur.Data.FileName, nil
}
