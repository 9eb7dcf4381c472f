// Package runninghub adapts the RunningHub generation API to the platform
// port.
package runninghub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/media-task-broker/internal/adapter/platform"
	"github.com/fairyhunter13/media-task-broker/internal/domain"
	"github.com/fairyhunter13/media-task-broker/internal/observability"
)

// submit endpoints per task kind, relative to the API base.
var submitPaths = map[domain.TaskKind]string{
	domain.TextToImage:  "/openapi/v2/text-to-image",
	domain.ImageToImage: "/openapi/v2/image-to-image",
	domain.TextToVideo:  "/openapi/v2/text-to-video",
	domain.ImageToVideo: "/openapi/v2/image-to-video",
}

const queryPath = "/openapi/v2/query"

// Adapter implements domain.PlatformAdapter against RunningHub.
type Adapter struct {
	id      string
	baseURL string
	apiKey  string
	client  *http.Client
}

// New constructs a RunningHub adapter. The HTTP client is traced via
// otelhttp.
func New(id, baseURL, apiKey string) *Adapter {
	return &Adapter{
		id:      id,
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ID returns the registry id of this adapter.
func (a *Adapter) ID() string { return a.id }

// SupportedKinds lists the task kinds RunningHub accepts.
func (a *Adapter) SupportedKinds() []domain.TaskKind {
	return []domain.TaskKind{domain.TextToImage, domain.ImageToImage, domain.TextToVideo, domain.ImageToVideo}
}

// NormalizeParams is the identity transform; the broker's parameter names
// already match the RunningHub wire format.
func (a *Adapter) NormalizeParams(_ domain.TaskKind, p domain.Params) domain.Params { return p }

type submitResponse struct {
	Code         int    `json:"code"`
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Message      string `json:"message"`
}

// Submit posts one generation task. Provider rejections come back as
// SubmitResult{OK: false}; transport problems are errors.
func (a *Adapter) Submit(ctx domain.Context, kind domain.TaskKind, p domain.Params, modelID string) (domain.SubmitResult, error) {
	path, ok := submitPaths[kind]
	if !ok {
		return domain.SubmitResult{Message: fmt.Sprintf("unsupported task type %s", kind)}, nil
	}

	body := p.Plain()
	if modelID != "" {
		body["model"] = modelID
	}

	started := time.Now()
	var resp submitResponse
	if err := a.postJSON(ctx, a.baseURL+path, body, &resp); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("op=runninghub.submit: %w", err)
	}
	observability.ObservePlatformCall(a.id, "submit", time.Since(started))

	if resp.TaskID == "" || resp.ErrorCode != "" {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "submission rejected"
		}
		return domain.SubmitResult{Message: msg}, nil
	}
	return domain.SubmitResult{OK: true, TaskID: resp.TaskID, Message: resp.Status}, nil
}

// Query fetches the remote status of one task and normalizes it.
func (a *Adapter) Query(ctx domain.Context, taskID string) (domain.QueryResult, error) {
	started := time.Now()
	var payload map[string]any
	if err := a.postJSON(ctx, a.baseURL+queryPath, map[string]any{"taskId": taskID}, &payload); err != nil {
		return domain.QueryResult{}, fmt.Errorf("op=runninghub.query: %w", err)
	}
	observability.ObservePlatformCall(a.id, "query", time.Since(started))

	status, _ := payload["status"].(string)
	msg, _ := payload["message"].(string)
	res := domain.QueryResult{State: normalizeState(status), Message: msg}
	if res.State == domain.StateSuccess {
		res.ResultURLs = platform.ExtractResultURLs(payload)
	}
	return res, nil
}

func normalizeState(s string) domain.TaskState {
	switch s {
	case "SUCCESS", "COMPLETED":
		return domain.StateSuccess
	case "FAILED", "ERROR":
		return domain.StateFailed
	case "QUEUED":
		return domain.StateQueued
	case "RUNNING":
		return domain.StateRunning
	default:
		return domain.StatePending
	}
}

func (a *Adapter) postJSON(ctx domain.Context, url string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", domain.ErrUpstream, resp.StatusCode, truncate(data, 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode body: %v", domain.ErrUpstream, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
