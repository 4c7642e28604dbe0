package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteImage talks to a job-based image generation API:
// POST /previews starts a job, GET /previews/{job_id} reports it.
type RemoteImage struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoffs   []time.Duration
	maxRetries int
}

type createPreviewRequest struct {
	ImageURL string `json:"image_url"`
	Style    string `json:"style,omitempty"`
	RoomType string `json:"room_type,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

type previewJobResponse struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"` // "queued", "processing", "done", "failed"
	PreviewURL string `json:"preview_url"`
	Error      string `json:"error"`
}

// statusError is a non-2xx answer. 4xx responses are not retried.
type statusError struct {
	Op     string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("failed to %s: status %d, body: %s", e.Op, e.Status, e.Body)
}

func (e *statusError) permanent() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}

type RemoteOption func(*RemoteImage)

// WithBackoffs replaces the default 1s/2s/4s retry schedule.
func WithBackoffs(backoffs ...time.Duration) RemoteOption {
	return func(c *RemoteImage) {
		c.backoffs = backoffs
	}
}

func WithTimeout(timeout time.Duration) RemoteOption {
	return func(c *RemoteImage) {
		c.httpClient.Timeout = timeout
	}
}

func NewRemoteImage(baseURL, apiKey string, opts ...RemoteOption) *RemoteImage {
	c := &RemoteImage{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoffs:   []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RemoteImage) Name() string { return "remote" }

func (c *RemoteImage) GeneratePreview(ctx context.Context, imageURL string, opts PreviewOptions) (*PreviewResult, error) {
	jsonData, err := json.Marshal(createPreviewRequest{
		ImageURL: imageURL,
		Style:    opts.Style,
		RoomType: opts.RoomType,
		Prompt:   opts.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result previewJobResponse
	err = c.RetryWithBackoff(ctx, func() error {
		return c.do(ctx, http.MethodPost, "/previews", jsonData, "create preview", &result)
	}, c.maxRetries)
	if err != nil {
		return nil, err
	}

	if result.JobID == "" && result.PreviewURL == "" {
		return nil, fmt.Errorf("preview response has neither job_id nor preview_url")
	}
	if JobStatus(result.Status) == JobFailed {
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, result.Error)
	}

	return &PreviewResult{
		PreviewURL: result.PreviewURL,
		JobID:      result.JobID,
		Meta: map[string]interface{}{
			"provider": c.Name(),
			"job_id":   result.JobID,
		},
	}, nil
}

func (c *RemoteImage) PollPreview(ctx context.Context, jobID string) (*JobResult, error) {
	var result previewJobResponse
	err := c.RetryWithBackoff(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/previews/"+jobID, nil, "get preview status", &result)
	}, c.maxRetries)
	if err != nil {
		return nil, err
	}

	status := JobStatus(result.Status)
	switch status {
	case JobQueued, JobProcessing, JobDone, JobFailed:
	default:
		return nil, fmt.Errorf("unknown preview job status %q", result.Status)
	}
	if status == JobDone && result.PreviewURL == "" {
		return nil, fmt.Errorf("preview job %s done without preview_url", jobID)
	}

	return &JobResult{Status: status, PreviewURL: result.PreviewURL, Error: result.Error}, nil
}

func (c *RemoteImage) do(ctx context.Context, method, path string, body []byte, op string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{Op: op, Status: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// RetryWithBackoff executes fn with exponential backoff between attempts.
// Client errors and context cancellation stop the retries early.
func (c *RemoteImage) RetryWithBackoff(ctx context.Context, fn func() error, maxRetries int) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && se.permanent() {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		if i < len(c.backoffs) {
			if err := sleep(ctx, c.backoffs[i]); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}
