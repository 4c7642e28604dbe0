// Package provider holds the preview and plan generators the lifecycle
// controller dispatches to. Each capability has a stub variant that needs no
// network and a remote variant selected at startup.
package provider

import (
	"context"
	"errors"
	"time"
)

type PreviewOptions struct {
	Style    string `json:"style,omitempty"`
	RoomType string `json:"room_type,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

// PreviewResult carries either a finished PreviewURL or a JobID to poll.
type PreviewResult struct {
	PreviewURL string
	JobID      string
	Meta       map[string]interface{}
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

type JobResult struct {
	Status     JobStatus
	PreviewURL string
	Error      string
}

type PreviewProvider interface {
	Name() string
	GeneratePreview(ctx context.Context, imageURL string, opts PreviewOptions) (*PreviewResult, error)
}

// JobPoller is implemented by job-based preview providers.
type JobPoller interface {
	PollPreview(ctx context.Context, jobID string) (*JobResult, error)
}

type PlanOptions struct {
	Description string `json:"description,omitempty"`
	Budget      string `json:"budget,omitempty"`
	SkillLevel  string `json:"skill_level,omitempty"`
}

// PlanProvider returns a loosely shaped plan document for plan.Normalize.
type PlanProvider interface {
	Name() string
	GeneratePlan(ctx context.Context, opts PlanOptions) (interface{}, error)
}

var ErrJobFailed = errors.New("provider job failed")

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
