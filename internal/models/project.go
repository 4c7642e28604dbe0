package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ProjectStatus string

const (
	StatusDraft            ProjectStatus = "draft"
	StatusNew              ProjectStatus = "new" // legacy synonym of draft
	StatusPreviewRequested ProjectStatus = "preview_requested"
	StatusPreviewReady     ProjectStatus = "preview_ready"
	StatusPreviewError     ProjectStatus = "preview_error"
	StatusPlanRequested    ProjectStatus = "plan_requested"
	StatusPlanReady        ProjectStatus = "plan_ready"
	StatusPlanError        ProjectStatus = "plan_error"
	StatusReady            ProjectStatus = "ready"
	StatusInProgress       ProjectStatus = "in_progress"
)

// Canonical maps legacy status values onto the current enumeration.
func (s ProjectStatus) Canonical() ProjectStatus {
	if s == StatusNew || s == "" {
		return StatusDraft
	}
	return s
}

type PreviewStatus string

const (
	PreviewNone       PreviewStatus = ""
	PreviewQueued     PreviewStatus = "queued"
	PreviewProcessing PreviewStatus = "processing"
	PreviewReady      PreviewStatus = "ready"
	PreviewError      PreviewStatus = "error"
)

type Project struct {
	ID               uuid.UUID
	UserID           string
	Name             string
	Status           ProjectStatus
	InputImageURL    sql.NullString
	PreviewURL       sql.NullString
	PreviewStatus    PreviewStatus
	PreviewMeta      json.RawMessage
	PlanJSON         json.RawMessage
	CompletedSteps   []int
	CurrentStepIndex int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type RoomScan struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	UserID        string
	MeasureStatus string
	MeasureResult json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
