package models

import (
	"encoding/json"
	"time"
)

type ProjectResponse struct {
	ID               string          `json:"project_id"`
	Name             string          `json:"name"`
	Status           string          `json:"status"`
	InputImageURL    string          `json:"input_image_url,omitempty"`
	PreviewURL       string          `json:"preview_url,omitempty"`
	PreviewStatus    string          `json:"preview_status,omitempty"`
	PreviewMeta      json.RawMessage `json:"preview_meta,omitempty" swaggertype:"object"`
	Plan             json.RawMessage `json:"plan_json,omitempty" swaggertype:"object"`
	CompletedSteps   []int           `json:"completed_steps"`
	CurrentStepIndex int             `json:"current_step_index"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type ProjectListResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

type ProjectSummary struct {
	ID         string    `json:"project_id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	PreviewURL string    `json:"preview_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type StatusResponse struct {
	ProjectID     string    `json:"project_id"`
	Status        string    `json:"status"`
	PreviewStatus string    `json:"preview_status,omitempty"`
	PreviewURL    string    `json:"preview_url,omitempty"`
	HasPlan       bool      `json:"has_plan"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AcceptedResponse is returned by the fast-accept preview and plan endpoints.
type AcceptedResponse struct {
	Accepted    bool   `json:"accepted"`
	ProjectID   string `json:"project_id"`
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
}

type EntitlementResponse struct {
	Tier           string `json:"tier"`
	Quota          int    `json:"quota"`
	Used           int    `json:"used"`
	Remaining      int    `json:"remaining"`
	PreviewAllowed bool   `json:"preview_allowed"`
	Degraded       bool   `json:"degraded,omitempty"`
}

type ScanResponse struct {
	ID            string          `json:"scan_id"`
	ProjectID     string          `json:"project_id"`
	MeasureStatus string          `json:"measure_status"`
	MeasureResult json.RawMessage `json:"measure_result,omitempty" swaggertype:"object"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ScansResponse struct {
	Scans []ScanResponse `json:"scans"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
