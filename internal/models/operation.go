package models

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OperationKind string

const (
	OperationPreview OperationKind = "preview"
	OperationPlan    OperationKind = "plan"
)

type OperationState string

const (
	OperationPending OperationState = "pending"
	OperationDone    OperationState = "done"
	OperationFailed  OperationState = "failed"
)

// PendingOperation records background preview/plan work so a restarted
// process can resume it.
type PendingOperation struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	UserID        string
	Kind          OperationKind
	State         OperationState
	ProviderJobID sql.NullString
	Options       json.RawMessage
	Deadline      time.Time
	ErrorMessage  sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
