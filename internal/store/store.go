// Package store defines the persistence contract used by the entitlement
// resolver, the project lifecycle controller and the HTTP handlers.
//
// Lookups of missing rows return errs.ErrNotFound; a conditional status
// update whose precondition no longer holds returns errs.ErrConflict.
package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"homeproject-backend/internal/models"
)

// ProjectUpdate lists the columns to change. Nil fields are left untouched.
// PreviewURL with Valid=false clears the column.
type ProjectUpdate struct {
	Name             *string
	Status           *models.ProjectStatus
	InputImageURL    *string
	PreviewURL       *sql.NullString
	PreviewStatus    *models.PreviewStatus
	PreviewMeta      json.RawMessage
	PlanJSON         json.RawMessage
	CompletedSteps   *[]int
	CurrentStepIndex *int
}

type SubscriptionUpdate struct {
	SubscriptionID   string
	Status           string
	Tier             models.Tier
	CurrentPeriodEnd sql.NullTime
}

type Projects interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, userID string) ([]models.Project, error)
	CountProjects(ctx context.Context, userID string) (int, error)
	UpdateProject(ctx context.Context, id uuid.UUID, upd ProjectUpdate) (*models.Project, error)
	// TransitionProject applies upd only while the row's status is one of from.
	TransitionProject(ctx context.Context, id uuid.UUID, from []models.ProjectStatus, upd ProjectUpdate) (*models.Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error
}

type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	// EnsureProfile creates the profile with tier if absent and returns the
	// stored row. Concurrent calls for one user create exactly one row.
	EnsureProfile(ctx context.Context, userID string, tier models.Tier) (*models.Profile, error)
	LinkCustomer(ctx context.Context, userID, customerID, subscriptionID string) error
	UpdateSubscription(ctx context.Context, customerID string, upd SubscriptionUpdate) (*models.Profile, error)
}

type Operations interface {
	CreateOperation(ctx context.Context, op *models.PendingOperation) error
	SetOperationJob(ctx context.Context, id uuid.UUID, jobID string) error
	FinishOperation(ctx context.Context, id uuid.UUID, state models.OperationState, errMsg string) error
	ListPendingOperations(ctx context.Context) ([]models.PendingOperation, error)
}

type Scans interface {
	CreateScan(ctx context.Context, s *models.RoomScan) error
	GetScan(ctx context.Context, id uuid.UUID) (*models.RoomScan, error)
	ListScans(ctx context.Context, projectID uuid.UUID) ([]models.RoomScan, error)
	UpdateScan(ctx context.Context, id uuid.UUID, status string, result json.RawMessage) (*models.RoomScan, error)
}

type Store interface {
	Projects
	Profiles
	Operations
	Scans
}
