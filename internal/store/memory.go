package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/models"
)

// Memory is a process-local Store used by tests and by local development
// without a database.
type Memory struct {
	mu         sync.Mutex
	projects   map[uuid.UUID]models.Project
	profiles   map[string]models.Profile
	operations map[uuid.UUID]models.PendingOperation
	scans      map[uuid.UUID]models.RoomScan
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		projects:   make(map[uuid.UUID]models.Project),
		profiles:   make(map[string]models.Profile),
		operations: make(map[uuid.UUID]models.PendingOperation),
		scans:      make(map[uuid.UUID]models.RoomScan),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func cloneProject(p models.Project) *models.Project {
	p.CompletedSteps = slices.Clone(p.CompletedSteps)
	p.PreviewMeta = slices.Clone(p.PreviewMeta)
	p.PlanJSON = slices.Clone(p.PlanJSON)
	return &p
}

func (m *Memory) CreateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := m.projects[p.ID]; exists {
		return errs.Conflict("project %s already exists", p.ID)
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.CompletedSteps == nil {
		p.CompletedSteps = []int{}
	}
	m.projects[p.ID] = *cloneProject(*p)
	return nil
}

func (m *Memory) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, errs.NotFound("project not found")
	}
	return cloneProject(p), nil
}

func (m *Memory) ListProjects(_ context.Context, userID string) ([]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Project
	for _, p := range m.projects {
		if p.UserID == userID {
			out = append(out, *cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CountProjects(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, p := range m.projects {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) UpdateProject(ctx context.Context, id uuid.UUID, upd ProjectUpdate) (*models.Project, error) {
	return m.TransitionProject(ctx, id, nil, upd)
}

func (m *Memory) TransitionProject(_ context.Context, id uuid.UUID, from []models.ProjectStatus, upd ProjectUpdate) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, errs.NotFound("project not found")
	}
	if from != nil && !slices.Contains(from, p.Status) {
		return nil, errs.Conflict("project status is %s", p.Status)
	}

	applyUpdate(&p, upd)
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return cloneProject(p), nil
}

func applyUpdate(p *models.Project, upd ProjectUpdate) {
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	if upd.InputImageURL != nil {
		p.InputImageURL = sql.NullString{String: *upd.InputImageURL, Valid: true}
	}
	if upd.PreviewURL != nil {
		p.PreviewURL = *upd.PreviewURL
	}
	if upd.PreviewStatus != nil {
		p.PreviewStatus = *upd.PreviewStatus
	}
	if upd.PreviewMeta != nil {
		p.PreviewMeta = slices.Clone(upd.PreviewMeta)
	}
	if upd.PlanJSON != nil {
		p.PlanJSON = slices.Clone(upd.PlanJSON)
	}
	if upd.CompletedSteps != nil {
		p.CompletedSteps = slices.Clone(*upd.CompletedSteps)
	}
	if upd.CurrentStepIndex != nil {
		p.CurrentStepIndex = *upd.CurrentStepIndex
	}
}

func (m *Memory) DeleteProject(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[id]; !ok {
		return errs.NotFound("project not found")
	}
	delete(m.projects, id)
	for sid, s := range m.scans {
		if s.ProjectID == id {
			delete(m.scans, sid)
		}
	}
	return nil
}

func (m *Memory) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, errs.NotFound("profile not found")
	}
	return &p, nil
}

func (m *Memory) EnsureProfile(_ context.Context, userID string, tier models.Tier) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		now := time.Now().UTC()
		p = models.Profile{UserID: userID, PlanTier: string(tier), CreatedAt: now, UpdatedAt: now}
		m.profiles[userID] = p
	}
	return &p, nil
}

// ProfileCount reports how many profiles exist.
func (m *Memory) ProfileCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.profiles)
}

func (m *Memory) LinkCustomer(_ context.Context, userID, customerID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	p, ok := m.profiles[userID]
	if !ok {
		p = models.Profile{UserID: userID, PlanTier: string(models.TierFree), CreatedAt: now}
	}
	p.StripeCustomerID = sql.NullString{String: customerID, Valid: customerID != ""}
	if subscriptionID != "" {
		p.StripeSubscriptionID = sql.NullString{String: subscriptionID, Valid: true}
	}
	p.UpdatedAt = now
	m.profiles[userID] = p
	return nil
}

func (m *Memory) UpdateSubscription(_ context.Context, customerID string, upd SubscriptionUpdate) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID, p := range m.profiles {
		if !p.StripeCustomerID.Valid || p.StripeCustomerID.String != customerID {
			continue
		}
		p.StripeSubscriptionID = sql.NullString{String: upd.SubscriptionID, Valid: upd.SubscriptionID != ""}
		p.SubscriptionStatus = sql.NullString{String: upd.Status, Valid: upd.Status != ""}
		p.PlanTier = string(upd.Tier)
		p.CurrentPeriodEnd = upd.CurrentPeriodEnd
		p.UpdatedAt = time.Now().UTC()
		m.profiles[userID] = p
		return &p, nil
	}
	return nil, errs.NotFound("no profile for customer %s", customerID)
}

func (m *Memory) CreateOperation(_ context.Context, op *models.PendingOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	now := time.Now().UTC()
	op.CreatedAt, op.UpdatedAt = now, now
	if op.State == "" {
		op.State = models.OperationPending
	}
	m.operations[op.ID] = *op
	return nil
}

func (m *Memory) SetOperationJob(_ context.Context, id uuid.UUID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.operations[id]
	if !ok {
		return errs.NotFound("operation not found")
	}
	op.ProviderJobID = sql.NullString{String: jobID, Valid: jobID != ""}
	op.UpdatedAt = time.Now().UTC()
	m.operations[id] = op
	return nil
}

func (m *Memory) FinishOperation(_ context.Context, id uuid.UUID, state models.OperationState, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.operations[id]
	if !ok {
		return errs.NotFound("operation not found")
	}
	op.State = state
	op.ErrorMessage = sql.NullString{String: errMsg, Valid: errMsg != ""}
	op.UpdatedAt = time.Now().UTC()
	m.operations[id] = op
	return nil
}

// Operation returns a copy of the stored operation, for inspection.
func (m *Memory) Operation(id uuid.UUID) (models.PendingOperation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operations[id]
	return op, ok
}

func (m *Memory) ListPendingOperations(_ context.Context) ([]models.PendingOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.PendingOperation
	for _, op := range m.operations {
		if op.State == models.OperationPending {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateScan(_ context.Context, s *models.RoomScan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[s.ProjectID]; !ok {
		return errs.NotFound("project not found")
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.scans[s.ID] = *s
	return nil
}

func (m *Memory) GetScan(_ context.Context, id uuid.UUID) (*models.RoomScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scans[id]
	if !ok {
		return nil, errs.NotFound("scan not found")
	}
	return &s, nil
}

func (m *Memory) ListScans(_ context.Context, projectID uuid.UUID) ([]models.RoomScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.RoomScan
	for _, s := range m.scans {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateScan(_ context.Context, id uuid.UUID, status string, result json.RawMessage) (*models.RoomScan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.scans[id]
	if !ok {
		return nil, errs.NotFound("scan not found")
	}
	s.MeasureStatus = status
	if result != nil {
		s.MeasureResult = slices.Clone(result)
	}
	s.UpdatedAt = time.Now().UTC()
	m.scans[id] = s
	return &s, nil
}
