// Package lifecycle owns the project status machine: creation, image
// attachment, preview and plan generation, the build-without-preview path and
// progress tracking. Preview and plan requests are accepted synchronously and
// completed by bounded background jobs recorded as pending operations.
package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"homeproject-backend/internal/entitlement"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/metrics"
	"homeproject-backend/internal/models"
	"homeproject-backend/internal/plan"
	"homeproject-backend/internal/provider"
	"homeproject-backend/internal/store"
)

const (
	minNameLength = 2
	maxNameLength = 120
)

type Entitlements interface {
	Resolve(ctx context.Context, userID string) (*entitlement.Entitlement, error)
}

// PreviewMirror copies a provider-hosted preview into our own storage.
type PreviewMirror interface {
	MirrorPreview(ctx context.Context, userID string, projectID uuid.UUID, remoteURL string) (string, error)
}

// Publisher announces status changes to subscribed clients.
type Publisher interface {
	PublishProjectStatus(ctx context.Context, p *models.Project) error
}

type Deps struct {
	Store           store.Store
	Entitlements    Entitlements
	Preview         provider.PreviewProvider
	PreviewFallback provider.PreviewProvider
	Plan            provider.PlanProvider
	PlanFallback    provider.PlanProvider
	// Mirror and Publisher are optional.
	Mirror    PreviewMirror
	Publisher Publisher
	Logger    zerolog.Logger
}

type Options struct {
	SinglePreviewPerProject bool
	OperationDeadline       time.Duration
	ProviderTimeout         time.Duration
	PollInterval            time.Duration
	MaxBackgroundJobs       int
}

type Controller struct {
	store           store.Store
	entitlements    Entitlements
	preview         provider.PreviewProvider
	previewFallback provider.PreviewProvider
	plan            provider.PlanProvider
	planFallback    provider.PlanProvider
	mirror          PreviewMirror
	publisher       Publisher
	opts            Options
	logger          zerolog.Logger

	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewController(deps Deps, opts Options) *Controller {
	if opts.OperationDeadline <= 0 {
		opts.OperationDeadline = 10 * time.Minute
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxBackgroundJobs <= 0 {
		opts.MaxBackgroundJobs = 16
	}
	if deps.PreviewFallback == nil {
		deps.PreviewFallback = &provider.StubPreview{}
	}
	if deps.Preview == nil {
		deps.Preview = deps.PreviewFallback
	}
	if deps.PlanFallback == nil {
		deps.PlanFallback = &provider.StubPlan{}
	}
	if deps.Plan == nil {
		deps.Plan = deps.PlanFallback
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		store:           deps.Store,
		entitlements:    deps.Entitlements,
		preview:         deps.Preview,
		previewFallback: deps.PreviewFallback,
		plan:            deps.Plan,
		planFallback:    deps.PlanFallback,
		mirror:          deps.Mirror,
		publisher:       deps.Publisher,
		opts:            opts,
		logger:          deps.Logger.With().Str("component", "lifecycle").Logger(),
		sem:             semaphore.NewWeighted(int64(opts.MaxBackgroundJobs)),
		baseCtx:         ctx,
		cancel:          cancel,
	}
}

// Accepted is returned by the fast-accept operations.
type Accepted struct {
	Project     *models.Project
	OperationID uuid.UUID
}

func (c *Controller) CreateProject(ctx context.Context, userID, name string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < minNameLength || n > maxNameLength {
		return nil, errs.Validation("name must be between %d and %d characters", minNameLength, maxNameLength)
	}

	ent, err := c.entitlements.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ent.Remaining == 0 {
		metrics.QuotaDeniedTotal.WithLabelValues("projects").Inc()
		return nil, errs.Permission("project limit reached for the %s plan (%d of %d)", ent.Tier, ent.Used, ent.Quota)
	}

	p := &models.Project{
		UserID:         userID,
		Name:           name,
		Status:         models.StatusDraft,
		CompletedSteps: []int{},
	}
	if err := c.store.CreateProject(ctx, p); err != nil {
		return nil, errs.Storage(err, "failed to create project")
	}

	c.logger.Info().Str("project_id", p.ID.String()).Str("user_id", userID).Msg("project created")
	return p, nil
}

// GetProject returns the project when userID owns it. Foreign projects
// are reported as not found.
func (c *Controller) GetProject(ctx context.Context, projectID uuid.UUID, userID string) (*models.Project, error) {
	p, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, errs.Storage(err, "failed to load project")
	}
	if p.UserID != userID {
		return nil, errs.NotFound("project not found")
	}
	return p, nil
}

func (c *Controller) ListProjects(ctx context.Context, userID string) ([]models.Project, error) {
	projects, err := c.store.ListProjects(ctx, userID)
	if err != nil {
		return nil, errs.Storage(err, "failed to list projects")
	}
	return projects, nil
}

// DeleteProject removes the project row. Background work still running for
// it fails its final write and is logged.
func (c *Controller) DeleteProject(ctx context.Context, projectID uuid.UUID, userID string) error {
	if _, err := c.GetProject(ctx, projectID, userID); err != nil {
		return err
	}
	if err := c.store.DeleteProject(ctx, projectID); err != nil {
		return errs.Storage(err, "failed to delete project")
	}
	return nil
}

func (c *Controller) AttachImage(ctx context.Context, projectID uuid.UUID, userID, imageURL string) (*models.Project, error) {
	imageURL = strings.TrimSpace(imageURL)
	u, err := url.Parse(imageURL)
	if imageURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errs.Validation("image_url must be an absolute http(s) URL")
	}

	p, err := c.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if _, err := Transition(p.Status, EventAttachImage); err != nil {
		return nil, err
	}

	updated, err := c.store.TransitionProject(ctx, projectID, []models.ProjectStatus{p.Status}, store.ProjectUpdate{
		InputImageURL: &imageURL,
	})
	if err != nil {
		return nil, errs.Storage(err, "failed to attach image")
	}
	return updated, nil
}

func (c *Controller) RequestPreview(ctx context.Context, projectID uuid.UUID, userID string, opts provider.PreviewOptions) (*Accepted, error) {
	p, err := c.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !p.InputImageURL.Valid || p.InputImageURL.String == "" {
		return nil, errs.Precondition("attach an image before requesting a preview")
	}

	ent, err := c.entitlements.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ent.PreviewAllowed {
		metrics.QuotaDeniedTotal.WithLabelValues("preview").Inc()
		return nil, errs.Permission("previews are not included in the %s plan", ent.Tier)
	}

	if c.opts.SinglePreviewPerProject && p.PreviewStatus == models.PreviewReady {
		return nil, errs.Conflict("project already has a preview")
	}
	if p.Status.Canonical() == models.StatusPreviewRequested {
		return nil, errs.Conflict("a preview is already being generated")
	}
	to, err := Transition(p.Status, EventRequestPreview)
	if err != nil {
		return nil, err
	}

	op, err := c.createOperation(ctx, p, models.OperationPreview, opts)
	if err != nil {
		return nil, err
	}

	queued := models.PreviewQueued
	updated, err := c.store.TransitionProject(ctx, projectID, []models.ProjectStatus{p.Status}, store.ProjectUpdate{
		Status:        &to,
		PreviewStatus: &queued,
		PreviewURL:    &sql.NullString{},
	})
	if err != nil {
		c.abandon(op, "request lost race")
		return nil, errs.Storage(err, "failed to request preview")
	}

	c.transitioned(EventRequestPreview, updated)
	c.spawn(models.OperationPreview, func(ctx context.Context) { c.runPreview(ctx, op) })

	return &Accepted{Project: updated, OperationID: op.ID}, nil
}

func (c *Controller) RequestPlan(ctx context.Context, projectID uuid.UUID, userID string, opts provider.PlanOptions) (*Accepted, error) {
	p, err := c.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	to, err := Transition(p.Status, EventRequestPlan)
	if err != nil {
		return nil, err
	}

	op, err := c.createOperation(ctx, p, models.OperationPlan, opts)
	if err != nil {
		return nil, err
	}

	updated, err := c.store.TransitionProject(ctx, projectID, []models.ProjectStatus{p.Status}, store.ProjectUpdate{
		Status: &to,
	})
	if err != nil {
		c.abandon(op, "request lost race")
		return nil, errs.Storage(err, "failed to request plan")
	}

	c.transitioned(EventRequestPlan, updated)
	c.spawn(models.OperationPlan, func(ctx context.Context) { c.runPlan(ctx, op) })

	return &Accepted{Project: updated, OperationID: op.ID}, nil
}

// SkipPreview moves the project straight to ready. A preview job still in
// flight for it finds the status changed and is dropped.
func (c *Controller) SkipPreview(ctx context.Context, projectID uuid.UUID, userID string) (*models.Project, error) {
	p, err := c.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	to, err := Transition(p.Status, EventSkipPreview)
	if err != nil {
		return nil, err
	}

	upd := store.ProjectUpdate{Status: &to}
	if p.Status == models.StatusPreviewRequested {
		none := models.PreviewNone
		upd.PreviewStatus = &none
		upd.PreviewURL = &sql.NullString{}
	}
	updated, err := c.store.TransitionProject(ctx, projectID, []models.ProjectStatus{p.Status}, upd)
	if err != nil {
		return nil, errs.Storage(err, "failed to skip preview")
	}
	c.transitioned(EventSkipPreview, updated)
	return updated, nil
}

func (c *Controller) StartBuild(ctx context.Context, projectID uuid.UUID, userID string) (*models.Project, error) {
	p, err := c.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	to, err := Transition(p.Status, EventStartBuild)
	if err != nil {
		return nil, err
	}

	updated, err := c.store.TransitionProject(ctx, projectID, []models.ProjectStatus{p.Status}, store.ProjectUpdate{Status: &to})
	if err != nil {
		return nil, errs.Storage(err, "failed to start build")
	}
	c.transitioned(EventStartBuild, updated)
	return updated, nil
}

// UpdateProgress records which plan steps are done. currentStepIndex may be
// nil to keep the stored value. Indices must address the stored plan's
// steps; completed steps are deduplicated and sorted.
func (c *Controller) UpdateProgress(ctx context.Context, projectID uuid.UUID, userID string, completedSteps []int, currentStepIndex *int) (*models.Project, error) {
	p, err := c.GetProject(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}

	stepCount, err := plan.StepCount(p.PlanJSON)
	if err != nil {
		return nil, errs.Storage(err, "stored plan is unreadable")
	}

	current := p.CurrentStepIndex
	if currentStepIndex != nil {
		current = *currentStepIndex
	}
	if stepCount == 0 {
		if current != 0 {
			return nil, errs.Validation("current_step_index must be 0 when the project has no plan steps")
		}
	} else if current < 0 || current >= stepCount {
		return nil, errs.Validation("current_step_index must be between 0 and %d", stepCount-1)
	}

	steps := make([]int, 0, len(completedSteps))
	for _, s := range completedSteps {
		if s < 0 || s >= stepCount {
			return nil, errs.Validation("completed step %d does not exist", s)
		}
		steps = append(steps, s)
	}
	slices.Sort(steps)
	steps = slices.Compact(steps)

	updated, err := c.store.UpdateProject(ctx, projectID, store.ProjectUpdate{
		CompletedSteps:   &steps,
		CurrentStepIndex: &current,
	})
	if err != nil {
		return nil, errs.Storage(err, "failed to update progress")
	}
	return updated, nil
}

func (c *Controller) createOperation(ctx context.Context, p *models.Project, kind models.OperationKind, options interface{}) (*models.PendingOperation, error) {
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s options: %w", kind, err)
	}
	op := &models.PendingOperation{
		ProjectID: p.ID,
		UserID:    p.UserID,
		Kind:      kind,
		State:     models.OperationPending,
		Options:   raw,
		Deadline:  time.Now().UTC().Add(c.opts.OperationDeadline),
	}
	if err := c.store.CreateOperation(ctx, op); err != nil {
		return nil, errs.Storage(err, "failed to record operation")
	}
	return op, nil
}

func (c *Controller) transitioned(event Event, p *models.Project) {
	metrics.TransitionsTotal.WithLabelValues(string(event), string(p.Status)).Inc()
	c.logger.Info().
		Str("project_id", p.ID.String()).
		Str("event", string(event)).
		Str("status", string(p.Status)).
		Msg("project transitioned")
	c.publish(p)
}

func (c *Controller) publish(p *models.Project) {
	if c.publisher == nil {
		return
	}
	snapshot := *p
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.publisher.PublishProjectStatus(ctx, &snapshot); err != nil {
			c.logger.Warn().Err(err).Str("project_id", snapshot.ID.String()).Msg("failed to publish status")
		}
	}()
}
