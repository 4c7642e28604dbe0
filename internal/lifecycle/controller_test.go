package lifecycle_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"homeproject-backend/internal/entitlement"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/lifecycle"
	"homeproject-backend/internal/models"
	"homeproject-backend/internal/plan"
	"homeproject-backend/internal/provider"
	"homeproject-backend/internal/store"
)

const (
	owner    = "0b7c6a4e-6d0e-4c55-8f3e-2f4f1c6d9a01"
	stranger = "9e2d0c1a-3b4f-4a8e-9c7d-6e5f4a3b2c10"
	imageURL = "https://images.example.com/kitchen.jpg"
)

type harness struct {
	t          *testing.T
	mem        *store.Memory
	controller *lifecycle.Controller
}

type setup struct {
	st      store.Store
	preview provider.PreviewProvider
	plan    provider.PlanProvider
	mirror  lifecycle.PreviewMirror
	opts    lifecycle.Options
}

func newHarness(t *testing.T, mem *store.Memory, s setup) *harness {
	t.Helper()
	if s.st == nil {
		s.st = mem
	}
	if s.opts.PollInterval == 0 {
		s.opts.PollInterval = time.Millisecond
	}
	resolver := entitlement.NewResolver(s.st, entitlement.Options{}, zerolog.Nop())
	c := lifecycle.NewController(lifecycle.Deps{
		Store:           s.st,
		Entitlements:    resolver,
		Preview:         s.preview,
		PreviewFallback: &provider.StubPreview{Delay: 5 * time.Millisecond},
		Plan:            s.plan,
		PlanFallback:    &provider.StubPlan{Delay: 2 * time.Millisecond},
		Mirror:          s.mirror,
		Logger:          zerolog.Nop(),
	}, s.opts)
	t.Cleanup(c.Stop)
	return &harness{t: t, mem: mem, controller: c}
}

func setTier(t *testing.T, mem *store.Memory, user string, tier models.Tier) {
	t.Helper()
	ctx := context.Background()
	_, err := mem.EnsureProfile(ctx, user, models.TierFree)
	require.NoError(t, err)
	require.NoError(t, mem.LinkCustomer(ctx, user, "cus_"+user, ""))
	_, err = mem.UpdateSubscription(ctx, "cus_"+user, store.SubscriptionUpdate{Tier: tier, Status: "active"})
	require.NoError(t, err)
}

// projectWithImage creates a project for owner with an attached image.
func (h *harness) projectWithImage() *models.Project {
	h.t.Helper()
	ctx := context.Background()
	p, err := h.controller.CreateProject(ctx, owner, "Kitchen refresh")
	require.NoError(h.t, err)
	p, err = h.controller.AttachImage(ctx, p.ID, owner, imageURL)
	require.NoError(h.t, err)
	return p
}

func (h *harness) reload(id uuid.UUID) *models.Project {
	h.t.Helper()
	p, err := h.mem.GetProject(context.Background(), id)
	require.NoError(h.t, err)
	return p
}

type failingPreview struct{ calls int32 }

func (f *failingPreview) Name() string { return "remote" }

func (f *failingPreview) GeneratePreview(context.Context, string, provider.PreviewOptions) (*provider.PreviewResult, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, errors.New("upstream 503")
}

type blockingPreview struct{ release chan struct{} }

func (b *blockingPreview) Name() string { return "remote" }

func (b *blockingPreview) GeneratePreview(ctx context.Context, _ string, _ provider.PreviewOptions) (*provider.PreviewResult, error) {
	select {
	case <-b.release:
		return &provider.PreviewResult{PreviewURL: "https://gen.example.com/blocked.jpg"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type jobPreview struct {
	creates int32
	polls   int32
}

func (j *jobPreview) Name() string { return "remote" }

func (j *jobPreview) GeneratePreview(context.Context, string, provider.PreviewOptions) (*provider.PreviewResult, error) {
	atomic.AddInt32(&j.creates, 1)
	return &provider.PreviewResult{JobID: "job-7"}, nil
}

func (j *jobPreview) PollPreview(_ context.Context, jobID string) (*provider.JobResult, error) {
	if atomic.AddInt32(&j.polls, 1) < 3 {
		return &provider.JobResult{Status: provider.JobProcessing}, nil
	}
	return &provider.JobResult{Status: provider.JobDone, PreviewURL: "https://gen.example.com/" + jobID + ".jpg"}, nil
}

type recordingMirror struct {
	mu   sync.Mutex
	urls []string
}

func (m *recordingMirror) MirrorPreview(_ context.Context, userID string, projectID uuid.UUID, remoteURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, remoteURL)
	return "https://storage.example.com/users/" + userID + "/projects/" + projectID.String() + "/preview.jpg", nil
}

type failingPlan struct{}

func (failingPlan) Name() string { return "llm" }

func (failingPlan) GeneratePlan(context.Context, provider.PlanOptions) (interface{}, error) {
	return "not json at all", nil
}

// brokenCompletion fails the final successful write of a preview.
type brokenCompletion struct {
	*store.Memory
}

func (b brokenCompletion) TransitionProject(ctx context.Context, id uuid.UUID, from []models.ProjectStatus, upd store.ProjectUpdate) (*models.Project, error) {
	if upd.Status != nil && *upd.Status == models.StatusPreviewReady {
		return nil, errors.New("disk full")
	}
	return b.Memory.TransitionProject(ctx, id, from, upd)
}

func TestCreateProject_NameValidation(t *testing.T) {
	h := newHarness(t, store.NewMemory(), setup{})

	for _, name := range []string{"", " a ", strings.Repeat("a", 121)} {
		_, err := h.controller.CreateProject(context.Background(), owner, name)
		assert.ErrorIs(t, err, errs.ErrValidation, "name %q", name)
	}

	p, err := h.controller.CreateProject(context.Background(), owner, "  Deck  ")
	require.NoError(t, err)
	assert.Equal(t, "Deck", p.Name)
	assert.Equal(t, models.StatusDraft, p.Status)
}

func TestCreateProject_QuotaExhausted(t *testing.T) {
	h := newHarness(t, store.NewMemory(), setup{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.controller.CreateProject(ctx, owner, "Project")
		require.NoError(t, err)
	}

	_, err := h.controller.CreateProject(ctx, owner, "One too many")
	assert.ErrorIs(t, err, errs.ErrPermission)

	count, err := h.mem.CountProjects(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAttachImage(t *testing.T) {
	h := newHarness(t, store.NewMemory(), setup{})
	ctx := context.Background()
	p, err := h.controller.CreateProject(ctx, owner, "Bath")
	require.NoError(t, err)

	for _, bad := range []string{"", "ftp://x/y.jpg", "/relative.jpg", "https://"} {
		_, err := h.controller.AttachImage(ctx, p.ID, owner, bad)
		assert.ErrorIs(t, err, errs.ErrValidation, "url %q", bad)
	}

	_, err = h.controller.AttachImage(ctx, p.ID, stranger, imageURL)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	updated, err := h.controller.AttachImage(ctx, p.ID, owner, imageURL)
	require.NoError(t, err)
	assert.Equal(t, imageURL, updated.InputImageURL.String)
	assert.Equal(t, models.StatusDraft, updated.Status)
}

func TestRequestPreview_EndToEnd(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierCasual)
	h := newHarness(t, mem, setup{})
	p := h.projectWithImage()

	accepted, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{Style: "modern"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreviewRequested, accepted.Project.Status)
	assert.Equal(t, models.PreviewQueued, accepted.Project.PreviewStatus)
	assert.False(t, accepted.Project.PreviewURL.Valid)

	h.controller.Wait()

	final := h.reload(p.ID)
	assert.Equal(t, models.StatusPreviewReady, final.Status)
	assert.Equal(t, models.PreviewReady, final.PreviewStatus)
	assert.True(t, final.PreviewURL.Valid)
	assert.Equal(t, imageURL, final.PreviewURL.String)

	op, ok := mem.Operation(accepted.OperationID)
	require.True(t, ok)
	assert.Equal(t, models.OperationDone, op.State)
}

func TestRequestPreview_FreeTierRejected(t *testing.T) {
	h := newHarness(t, store.NewMemory(), setup{})
	p := h.projectWithImage()

	_, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	assert.ErrorIs(t, err, errs.ErrPermission)

	assert.Equal(t, models.StatusDraft, h.reload(p.ID).Status)
}

func TestRequestPreview_NeedsImage(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierPro)
	h := newHarness(t, mem, setup{})

	p, err := h.controller.CreateProject(context.Background(), owner, "Garage")
	require.NoError(t, err)

	_, err = h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	assert.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Equal(t, models.StatusDraft, h.reload(p.ID).Status)
}

func TestRequestPreview_ForeignProjectNotFound(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, stranger, models.TierPro)
	h := newHarness(t, mem, setup{})
	p := h.projectWithImage()

	_, err := h.controller.RequestPreview(context.Background(), p.ID, stranger, provider.PreviewOptions{})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRequestPreview_SecondRequestConflicts(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierCasual)
	blocker := &blockingPreview{release: make(chan struct{})}
	h := newHarness(t, mem, setup{preview: blocker})
	p := h.projectWithImage()

	_, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	require.NoError(t, err)

	_, err = h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	assert.ErrorIs(t, err, errs.ErrConflict)

	close(blocker.release)
	h.controller.Wait()

	final := h.reload(p.ID)
	assert.Equal(t, models.StatusPreviewReady, final.Status)
	assert.Equal(t, "https://gen.example.com/blocked.jpg", final.PreviewURL.String)
}

func TestRequestPreview_ProviderFailureFallsBackToStub(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierCasual)
	failing := &failingPreview{}
	h := newHarness(t, mem, setup{preview: failing})
	p := h.projectWithImage()

	_, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	require.NoError(t, err)
	h.controller.Wait()

	final := h.reload(p.ID)
	assert.Equal(t, models.StatusPreviewReady, final.Status)
	assert.Equal(t, imageURL, final.PreviewURL.String)
	assert.EqualValues(t, 1, atomic.LoadInt32(&failing.calls))

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(final.PreviewMeta, &meta))
	assert.Equal(t, true, meta["fallback"])
}

func TestRequestPreview_JobPolledAndMirrored(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierPro)
	jobs := &jobPreview{}
	mirror := &recordingMirror{}
	h := newHarness(t, mem, setup{preview: jobs, mirror: mirror})
	p := h.projectWithImage()

	accepted, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	require.NoError(t, err)
	h.controller.Wait()

	final := h.reload(p.ID)
	assert.Equal(t, models.StatusPreviewReady, final.Status)
	assert.Contains(t, final.PreviewURL.String, "https://storage.example.com/users/"+owner)
	assert.Equal(t, []string{"https://gen.example.com/job-7.jpg"}, mirror.urls)
	assert.EqualValues(t, 3, atomic.LoadInt32(&jobs.polls))

	op, ok := mem.Operation(accepted.OperationID)
	require.True(t, ok)
	assert.Equal(t, "job-7", op.ProviderJobID.String)
}

func TestRequestPreview_SinglePreviewPolicy(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierCasual)
	h := newHarness(t, mem, setup{opts: lifecycle.Options{SinglePreviewPerProject: true}})
	p := h.projectWithImage()

	_, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	require.NoError(t, err)
	h.controller.Wait()

	_, err = h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, models.StatusPreviewReady, h.reload(p.ID).Status)
}

func TestRequestPreview_RegenerateAllowedByDefault(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierCasual)
	h := newHarness(t, mem, setup{})
	p := h.projectWithImage()

	for i := 0; i < 2; i++ {
		_, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
		require.NoError(t, err)
		h.controller.Wait()
	}
	assert.Equal(t, models.StatusPreviewReady, h.reload(p.ID).Status)
}

func TestRequestPreview_StorageFailureDrivesError(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierCasual)
	h := newHarness(t, mem, setup{st: brokenCompletion{mem}})
	p := h.projectWithImage()

	accepted, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	require.NoError(t, err)
	h.controller.Wait()

	final := h.reload(p.ID)
	assert.Equal(t, models.StatusPreviewError, final.Status)
	assert.Equal(t, models.PreviewError, final.PreviewStatus)
	assert.False(t, final.PreviewURL.Valid)

	op, ok := mem.Operation(accepted.OperationID)
	require.True(t, ok)
	assert.Equal(t, models.OperationFailed, op.State)
}

func TestRequestPreview_ProjectDeletedMidFlight(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierCasual)
	blocker := &blockingPreview{release: make(chan struct{})}
	h := newHarness(t, mem, setup{preview: blocker})
	p := h.projectWithImage()

	accepted, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	require.NoError(t, err)
	require.NoError(t, h.controller.DeleteProject(context.Background(), p.ID, owner))

	close(blocker.release)
	h.controller.Wait()

	op, ok := mem.Operation(accepted.OperationID)
	require.True(t, ok)
	assert.Equal(t, models.OperationFailed, op.State)
}

func TestRequestPlan_NormalizesAndResetsProgress(t *testing.T) {
	mem := store.NewMemory()
	h := newHarness(t, mem, setup{})
	ctx := context.Background()
	p, err := h.controller.CreateProject(ctx, owner, "Paint bedroom")
	require.NoError(t, err)

	accepted, err := h.controller.RequestPlan(ctx, p.ID, owner, provider.PlanOptions{Description: "Paint bedroom"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlanRequested, accepted.Project.Status)

	_, err = h.controller.RequestPlan(ctx, p.ID, owner, provider.PlanOptions{})
	assert.ErrorIs(t, err, errs.ErrConflict)

	h.controller.Wait()

	final := h.reload(p.ID)
	assert.Equal(t, models.StatusPlanReady, final.Status)
	assert.Equal(t, []int{}, final.CompletedSteps)
	assert.Equal(t, 0, final.CurrentStepIndex)

	steps, err := plan.StepCount(final.PlanJSON)
	require.NoError(t, err)
	assert.Equal(t, 6, steps)
}

func TestRequestPlan_BadProviderOutputUsesStub(t *testing.T) {
	mem := store.NewMemory()
	h := newHarness(t, mem, setup{plan: failingPlan{}})
	ctx := context.Background()
	p, err := h.controller.CreateProject(ctx, owner, "Shelves")
	require.NoError(t, err)

	_, err = h.controller.RequestPlan(ctx, p.ID, owner, provider.PlanOptions{})
	require.NoError(t, err)
	h.controller.Wait()

	final := h.reload(p.ID)
	assert.Equal(t, models.StatusPlanReady, final.Status)
	assert.NotEmpty(t, final.PlanJSON)
}

func TestSkipPreviewAndStartBuild(t *testing.T) {
	h := newHarness(t, store.NewMemory(), setup{})
	ctx := context.Background()
	p, err := h.controller.CreateProject(ctx, owner, "Fence")
	require.NoError(t, err)

	_, err = h.controller.StartBuild(ctx, p.ID, owner)
	assert.ErrorIs(t, err, errs.ErrConflict)

	ready, err := h.controller.SkipPreview(ctx, p.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, ready.Status)

	building, err := h.controller.StartBuild(ctx, p.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, building.Status)
}

func TestSkipPreview_DropsInFlightPreview(t *testing.T) {
	mem := store.NewMemory()
	setTier(t, mem, owner, models.TierCasual)
	blocker := &blockingPreview{release: make(chan struct{})}
	h := newHarness(t, mem, setup{preview: blocker})
	p := h.projectWithImage()

	accepted, err := h.controller.RequestPreview(context.Background(), p.ID, owner, provider.PreviewOptions{})
	require.NoError(t, err)

	// Wait for the job to mark the preview as processing before skipping.
	require.Eventually(t, func() bool {
		return h.reload(p.ID).PreviewStatus == models.PreviewProcessing
	}, time.Second, time.Millisecond)

	skipped, err := h.controller.SkipPreview(context.Background(), p.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, skipped.Status)

	close(blocker.release)
	h.controller.Wait()

	final := h.reload(p.ID)
	assert.Equal(t, models.StatusReady, final.Status)
	assert.False(t, final.PreviewURL.Valid)

	op, _ := mem.Operation(accepted.OperationID)
	assert.Equal(t, models.OperationFailed, op.State)
}

func TestUpdateProgress(t *testing.T) {
	mem := store.NewMemory()
	h := newHarness(t, mem, setup{})
	ctx := context.Background()
	p, err := h.controller.CreateProject(ctx, owner, "Tile backsplash")
	require.NoError(t, err)

	zero, one, six := 0, 1, 6

	_, err = h.controller.UpdateProgress(ctx, p.ID, owner, nil, &one)
	assert.ErrorIs(t, err, errs.ErrValidation, "no steps yet")

	_, err = h.controller.UpdateProgress(ctx, p.ID, owner, []int{}, &zero)
	require.NoError(t, err)

	_, err = h.controller.RequestPlan(ctx, p.ID, owner, provider.PlanOptions{})
	require.NoError(t, err)
	h.controller.Wait()

	_, err = h.controller.UpdateProgress(ctx, p.ID, owner, []int{0}, &six)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.controller.UpdateProgress(ctx, p.ID, owner, []int{7}, &one)
	assert.ErrorIs(t, err, errs.ErrValidation)

	updated, err := h.controller.UpdateProgress(ctx, p.ID, owner, []int{2, 0, 2, 1}, &one)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, updated.CompletedSteps)
	assert.Equal(t, 1, updated.CurrentStepIndex)

	kept, err := h.controller.UpdateProgress(ctx, p.ID, owner, []int{0}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, kept.CurrentStepIndex)
}

func TestResume(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	pending := &models.Project{
		UserID:        owner,
		Name:          "Interrupted",
		Status:        models.StatusPreviewRequested,
		PreviewStatus: models.PreviewQueued,
	}
	require.NoError(t, mem.CreateProject(ctx, pending))
	_, err := mem.UpdateProject(ctx, pending.ID, store.ProjectUpdate{InputImageURL: ptr(imageURL)})
	require.NoError(t, err)

	live := &models.PendingOperation{
		ProjectID: pending.ID,
		UserID:    owner,
		Kind:      models.OperationPreview,
		Deadline:  time.Now().Add(time.Minute),
	}
	require.NoError(t, mem.CreateOperation(ctx, live))

	orphan := &models.PendingOperation{
		ProjectID: uuid.New(),
		UserID:    owner,
		Kind:      models.OperationPlan,
		Deadline:  time.Now().Add(-time.Minute),
	}
	require.NoError(t, mem.CreateOperation(ctx, orphan))

	h := newHarness(t, mem, setup{})
	resumed, err := h.controller.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)
	h.controller.Wait()

	final := h.reload(pending.ID)
	assert.Equal(t, models.StatusPreviewReady, final.Status)
	assert.Equal(t, imageURL, final.PreviewURL.String)

	op, _ := mem.Operation(live.ID)
	assert.Equal(t, models.OperationDone, op.State)
	op, _ = mem.Operation(orphan.ID)
	assert.Equal(t, models.OperationFailed, op.State)
}

func TestResume_PastDeadlineUsesStub(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	failing := &failingPreview{}

	p := &models.Project{UserID: owner, Name: "Late", Status: models.StatusPreviewRequested}
	require.NoError(t, mem.CreateProject(ctx, p))
	_, err := mem.UpdateProject(ctx, p.ID, store.ProjectUpdate{InputImageURL: ptr(imageURL)})
	require.NoError(t, err)
	require.NoError(t, mem.CreateOperation(ctx, &models.PendingOperation{
		ProjectID: p.ID,
		UserID:    owner,
		Kind:      models.OperationPreview,
		Deadline:  time.Now().Add(-time.Second),
	}))

	h := newHarness(t, mem, setup{preview: failing})
	_, err = h.controller.Resume(ctx)
	require.NoError(t, err)
	h.controller.Wait()

	assert.Equal(t, models.StatusPreviewReady, h.reload(p.ID).Status)
	assert.EqualValues(t, 0, atomic.LoadInt32(&failing.calls))
}

func ptr[T any](v T) *T { return &v }
