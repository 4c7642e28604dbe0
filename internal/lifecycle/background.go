package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/metrics"
	"homeproject-backend/internal/models"
	"homeproject-backend/internal/plan"
	"homeproject-backend/internal/provider"
	"homeproject-backend/internal/store"
)

var errDeadlinePassed = errors.New("operation deadline passed")

// spawn runs fn in the background once a job slot is free. Work that cannot
// start because the controller is stopping stays pending for Resume.
func (c *Controller) spawn(kind models.OperationKind, fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.sem.Acquire(c.baseCtx, 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		gauge := metrics.BackgroundJobsActive.WithLabelValues(string(kind))
		gauge.Inc()
		defer gauge.Dec()

		fn(c.baseCtx)
	}()
}

// Wait blocks until all background work has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Stop cancels background work and waits for it to return. Interrupted
// operations stay pending and are picked up by Resume on the next start.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Resume reloads pending operations and restarts them. Job-based previews
// resume polling their stored job; everything else is dispatched again, or
// answered by the stub when its deadline has passed.
func (c *Controller) Resume(ctx context.Context) (int, error) {
	ops, err := c.store.ListPendingOperations(ctx)
	if err != nil {
		return 0, errs.Storage(err, "failed to list pending operations")
	}

	resumed := 0
	for i := range ops {
		op := ops[i]
		log := c.logger.With().Str("operation_id", op.ID.String()).Str("project_id", op.ProjectID.String()).Logger()

		p, err := c.store.GetProject(ctx, op.ProjectID)
		if errors.Is(err, errs.ErrNotFound) {
			c.abandon(&op, "project deleted")
			continue
		}
		if err != nil {
			return resumed, errs.Storage(err, "failed to load project")
		}

		want := models.StatusPreviewRequested
		if op.Kind == models.OperationPlan {
			want = models.StatusPlanRequested
		}
		if p.Status != want {
			c.abandon(&op, fmt.Sprintf("project moved to %s", p.Status))
			continue
		}

		log.Info().Str("kind", string(op.Kind)).Bool("has_job", op.ProviderJobID.Valid).Msg("resuming operation")
		switch op.Kind {
		case models.OperationPreview:
			c.spawn(op.Kind, func(ctx context.Context) { c.runPreview(ctx, &op) })
		case models.OperationPlan:
			c.spawn(op.Kind, func(ctx context.Context) { c.runPlan(ctx, &op) })
		default:
			c.abandon(&op, "unknown operation kind")
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (c *Controller) runPreview(ctx context.Context, op *models.PendingOperation) {
	log := c.logger.With().
		Str("operation_id", op.ID.String()).
		Str("project_id", op.ProjectID.String()).
		Str("kind", "preview").
		Logger()

	var opts provider.PreviewOptions
	if len(op.Options) > 0 {
		if err := json.Unmarshal(op.Options, &opts); err != nil {
			log.Warn().Err(err).Msg("ignoring unreadable preview options")
		}
	}

	processing := models.PreviewProcessing
	p, err := c.store.TransitionProject(ctx, op.ProjectID, []models.ProjectStatus{models.StatusPreviewRequested}, store.ProjectUpdate{
		PreviewStatus: &processing,
	})
	if err != nil {
		if ctx.Err() == nil {
			c.completionFailed(op, err, c.failPreview)
		}
		return
	}
	imageURL := p.InputImageURL.String

	previewURL, meta, err := c.generatePreview(ctx, op, imageURL, opts)
	if err != nil && ctx.Err() == nil {
		metrics.ProviderFallbacksTotal.WithLabelValues("preview").Inc()
		log.Warn().Err(err).Str("provider", c.preview.Name()).Msg("preview provider failed, using stub")

		var res *provider.PreviewResult
		res, err = c.previewFallback.GeneratePreview(ctx, imageURL, opts)
		if err == nil {
			previewURL = res.PreviewURL
			meta = map[string]interface{}{"fallback": true}
			for k, v := range res.Meta {
				meta[k] = v
			}
		}
	}
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("preview fallback failed")
		c.failPreview(op, err)
		return
	}

	metaJSON, _ := json.Marshal(meta)
	ready := models.PreviewReady
	done := models.StatusPreviewReady
	updated, err := c.store.TransitionProject(ctx, op.ProjectID, Sources(EventPreviewSucceeded), store.ProjectUpdate{
		Status:        &done,
		PreviewStatus: &ready,
		PreviewURL:    &sql.NullString{String: previewURL, Valid: true},
		PreviewMeta:   metaJSON,
	})
	if err != nil {
		c.completionFailed(op, err, c.failPreview)
		return
	}

	c.finish(op, models.OperationDone, "")
	c.transitioned(EventPreviewSucceeded, updated)
}

// generatePreview runs the configured provider, polling a returned job
// until the operation deadline. Results from a remote provider are mirrored
// into storage when a mirror is configured.
func (c *Controller) generatePreview(ctx context.Context, op *models.PendingOperation, imageURL string, opts provider.PreviewOptions) (string, map[string]interface{}, error) {
	if !time.Now().Before(op.Deadline) {
		return "", nil, errDeadlinePassed
	}
	ctx, cancel := context.WithDeadline(ctx, op.Deadline)
	defer cancel()

	started := time.Now()
	defer func() {
		metrics.ProviderDuration.WithLabelValues("preview", c.preview.Name()).Observe(time.Since(started).Seconds())
	}()

	meta := map[string]interface{}{"provider": c.preview.Name()}
	jobID := op.ProviderJobID.String
	var previewURL string

	if !op.ProviderJobID.Valid {
		callCtx, callCancel := context.WithTimeout(ctx, c.opts.ProviderTimeout)
		res, err := c.preview.GeneratePreview(callCtx, imageURL, opts)
		callCancel()
		if err != nil {
			return "", nil, err
		}
		for k, v := range res.Meta {
			meta[k] = v
		}
		previewURL = res.PreviewURL
		jobID = res.JobID
		if jobID != "" {
			if err := c.store.SetOperationJob(ctx, op.ID, jobID); err != nil {
				c.logger.Warn().Err(err).Str("operation_id", op.ID.String()).Msg("failed to record provider job")
			}
			op.ProviderJobID = sql.NullString{String: jobID, Valid: true}
		}
	}

	if previewURL == "" {
		var err error
		previewURL, err = c.pollPreview(ctx, jobID)
		if err != nil {
			return "", nil, err
		}
		meta["job_id"] = jobID
	}

	if c.mirror != nil && c.preview.Name() != c.previewFallback.Name() {
		mirrored, err := c.mirror.MirrorPreview(ctx, op.UserID, op.ProjectID, previewURL)
		if err != nil {
			c.logger.Warn().Err(err).Str("operation_id", op.ID.String()).Msg("failed to mirror preview, keeping provider url")
		} else {
			meta["source_url"] = previewURL
			previewURL = mirrored
		}
	}
	return previewURL, meta, nil
}

func (c *Controller) pollPreview(ctx context.Context, jobID string) (string, error) {
	poller, ok := c.preview.(provider.JobPoller)
	if !ok || jobID == "" {
		return "", fmt.Errorf("provider %s returned no preview and cannot be polled", c.preview.Name())
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		res, err := poller.PollPreview(ctx, jobID)
		if err != nil {
			return "", err
		}
		switch res.Status {
		case provider.JobDone:
			return res.PreviewURL, nil
		case provider.JobFailed:
			return "", fmt.Errorf("%w: %s", provider.ErrJobFailed, res.Error)
		}
	}
}

func (c *Controller) failPreview(op *models.PendingOperation, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := models.StatusPreviewError
	previewStatus := models.PreviewError
	meta, _ := json.Marshal(map[string]string{"error": cause.Error()})
	updated, err := c.store.TransitionProject(ctx, op.ProjectID, Sources(EventPreviewFailed), store.ProjectUpdate{
		Status:        &status,
		PreviewStatus: &previewStatus,
		PreviewURL:    &sql.NullString{},
		PreviewMeta:   meta,
	})
	c.finish(op, models.OperationFailed, cause.Error())
	if err != nil {
		c.logger.Error().Err(err).Str("project_id", op.ProjectID.String()).Msg("failed to record preview error")
		return
	}
	c.transitioned(EventPreviewFailed, updated)
}

func (c *Controller) runPlan(ctx context.Context, op *models.PendingOperation) {
	log := c.logger.With().
		Str("operation_id", op.ID.String()).
		Str("project_id", op.ProjectID.String()).
		Str("kind", "plan").
		Logger()

	var opts provider.PlanOptions
	if len(op.Options) > 0 {
		if err := json.Unmarshal(op.Options, &opts); err != nil {
			log.Warn().Err(err).Msg("ignoring unreadable plan options")
		}
	}

	normalized, err := c.generatePlan(ctx, op, c.plan, opts)
	if err != nil && ctx.Err() == nil {
		metrics.ProviderFallbacksTotal.WithLabelValues("plan").Inc()
		log.Warn().Err(err).Str("provider", c.plan.Name()).Msg("plan provider failed, using stub")
		normalized, err = c.generatePlan(ctx, nil, c.planFallback, opts)
	}
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("plan fallback failed")
		c.failPlan(op, err)
		return
	}

	planJSON, err := normalized.JSON()
	if err != nil {
		c.failPlan(op, err)
		return
	}

	done := models.StatusPlanReady
	zero := 0
	none := []int{}
	updated, err := c.store.TransitionProject(ctx, op.ProjectID, Sources(EventPlanSucceeded), store.ProjectUpdate{
		Status:           &done,
		PlanJSON:         planJSON,
		CompletedSteps:   &none,
		CurrentStepIndex: &zero,
	})
	if err != nil {
		c.completionFailed(op, err, c.failPlan)
		return
	}

	c.finish(op, models.OperationDone, "")
	c.transitioned(EventPlanSucceeded, updated)
}

// generatePlan calls p and normalizes its output. A nil op means no
// deadline applies.
func (c *Controller) generatePlan(ctx context.Context, op *models.PendingOperation, p provider.PlanProvider, opts provider.PlanOptions) (*plan.Plan, error) {
	if op != nil {
		if !time.Now().Before(op.Deadline) {
			return nil, errDeadlinePassed
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, op.Deadline)
		defer cancel()
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ProviderTimeout)
	defer cancel()

	started := time.Now()
	raw, err := p.GeneratePlan(ctx, opts)
	metrics.ProviderDuration.WithLabelValues("plan", p.Name()).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	normalized, err := plan.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize plan: %w", err)
	}
	if len(normalized.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	return normalized, nil
}

func (c *Controller) failPlan(op *models.PendingOperation, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := models.StatusPlanError
	updated, err := c.store.TransitionProject(ctx, op.ProjectID, Sources(EventPlanFailed), store.ProjectUpdate{
		Status: &status,
	})
	c.finish(op, models.OperationFailed, cause.Error())
	if err != nil {
		c.logger.Error().Err(err).Str("project_id", op.ProjectID.String()).Msg("failed to record plan error")
		return
	}
	c.transitioned(EventPlanFailed, updated)
}

// completionFailed handles a failed final write. A deleted project or a
// status changed underneath the job only closes the operation; any other
// storage failure moves the project to its error state.
func (c *Controller) completionFailed(op *models.PendingOperation, err error, fail func(*models.PendingOperation, error)) {
	log := c.logger.With().Str("operation_id", op.ID.String()).Str("project_id", op.ProjectID.String()).Logger()
	switch {
	case errors.Is(err, errs.ErrNotFound):
		log.Warn().Msg("project deleted before completion")
		c.abandon(op, "project deleted")
	case errors.Is(err, errs.ErrConflict):
		log.Warn().Err(err).Msg("project status changed before completion")
		c.abandon(op, err.Error())
	default:
		log.Error().Err(err).Msg("failed to store result")
		fail(op, err)
	}
}

func (c *Controller) abandon(op *models.PendingOperation, reason string) {
	c.finish(op, models.OperationFailed, reason)
}

func (c *Controller) finish(op *models.PendingOperation, state models.OperationState, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.store.FinishOperation(ctx, op.ID, state, reason); err != nil {
		c.logger.Warn().Err(err).Str("operation_id", op.ID.String()).Msg("failed to close operation")
	}
}
