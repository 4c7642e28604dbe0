package supabase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/models"
	"homeproject-backend/internal/store"
)

// DatabaseClient is the Store backed by the Supabase Postgres instance.
type DatabaseClient struct {
	db *sql.DB
}

var _ store.Store = (*DatabaseClient)(nil)

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}

// pgError translates driver errors into errs kinds.
func pgError(err error, action string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("%s: not found", action)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return &errs.Error{Kind: errs.ErrConflict, Message: action + ": already exists", Cause: err}
		case "23503": // foreign_key_violation
			return &errs.Error{Kind: errs.ErrNotFound, Message: action + ": referenced row missing", Cause: err}
		case "22P02": // invalid_text_representation
			return &errs.Error{Kind: errs.ErrValidation, Message: action + ": malformed identifier", Cause: err}
		}
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

type scanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id, user_id, name, status, input_image_url, preview_url, preview_status,
	preview_meta, plan_json, completed_steps, current_step_index, created_at, updated_at`

func scanProject(row scanner) (*models.Project, error) {
	var (
		p             models.Project
		status        string
		previewStatus string
		meta          []byte
		planJSON      []byte
		steps         pq.Int64Array
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &status, &p.InputImageURL, &p.PreviewURL, &previewStatus,
		&meta, &planJSON, &steps, &p.CurrentStepIndex, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = models.ProjectStatus(status)
	p.PreviewStatus = models.PreviewStatus(previewStatus)
	p.PreviewMeta = meta
	p.PlanJSON = planJSON
	p.CompletedSteps = make([]int, len(steps))
	for i, s := range steps {
		p.CompletedSteps[i] = int(s)
	}
	return &p, nil
}

func jsonArg(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	// lib/pq sends []byte as bytea; jsonb wants text.
	return string(raw)
}

func (d *DatabaseClient) CreateProject(ctx context.Context, p *models.Project) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, user_id, name, status, input_image_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+projectColumns,
		p.ID, p.UserID, p.Name, string(p.Status), p.InputImageURL,
	)
	created, err := scanProject(row)
	if err != nil {
		return pgError(err, "create project")
	}
	*p = *created
	return nil
}

func (d *DatabaseClient) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if err != nil {
		return nil, pgError(err, "get project")
	}
	return p, nil
}

func (d *DatabaseClient) ListProjects(ctx context.Context, userID string) ([]models.Project, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, pgError(err, "list projects")
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (d *DatabaseClient) CountProjects(ctx context.Context, userID string) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, pgError(err, "count projects")
	}
	return count, nil
}

func (d *DatabaseClient) UpdateProject(ctx context.Context, id uuid.UUID, upd store.ProjectUpdate) (*models.Project, error) {
	return d.TransitionProject(ctx, id, nil, upd)
}

func (d *DatabaseClient) TransitionProject(ctx context.Context, id uuid.UUID, from []models.ProjectStatus, upd store.ProjectUpdate) (*models.Project, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if upd.InputImageURL != nil {
		set("input_image_url", *upd.InputImageURL)
	}
	if upd.PreviewURL != nil {
		set("preview_url", *upd.PreviewURL)
	}
	if upd.PreviewStatus != nil {
		set("preview_status", string(*upd.PreviewStatus))
	}
	if upd.PreviewMeta != nil {
		set("preview_meta", jsonArg(upd.PreviewMeta))
	}
	if upd.PlanJSON != nil {
		set("plan_json", jsonArg(upd.PlanJSON))
	}
	if upd.CompletedSteps != nil {
		steps := make(pq.Int64Array, len(*upd.CompletedSteps))
		for i, s := range *upd.CompletedSteps {
			steps[i] = int64(s)
		}
		set("completed_steps", steps)
	}
	if upd.CurrentStepIndex != nil {
		set("current_step_index", *upd.CurrentStepIndex)
	}

	if len(sets) == 0 {
		return d.GetProject(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE projects SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	if from != nil {
		statuses := make([]string, len(from))
		for i, s := range from {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	query += " RETURNING " + projectColumns

	p, err := scanProject(d.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) && from != nil {
		current, getErr := d.GetProject(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, errs.Conflict("project status is %s", current.Status)
	}
	if err != nil {
		return nil, pgError(err, "update project")
	}
	return p, nil
}

func (d *DatabaseClient) DeleteProject(ctx context.Context, id uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return pgError(err, "delete project")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound("project not found")
	}
	return nil
}

const profileColumns = `user_id, plan_tier, stripe_customer_id, stripe_subscription_id,
	subscription_status, current_period_end, created_at, updated_at`

func scanProfile(row scanner) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(
		&p.UserID, &p.PlanTier, &p.StripeCustomerID, &p.StripeSubscriptionID,
		&p.SubscriptionStatus, &p.CurrentPeriodEnd, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *DatabaseClient) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID)
	p, err := scanProfile(row)
	if err != nil {
		return nil, pgError(err, "get profile")
	}
	return p, nil
}

func (d *DatabaseClient) EnsureProfile(ctx context.Context, userID string, tier models.Tier) (*models.Profile, error) {
	// ON CONFLICT DO NOTHING keeps concurrent first requests from failing.
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, plan_tier)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, string(tier))
	if err != nil {
		return nil, pgError(err, "create profile")
	}
	return d.GetProfile(ctx, userID)
}

func (d *DatabaseClient) LinkCustomer(ctx context.Context, userID, customerID, subscriptionID string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, plan_tier, stripe_customer_id, stripe_subscription_id)
		VALUES ($1, 'free', NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (user_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, profiles.stripe_subscription_id)
	`, userID, customerID, subscriptionID)
	if err != nil {
		return pgError(err, "link customer")
	}
	return nil
}

func (d *DatabaseClient) UpdateSubscription(ctx context.Context, customerID string, upd store.SubscriptionUpdate) (*models.Profile, error) {
	row := d.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET stripe_subscription_id = NULLIF($2, ''),
			subscription_status = NULLIF($3, ''),
			plan_tier = $4,
			current_period_end = $5
		WHERE stripe_customer_id = $1
		RETURNING `+profileColumns,
		customerID, upd.SubscriptionID, upd.Status, string(upd.Tier), upd.CurrentPeriodEnd,
	)
	p, err := scanProfile(row)
	if err != nil {
		return nil, pgError(err, "update subscription")
	}
	return p, nil
}

const operationColumns = `id, project_id, user_id, kind, state, provider_job_id, options,
	deadline, error_message, created_at, updated_at`

func scanOperation(row scanner) (*models.PendingOperation, error) {
	var (
		op      models.PendingOperation
		kind    string
		state   string
		options []byte
	)
	err := row.Scan(
		&op.ID, &op.ProjectID, &op.UserID, &kind, &state, &op.ProviderJobID, &options,
		&op.Deadline, &op.ErrorMessage, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	op.Kind = models.OperationKind(kind)
	op.State = models.OperationState(state)
	op.Options = options
	return &op, nil
}

func (d *DatabaseClient) CreateOperation(ctx context.Context, op *models.PendingOperation) error {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.State == "" {
		op.State = models.OperationPending
	}
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO pending_operations (id, project_id, user_id, kind, state, options, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+operationColumns,
		op.ID, op.ProjectID, op.UserID, string(op.Kind), string(op.State), jsonArg(op.Options), op.Deadline,
	)
	created, err := scanOperation(row)
	if err != nil {
		return pgError(err, "create operation")
	}
	*op = *created
	return nil
}

func (d *DatabaseClient) SetOperationJob(ctx context.Context, id uuid.UUID, jobID string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE pending_operations SET provider_job_id = $1 WHERE id = $2
	`, jobID, id)
	if err != nil {
		return pgError(err, "set operation job")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound("operation not found")
	}
	return nil
}

func (d *DatabaseClient) FinishOperation(ctx context.Context, id uuid.UUID, state models.OperationState, errMsg string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE pending_operations SET state = $1, error_message = NULLIF($2, '') WHERE id = $3
	`, string(state), errMsg, id)
	if err != nil {
		return pgError(err, "finish operation")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound("operation not found")
	}
	return nil
}

func (d *DatabaseClient) ListPendingOperations(ctx context.Context) ([]models.PendingOperation, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+operationColumns+`
		FROM pending_operations
		WHERE state = 'pending'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, pgError(err, "list pending operations")
	}
	defer rows.Close()

	var ops []models.PendingOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

const scanColumns = `id, project_id, user_id, measure_status, measure_result, created_at, updated_at`

func scanRoomScan(row scanner) (*models.RoomScan, error) {
	var (
		s      models.RoomScan
		result []byte
	)
	if err := row.Scan(&s.ID, &s.ProjectID, &s.UserID, &s.MeasureStatus, &result, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.MeasureResult = result
	return &s, nil
}

func (d *DatabaseClient) CreateScan(ctx context.Context, s *models.RoomScan) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO room_scans (id, project_id, user_id, measure_status, measure_result)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+scanColumns,
		s.ID, s.ProjectID, s.UserID, s.MeasureStatus, jsonArg(s.MeasureResult),
	)
	created, err := scanRoomScan(row)
	if err != nil {
		return pgError(err, "create scan")
	}
	*s = *created
	return nil
}

func (d *DatabaseClient) GetScan(ctx context.Context, id uuid.UUID) (*models.RoomScan, error) {
	s, err := scanRoomScan(d.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM room_scans WHERE id = $1`, id))
	if err != nil {
		return nil, pgError(err, "get scan")
	}
	return s, nil
}

func (d *DatabaseClient) ListScans(ctx context.Context, projectID uuid.UUID) ([]models.RoomScan, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+scanColumns+`
		FROM room_scans
		WHERE project_id = $1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, pgError(err, "list scans")
	}
	defer rows.Close()

	var scans []models.RoomScan
	for rows.Next() {
		s, err := scanRoomScan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room scan: %w", err)
		}
		scans = append(scans, *s)
	}
	return scans, rows.Err()
}

func (d *DatabaseClient) UpdateScan(ctx context.Context, id uuid.UUID, status string, result json.RawMessage) (*models.RoomScan, error) {
	row := d.db.QueryRowContext(ctx, `
		UPDATE room_scans
		SET measure_status = $1, measure_result = COALESCE($2::jsonb, measure_result)
		WHERE id = $3
		RETURNING `+scanColumns,
		status, jsonArg(result), id,
	)
	s, err := scanRoomScan(row)
	if err != nil {
		return nil, pgError(err, "update scan")
	}
	return s, nil
}
