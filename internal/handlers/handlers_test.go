package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"homeproject-backend/internal/billing"
	"homeproject-backend/internal/entitlement"
	"homeproject-backend/internal/handlers"
	"homeproject-backend/internal/lifecycle"
	"homeproject-backend/internal/middleware"
	"homeproject-backend/internal/models"
	"homeproject-backend/internal/provider"
	"homeproject-backend/internal/store"
	"homeproject-backend/internal/suggestions"
)

const (
	jwtSecret     = "test-jwt-secret-with-enough-length-1234"
	webhookSecret = "whsec_handlers"
	alice         = "a11ce000-0000-4000-8000-000000000001"
	bob           = "b0b00000-0000-4000-8000-000000000002"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeFiles struct {
	stored  map[string][]byte
	deleted []uuid.UUID
}

func (f *fakeFiles) StoreProjectImage(_ context.Context, userID string, projectID uuid.UUID, filename, contentType string, data []byte) (string, error) {
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[filename] = data
	return "https://storage.example.com/users/" + userID + "/projects/" + projectID.String() + "/" + filename, nil
}

func (f *fakeFiles) DeleteProjectFiles(_ context.Context, _ string, projectID uuid.UUID) error {
	f.deleted = append(f.deleted, projectID)
	return nil
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	t          *testing.T
	mem        *store.Memory
	files      *fakeFiles
	controller *lifecycle.Controller
	engine     *gin.Engine
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	logger := zerolog.Nop()
	resolver := entitlement.NewResolver(mem, entitlement.Options{}, logger)
	controller := lifecycle.NewController(lifecycle.Deps{
		Store:           mem,
		Entitlements:    resolver,
		PreviewFallback: &provider.StubPreview{Delay: time.Millisecond},
		PlanFallback:    &provider.StubPlan{Delay: time.Millisecond},
		Logger:          logger,
	}, lifecycle.Options{PollInterval: time.Millisecond})
	t.Cleanup(controller.Stop)

	files := &fakeFiles{}
	engine := handlers.Router{
		Health:      mem,
		Auth:        middleware.AuthMiddleware(jwtSecret, nil, logger),
		Projects:    handlers.NewProjectsHandler(controller, files, logger),
		Process:     handlers.NewProcessHandler(controller),
		Status:      handlers.NewStatusHandler(controller),
		Profiles:    handlers.NewProfilesHandler(resolver),
		Scans:       handlers.NewScansHandler(controller, mem),
		Suggestions: handlers.NewSuggestionsHandler(suggestions.NewService(nil, 16, time.Minute, logger)),
		Webhook: handlers.NewWebhookHandler(
			billing.NewProcessor(mem, webhookSecret, billing.Prices{Casual: "price_casual", Pro: "price_pro"}, logger),
			logger,
		),
		Logger: logger,
	}.Engine()

	return &testServer{t: t, mem: mem, files: files, controller: controller, engine: engine}
}

func token(t *testing.T, user string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(method, path, user string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(s.t, user))
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) createProject(user, name string) models.ProjectResponse {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/projects", user, models.CreateProjectRequest{Name: name})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.ProjectResponse](s.t, w)
}

func (s *testServer) upgrade(user string, tier models.Tier) {
	s.t.Helper()
	ctx := context.Background()
	require.NoError(s.t, s.mem.LinkCustomer(ctx, user, "cus_"+user, ""))
	_, err := s.mem.UpdateSubscription(ctx, "cus_"+user, store.SubscriptionUpdate{Tier: tier, Status: "active"})
	require.NoError(s.t, err)
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	r := gin.New()
	r.GET("/health", handlers.HealthHandler(downPinger{}))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequiresAuth(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/api/v1/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEntitlement(t *testing.T) {
	s := newServer(t)
	s.createProject(alice, "Porch")

	w := s.do(http.MethodGet, "/api/v1/me/entitlement", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.EntitlementResponse](t, w)
	assert.Equal(t, models.EntitlementResponse{Tier: "free", Quota: 2, Used: 1, Remaining: 1}, got)
}

func TestProjectCRUD(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/v1/projects", alice, models.CreateProjectRequest{Name: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad request", decode[models.ErrorResponse](t, w).Error)

	created := s.createProject(alice, "Kitchen refresh")
	assert.Equal(t, "draft", created.Status)
	assert.Equal(t, []int{}, created.CompletedSteps)

	w = s.do(http.MethodGet, "/api/v1/projects", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[models.ProjectListResponse](t, w)
	require.Len(t, list.Projects, 1)
	assert.Equal(t, created.ID, list.Projects[0].ID)

	w = s.do(http.MethodGet, "/api/v1/projects/"+created.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/projects/not-a-uuid", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/projects/"+created.ID, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.files.deleted, 1)
	assert.Equal(t, created.ID, s.files.deleted[0].String())

	w = s.do(http.MethodGet, "/api/v1/projects/"+created.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQuotaExceeded(t *testing.T) {
	s := newServer(t)
	s.createProject(alice, "One")
	s.createProject(alice, "Two")

	w := s.do(http.MethodPost, "/api/v1/projects", alice, models.CreateProjectRequest{Name: "Three"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPreviewFlow(t *testing.T) {
	s := newServer(t)
	p := s.createProject(alice, "Living room")
	path := "/api/v1/projects/" + p.ID

	w := s.do(http.MethodPost, path+"/preview", alice, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "no image yet")

	w = s.do(http.MethodPost, path+"/image", alice, models.AttachImageRequest{ImageURL: "ftp://nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, path+"/image", alice, models.AttachImageRequest{ImageURL: "https://img.example.com/room.jpg"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, path+"/preview", alice, models.PreviewRequest{Style: "modern"})
	assert.Equal(t, http.StatusForbidden, w.Code, "free tier")

	s.upgrade(alice, models.TierCasual)
	w = s.do(http.MethodPost, path+"/preview", alice, models.PreviewRequest{Style: "modern"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	acc := decode[models.AcceptedResponse](t, w)
	assert.True(t, acc.Accepted)
	assert.Equal(t, "preview_requested", acc.Status)
	assert.NotEmpty(t, acc.OperationID)

	s.controller.Wait()

	w = s.do(http.MethodGet, path+"/status", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[models.StatusResponse](t, w)
	assert.Equal(t, "preview_ready", status.Status)
	assert.Equal(t, "ready", status.PreviewStatus)
	assert.Equal(t, "https://img.example.com/room.jpg", status.PreviewURL)
	assert.False(t, status.HasPlan)
}

func TestPlanBuildAndProgress(t *testing.T) {
	s := newServer(t)
	p := s.createProject(alice, "Paint bedroom")
	path := "/api/v1/projects/" + p.ID

	w := s.do(http.MethodPost, path+"/build", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, path+"/plan", alice, models.PlanRequest{Description: "Paint bedroom", SkillLevel: "beginner"})
	require.Equal(t, http.StatusAccepted, w.Code)
	s.controller.Wait()

	w = s.do(http.MethodGet, path, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	project := decode[models.ProjectResponse](t, w)
	assert.Equal(t, "plan_ready", project.Status)
	assert.NotEmpty(t, project.Plan)

	idx := 2
	w = s.do(http.MethodPut, path+"/progress", alice, models.ProgressRequest{CompletedSteps: []int{1, 0, 1}, CurrentStepIndex: &idx})
	require.Equal(t, http.StatusOK, w.Code)
	project = decode[models.ProjectResponse](t, w)
	assert.Equal(t, []int{0, 1}, project.CompletedSteps)
	assert.Equal(t, 2, project.CurrentStepIndex)

	bad := 99
	w = s.do(http.MethodPut, path+"/progress", alice, models.ProgressRequest{CurrentStepIndex: &bad})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, path+"/build", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "in_progress", decode[models.ProjectResponse](t, w).Status)
}

func TestSkipPreview(t *testing.T) {
	s := newServer(t)
	p := s.createProject(alice, "Hallway")

	w := s.do(http.MethodPost, "/api/v1/projects/"+p.ID+"/preview/skip", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode[models.ProjectResponse](t, w).Status)
}

func TestMultipartImageUpload(t *testing.T) {
	s := newServer(t)
	p := s.createProject(alice, "Garage")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "garage.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n fake image bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+p.ID+"/image", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token(t, alice))
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	project := decode[models.ProjectResponse](t, w)
	assert.Contains(t, project.InputImageURL, "https://storage.example.com/users/"+alice+"/projects/"+p.ID)
	assert.Contains(t, s.files.stored, "garage.png")
}

func TestScans(t *testing.T) {
	s := newServer(t)
	p := s.createProject(alice, "Deck")
	path := "/api/v1/projects/" + p.ID + "/scans"

	w := s.do(http.MethodPost, path, alice, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	scan := decode[models.ScanResponse](t, w)
	assert.Equal(t, "pending", scan.MeasureStatus)

	w = s.do(http.MethodPost, path, bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPatch, "/api/v1/scans/"+scan.ID, alice, models.UpdateScanRequest{
		MeasureStatus: "done",
		MeasureResult: map[string]interface{}{"width_m": 3.2, "length_m": 4.1},
	})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[models.ScanResponse](t, w)
	assert.Equal(t, "done", updated.MeasureStatus)
	assert.JSONEq(t, `{"width_m":3.2,"length_m":4.1}`, string(updated.MeasureResult))

	w = s.do(http.MethodPatch, "/api/v1/scans/"+scan.ID, alice, models.UpdateScanRequest{MeasureStatus: "measuring"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/scans/"+scan.ID, bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, path, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.ScansResponse](t, w).Scans, 1)
}

func TestSuggestions(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/api/v1/suggestions?room=kitchen&style=modern", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[handlers.SuggestionsResponse](t, w)
	assert.NotEmpty(t, resp.Suggestions)

	w = s.do(http.MethodGet, "/api/v1/suggestions", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStripeWebhook(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	_, err := s.mem.EnsureProfile(ctx, alice, models.TierFree)
	require.NoError(t, err)
	require.NoError(t, s.mem.LinkCustomer(ctx, alice, "cus_alice", ""))

	payload, err := json.Marshal(map[string]interface{}{
		"id":   "evt_1",
		"type": "customer.subscription.updated",
		"data": map[string]interface{}{"object": map[string]interface{}{
			"id":       "sub_1",
			"customer": "cus_alice",
			"status":   "active",
			"items": map[string]interface{}{"data": []interface{}{
				map[string]interface{}{"id": "si_1", "price": map[string]interface{}{"id": "price_pro"}},
			}},
		}},
	})
	require.NoError(t, err)

	post := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", header)
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusBadRequest, post("t=1,v1=bad").Code)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})
	w := post(signed.Header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/v1/me/entitlement", alice, nil)
	ent := decode[models.EntitlementResponse](t, w)
	assert.Equal(t, "pro", ent.Tier)
	assert.True(t, ent.PreviewAllowed)
}
