package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/lifecycle"
	"homeproject-backend/internal/models"
	"homeproject-backend/internal/store"
)

var measureStatuses = map[string]bool{
	"pending":    true,
	"processing": true,
	"done":       true,
	"failed":     true,
}

type ScansHandler struct {
	controller *lifecycle.Controller
	scans      store.Scans
}

func NewScansHandler(controller *lifecycle.Controller, scans store.Scans) *ScansHandler {
	return &ScansHandler{controller: controller, scans: scans}
}

func toScanResponse(s *models.RoomScan) models.ScanResponse {
	return models.ScanResponse{
		ID:            s.ID.String(),
		ProjectID:     s.ProjectID.String(),
		MeasureStatus: s.MeasureStatus,
		MeasureResult: s.MeasureResult,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

func measureResult(result map[string]interface{}) (json.RawMessage, error) {
	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errs.Validation("measure_result is not valid JSON")
	}
	return raw, nil
}

// CreateScan godoc
// @Summary     Record a room scan
// @Tags        scans
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       request body models.CreateScanRequest false "Initial measurement"
// @Success     201 {object} models.ScanResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/scans [post]
func (h *ScansHandler) CreateScan(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	var req models.CreateScanRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	if req.MeasureStatus == "" {
		req.MeasureStatus = "pending"
	}
	if !measureStatuses[req.MeasureStatus] {
		respondError(c, errs.Validation("unknown measure_status %q", req.MeasureStatus))
		return
	}
	result, err := measureResult(req.MeasureResult)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.controller.GetProject(ctx, projectID, uid); err != nil {
		respondError(c, err)
		return
	}

	scan := &models.RoomScan{
		ProjectID:     projectID,
		UserID:        uid,
		MeasureStatus: req.MeasureStatus,
		MeasureResult: result,
	}
	if err := h.scans.CreateScan(ctx, scan); err != nil {
		respondError(c, errs.Storage(err, "failed to create scan"))
		return
	}
	c.JSON(http.StatusCreated, toScanResponse(scan))
}

// ListScans godoc
// @Summary     List a project's room scans
// @Tags        scans
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.ScansResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/scans [get]
func (h *ScansHandler) ListScans(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.controller.GetProject(ctx, projectID, uid); err != nil {
		respondError(c, err)
		return
	}

	scans, err := h.scans.ListScans(ctx, projectID)
	if err != nil {
		respondError(c, errs.Storage(err, "failed to list scans"))
		return
	}
	out := make([]models.ScanResponse, len(scans))
	for i := range scans {
		out[i] = toScanResponse(&scans[i])
	}
	c.JSON(http.StatusOK, models.ScansResponse{Scans: out})
}

// ownedScan loads a scan and hides scans of other users.
func (h *ScansHandler) ownedScan(c *gin.Context) (*models.RoomScan, bool) {
	uid, ok := userID(c)
	if !ok {
		return nil, false
	}
	scanID, ok := uuidParam(c, "scan_id")
	if !ok {
		return nil, false
	}

	scan, err := h.scans.GetScan(c.Request.Context(), scanID)
	if err != nil {
		respondError(c, errs.Storage(err, "failed to load scan"))
		return nil, false
	}
	if scan.UserID != uid {
		respondError(c, errs.NotFound("scan not found"))
		return nil, false
	}
	return scan, true
}

// GetScan godoc
// @Summary     Get a room scan
// @Tags        scans
// @Produce     json
// @Security    Bearer
// @Param       scan_id path string true "Scan ID (UUID)"
// @Success     200 {object} models.ScanResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /scans/{scan_id} [get]
func (h *ScansHandler) GetScan(c *gin.Context) {
	scan, ok := h.ownedScan(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toScanResponse(scan))
}

// UpdateScan godoc
// @Summary     Update a room scan measurement
// @Description Called by the measurement collaborator. Omitting measure_result keeps the stored result.
// @Tags        scans
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       scan_id path string true "Scan ID (UUID)"
// @Param       request body models.UpdateScanRequest true "Measurement"
// @Success     200 {object} models.ScanResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /scans/{scan_id} [patch]
func (h *ScansHandler) UpdateScan(c *gin.Context) {
	var req models.UpdateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}
	if !measureStatuses[req.MeasureStatus] {
		respondError(c, errs.Validation("unknown measure_status %q", req.MeasureStatus))
		return
	}
	result, err := measureResult(req.MeasureResult)
	if err != nil {
		respondError(c, err)
		return
	}

	scan, ok := h.ownedScan(c)
	if !ok {
		return
	}
	updated, err := h.scans.UpdateScan(c.Request.Context(), scan.ID, req.MeasureStatus, result)
	if err != nil {
		respondError(c, errs.Storage(err, "failed to update scan"))
		return
	}
	c.JSON(http.StatusOK, toScanResponse(updated))
}
