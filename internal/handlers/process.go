package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"homeproject-backend/internal/lifecycle"
	"homeproject-backend/internal/models"
	"homeproject-backend/internal/provider"
)

type ProcessHandler struct {
	controller *lifecycle.Controller
}

func NewProcessHandler(controller *lifecycle.Controller) *ProcessHandler {
	return &ProcessHandler{controller: controller}
}

func accepted(c *gin.Context, a *lifecycle.Accepted) {
	c.JSON(http.StatusAccepted, models.AcceptedResponse{
		Accepted:    true,
		ProjectID:   a.Project.ID.String(),
		OperationID: a.OperationID.String(),
		Status:      string(a.Project.Status),
	})
}

// RequestPreview godoc
// @Summary     Generate a preview
// @Description Starts preview generation for the attached room image and returns immediately. Poll the status endpoint or subscribe to realtime updates for the result.
// @Description Requires a paid plan.
// @Tags        process
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       request body models.PreviewRequest false "Preview options"
// @Success     202 {object} models.AcceptedResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Failure     422 {object} models.ErrorResponse
// @Router      /projects/{project_id}/preview [post]
func (h *ProcessHandler) RequestPreview(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	var req models.PreviewRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	a, err := h.controller.RequestPreview(c.Request.Context(), projectID, uid, provider.PreviewOptions{
		Style:    req.Style,
		RoomType: req.RoomType,
		Prompt:   req.Prompt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	accepted(c, a)
}

// SkipPreview godoc
// @Summary     Skip the preview
// @Description Moves the project straight to ready. A preview still being generated is discarded.
// @Tags        process
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.ProjectResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /projects/{project_id}/preview/skip [post]
func (h *ProcessHandler) SkipPreview(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	project, err := h.controller.SkipPreview(c.Request.Context(), projectID, uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProjectResponse(project))
}

// RequestPlan godoc
// @Summary     Generate a plan
// @Description Starts plan generation and returns immediately.
// @Tags        process
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       request body models.PlanRequest false "Plan options"
// @Success     202 {object} models.AcceptedResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /projects/{project_id}/plan [post]
func (h *ProcessHandler) RequestPlan(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	var req models.PlanRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	a, err := h.controller.RequestPlan(c.Request.Context(), projectID, uid, provider.PlanOptions{
		Description: req.Description,
		Budget:      req.Budget,
		SkillLevel:  req.SkillLevel,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	accepted(c, a)
}

// StartBuild godoc
// @Summary     Start building
// @Tags        process
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.ProjectResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /projects/{project_id}/build [post]
func (h *ProcessHandler) StartBuild(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	project, err := h.controller.StartBuild(c.Request.Context(), projectID, uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProjectResponse(project))
}

// UpdateProgress godoc
// @Summary     Update build progress
// @Description Records completed plan steps and the current step. Omitting current_step_index keeps the stored value.
// @Tags        process
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       request body models.ProgressRequest true "Progress"
// @Success     200 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/progress [put]
func (h *ProcessHandler) UpdateProgress(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	var req models.ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}

	project, err := h.controller.UpdateProgress(c.Request.Context(), projectID, uid, req.CompletedSteps, req.CurrentStepIndex)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProjectResponse(project))
}
