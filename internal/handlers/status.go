package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"homeproject-backend/internal/lifecycle"
	"homeproject-backend/internal/models"
)

type StatusHandler struct {
	controller *lifecycle.Controller
}

func NewStatusHandler(controller *lifecycle.Controller) *StatusHandler {
	return &StatusHandler{controller: controller}
}

// GetStatus godoc
// @Summary     Get project status
// @Description Lightweight status for polling while a preview or plan is generated. Realtime subscribers receive the same payload on topic project:{id}.
// @Tags        status
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.StatusResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/status [get]
func (h *StatusHandler) GetStatus(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	project, err := h.controller.GetProject(c.Request.Context(), projectID, uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		ProjectID:     project.ID.String(),
		Status:        string(project.Status.Canonical()),
		PreviewStatus: string(project.PreviewStatus),
		PreviewURL:    project.PreviewURL.String,
		HasPlan:       len(project.PlanJSON) > 0 && string(project.PlanJSON) != "null",
		UpdatedAt:     project.UpdatedAt,
	})
}
