package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"homeproject-backend/internal/lifecycle"
	"homeproject-backend/internal/models"
)

// ProjectFiles stores and removes a project's objects.
type ProjectFiles interface {
	StoreProjectImage(ctx context.Context, userID string, projectID uuid.UUID, filename, contentType string, data []byte) (string, error)
	DeleteProjectFiles(ctx context.Context, userID string, projectID uuid.UUID) error
}

type ProjectsHandler struct {
	controller *lifecycle.Controller
	files      ProjectFiles
	logger     zerolog.Logger
}

// NewProjectsHandler builds the handler. files may be nil when object
// storage is not configured.
func NewProjectsHandler(controller *lifecycle.Controller, files ProjectFiles, logger zerolog.Logger) *ProjectsHandler {
	return &ProjectsHandler{
		controller: controller,
		files:      files,
		logger:     logger.With().Str("handler", "projects").Logger(),
	}
}

// CreateProject godoc
// @Summary     Create a project
// @Description Creates a draft project. Fails with 403 when the plan's project quota is used up.
// @Tags        projects
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.CreateProjectRequest true "Project name"
// @Success     201 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     403 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /projects [post]
func (h *ProjectsHandler) CreateProject(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}

	project, err := h.controller.CreateProject(c.Request.Context(), uid, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProjectResponse(project))
}

// ListProjects godoc
// @Summary     List projects
// @Description Lists the caller's projects, newest first.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.ProjectListResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /projects [get]
func (h *ProjectsHandler) ListProjects(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	projects, err := h.controller.ListProjects(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}

	summaries := make([]models.ProjectSummary, len(projects))
	for i, p := range projects {
		summaries[i] = models.ProjectSummary{
			ID:         p.ID.String(),
			Name:       p.Name,
			Status:     string(p.Status.Canonical()),
			PreviewURL: p.PreviewURL.String,
			CreatedAt:  p.CreatedAt,
			UpdatedAt:  p.UpdatedAt,
		}
	}
	c.JSON(http.StatusOK, models.ProjectListResponse{Projects: summaries})
}

// GetProject godoc
// @Summary     Get a project
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id} [get]
func (h *ProjectsHandler) GetProject(c *gin.Context) {
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
	c.JSON(http.StatusOK, toProjectResponse(project))
}

// DeleteProject godoc
// @Summary     Delete a project
// @Description Deletes the project and its stored images.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} map[string]string
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /projects/{project_id} [delete]
func (h *ProjectsHandler) DeleteProject(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}

	if err := h.controller.DeleteProject(c.Request.Context(), projectID, uid); err != nil {
		respondError(c, err)
		return
	}

	// Stored files are removed after the row; a failure leaves orphans only.
	if h.files != nil {
		if err := h.files.DeleteProjectFiles(c.Request.Context(), uid, projectID); err != nil {
			h.logger.Warn().Err(err).Str("project_id", projectID.String()).Msg("failed to delete project files")
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "project deleted successfully"})
}
