package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"homeproject-backend/internal/errs"
	"homeproject-backend/internal/middleware"
	"homeproject-backend/internal/models"
)

// respondError writes err with the status its kind maps to. Internal
// failures are logged and their cause is not exposed.
func respondError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, models.ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(status, models.ErrorResponse{
		Error:   strings.ToLower(http.StatusText(status)),
		Message: errs.Message(err),
	})
}

// userID returns the authenticated user or writes 401.
func userID(c *gin.Context) (string, bool) {
	id := middleware.UserID(c)
	if id == "" {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found"})
		return "", false
	}
	return id, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid " + strings.ReplaceAll(name, "_", " ")})
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON binds the body into dst. An empty body is allowed.
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return false
	}
	return true
}

func toProjectResponse(p *models.Project) models.ProjectResponse {
	steps := p.CompletedSteps
	if steps == nil {
		steps = []int{}
	}
	return models.ProjectResponse{
		ID:               p.ID.String(),
		Name:             p.Name,
		Status:           string(p.Status.Canonical()),
		InputImageURL:    p.InputImageURL.String,
		PreviewURL:       p.PreviewURL.String,
		PreviewStatus:    string(p.PreviewStatus),
		PreviewMeta:      p.PreviewMeta,
		Plan:             p.PlanJSON,
		CompletedSteps:   steps,
		CurrentStepIndex: p.CurrentStepIndex,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}
