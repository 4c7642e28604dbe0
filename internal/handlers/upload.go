package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"homeproject-backend/internal/models"
)

const maxUploadBytes = 20 << 20

// AttachImage godoc
// @Summary     Attach the room image
// @Description Sets the project's input image. Send JSON {"image_url"} for an image hosted elsewhere, or a multipart form with an "image" file to upload it to storage first.
// @Description Not allowed while a preview or plan is being generated.
// @Tags        projects
// @Accept      json,mpfd
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       request body models.AttachImageRequest false "Image URL"
// @Param       image formData file false "Room photo"
// @Success     200 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /projects/{project_id}/image [post]
func (h *ProjectsHandler) AttachImage(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	projectID, ok := uuidParam(c, "project_id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var imageURL string
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if h.files == nil {
			c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "storage not available"})
			return
		}
		// Verify project belongs to user before uploading
		if _, err := h.controller.GetProject(ctx, projectID, uid); err != nil {
			respondError(c, err)
			return
		}

		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "no file uploaded", Message: `provide the photo in the "image" field`})
			return
		}
		if file.Size > maxUploadBytes {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "file too large", Message: fmt.Sprintf("maximum size is %d bytes", maxUploadBytes)})
			return
		}

		f, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to open file", Message: err.Error()})
			return
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read file", Message: err.Error()})
			return
		}

		contentType := file.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}

		imageURL, err = h.files.StoreProjectImage(ctx, uid, projectID, file.Filename, contentType, data)
		if err != nil {
			respondError(c, err)
			return
		}
	} else {
		var req models.AttachImageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
			return
		}
		imageURL = req.ImageURL
	}

	project, err := h.controller.AttachImage(ctx, projectID, uid, imageURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProjectResponse(project))
}
