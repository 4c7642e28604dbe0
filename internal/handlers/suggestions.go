package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"homeproject-backend/internal/suggestions"
)

type SuggestionsHandler struct {
	service *suggestions.Service
}

func NewSuggestionsHandler(service *suggestions.Service) *SuggestionsHandler {
	return &SuggestionsHandler{service: service}
}

type SuggestionsResponse struct {
	Room        string                   `json:"room"`
	Style       string                   `json:"style,omitempty"`
	Suggestions []suggestions.Suggestion `json:"suggestions"`
}

// GetSuggestions godoc
// @Summary     Design suggestions
// @Description Returns improvement ideas for a room type and optional style. Results are cached briefly.
// @Tags        suggestions
// @Produce     json
// @Security    Bearer
// @Param       room query string true "Room type, e.g. kitchen"
// @Param       style query string false "Design style, e.g. modern"
// @Success     200 {object} handlers.SuggestionsResponse
// @Failure     400 {object} models.ErrorResponse
// @Router      /suggestions [get]
func (h *SuggestionsHandler) GetSuggestions(c *gin.Context) {
	if _, ok := userID(c); !ok {
		return
	}
	room, style := c.Query("room"), c.Query("style")

	out, err := h.service.Suggest(c.Request.Context(), room, style)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuggestionsResponse{Room: room, Style: style, Suggestions: out})
}
