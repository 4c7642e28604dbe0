package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"homeproject-backend/internal/entitlement"
	"homeproject-backend/internal/models"
)

type EntitlementResolver interface {
	Resolve(ctx context.Context, userID string) (*entitlement.Entitlement, error)
}

type ProfilesHandler struct {
	entitlements EntitlementResolver
}

func NewProfilesHandler(entitlements EntitlementResolver) *ProfilesHandler {
	return &ProfilesHandler{entitlements: entitlements}
}

// GetEntitlement godoc
// @Summary     Get the caller's entitlement
// @Description Returns the subscription tier, project quota and usage, and whether previews are unlocked. Creates a free profile on first use.
// @Tags        profiles
// @Produce     json
// @Security    Bearer
// @Success     200 {object} models.EntitlementResponse
// @Failure     401 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Router      /me/entitlement [get]
func (h *ProfilesHandler) GetEntitlement(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	ent, err := h.entitlements.Resolve(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.EntitlementResponse{
		Tier:           string(ent.Tier),
		Quota:          ent.Quota,
		Used:           ent.Used,
		Remaining:      ent.Remaining,
		PreviewAllowed: ent.PreviewAllowed,
		Degraded:       ent.Degraded,
	})
}
