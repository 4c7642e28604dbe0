package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"homeproject-backend/internal/billing"
	"homeproject-backend/internal/models"
)

const maxWebhookBytes = 1 << 16

type WebhookHandler struct {
	processor *billing.Processor
	logger    zerolog.Logger
}

func NewWebhookHandler(processor *billing.Processor, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger.With().Str("handler", "webhook").Logger(),
	}
}

// HandleStripe godoc
// @Summary     Stripe webhook endpoint
// @Description Receives subscription lifecycle events from Stripe. Verified with the Stripe-Signature header.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       Stripe-Signature header string true "Stripe signature"
// @Success     200 {object} map[string]string "status"
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /webhooks/stripe [post]
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "failed to read request body",
			Message: err.Error(),
		})
		return
	}

	eventType, err := h.processor.Process(c.Request.Context(), body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("stripe event not applied")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
