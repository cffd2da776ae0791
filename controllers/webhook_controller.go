package controllers

import (
	"io"
	"net/http"

	"donation-service/apperrors"
	"donation-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBodyBytes matches the payload ceiling Stripe documents for events.
const maxWebhookBodyBytes = 65536

// WebhookController receives Stripe notifications.
type WebhookController struct {
	webhookService services.WebhookService
	production     bool
	logger         *zap.Logger
}

// NewWebhookController creates a new WebhookController.
func NewWebhookController(webhookService services.WebhookService, production bool, logger *zap.Logger) *WebhookController {
	return &WebhookController{webhookService: webhookService, production: production, logger: logger}
}

// StripeWebhook handles POST /api/donations/webhook. The body is read raw so
// the signature is checked over the exact bytes Stripe sent.
func (wc *WebhookController) StripeWebhook(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		respondError(ctx, wc.logger, wc.production, apperrors.Parse("Invalid webhook payload", err))
		return
	}

	result, err := wc.webhookService.HandleEvent(ctx.Request.Context(), payload, ctx.GetHeader("Stripe-Signature"))
	if err != nil {
		respondError(ctx, wc.logger, wc.production, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"received": true, "outcome": result.Outcome})
}
