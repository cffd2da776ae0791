package controllers

import (
	"net/http"

	"donation-service/models"
	"donation-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DonationController handles checkout session requests.
type DonationController struct {
	donationService services.DonationService
	production      bool
	logger          *zap.Logger
}

// NewDonationController creates a new DonationController.
func NewDonationController(donationService services.DonationService, production bool, logger *zap.Logger) *DonationController {
	return &DonationController{donationService: donationService, production: production, logger: logger}
}

// CreateCheckoutSession handles POST /api/donations/create-checkout-session.
func (dc *DonationController) CreateCheckoutSession(ctx *gin.Context) {
	var req models.CreateSessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		respondError(ctx, dc.logger, dc.production, bindError(err))
		return
	}

	resp, err := dc.donationService.CreateSession(ctx.Request.Context(), &req)
	if err != nil {
		respondError(ctx, dc.logger, dc.production, err)
		return
	}

	ctx.JSON(http.StatusOK, resp)
}

// GetSession handles GET /api/donations/session/:id.
func (dc *DonationController) GetSession(ctx *gin.Context) {
	sess, err := dc.donationService.GetSession(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		respondError(ctx, dc.logger, dc.production, err)
		return
	}

	ctx.JSON(http.StatusOK, sess)
}
