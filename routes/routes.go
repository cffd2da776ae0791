package routes

import (
	"donation-service/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterDonationRoutes mounts the donation API. sessionMiddleware guards
// session creation only; the webhook must stay reachable for Stripe.
func RegisterDonationRoutes(
	r *gin.Engine,
	dc *controllers.DonationController,
	wc *controllers.WebhookController,
	sessionMiddleware ...gin.HandlerFunc,
) {
	donations := r.Group("/api/donations")

	create := append(append([]gin.HandlerFunc{}, sessionMiddleware...), dc.CreateCheckoutSession)
	donations.POST("/create-checkout-session", create...)
	donations.GET("/session/:id", dc.GetSession)

	// Stripe webhook (signature-authenticated)
	donations.POST("/webhook", wc.StripeWebhook)
}
