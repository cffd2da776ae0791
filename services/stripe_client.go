package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"donation-service/apperrors"
	"donation-service/metrics"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// CheckoutRequest is a validated request for a hosted Stripe checkout page.
type CheckoutRequest struct {
	AmountMinorUnits int64
	Currency         string
	Email            string
	Recurring        bool
	SuccessURL       string
	CancelURL        string
}

// CheckoutSession is the part of a created Stripe session the service keeps.
type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentProcessor is the outbound surface of the payment processor.
type PaymentProcessor interface {
	Configured() bool
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

type StripeService struct {
	api       *client.API
	secretKey string
}

// NewStripeService creates a Stripe client. An empty key yields a service that
// reports itself unconfigured instead of failing at startup.
func NewStripeService(secretKey string) *StripeService {
	s := &StripeService{secretKey: secretKey}
	if secretKey != "" {
		s.api = client.New(secretKey, nil)
	}
	return s
}

func (s *StripeService) Configured() bool {
	return s.api != nil
}

// CreateCheckoutSession creates a single line item session: a one-off payment,
// or a monthly subscription when req.Recurring is set.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if !s.Configured() {
		return nil, apperrors.Configuration("Payment provider not configured")
	}

	mode := stripe.CheckoutSessionModePayment
	productName := "Donation"
	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(req.Currency),
		UnitAmount: stripe.Int64(req.AmountMinorUnits),
	}
	if req.Recurring {
		mode = stripe.CheckoutSessionModeSubscription
		productName = "Monthly Donation"
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		}
	}
	priceData.ProductData = &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(productName),
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(mode)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{PriceData: priceData, Quantity: stripe.Int64(1)},
		},
	}
	params.Context = ctx
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
		params.AddMetadata("email", req.Email)
	}

	start := time.Now()
	sess, err := s.api.CheckoutSessions.New(params)
	metrics.ProcessorRequestDuration.WithLabelValues("create_session").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProcessorErrorsTotal.WithLabelValues("create_session").Inc()
		return nil, classifyStripeError(err, "Failed to create checkout session")
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// RetrieveSession fetches a checkout session with its payment intent expanded.
func (s *StripeService) RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	if !s.Configured() {
		return nil, apperrors.Configuration("Payment provider not configured")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	start := time.Now()
	sess, err := s.api.CheckoutSessions.Get(sessionID, params)
	metrics.ProcessorRequestDuration.WithLabelValues("retrieve_session").Observe(time.Since(start).Seconds())
	if err != nil {
		if !apperrors.Is(classifyStripeError(err, ""), apperrors.KindNotFound) {
			metrics.ProcessorErrorsTotal.WithLabelValues("retrieve_session").Inc()
		}
		return nil, classifyStripeError(err, "Failed to retrieve checkout session")
	}
	return sess, nil
}

func classifyStripeError(err error, message string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Processor("Payment processor timed out", err)
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return apperrors.NotFound("Session not found", err)
		}
	}
	return apperrors.Processor(message, err)
}

// VerifyEvent checks the Stripe-Signature header against the raw payload and
// returns the decoded event.
func VerifyEvent(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrTooOld):
			return event, apperrors.Authentication("Webhook signature verification failed", err)
		}
		return event, apperrors.Parse("Invalid webhook payload", err)
	}
	return event, nil
}

// ParseEvent decodes an event without checking its signature.
func ParseEvent(payload []byte) (stripe.Event, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return event, apperrors.Parse("Invalid webhook payload", err)
	}
	if event.Type == "" || event.Data == nil {
		return event, apperrors.Parse("Invalid webhook payload", errors.New("missing event type or data"))
	}
	return event, nil
}
