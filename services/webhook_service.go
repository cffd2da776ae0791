package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"donation-service/apperrors"
	"donation-service/metrics"
	"donation-service/models"
	"donation-service/repository"

	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// Stripe event types the ledger reacts to.
const (
	eventCheckoutSessionCompleted             stripe.EventType = "checkout.session.completed"
	eventCheckoutSessionAsyncPaymentSucceeded stripe.EventType = "checkout.session.async_payment_succeeded"
	eventCheckoutSessionAsyncPaymentFailed    stripe.EventType = "checkout.session.async_payment_failed"
	eventCheckoutSessionExpired               stripe.EventType = "checkout.session.expired"
	eventInvoicePaymentSucceeded              stripe.EventType = "invoice.payment_succeeded"
	eventInvoicePaymentFailed                 stripe.EventType = "invoice.payment_failed"
)

// WebhookService applies Stripe notifications to the donation ledger.
type WebhookService interface {
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (*models.WebhookResult, error)
}

// WebhookServiceConfig controls signature handling and processing limits.
type WebhookServiceConfig struct {
	WebhookSecret string
	Production    bool
	Timeout       time.Duration
}

type webhookServiceImpl struct {
	repo      repository.DonationRepository
	publisher *EventPublisher
	cfg       WebhookServiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(
	repo repository.DonationRepository,
	publisher *EventPublisher,
	cfg WebhookServiceConfig,
	logger *zap.Logger,
) WebhookService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &webhookServiceImpl{
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleEvent authenticates and decodes the payload, then applies at most one
// conditional transition. Once the payload is accepted the event is
// acknowledged whether or not a donation matched; only store failures surface
// as errors after that point.
func (s *webhookServiceImpl) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (*models.WebhookResult, error) {
	event, err := s.parse(payload, signatureHeader)
	if err != nil {
		metrics.WebhookRejectedTotal.WithLabelValues(string(apperrors.KindOf(err))).Inc()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
	defer cancel()

	s.logger.Info("Processing Stripe webhook",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
	)

	t, err := s.transitionFor(event)
	if err != nil {
		metrics.WebhookRejectedTotal.WithLabelValues(string(apperrors.KindParse)).Inc()
		return nil, err
	}

	result := &models.WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	if t == nil {
		result.Outcome = models.WebhookOutcomeIgnored
		s.logger.Info("Unhandled webhook event type", zap.String("event_type", string(event.Type)))
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), string(result.Outcome)).Inc()
		return result, nil
	}

	var record *models.WebhookEvent
	if event.ID != "" {
		record = &models.WebhookEvent{
			EventID:   event.ID,
			EventType: string(event.Type),
			ObjectID:  t.Value,
		}
	}

	res, err := s.repo.ApplyTransition(ctx, record, *t)
	if err != nil {
		s.logger.Error("Failed to apply webhook transition",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String(t.By.String(), t.Value),
			zap.Error(err),
		)
		return nil, apperrors.Internal("Failed to update donation", err)
	}

	result.Outcome = res.Outcome
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), string(result.Outcome)).Inc()

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String(t.By.String(), t.Value),
		zap.String("target_status", string(t.To)),
		zap.String("outcome", string(res.Outcome)),
	}
	switch res.Outcome {
	case models.WebhookOutcomeApplied:
		s.logger.Info("Donation status updated", append(fields,
			zap.String("donation_id", res.Donation.ID.String()),
			zap.String("current_status", string(res.Donation.Status)),
			zap.Bool("caught_up", res.CaughtUp),
		)...)
		s.publisher.PublishDonation(ctx, "donation."+string(res.Donation.Status), res.Donation)
	case models.WebhookOutcomeNoop:
		s.logger.Info("Skipping webhook: donation not in a source status",
			append(fields,
				zap.String("current_status", string(res.Donation.Status)),
				zap.Bool("terminal", res.Donation.Status.IsTerminal()),
			)...)
	case models.WebhookOutcomeUnmatched:
		s.logger.Warn("Webhook did not match any donation", fields...)
	case models.WebhookOutcomeReplayed:
		s.logger.Info("Skipping replayed webhook event", fields...)
	}
	return result, nil
}

func (s *webhookServiceImpl) parse(payload []byte, signatureHeader string) (stripe.Event, error) {
	if s.cfg.WebhookSecret != "" {
		event, err := VerifyEvent(payload, signatureHeader, s.cfg.WebhookSecret)
		if err != nil {
			s.logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		}
		return event, err
	}
	if s.cfg.Production {
		s.logger.Error("Webhook secret is not configured; refusing unsigned webhook")
		return stripe.Event{}, apperrors.Configuration("Webhook secret is not configured")
	}
	s.logger.Warn("STRIPE_WEBHOOK_SECRET is not set: accepting UNVERIFIED webhook payload. Never run like this in production.")
	return ParseEvent(payload)
}

// transitionFor maps an event to the ledger change it implies. A nil
// transition means the event is acknowledged without touching the ledger.
func (s *webhookServiceImpl) transitionFor(event stripe.Event) (*repository.Transition, error) {
	switch event.Type {
	case eventCheckoutSessionCompleted, eventCheckoutSessionAsyncPaymentSucceeded:
		var sess stripe.CheckoutSession
		if err := decodeObject(event, &sess); err != nil {
			return nil, err
		}
		if sess.ID == "" {
			return nil, nil
		}
		return s.completedTransition(&sess), nil

	case eventCheckoutSessionExpired, eventCheckoutSessionAsyncPaymentFailed:
		var sess stripe.CheckoutSession
		if err := decodeObject(event, &sess); err != nil {
			return nil, err
		}
		if sess.ID == "" {
			return nil, nil
		}
		return &repository.Transition{
			By:    repository.BySessionID,
			Value: sess.ID,
			To:    models.DonationStatusFailed,
			From:  []models.DonationStatus{models.DonationStatusPending},
		}, nil

	case eventInvoicePaymentSucceeded:
		var inv stripe.Invoice
		if err := decodeObject(event, &inv); err != nil {
			return nil, err
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil, nil
		}
		return &repository.Transition{
			By:      repository.BySubscriptionID,
			Value:   inv.Subscription.ID,
			To:      models.DonationStatusActive,
			Updates: map[string]interface{}{"last_payment_at": s.now()},
		}, nil

	case eventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := decodeObject(event, &inv); err != nil {
			return nil, err
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil, nil
		}
		return &repository.Transition{
			By:    repository.BySubscriptionID,
			Value: inv.Subscription.ID,
			To:    models.DonationStatusFailed,
			From:  []models.DonationStatus{models.DonationStatusActive},
		}, nil

	default:
		return nil, nil
	}
}

func (s *webhookServiceImpl) completedTransition(sess *stripe.CheckoutSession) *repository.Transition {
	paymentID := sess.ID
	switch {
	case sess.PaymentIntent != nil && sess.PaymentIntent.ID != "":
		paymentID = sess.PaymentIntent.ID
	case sess.Invoice != nil && sess.Invoice.ID != "":
		paymentID = sess.Invoice.ID
	}

	updates := map[string]interface{}{
		"stripe_payment_id": paymentID,
		"paid_at":           s.now(),
	}
	// An invoice.payment_succeeded for the subscription may have arrived
	// first and gone unmatched; it is applied once the id is known.
	var catchUp *repository.CatchUp
	if sess.Subscription != nil && sess.Subscription.ID != "" {
		updates["stripe_subscription_id"] = sess.Subscription.ID
		catchUp = &repository.CatchUp{
			EventType: string(eventInvoicePaymentSucceeded),
			ObjectID:  sess.Subscription.ID,
			To:        models.DonationStatusActive,
			Updates:   map[string]interface{}{"last_payment_at": s.now()},
		}
	}

	var email string
	switch {
	case sess.CustomerDetails != nil && sess.CustomerDetails.Email != "":
		email = sess.CustomerDetails.Email
	case sess.CustomerEmail != "":
		email = sess.CustomerEmail
	default:
		email = sess.Metadata["email"]
	}

	return &repository.Transition{
		By:        repository.BySessionID,
		Value:     sess.ID,
		To:        models.DonationStatusPaid,
		From:      []models.DonationStatus{models.DonationStatusPending},
		Updates:   updates,
		FillEmail: strings.ToLower(strings.TrimSpace(email)),
		CatchUp:   catchUp,
	}
}

func decodeObject(event stripe.Event, v interface{}) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return apperrors.Parse("Invalid webhook payload", nil)
	}
	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return apperrors.Parse("Invalid webhook payload", err)
	}
	return nil
}
