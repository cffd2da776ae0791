package services

import (
	"context"
	"encoding/json"
	"time"

	"donation-service/models"

	aws_pkg "donation-service/pkg/aws"

	"go.uber.org/zap"
)

// EventPublisher announces donation lifecycle changes on SNS. A publisher
// without a client or topic only logs.
type EventPublisher struct {
	sns      aws_pkg.SNSPublisher
	topicArn string
	logger   *zap.Logger
}

func NewEventPublisher(sns aws_pkg.SNSPublisher, topicArn string, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{sns: sns, topicArn: topicArn, logger: logger}
}

// PublishDonation publishes eventType for d. Failures are logged, never returned:
// the ledger is already committed when this runs.
func (p *EventPublisher) PublishDonation(ctx context.Context, eventType string, d *models.Donation) {
	if p == nil || d == nil {
		return
	}
	p.publish(ctx, newDonationEvent(eventType, d))
}

// PublishSessionCreated announces a new pending donation together with the
// hosted checkout URL and the caller's reference, if any.
func (p *EventPublisher) PublishSessionCreated(ctx context.Context, d *models.Donation, checkoutURL, reference string) {
	if p == nil || d == nil {
		return
	}
	event := newDonationEvent("donation.session_created", d)
	event.CheckoutURL = checkoutURL
	event.Reference = reference
	p.publish(ctx, event)
}

func newDonationEvent(eventType string, d *models.Donation) models.DonationEvent {
	return models.DonationEvent{
		Type:       eventType,
		DonationID: d.ID.String(),
		SessionID:  d.StripeSessionID,
		Status:     string(d.Status),
		Amount:     d.AmountMinorUnits,
		Currency:   d.Currency,
		Recurring:  d.Recurring,
		Timestamp:  time.Now().UTC(),
	}
}

func (p *EventPublisher) publish(ctx context.Context, event models.DonationEvent) {
	eventType := event.Type
	if p.sns == nil || p.topicArn == "" {
		p.logger.Debug("SNS not configured, skipping donation event", zap.String("event_type", eventType))
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal donation event", zap.Error(err))
		return
	}

	if err := p.sns.Publish(ctx, p.topicArn, payload, map[string]string{
		"event_type": eventType,
		"currency":   event.Currency,
	}); err != nil {
		p.logger.Error("Failed to publish donation event to SNS",
			zap.String("event_type", eventType),
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
		return
	}
	p.logger.Info("Donation event published to SNS",
		zap.String("event_type", eventType),
		zap.String("session_id", event.SessionID),
	)
}
