package services

import (
	"context"
	"encoding/json"
	"errors"

	"donation-service/apperrors"
	"donation-service/metrics"
	"donation-service/models"

	aws_pkg "donation-service/pkg/aws"

	"go.uber.org/zap"
)

// MessagePoller delivers queue message bodies to a handler until ctx ends.
type MessagePoller interface {
	StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// DonationRequestConsumer feeds queued donation requests through the same
// session flow as the HTTP endpoint.
type DonationRequestConsumer struct {
	poller  MessagePoller
	service DonationService
	logger  *zap.Logger
}

func NewDonationRequestConsumer(poller MessagePoller, service DonationService, logger *zap.Logger) *DonationRequestConsumer {
	return &DonationRequestConsumer{poller: poller, service: service, logger: logger}
}

func (c *DonationRequestConsumer) Start(ctx context.Context) {
	c.logger.Info("Starting DonationRequestConsumer (SQS)")

	err := c.poller.StartPolling(ctx, c.HandleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("SQS consumer error", zap.Error(err))
	}
}

// HandleMessage processes one queued request. Returning nil deletes the
// message; malformed and invalid requests are dropped, everything else is
// left for redelivery.
func (c *DonationRequestConsumer) HandleMessage(ctx context.Context, body string) error {
	var req models.DonationRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		c.logger.Warn("Invalid donation request JSON", zap.Error(err))
		metrics.QueuedRequestsTotal.WithLabelValues("invalid").Inc()
		return nil
	}

	amount := req.Amount
	recurring := req.Recurring
	sessionReq := &models.CreateSessionRequest{
		Amount:    &amount,
		Currency:  req.Currency,
		Recurring: &recurring,
		Reference: req.Reference,
	}
	if req.Email != "" {
		email := req.Email
		sessionReq.Email = &email
	}

	resp, err := c.service.CreateSession(ctx, sessionReq)
	if err != nil {
		if apperrors.Is(err, apperrors.KindValidation) {
			c.logger.Warn("Dropping invalid donation request", zap.Error(err))
			metrics.QueuedRequestsTotal.WithLabelValues("invalid").Inc()
			return nil
		}
		c.logger.Error("Failed to process donation request", zap.Error(err))
		metrics.QueuedRequestsTotal.WithLabelValues("failed").Inc()
		return err
	}

	result := "created"
	if resp.Duplicate {
		result = "duplicate"
	}
	metrics.QueuedRequestsTotal.WithLabelValues(result).Inc()
	c.logger.Info("Donation request processed",
		zap.String("session_id", resp.SessionID),
		zap.Bool("duplicate", resp.Duplicate),
	)
	return nil
}
