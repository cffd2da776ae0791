package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"donation-service/apperrors"
	"donation-service/metrics"
	"donation-service/models"
	"donation-service/repository"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// maxAmountMinorUnits is the largest single charge Stripe accepts (999,999.99).
const maxAmountMinorUnits = 99_999_999

// DonationService defines the donation session operations.
type DonationService interface {
	CreateSession(ctx context.Context, req *models.CreateSessionRequest) (*models.CreateSessionResponse, error)
	GetSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

// DonationServiceConfig holds the settings the session flow needs.
type DonationServiceConfig struct {
	ClientURL        string
	ProcessorTimeout time.Duration
}

type donationServiceImpl struct {
	repo      repository.DonationRepository
	processor PaymentProcessor
	guard     *DuplicateGuard
	locker    Locker
	publisher *EventPublisher
	validate  *validator.Validate
	cfg       DonationServiceConfig
	logger    *zap.Logger
}

// NewDonationService creates a new DonationService.
func NewDonationService(
	repo repository.DonationRepository,
	processor PaymentProcessor,
	guard *DuplicateGuard,
	locker Locker,
	publisher *EventPublisher,
	cfg DonationServiceConfig,
	logger *zap.Logger,
) DonationService {
	if cfg.ProcessorTimeout <= 0 {
		cfg.ProcessorTimeout = 15 * time.Second
	}
	cfg.ClientURL = strings.TrimRight(cfg.ClientURL, "/")
	return &donationServiceImpl{
		repo:      repo,
		processor: processor,
		guard:     guard,
		locker:    locker,
		publisher: publisher,
		validate:  validator.New(),
		cfg:       cfg,
		logger:    logger,
	}
}

type validatedRequest struct {
	amountMinorUnits int64
	currency         string
	email            string
	recurring        bool
}

func (s *donationServiceImpl) validateRequest(req *models.CreateSessionRequest) (*validatedRequest, error) {
	if req == nil || req.Amount == nil {
		return nil, apperrors.Validation("amount", "Invalid amount")
	}
	amount := *req.Amount
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, apperrors.Validation("amount", "Invalid amount")
	}
	minor := math.Round(amount * 100)
	if minor < 1 || minor > maxAmountMinorUnits {
		return nil, apperrors.Validation("amount", "Invalid amount")
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}
	if err := s.validate.Var(currency, "len=3,alpha"); err != nil {
		return nil, apperrors.Validation("currency", "Invalid currency")
	}

	var email string
	if req.Email != nil {
		email = strings.ToLower(strings.TrimSpace(*req.Email))
		if email != "" {
			if err := s.validate.Var(email, "email"); err != nil {
				return nil, apperrors.Validation("email", "Invalid email")
			}
		}
	}

	recurring := false
	if req.Recurring != nil {
		recurring = *req.Recurring
	}

	return &validatedRequest{
		amountMinorUnits: int64(minor),
		currency:         currency,
		email:            email,
		recurring:        recurring,
	}, nil
}

func lockKey(email string, amountMinorUnits int64) string {
	return fmt.Sprintf("%s:%d", email, amountMinorUnits)
}

// CreateSession validates the request, reuses a recent pending session for the
// same payer and amount, or creates a new Stripe checkout session and records
// it as pending.
func (s *donationServiceImpl) CreateSession(ctx context.Context, req *models.CreateSessionRequest) (*models.CreateSessionResponse, error) {
	v, err := s.validateRequest(req)
	if err != nil {
		return nil, err
	}

	if !s.processor.Configured() {
		return nil, apperrors.Configuration("Payment provider not configured")
	}

	if v.email != "" {
		unlock, err := s.locker.Lock(ctx, lockKey(v.email, v.amountMinorUnits))
		if err != nil {
			return nil, apperrors.Internal("Failed to acquire donation lock", err)
		}
		defer unlock()

		existing, err := s.guard.FindRecentPending(ctx, v.email, v.amountMinorUnits)
		if err != nil {
			s.logger.Error("Duplicate lookup failed", zap.Error(err))
			return nil, apperrors.Internal("Failed to check for duplicate donation", err)
		}
		if existing != nil {
			metrics.DuplicateSessionsTotal.Inc()
			s.logger.Info("Reusing recent pending checkout session",
				zap.String("session_id", existing.StripeSessionID),
				zap.Int64("amount_minor_units", v.amountMinorUnits),
			)
			return &models.CreateSessionResponse{
				OK:        true,
				SessionID: existing.StripeSessionID,
				Duplicate: true,
			}, nil
		}
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
	sess, err := s.processor.CreateCheckoutSession(pctx, CheckoutRequest{
		AmountMinorUnits: v.amountMinorUnits,
		Currency:         v.currency,
		Email:            v.email,
		Recurring:        v.recurring,
		SuccessURL:       s.cfg.ClientURL + "/donate/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:        s.cfg.ClientURL + "/donate/cancel",
	})
	cancel()
	if err != nil {
		s.logger.Error("Stripe checkout session creation failed",
			zap.Int64("amount_minor_units", v.amountMinorUnits),
			zap.Bool("recurring", v.recurring),
			zap.Error(err),
		)
		if appErr, ok := apperrors.As(err); ok {
			return nil, appErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Processor("Payment processor timed out", err)
		}
		return nil, apperrors.Processor("Failed to create checkout session", err)
	}

	donation := &models.Donation{
		AmountMinorUnits: v.amountMinorUnits,
		Currency:         v.currency,
		StripeSessionID:  sess.ID,
		Recurring:        v.recurring,
		Status:           models.DonationStatusPending,
	}
	if v.email != "" {
		email := v.email
		donation.PayerEmail = &email
	}

	// The session exists at Stripe now; record it even if the caller went away.
	if err := s.repo.Create(context.WithoutCancel(ctx), donation); err != nil {
		s.logger.Error("Failed to save donation",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
		return nil, apperrors.Internal("Failed to save donation", err)
	}

	mode := "payment"
	if v.recurring {
		mode = "subscription"
	}
	metrics.CheckoutSessionsCreatedTotal.WithLabelValues(mode).Inc()
	s.logger.Info("Checkout session created",
		zap.String("session_id", sess.ID),
		zap.String("donation_id", donation.ID.String()),
		zap.Int64("amount_minor_units", v.amountMinorUnits),
		zap.String("currency", v.currency),
		zap.Bool("recurring", v.recurring),
	)
	s.publisher.PublishSessionCreated(ctx, donation, sess.URL, req.Reference)

	resp := &models.CreateSessionResponse{OK: true, SessionID: sess.ID}
	if sess.URL != "" {
		url := sess.URL
		resp.URL = &url
	}
	return resp, nil
}

// GetSession returns the Stripe checkout session with its payment intent.
func (s *donationServiceImpl) GetSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.Validation("id", "Missing session id")
	}
	if !s.processor.Configured() {
		return nil, apperrors.Configuration("Payment provider not configured")
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessorTimeout)
	defer cancel()

	sess, err := s.processor.RetrieveSession(pctx, sessionID)
	if err != nil {
		if appErr, ok := apperrors.As(err); ok {
			if appErr.Kind != apperrors.KindNotFound {
				s.logger.Error("Failed to retrieve checkout session", zap.String("session_id", sessionID), zap.Error(err))
			}
			return nil, appErr
		}
		s.logger.Error("Failed to retrieve checkout session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, apperrors.Processor("Failed to retrieve checkout session", err)
	}
	return sess, nil
}
