package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"donation-service/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExternalRef names the Stripe identifier a webhook transition is keyed on.
// Transitions are never keyed on the local donation id.
type ExternalRef int

const (
	BySessionID ExternalRef = iota
	BySubscriptionID
)

func (r ExternalRef) column() string {
	if r == BySubscriptionID {
		return "stripe_subscription_id"
	}
	return "stripe_session_id"
}

func (r ExternalRef) String() string {
	if r == BySubscriptionID {
		return "subscription_id"
	}
	return "session_id"
}

// Transition is a conditional status change for the donation(s) matching an
// external Stripe identifier. From defaults to every status that may legally
// move to To. FillEmail sets payer_email only where it is still null.
type Transition struct {
	By        ExternalRef
	Value     string
	To        models.DonationStatus
	From      []models.DonationStatus
	Updates   map[string]interface{}
	FillEmail string
	CatchUp   *CatchUp
}

// CatchUp replays an event that was recorded before the donation could be
// matched to it. When the transition applies and a webhook event of EventType
// for ObjectID is already recorded, the donation moves on from the
// transition's target status to To in the same transaction.
type CatchUp struct {
	EventType string
	ObjectID  string
	To        models.DonationStatus
	Updates   map[string]interface{}
}

// TransitionResult reports what ApplyTransition did. Donation is the row as it
// stands after the call, or nil when nothing matched. CaughtUp is set when a
// CatchUp step was applied as well.
type TransitionResult struct {
	Outcome  models.WebhookOutcome
	Donation *models.Donation
	CaughtUp bool
}

// DonationRepository is the donation ledger.
type DonationRepository interface {
	Create(ctx context.Context, donation *models.Donation) error
	FindRecentPending(ctx context.Context, email string, amountMinorUnits int64, since time.Time) (*models.Donation, error)
	ApplyTransition(ctx context.Context, event *models.WebhookEvent, t Transition) (*TransitionResult, error)
}

// GormDonationRepository implements DonationRepository using GORM.
type GormDonationRepository struct {
	db *gorm.DB
}

// NewGormDonationRepository creates a new GormDonationRepository.
func NewGormDonationRepository(db *gorm.DB) DonationRepository {
	return &GormDonationRepository{db: db}
}

// Create inserts a new donation attempt.
func (r *GormDonationRepository) Create(ctx context.Context, donation *models.Donation) error {
	return r.db.WithContext(ctx).Create(donation).Error
}

// FindRecentPending returns the newest pending donation for the email/amount
// pair created at or after since, or nil when there is none.
func (r *GormDonationRepository) FindRecentPending(ctx context.Context, email string, amountMinorUnits int64, since time.Time) (*models.Donation, error) {
	var d models.Donation
	err := r.db.WithContext(ctx).
		Where("payer_email = ? AND amount_minor_units = ? AND status = ? AND created_at >= ?",
			email, amountMinorUnits, models.DonationStatusPending, since).
		Order("created_at DESC").
		First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ApplyTransition records event (when non-nil) and applies t as one
// conditional UPDATE inside a single transaction. A previously recorded event
// id short-circuits to WebhookOutcomeReplayed without touching the donation.
func (r *GormDonationRepository) ApplyTransition(ctx context.Context, event *models.WebhookEvent, t Transition) (*TransitionResult, error) {
	from := t.From
	if len(from) == 0 {
		from = models.SourcesFor(t.To)
	}
	if len(from) == 0 {
		return nil, fmt.Errorf("no status can transition to %q", t.To)
	}

	updates := map[string]interface{}{"status": t.To}
	for k, v := range t.Updates {
		updates[k] = v
	}
	if t.FillEmail != "" {
		updates["payer_email"] = gorm.Expr("COALESCE(payer_email, ?)", t.FillEmail)
	}

	result := &TransitionResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if event != nil {
			ins := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "event_id"}},
				DoNothing: true,
			}).Create(event)
			if ins.Error != nil {
				return fmt.Errorf("record webhook event: %w", ins.Error)
			}
			if ins.RowsAffected == 0 {
				result.Outcome = models.WebhookOutcomeReplayed
				return nil
			}
		}

		col := t.By.column()
		upd := tx.Model(&models.Donation{}).
			Where(col+" = ? AND status IN ?", t.Value, from).
			Updates(updates)
		if upd.Error != nil {
			return fmt.Errorf("update donation status: %w", upd.Error)
		}
		if upd.RowsAffected > 0 && t.CatchUp != nil {
			caught, err := applyCatchUp(tx, t)
			if err != nil {
				return err
			}
			result.CaughtUp = caught
		}

		var current models.Donation
		err := tx.Where(col+" = ?", t.Value).Order("created_at DESC").First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result.Outcome = models.WebhookOutcomeUnmatched
			return nil
		}
		if err != nil {
			return fmt.Errorf("load donation: %w", err)
		}

		result.Donation = &current
		if upd.RowsAffected > 0 {
			result.Outcome = models.WebhookOutcomeApplied
		} else {
			result.Outcome = models.WebhookOutcomeNoop
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyCatchUp runs inside ApplyTransition's transaction, after t has moved
// the matching rows to t.To.
func applyCatchUp(tx *gorm.DB, t Transition) (bool, error) {
	c := t.CatchUp
	if c.ObjectID == "" || !models.CanTransition(t.To, c.To) {
		return false, nil
	}

	var recorded int64
	if err := tx.Model(&models.WebhookEvent{}).
		Where("event_type = ? AND object_id = ?", c.EventType, c.ObjectID).
		Count(&recorded).Error; err != nil {
		return false, fmt.Errorf("look up recorded %s: %w", c.EventType, err)
	}
	if recorded == 0 {
		return false, nil
	}

	updates := map[string]interface{}{"status": c.To}
	for k, v := range c.Updates {
		updates[k] = v
	}
	upd := tx.Model(&models.Donation{}).
		Where(t.By.column()+" = ? AND status = ?", t.Value, t.To).
		Updates(updates)
	if upd.Error != nil {
		return false, fmt.Errorf("catch up donation status: %w", upd.Error)
	}
	return upd.RowsAffected > 0, nil
}
