package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DonationStatus is the ledger state of a donation attempt.
type DonationStatus string

const (
	DonationStatusPending   DonationStatus = "pending"
	DonationStatusPaid      DonationStatus = "paid"
	DonationStatusActive    DonationStatus = "active"
	DonationStatusFailed    DonationStatus = "failed"
	DonationStatusCancelled DonationStatus = "cancelled"
)

// transitions lists the states each status may move to. Anything not listed
// here (including every move back to pending) is rejected.
var transitions = map[DonationStatus][]DonationStatus{
	DonationStatusPending: {DonationStatusPaid, DonationStatusFailed, DonationStatusCancelled},
	DonationStatusPaid:    {DonationStatusActive},
	DonationStatusActive:  {DonationStatusActive, DonationStatusFailed},
}

// CanTransition reports whether a donation in status from may move to status to.
func CanTransition(from, to DonationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which to is reachable in one step.
func SourcesFor(to DonationStatus) []DonationStatus {
	var sources []DonationStatus
	for _, from := range []DonationStatus{
		DonationStatusPending,
		DonationStatusPaid,
		DonationStatusActive,
		DonationStatusFailed,
		DonationStatusCancelled,
	} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// IsTerminal reports whether no further transition is possible.
func (s DonationStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Donation is one donation attempt, from checkout session creation through its
// terminal state. Rows are never deleted.
type Donation struct {
	ID                   uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PayerEmail           *string        `gorm:"type:varchar(320);index:idx_donation_guard,priority:1" json:"payer_email"`
	AmountMinorUnits     int64          `gorm:"not null;index:idx_donation_guard,priority:2" json:"amount_minor_units"`
	Currency             string         `gorm:"type:varchar(3);not null" json:"currency"`
	StripeSessionID      string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"stripe_session_id"`
	StripePaymentID      *string        `gorm:"type:varchar(255);index" json:"stripe_payment_id"`
	StripeSubscriptionID *string        `gorm:"type:varchar(255);index" json:"stripe_subscription_id"`
	Recurring            bool           `gorm:"not null" json:"recurring"`
	Status               DonationStatus `gorm:"type:varchar(20);not null;index:idx_donation_guard,priority:3" json:"status"`
	CreatedAt            time.Time      `gorm:"autoCreateTime;index:idx_donation_guard,priority:4" json:"created_at"`
	PaidAt               *time.Time     `json:"paid_at"`
	LastPaymentAt        *time.Time     `json:"last_payment_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the primary key when the caller has not.
func (d *Donation) BeforeCreate(_ *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
