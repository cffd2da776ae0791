package models

import "time"

// WebhookEvent records a Stripe event id once it has been processed, so a
// redelivered event is recognised and skipped.
type WebhookEvent struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	EventID    string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"event_id"`
	EventType  string    `gorm:"type:varchar(100);not null" json:"event_type"`
	ObjectID   string    `gorm:"type:varchar(255)" json:"object_id"`
	ReceivedAt time.Time `gorm:"autoCreateTime" json:"received_at"`
}

// WebhookOutcome describes what a webhook delivery did to the ledger.
type WebhookOutcome string

const (
	WebhookOutcomeApplied   WebhookOutcome = "applied"
	WebhookOutcomeNoop      WebhookOutcome = "noop"
	WebhookOutcomeUnmatched WebhookOutcome = "unmatched"
	WebhookOutcomeReplayed  WebhookOutcome = "replayed"
	WebhookOutcomeIgnored   WebhookOutcome = "ignored"
)

// WebhookResult is returned to the webhook controller after an event is handled.
type WebhookResult struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Outcome   WebhookOutcome `json:"outcome"`
}
