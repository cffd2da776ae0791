package models

import "time"

type DonationEvent struct {
	Type       string    `json:"type"` // e.g. "donation.session_created", "donation.paid"
	DonationID string    `json:"donation_id"`
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`   // smallest currency unit
	Currency   string    `json:"currency"` // "usd", "eur"
	Recurring  bool      `json:"recurring"`
	Timestamp  time.Time `json:"timestamp"` // UTC event time

	// Set on donation.session_created only. Queued requests have no HTTP
	// caller, so this is where their redirect URL ends up.
	CheckoutURL string `json:"checkout_url,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

// DonationRequest is the queued form of a checkout session request.
type DonationRequest struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Email     string  `json:"email,omitempty"`
	Recurring bool    `json:"recurring"`
	Reference string  `json:"reference,omitempty"` // echoed on donation.session_created
}

// CreateSessionRequest is the payload for POST /api/donations/create-checkout-session.
type CreateSessionRequest struct {
	Amount    *float64 `json:"amount"`
	Currency  string   `json:"currency"`
	Email     *string  `json:"email"`
	Recurring *bool    `json:"recurring"`
	Reference string   `json:"-"`
}

// CreateSessionResponse carries the checkout session the client should redirect to.
// URL is nil when the caller must complete the redirect with the session id.
type CreateSessionResponse struct {
	OK        bool    `json:"ok"`
	SessionID string  `json:"sessionId"`
	URL       *string `json:"url"`
	Duplicate bool    `json:"-"`
}
