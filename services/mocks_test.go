package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"donation-service/models"
	"donation-service/repository"
	"donation-service/services"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v80"
)

// --- Mock Repository ---

// mockRepo keeps donations in memory and applies transitions with the same
// conditional semantics as the SQL store.
type mockRepo struct {
	mu        sync.Mutex
	donations []*models.Donation
	events    map[string]*models.WebhookEvent
	writes    int
	createErr error
	applyErr  error
}

func newMockRepo() *mockRepo {
	return &mockRepo{events: make(map[string]*models.WebhookEvent)}
}

func (m *mockRepo) Create(_ context.Context, d *models.Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.donations {
		if existing.StripeSessionID == d.StripeSessionID {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.donations = append(m.donations, &cp)
	m.writes++
	return nil
}

func (m *mockRepo) FindRecentPending(_ context.Context, email string, amount int64, since time.Time) (*models.Donation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Donation
	for _, d := range m.donations {
		if d.PayerEmail == nil || *d.PayerEmail != email || d.AmountMinorUnits != amount {
			continue
		}
		if d.Status != models.DonationStatusPending || d.CreatedAt.Before(since) {
			continue
		}
		if best == nil || d.CreatedAt.After(best.CreatedAt) {
			best = d
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func refValue(d *models.Donation, by repository.ExternalRef) string {
	if by == repository.BySubscriptionID {
		if d.StripeSubscriptionID != nil {
			return *d.StripeSubscriptionID
		}
		return ""
	}
	return d.StripeSessionID
}

func (m *mockRepo) ApplyTransition(_ context.Context, event *models.WebhookEvent, t repository.Transition) (*repository.TransitionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return nil, m.applyErr
	}

	from := t.From
	if len(from) == 0 {
		from = models.SourcesFor(t.To)
	}
	if len(from) == 0 {
		return nil, fmt.Errorf("no status can transition to %q", t.To)
	}

	if event != nil {
		if _, seen := m.events[event.EventID]; seen {
			return &repository.TransitionResult{Outcome: models.WebhookOutcomeReplayed}, nil
		}
		cp := *event
		m.events[event.EventID] = &cp
		m.writes++
	}

	var latest *models.Donation
	applied := false
	for _, d := range m.donations {
		if t.Value == "" || refValue(d, t.By) != t.Value {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			latest = d
		}
		if !containsStatus(from, d.Status) {
			continue
		}
		d.Status = t.To
		applyUpdates(d, t.Updates)
		if t.FillEmail != "" && d.PayerEmail == nil {
			email := t.FillEmail
			d.PayerEmail = &email
		}
		d.UpdatedAt = time.Now()
		applied = true
		m.writes++
	}

	caughtUp := false
	if applied && t.CatchUp != nil && m.recorded(t.CatchUp.EventType, t.CatchUp.ObjectID) &&
		models.CanTransition(t.To, t.CatchUp.To) {
		for _, d := range m.donations {
			if refValue(d, t.By) != t.Value || d.Status != t.To {
				continue
			}
			d.Status = t.CatchUp.To
			applyUpdates(d, t.CatchUp.Updates)
			caughtUp = true
			m.writes++
		}
	}

	if latest == nil {
		return &repository.TransitionResult{Outcome: models.WebhookOutcomeUnmatched}, nil
	}
	cp := *latest
	outcome := models.WebhookOutcomeNoop
	if applied {
		outcome = models.WebhookOutcomeApplied
	}
	return &repository.TransitionResult{Outcome: outcome, Donation: &cp, CaughtUp: caughtUp}, nil
}

func (m *mockRepo) recorded(eventType, objectID string) bool {
	if objectID == "" {
		return false
	}
	for _, e := range m.events {
		if e.EventType == eventType && e.ObjectID == objectID {
			return true
		}
	}
	return false
}

func applyUpdates(d *models.Donation, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "stripe_payment_id":
			s := v.(string)
			d.StripePaymentID = &s
		case "stripe_subscription_id":
			s := v.(string)
			d.StripeSubscriptionID = &s
		case "paid_at":
			ts := v.(time.Time)
			d.PaidAt = &ts
		case "last_payment_at":
			ts := v.(time.Time)
			d.LastPaymentAt = &ts
		}
	}
}

func containsStatus(list []models.DonationStatus, s models.DonationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.donations)
}

func (m *mockRepo) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *mockRepo) get(sessionID string) *models.Donation {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.donations {
		if d.StripeSessionID == sessionID {
			cp := *d
			return &cp
		}
	}
	return nil
}

// seed inserts d directly, keeping its CreatedAt.
func (m *mockRepo) seed(d *models.Donation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.donations = append(m.donations, d)
}

// --- Mock Processor ---

type mockProcessor struct {
	configured bool
	delay      time.Duration
	createErr  error
	blockUntil bool
	calls      int32
	requests   []services.CheckoutRequest
	mu         sync.Mutex
	retrieveFn func(ctx context.Context, id string) (*stripe.CheckoutSession, error)
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{configured: true}
}

func (p *mockProcessor) Configured() bool { return p.configured }

func (p *mockProcessor) CreateCheckoutSession(ctx context.Context, req services.CheckoutRequest) (*services.CheckoutSession, error) {
	n := atomic.AddInt32(&p.calls, 1)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.blockUntil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.createErr != nil {
		return nil, p.createErr
	}
	id := fmt.Sprintf("cs_test_%d", n)
	return &services.CheckoutSession{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

func (p *mockProcessor) RetrieveSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	if p.retrieveFn != nil {
		return p.retrieveFn(ctx, id)
	}
	return &stripe.CheckoutSession{ID: id}, nil
}

func (p *mockProcessor) callCount() int {
	return int(atomic.LoadInt32(&p.calls))
}

func (p *mockProcessor) lastRequest() services.CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

// --- Mock SNS Publisher ---

type mockSNSPublisher struct {
	mu         sync.Mutex
	published  [][]byte
	attributes []map[string]string
}

func (m *mockSNSPublisher) Publish(_ context.Context, _ string, message []byte, attributes map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, message)
	m.attributes = append(m.attributes, attributes)
	return nil
}

func (m *mockSNSPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool        { return &b }
