package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"donation-service/apperrors"
	"donation-service/models"
	"donation-service/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test_secret"

// --- Helpers ---

func eventPayload(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2020-08-27",
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return payload
}

func sign(payload []byte) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  testWebhookSecret,
	})
	return signed.Header
}

func newTestWebhookService(repo *mockRepo, cfg services.WebhookServiceConfig) services.WebhookService {
	return services.NewWebhookService(repo, nil, cfg, zap.NewNop())
}

func signedService(repo *mockRepo) services.WebhookService {
	return newTestWebhookService(repo, services.WebhookServiceConfig{WebhookSecret: testWebhookSecret})
}

func seedPending(repo *mockRepo, sessionID string, email *string) {
	repo.seed(&models.Donation{
		AmountMinorUnits: 2500,
		Currency:         "usd",
		StripeSessionID:  sessionID,
		PayerEmail:       email,
		Status:           models.DonationStatusPending,
		CreatedAt:        time.Now().Add(-time.Minute),
	})
}

// --- Checkout session events ---

func TestHandleEvent_CompletedMarksPaid(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", nil)
	svc := signedService(repo)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{
		"id":               "cs_1",
		"object":           "checkout.session",
		"payment_intent":   "pi_1",
		"customer_details": map[string]interface{}{"email": " Payer@Example.com"},
	})
	result, err := svc.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeApplied, result.Outcome)
	assert.Equal(t, "evt_1", result.EventID)

	d := repo.get("cs_1")
	assert.Equal(t, models.DonationStatusPaid, d.Status)
	require.NotNil(t, d.StripePaymentID)
	assert.Equal(t, "pi_1", *d.StripePaymentID)
	require.NotNil(t, d.PaidAt)
	require.NotNil(t, d.PayerEmail)
	assert.Equal(t, "payer@example.com", *d.PayerEmail)
}

func TestHandleEvent_CompletedKeepsExistingEmail(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", strPtr("first@example.com"))
	svc := signedService(repo)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{
		"id":             "cs_1",
		"customer_email": "other@example.com",
	})
	_, err := svc.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	d := repo.get("cs_1")
	assert.Equal(t, "first@example.com", *d.PayerEmail)
	// No payment intent or invoice: the session id stands in.
	assert.Equal(t, "cs_1", *d.StripePaymentID)
}

func TestHandleEvent_SubscriptionCheckoutRecordsSubscription(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_sub", nil)
	svc := signedService(repo)

	payload := eventPayload(t, "evt_sub", "checkout.session.completed", map[string]interface{}{
		"id":           "cs_sub",
		"mode":         "subscription",
		"invoice":      "in_1",
		"subscription": "sub_1",
	})
	_, err := svc.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	d := repo.get("cs_sub")
	assert.Equal(t, models.DonationStatusPaid, d.Status)
	assert.Equal(t, "in_1", *d.StripePaymentID)
	require.NotNil(t, d.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *d.StripeSubscriptionID)
}

func TestHandleEvent_ReplayIsNoop(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", nil)
	svc := signedService(repo)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{
		"id":             "cs_1",
		"payment_intent": "pi_1",
	})
	_, err := svc.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	paidAt := *repo.get("cs_1").PaidAt
	writes := repo.writeCount()

	result, err := svc.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeReplayed, result.Outcome)
	assert.Equal(t, writes, repo.writeCount())
	assert.True(t, paidAt.Equal(*repo.get("cs_1").PaidAt))
}

func TestHandleEvent_ExpiredAfterPaidIsNoop(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", nil)
	svc := signedService(repo)

	completed := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	_, err := svc.HandleEvent(context.Background(), completed, sign(completed))
	require.NoError(t, err)

	expired := eventPayload(t, "evt_2", "checkout.session.expired", map[string]interface{}{"id": "cs_1"})
	result, err := svc.HandleEvent(context.Background(), expired, sign(expired))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeNoop, result.Outcome)
	assert.Equal(t, models.DonationStatusPaid, repo.get("cs_1").Status)
}

func TestHandleEvent_ExpiredMarksPendingFailed(t *testing.T) {
	for _, eventType := range []string{"checkout.session.expired", "checkout.session.async_payment_failed"} {
		repo := newMockRepo()
		seedPending(repo, "cs_1", nil)
		svc := signedService(repo)

		payload := eventPayload(t, "evt_"+eventType, eventType, map[string]interface{}{"id": "cs_1"})
		result, err := svc.HandleEvent(context.Background(), payload, sign(payload))
		require.NoError(t, err, eventType)
		assert.Equal(t, models.WebhookOutcomeApplied, result.Outcome, eventType)
		assert.Equal(t, models.DonationStatusFailed, repo.get("cs_1").Status, eventType)
	}
}

func TestHandleEvent_UnmatchedSessionIsAcknowledged(t *testing.T) {
	repo := newMockRepo()
	svc := signedService(repo)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_unknown"})
	result, err := svc.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeUnmatched, result.Outcome)
	assert.Equal(t, 0, repo.count())
}

// --- Subscription and payment intent events ---

func TestHandleEvent_InvoiceLifecycle(t *testing.T) {
	repo := newMockRepo()
	repo.seed(&models.Donation{
		AmountMinorUnits:     1000,
		Currency:             "usd",
		StripeSessionID:      "cs_sub",
		StripeSubscriptionID: strPtr("sub_1"),
		Recurring:            true,
		Status:               models.DonationStatusPaid,
		CreatedAt:            time.Now().Add(-time.Hour),
	})
	svc := signedService(repo)

	succeeded := eventPayload(t, "evt_inv_1", "invoice.payment_succeeded", map[string]interface{}{
		"id":           "in_2",
		"object":       "invoice",
		"subscription": "sub_1",
	})
	result, err := svc.HandleEvent(context.Background(), succeeded, sign(succeeded))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeApplied, result.Outcome)
	d := repo.get("cs_sub")
	assert.Equal(t, models.DonationStatusActive, d.Status)
	assert.NotNil(t, d.LastPaymentAt)

	failed := eventPayload(t, "evt_inv_2", "invoice.payment_failed", map[string]interface{}{
		"id":           "in_3",
		"object":       "invoice",
		"subscription": "sub_1",
	})
	result, err = svc.HandleEvent(context.Background(), failed, sign(failed))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeApplied, result.Outcome)
	assert.Equal(t, models.DonationStatusFailed, repo.get("cs_sub").Status)
}

func TestHandleEvent_InvoiceWithoutSubscriptionIsIgnored(t *testing.T) {
	repo := newMockRepo()
	svc := signedService(repo)

	payload := eventPayload(t, "evt_inv", "invoice.payment_succeeded", map[string]interface{}{"id": "in_1"})
	result, err := svc.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeIgnored, result.Outcome)
	assert.Equal(t, 0, repo.writeCount())
}

func TestHandleEvent_SubscriptionOrderingConverges(t *testing.T) {
	completed := func(t *testing.T) []byte {
		return eventPayload(t, "evt_cs", "checkout.session.completed", map[string]interface{}{
			"id":           "cs_sub",
			"mode":         "subscription",
			"invoice":      "in_1",
			"subscription": "sub_9",
		})
	}
	invoice := func(t *testing.T) []byte {
		return eventPayload(t, "evt_in", "invoice.payment_succeeded", map[string]interface{}{
			"id":           "in_1",
			"object":       "invoice",
			"subscription": "sub_9",
		})
	}

	tests := []struct {
		name     string
		order    func(t *testing.T) [][]byte
		outcomes []models.WebhookOutcome
	}{
		{
			name:     "checkout then invoice",
			order:    func(t *testing.T) [][]byte { return [][]byte{completed(t), invoice(t)} },
			outcomes: []models.WebhookOutcome{models.WebhookOutcomeApplied, models.WebhookOutcomeApplied},
		},
		{
			name:     "invoice then checkout",
			order:    func(t *testing.T) [][]byte { return [][]byte{invoice(t), completed(t)} },
			outcomes: []models.WebhookOutcome{models.WebhookOutcomeUnmatched, models.WebhookOutcomeApplied},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepo()
			repo.seed(&models.Donation{
				AmountMinorUnits: 1000,
				Currency:         "usd",
				StripeSessionID:  "cs_sub",
				Recurring:        true,
				Status:           models.DonationStatusPending,
				CreatedAt:        time.Now().Add(-time.Minute),
			})
			svc := signedService(repo)

			for i, payload := range tt.order(t) {
				result, err := svc.HandleEvent(context.Background(), payload, sign(payload))
				require.NoError(t, err)
				assert.Equal(t, tt.outcomes[i], result.Outcome)
			}

			d := repo.get("cs_sub")
			assert.Equal(t, models.DonationStatusActive, d.Status)
			require.NotNil(t, d.StripeSubscriptionID)
			assert.Equal(t, "sub_9", *d.StripeSubscriptionID)
			assert.NotNil(t, d.PaidAt)
			assert.NotNil(t, d.LastPaymentAt)
		})
	}
}

func TestHandleEvent_InvoiceTouchesOnlyItsSubscription(t *testing.T) {
	repo := newMockRepo()
	repo.seed(&models.Donation{
		AmountMinorUnits:     1000,
		Currency:             "usd",
		StripeSessionID:      "cs_sub_1",
		StripeSubscriptionID: strPtr("sub_1"),
		Recurring:            true,
		Status:               models.DonationStatusActive,
		CreatedAt:            time.Now().Add(-2 * time.Hour),
	})
	repo.seed(&models.Donation{
		AmountMinorUnits:     2000,
		Currency:             "usd",
		StripeSessionID:      "cs_sub_2",
		StripeSubscriptionID: strPtr("sub_2"),
		Recurring:            true,
		Status:               models.DonationStatusPaid,
		CreatedAt:            time.Now().Add(-time.Hour),
	})
	seedPending(repo, "cs_new", nil)
	svc := signedService(repo)

	invoice := eventPayload(t, "evt_in_2", "invoice.payment_succeeded", map[string]interface{}{
		"id":           "in_2",
		"object":       "invoice",
		"subscription": "sub_2",
	})
	result, err := svc.HandleEvent(context.Background(), invoice, sign(invoice))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeApplied, result.Outcome)

	completed := eventPayload(t, "evt_cs_new", "checkout.session.completed", map[string]interface{}{
		"id":           "cs_new",
		"mode":         "subscription",
		"subscription": "sub_3",
	})
	result, err = svc.HandleEvent(context.Background(), completed, sign(completed))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeApplied, result.Outcome)

	first := repo.get("cs_sub_1")
	assert.Equal(t, models.DonationStatusActive, first.Status)
	assert.Nil(t, first.LastPaymentAt)

	second := repo.get("cs_sub_2")
	assert.Equal(t, models.DonationStatusActive, second.Status)
	assert.NotNil(t, second.LastPaymentAt)
	assert.Nil(t, second.PaidAt)

	fresh := repo.get("cs_new")
	assert.Equal(t, models.DonationStatusPaid, fresh.Status)
	assert.Equal(t, "sub_3", *fresh.StripeSubscriptionID)
	assert.Nil(t, fresh.LastPaymentAt)
}

func TestHandleEvent_UnknownTypeIsIgnored(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", nil)
	svc := signedService(repo)

	events := map[string]map[string]interface{}{
		"customer.created":              {"id": "cus_1"},
		"payment_intent.payment_failed": {"id": "pi_1", "object": "payment_intent"},
	}
	for eventType, object := range events {
		payload := eventPayload(t, "evt_"+eventType, eventType, object)
		result, err := svc.HandleEvent(context.Background(), payload, sign(payload))
		require.NoError(t, err)
		assert.Equal(t, models.WebhookOutcomeIgnored, result.Outcome, eventType)
	}
	assert.Equal(t, 0, repo.writeCount())
	assert.Equal(t, models.DonationStatusPending, repo.get("cs_1").Status)
}

// --- Authentication and parsing ---

func TestHandleEvent_BadSignatureWritesNothing(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", nil)
	svc := signedService(repo)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_wrong"})

	_, err := svc.HandleEvent(context.Background(), payload, forged.Header)
	assertKind(t, err, apperrors.KindAuthentication)

	_, err = svc.HandleEvent(context.Background(), payload, "")
	assertKind(t, err, apperrors.KindAuthentication)

	assert.Equal(t, 0, repo.writeCount())
	assert.Equal(t, models.DonationStatusPending, repo.get("cs_1").Status)
}

func TestHandleEvent_UnsignedAcceptedOutsideProduction(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", nil)
	svc := newTestWebhookService(repo, services.WebhookServiceConfig{})

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	result, err := svc.HandleEvent(context.Background(), payload, "")
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeApplied, result.Outcome)
}

func TestHandleEvent_UnsignedRejectedInProduction(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", nil)
	svc := newTestWebhookService(repo, services.WebhookServiceConfig{Production: true})

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	_, err := svc.HandleEvent(context.Background(), payload, "")
	assertKind(t, err, apperrors.KindConfiguration)
	assert.Equal(t, 0, repo.writeCount())
}

func TestHandleEvent_GarbagePayload(t *testing.T) {
	svc := newTestWebhookService(newMockRepo(), services.WebhookServiceConfig{})

	_, err := svc.HandleEvent(context.Background(), []byte("not json"), "")
	assertKind(t, err, apperrors.KindParse)

	_, err = svc.HandleEvent(context.Background(), []byte(`{"id":"evt_1"}`), "")
	assertKind(t, err, apperrors.KindParse)
}

// --- Store failures and cancellation ---

func TestHandleEvent_StoreFailure(t *testing.T) {
	repo := newMockRepo()
	repo.applyErr = errors.New("connection refused")
	svc := signedService(repo)

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	_, err := svc.HandleEvent(context.Background(), payload, sign(payload))
	assertKind(t, err, apperrors.KindInternal)
}

func TestHandleEvent_AppliesAfterCallerCancels(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", nil)
	svc := signedService(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	result, err := svc.HandleEvent(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, models.WebhookOutcomeApplied, result.Outcome)
	assert.Equal(t, models.DonationStatusPaid, repo.get("cs_1").Status)
}

func TestHandleEvent_PublishesStatusChange(t *testing.T) {
	repo := newMockRepo()
	seedPending(repo, "cs_1", nil)
	sns := &mockSNSPublisher{}
	publisher := services.NewEventPublisher(sns, "arn:aws:sns:us-east-1:000000000000:donation-events", zap.NewNop())
	svc := services.NewWebhookService(repo, publisher,
		services.WebhookServiceConfig{WebhookSecret: testWebhookSecret}, zap.NewNop())

	payload := eventPayload(t, "evt_1", "checkout.session.completed", map[string]interface{}{"id": "cs_1"})
	_, err := svc.HandleEvent(context.Background(), payload, sign(payload))
	require.NoError(t, err)

	require.Equal(t, 1, sns.count())
	var event models.DonationEvent
	require.NoError(t, json.Unmarshal(sns.published[0], &event))
	assert.Equal(t, "donation.paid", event.Type)
	assert.Equal(t, "cs_1", event.SessionID)
	assert.Equal(t, "donation.paid", sns.attributes[0]["event_type"])
}
