package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for donation session and webhook processing
var (
	CheckoutSessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donation_checkout_sessions_created_total",
			Help: "Total number of Stripe checkout sessions created",
		},
		[]string{"mode"},
	)

	DuplicateSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "donation_duplicate_sessions_total",
			Help: "Total number of session requests answered with an existing pending session",
		},
	)

	ProcessorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donation_processor_errors_total",
			Help: "Total number of failed payment processor calls",
		},
		[]string{"operation"},
	)

	ProcessorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "donation_processor_request_duration_seconds",
			Help:    "Duration of payment processor calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donation_webhook_events_total",
			Help: "Total number of webhook events handled, by event type and outcome",
		},
		[]string{"event_type", "outcome"},
	)

	WebhookRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donation_webhook_rejected_total",
			Help: "Total number of webhook deliveries rejected before dispatch",
		},
		[]string{"reason"},
	)

	QueuedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "donation_queued_requests_total",
			Help: "Total number of donation requests consumed from the intake queue",
		},
		[]string{"result"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(CheckoutSessionsCreatedTotal)
	prometheus.MustRegister(DuplicateSessionsTotal)
	prometheus.MustRegister(ProcessorErrorsTotal)
	prometheus.MustRegister(ProcessorRequestDuration)
	prometheus.MustRegister(WebhookEventsTotal)
	prometheus.MustRegister(WebhookRejectedTotal)
	prometheus.MustRegister(QueuedRequestsTotal)
}
