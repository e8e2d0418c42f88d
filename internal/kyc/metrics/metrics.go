package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var vendorBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics provides observability for the KYC flow.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsStarted   *prometheus.CounterVec
	Outcomes          *prometheus.CounterVec
	DuplicateAccounts prometheus.Counter
	SessionsExpired   prometheus.Counter
	WebhookEvents     *prometheus.CounterVec
	VendorDuration    *prometheus.HistogramVec
}

// New creates the KYC metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ampel_kyc_sessions_started_total",
			Help: "KYC sessions created, by device class",
		}, []string{"device"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ampel_kyc_verification_outcomes_total",
			Help: "Verification status writes, by resulting status and source",
		}, []string{"status", "source"}),
		DuplicateAccounts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ampel_kyc_duplicate_accounts_total",
			Help: "Approvals demoted because the vendor account is linked elsewhere",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "ampel_kyc_sessions_expired_total",
			Help: "Sessions flipped to expired on access",
		}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ampel_kyc_webhook_events_total",
			Help: "Inbound vendor webhooks, by result",
		}, []string{"result"}),
		VendorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ampel_kyc_vendor_request_duration_seconds",
			Help:    "Latency of verification vendor API calls",
			Buckets: vendorBuckets,
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) IncrementSessionStarted(device string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(device).Inc()
}

// IncrementOutcome records a verification status write. source is
// "callback" or "webhook".
func (m *Metrics) IncrementOutcome(status, source string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(status, source).Inc()
}

func (m *Metrics) IncrementDuplicateAccount() {
	if m == nil {
		return
	}
	m.DuplicateAccounts.Inc()
}

func (m *Metrics) IncrementSessionExpired() {
	if m == nil {
		return
	}
	m.SessionsExpired.Inc()
}

// IncrementWebhook records a webhook by result: processed, duplicate,
// rejected or failed.
func (m *Metrics) IncrementWebhook(result string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(result).Inc()
}

// ObserveVendorCall records the duration of a vendor API call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveVendorCall(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.VendorDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}
