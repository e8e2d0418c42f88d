package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"ampel/internal/kyc/linker"
	"ampel/internal/kyc/metrics"
	"ampel/internal/kyc/models"
	"ampel/internal/kyc/persona"
	"ampel/internal/kyc/store/link"
	"ampel/internal/kyc/store/session"
	"ampel/internal/kyc/store/verification"
	id "ampel/pkg/domain"
	dErrors "ampel/pkg/domain-errors"
	"ampel/pkg/platform/audit"
	"ampel/pkg/platform/audit/publisher"
)

var errStoreDown = errors.New("store unavailable")

// flakySessions fails the next failures inquiry lookups.
type flakySessions struct {
	*session.InMemoryStore
	mu       sync.Mutex
	failures int
}

func (f *flakySessions) FindByInquiryID(ctx context.Context, inquiryID id.InquiryID) (*models.Session, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errStoreDown
	}
	f.mu.Unlock()
	return f.InMemoryStore.FindByInquiryID(ctx, inquiryID)
}

type failingVerifications struct {
	*verification.InMemoryStore
}

func (failingVerifications) Upsert(context.Context, *models.Verification) error {
	return errStoreDown
}

type failingLinks struct {
	*link.InMemoryStore
}

func (failingLinks) Upsert(context.Context, *models.IdentityLink) error {
	return errStoreDown
}

type serviceDeps struct {
	sessions      SessionStore
	verifications VerificationStore
	links         linker.Store
	vendor        Vendor
	metrics       *metrics.Metrics
}

// serviceWith builds a Service over the suite's stores, swapping in the
// non-nil fields of deps.
func (s *ServiceSuite) serviceWith(deps serviceDeps) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if deps.sessions == nil {
		deps.sessions = s.sessions
	}
	if deps.verifications == nil {
		deps.verifications = s.verifications
	}
	if deps.links == nil {
		deps.links = s.links
	}
	if deps.vendor == nil {
		deps.vendor = s.vendor
	}
	if deps.metrics == nil {
		deps.metrics = s.metrics
	}
	return New(
		Config{BaseURL: baseURL, TemplateID: "itmpl_test", WebhookSecret: webhookSecret},
		deps.sessions, deps.verifications, s.ledger, deps.vendor,
		linker.New(deps.links, logger),
		WithLogger(logger),
		WithMetrics(deps.metrics),
		WithAuditPublisher(publisher.NewPublisher(s.auditStore)),
	)
}

func (s *ServiceSuite) TestLateCallbackExpiresSession() {
	token, inquiryID := s.startOnDesktop(s.alice)
	s.vendor.decide(inquiryID, models.InquiryApproved, "act_alice")

	cb := s.service.Callback(s.at(31*time.Minute), CallbackParams{Status: "completed", InquiryID: inquiryID.String()})
	s.Equal(PathFail, cb.Redirect)
	s.Equal(models.SessionExpired, cb.SessionStatus)
	s.Equal(models.VerificationApproved, cb.VerificationStatus)

	sess, err := s.sessions.FindByToken(s.ctx, token)
	s.Require().NoError(err)
	s.Equal(models.SessionExpired, sess.Status)
	s.Equal(models.CallbackSessionExpired, *sess.CallbackStatus)

	v, err := s.verifications.FindByInquiryID(s.ctx, inquiryID)
	s.Require().NoError(err)
	s.Equal(models.VerificationApproved, v.Status)

	status, err := s.service.Status(s.at(31*time.Minute), s.alice, token)
	s.Require().NoError(err)
	s.False(status.Completed)
	s.Equal(models.SessionExpired, status.Status)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.SessionsExpired))
	s.Contains(s.auditActions(s.alice), string(audit.EventKYCSessionExpired))
}

func (s *ServiceSuite) TestLateWebhookExpiresSession() {
	token, inquiryID := s.startOnDesktop(s.bob)
	late := s.now.Add(31 * time.Minute)
	body := inquiryEvent("evt_late", "inquiry.approved", inquiryID, "approved", s.bob.String(), "act_bob")

	_, err := s.service.HandleWebhook(s.at(31*time.Minute), persona.Sign(webhookSecret, late, body), body)
	s.Require().NoError(err)

	sess, err := s.sessions.FindByToken(s.ctx, token)
	s.Require().NoError(err)
	s.Equal(models.SessionExpired, sess.Status)

	v, err := s.verifications.FindByInquiryID(s.ctx, inquiryID)
	s.Require().NoError(err)
	s.Equal(models.VerificationApproved, v.Status)
}

func (s *ServiceSuite) TestWebhookRedeliveredAfterProcessingFailure() {
	token, inquiryID := s.startOnDesktop(s.alice)
	s.vendor.decide(inquiryID, models.InquiryApproved, "act_alice")
	sessions := &flakySessions{InMemoryStore: s.sessions, failures: 1}
	svc := s.serviceWith(serviceDeps{sessions: sessions})

	body := inquiryEvent("evt_retry", "inquiry.approved", inquiryID, "approved", s.alice.String(), "act_alice")
	sig := persona.Sign(webhookSecret, s.now, body)

	_, err := svc.HandleWebhook(s.ctx, sig, body)
	s.requireCode(err, dErrors.CodeInternal)
	s.Equal(0, s.ledger.Len())

	res, err := svc.HandleWebhook(s.ctx, sig, body)
	s.Require().NoError(err)
	s.False(res.Duplicate)
	s.Equal(1, s.ledger.Len())

	sess, err := s.sessions.FindByToken(s.ctx, token)
	s.Require().NoError(err)
	s.Equal(models.SessionCompleted, sess.Status)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.WebhookEvents.WithLabelValues("failed")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.WebhookEvents.WithLabelValues("processed")))
}

func (s *ServiceSuite) TestOutcomeWriteFailureDiagnostics() {
	s.Run("verification write", func() {
		token, inquiryID := s.startOnDesktop(s.alice)
		s.vendor.decide(inquiryID, models.InquiryDeclined, "")
		svc := s.serviceWith(serviceDeps{verifications: failingVerifications{s.verifications}})

		cb := svc.Callback(s.ctx, CallbackParams{Status: "completed", InquiryID: inquiryID.String()})
		s.Equal(PathFail, cb.Redirect)

		sess, err := s.sessions.FindByToken(s.ctx, token)
		s.Require().NoError(err)
		s.Equal(models.SessionFailed, sess.Status)
		s.Equal(models.CallbackVerificationWriteFailed, *sess.CallbackStatus)
	})

	s.Run("identity link", func() {
		token, inquiryID := s.startOnDesktop(s.bob)
		s.vendor.decide(inquiryID, models.InquiryApproved, "act_bob")
		svc := s.serviceWith(serviceDeps{links: failingLinks{s.links}})

		cb := svc.Callback(s.ctx, CallbackParams{Status: "completed", InquiryID: inquiryID.String()})
		s.Equal(PathFail, cb.Redirect)

		sess, err := s.sessions.FindByToken(s.ctx, token)
		s.Require().NoError(err)
		s.Equal(models.SessionFailed, sess.Status)
		s.Equal(models.CallbackLinkFailed, *sess.CallbackStatus)
	})
}

// vendorSamples sums the vendor latency observations for operation.
func vendorSamples(reg *prometheus.Registry, operation string) uint64 {
	families, err := reg.Gather()
	if err != nil {
		return 0
	}
	var total uint64
	for _, family := range families {
		if family.GetName() != "ampel_kyc_vendor_request_duration_seconds" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "operation" && label.GetValue() == operation {
					total += m.GetHistogram().GetSampleCount()
				}
			}
		}
	}
	return total
}

func (s *ServiceSuite) TestVendorCallsObservedOnce() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/inquiries":
			_, _ = io.WriteString(w, `{"data":{"type":"inquiry","id":"inq_123","attributes":{"status":"created","reference-id":"`+s.alice.String()+`"}}}`)
		case strings.HasSuffix(r.URL.Path, "/generate-one-time-link"):
			_, _ = io.WriteString(w, `{"data":{"type":"inquiry","id":"inq_123"},"meta":{"one-time-link":"https://withpersona.com/verify?code=abc"}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/inquiries/inq_123":
			_, _ = io.WriteString(w, `{"data":{"type":"inquiry","id":"inq_123","attributes":{"status":"pending","reference-id":"`+s.alice.String()+`"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	client := persona.New(persona.Config{BaseURL: srv.URL, APIKey: "persona_sandbox_key"}, persona.WithMetrics(m))
	svc := s.serviceWith(serviceDeps{vendor: client, metrics: m})

	res, err := svc.Start(s.ctx, s.alice, mobileUA)
	s.Require().NoError(err)
	s.True(strings.HasPrefix(res.VendorURL, "https://withpersona.com/verify?"), res.VendorURL)

	svc.Callback(s.ctx, CallbackParams{Status: "completed", InquiryID: "inq_123"})

	s.Equal(uint64(1), vendorSamples(reg, "create_inquiry"))
	s.Equal(uint64(1), vendorSamples(reg, "generate_one_time_link"))
	s.Equal(uint64(1), vendorSamples(reg, "get_inquiry"))
}
