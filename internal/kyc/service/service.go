package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"ampel/internal/kyc/metrics"
	"ampel/internal/kyc/models"
	"ampel/internal/kyc/persona"
	"ampel/internal/kyc/token"
	"ampel/pkg/attrs"
	id "ampel/pkg/domain"
	dErrors "ampel/pkg/domain-errors"
	"ampel/pkg/platform/audit"
	"ampel/pkg/platform/sentinel"
	"ampel/pkg/requestcontext"
)

// Paths the orchestrator redirects browsers to.
const (
	PathSuccess       = "/kyc/success"
	PathCompleteOnWeb = "/kyc/complete-on-web"
	PathFail          = "/kyc/fail"
	PathPending       = "/kyc/pending"

	mobileStartPath = "/api/kyc/mobile-start/"
	callbackPath    = "/api/kyc/callback"
)

type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByToken(ctx context.Context, token string) (*models.Session, error)
	FindLatestByUser(ctx context.Context, userID id.UserID) (*models.Session, error)
	FindByInquiryID(ctx context.Context, inquiryID id.InquiryID) (*models.Session, error)
	AttachInquiry(ctx context.Context, token string, inquiryID id.InquiryID, at time.Time) error
	UpdateStatus(ctx context.Context, change models.StatusChange) (bool, error)
	InvalidateOpenForUser(ctx context.Context, userID id.UserID, keepToken string, at time.Time) (int, error)
}

type VerificationStore interface {
	Upsert(ctx context.Context, v *models.Verification) error
	FindByInquiryID(ctx context.Context, inquiryID id.InquiryID) (*models.Verification, error)
}

// Ledger records webhook event ids. Record reports false for an id it has
// already seen. Release forgets an id whose processing failed so a
// redelivery is handled again.
type Ledger interface {
	Record(ctx context.Context, event *models.WebhookEvent) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Vendor is the subset of the verification provider API the flow drives.
type Vendor interface {
	CreateInquiry(ctx context.Context, templateID, referenceID string) (*persona.Inquiry, error)
	GenerateOneTimeLink(ctx context.Context, inquiryID id.InquiryID, redirectURI string) (string, error)
	GetInquiry(ctx context.Context, inquiryID id.InquiryID) (*persona.Inquiry, error)
	FindAccountByReferenceID(ctx context.Context, referenceID string) (*persona.Account, error)
}

type AccountLinker interface {
	IsUserLinked(ctx context.Context, userID id.UserID) (bool, error)
	LinkAccountToUser(ctx context.Context, accountID id.AccountID, userID id.UserID) error
	HandleAccountConsolidation(ctx context.Context, primaryID, secondaryID id.AccountID) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config carries the values the flow needs from process configuration.
type Config struct {
	BaseURL       string
	TemplateID    string
	WebhookSecret string
	SessionTTL    time.Duration
}

// Service orchestrates the verification flow across the device classifier,
// the vendor, the account linker and the stores.
type Service struct {
	cfg           Config
	sessions      SessionStore
	verifications VerificationStore
	ledger        Ledger
	vendor        Vendor
	linker        AccountLinker

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	newToken       func() (string, error)
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTokenGenerator replaces the session token source.
func WithTokenGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		s.newToken = gen
	}
}

// New constructs a Service.
func New(cfg Config, sessions SessionStore, verifications VerificationStore, ledger Ledger,
	vendor Vendor, linker AccountLinker, opts ...Option) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	s := &Service{
		cfg:           cfg,
		sessions:      sessions,
		verifications: verifications,
		ledger:        ledger,
		vendor:        vendor,
		linker:        linker,
		logger:        slog.Default(),
		newToken:      token.Generate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MobileStartURL is the absolute URL encoded in the desktop QR code.
func (s *Service) MobileStartURL(sessionToken string) string {
	return s.cfg.BaseURL + mobileStartPath + sessionToken
}

func (s *Service) callbackURL() string {
	return s.cfg.BaseURL + callbackPath
}

// transition applies a guarded status write and refreshes sess with what
// was persisted. Disallowed moves are skipped without error.
func (s *Service) transition(ctx context.Context, sess *models.Session, next models.SessionStatus, callbackStatus string) (bool, error) {
	if !sess.Status.CanTransitionTo(next) {
		return false, nil
	}
	change := models.NewStatusChange(sess, next, callbackStatus, requestcontext.Now(ctx))
	applied, err := s.sessions.UpdateStatus(ctx, change)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update session status")
	}
	if applied {
		change.Apply(sess)
		return true, nil
	}
	// Lost a race with the other writer; report what it left behind.
	if current, err := s.sessions.FindByToken(ctx, sess.Token); err == nil {
		*sess = *current
	}
	return false, nil
}

// failSession forces sess to failed so no attempt is left in_progress.
func (s *Service) failSession(ctx context.Context, sess *models.Session, diagnostic string) {
	if sess == nil {
		return
	}
	if _, err := s.transition(ctx, sess, models.SessionFailed, diagnostic); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark session failed",
			"error", err,
			"session_id", sess.ID.String(),
			"callback_status", diagnostic,
		)
	}
}

// expireIfDue flips an overdue session to expired and reports whether it
// is now expired.
func (s *Service) expireIfDue(ctx context.Context, sess *models.Session) (bool, error) {
	if sess.Status == models.SessionExpired {
		return true, nil
	}
	if !sess.IsExpired(requestcontext.Now(ctx)) {
		return false, nil
	}
	applied, err := s.transition(ctx, sess, models.SessionExpired, models.CallbackSessionExpired)
	if err != nil {
		return false, err
	}
	if applied {
		s.metrics.IncrementSessionExpired()
		s.logAudit(ctx, audit.EventKYCSessionExpired, sess.UserID,
			"session_id", sess.ID.String(),
		)
	}
	return sess.Status == models.SessionExpired, nil
}

// resolveUser prefers the session owner and falls back to the vendor
// reference id, which is the user id we sent when creating the inquiry.
func resolveUser(sess *models.Session, referenceIDs ...string) (id.UserID, bool) {
	if sess != nil {
		return sess.UserID, true
	}
	for _, ref := range referenceIDs {
		if ref == "" {
			continue
		}
		if userID, err := id.ParseUserID(ref); err == nil {
			return userID, true
		}
	}
	return id.UserID{}, false
}

// sessionByInquiry returns nil when no session references inquiryID.
func (s *Service) sessionByInquiry(ctx context.Context, inquiryID id.InquiryID) (*models.Session, error) {
	sess, err := s.sessions.FindByInquiryID(ctx, inquiryID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up session")
	}
	return sess, nil
}

func (s *Service) vendorFailure(ctx context.Context, userID id.UserID, operation string, err error) {
	s.logger.ErrorContext(ctx, "verification vendor call failed",
		"error", err,
		"operation", operation,
		"category", string(persona.GetCategory(err)),
		"user_id", userID.String(),
	)
	s.logAudit(ctx, audit.EventKYCVendorFailure, userID,
		"subject", operation,
		"reason", string(persona.GetCategory(err)),
	)
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, userID id.UserID, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit", "user_id", userID.String())
	s.logger.InfoContext(ctx, string(event), args...)
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		UserID:    userID,
		Subject:   attrs.ExtractString(attributes, "subject"),
		Action:    string(event),
		Decision:  attrs.ExtractString(attributes, "decision"),
		Reason:    attrs.ExtractString(attributes, "reason"),
		RequestID: attrs.ExtractString(attributes, "request_id"),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event", "error", err, "event", string(event))
	}
}
