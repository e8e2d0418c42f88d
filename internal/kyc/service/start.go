package service

import (
	"context"
	"errors"

	"ampel/internal/kyc/device"
	"ampel/internal/kyc/models"
	id "ampel/pkg/domain"
	dErrors "ampel/pkg/domain-errors"
	"ampel/pkg/platform/audit"
	"ampel/pkg/platform/sentinel"
	"ampel/pkg/requestcontext"
)

// StartResult tells the start page which branch to render. Session is nil
// for unknown devices. QRTarget is set for desktops and VendorURL for
// mobiles.
type StartResult struct {
	Class     device.Class
	Session   *models.Session
	QRTarget  string
	VendorURL string
}

// Start begins a verification attempt for userID from the browser
// identified by userAgent.
func (s *Service) Start(ctx context.Context, userID id.UserID, userAgent string) (*StartResult, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}

	linked, err := s.linker.IsUserLinked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if linked {
		return nil, dErrors.New(dErrors.CodeConflict, "identity already verified")
	}

	class := device.Classify(userAgent)
	if device.IsBot(userAgent) {
		class = device.Unknown
	}
	if class == device.Unknown {
		s.logger.InfoContext(ctx, "kyc start from unrecognized device",
			"user_id", userID.String(),
			"user_agent", userAgent,
		)
		return &StartResult{Class: class}, nil
	}

	origin := models.OriginDesktopQR
	if class == device.Mobile {
		origin = models.OriginMobileDirect
	}
	sessionToken, err := s.newToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate session token")
	}
	now := requestcontext.Now(ctx)
	sess := models.NewSession(userID, origin, sessionToken, now, s.cfg.SessionTTL)
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	invalidated, err := s.sessions.InvalidateOpenForUser(ctx, userID, sess.Token, now)
	if err != nil {
		// The new session is usable; stale ones still expire on their own.
		s.logger.ErrorContext(ctx, "failed to invalidate older sessions",
			"error", err,
			"user_id", userID.String(),
		)
	} else if invalidated > 0 {
		s.logger.InfoContext(ctx, "invalidated older kyc sessions",
			"user_id", userID.String(),
			"count", invalidated,
		)
	}

	s.metrics.IncrementSessionStarted(string(class))
	s.logAudit(ctx, audit.EventKYCSessionStarted, userID,
		"session_id", sess.ID.String(),
		"subject", string(origin),
		"device", string(class),
		"device_name", device.DisplayName(userAgent),
	)

	result := &StartResult{Class: class, Session: sess}
	if class == device.Desktop {
		result.QRTarget = s.MobileStartURL(sess.Token)
		return result, nil
	}

	vendorURL, err := s.beginInquiry(ctx, sess)
	if err != nil {
		return nil, err
	}
	result.VendorURL = vendorURL
	return result, nil
}

// MobileStart resolves a session token from a QR scan or the mobile
// branch of Start and returns the vendor-hosted flow URL.
func (s *Service) MobileStart(ctx context.Context, sessionToken string) (string, error) {
	if sessionToken == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "session token required")
	}
	sess, err := s.sessions.FindByToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return "", dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to look up session")
	}

	expired, err := s.expireIfDue(ctx, sess)
	if err != nil {
		return "", err
	}
	if expired {
		return "", dErrors.New(dErrors.CodeExpired, "session expired")
	}
	if sess.Status.IsTerminal() {
		return "", dErrors.New(dErrors.CodeInvalidState, "session already "+string(sess.Status))
	}
	return s.beginInquiry(ctx, sess)
}

// beginInquiry creates (or reuses) the vendor inquiry for sess and returns
// a fresh one-time link. Vendor failures force the session to failed.
func (s *Service) beginInquiry(ctx context.Context, sess *models.Session) (string, error) {
	inquiryID, err := s.ensureInquiry(ctx, sess)
	if err != nil {
		return "", err
	}

	link, err := s.vendor.GenerateOneTimeLink(ctx, inquiryID, s.callbackURL())
	if err != nil {
		s.vendorFailure(ctx, sess.UserID, "generate_one_time_link", err)
		s.failSession(ctx, sess, models.CallbackInquiryCreate)
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "verification provider unavailable")
	}
	return link, nil
}

func (s *Service) ensureInquiry(ctx context.Context, sess *models.Session) (id.InquiryID, error) {
	if sess.Status == models.SessionInProgress && sess.InquiryID != nil {
		return *sess.InquiryID, nil
	}

	inquiry, err := s.vendor.CreateInquiry(ctx, s.cfg.TemplateID, sess.UserID.String())
	if err != nil {
		s.vendorFailure(ctx, sess.UserID, "create_inquiry", err)
		s.failSession(ctx, sess, models.CallbackInquiryCreate)
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "verification provider unavailable")
	}

	now := requestcontext.Now(ctx)
	if err := s.sessions.AttachInquiry(ctx, sess.Token, inquiry.ID, now); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return "", dErrors.New(dErrors.CodeInvalidState, "session no longer open")
		}
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to attach inquiry")
	}
	inquiryID := inquiry.ID
	sess.InquiryID = &inquiryID
	sess.Status = models.SessionInProgress
	sess.UpdatedAt = now

	err = s.verifications.Upsert(ctx, &models.Verification{
		UserID:    sess.UserID,
		InquiryID: inquiry.ID,
		Status:    models.VerificationPending,
		Metadata:  inquiry.Metadata(),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification")
	}

	s.logAudit(ctx, audit.EventKYCInquiryCreated, sess.UserID,
		"session_id", sess.ID.String(),
		"subject", inquiry.ID.String(),
	)
	return inquiry.ID, nil
}
