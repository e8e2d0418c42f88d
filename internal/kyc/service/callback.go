package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ampel/internal/kyc/linker"
	"ampel/internal/kyc/models"
	"ampel/internal/kyc/persona"
	id "ampel/pkg/domain"
	dErrors "ampel/pkg/domain-errors"
	"ampel/pkg/platform/audit"
	"ampel/pkg/platform/sentinel"
	"ampel/pkg/requestcontext"
)

const (
	sourceCallback = "callback"
	sourceWebhook  = "webhook"
)

// errIdentityLink marks applyOutcome failures raised while linking the
// vendor account, as opposed to failures writing the verification.
var errIdentityLink = errors.New("identity link failed")

// CallbackParams are the query parameters the vendor appends when it
// redirects the mobile browser back.
type CallbackParams struct {
	Status      string
	InquiryID   string
	ReferenceID string
}

// CallbackResult always carries a redirect so the browser lands somewhere
// actionable.
type CallbackResult struct {
	Redirect           string
	SessionStatus      models.SessionStatus
	VerificationStatus models.VerificationStatus
}

// Callback reconciles the vendor redirect with the fetched inquiry.
func (s *Service) Callback(ctx context.Context, p CallbackParams) CallbackResult {
	fail := CallbackResult{Redirect: PathFail, SessionStatus: models.SessionFailed}

	inquiryID, err := id.ParseInquiryID(strings.TrimSpace(p.InquiryID))
	if err != nil {
		s.logger.WarnContext(ctx, "kyc callback without valid inquiry id",
			"error", err,
			"reference_id", p.ReferenceID,
			"status", p.Status,
		)
		return fail
	}

	sess, err := s.sessionByInquiry(ctx, inquiryID)
	if err != nil {
		s.logger.ErrorContext(ctx, "kyc callback session lookup failed",
			"error", err,
			"inquiry_id", inquiryID.String(),
		)
	}
	if sess != nil {
		if _, err := s.expireIfDue(ctx, sess); err != nil {
			s.logger.ErrorContext(ctx, "kyc callback expiry check failed",
				"error", err,
				"session_id", sess.ID.String(),
			)
		}
	}

	inquiry, err := s.vendor.GetInquiry(ctx, inquiryID)
	if err != nil {
		userID, _ := resolveUser(sess, p.ReferenceID)
		s.vendorFailure(ctx, userID, "get_inquiry", err)
		s.failSession(ctx, sess, models.CallbackInquiryFetch)
		return fail
	}

	userID, ok := resolveUser(sess, inquiry.ReferenceID, p.ReferenceID)
	if !ok {
		s.logger.WarnContext(ctx, "kyc callback for inquiry with no known user",
			"inquiry_id", inquiryID.String(),
			"reference_id", inquiry.ReferenceID,
		)
		return fail
	}
	s.warnUnknownStatus(ctx, inquiry)

	outcome := models.MapOutcome(models.ParseCallbackOutcome(p.Status), inquiry.Status)
	outcome, err = s.applyOutcome(ctx, outcomeUpdate{
		session:        sess,
		userID:         userID,
		inquiry:        inquiry,
		outcome:        outcome,
		source:         sourceCallback,
		callbackStatus: strings.TrimSpace(p.Status),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "kyc callback processing failed",
			"error", err,
			"inquiry_id", inquiryID.String(),
			"user_id", userID.String(),
		)
		diagnostic := models.CallbackVerificationWriteFailed
		if errors.Is(err, errIdentityLink) {
			diagnostic = models.CallbackLinkFailed
		}
		s.failSession(ctx, sess, diagnostic)
		return fail
	}

	status := outcome.Session
	origin := models.OriginMobileDirect
	if sess != nil {
		status = sess.Status
		origin = sess.Origin
	}
	return CallbackResult{
		Redirect:           redirectFor(status, origin),
		SessionStatus:      status,
		VerificationStatus: outcome.Verification,
	}
}

// redirectFor routes a desktop-originated success to the "return to your
// computer" page; the desktop learns of completion by polling.
func redirectFor(status models.SessionStatus, origin models.Origin) string {
	switch status {
	case models.SessionCompleted:
		if origin == models.OriginDesktopQR {
			return PathCompleteOnWeb
		}
		return PathSuccess
	case models.SessionFailed, models.SessionExpired:
		return PathFail
	default:
		return PathPending
	}
}

func (s *Service) warnUnknownStatus(ctx context.Context, inquiry *persona.Inquiry) {
	if inquiry.Status != models.InquiryUnknown {
		return
	}
	s.logger.WarnContext(ctx, "unrecognized vendor inquiry status",
		"inquiry_id", inquiry.ID.String(),
		"vendor_status", inquiry.RawStatus,
	)
}

type outcomeUpdate struct {
	session        *models.Session
	userID         id.UserID
	inquiry        *persona.Inquiry
	outcome        models.Outcome
	source         string
	callbackStatus string
}

// applyOutcome is shared by the callback and webhook paths. It links the
// vendor account on approval, demoting the outcome on a duplicate, then
// writes the verification record and the session status. The returned
// outcome reflects any demotion.
func (s *Service) applyOutcome(ctx context.Context, u outcomeUpdate) (models.Outcome, error) {
	now := requestcontext.Now(ctx)
	outcome := u.outcome
	callbackStatus := u.callbackStatus
	accountID := u.inquiry.AccountID
	metadata := u.inquiry.Metadata()
	metadata["source"] = u.source

	if outcome.Verification == models.VerificationApproved {
		if accountID == nil {
			accountID = s.lookupAccount(ctx, u.userID)
		}
		if accountID == nil {
			s.logger.WarnContext(ctx, "approved inquiry carries no vendor account id",
				"inquiry_id", u.inquiry.ID.String(),
				"user_id", u.userID.String(),
			)
		} else {
			err := s.linker.LinkAccountToUser(ctx, *accountID, u.userID)
			var dup *linker.DuplicateAccountError
			switch {
			case errors.As(err, &dup):
				outcome = models.Outcome{Verification: models.VerificationDeclined, Session: models.SessionFailed}
				callbackStatus = models.CallbackDuplicateAccount
				metadata["duplicate_account"] = dup.Error()
				s.metrics.IncrementDuplicateAccount()
				s.logAudit(ctx, audit.EventKYCDuplicateAccount, u.userID,
					"subject", accountID.String(),
					"decision", string(models.VerificationDeclined),
					"reason", dup.Error(),
					"inquiry_id", u.inquiry.ID.String(),
					"existing_user_id", dup.ExistingUserID.String(),
					"existing_account_id", dup.ExistingAccountID.String(),
				)
			case err != nil:
				return outcome, fmt.Errorf("%w: %w", errIdentityLink, err)
			default:
				s.logAudit(ctx, audit.EventKYCIdentityLinked, u.userID,
					"subject", accountID.String(),
					"inquiry_id", u.inquiry.ID.String(),
				)
			}
		}
	}

	err := s.verifications.Upsert(ctx, &models.Verification{
		UserID:    u.userID,
		InquiryID: u.inquiry.ID,
		AccountID: accountID,
		Status:    outcome.Verification,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return outcome, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification")
	}
	s.metrics.IncrementOutcome(string(outcome.Verification), u.source)
	s.auditDecision(ctx, u.userID, u.inquiry.ID, outcome.Verification, u.source)

	if u.session != nil {
		if _, err := s.transition(ctx, u.session, outcome.Session, callbackStatus); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// lookupAccount asks the vendor for the account it holds for userID.
// Failures are logged; the approval stands without a link.
func (s *Service) lookupAccount(ctx context.Context, userID id.UserID) *id.AccountID {
	account, err := s.vendor.FindAccountByReferenceID(ctx, userID.String())
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.vendorFailure(ctx, userID, "find_account", err)
		}
		return nil
	}
	accountID := account.ID
	return &accountID
}

func (s *Service) auditDecision(ctx context.Context, userID id.UserID, inquiryID id.InquiryID, status models.VerificationStatus, source string) {
	var event audit.AuditEvent
	switch status {
	case models.VerificationApproved:
		event = audit.EventKYCVerificationApproved
	case models.VerificationDeclined:
		event = audit.EventKYCVerificationDeclined
	case models.VerificationNeedsReview:
		event = audit.EventKYCVerificationReview
	default:
		return
	}
	s.logAudit(ctx, event, userID,
		"subject", inquiryID.String(),
		"decision", string(status),
		"source", source,
	)
}
