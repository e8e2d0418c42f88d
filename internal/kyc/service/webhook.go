package service

import (
	"context"
	"encoding/json"
	"errors"

	"ampel/internal/kyc/linker"
	"ampel/internal/kyc/models"
	"ampel/internal/kyc/persona"
	id "ampel/pkg/domain"
	dErrors "ampel/pkg/domain-errors"
	"ampel/pkg/platform/audit"
	"ampel/pkg/requestcontext"
)

// WebhookResult describes an acknowledged event.
type WebhookResult struct {
	EventID   string
	EventName string
	Duplicate bool
}

// HandleWebhook verifies, deduplicates and dispatches one vendor event.
// When dispatch fails the ledger entry is released and an internal error
// is returned, so the vendor's redelivery is processed rather than skipped.
func (s *Service) HandleWebhook(ctx context.Context, signatureHeader string, body []byte) (*WebhookResult, error) {
	if s.cfg.WebhookSecret == "" {
		s.logger.ErrorContext(ctx, "webhook secret not configured")
		return nil, dErrors.New(dErrors.CodeInternal, "webhook secret not configured")
	}
	if err := persona.VerifyWebhookSignature(s.cfg.WebhookSecret, signatureHeader, body); err != nil {
		s.metrics.IncrementWebhook("rejected")
		s.logger.WarnContext(ctx, "webhook signature rejected", "error", err)
		s.logAudit(ctx, audit.EventKYCWebhookRejected, id.UserID{},
			"reason", err.Error(),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid webhook signature")
	}

	event, err := persona.ParseWebhookEvent(body)
	if err != nil {
		s.metrics.IncrementWebhook("rejected")
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed webhook payload")
	}
	result := &WebhookResult{EventID: event.ID, EventName: event.Name}

	inserted, err := s.ledger.Record(ctx, &models.WebhookEvent{
		EventID:    event.ID,
		EventName:  event.Name,
		Payload:    json.RawMessage(body),
		ReceivedAt: requestcontext.Now(ctx),
	})
	if err != nil {
		s.metrics.IncrementWebhook("failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record webhook event")
	}
	if !inserted {
		s.metrics.IncrementWebhook("duplicate")
		s.logger.InfoContext(ctx, "duplicate webhook event ignored",
			"event_id", event.ID,
			"event_name", event.Name,
		)
		result.Duplicate = true
		return result, nil
	}

	if err := s.dispatch(ctx, event); err != nil {
		s.metrics.IncrementWebhook("failed")
		s.logger.ErrorContext(ctx, "webhook processing failed",
			"error", err,
			"event_id", event.ID,
			"event_name", event.Name,
		)
		if relErr := s.ledger.Release(ctx, event.ID); relErr != nil {
			s.logger.ErrorContext(ctx, "failed to release webhook event for redelivery",
				"error", relErr,
				"event_id", event.ID,
			)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to process webhook event")
	}
	s.metrics.IncrementWebhook("processed")
	return result, nil
}

func (s *Service) dispatch(ctx context.Context, event *persona.WebhookEvent) error {
	switch event.Kind {
	case persona.KindInquiry:
		return s.handleInquiryEvent(ctx, event)
	case persona.KindAccount:
		return s.handleAccountEvent(ctx, event)
	default:
		s.logger.InfoContext(ctx, "unhandled webhook event",
			"event_id", event.ID,
			"event_name", event.Name,
		)
		return nil
	}
}

func (s *Service) handleInquiryEvent(ctx context.Context, event *persona.WebhookEvent) error {
	inquiry := event.Inquiry
	sess, err := s.sessionByInquiry(ctx, inquiry.ID)
	if err != nil {
		return err
	}
	if sess != nil {
		if _, err := s.expireIfDue(ctx, sess); err != nil {
			return err
		}
	}
	userID, ok := resolveUser(sess, inquiry.ReferenceID)
	if !ok {
		s.logger.WarnContext(ctx, "webhook inquiry has no known user",
			"event_id", event.ID,
			"inquiry_id", inquiry.ID.String(),
		)
		return nil
	}
	s.logAudit(ctx, audit.EventKYCWebhookReceived, userID,
		"subject", event.Name,
		"event_id", event.ID,
		"inquiry_id", inquiry.ID.String(),
	)
	s.warnUnknownStatus(ctx, inquiry)

	_, err = s.applyOutcome(ctx, outcomeUpdate{
		session:        sess,
		userID:         userID,
		inquiry:        inquiry,
		outcome:        models.MapInquiryStatus(inquiry.Status),
		source:         sourceWebhook,
		callbackStatus: event.Name,
	})
	return err
}

func (s *Service) handleAccountEvent(ctx context.Context, event *persona.WebhookEvent) error {
	if event.Name != persona.EventAccountConsolidated {
		s.logger.InfoContext(ctx, "account event acknowledged",
			"event_id", event.ID,
			"event_name", event.Name,
		)
		return nil
	}

	account := event.Account
	primary := account.ID
	if account.PrimaryID != nil {
		primary = *account.PrimaryID
	}
	if account.SecondaryID == nil || primary == "" {
		s.logger.WarnContext(ctx, "account consolidation without both account ids",
			"event_id", event.ID,
			"account_id", account.ID.String(),
		)
		return nil
	}
	secondary := *account.SecondaryID

	moved, err := s.linker.HandleAccountConsolidation(ctx, primary, secondary)
	var dup *linker.DuplicateAccountError
	if errors.As(err, &dup) {
		s.metrics.IncrementDuplicateAccount()
		s.logAudit(ctx, audit.EventKYCDuplicateAccount, dup.RequestedUserID,
			"subject", primary.String(),
			"reason", dup.Error(),
			"event_id", event.ID,
		)
		return nil
	}
	if err != nil {
		return err
	}
	if moved {
		userID, _ := resolveUser(nil, account.ReferenceID)
		s.logAudit(ctx, audit.EventKYCAccountConsolidated, userID,
			"subject", primary.String(),
			"reason", "consolidated from "+secondary.String(),
			"event_id", event.ID,
		)
	}
	return nil
}
