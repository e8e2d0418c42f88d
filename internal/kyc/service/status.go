package service

import (
	"context"
	"errors"

	"ampel/internal/kyc/models"
	id "ampel/pkg/domain"
	dErrors "ampel/pkg/domain-errors"
	"ampel/pkg/platform/sentinel"
)

// StatusResult is what the desktop poller sees.
type StatusResult struct {
	Status    models.SessionStatus
	Completed bool
	InquiryID *id.InquiryID
}

// Status reports the session named by sessionToken, or the user's most
// recent session when the token is empty. Sessions past their expiry are
// flipped to expired on read.
func (s *Service) Status(ctx context.Context, userID id.UserID, sessionToken string) (*StatusResult, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}

	var (
		sess *models.Session
		err  error
	)
	if sessionToken != "" {
		sess, err = s.sessions.FindByToken(ctx, sessionToken)
	} else {
		sess, err = s.sessions.FindLatestByUser(ctx, userID)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if sess.UserID != userID {
		return nil, dErrors.New(dErrors.CodeNotFound, "session not found")
	}

	if _, err := s.expireIfDue(ctx, sess); err != nil {
		return nil, err
	}
	return &StatusResult{
		Status:    sess.Status,
		Completed: sess.Status == models.SessionCompleted,
		InquiryID: sess.InquiryID,
	}, nil
}
