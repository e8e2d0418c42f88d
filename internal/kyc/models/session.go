package models

import (
	"sort"
	"time"

	"github.com/google/uuid"

	id "ampel/pkg/domain"
)

// SessionStatus is the lifecycle state of a KYC session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionExpired    SessionStatus = "expired"
)

// Origin records where a session was started, which decides where the
// mobile browser lands after completion.
type Origin string

const (
	OriginMobileDirect Origin = "mobile_direct"
	OriginDesktopQR    Origin = "desktop_qr"
)

// IsTerminal reports completed or failed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// IsClosed reports whether no further transition is allowed.
func (s SessionStatus) IsClosed() bool {
	return s.IsTerminal() || s == SessionExpired
}

func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionPending, SessionInProgress, SessionCompleted, SessionFailed, SessionExpired:
		return true
	}
	return false
}

var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionPending:    {SessionInProgress, SessionCompleted, SessionFailed, SessionExpired},
	SessionInProgress: {SessionCompleted, SessionFailed, SessionExpired},
}

// CanTransitionTo enforces monotonic progress toward a closed state.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Diagnostic values stored in Session.CallbackStatus alongside the raw
// vendor outcomes.
const (
	CallbackSuperseded              = "superseded"
	CallbackDuplicateAccount        = "duplicate_account"
	CallbackSessionExpired          = "session_expired"
	CallbackInquiryFetch            = "inquiry_fetch_failed"
	CallbackInquiryCreate           = "inquiry_create_failed"
	CallbackMissingInquiry          = "missing_inquiry_id"
	CallbackLinkFailed              = "identity_link_failed"
	CallbackVerificationWriteFailed = "verification_write_failed"
)

// OpenStatuses are the states a newer session invalidates.
func OpenStatuses() []SessionStatus {
	return []SessionStatus{SessionPending, SessionInProgress}
}

// Session is one verification attempt, addressed by its opaque token.
type Session struct {
	ID             uuid.UUID
	Token          string
	UserID         id.UserID
	Status         SessionStatus
	InquiryID      *id.InquiryID
	Origin         Origin
	CallbackStatus *string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// NewSession builds a pending session expiring ttl after now.
func NewSession(userID id.UserID, origin Origin, token string, now time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:        uuid.New(),
		Token:     token,
		UserID:    userID,
		Status:    SessionPending,
		Origin:    origin,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
}

// IsExpired reports whether now is past ExpiresAt for a session that has
// not already closed.
func (s *Session) IsExpired(now time.Time) bool {
	return !s.Status.IsClosed() && now.After(s.ExpiresAt)
}

// EffectiveStatus is the status a reader should observe at now, applying
// lazy expiry.
func (s *Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.IsExpired(now) {
		return SessionExpired
	}
	return s.Status
}

// StatusChange describes a guarded status write. The store applies it only
// while the row is still in one of From.
type StatusChange struct {
	Token          string
	From           []SessionStatus
	To             SessionStatus
	CallbackStatus *string
	At             time.Time
}

// NewStatusChange builds the guarded write for moving s to next.
func NewStatusChange(s *Session, next SessionStatus, callbackStatus string, at time.Time) StatusChange {
	from := []SessionStatus{}
	for status, targets := range sessionTransitions {
		for _, t := range targets {
			if t == next {
				from = append(from, status)
			}
		}
	}
	sort.Slice(from, func(i, j int) bool { return from[i] < from[j] })
	var cb *string
	if callbackStatus != "" {
		cb = &callbackStatus
	}
	return StatusChange{Token: s.Token, From: from, To: next, CallbackStatus: cb, At: at}
}

// Apply mutates s per the change if the guard holds and reports whether it did.
func (c StatusChange) Apply(s *Session) bool {
	allowed := false
	for _, f := range c.From {
		if s.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	s.Status = c.To
	if c.CallbackStatus != nil {
		cb := *c.CallbackStatus
		s.CallbackStatus = &cb
	}
	if c.To.IsTerminal() {
		at := c.At
		s.CompletedAt = &at
	}
	s.UpdatedAt = c.At
	return true
}
