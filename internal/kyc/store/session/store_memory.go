package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"ampel/internal/kyc/models"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
)

// InMemoryStore keeps sessions in a map keyed by token. Callers receive
// copies so mutation always goes through the guarded methods.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.Session)}
}

func clone(s *models.Session) *models.Session {
	c := *s
	if s.InquiryID != nil {
		v := *s.InquiryID
		c.InquiryID = &v
	}
	if s.CallbackStatus != nil {
		v := *s.CallbackStatus
		c.CallbackStatus = &v
	}
	if s.CompletedAt != nil {
		v := *s.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.Token]; exists {
		return sentinel.ErrConflict
	}
	s.sessions[session.Token] = clone(session)
	return nil
}

func (s *InMemoryStore) FindByToken(_ context.Context, token string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if session, ok := s.sessions[token]; ok {
		return clone(session), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindLatestByUser(_ context.Context, userID id.UserID) (*models.Session, error) {
	return s.latest(func(sess *models.Session) bool { return sess.UserID == userID })
}

func (s *InMemoryStore) FindByInquiryID(_ context.Context, inquiryID id.InquiryID) (*models.Session, error) {
	return s.latest(func(sess *models.Session) bool {
		return sess.InquiryID != nil && *sess.InquiryID == inquiryID
	})
}

func (s *InMemoryStore) latest(match func(*models.Session) bool) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Session
	for _, sess := range s.sessions {
		if match(sess) && (found == nil || sess.CreatedAt.After(found.CreatedAt)) {
			found = sess
		}
	}
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	return clone(found), nil
}

// AttachInquiry records the vendor inquiry and moves the session to
// in_progress. It fails with sentinel.ErrInvalidState once the session is closed.
func (s *InMemoryStore) AttachInquiry(_ context.Context, token string, inquiryID id.InquiryID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return sentinel.ErrNotFound
	}
	if session.Status.IsClosed() {
		return sentinel.ErrInvalidState
	}
	session.InquiryID = &inquiryID
	session.Status = models.SessionInProgress
	session.UpdatedAt = at
	return nil
}

// UpdateStatus applies change only while the stored status is in change.From.
func (s *InMemoryStore) UpdateStatus(_ context.Context, change models.StatusChange) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[change.Token]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	return change.Apply(session), nil
}

// InvalidateOpenForUser expires every open session of userID except keepToken.
func (s *InMemoryStore) InvalidateOpenForUser(_ context.Context, userID id.UserID, keepToken string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	open := models.OpenStatuses()
	reason := models.CallbackSuperseded
	count := 0
	for token, session := range s.sessions {
		if token == keepToken || session.UserID != userID || !slices.Contains(open, session.Status) {
			continue
		}
		session.Status = models.SessionExpired
		session.CallbackStatus = &reason
		session.UpdatedAt = at
		count++
	}
	return count, nil
}
