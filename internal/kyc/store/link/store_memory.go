package link

import (
	"context"
	"sync"
	"time"

	"ampel/internal/kyc/models"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
)

// InMemoryStore mirrors the two unique constraints of kyc_identity_links
// with a pair of indexes.
type InMemoryStore struct {
	mu        sync.RWMutex
	byUser    map[id.UserID]models.IdentityLink
	byAccount map[id.AccountID]id.UserID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byUser:    make(map[id.UserID]models.IdentityLink),
		byAccount: make(map[id.AccountID]id.UserID),
	}
}

func (s *InMemoryStore) FindByAccountID(_ context.Context, accountID id.AccountID) (*models.IdentityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byAccount[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	link := s.byUser[userID]
	return &link, nil
}

func (s *InMemoryStore) FindByUserID(_ context.Context, userID id.UserID) (*models.IdentityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.byUser[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &link, nil
}

// Upsert stores link keyed on user. It returns sentinel.ErrConflict when
// either side is already bound to a different counterpart.
func (s *InMemoryStore) Upsert(_ context.Context, link *models.IdentityLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, ok := s.byAccount[link.AccountID]; ok && holder != link.UserID {
		return sentinel.ErrConflict
	}
	if existing, ok := s.byUser[link.UserID]; ok {
		if existing.AccountID != link.AccountID {
			return sentinel.ErrConflict
		}
		existing.UpdatedAt = link.UpdatedAt
		s.byUser[link.UserID] = existing
		return nil
	}
	s.byUser[link.UserID] = *link
	s.byAccount[link.AccountID] = link.UserID
	return nil
}

// Repoint moves userID's link from one account to another in place.
func (s *InMemoryStore) Repoint(_ context.Context, userID id.UserID, from, to id.AccountID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.byUser[userID]
	if !ok || link.AccountID != from {
		return sentinel.ErrNotFound
	}
	if holder, ok := s.byAccount[to]; ok && holder != userID {
		return sentinel.ErrConflict
	}
	delete(s.byAccount, from)
	link.AccountID = to
	link.UpdatedAt = at
	s.byUser[userID] = link
	s.byAccount[to] = userID
	return nil
}

// Count returns the number of link rows.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser)
}
