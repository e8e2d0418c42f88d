package verification

import (
	"context"
	"maps"
	"sync"

	"ampel/internal/kyc/models"
	id "ampel/pkg/domain"
	"ampel/pkg/platform/sentinel"
)

// InMemoryStore keeps verification records keyed by inquiry id.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.InquiryID]*models.Verification
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.InquiryID]*models.Verification)}
}

func clone(v *models.Verification) *models.Verification {
	c := *v
	if v.AccountID != nil {
		a := *v.AccountID
		c.AccountID = &a
	}
	c.Metadata = maps.Clone(v.Metadata)
	return &c
}

// Upsert inserts or overwrites the record for v.InquiryID. A known
// account id is never cleared by a later write that lacks one, and
// CreatedAt keeps its first value.
func (s *InMemoryStore) Upsert(_ context.Context, v *models.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := clone(v)
	if existing, ok := s.records[v.InquiryID]; ok {
		next.CreatedAt = existing.CreatedAt
		next.UserID = existing.UserID
		if next.AccountID == nil {
			next.AccountID = existing.AccountID
		}
	}
	s.records[v.InquiryID] = next
	return nil
}

func (s *InMemoryStore) FindByInquiryID(_ context.Context, inquiryID id.InquiryID) (*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.records[inquiryID]; ok {
		return clone(v), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindLatestByUser(_ context.Context, userID id.UserID) (*models.Verification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Verification
	for _, v := range s.records {
		if v.UserID == userID && (found == nil || v.UpdatedAt.After(found.UpdatedAt)) {
			found = v
		}
	}
	if found == nil {
		return nil, sentinel.ErrNotFound
	}
	return clone(found), nil
}
