// Package ledger records inbound webhook event ids so each is processed once.
package ledger

import (
	"context"
	"sync"

	"ampel/internal/kyc/models"
)

// InMemoryLedger is an insert-if-absent set of event ids.
type InMemoryLedger struct {
	mu     sync.Mutex
	events map[string]models.WebhookEvent
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{events: make(map[string]models.WebhookEvent)}
}

// Record stores event and reports whether it was new.
func (l *InMemoryLedger) Record(_ context.Context, event *models.WebhookEvent) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.events[event.EventID]; seen {
		return false, nil
	}
	l.events[event.EventID] = *event
	return true, nil
}

// Release forgets eventID.
func (l *InMemoryLedger) Release(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, eventID)
	return nil
}

func (l *InMemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
