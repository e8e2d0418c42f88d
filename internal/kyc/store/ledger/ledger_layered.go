package ledger

import (
	"context"
	"errors"

	"ampel/internal/kyc/models"
)

// Recorder is the insert-if-absent contract every ledger implements.
type Recorder interface {
	Record(ctx context.Context, event *models.WebhookEvent) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// LayeredLedger puts a fast, expiring ledger in front of the durable one.
// The durable ledger decides; a fast-path hit only short-circuits recent
// redeliveries, and a fast-path outage falls through to the durable ledger.
type LayeredLedger struct {
	fast    Recorder
	durable Recorder
}

func NewLayeredLedger(fast, durable Recorder) *LayeredLedger {
	return &LayeredLedger{fast: fast, durable: durable}
}

func (l *LayeredLedger) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	fresh, err := l.fast.Record(ctx, event)
	if err == nil && !fresh {
		return false, nil
	}
	inserted, durableErr := l.durable.Record(ctx, event)
	if durableErr != nil {
		if err == nil {
			_ = l.fast.Release(ctx, event.EventID)
		}
		return false, durableErr
	}
	return inserted, nil
}

func (l *LayeredLedger) Release(ctx context.Context, eventID string) error {
	return errors.Join(
		l.durable.Release(ctx, eventID),
		l.fast.Release(ctx, eventID),
	)
}
