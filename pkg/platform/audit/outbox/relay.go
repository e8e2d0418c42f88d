// Package outbox forwards audit events committed to the Postgres outbox to
// the downstream sink, marking each entry published once the sink accepts it.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "ampel/pkg/platform/audit"
)

const (
	defaultInterval = 2 * time.Second
	defaultBatch    = 100
)

// Entry is one unpublished outbox row.
type Entry struct {
	ID    uuid.UUID
	Event audit.Event
}

// Source reads pending entries and acknowledges published ones.
type Source interface {
	Pending(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, entryID uuid.UUID, at time.Time) error
}

// Sink receives entries keyed by their outbox id so downstream consumers can
// drop redeliveries.
type Sink interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// Relay polls Source and forwards entries to Sink in creation order. Delivery
// is at least once: an entry published but not yet marked is sent again.
type Relay struct {
	source   Source
	sink     Sink
	interval time.Duration
	batch    int
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatch(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRelay(source Source, sink Sink, opts ...Option) *Relay {
	r := &Relay{
		source:   source,
		sink:     sink,
		interval: defaultInterval,
		batch:    defaultBatch,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce forwards one batch and returns how many entries were published.
// It stops at the first sink failure so later entries never overtake it.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.source.Pending(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, entry := range entries {
		if err := r.sink.AppendWithID(ctx, entry.ID, entry.Event); err != nil {
			return published, err
		}
		if err := r.source.MarkPublished(ctx, entry.ID, r.now()); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// Run relays until ctx is done. A full batch is followed immediately by the
// next one; otherwise the relay waits for the interval.
func (r *Relay) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		n, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "audit outbox relay failed", "error", err, "published", n)
		}
		wait := r.interval
		if err == nil && n == r.batch {
			wait = 0
		}
		timer.Reset(wait)
	}
}
