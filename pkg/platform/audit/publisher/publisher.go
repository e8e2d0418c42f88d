// Package publisher emits audit events either synchronously or through a
// bounded buffer drained by a background worker.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "ampel/pkg/domain"
	audit "ampel/pkg/platform/audit"
	"ampel/pkg/platform/audit/worker"
)

// ErrBufferFull is returned by Emit in async mode when the buffer is full.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher fans audit events into a store.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	bufferSize int
	inbox      chan audit.Event
	done       chan struct{}
	closeOnce  sync.Once
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking with a buffer of n events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.bufferSize = n
	}
}

// WithLogger sets a logger for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher over store. In async mode it starts a
// worker that runs until Close.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(store, p.inbox, p.logger)
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit records event, stamping Timestamp when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if p.inbox == nil {
		return p.store.Append(ctx, event)
	}
	select {
	case p.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
		return ErrBufferFull
	}
}

// List reads events back when the store supports it.
func (p *Publisher) List(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	lister, ok := p.store.(audit.Lister)
	if !ok {
		return nil, errors.New("audit store does not support listing")
	}
	return lister.ListByUser(ctx, userID)
}

// Close drains buffered events and stops the worker.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			<-p.done
		}
	})
	return nil
}
