package worker

import (
	"context"
	"log/slog"

	audit "ampel/pkg/platform/audit"
)

// Worker drains audit events from a channel into a store. Append failures
// are logged and skipped; audit delivery never blocks the KYC flow.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run returns when inbox is closed and drained, or when ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "failed to append audit event",
					"action", event.Action,
					"request_id", event.RequestID,
					"error", err,
				)
			}
		}
	}
}
