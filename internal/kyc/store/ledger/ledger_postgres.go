package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"ampel/internal/kyc/models"
)

// PostgresLedger persists events in kyc_webhook_events. It is the ledger of
// record whenever a database is configured.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO kyc_webhook_events (event_id, event_name, payload, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.EventName, string(payload), event.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return n == 1, nil
}

// Release deletes the row for an event whose processing failed within the
// request that recorded it. Processed events are never released.
func (l *PostgresLedger) Release(ctx context.Context, eventID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM kyc_webhook_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("release webhook event: %w", err)
	}
	return nil
}
