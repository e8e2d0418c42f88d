// Package postgres stores audit events in the kyc_audit_outbox table. Rows
// commit alongside the KYC writes and are forwarded by the outbox relay.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "ampel/pkg/domain"
	audit "ampel/pkg/platform/audit"
	"ampel/pkg/platform/audit/outbox"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// payload mirrors the Kafka record so the relay forwards the same fields.
type payload struct {
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Action    string `json:"action"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (p payload) event() (audit.Event, error) {
	event := audit.Event{
		Category:  audit.EventCategory(p.Category),
		Subject:   p.Subject,
		Action:    p.Action,
		Decision:  p.Decision,
		Reason:    p.Reason,
		RequestID: p.RequestID,
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return audit.Event{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	event.Timestamp = ts
	if p.UserID != "" {
		uid, err := uuid.Parse(p.UserID)
		if err != nil {
			return audit.Event{}, fmt.Errorf("parse audit user id: %w", err)
		}
		event.UserID = id.UserID(uid)
	}
	return event, nil
}

// Append writes event to the outbox. The category is always derived from the
// action.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	body := payload{
		Category:  string(audit.AuditEvent(event.Action).Category()),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Action:    event.Action,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
	}
	entryID := uuid.New()
	aggregateType, aggregateID := "audit", entryID.String()
	var userID *uuid.UUID
	if !event.UserID.IsNil() {
		uid := uuid.UUID(event.UserID)
		userID = &uid
		body.UserID = uid.String()
		aggregateType, aggregateID = "user", body.UserID
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kyc_audit_outbox (id, aggregate_type, aggregate_id, event_type, user_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entryID, aggregateType, aggregateID, event.Action, userID, string(raw), s.now())
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ListByUser returns a user's events, published or not, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM kyc_audit_outbox
		WHERE user_id = $1
		ORDER BY created_at, id
	`, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	events := make([]audit.Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, e.Event)
	}
	return events, nil
}

// Pending returns up to limit unpublished entries, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]outbox.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM kyc_audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox entries: %w", err)
	}
	return scanEntries(rows)
}

func (s *Store) MarkPublished(ctx context.Context, entryID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE kyc_audit_outbox SET published_at = $2
		WHERE id = $1 AND published_at IS NULL
	`, entryID, at)
	if err != nil {
		return fmt.Errorf("mark outbox entry published: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]outbox.Entry, error) {
	defer rows.Close()
	var entries []outbox.Entry
	for rows.Next() {
		var (
			entryID uuid.UUID
			raw     []byte
			body    payload
		)
		if err := rows.Scan(&entryID, &raw); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode outbox entry %s: %w", entryID, err)
		}
		event, err := body.event()
		if err != nil {
			return nil, err
		}
		entries = append(entries, outbox.Entry{ID: entryID, Event: event})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}
