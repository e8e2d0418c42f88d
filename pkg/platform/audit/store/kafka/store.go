// Package kafka forwards audit events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "ampel/pkg/platform/audit"
)

// Store produces each audit event as one JSON record keyed by user id, so
// a user's events stay ordered within a partition.
type Store struct {
	client *kgo.Client
	topic  string
}

// New connects a producer to brokers.
func New(brokers []string, topic string) (*Store, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka audit topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Store{client: client, topic: topic}, nil
}

// record is the wire shape consumed by downstream audit materializers.
type record struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	Action    string `json:"action"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func encode(eventID uuid.UUID, event audit.Event) (key, value []byte, err error) {
	rec := record{
		ID:        eventID.String(),
		Category:  string(audit.AuditEvent(event.Action).Category()),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Action:    event.Action,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
	}
	if !event.UserID.IsNil() {
		rec.UserID = event.UserID.String()
		key = []byte(rec.UserID)
	}
	value, err = json.Marshal(rec)
	return key, value, err
}

// Append produces event synchronously and returns once the brokers ack.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	return s.AppendWithID(ctx, uuid.New(), event)
}

// AppendWithID produces event under a caller-chosen record id. The outbox
// relay passes the outbox entry id so redeliveries share one id.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	key, value, err := encode(eventID, event)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	res := s.client.ProduceSync(ctx, &kgo.Record{Topic: s.topic, Key: key, Value: value})
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}

// Ping checks broker reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close() {
	s.client.Close()
}
