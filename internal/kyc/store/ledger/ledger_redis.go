package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ampel/internal/kyc/models"
)

const keyPrefix = "ampel:kyc:webhook:"

// RedisLedger keeps events in Redis with SETNX and a retention TTL. On its
// own it serves deployments without a database; next to Postgres it is the
// fast path of a LayeredLedger.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &RedisLedger{client: client, ttl: ttl}
}

type redisEntry struct {
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

func redisKey(eventID string) string {
	return keyPrefix + eventID
}

func (l *RedisLedger) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	value, err := json.Marshal(redisEntry{
		Name:       event.EventName,
		Payload:    event.Payload,
		ReceivedAt: event.ReceivedAt,
	})
	if err != nil {
		return false, fmt.Errorf("encode ledger entry: %w", err)
	}
	inserted, err := l.client.SetNX(ctx, redisKey(event.EventID), value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return inserted, nil
}

func (l *RedisLedger) Release(ctx context.Context, eventID string) error {
	if err := l.client.Del(ctx, redisKey(eventID)).Err(); err != nil {
		return fmt.Errorf("release webhook event: %w", err)
	}
	return nil
}

// Lookup returns the stored entry for eventID, or false when absent.
func (l *RedisLedger) Lookup(ctx context.Context, eventID string) (*models.WebhookEvent, bool, error) {
	raw, err := l.client.Get(ctx, redisKey(eventID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load webhook event: %w", err)
	}
	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("decode ledger entry: %w", err)
	}
	return &models.WebhookEvent{
		EventID:    eventID,
		EventName:  entry.Name,
		Payload:    entry.Payload,
		ReceivedAt: entry.ReceivedAt,
	}, true, nil
}
