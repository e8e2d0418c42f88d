package models

import (
	"encoding/json"
	"time"
)

// WebhookEvent is an entry in the idempotency ledger.
type WebhookEvent struct {
	EventID    string
	EventName  string
	Payload    json.RawMessage
	ReceivedAt time.Time
}
