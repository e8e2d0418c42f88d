package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "ampel/pkg/domain"
	audit "ampel/pkg/platform/audit"
)

func TestEncode(t *testing.T) {
	userID := id.UserID(uuid.New())
	eventID := uuid.New()
	key, value, err := encode(eventID, audit.Event{
		UserID:    userID,
		Action:    string(audit.EventKYCDuplicateAccount),
		Subject:   "act_1",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, userID.String(), string(key))

	var rec record
	require.NoError(t, json.Unmarshal(value, &rec))
	assert.Equal(t, "security", rec.Category)
	assert.Equal(t, "2026-03-01T12:00:00Z", rec.Timestamp)
	assert.Equal(t, eventID.String(), rec.ID)
}

func TestEncodeWithoutUserHasNoKey(t *testing.T) {
	key, _, err := encode(uuid.New(), audit.Event{Action: string(audit.EventKYCWebhookRejected)})
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil, "topic")
	assert.Error(t, err)
	_, err = New([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}
