// Package mqtt mirrors coordinator events onto an MQTT broker.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"recycle-bin-backend/internal/events"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "recycling/bins"

// Payload represents the MQTT message payload structure.
type Payload struct {
	Bin BinPayload `json:"bin"`
}

// BinPayload contains the event details.
type BinPayload struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Points    int64  `json:"points,omitempty"`
}

// FormatPayload creates the JSON payload for an event.
func FormatPayload(event events.Event) ([]byte, error) {
	payload := Payload{
		Bin: BinPayload{
			ID:        event.BinID,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			UserID:    event.UserID,
			SessionID: event.SessionID,
			Points:    event.Points,
		},
	}
	return json.Marshal(payload)
}

// Topic returns the per-bin events topic.
func Topic(prefix, binID string) string {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return strings.TrimSuffix(prefix, "/") + "/" + binID + "/events"
}
