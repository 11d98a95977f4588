package events

import "time"

// Envelope wraps every published marketplace event
type Envelope struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	SchemaVersion  string         `json:"schema_version"`
	IdempotencyKey string         `json:"idempotency_key"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         string         `json:"source"`
	Subject        string         `json:"subject,omitempty"`
	Data           map[string]any `json:"data"`
}

// Event types
const (
	// EventItemListed is emitted by listItem and again by updateListing (new terms)
	EventItemListed   = "item.listed"
	EventItemCanceled = "item.canceled"
	EventItemBought   = "item.bought"

	EventProceedsWithdrawn = "proceeds.withdrawn"
)

// AllEventTypes lists every event type the marketplace emits
var AllEventTypes = []string{
	EventItemListed,
	EventItemCanceled,
	EventItemBought,
	EventProceedsWithdrawn,
}
