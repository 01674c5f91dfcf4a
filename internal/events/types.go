// Package events defines the event value types shared by the router,
// the durable store, and the transport boundaries.
package events

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event represents a single occurrence published into the pipeline.
// An Event is immutable after construction: the router and the store
// only read it.
type Event struct {
	ID        string          `json:"id" db:"id"`
	Type      string          `json:"event_type" db:"event_type"`
	Source    string          `json:"source" db:"source"`
	SessionID *string         `json:"session_id" db:"session_id"`
	UserID    *string         `json:"user_id" db:"user_id"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// NewEventID generates a fresh event identifier (evt_ + 12 hex chars).
func NewEventID() string {
	u := uuid.New()
	return "evt_" + hex.EncodeToString(u[:])[:12]
}

// NewSubscriberID generates a fresh subscriber identifier (sub_ + 8 hex chars).
// IDs are high-entropy random tokens; uniqueness is only required among
// currently-active subscriptions.
func NewSubscriberID() string {
	u := uuid.New()
	return "sub_" + hex.EncodeToString(u[:])[:8]
}
