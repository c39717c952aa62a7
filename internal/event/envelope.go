package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDeposited
	EventTypeBorrowed
	EventTypeRepaid
	EventTypeWithdrawn
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64 `json:"sequence"`

	// Stable idempotency key from upstream (instruction ID)
	EventID uuid.UUID `json:"event_id"`

	// Event type discriminator
	Type EventType `json:"type"`

	// Account whose position the event touched
	Account uuid.UUID `json:"account"`

	// Asset amount moved by the operation
	Amount int64 `json:"amount"`

	// Interest collected on top of principal (Repaid only)
	Interest int64 `json:"interest,omitempty"`

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time `json:"timestamp"`
}

// IdempotencyKey returns the composite dedup key stored for this event,
// the same key format the engine's LRU and the Postgres cold path use.
func (e Envelope) IdempotencyKey() string {
	return e.Type.String() + ":" + e.EventID.String()
}

func (et EventType) String() string {
	switch et {
	case EventTypeDeposited:
		return "Deposited"
	case EventTypeBorrowed:
		return "Borrowed"
	case EventTypeRepaid:
		return "Repaid"
	case EventTypeWithdrawn:
		return "Withdrawn"
	default:
		return "Unknown"
	}
}

// Subject returns the NATS subject the envelope publishes on.
func (e Envelope) Subject() string {
	switch e.Type {
	case EventTypeDeposited:
		return "lend.ledger.events.deposited"
	case EventTypeBorrowed:
		return "lend.ledger.events.borrowed"
	case EventTypeRepaid:
		return "lend.ledger.events.repaid"
	case EventTypeWithdrawn:
		return "lend.ledger.events.withdrawn"
	default:
		return "lend.ledger.events.unknown"
	}
}
