package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type discriminator for event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeLiquidationExecuted
	TypeFeesWithdrawn
)

func (t Type) String() string {
	switch t {
	case TypeLiquidationExecuted:
		return "LiquidationExecuted"
	case TypeFeesWithdrawn:
		return "FeesWithdrawn"
	default:
		return "Unknown"
	}
}

// Event is the interface all payloads implement.
type Event interface {
	// IdempotencyKey returns the stable dedup key. Consumers must treat
	// two envelopes with the same key as the same occurrence.
	IdempotencyKey() string

	// Type returns the discriminator
	Type() Type

	// Ledger returns the ledger context
	Ledger() string
}

// Envelope wraps every published event.
type Envelope struct {
	EventID        uuid.UUID       `json:"event_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Type           Type            `json:"type"`
	TypeName       string          `json:"type_name"`
	Ledger         string          `json:"ledger"`
	EmittedAt      time.Time       `json:"emitted_at"`
	Payload        json.RawMessage `json:"payload"`
}

// Wrap builds an envelope around an event, marshalling the payload.
func Wrap(e Event) (Envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", e.Type(), err)
	}
	return Envelope{
		EventID:        uuid.New(),
		IdempotencyKey: e.IdempotencyKey(),
		Type:           e.Type(),
		TypeName:       e.Type().String(),
		Ledger:         e.Ledger(),
		EmittedAt:      time.Now().UTC(),
		Payload:        payload,
	}, nil
}
