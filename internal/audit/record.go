package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-bloodbank/internal/bloodbank"
)

// Record is one envelope as it landed in the audit trail.
type Record struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	CorrelationID string          `json:"correlation_id"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
	ReceivedAt    time.Time       `json:"received_at"`
}

func FromEnvelope(env bloodbank.Envelope, receivedAt time.Time) Record {
	return Record{
		EventID:       env.EventID,
		EventType:     env.EventType,
		EventVersion:  env.EventVersion,
		CorrelationID: env.CorrelationID,
		Producer:      env.Producer,
		TraceID:       env.TraceID,
		OccurredAt:    env.OccurredAt,
		Payload:       env.Payload,
		ReceivedAt:    receivedAt,
	}
}

type Store interface {
	// Append reports false when the event id is already recorded.
	Append(ctx context.Context, rec Record) (bool, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error)
}

// Deduper is a fast path in front of Store. Mark is only called once the
// record is durable, so a crash can never leave an event marked but missing.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}
