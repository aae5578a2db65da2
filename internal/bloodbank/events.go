package bloodbank

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventDonationRecorded  = "DonationRecorded"
	EventRequestSubmitted  = "RequestSubmitted"
	EventRequestApproved   = "RequestApproved"
	EventRequestRejected   = "RequestRejected"
	EventApprovalShortfall = "ApprovalShortfall"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // request id or donation id
	Payload       json.RawMessage `json:"payload"`
}

type DonationRecordedPayload struct {
	Donation DonationEvent `json:"donation"`
	Balance  int           `json:"balance"`
}

type RequestSubmittedPayload struct {
	Request BloodRequest `json:"request"`
}

type RequestDecidedPayload struct {
	Request BloodRequest `json:"request"`
	Balance *int         `json:"balance,omitempty"` // set on approval
}

type ApprovalShortfallPayload struct {
	RequestID string     `json:"request_id"`
	Group     BloodGroup `json:"blood_group"`
	Available int        `json:"available"`
	Requested int        `json:"requested"`
	Actor     string     `json:"actor,omitempty"`
}

// NewEnvelope wraps payload in a version 1 envelope.
func NewEnvelope(eventType, producer, correlationID, traceID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}
