package domain

import "time"

// EnvelopeStatus represents the delivery state of an envelope.
type EnvelopeStatus string

// Envelope statuses. An envelope stays pending until the outbound
// transport acknowledges it; failed is terminal and surfaced to operators.
const (
	EnvelopeStatusPending      EnvelopeStatus = "pending"
	EnvelopeStatusAcknowledged EnvelopeStatus = "acknowledged"
	EnvelopeStatusFailed       EnvelopeStatus = "failed"
)

// IsValid checks if the status is one of the known statuses.
func (s EnvelopeStatus) IsValid() bool {
	switch s {
	case EnvelopeStatusPending, EnvelopeStatusAcknowledged, EnvelopeStatusFailed:
		return true
	}
	return false
}

// DeliveryEnvelope is an approved answer awaiting hand-off to the
// outbound conversation transport. Delivery is at-least-once: the
// consumer must de-duplicate on (ConversationID, ItemID).
type DeliveryEnvelope struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Text           string         `json:"text"`
	ItemID         string         `json:"item_id"` // originating ReviewItem id
	Status         EnvelopeStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
}
