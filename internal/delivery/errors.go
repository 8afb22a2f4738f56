package delivery

import "errors"

// Delivery channel errors.
var (
	// ErrEnvelopeNotFound is returned when no envelope exists with the given id.
	ErrEnvelopeNotFound = errors.New("delivery envelope not found")

	// ErrDeliveryExhausted is returned when a failure report pushes an
	// envelope past its attempt bound. The envelope is kept as failed for
	// operator attention and never retried automatically.
	ErrDeliveryExhausted = errors.New("delivery attempts exhausted")
)
