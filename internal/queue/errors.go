package queue

import "errors"

// State machine errors.
var (
	// ErrItemNotFound is returned when no item exists with the given id.
	ErrItemNotFound = errors.New("review item not found")

	// ErrInvalidTransition is returned for moves not in the state table,
	// including any reviewer action on an expired item.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConflict is returned when the item was already decided by another
	// reviewer. Callers surface it as "already handled" and never retry.
	ErrConflict = errors.New("item already handled")

	// ErrAlreadyLocked is returned when another reviewer holds the edit lock.
	ErrAlreadyLocked = errors.New("item is being edited by another reviewer")

	// ErrPermissionDenied is returned when the actor lacks the required
	// relationship to the item, e.g. cancelling someone else's edit.
	ErrPermissionDenied = errors.New("reviewer does not hold the edit lock")

	// ErrUnknownReviewer is returned when the actor is not in the configured
	// reviewer set.
	ErrUnknownReviewer = errors.New("unknown reviewer")
)
