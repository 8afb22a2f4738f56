package notify

import (
	"time"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

// MessageKind defines the type of reviewer notification.
type MessageKind string

// Message kinds.
const (
	KindSubmitted     MessageKind = "submitted"      // new item awaiting review
	KindReminder      MessageKind = "reminder"       // item still waiting
	KindEditing       MessageKind = "editing"        // a reviewer took the edit lock
	KindEditCancelled MessageKind = "edit_cancelled" // edit lock released without changes
	KindEdited        MessageKind = "edited"         // answer text replaced
	KindApproved      MessageKind = "approved"       // answer sent to the user
	KindRejected      MessageKind = "rejected"       // answer discarded
	KindExpired       MessageKind = "expired"        // review deadline passed
)

// Payload contains data for rendering a reviewer notification.
type Payload struct {
	Kind      MessageKind
	Item      ItemData
	ActorName string // reviewer who caused the transition, empty for system events
	QueueSize int
	Reminder  *ReminderData
}

// ItemData contains review item information for rendering.
type ItemData struct {
	ID           string
	UserName     string
	Question     string
	Answer       string
	Status       string
	LockedBy     string
	CreatedAt    time.Time
	ExpiresAt    *time.Time
	QueueAge     time.Duration
	Reason       string // rejection reason, when present
}

// ReminderData carries the escalation state of a reminder.
type ReminderData struct {
	Count   int
	Max     int
	Urgency string
}

// Actionable reports whether the notification should carry action
// controls. Only a pending item may be acted on; an item someone holds
// the edit lock on gets a non-actionable indicator instead, so no
// reviewer can trigger a transition on a locked item.
func (p Payload) Actionable() bool {
	return p.Item.Status == string(domain.ItemStatusPending)
}
