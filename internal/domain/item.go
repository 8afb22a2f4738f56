package domain

import "time"

// ItemStatus represents the current status of a review item.
type ItemStatus string

// Item statuses. An item starts as pending; sent, rejected and expired
// are terminal.
const (
	ItemStatusPending  ItemStatus = "pending"
	ItemStatusEditing  ItemStatus = "editing"
	ItemStatusSent     ItemStatus = "sent"
	ItemStatusRejected ItemStatus = "rejected"
	ItemStatusExpired  ItemStatus = "expired"
)

// IsValid checks if the status is one of the known statuses.
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusEditing, ItemStatusSent, ItemStatusRejected, ItemStatusExpired:
		return true
	}
	return false
}

// IsTerminal checks if the status permits no further transitions.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusSent || s == ItemStatusRejected || s == ItemStatusExpired
}

// ReviewItem is a machine-generated answer waiting for reviewer approval.
type ReviewItem struct {
	ID              string     `json:"id"`
	ConversationID  string     `json:"conversation_id"`
	UserID          string     `json:"user_id"`
	UserDisplayName string     `json:"user_display_name"`
	OriginalInput   string     `json:"original_input"`
	Answer          string     `json:"answer"`          // current candidate text, mutable while editing
	OriginalAnswer  string     `json:"original_answer"` // as generated, kept for audit
	Status          ItemStatus `json:"status"`

	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"` // nil means no auto-expiry
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
	ModeratedAt    *time.Time `json:"moderated_at,omitempty"`
	ReminderCount  int        `json:"reminder_count"`

	// Edit lock, set only while Status == editing.
	EditorID         string     `json:"editor_id,omitempty"`
	EditorName       string     `json:"editor_name,omitempty"`
	EditingStartedAt *time.Time `json:"editing_started_at,omitempty"`

	// Audit fields for terminal transitions.
	ModeratedBy     string `json:"moderated_by,omitempty"`
	ModeratedByName string `json:"moderated_by_name,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// IsExpired checks if the item's auto-expiry deadline has passed.
func (i *ReviewItem) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}

// IsLocked checks if an edit lock is held on the item.
func (i *ReviewItem) IsLocked() bool {
	return i.EditorID != ""
}
