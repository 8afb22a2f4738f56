package file

import (
	"context"
	"fmt"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

// ItemStore persists review items in a JSON file.
type ItemStore struct {
	store *store[domain.ReviewItem]
}

// NewItemStore creates a review item store at the given path.
func NewItemStore(path string, retention int) (*ItemStore, error) {
	s, err := newStore(path, retention, validateItem)
	if err != nil {
		return nil, err
	}
	return &ItemStore{store: s}, nil
}

// Load reads the full item collection.
func (s *ItemStore) Load(ctx context.Context) (map[string]domain.ReviewItem, error) {
	return s.store.Load(ctx)
}

// Save atomically replaces the full item collection.
func (s *ItemStore) Save(ctx context.Context, items map[string]domain.ReviewItem) error {
	return s.store.Save(ctx, items)
}

func validateItem(id string, item domain.ReviewItem) error {
	if id == "" || item.ID == "" {
		return fmt.Errorf("empty item id")
	}
	if item.ID != id {
		return fmt.Errorf("item id %q does not match key %q", item.ID, id)
	}
	if !item.Status.IsValid() {
		return fmt.Errorf("unknown status %q", item.Status)
	}
	if item.ConversationID == "" {
		return fmt.Errorf("missing conversation id")
	}
	if item.CreatedAt.IsZero() {
		return fmt.Errorf("missing creation timestamp")
	}
	if item.ExpiresAt != nil && item.ExpiresAt.Before(item.CreatedAt) {
		return fmt.Errorf("expiry %s precedes creation %s", item.ExpiresAt, item.CreatedAt)
	}
	if item.Status == domain.ItemStatusEditing && item.EditorID == "" {
		return fmt.Errorf("editing item without edit lock")
	}
	return nil
}
