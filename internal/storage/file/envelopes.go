package file

import (
	"context"
	"fmt"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

// EnvelopeStore persists delivery envelopes in a JSON file.
type EnvelopeStore struct {
	store *store[domain.DeliveryEnvelope]
}

// NewEnvelopeStore creates a delivery envelope store at the given path.
func NewEnvelopeStore(path string, retention int) (*EnvelopeStore, error) {
	s, err := newStore(path, retention, validateEnvelope)
	if err != nil {
		return nil, err
	}
	return &EnvelopeStore{store: s}, nil
}

// Load reads the full envelope collection.
func (s *EnvelopeStore) Load(ctx context.Context) (map[string]domain.DeliveryEnvelope, error) {
	return s.store.Load(ctx)
}

// Save atomically replaces the full envelope collection.
func (s *EnvelopeStore) Save(ctx context.Context, envelopes map[string]domain.DeliveryEnvelope) error {
	return s.store.Save(ctx, envelopes)
}

func validateEnvelope(id string, env domain.DeliveryEnvelope) error {
	if id == "" || env.ID == "" {
		return fmt.Errorf("empty envelope id")
	}
	if env.ID != id {
		return fmt.Errorf("envelope id %q does not match key %q", env.ID, id)
	}
	if !env.Status.IsValid() {
		return fmt.Errorf("unknown status %q", env.Status)
	}
	if env.ItemID == "" {
		return fmt.Errorf("missing originating item id")
	}
	if env.ConversationID == "" {
		return fmt.Errorf("missing conversation id")
	}
	return nil
}
