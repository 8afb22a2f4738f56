package queue

import (
	"context"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

// Store persists the full review item collection. Save replaces the whole
// collection atomically; implementations back up the previous generation
// before every write.
type Store interface {
	Load(ctx context.Context) (map[string]domain.ReviewItem, error)
	Save(ctx context.Context, items map[string]domain.ReviewItem) error
}
