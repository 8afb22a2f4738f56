// Package delivery implements the at-least-once hand-off channel between
// approved answers and the outbound conversation transport.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

// Store persists the full envelope collection. Save replaces the whole
// collection atomically.
type Store interface {
	Load(ctx context.Context) (map[string]domain.DeliveryEnvelope, error)
	Save(ctx context.Context, envelopes map[string]domain.DeliveryEnvelope) error
}

// Config contains delivery channel configuration.
type Config struct {
	MaxAttempts int           // attempt bound before an envelope is marked failed
	Retention   time.Duration // acknowledged envelopes older than this are swept
}

// Queue is the durable delivery channel. An envelope stays visible to
// Poll until the consumer explicitly acknowledges it; reading alone never
// removes anything.
type Queue struct {
	cfg   Config
	store Store
	clock clockwork.Clock

	mu        sync.Mutex
	envelopes map[string]domain.DeliveryEnvelope
}

// NewQueue creates a delivery queue and loads the persisted envelope set.
func NewQueue(ctx context.Context, cfg Config, store Store, clock clockwork.Clock) (*Queue, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	envelopes, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delivery envelopes: %w", err)
	}
	if envelopes == nil {
		envelopes = make(map[string]domain.DeliveryEnvelope)
	}

	slog.Info("delivery queue initialized", "envelopes", len(envelopes), "max_attempts", cfg.MaxAttempts)

	return &Queue{
		cfg:       cfg,
		store:     store,
		clock:     clock,
		envelopes: envelopes,
	}, nil
}

// Enqueue persists an envelope and makes it visible to Poll.
func (q *Queue) Enqueue(ctx context.Context, env domain.DeliveryEnvelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.envelopes[env.ID]; exists {
		return fmt.Errorf("envelope id %s already enqueued", env.ID)
	}

	q.envelopes[env.ID] = env
	if err := q.store.Save(ctx, q.envelopes); err != nil {
		delete(q.envelopes, env.ID)
		return fmt.Errorf("persist envelope %s: %w", env.ID, err)
	}

	slog.Info("envelope enqueued",
		"envelope_id", env.ID,
		"item_id", env.ItemID,
		"conversation_id", env.ConversationID,
	)
	recordEnqueued()
	return nil
}

// Poll returns all un-acknowledged envelopes, oldest first, optionally
// scoped to a destination conversation. Polling does not mutate anything:
// an envelope leaves the pending set only through Acknowledge.
func (q *Queue) Poll(conversationID string) []domain.DeliveryEnvelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []domain.DeliveryEnvelope
	for _, env := range q.envelopes {
		if env.Status != domain.EnvelopeStatusPending {
			continue
		}
		if conversationID != "" && env.ConversationID != conversationID {
			continue
		}
		pending = append(pending, env)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}

// Acknowledge marks an envelope delivered. Acknowledging an already
// acknowledged envelope is a no-op, so redundant consumer retries are
// harmless.
func (q *Queue) Acknowledge(ctx context.Context, envelopeID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	env, ok := q.envelopes[envelopeID]
	if !ok {
		return ErrEnvelopeNotFound
	}
	if env.Status == domain.EnvelopeStatusAcknowledged {
		return nil
	}

	prev := env
	now := q.clock.Now()
	env.Status = domain.EnvelopeStatusAcknowledged
	env.AcknowledgedAt = &now
	q.envelopes[envelopeID] = env

	if err := q.store.Save(ctx, q.envelopes); err != nil {
		q.envelopes[envelopeID] = prev
		return fmt.Errorf("persist acknowledgment %s: %w", envelopeID, err)
	}

	slog.Info("envelope acknowledged", "envelope_id", envelopeID, "item_id", env.ItemID, "attempts", env.Attempts)
	recordAttempt("success")
	return nil
}

// RecordFailure increments the attempt counter after a failed delivery
// try. Once the bound is exceeded the envelope is marked failed and
// surfaced for operator attention instead of being retried forever.
func (q *Queue) RecordFailure(ctx context.Context, envelopeID, cause string) (*domain.DeliveryEnvelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	env, ok := q.envelopes[envelopeID]
	if !ok {
		return nil, ErrEnvelopeNotFound
	}
	if env.Status != domain.EnvelopeStatusPending {
		return &env, nil
	}

	prev := env
	env.Attempts++
	env.LastError = cause
	exhausted := env.Attempts >= q.cfg.MaxAttempts
	if exhausted {
		env.Status = domain.EnvelopeStatusFailed
	}
	q.envelopes[envelopeID] = env

	if err := q.store.Save(ctx, q.envelopes); err != nil {
		q.envelopes[envelopeID] = prev
		return nil, fmt.Errorf("persist delivery attempt %s: %w", envelopeID, err)
	}

	if exhausted {
		slog.Error("delivery exhausted, envelope needs operator attention",
			"envelope_id", envelopeID,
			"item_id", env.ItemID,
			"attempts", env.Attempts,
			"last_error", cause,
		)
		recordAttempt("exhausted")
		return &env, ErrDeliveryExhausted
	}

	slog.Warn("delivery attempt failed",
		"envelope_id", envelopeID,
		"attempt", env.Attempts,
		"max_attempts", q.cfg.MaxAttempts,
		"error", cause,
	)
	recordAttempt("failure")
	return &env, nil
}

// Failed returns envelopes that exhausted their delivery attempts.
func (q *Queue) Failed() []domain.DeliveryEnvelope {
	q.mu.Lock()
	defer q.mu.Unlock()

	var failed []domain.DeliveryEnvelope
	for _, env := range q.envelopes {
		if env.Status == domain.EnvelopeStatusFailed {
			failed = append(failed, env)
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].CreatedAt.Before(failed[j].CreatedAt)
	})
	return failed
}

// Sweep garbage-collects acknowledged envelopes older than the retention
// window. Returns the number of envelopes removed.
func (q *Queue) Sweep(ctx context.Context) (int, error) {
	if q.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := q.clock.Now().Add(-q.cfg.Retention)

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := make(map[string]domain.DeliveryEnvelope)
	for id, env := range q.envelopes {
		if env.Status == domain.EnvelopeStatusAcknowledged &&
			env.AcknowledgedAt != nil && env.AcknowledgedAt.Before(cutoff) {
			removed[id] = env
			delete(q.envelopes, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := q.store.Save(ctx, q.envelopes); err != nil {
		for id, env := range removed {
			q.envelopes[id] = env
		}
		return 0, fmt.Errorf("persist envelope sweep: %w", err)
	}

	slog.Info("swept acknowledged envelopes", "count", len(removed))
	return len(removed), nil
}

// Stats contains delivery channel statistics.
type Stats struct {
	Pending      int `json:"pending"`
	Acknowledged int `json:"acknowledged"`
	Failed       int `json:"failed"`
}

// GetStats returns delivery statistics for monitoring.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stats Stats
	for _, env := range q.envelopes {
		switch env.Status {
		case domain.EnvelopeStatusPending:
			stats.Pending++
		case domain.EnvelopeStatusAcknowledged:
			stats.Acknowledged++
		case domain.EnvelopeStatusFailed:
			stats.Failed++
		}
	}
	return stats
}
