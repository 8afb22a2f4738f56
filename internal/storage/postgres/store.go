// Package postgres provides the PostgreSQL persistence backend.
//
// The approval queue persists whole snapshots: every save replaces the
// full record set inside one transaction, matching the durability
// contract of the file backend.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mttmxr-creator/BotAICurator/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies pending schema migrations.
func Migrate(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// ItemStore persists review items in PostgreSQL.
type ItemStore struct {
	db *pgxpool.Pool
}

// NewItemStore creates a review item store.
func NewItemStore(db *pgxpool.Pool) *ItemStore {
	return &ItemStore{db: db}
}

// Load reads all review items.
func (s *ItemStore) Load(ctx context.Context) (map[string]domain.ReviewItem, error) {
	query := `
		SELECT
			id, conversation_id, user_id, user_display_name,
			original_input, answer, original_answer, status,
			created_at, expires_at, last_notified_at, moderated_at,
			reminder_count, editor_id, editor_name, editing_started_at,
			moderated_by, moderated_by_name, rejection_reason
		FROM review_items
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load review items: %w", err)
	}
	defer rows.Close()

	items := make(map[string]domain.ReviewItem)
	for rows.Next() {
		var item domain.ReviewItem
		err := rows.Scan(
			&item.ID,
			&item.ConversationID,
			&item.UserID,
			&item.UserDisplayName,
			&item.OriginalInput,
			&item.Answer,
			&item.OriginalAnswer,
			&item.Status,
			&item.CreatedAt,
			&item.ExpiresAt,
			&item.LastNotifiedAt,
			&item.ModeratedAt,
			&item.ReminderCount,
			&item.EditorID,
			&item.EditorName,
			&item.EditingStartedAt,
			&item.ModeratedBy,
			&item.ModeratedByName,
			&item.RejectionReason,
		)
		if err != nil {
			return nil, fmt.Errorf("scan review item: %w", err)
		}
		items[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read review items: %w", err)
	}
	return items, nil
}

// Save replaces the full review item set atomically.
func (s *ItemStore) Save(ctx context.Context, items map[string]domain.ReviewItem) error {
	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM review_items`); err != nil {
			return fmt.Errorf("clear review items: %w", err)
		}

		query := `
			INSERT INTO review_items (
				id, conversation_id, user_id, user_display_name,
				original_input, answer, original_answer, status,
				created_at, expires_at, last_notified_at, moderated_at,
				reminder_count, editor_id, editor_name, editing_started_at,
				moderated_by, moderated_by_name, rejection_reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		`
		for _, item := range items {
			_, err := tx.Exec(ctx, query,
				item.ID,
				item.ConversationID,
				item.UserID,
				item.UserDisplayName,
				item.OriginalInput,
				item.Answer,
				item.OriginalAnswer,
				item.Status,
				item.CreatedAt,
				item.ExpiresAt,
				item.LastNotifiedAt,
				item.ModeratedAt,
				item.ReminderCount,
				item.EditorID,
				item.EditorName,
				item.EditingStartedAt,
				item.ModeratedBy,
				item.ModeratedByName,
				item.RejectionReason,
			)
			if err != nil {
				return fmt.Errorf("insert review item %s: %w", item.ID, err)
			}
		}
		return nil
	})
}

// EnvelopeStore persists delivery envelopes in PostgreSQL.
type EnvelopeStore struct {
	db *pgxpool.Pool
}

// NewEnvelopeStore creates a delivery envelope store.
func NewEnvelopeStore(db *pgxpool.Pool) *EnvelopeStore {
	return &EnvelopeStore{db: db}
}

// Load reads all delivery envelopes.
func (s *EnvelopeStore) Load(ctx context.Context) (map[string]domain.DeliveryEnvelope, error) {
	query := `
		SELECT
			id, conversation_id, user_id, text, item_id, status,
			attempts, last_error, created_at, acknowledged_at
		FROM delivery_envelopes
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load delivery envelopes: %w", err)
	}
	defer rows.Close()

	envelopes := make(map[string]domain.DeliveryEnvelope)
	for rows.Next() {
		var env domain.DeliveryEnvelope
		err := rows.Scan(
			&env.ID,
			&env.ConversationID,
			&env.UserID,
			&env.Text,
			&env.ItemID,
			&env.Status,
			&env.Attempts,
			&env.LastError,
			&env.CreatedAt,
			&env.AcknowledgedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan delivery envelope: %w", err)
		}
		envelopes[env.ID] = env
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read delivery envelopes: %w", err)
	}
	return envelopes, nil
}

// Save replaces the full envelope set atomically.
func (s *EnvelopeStore) Save(ctx context.Context, envelopes map[string]domain.DeliveryEnvelope) error {
	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM delivery_envelopes`); err != nil {
			return fmt.Errorf("clear delivery envelopes: %w", err)
		}

		query := `
			INSERT INTO delivery_envelopes (
				id, conversation_id, user_id, text, item_id, status,
				attempts, last_error, created_at, acknowledged_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		for _, env := range envelopes {
			_, err := tx.Exec(ctx, query,
				env.ID,
				env.ConversationID,
				env.UserID,
				env.Text,
				env.ItemID,
				env.Status,
				env.Attempts,
				env.LastError,
				env.CreatedAt,
				env.AcknowledgedAt,
			)
			if err != nil {
				return fmt.Errorf("insert delivery envelope %s: %w", env.ID, err)
			}
		}
		return nil
	})
}

func inTx(ctx context.Context, db *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
