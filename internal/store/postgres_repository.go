/**
 * @description
 * This file provides the PostgreSQL implementation of the credential, key and usage
 * stores. The `subscribers` table is written by the account web app; this service
 * reads it, rotates key hashes on request, and appends to `usage_logs`.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements CredentialStore, KeyStore and UsageStore.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const subscriberColumns = `
	id, COALESCE(email, ''), clerk_user_id, api_key_hash, subscription_active,
	trial_expires_at, usage_count, last_used_at, created_at, updated_at
`

func scanSubscriber(row pgx.Row) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	err := row.Scan(
		&sub.ID,
		&sub.Email,
		&sub.ClerkUserID,
		&sub.APIKeyHash,
		&sub.SubscriptionActive,
		&sub.TrialExpiresAt,
		&sub.UsageCount,
		&sub.LastUsedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriberNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// FindSubscriberByKeyHash looks a subscriber up by the sha256 digest of their key.
// api_key_hash carries a unique index, so at most one row matches.
func (r *PostgresRepository) FindSubscriberByKeyHash(ctx context.Context, keyHash string) (*domain.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE api_key_hash = $1 LIMIT 1`
	return scanSubscriber(r.db.QueryRow(ctx, query, keyHash))
}

// FindSubscriberByClerkUserID resolves the subscriber that owns a web-app login.
func (r *PostgresRepository) FindSubscriberByClerkUserID(ctx context.Context, clerkUserID string) (*domain.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE clerk_user_id = $1`
	return scanSubscriber(r.db.QueryRow(ctx, query, clerkUserID))
}

// RotateAPIKeyHash swaps the live key hash. The single UPDATE is atomic, so the old
// hash stops matching in the same instant the new one starts.
func (r *PostgresRepository) RotateAPIKeyHash(ctx context.Context, subscriberID string, newHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscribers SET api_key_hash = $2, updated_at = NOW() WHERE id = $1`,
		subscriberID, newHash,
	)
	if err != nil {
		return fmt.Errorf("rotate api key hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriberNotFound
	}
	return nil
}

// InsertUsageRecord appends a usage row keyed by request id and bumps the subscriber's
// usage counter when the row is new and the call succeeded.
func (r *PostgresRepository) InsertUsageRecord(ctx context.Context, rec domain.UsageRecord) (bool, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin usage tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO usage_logs (request_id, subscriber_id, tool_name, result_status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING
	`, rec.RequestID, rec.SubscriberID, rec.ToolName, rec.ResultStatus, rec.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert usage log: %w", err)
	}
	inserted := tag.RowsAffected() == 1

	if inserted && rec.Succeeded() {
		if _, err := tx.Exec(ctx, `
			UPDATE subscribers
			SET usage_count = usage_count + 1, last_used_at = $2
			WHERE id = $1
		`, rec.SubscriberID, rec.Timestamp); err != nil {
			return false, fmt.Errorf("increment usage count: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit usage tx: %w", err)
	}
	return inserted, nil
}

// PurgeUsageLogsBefore deletes usage rows older than cutoff and returns how many went.
func (r *PostgresRepository) PurgeUsageLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM usage_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge usage logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
