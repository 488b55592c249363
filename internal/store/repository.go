/**
 * @description
 * This file defines the storage contracts the tool-service depends on. The business
 * logic in internal/app and internal/tools only sees these interfaces, which keeps the
 * pgx implementations swappable and lets tests run on stubs.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/gammarips/tool-service/internal/domain"
)

var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrNoWarehouseData    = errors.New("no warehouse data for query")
	ErrQueryRejected      = errors.New("query rejected")
)

// CredentialStore resolves subscribers by the digest of their API key.
// It is owned by the account web app; this service only reads it.
type CredentialStore interface {
	FindSubscriberByKeyHash(ctx context.Context, keyHash string) (*domain.Subscriber, error)
}

// KeyStore backs the explicit key regeneration action.
type KeyStore interface {
	FindSubscriberByClerkUserID(ctx context.Context, clerkUserID string) (*domain.Subscriber, error)
	// RotateAPIKeyHash replaces the live hash in a single statement, so there is
	// never a moment where two hashes are valid.
	RotateAPIKeyHash(ctx context.Context, subscriberID string, newHash string) error
}

// UsageStore persists usage accounting.
type UsageStore interface {
	// InsertUsageRecord appends rec unless a record with the same request id exists.
	// It reports whether a row was written.
	InsertUsageRecord(ctx context.Context, rec domain.UsageRecord) (bool, error)
}

// Warehouse is the read-only market-data warehouse behind the dashboard tools.
type Warehouse interface {
	WinnersDashboard(ctx context.Context, q domain.WinnersQuery) (*domain.WinnersDashboard, error)
	PerformanceTracker(ctx context.Context, q domain.PerformanceQuery) (*domain.PerformanceReport, error)
	PerformanceSummary(ctx context.Context) (*domain.PerformanceSummary, error)
	CalendarEvents(ctx context.Context, q domain.CalendarQuery) (*domain.CalendarEvents, error)
	MarketStructure(ctx context.Context, ticker string, asOf string) (*domain.MarketStructure, error)
	RunPriceQuery(ctx context.Context, sql string) (*domain.QueryResult, error)
}
