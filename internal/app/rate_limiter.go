/**
 * @description
 * RateLimiter admits or rejects a call before any tool work happens. Two fixed
 * one-minute windows apply in order: a global budget per caller address, then a
 * per-subscriber budget sized by tier.
 *
 * @notes
 * - A call rejected by the global scope does not consume subscriber budget.
 * - Backend errors fail open with a warning; the limiter protects capacity, it does
 *   not gate entitlement.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/pkg/middleware"
)

const rateLimitWindow = time.Minute

// WindowStore performs an atomic check-and-increment on one window counter.
type WindowStore interface {
	Consume(ctx context.Context, scope string, subject string, limit int, w middleware.Window) (bool, error)
}

// MemoryWindowStore keeps windows in process memory.
type MemoryWindowStore struct {
	counter *middleware.FixedWindowCounter
}

func NewMemoryWindowStore(counter *middleware.FixedWindowCounter) *MemoryWindowStore {
	if counter == nil {
		counter = middleware.NewFixedWindowCounter(5 * time.Minute)
	}
	return &MemoryWindowStore{counter: counter}
}

// Consume implements WindowStore.
func (m *MemoryWindowStore) Consume(_ context.Context, scope string, subject string, limit int, w middleware.Window) (bool, error) {
	key := scope + ":" + subject + ":" + w.Start.Format(time.RFC3339)
	allowed, _ := m.counter.Consume(key, limit, w)
	return allowed, nil
}

// Sweep drops closed windows.
func (m *MemoryWindowStore) Sweep(now time.Time) int {
	return m.counter.Sweep(now)
}

// RateLimits holds the per-minute budgets. Zero or negative disables a budget.
type RateLimits struct {
	GlobalPerMinute int
	PerTier         map[domain.Tier]int
}

// DefaultRateLimits returns the stock budgets.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		GlobalPerMinute: 300,
		PerTier: map[domain.Tier]int{
			domain.TierPro:   120,
			domain.TierTrial: 30,
			domain.TierFree:  10,
		},
	}
}

// Admission describes the call being admitted.
type Admission struct {
	SubscriberID string
	Tier         domain.Tier
	ToolName     string
	ClientAddr   string
}

// RateLimiter enforces the global and subscriber windows.
type RateLimiter struct {
	store  WindowStore
	limits RateLimits
	now    func() time.Time
}

func NewRateLimiter(store WindowStore, limits RateLimits) *RateLimiter {
	return &RateLimiter{store: store, limits: limits, now: time.Now}
}

// Admit returns nil when the call may proceed or a RateLimited ToolError naming the
// scope that rejected it.
func (l *RateLimiter) Admit(ctx context.Context, a Admission) error {
	now := l.now()
	w := middleware.WindowAt(now, rateLimitWindow)

	if a.ClientAddr != "" {
		if !l.consume(ctx, string(domain.ScopeGlobal), a.ClientAddr, l.limits.GlobalPerMinute, w) {
			return domain.NewRateLimited(domain.ScopeGlobal, w.RetryAfter(now))
		}
	}

	if a.SubscriberID != "" {
		if !l.consume(ctx, string(domain.ScopeSubscriber), a.SubscriberID, l.limits.PerTier[a.Tier], w) {
			return domain.NewRateLimited(domain.ScopeSubscriber, w.RetryAfter(now))
		}
	}
	return nil
}

func (l *RateLimiter) consume(ctx context.Context, scope, subject string, limit int, w middleware.Window) bool {
	if limit <= 0 {
		return true
	}
	allowed, err := l.store.Consume(ctx, scope, subject, limit, w)
	if err != nil {
		log.Printf("level=warn component=rate_limiter msg=\"window store unavailable, admitting call\" scope=%s err=%v", scope, err)
		return true
	}
	return allowed
}
