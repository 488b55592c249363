/**
 * @description
 * This file defines the subscriber-side domain models for the tool-service: the
 * credential-store record, the resolved caller context handed to the pipeline, and
 * the subscription tiers the rate limiter keys its budgets on.
 *
 * @notes
 * - The plaintext API key never appears in these types. Only its sha256 digest is stored.
 */

package domain

import (
	"time"
)

// Tier is the plan a resolved caller is billed and rate limited under.
type Tier string

const (
	TierFree  Tier = "free"
	TierTrial Tier = "trial"
	TierPro   Tier = "pro"
)

// AnonymousSubscriberID is used for every call when authentication is disabled.
const AnonymousSubscriberID = "anonymous"

// Subscriber maps to the `subscribers` table owned by the account web app.
type Subscriber struct {
	ID                 string     `json:"subscriber_id"`
	Email              string     `json:"email,omitempty"`
	ClerkUserID        *string    `json:"-"`
	APIKeyHash         string     `json:"-"`
	SubscriptionActive bool       `json:"subscription_active"`
	TrialExpiresAt     *time.Time `json:"trial_expires_at,omitempty"`
	UsageCount         int64      `json:"usage_count"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// InTrial reports whether the trial window is still open at now.
func (s *Subscriber) InTrial(now time.Time) bool {
	return s.TrialExpiresAt != nil && now.Before(*s.TrialExpiresAt)
}

// Entitled reports whether the subscriber may call paid tools at now.
func (s *Subscriber) Entitled(now time.Time) bool {
	return s.SubscriptionActive || s.InTrial(now)
}

// TierAt derives the plan tier at now. Callers should check Entitled first.
func (s *Subscriber) TierAt(now time.Time) Tier {
	switch {
	case s.SubscriptionActive:
		return TierPro
	case s.InTrial(now):
		return TierTrial
	default:
		return TierFree
	}
}

// SubscriberContext is what the pipeline knows about the caller after validation.
type SubscriberContext struct {
	SubscriberID string `json:"subscriber_id"`
	Tier         Tier   `json:"tier"`
}

// Anonymous reports whether the context was produced with authentication disabled.
func (c SubscriberContext) Anonymous() bool {
	return c.SubscriberID == AnonymousSubscriberID
}
