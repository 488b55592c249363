package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/store"
)

// ErrNoSubscriber is returned when the signed-in account has no subscriber record yet.
var ErrNoSubscriber = errors.New("no subscriber for account")

// KeyEventPublisher announces key rotations to other replicas.
type KeyEventPublisher interface {
	PublishKeyRotated(ctx context.Context, event domain.SubscriberChangedEvent) error
}

// CacheInvalidator drops cached credentials for a subscriber.
type CacheInvalidator interface {
	Invalidate(subscriberID string) int
}

// RotatedKey is returned once to the account owner. The plaintext key is not stored.
type RotatedKey struct {
	SubscriberID string    `json:"subscriber_id"`
	APIKey       string    `json:"api_key"`
	RotatedAt    time.Time `json:"rotated_at"`
}

// KeyRotator regenerates subscriber API keys.
type KeyRotator struct {
	keys      store.KeyStore
	cache     CacheInvalidator
	publisher KeyEventPublisher
	now       func() time.Time
}

// NewKeyRotator creates a rotator. cache and publisher may be nil.
func NewKeyRotator(keys store.KeyStore, cache CacheInvalidator, publisher KeyEventPublisher) *KeyRotator {
	return &KeyRotator{keys: keys, cache: cache, publisher: publisher, now: time.Now}
}

// Rotate issues a new key for the subscriber owned by clerkUserID. The old key stops
// working as soon as the hash swap commits.
func (k *KeyRotator) Rotate(ctx context.Context, clerkUserID string) (*RotatedKey, error) {
	sub, err := k.keys.FindSubscriberByClerkUserID(ctx, clerkUserID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriberNotFound) {
			return nil, ErrNoSubscriber
		}
		return nil, fmt.Errorf("lookup subscriber: %w", err)
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	if err := k.keys.RotateAPIKeyHash(ctx, sub.ID, HashAPIKey(key)); err != nil {
		if errors.Is(err, store.ErrSubscriberNotFound) {
			return nil, ErrNoSubscriber
		}
		return nil, fmt.Errorf("rotate api key: %w", err)
	}

	if k.cache != nil {
		k.cache.Invalidate(sub.ID)
	}

	rotatedAt := k.now().UTC()
	if k.publisher != nil {
		event := domain.SubscriberChangedEvent{SubscriberID: sub.ID, Reason: "key_rotated", OccurredAt: rotatedAt}
		if err := k.publisher.PublishKeyRotated(ctx, event); err != nil {
			log.Printf("level=warn component=key_rotator msg=\"key rotation event publish failed\" subscriber_id=%s err=%v", sub.ID, err)
		}
	}

	log.Printf("level=info component=key_rotator msg=\"api key rotated\" subscriber_id=%s", sub.ID)
	return &RotatedKey{SubscriberID: sub.ID, APIKey: key, RotatedAt: rotatedAt}, nil
}
