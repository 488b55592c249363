package app

import (
	"context"
	"sync"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/store"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCredentialCacheTTL bounds how long a key or entitlement change can go unnoticed.
	DefaultCredentialCacheTTL = 30 * time.Second
	// DefaultCredentialCacheSize caps the key digests held at once.
	DefaultCredentialCacheSize = 10000
)

// CredentialCache is a read-through cache in front of a CredentialStore. Only positive
// lookups are cached, so a newly issued key works on its first call. Entries expire
// after the TTL on their own.
type CredentialCache struct {
	next store.CredentialStore
	lru  *expirable.LRU[string, domain.Subscriber]

	// mu orders cache fills against Invalidate. epoch counts invalidations so a lookup
	// that raced one does not write its pre-invalidation answer back.
	mu    sync.Mutex
	epoch uint64
}

// NewCredentialCache wraps next. A ttl of zero or less disables caching.
func NewCredentialCache(next store.CredentialStore, ttl time.Duration) *CredentialCache {
	c := &CredentialCache{next: next}
	if ttl > 0 {
		c.lru = expirable.NewLRU[string, domain.Subscriber](DefaultCredentialCacheSize, nil, ttl)
	}
	return c
}

// FindSubscriberByKeyHash implements store.CredentialStore.
func (c *CredentialCache) FindSubscriberByKeyHash(ctx context.Context, keyHash string) (*domain.Subscriber, error) {
	if c.lru == nil {
		return c.next.FindSubscriberByKeyHash(ctx, keyHash)
	}
	if sub, ok := c.lru.Get(keyHash); ok {
		return &sub, nil
	}

	c.mu.Lock()
	started := c.epoch
	c.mu.Unlock()

	sub, err := c.next.FindSubscriberByKeyHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		c.mu.Lock()
		if c.epoch == started {
			c.lru.Add(keyHash, *sub)
		}
		c.mu.Unlock()
	}
	return sub, nil
}

// Invalidate drops every cached entry for subscriberID and returns how many went.
// Lookups already in flight will not cache their result.
func (c *CredentialCache) Invalidate(subscriberID string) int {
	if c.lru == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++

	removed := 0
	for _, hash := range c.lru.Keys() {
		if sub, ok := c.lru.Peek(hash); ok && sub.ID == subscriberID {
			c.lru.Remove(hash)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries, including expired ones not yet evicted.
func (c *CredentialCache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
