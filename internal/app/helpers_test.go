package app

import (
	"context"
	"sync"
	"testing"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/store"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) string {
	t.Helper()
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	return key
}

// memCredentials is an in-memory CredentialStore and KeyStore.
type memCredentials struct {
	mu       sync.Mutex
	byHash   map[string]*domain.Subscriber
	byClerk  map[string]*domain.Subscriber
	lookups  int
	lookupFn func(hash string) (*domain.Subscriber, error)
}

func newMemCredentials() *memCredentials {
	return &memCredentials{
		byHash:  make(map[string]*domain.Subscriber),
		byClerk: make(map[string]*domain.Subscriber),
	}
}

func (m *memCredentials) add(sub *domain.Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHash[sub.APIKeyHash] = sub
	if sub.ClerkUserID != nil {
		m.byClerk[*sub.ClerkUserID] = sub
	}
}

func (m *memCredentials) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

func (m *memCredentials) FindSubscriberByKeyHash(_ context.Context, keyHash string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookupFn != nil {
		return m.lookupFn(keyHash)
	}
	sub, ok := m.byHash[keyHash]
	if !ok {
		return nil, store.ErrSubscriberNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memCredentials) FindSubscriberByClerkUserID(_ context.Context, clerkUserID string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.byClerk[clerkUserID]
	if !ok {
		return nil, store.ErrSubscriberNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memCredentials) RotateAPIKeyHash(_ context.Context, subscriberID string, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, sub := range m.byHash {
		if sub.ID == subscriberID {
			delete(m.byHash, hash)
			sub.APIKeyHash = newHash
			m.byHash[newHash] = sub
			return nil
		}
	}
	return store.ErrSubscriberNotFound
}

// memUsage is an in-memory UsageStore with request id dedup.
type memUsage struct {
	mu      sync.Mutex
	records map[string]domain.UsageRecord
	order   []string
	counts  map[string]int64
	err     error
	block   chan struct{}
}

func newMemUsage() *memUsage {
	return &memUsage{records: make(map[string]domain.UsageRecord), counts: make(map[string]int64)}
}

func (m *memUsage) InsertUsageRecord(_ context.Context, rec domain.UsageRecord) (bool, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.records[rec.RequestID]; ok {
		return false, nil
	}
	m.records[rec.RequestID] = rec
	m.order = append(m.order, rec.RequestID)
	if rec.Succeeded() {
		m.counts[rec.SubscriberID]++
	}
	return true, nil
}

func (m *memUsage) all() []domain.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UsageRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out
}

func (m *memUsage) usageCount(subscriberID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[subscriberID]
}
