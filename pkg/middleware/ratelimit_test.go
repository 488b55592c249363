package middleware

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowAt_AlignsToMinute(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 7, 42, 500_000_000, time.UTC)
	w := WindowAt(now, time.Minute)

	assert.Equal(t, time.Date(2026, 3, 2, 14, 7, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2026, 3, 2, 14, 8, 0, 0, time.UTC), w.End)
	assert.Equal(t, 18, w.RetryAfter(now))
}

func TestWindowRetryAfter_NeverBelowOne(t *testing.T) {
	now := time.Date(2026, 3, 2, 14, 7, 59, 999_000_000, time.UTC)
	w := WindowAt(now, time.Minute)
	assert.Equal(t, 1, w.RetryAfter(now))
	assert.Equal(t, 1, w.RetryAfter(w.End.Add(time.Second)))
}

func TestFixedWindowCounter_RejectsWithoutIncrement(t *testing.T) {
	fc := NewFixedWindowCounter(0)
	w := WindowAt(time.Now(), time.Minute)

	for i := 1; i <= 3; i++ {
		allowed, count := fc.Consume("k", 3, w)
		require.True(t, allowed)
		require.Equal(t, i, count)
	}

	allowed, count := fc.Consume("k", 3, w)
	assert.False(t, allowed)
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, fc.Count("k"))
}

func TestFixedWindowCounter_ConcurrentLimitIsExact(t *testing.T) {
	fc := NewFixedWindowCounter(0)
	w := WindowAt(time.Now(), time.Minute)

	const callers = 200
	const limit = 37
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := fc.Consume("shared", limit, w); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)
	assert.Equal(t, limit, fc.Count("shared"))
}

func TestFixedWindowCounter_Sweep(t *testing.T) {
	fc := NewFixedWindowCounter(0)
	defer fc.Stop()
	now := time.Date(2026, 3, 2, 14, 7, 10, 0, time.UTC)
	w := WindowAt(now, time.Minute)
	fc.Consume("a", 5, w)

	assert.Equal(t, 0, fc.Sweep(now))
	assert.Equal(t, 1, fc.Sweep(w.End))
	assert.Equal(t, 0, fc.Count("a"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "forwarded chain is ignored", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, remoteAddr: "10.0.0.2:5555", want: "10.0.0.2"},
		{name: "real ip header is ignored", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, remoteAddr: "10.0.0.2:5555", want: "10.0.0.2"},
		{name: "bare remote addr", remoteAddr: "10.0.0.7", want: "10.0.0.7"},
		{name: "remote addr host", remoteAddr: "192.0.2.10:43210", want: "192.0.2.10"},
		{name: "ipv6 remote addr", remoteAddr: "[2001:db8::1]:443", want: "2001:db8::1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/rpc", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientIP(req))
		})
	}
}
