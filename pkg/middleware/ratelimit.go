/**
 * @description
 * Fixed-window rate limit primitives shared by the tool-service limiter.
 * Windows are aligned to the window size (the top of the minute for one-minute
 * windows), so every process agrees on where a window starts and ends.
 *
 * @dependencies
 * - sync: For thread-safe operations
 * - time: For window arithmetic and cleanup
 * - net/http: For client address extraction
 */
package middleware

import (
	"math"
	"net"
	"net/http"
	"sync"
	"time"
)

// Window is one fixed rate-limit window [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAt returns the aligned window of the given size containing now.
func WindowAt(now time.Time, size time.Duration) Window {
	start := now.UTC().Truncate(size)
	return Window{Start: start, End: start.Add(size)}
}

// RetryAfter returns the whole seconds until the window closes, at least 1.
func (w Window) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(w.End.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// windowCount tracks one key in one window.
type windowCount struct {
	count     int
	expiresAt time.Time
}

// FixedWindowCounter is an in-process table of window counters.
type FixedWindowCounter struct {
	counts      map[string]*windowCount
	mutex       sync.Mutex
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewFixedWindowCounter creates a counter and starts its cleanup goroutine.
func NewFixedWindowCounter(cleanupEvery time.Duration) *FixedWindowCounter {
	fc := &FixedWindowCounter{
		counts:      make(map[string]*windowCount),
		stopCleanup: make(chan struct{}),
	}
	if cleanupEvery > 0 {
		go fc.cleanupExpiredWindows(cleanupEvery)
	}
	return fc
}

// Consume admits one hit for key if the window count is below limit. Rejected hits
// never increment, so the count stays at or below limit.
func (fc *FixedWindowCounter) Consume(key string, limit int, w Window) (allowed bool, count int) {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()

	entry, exists := fc.counts[key]
	if !exists {
		entry = &windowCount{expiresAt: w.End}
		fc.counts[key] = entry
	}
	if entry.count >= limit {
		return false, entry.count
	}
	entry.count++
	return true, entry.count
}

// Count returns the current count for key.
func (fc *FixedWindowCounter) Count(key string) int {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()
	if entry, ok := fc.counts[key]; ok {
		return entry.count
	}
	return 0
}

// Sweep removes windows that closed at or before now.
func (fc *FixedWindowCounter) Sweep(now time.Time) int {
	fc.mutex.Lock()
	defer fc.mutex.Unlock()

	removed := 0
	for key, entry := range fc.counts {
		if !now.Before(entry.expiresAt) {
			delete(fc.counts, key)
			removed++
		}
	}
	return removed
}

// Stop ends the cleanup goroutine.
func (fc *FixedWindowCounter) Stop() {
	fc.stopOnce.Do(func() { close(fc.stopCleanup) })
}

// cleanupExpiredWindows removes closed windows to prevent memory leaks
func (fc *FixedWindowCounter) cleanupExpiredWindows(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			fc.Sweep(now)
		case <-fc.stopCleanup:
			return
		}
	}
}

// ClientIP returns the host part of RemoteAddr. Forwarded headers are not read here;
// mount chi's RealIP in front when a trusted proxy sets them.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
