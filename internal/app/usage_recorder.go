/**
 * @description
 * UsageRecorder accepts usage records from the request path without blocking it.
 * Records are queued on a bounded channel and a single drainer writes them to the
 * usage store, then fans them out as `usage.recorded` events.
 *
 * @notes
 * - Delivery is best-effort. A full queue drops the record and counts the drop.
 * - Request ids seen recently are skipped in process; the store dedups across restarts.
 */

package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/store"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultUsageQueueSize = 1024
	defaultDedupSize      = 4096
	defaultUsageWriteTTL  = 5 * time.Second
)

// UsagePublisher fans persisted records out to other consumers.
type UsagePublisher interface {
	PublishUsageRecorded(ctx context.Context, event domain.UsageRecordedEvent) error
}

// UsageStats is a snapshot of recorder counters.
type UsageStats struct {
	Enqueued   int64 `json:"enqueued"`
	Written    int64 `json:"written"`
	Duplicates int64 `json:"duplicates"`
	Dropped    int64 `json:"dropped"`
	Failed     int64 `json:"failed"`
}

// UsageRecorder is the asynchronous usage sink.
type UsageRecorder struct {
	store        store.UsageStore
	publisher    UsagePublisher
	writeTimeout time.Duration

	queueMu sync.RWMutex
	queue   chan domain.UsageRecord
	closed  bool
	done    chan struct{}

	seen *lru.Cache[string, struct{}]

	enqueued   atomic.Int64
	written    atomic.Int64
	duplicates atomic.Int64
	dropped    atomic.Int64
	failed     atomic.Int64
}

// NewUsageRecorder starts the drainer. publisher may be nil.
func NewUsageRecorder(usage store.UsageStore, publisher UsagePublisher, queueSize int) *UsageRecorder {
	if queueSize <= 0 {
		queueSize = DefaultUsageQueueSize
	}
	// lru.New only fails for a non-positive size.
	seen, _ := lru.New[string, struct{}](defaultDedupSize)
	r := &UsageRecorder{
		store:        usage,
		publisher:    publisher,
		writeTimeout: defaultUsageWriteTTL,
		queue:        make(chan domain.UsageRecord, queueSize),
		done:         make(chan struct{}),
		seen:         seen,
	}
	go r.drain()
	return r
}

// Record enqueues rec. It never blocks and never returns an error to the caller.
func (r *UsageRecorder) Record(rec domain.UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	if !r.markSeen(rec.RequestID) {
		r.duplicates.Add(1)
		return
	}

	r.queueMu.RLock()
	defer r.queueMu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.queue <- rec:
		r.enqueued.Add(1)
	default:
		n := r.dropped.Add(1)
		log.Printf("level=warn component=usage_recorder msg=\"queue full, record dropped\" request_id=%s tool=%s dropped_total=%d", rec.RequestID, rec.ToolName, n)
	}
}

// markSeen records id and reports whether it was new. Empty ids are never deduplicated.
func (r *UsageRecorder) markSeen(id string) bool {
	if id == "" {
		return true
	}
	found, _ := r.seen.ContainsOrAdd(id, struct{}{})
	return !found
}

func (r *UsageRecorder) drain() {
	defer close(r.done)
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *UsageRecorder) write(rec domain.UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	inserted, err := r.store.InsertUsageRecord(ctx, rec)
	if err != nil {
		r.failed.Add(1)
		log.Printf("level=error component=usage_recorder msg=\"usage write failed\" request_id=%s subscriber_id=%s tool=%s err=%v", rec.RequestID, rec.SubscriberID, rec.ToolName, err)
		return
	}
	if !inserted {
		r.duplicates.Add(1)
		return
	}
	r.written.Add(1)

	if r.publisher == nil {
		return
	}
	event := domain.UsageRecordedEvent{UsageRecord: rec, PublishedAt: time.Now().UTC()}
	if err := r.publisher.PublishUsageRecorded(ctx, event); err != nil {
		log.Printf("level=warn component=usage_recorder msg=\"usage event publish failed\" request_id=%s err=%v", rec.RequestID, err)
	}
}

// Close stops intake and waits for queued records to be written or ctx to end.
func (r *UsageRecorder) Close(ctx context.Context) error {
	r.queueMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.queueMu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		pending := len(r.queue)
		log.Printf("level=warn component=usage_recorder msg=\"shutdown deadline reached before queue drained\" pending=%d", pending)
		return errors.Join(ctx.Err(), errors.New("usage queue not drained"))
	}
}

// Stats returns a snapshot of the recorder counters.
func (r *UsageRecorder) Stats() UsageStats {
	return UsageStats{
		Enqueued:   r.enqueued.Load(),
		Written:    r.written.Load(),
		Duplicates: r.duplicates.Load(),
		Dropped:    r.dropped.Load(),
		Failed:     r.failed.Load(),
	}
}
