// Package queue coalesces document change events and applies them to the
// similarity engine from a single goroutine.
//
// Events for the same id collapse to the latest one and are held until the id
// has been quiet for the debounce period. Flushes happen no more often than the
// minimum batch interval.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/storage"
)

// Op is a queued change.
type Op int

const (
	OpUpsert Op = iota
	OpRemove
)

func (o Op) String() string {
	if o == OpRemove {
		return "remove"
	}
	return "upsert"
}

// Target receives the coalesced changes.
type Target interface {
	UpdateDocument(ctx context.Context, id string, content *string) error
	RemoveDocument(id string) bool
}

type entry struct {
	op  Op
	due time.Time
}

// Queue is a debounced per-document update queue.
type Queue struct {
	target      Target
	debounce    time.Duration
	minInterval time.Duration
	resync      func(ctx context.Context) error
	logger      *zap.Logger

	mu        sync.Mutex
	pending   map[string]entry
	resyncDue time.Time
	lastFlush time.Time
	wake      chan struct{}

	apply     sync.Mutex
	processed atomic.Int64
	failed    atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithDebounce sets how long an id must be quiet before its change is applied.
func WithDebounce(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.debounce = d
		}
	}
}

// WithMinBatchInterval sets the minimum time between two flushes.
func WithMinBatchInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d >= 0 {
			q.minInterval = d
		}
	}
}

// WithResync sets the function run for Resync requests, typically an
// incremental Initialize of the engine.
func WithResync(fn func(ctx context.Context) error) Option {
	return func(q *Queue) { q.resync = fn }
}

// WithLogger sets the queue logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New returns a queue applying changes to target.
func New(target Target, opts ...Option) *Queue {
	q := &Queue{
		target:      target,
		debounce:    2 * time.Second,
		minInterval: 100 * time.Millisecond,
		logger:      zap.NewNop(),
		pending:     make(map[string]entry),
		wake:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Upsert queues a re-index of id.
func (q *Queue) Upsert(id string) { q.push(id, OpUpsert) }

// Remove queues the removal of id.
func (q *Queue) Remove(id string) { q.push(id, OpRemove) }

// Resync queues a full incremental resync. It is ignored without WithResync.
func (q *Queue) Resync() {
	if q.resync == nil {
		return
	}
	q.mu.Lock()
	q.resyncDue = time.Now().Add(q.debounce)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) push(id string, op Op) {
	if id == "" {
		return
	}
	q.mu.Lock()
	q.pending[id] = entry{op: op, due: time.Now().Add(q.debounce)}
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of ids waiting to be applied.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stats returns the number of applied and failed changes so far.
func (q *Queue) Stats() (processed, failed int64) {
	return q.processed.Load(), q.failed.Load()
}

// Run applies due changes until ctx is done. Changes still pending at that
// point are left in the queue.
func (q *Queue) Run(ctx context.Context) error {
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if wait, ok := q.nextWait(); ok {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-q.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			q.flush(ctx, false)
		}
	}
}

// Flush applies every pending change now, ignoring the debounce.
func (q *Queue) Flush(ctx context.Context) {
	q.flush(ctx, true)
}

// nextWait returns how long until the next flush may run, or false when
// nothing is pending.
func (q *Queue) nextWait() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next time.Time
	for _, e := range q.pending {
		if next.IsZero() || e.due.Before(next) {
			next = e.due
		}
	}
	if !q.resyncDue.IsZero() && (next.IsZero() || q.resyncDue.Before(next)) {
		next = q.resyncDue
	}
	if next.IsZero() {
		return 0, false
	}
	if earliest := q.lastFlush.Add(q.minInterval); earliest.After(next) {
		next = earliest
	}
	return max(time.Until(next), 0), true
}

type change struct {
	id string
	op Op
}

func (q *Queue) take(all bool) ([]change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	var out []change
	for id, e := range q.pending {
		if all || !e.due.After(now) {
			out = append(out, change{id: id, op: e.op})
			delete(q.pending, id)
		}
	}
	resync := !q.resyncDue.IsZero() && (all || !q.resyncDue.After(now))
	if resync {
		q.resyncDue = time.Time{}
	}
	q.lastFlush = now
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, resync
}

func (q *Queue) flush(ctx context.Context, all bool) {
	q.apply.Lock()
	defer q.apply.Unlock()

	changes, resync := q.take(all)
	if len(changes) == 0 && !resync {
		return
	}
	for _, c := range changes {
		q.applyOne(ctx, c)
	}
	if resync {
		if err := q.resync(ctx); err != nil {
			q.failed.Add(1)
			q.logger.Warn("resync failed", zap.Error(err))
		} else {
			q.processed.Add(1)
		}
	}
	q.logger.Debug("update batch applied", zap.Int("changes", len(changes)), zap.Bool("resync", resync))
}

func (q *Queue) applyOne(ctx context.Context, c change) {
	switch c.op {
	case OpRemove:
		q.target.RemoveDocument(c.id)
	case OpUpsert:
		err := q.target.UpdateDocument(ctx, c.id, nil)
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted between the event and the flush.
			q.target.RemoveDocument(c.id)
			err = nil
		}
		if err != nil {
			q.failed.Add(1)
			q.logger.Warn("document update failed", zap.String("doc_id", c.id), zap.Error(err))
			return
		}
	}
	q.processed.Add(1)
}
