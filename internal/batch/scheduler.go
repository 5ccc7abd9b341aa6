// Package batch runs bulk operations in fixed-size batches with cooperative
// yield points, progress reporting and polled cancellation.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrCancelled is returned by yield points once the operation has been cancelled.
var ErrCancelled = errors.New("operation cancelled")

// Outcome is the result of a bulk run.
type Outcome int

const (
	// OutcomeCompleted means every batch ran.
	OutcomeCompleted Outcome = iota
	// OutcomeCancelled means the run stopped at a yield point. Batches committed
	// before that point are kept.
	OutcomeCancelled
	// OutcomeFailed means a batch returned an error that was not a cancellation.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Progress receives (processed, total) after each batch.
type Progress func(processed, total int)

// Yielder is called between batches and chunks. It returns ErrCancelled (possibly
// wrapped) when the caller should stop.
type Yielder func(ctx context.Context) error

// Check returns an error wrapping ErrCancelled when ctx is done.
func Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// DefaultYielder hands the processor to other goroutines and checks ctx.
func DefaultYielder(ctx context.Context) error {
	runtime.Gosched()
	return Check(ctx)
}

// PacedYielder returns a yielder that waits until at least interval has passed
// since its previous return. The first call does not wait.
func PacedYielder(interval time.Duration) Yielder {
	var last atomic.Int64
	return func(ctx context.Context) error {
		if prev := last.Load(); prev != 0 && interval > 0 {
			wait := time.Until(time.Unix(0, prev).Add(interval))
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return Check(ctx)
				case <-timer.C:
				}
			}
		}
		last.Store(time.Now().UnixNano())
		return DefaultYielder(ctx)
	}
}

type yielderKey struct{}

// WithContextYielder returns a context whose yield points call y instead of the
// yielder the callee was configured with.
func WithContextYielder(ctx context.Context, y Yielder) context.Context {
	return context.WithValue(ctx, yielderKey{}, y)
}

// YielderFrom returns the yielder carried by ctx, or fallback.
func YielderFrom(ctx context.Context, fallback Yielder) Yielder {
	if y, ok := ctx.Value(yielderKey{}).(Yielder); ok && y != nil {
		return y
	}
	return fallback
}

// Scheduler drives a bulk operation batch by batch.
type Scheduler struct {
	size      int
	yield     Yielder
	logger    *zap.Logger
	cancelled atomic.Bool
	running   atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithYielder sets the function called between batches.
func WithYielder(y Yielder) Option {
	return func(s *Scheduler) {
		if y != nil {
			s.yield = y
		}
	}
}

// WithLogger sets the logger for the scheduler.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScheduler returns a scheduler with the given batch size (minimum 1).
func NewScheduler(size int, opts ...Option) *Scheduler {
	if size < 1 {
		size = 1
	}
	s := &Scheduler{size: size, yield: DefaultYielder, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BatchSize returns the number of items per batch.
func (s *Scheduler) BatchSize() int { return s.size }

// Begin claims the scheduler for one operation and clears any earlier cancel
// request. It returns false when an operation is already in progress. Callers
// that claim the scheduler before calling Run must call End when done.
func (s *Scheduler) Begin() bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.cancelled.Store(false)
	return true
}

// End releases a claim taken with Begin.
func (s *Scheduler) End() {
	s.cancelled.Store(false)
	s.running.Store(false)
}

// Cancel asks the running operation to stop at its next yield point.
// It has no effect when nothing is running.
func (s *Scheduler) Cancel() {
	if s.running.Load() {
		s.cancelled.Store(true)
	}
}

// Cancelled reports whether the current operation has been asked to stop.
func (s *Scheduler) Cancelled() bool { return s.cancelled.Load() }

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Yield is the yield point used inside a batch. It checks the cancel flag,
// then calls the configured yielder.
func (s *Scheduler) Yield(ctx context.Context) error {
	if s.cancelled.Load() {
		return ErrCancelled
	}
	return s.yield(ctx)
}

// Run calls fn for consecutive [start, end) ranges covering [0, total), yielding
// between batches. progress, when non-nil, is called with (0, total) first and
// after each batch. Cancellation through Cancel or ctx ends the run with
// OutcomeCancelled and a nil error; work already done by fn is kept.
// Run claims the scheduler itself unless the caller already did with Begin,
// in which case a cancel requested since Begin stops it before the first batch.
func (s *Scheduler) Run(ctx context.Context, total int, progress Progress, fn func(ctx context.Context, start, end int) error) (Outcome, error) {
	if s.Begin() {
		defer s.End()
	}
	if s.cancelled.Load() {
		return s.stopped(0, total, ErrCancelled)
	}

	if progress != nil {
		progress(0, total)
	}
	for start := 0; start < total; start += s.size {
		if err := s.Yield(ctx); err != nil {
			return s.stopped(start, total, err)
		}
		end := min(start+s.size, total)
		if err := fn(ctx, start, end); err != nil {
			return s.stopped(start, total, err)
		}
		if progress != nil {
			progress(end, total)
		}
	}
	return OutcomeCompleted, nil
}

func (s *Scheduler) stopped(processed, total int, err error) (Outcome, error) {
	if errors.Is(err, ErrCancelled) {
		s.logger.Info("bulk operation cancelled",
			zap.Int("processed", processed),
			zap.Int("total", total))
		return OutcomeCancelled, nil
	}
	return OutcomeFailed, err
}
