package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/mrboxtobox/obsidian-related-notes-sub001/internal/models"
)

// RetryConfig controls RetryStore backoff.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// Timeout bounds each attempt. 0 means no per-attempt timeout.
	Timeout time.Duration
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
}

// RetryStore wraps a DocumentStore with retries and per-attempt timeouts.
// ErrNotFound is returned immediately.
type RetryStore struct {
	next   DocumentStore
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetryStore wraps next. A nil logger disables logging.
func NewRetryStore(next DocumentStore, cfg RetryConfig, logger *zap.Logger) *RetryStore {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryStore{next: next, cfg: cfg, logger: logger}
}

// Content fetches id with retries.
func (r *RetryStore) Content(ctx context.Context, id string) (string, error) {
	var text string
	err := r.do(ctx, "content", id, func(ctx context.Context) error {
		var err error
		text, err = r.next.Content(ctx, id)
		return err
	})
	return text, err
}

// List lists documents with retries.
func (r *RetryStore) List(ctx context.Context) ([]models.DocumentInfo, error) {
	var infos []models.DocumentInfo
	err := r.do(ctx, "list", "", func(ctx context.Context) error {
		var err error
		infos, err = r.next.List(ctx)
		return err
	})
	return infos, err
}

func (r *RetryStore) do(ctx context.Context, op, id string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = r.attempt(ctx, fn)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("document store succeeded after retry",
					zap.String("op", op), zap.String("doc_id", id), zap.Int("attempt", attempt))
			}
			return nil
		}
		if errors.Is(lastErr, ErrNotFound) {
			return lastErr
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}
		delay := r.delay(attempt)
		r.logger.Warn("document store failed, retrying",
			zap.String("op", op),
			zap.String("doc_id", id),
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
			zap.Error(lastErr))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("all %d attempts failed for %s: %w", r.cfg.MaxAttempts, op, lastErr)
}

func (r *RetryStore) attempt(ctx context.Context, fn func(context.Context) error) error {
	if r.cfg.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	return fn(ctx)
}

func (r *RetryStore) delay(attempt int) time.Duration {
	backoff := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1))
	backoff += backoff * r.cfg.JitterFraction * (2*rand.Float64() - 1)
	if backoff > float64(r.cfg.MaxDelay) {
		backoff = float64(r.cfg.MaxDelay)
	}
	if backoff < 0 {
		backoff = float64(r.cfg.InitialDelay)
	}
	return time.Duration(backoff)
}
