// Package retry provides exponential backoff schedules and a simple retry loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Backoff is a capped doubling schedule: Delay(n) = min(Base*2^n, Max).
// MaxRetries bounds how many consecutive failures are tolerated before the
// schedule is exhausted.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

// Delay returns the wait before retry number n (zero based). The result never
// exceeds Max and never overflows.
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.Base
	for i := 0; i < n; i++ {
		if d >= b.Max || d > time.Duration(1<<62) {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether failures consecutive failures use up the schedule.
func (b Backoff) Exhausted(failures int) bool {
	return failures >= b.MaxRetries
}

// Validate checks the schedule for nonsensical values.
func (b Backoff) Validate() error {
	if b.Base <= 0 {
		return errors.New("retry: Base must be positive")
	}
	if b.Max < b.Base {
		return errors.New("retry: Max must be >= Base")
	}
	if b.MaxRetries < 0 {
		return errors.New("retry: MaxRetries cannot be negative")
	}
	return nil
}

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration for Do.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = just run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	AddJitter    bool          // Add up to 25% randomness to each delay
}

// Quick returns a config for fast retries (useful during startup)
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		AddJitter:    true,
	}
}

// Do executes fn with exponential backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.InitialDelay < 0 {
		return errors.New("retry: InitialDelay cannot be negative")
	}
	if cfg.MaxDelay < 0 {
		return errors.New("retry: MaxDelay cannot be negative")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	schedule := Backoff{Base: cfg.InitialDelay, Max: cfg.MaxDelay, MaxRetries: cfg.MaxAttempts}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := schedule.Delay(attempt - 1)
		if cfg.AddJitter && sleep >= 4 {
			randMu.Lock()
			sleep += time.Duration(randSource.Int63n(int64(sleep / 4)))
			randMu.Unlock()
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
