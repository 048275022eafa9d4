package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_DelaySequence(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 15 * time.Second, MaxRetries: 5}

	got := make([]time.Duration, 0, 6)
	for n := 0; n < 6; n++ {
		got = append(got, b.Delay(n))
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		15 * time.Second,
		15 * time.Second,
	}, got)
}

func TestBackoff_DelayNeverOverflows(t *testing.T) {
	b := Backoff{Base: time.Millisecond, Max: time.Hour, MaxRetries: 1}
	assert.Equal(t, time.Hour, b.Delay(500))
	assert.Equal(t, time.Millisecond, b.Delay(-3))
}

func TestBackoff_Exhausted(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 15 * time.Second, MaxRetries: 5}
	assert.False(t, b.Exhausted(4))
	assert.True(t, b.Exhausted(5))

	zero := Backoff{Base: time.Second, Max: time.Second}
	assert.True(t, zero.Exhausted(1), "zero retries: first failure is terminal")
}

func TestBackoff_Validate(t *testing.T) {
	assert.NoError(t, Backoff{Base: time.Second, Max: time.Second}.Validate())
	assert.Error(t, Backoff{Base: 0, Max: time.Second}.Validate())
	assert.Error(t, Backoff{Base: 2 * time.Second, Max: time.Second}.Validate())
	assert.Error(t, Backoff{Base: time.Second, Max: time.Second, MaxRetries: -1}.Validate())
}

func TestRetry_Success(t *testing.T) {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
	}

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	sentinel := errors.New("bad url")
	err := Do(context.Background(), Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() error {
		attempts++
		return NonRetryable(sentinel)
	})

	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
	assert.Less(t, attempts, 5)
}

func TestRetry_InvalidConfig(t *testing.T) {
	err := Do(context.Background(), Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	assert.Error(t, err)
}
