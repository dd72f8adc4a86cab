package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) Config {
	return Config{
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestDefaultConfigs(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.True(t, cfg.Jitter)

	delivery := DeliveryConfig()
	assert.Equal(t, 4, delivery.MaxRetries)
	assert.Equal(t, 3.0, delivery.Multiplier)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	result := Do(context.Background(), fastConfig(2), zerolog.Nop(), func(context.Context) error { return nil }, nil)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.NoError(t, result.LastError)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	result := Do(context.Background(), fastConfig(3), zerolog.Nop(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("status 503")
		}
		return nil
	}, nil)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.NoError(t, result.LastError)
}

func TestDoGivesUp(t *testing.T) {
	boom := errors.New("connection refused")
	result := Do(context.Background(), fastConfig(2), zerolog.Nop(), func(context.Context) error { return boom }, nil)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.ErrorIs(t, result.LastError, boom)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("status 422")
	calls := 0
	result := Do(context.Background(), fastConfig(5), zerolog.Nop(), func(context.Context) error {
		calls++
		return permanent
	}, func(err error) bool { return errors.Is(err, permanent) })
	assert.True(t, result.Stopped)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.LastError, permanent)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(10)
	cfg.BaseDelay = time.Hour
	cfg.MaxDelay = time.Hour

	done := make(chan Result, 1)
	go func() {
		done <- Do(ctx, cfg, zerolog.Nop(), func(context.Context) error { return errors.New("timeout") }, nil)
	}()
	cancel()

	select {
	case result := <-done:
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.LastError, context.Canceled)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "Do did not return after cancel")
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}
	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(cfg, 1))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(cfg, 2))
	assert.Equal(t, time.Second, calculateDelay(cfg, 5))

	cfg.Jitter = true
	for i := 0; i < 50; i++ {
		d := calculateDelay(cfg, 1)
		assert.InDelta(t, float64(200*time.Millisecond), float64(d), float64(20*time.Millisecond))
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := map[string]bool{
		"dial tcp: connection refused":   true,
		"webhook returned status 503":    true,
		"Too Many Requests":              true,
		"webhook returned status 400":    false,
		"invalid recipient":              false,
		"context deadline exceeded (io)": true,
	}
	for msg, want := range cases {
		assert.Equal(t, want, IsRetryableError(errors.New(msg)), msg)
	}
	assert.False(t, IsRetryableError(nil))
}
