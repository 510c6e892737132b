package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestIsTransientTreatsNotFoundAsTerminal(t *testing.T) {
	if isTransient(ethereum.NotFound) {
		t.Error("ethereum.NotFound should not be treated as transient")
	}
}

func TestIsTransientTreatsBreakerStatesAsTransient(t *testing.T) {
	if !isTransient(gobreaker.ErrOpenState) {
		t.Error("ErrOpenState should be transient (retryable once the breaker resets)")
	}
	if !isTransient(gobreaker.ErrTooManyRequests) {
		t.Error("ErrTooManyRequests should be transient")
	}
}

func TestIsTransientTreatsOtherErrorsAsTransient(t *testing.T) {
	if !isTransient(errors.New("connection reset")) {
		t.Error("a generic network error should be treated as transient and retried")
	}
}

func newTestClient(cfg Config) *Client {
	return &Client{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.BurstSize),
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        "test",
			MaxRequests: 1,
			Timeout:     cfg.BreakerOpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerMaxFails
			},
		}),
		cfg: cfg,
		log: zap.NewNop(),
	}
}

func TestCallSucceedsOnFirstAttempt(t *testing.T) {
	c := newTestClient(Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, RequestsPerSec: 1000, BurstSize: 100, BreakerMaxFails: 5, BreakerOpenFor: time.Second})

	calls := 0
	result, err := c.call(t.Context(), "test_method", func(ctx context.Context) (any, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result.(int) != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCallRetriesTransientErrorsUpToMaxAttempts(t *testing.T) {
	c := newTestClient(Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, RequestsPerSec: 1000, BurstSize: 100, BreakerMaxFails: 100, BreakerOpenFor: time.Second})

	calls := 0
	_, err := c.call(t.Context(), "test_method", func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("transient failure")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting all attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want MaxAttempts=3", calls)
	}
}

func TestCallDoesNotRetryNotFound(t *testing.T) {
	c := newTestClient(Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, RequestsPerSec: 1000, BurstSize: 100, BreakerMaxFails: 100, BreakerOpenFor: time.Second})

	calls := 0
	_, err := c.call(t.Context(), "test_method", func(ctx context.Context) (any, error) {
		calls++
		return nil, ethereum.NotFound
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for terminal errors)", calls)
	}
}

func TestCallAbortsOnContextCancellationDuringBackoff(t *testing.T) {
	c := newTestClient(Config{MaxAttempts: 3, BaseBackoff: 50 * time.Millisecond, RequestsPerSec: 1000, BurstSize: 100, BreakerMaxFails: 100, BreakerOpenFor: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := c.call(ctx, "test_method", func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("transient failure")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls >= 3 {
		t.Errorf("calls = %d, expected cancellation to cut retries short before reaching MaxAttempts", calls)
	}
}

func TestDefaultConfigHasSaneValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		t.Error("MaxAttempts must be positive")
	}
	if cfg.RequestsPerSec <= 0 {
		t.Error("RequestsPerSec must be positive")
	}
	if cfg.BreakerMaxFails == 0 {
		t.Error("BreakerMaxFails must be positive")
	}
}
