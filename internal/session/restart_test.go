package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig() RestartConfig {
	return RestartConfig{
		Name:        "test",
		MaxRestarts: 2,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		MaxBackoff:  4 * time.Millisecond,
	}
}

func TestRestarter_Defaults(t *testing.T) {
	t.Parallel()

	r := NewRestarter(RestartConfig{})
	if r.maxRestarts != defaultMaxRestarts {
		t.Errorf("want maxRestarts %d, got %d", defaultMaxRestarts, r.maxRestarts)
	}
	if r.maxAttempts != defaultMaxAttempts {
		t.Errorf("want maxAttempts %d, got %d", defaultMaxAttempts, r.maxAttempts)
	}
	if r.backoff != defaultBackoff || r.maxBackoff != defaultMaxBackoff {
		t.Errorf("want backoff %v/%v, got %v/%v", defaultBackoff, defaultMaxBackoff, r.backoff, r.maxBackoff)
	}
	if r.Remaining() != defaultMaxRestarts {
		t.Errorf("want %d remaining, got %d", defaultMaxRestarts, r.Remaining())
	}
}

func TestRestarter_SucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	r := NewRestarter(fastConfig())
	var calls atomic.Int32
	err := r.Restart(context.Background(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("recognizer busy")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("want 3 attempts, got %d", got)
	}
	if r.Restarts() != 1 {
		t.Errorf("want 1 restart, got %d", r.Restarts())
	}
}

func TestRestarter_AllAttemptsFail(t *testing.T) {
	t.Parallel()

	r := NewRestarter(fastConfig())
	errDown := errors.New("down")
	err := r.Restart(context.Background(), func(context.Context) error { return errDown })
	if !errors.Is(err, ErrRestartBudget) {
		t.Fatalf("want ErrRestartBudget, got %v", err)
	}
	if !errors.Is(err, errDown) {
		t.Errorf("want last attempt error wrapped, got %v", err)
	}
	if r.Remaining() != 0 {
		t.Errorf("want budget spent after a failed restart, got %d remaining", r.Remaining())
	}
}

func TestRestarter_BudgetCapsRestarts(t *testing.T) {
	t.Parallel()

	r := NewRestarter(fastConfig())
	ok := func(context.Context) error { return nil }
	for i := range 2 {
		if err := r.Restart(context.Background(), ok); err != nil {
			t.Fatalf("restart %d: %v", i, err)
		}
	}
	var called bool
	err := r.Restart(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrRestartBudget) {
		t.Fatalf("want ErrRestartBudget, got %v", err)
	}
	if called {
		t.Error("start must not run once the budget is spent")
	}
}

func TestRestarter_BackoffGrowsAcrossRestarts(t *testing.T) {
	t.Parallel()

	r := NewRestarter(RestartConfig{MaxRestarts: 5, Backoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond})
	ok := func(context.Context) error { return nil }
	for range 4 {
		_ = r.Restart(context.Background(), ok)
	}
	r.mu.Lock()
	next := r.next
	r.mu.Unlock()
	if next != 4*time.Millisecond {
		t.Errorf("want backoff capped at 4ms, got %v", next)
	}
}

func TestRestarter_ContextCancelled(t *testing.T) {
	t.Parallel()

	r := NewRestarter(RestartConfig{Backoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Restart(ctx, func(context.Context) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("want context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Restart did not return after cancellation")
	}
	if r.Restarts() != 0 {
		t.Errorf("want no restart counted, got %d", r.Restarts())
	}
}
