// Package session holds per-interview helpers that outlive a single
// operation, such as the capped restart policy applied to a streaming
// recognizer that stops while the user is still answering.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default restart parameters.
const (
	defaultMaxRestarts = 5
	defaultMaxAttempts = 3
	defaultBackoff     = 250 * time.Millisecond
	defaultMaxBackoff  = 4 * time.Second
)

// ErrRestartBudget is returned by [Restarter.Restart] once the restart budget
// is spent or every attempt of one restart failed.
var ErrRestartBudget = errors.New("session: restart budget exhausted")

// RestartConfig configures a [Restarter].
type RestartConfig struct {
	// Name labels log lines, e.g. the interview ID.
	Name string

	// MaxRestarts is the total number of restarts allowed over the lifetime
	// of the Restarter. Defaults to 5 if zero.
	MaxRestarts int

	// MaxAttempts is the number of start attempts made for one restart before
	// giving up. Defaults to 3 if zero.
	MaxAttempts int

	// Backoff is the delay before the first attempt of a restart. It doubles
	// with every attempt and every consecutive restart, up to MaxBackoff.
	// Defaults to 250ms if zero.
	Backoff time.Duration

	// MaxBackoff caps the delay. Defaults to 4s if zero.
	MaxBackoff time.Duration
}

// Restarter restarts a failed component with exponential backoff under a
// fixed budget. One Restarter is created per transcription turn so the budget
// resets when the next turn begins.
//
// All methods are safe for concurrent use.
type Restarter struct {
	name        string
	maxRestarts int
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration

	mu       sync.Mutex
	restarts int
	next     time.Duration
}

// NewRestarter creates a [Restarter] with the given configuration.
func NewRestarter(cfg RestartConfig) *Restarter {
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Restarter{
		name:        cfg.Name,
		maxRestarts: cfg.MaxRestarts,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		maxBackoff:  cfg.MaxBackoff,
		next:        cfg.Backoff,
	}
}

// Restarts returns the number of successful restarts so far.
func (r *Restarter) Restarts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restarts
}

// Remaining returns the number of restarts still allowed.
func (r *Restarter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRestarts - r.restarts
}

// Restart calls start until it succeeds, waiting with exponential backoff
// between attempts. It returns an error wrapping [ErrRestartBudget] when the
// budget is spent or every attempt failed, and ctx.Err() when ctx ends first.
func (r *Restarter) Restart(ctx context.Context, start func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.restarts >= r.maxRestarts {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d restarts used", ErrRestartBudget, r.maxRestarts)
	}
	delay := r.next
	r.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		slog.Debug("session: restarting",
			"name", r.name,
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"backoff", delay,
		)

		err := start(ctx)
		delay = min(delay*2, r.maxBackoff)
		if err == nil {
			r.mu.Lock()
			r.restarts++
			r.next = delay
			n := r.restarts
			r.mu.Unlock()
			slog.Info("session: restarted", "name", r.name, "attempt", attempt, "restarts", n)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		slog.Warn("session: restart attempt failed",
			"name", r.name,
			"attempt", attempt,
			"err", err,
		)
	}

	r.mu.Lock()
	r.restarts = r.maxRestarts
	r.mu.Unlock()
	return fmt.Errorf("%w: %d attempts failed: %w", ErrRestartBudget, r.maxAttempts, lastErr)
}
