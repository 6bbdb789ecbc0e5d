// Package retry provides the two retry profiles used around network
// calls. Bootstrap reads that cannot proceed without success use the
// patient profile and wait out backend outages; steady-state calls use
// the bounded profile so failures surface quickly and the caller can
// decide whether the session needs re-establishing.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/impfbot/impfbot/internal/logger"
)

const (
	// DefaultPatientDelay sits between attempts of bootstrap reads.
	DefaultPatientDelay = 60 * time.Second

	defaultBoundedAttempts = 3
	defaultBoundedDelay    = 2 * time.Second
)

// Policy describes how often and how patiently an operation is retried.
// Attempts == 0 means retry without limit.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Patient returns the unbounded profile with the given inter-attempt delay.
func Patient(delay time.Duration) Policy {
	if delay <= 0 {
		delay = DefaultPatientDelay
	}
	return Policy{Attempts: 0, Delay: delay}
}

// Bounded returns the bounded profile. Zero arguments select defaults.
func Bounded(attempts int, delay time.Duration) Policy {
	if attempts <= 0 {
		attempts = defaultBoundedAttempts
	}
	if delay <= 0 {
		delay = defaultBoundedDelay
	}
	return Policy{Attempts: attempts, Delay: delay}
}

// Do runs fn until it succeeds, the attempt budget is spent, or ctx is
// cancelled. Each failed attempt is logged as a warning.
func (p Policy) Do(ctx context.Context, log logger.Logger, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if p.Attempts > 0 && attempt >= p.Attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}

		log.Warn("retrying "+op,
			logger.Int("attempt", attempt),
			logger.Duration("in", p.Delay),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s aborted: %w", op, ctx.Err())
		case <-time.After(p.Delay):
		}
	}
}
