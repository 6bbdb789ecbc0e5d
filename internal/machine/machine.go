// Package machine drives one booking run: resolve the center, establish
// an authenticated session, poll for a slot pair, book it once. Transient
// edge failures are absorbed by the retry profiles; session-validity
// failures route back through session establishment; the terminal booking
// is never retried.
package machine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/impfbot/impfbot/internal/catalog"
	"github.com/impfbot/impfbot/internal/config"
	"github.com/impfbot/impfbot/internal/logger"
	"github.com/impfbot/impfbot/internal/session"
)

// State names the phase a run is in, for logging.
type State int

const (
	Bootstrapping State = iota
	AwaitingSession
	LoggingIn
	Searching
	Booking
	Done
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case AwaitingSession:
		return "awaiting-session"
	case LoggingIn:
		return "logging-in"
	case Searching:
		return "searching"
	case Booking:
		return "booking"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Session is the authenticated-session surface the machine drives.
// Implemented by *session.Session.
type Session interface {
	RefreshCookies(ctx context.Context) error
	Login(ctx context.Context) ([]string, error)
	Search(ctx context.Context) (session.SearchResult, error)
	Book(ctx context.Context, pair session.SlotPair, qualifications []string, contact config.Contact) error
}

var _ Session = (*session.Session)(nil)

// Resolver is the catalog surface the machine bootstraps from.
// Implemented by *catalog.Resolver.
type Resolver interface {
	ResolveCenter(ctx context.Context, plz string) (catalog.ServiceCenter, error)
	ResolveQualifications(ctx context.Context, center catalog.ServiceCenter) ([]catalog.Qualification, error)
}

var _ Resolver = (*catalog.Resolver)(nil)

// SessionFactory builds the session once the center is resolved.
type SessionFactory func(center catalog.ServiceCenter, qualNames map[string]string) (Session, error)

const (
	// DefaultCheckDelay sits between search attempts.
	DefaultCheckDelay = 30 * time.Second

	// defaultRetryPause is the brief pause before re-establishing the
	// session after a failed login or cookie refresh.
	defaultRetryPause = 3 * time.Second
)

// Options configure one run.
type Options struct {
	PLZ        string
	Contact    config.Contact
	CheckDelay time.Duration // zero selects DefaultCheckDelay
	RetryPause time.Duration // zero selects the default pause
}

// Machine is the poll-detect-book state machine for one access code.
type Machine struct {
	resolver   Resolver
	newSession SessionFactory
	opts       Options
	log        logger.Logger

	state    State
	assigned []string
}

// State reports the phase the machine is currently in.
func (m *Machine) State() State {
	return m.state
}

// New builds a Machine.
func New(resolver Resolver, factory SessionFactory, opts Options, log logger.Logger) *Machine {
	if opts.CheckDelay <= 0 {
		opts.CheckDelay = DefaultCheckDelay
	}
	if opts.RetryPause <= 0 {
		opts.RetryPause = defaultRetryPause
	}
	return &Machine{
		resolver:   resolver,
		newSession: factory,
		opts:       opts,
		log:        log,
	}
}

// Run executes the full run and blocks until it reaches Done or ctx is
// cancelled. An unknown postal code is returned as an error (an
// unrecoverable configuration problem); a rejected booking is logged and
// still terminates the run normally.
func (m *Machine) Run(ctx context.Context) error {
	m.transition(Bootstrapping)

	center, err := m.resolver.ResolveCenter(ctx, m.opts.PLZ)
	if err != nil {
		return err
	}
	quals, err := m.resolver.ResolveQualifications(ctx, center)
	if err != nil {
		return err
	}

	sess, err := m.newSession(center, catalog.NamesByID(quals))
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}

	if err := m.establish(ctx, sess); err != nil {
		return err
	}

	pair, err := m.search(ctx, sess)
	if err != nil {
		return err
	}

	m.transition(Booking)
	if err := sess.Book(ctx, pair, m.assigned, m.opts.Contact); err != nil {
		if errors.Is(err, session.ErrBookingRejected) {
			m.log.Error("booking failed, not retrying (restart to search again)", logger.Error(err))
			m.transition(Done)
			return nil
		}
		return err
	}

	m.transition(Done)
	return nil
}

// establish acquires fresh cookies and logs in, looping until both
// succeed. A failed login means the cookies were not good enough, so the
// whole cycle restarts at cookie acquisition.
func (m *Machine) establish(ctx context.Context, sess Session) error {
	for {
		m.transition(AwaitingSession)
		for {
			err := sess.RefreshCookies(ctx)
			if err == nil {
				break
			}
			m.log.Warn("cookie refresh failed", logger.Error(err))
			if err := m.pause(ctx, m.opts.RetryPause); err != nil {
				return err
			}
		}

		m.transition(LoggingIn)
		assigned, err := sess.Login(ctx)
		if err == nil {
			m.assigned = assigned
			return nil
		}
		m.log.Warn("login failed, re-establishing session", logger.Error(err))
		if err := m.pause(ctx, m.opts.RetryPause); err != nil {
			return err
		}
	}
}

// search polls until a slot pair appears. A status of 400 or above means
// the backend rejected the session; the session is then fully
// re-established (cookies and login) before polling resumes.
func (m *Machine) search(ctx context.Context, sess Session) (session.SlotPair, error) {
	m.transition(Searching)
	for {
		result, err := sess.Search(ctx)
		switch {
		case err != nil:
			m.log.Warn("search attempt failed", logger.Error(err))
		case result.Found:
			return result.Pair, nil
		case result.StatusCode >= 400:
			if err := m.establish(ctx, sess); err != nil {
				return session.SlotPair{}, err
			}
			m.transition(Searching)
			continue
		}

		if err := m.pause(ctx, m.opts.CheckDelay); err != nil {
			return session.SlotPair{}, err
		}
	}
}

func (m *Machine) transition(next State) {
	m.state = next
	m.log.Debug("state transition", logger.String("state", next.String()))
}

func (m *Machine) pause(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
