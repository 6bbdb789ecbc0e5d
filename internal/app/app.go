// Package app wires the pieces of a booking run together.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/impfbot/impfbot/internal/browser"
	"github.com/impfbot/impfbot/internal/catalog"
	"github.com/impfbot/impfbot/internal/config"
	"github.com/impfbot/impfbot/internal/logger"
	"github.com/impfbot/impfbot/internal/machine"
	"github.com/impfbot/impfbot/internal/retry"
	"github.com/impfbot/impfbot/internal/session"
)

// Options configure the application.
type Options struct {
	ConfigPath string
	CheckDelay time.Duration // zero uses the machine default
	Verbose    bool
}

// Run loads the booking record and executes one run of the state machine,
// blocking until the run finishes or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	log := logger.New(opts.Verbose)
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	code, err := session.ParseAccessCode(cfg.Code)
	if err != nil {
		return fmt.Errorf("record has invalid access code: %w", err)
	}

	log.Infof("booking record loaded for %s %s", cfg.Contact.FirstName, cfg.Contact.LastName)

	resolver := catalog.NewResolver("", log, retry.Patient(retry.DefaultPatientDelay))

	var provider *browser.Provider
	factory := func(center catalog.ServiceCenter, qualNames map[string]string) (machine.Session, error) {
		provider = browser.NewProvider(center.BaseURL, log.WithCode(code.Suffix()))
		sess, err := session.New(code, cfg.PLZ, center, qualNames, provider, log)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
	defer func() {
		if provider != nil {
			provider.Close()
		}
	}()

	m := machine.New(resolver, factory, machine.Options{
		PLZ:        cfg.PLZ,
		Contact:    cfg.Contact,
		CheckDelay: opts.CheckDelay,
	}, log)

	return m.Run(ctx)
}
