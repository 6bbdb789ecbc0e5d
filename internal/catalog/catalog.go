// Package catalog resolves a postal code to its service center and loads
// the qualifications the center offers. Both reads are bootstrap calls:
// they are retried patiently because nothing can proceed without them.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/impfbot/impfbot/internal/logger"
	"github.com/impfbot/impfbot/internal/retry"
)

const (
	// DefaultDirectoryURL is the published directory of all centers,
	// grouped by region.
	DefaultDirectoryURL = "https://www.impfterminservice.de/assets/static/impfzentren.json"

	qualificationPath = "/assets/static/its/vaccination-list.json"

	requestTimeout = 15 * time.Second
)

var (
	// ErrNoCenterForPostalCode reports a postal code absent from the
	// directory. A configuration problem, never retried.
	ErrNoCenterForPostalCode = errors.New("no service center for postal code")

	// ErrCatalogUnavailable reports that a catalog read failed or came
	// back empty.
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// Resolver fetches the center directory and per-center qualification lists.
type Resolver struct {
	directoryURL string
	http         *http.Client
	log          logger.Logger
	patient      retry.Policy
}

// NewResolver builds a Resolver. An empty directoryURL selects the
// published default.
func NewResolver(directoryURL string, log logger.Logger, patient retry.Policy) *Resolver {
	if strings.TrimSpace(directoryURL) == "" {
		directoryURL = DefaultDirectoryURL
	}
	return &Resolver{
		directoryURL: directoryURL,
		http:         &http.Client{Timeout: requestTimeout},
		log:          log,
		patient:      patient,
	}
}

// ResolveCenter fetches the full directory, flattens the region grouping
// into a postal-code index and looks up plz. The fetch is retried
// patiently; an unknown postal code fails fast.
func (r *Resolver) ResolveCenter(ctx context.Context, plz string) (ServiceCenter, error) {
	var byPLZ map[string]ServiceCenter

	err := r.patient.Do(ctx, r.log, "center directory load", func() error {
		var grouped map[string][]ServiceCenter
		if err := r.getJSON(ctx, r.directoryURL, &grouped); err != nil {
			return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}

		byPLZ = make(map[string]ServiceCenter)
		for _, centers := range grouped {
			for _, center := range centers {
				byPLZ[center.PLZ] = center
			}
		}
		return nil
	})
	if err != nil {
		return ServiceCenter{}, err
	}

	r.log.Info("center directory loaded", logger.Int("centers", len(byPLZ)))

	center, ok := byPLZ[plz]
	if !ok {
		return ServiceCenter{}, fmt.Errorf("%w %s", ErrNoCenterForPostalCode, plz)
	}

	r.log.Info("service center selected",
		logger.String("center", strings.TrimSpace(center.Name)),
		logger.String("plz", center.PLZ),
		logger.String("locality", center.Locality))
	return center, nil
}

// ResolveQualifications fetches the qualification list offered under the
// center's base URL. An empty list counts as failure and stays inside the
// patient retry loop, matching the fixed-schedule handling for a center
// that momentarily publishes nothing.
func (r *Resolver) ResolveQualifications(ctx context.Context, center ServiceCenter) ([]Qualification, error) {
	url := strings.TrimSuffix(center.BaseURL, "/") + qualificationPath

	var quals []Qualification
	err := r.patient.Do(ctx, r.log, "qualification load", func() error {
		quals = nil
		if err := r.getJSON(ctx, url, &quals); err != nil {
			return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
		}
		if len(quals) == 0 {
			return fmt.Errorf("%w: center lists no qualifications", ErrCatalogUnavailable)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.Info("qualifications available", logger.Int("count", len(quals)))
	for _, q := range quals {
		r.log.Infof("%s: %s (age %s, interval %d days)", q.ID, q.Name, q.EligibleAge, q.IntervalDays)
	}
	return quals, nil
}

func (r *Resolver) getJSON(ctx context.Context, url string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
