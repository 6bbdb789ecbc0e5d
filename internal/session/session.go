// Package session owns the authenticated context against one service
// center: the access code credential, the anti-bot cookie jar, and the
// four backend operations (cookie refresh, login, search, book).
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/impfbot/impfbot/internal/catalog"
	"github.com/impfbot/impfbot/internal/config"
	"github.com/impfbot/impfbot/internal/logger"
	"github.com/impfbot/impfbot/internal/retry"
)

const (
	loginPath  = "/rest/login"
	searchPath = "/rest/suche/impfterminsuche"
	bookPath   = "/rest/buchung"

	// Every call except cookie refresh carries this timeout; refresh is
	// inherently slower and bounded by the provider instead.
	requestTimeout = 15 * time.Second

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 11_2_3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/89.0.4389.82 Safari/537.36"
)

var (
	// ErrNoQualifications reports a login that came back without any
	// assigned qualification ids.
	ErrNoQualifications = errors.New("no qualifications assigned for this code")

	// ErrBookingRejected reports a booking call that did not return the
	// created status. Never retried: the backend state is ambiguous.
	ErrBookingRejected = errors.New("booking rejected")
)

// TokenProvider obtains a complete replacement set of anti-bot cookies
// for the given access code and postal code, or fails. How the cookies
// are obtained (browser automation, capture service, manual export) is
// the provider's business.
type TokenProvider interface {
	Cookies(ctx context.Context, code AccessCode, plz string) ([]*http.Cookie, error)
}

// Session is the authenticated context for one access code at one center.
// Not safe for concurrent use; each code gets its own Session.
type Session struct {
	code     AccessCode
	plz      string
	center   catalog.ServiceCenter
	baseURL  *url.URL
	http     *http.Client
	provider TokenProvider
	log      logger.Logger

	// bounded absorbs transport hiccups on login and search; anything
	// beyond its budget raises to the state machine. Booking is exempt:
	// a duplicate attempt could conflict.
	bounded retry.Policy

	qualNames map[string]string
	assigned  []string
}

// New builds a Session for the given center. qualNames maps qualification
// ids to display names for logging; it may be nil.
func New(code AccessCode, plz string, center catalog.ServiceCenter, qualNames map[string]string, provider TokenProvider, log logger.Logger) (*Session, error) {
	base, err := url.Parse(strings.TrimSuffix(center.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse center url %q: %w", center.BaseURL, err)
	}
	return &Session{
		code:      code,
		plz:       plz,
		center:    center,
		baseURL:   base,
		http:      &http.Client{Timeout: requestTimeout},
		provider:  provider,
		log:       log.WithCode(code.Suffix()),
		bounded:   retry.Bounded(0, 0),
		qualNames: qualNames,
	}, nil
}

// RefreshCookies asks the provider for a fresh cookie set and replaces
// the jar wholesale: a new jar is installed with exactly the provider
// output, never merged into the old one. On failure the previous jar
// stays in place.
func (s *Session) RefreshCookies(ctx context.Context) error {
	s.log.Info("refreshing anti-bot cookies")

	cookies, err := s.provider.Cookies(ctx, s.code, s.plz)
	if err != nil {
		return fmt.Errorf("obtain cookies: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	jar.SetCookies(s.baseURL, cookies)
	s.http.Jar = jar

	s.log.Info("cookies installed", logger.Int("count", len(cookies)))
	return nil
}

// Login calls the login endpoint. On success the backend returns the
// qualification ids assigned to this code; the assigned set is re-derived
// from scratch on every call.
func (s *Session) Login(ctx context.Context) ([]string, error) {
	var payload struct {
		Qualifications []string `json:"qualifikationen"`
	}
	status, err := s.getJSON(ctx, loginPath, &payload)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("login returned status %d", status)
	}
	if len(payload.Qualifications) == 0 {
		return nil, ErrNoQualifications
	}

	s.assigned = payload.Qualifications
	s.log.Info("logged in with access code")
	if len(s.qualNames) > 0 {
		names := make([]string, 0, len(s.assigned))
		for _, id := range s.assigned {
			name, ok := s.qualNames[id]
			if !ok {
				name = "N/A"
			}
			names = append(names, name)
		}
		s.log.Infof("assigned qualifications: %s", strings.Join(names, " "))
	}
	return s.assigned, nil
}

// Assigned returns the qualification ids from the last successful login.
func (s *Session) Assigned() []string {
	return s.assigned
}

// Search polls for slot pairs. If the backend returns at least one pair,
// the first is selected. A transport-level failure is returned as err;
// an HTTP rejection is reported through StatusCode so the caller can
// decide whether the session needs re-establishing.
func (s *Session) Search(ctx context.Context) (SearchResult, error) {
	var payload struct {
		Pairs []SlotPair `json:"termine"`
	}
	status, err := s.getJSON(ctx, searchPath, &payload)
	if err != nil {
		return SearchResult{}, err
	}
	if status >= 400 {
		s.log.Warn("search rejected", logger.Int("status", status))
		return SearchResult{StatusCode: status}, nil
	}
	if len(payload.Pairs) == 0 {
		s.log.Info("no slot pairs available")
		return SearchResult{StatusCode: status}, nil
	}

	pair := payload.Pairs[0]
	s.log.Info("slot pair found")
	for i, slot := range pair {
		s.log.Infof("appointment %d: %s", i+1, slot.BeginTime().Format("02.01.2006 at 15:04"))
	}
	return SearchResult{Found: true, Pair: pair, StatusCode: status}, nil
}

// Book posts the held slot pair with the assigned qualifications and the
// operator's contact data. Success is signaled only by the created
// status; any other outcome is terminal and never retried here.
func (s *Session) Book(ctx context.Context, pair SlotPair, qualifications []string, contact config.Contact) error {
	body := struct {
		PLZ            string         `json:"plz"`
		Slots          []string       `json:"slots"`
		Qualifications []string       `json:"qualifikationen"`
		Contact        config.Contact `json:"contact"`
	}{
		PLZ:            s.plz,
		Slots:          []string{pair[0].ID, pair[1].ID},
		Qualifications: qualifications,
		Contact:        contact,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal booking: %w", err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, &url.URL{Path: bookPath}, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute booking: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: status %d", ErrBookingRejected, resp.StatusCode)
	}

	s.log.Info("appointment pair booked")
	return nil
}

// getJSON performs an authenticated GET with the postal code attached.
// HTTP rejections are returned through the status code, not as errors;
// transport failures are retried within the bounded budget.
func (s *Session) getJSON(ctx context.Context, path string, dest any) (int, error) {
	rel := &url.URL{Path: path, RawQuery: url.Values{"plz": {s.plz}}.Encode()}

	var status int
	err := s.bounded.Do(ctx, s.log, "call "+path, func() error {
		req, err := s.newRequest(ctx, http.MethodGet, rel, nil)
		if err != nil {
			return err
		}

		resp, err := s.http.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		status = resp.StatusCode
		if resp.StatusCode >= 400 {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	return status, err
}

func (s *Session) newRequest(ctx context.Context, method string, rel *url.URL, body io.Reader) (*http.Request, error) {
	reqURL := s.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", s.code.BasicAuth())
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}
