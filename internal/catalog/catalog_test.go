package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/impfbot/impfbot/internal/logger"
	"github.com/impfbot/impfbot/internal/retry"
)

func testPolicy() retry.Policy {
	return retry.Policy{Attempts: 0, Delay: time.Millisecond}
}

func directoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string][]ServiceCenter{
			"Region Nord": {
				{PLZ: "10115", Name: "Arena Mitte ", Locality: "Berlin", BaseURL: "https://example-center.test"},
			},
			"Region Sued": {
				{PLZ: "70174", Name: "Messe", Locality: "Stuttgart", BaseURL: "https://other-center.test"},
			},
		})
	}))
}

func TestResolveCenter_KnownPostalCodes(t *testing.T) {
	t.Parallel()

	server := directoryServer(t)
	defer server.Close()

	resolver := NewResolver(server.URL, logger.NewNop(), testPolicy())

	tests := []struct {
		plz      string
		wantBase string
	}{
		{"10115", "https://example-center.test"},
		{"70174", "https://other-center.test"},
	}
	for _, tt := range tests {
		center, err := resolver.ResolveCenter(context.Background(), tt.plz)
		if err != nil {
			t.Fatalf("ResolveCenter(%s) returned error: %v", tt.plz, err)
		}
		if center.BaseURL != tt.wantBase {
			t.Errorf("ResolveCenter(%s).BaseURL = %q, want %q", tt.plz, center.BaseURL, tt.wantBase)
		}
	}
}

func TestResolveCenter_UnknownPostalCodeFailsFast(t *testing.T) {
	t.Parallel()

	server := directoryServer(t)
	defer server.Close()

	resolver := NewResolver(server.URL, logger.NewNop(), testPolicy())

	_, err := resolver.ResolveCenter(context.Background(), "99999")
	if !errors.Is(err, ErrNoCenterForPostalCode) {
		t.Fatalf("err = %v, want ErrNoCenterForPostalCode", err)
	}
}

func TestResolveCenter_RetriesDirectoryFetch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string][]ServiceCenter{
			"Region": {{PLZ: "10115", BaseURL: "https://example-center.test"}},
		})
	}))
	defer server.Close()

	resolver := NewResolver(server.URL, logger.NewNop(), testPolicy())

	start := time.Now()
	center, err := resolver.ResolveCenter(context.Background(), "10115")
	if err != nil {
		t.Fatalf("ResolveCenter returned error: %v", err)
	}
	if center.BaseURL != "https://example-center.test" {
		t.Fatalf("BaseURL = %q", center.BaseURL)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("directory fetched %d times, want 3", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("patient retry exceeded test clock budget")
	}
}

func TestResolveQualifications(t *testing.T) {
	t.Parallel()

	center := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assets/static/its/vaccination-list.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"qualification":"Q1","name":"VaccineX","age":"18-99","interval":42}]`))
	}))
	defer center.Close()

	resolver := NewResolver("", logger.NewNop(), testPolicy())

	quals, err := resolver.ResolveQualifications(context.Background(), ServiceCenter{BaseURL: center.URL})
	if err != nil {
		t.Fatalf("ResolveQualifications returned error: %v", err)
	}
	if len(quals) != 1 {
		t.Fatalf("got %d qualifications, want 1", len(quals))
	}
	q := quals[0]
	if q.ID != "Q1" || q.Name != "VaccineX" || q.EligibleAge != "18-99" || q.IntervalDays != 42 {
		t.Fatalf("qualification = %+v", q)
	}
}

func TestResolveQualifications_EmptyListIsFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	center := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"qualification":"Q1","name":"VaccineX","age":"18-99","interval":42}]`))
	}))
	defer center.Close()

	resolver := NewResolver("", logger.NewNop(), testPolicy())

	quals, err := resolver.ResolveQualifications(context.Background(), ServiceCenter{BaseURL: center.URL})
	if err != nil {
		t.Fatalf("ResolveQualifications returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("fetched %d times, want 2 (empty list must be retried)", calls.Load())
	}
	if len(quals) != 1 {
		t.Fatalf("got %d qualifications, want 1", len(quals))
	}
}

func TestNamesByID(t *testing.T) {
	t.Parallel()

	names := NamesByID([]Qualification{
		{ID: "Q1", Name: "VaccineX"},
		{ID: "Q2", Name: "VaccineY"},
	})
	if names["Q1"] != "VaccineX" || names["Q2"] != "VaccineY" {
		t.Fatalf("NamesByID = %v", names)
	}
}
