package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AlekZo/ai-meeting-librarian/internal/logging"
)

type staticTokens struct {
	mu          sync.Mutex
	token       string
	invalidated int
}

func (s *staticTokens) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *staticTokens) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
	s.token = "fresh-token"
}

func TestListEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("singleEvents") != "true" || q.Get("orderBy") != "startTime" {
			t.Errorf("query = %v", q)
		}
		if q.Get("timeMin") != "2026-01-22T00:00:00Z" {
			t.Errorf("timeMin = %q", q.Get("timeMin"))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "evt-1",
					"summary": "Design Review",
					"start":   map[string]string{"dateTime": "2026-01-22T10:00:00Z"},
					"end":     map[string]string{"dateTime": "2026-01-22T11:00:00Z"},
				},
				{
					"id":     "evt-2",
					"status": "cancelled",
					"start":  map[string]string{"dateTime": "2026-01-22T12:00:00Z"},
					"end":    map[string]string{"dateTime": "2026-01-22T13:00:00Z"},
				},
				{
					"id":    "evt-3",
					"start": map[string]string{"date": "2026-01-22"},
					"end":   map[string]string{"date": "2026-01-23"},
				},
			},
		})
	}))
	defer server.Close()

	c := NewClient("primary", &staticTokens{token: "tok-1"},
		WithBaseURL(server.URL), WithLogger(logging.Nop()))

	meetings, err := c.ListEvents(context.Background(),
		time.Date(2026, 1, 22, 14, 26, 31, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(meetings) != 2 {
		t.Fatalf("meetings = %d, want 2 (cancelled dropped)", len(meetings))
	}
	if meetings[0].Title != "Design Review" || meetings[0].AllDay {
		t.Errorf("meetings[0] = %+v", meetings[0])
	}
	if !meetings[1].AllDay || meetings[1].Title != "Untitled meeting" {
		t.Errorf("meetings[1] = %+v", meetings[1])
	}
}

func TestListEvents_NaiveTimesAreUTC(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{
				"id":      "evt-1",
				"summary": "Sync",
				"start":   map[string]string{"dateTime": "2026-01-22T10:00:00"},
				"end":     map[string]string{"dateTime": "2026-01-22T11:00:00"},
			}},
		})
	}))
	defer server.Close()

	c := NewClient("primary", &staticTokens{token: "t"},
		WithBaseURL(server.URL), WithLogger(logging.Nop()))
	meetings, err := c.ListEvents(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 1, 22, 10, 0, 0, 0, time.UTC)
	if !meetings[0].Start.Equal(want) {
		t.Fatalf("Start = %v, want %v", meetings[0].Start, want)
	}
}

func TestGet_RetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
	}))
	defer server.Close()

	c := NewClient("primary", &staticTokens{token: "t"},
		WithBaseURL(server.URL), WithLogger(logging.Nop()),
		WithRetry(3, time.Millisecond))
	if _, err := c.ListEvents(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestGet_ScopeForbiddenReauthorizesOnce(t *testing.T) {
	tokens := &staticTokens{token: "stale-token"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer stale-token" {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error": {"status": "PERMISSION_DENIED", "message": "Request had insufficient authentication scopes."}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []any{}})
	}))
	defer server.Close()

	c := NewClient("primary", tokens,
		WithBaseURL(server.URL), WithLogger(logging.Nop()),
		WithRetry(3, time.Millisecond))
	if _, err := c.ListEvents(context.Background(), time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if tokens.invalidated != 1 {
		t.Fatalf("invalidated = %d, want 1", tokens.invalidated)
	}
}

func TestGet_ClientErrorDoesNotRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient("missing", &staticTokens{token: "t"},
		WithBaseURL(server.URL), WithLogger(logging.Nop()),
		WithRetry(3, time.Millisecond))
	if _, err := c.ListEvents(context.Background(), time.Now().UTC()); err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}
