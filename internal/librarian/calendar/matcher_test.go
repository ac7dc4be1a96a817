package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/timestamp"
)

type fakeAPI struct {
	meetings []Meeting
	lastDay  time.Time
}

func (f *fakeAPI) ListEvents(ctx context.Context, day time.Time) ([]Meeting, error) {
	f.lastDay = day
	return f.meetings, nil
}

func meetingAt(start, end string) Meeting {
	s, _ := time.Parse(time.RFC3339, start)
	e, _ := time.Parse(time.RFC3339, end)
	return Meeting{ID: "evt", Title: "Sync", Start: s, End: e}
}

func parsedAt(name string) timestamp.Parsed {
	p, ok := timestamp.Parse(name)
	if !ok {
		panic("bad test timestamp: " + name)
	}
	return p
}

func TestActiveAt_InclusiveBounds(t *testing.T) {
	m := meetingAt("2026-01-22T10:00:00Z", "2026-01-22T11:00:00Z")

	cases := []struct {
		at   string
		want bool
	}{
		{"2026-01-22T10:00:00Z", true},  // exactly at start
		{"2026-01-22T11:00:00Z", true},  // exactly at end
		{"2026-01-22T10:30:00Z", true},  // middle
		{"2026-01-22T09:59:59Z", false}, // just before
		{"2026-01-22T11:00:01Z", false}, // just after
	}
	for _, tc := range cases {
		at, _ := time.Parse(time.RFC3339, tc.at)
		if got := ActiveAt(m, at); got != tc.want {
			t.Errorf("ActiveAt(%s) = %v, want %v", tc.at, got, tc.want)
		}
	}
}

func TestMatch_AppliesTimezoneOffset(t *testing.T) {
	// Meeting 10:00-11:00 UTC; recording stamped 13:30 local at UTC+3.
	api := &fakeAPI{meetings: []Meeting{
		meetingAt("2026-01-22T10:00:00Z", "2026-01-22T11:00:00Z"),
	}}
	m := NewMatcher(api, 3)

	got, fallback, err := m.Match(context.Background(), parsedAt("rec 2026-01-22_13-30-00.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if fallback {
		t.Fatal("active match reported as day fallback")
	}
	if len(got) != 1 {
		t.Fatalf("matches = %d, want 1", len(got))
	}
}

func TestMatch_DateOnlyMatchesWholeDay(t *testing.T) {
	api := &fakeAPI{meetings: []Meeting{
		meetingAt("2026-01-22T09:00:00Z", "2026-01-22T10:00:00Z"),
		meetingAt("2026-01-22T15:00:00Z", "2026-01-22T16:00:00Z"),
	}}
	m := NewMatcher(api, 3)

	got, fallback, err := m.Match(context.Background(), parsedAt("rec 2026-01-22.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if fallback {
		t.Fatal("date-only match reported as day fallback")
	}
	if len(got) != 2 {
		t.Fatalf("matches = %d, want all meetings that day", len(got))
	}
	// Date-only must not shift the queried day by the offset.
	if f := api.lastDay; f.Day() != 22 {
		t.Fatalf("queried day = %v", f)
	}
}

func TestMatch_NoEventsThatDay(t *testing.T) {
	m := NewMatcher(&fakeAPI{}, 0)
	_, _, err := m.Match(context.Background(), parsedAt("rec 2026-01-22_10-00-00.mp4"))
	if !errors.Is(err, ErrNoEvents) {
		t.Fatalf("err = %v, want ErrNoEvents", err)
	}
}

func TestMatch_NoneActiveFallsBackToWholeDay(t *testing.T) {
	api := &fakeAPI{meetings: []Meeting{
		meetingAt("2026-01-22T10:00:00Z", "2026-01-22T11:00:00Z"),
	}}
	m := NewMatcher(api, 0)

	// Recording stamped 20:00, hours after the day's only meeting ended.
	got, fallback, err := m.Match(context.Background(), parsedAt("rec 2026-01-22_20-00-00.mp4"))
	if err != nil {
		t.Fatal(err)
	}
	if !fallback {
		t.Fatal("expected day fallback when no meeting is active")
	}
	if len(got) != 1 || got[0].Title != "Sync" {
		t.Fatalf("fallback meetings = %v, want the day's meeting", got)
	}
}
