package calendar

import (
	"context"
	"time"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/timestamp"
)

// Matcher finds the meetings a recording timestamp falls into.
type Matcher struct {
	api API
	// offset is subtracted from filename wall-clock times to get UTC.
	// Recorders stamp files in local time; calendar events are in UTC.
	offset time.Duration
}

// NewMatcher creates a Matcher. offsetHours is the recorder's local UTC
// offset (3 for UTC+3).
func NewMatcher(api API, offsetHours float64) *Matcher {
	return &Matcher{
		api:    api,
		offset: time.Duration(offsetHours * float64(time.Hour)),
	}
}

// Match returns the meetings active at the recording's timestamp.
// Date-only timestamps have no meaningful clock time, so they match every
// meeting on that date and skip the timezone conversion. When no meeting
// was active but the day had meetings, the whole day's list is returned
// with dayFallback true so the caller can let the user pick one.
// ErrNoEvents means the calendar had nothing that day.
func (m *Matcher) Match(ctx context.Context, ts timestamp.Parsed) (meetings []Meeting, dayFallback bool, err error) {
	at := ts.Time
	dateOnly := ts.Format == timestamp.FormatDateOnly || ts.Format == timestamp.FormatDayMonthYear
	if !dateOnly {
		at = at.Add(-m.offset)
	}

	meetings, err = m.api.ListEvents(ctx, at)
	if err != nil {
		return nil, false, err
	}
	if len(meetings) == 0 {
		return nil, false, ErrNoEvents
	}
	if dateOnly {
		return meetings, false, nil
	}

	var active []Meeting
	for _, meeting := range meetings {
		if ActiveAt(meeting, at) {
			active = append(active, meeting)
		}
	}
	if len(active) == 0 {
		return meetings, true, nil
	}
	return active, false, nil
}

// ActiveAt reports whether at falls inside the meeting. Both bounds are
// inclusive: a recording stamped exactly at the end still belongs to the
// meeting.
func ActiveAt(m Meeting, at time.Time) bool {
	if at.Before(m.Start) {
		return false
	}
	return !at.After(m.End)
}
