package timestamp

import (
	"strings"
	"testing"
	"time"
)

func TestParse_Formats(t *testing.T) {
	cases := []struct {
		name      string
		filename  string
		canonical string
		format    Format
		original  string
	}{
		{
			name:      "iso8601",
			filename:  "Meeting Recording 2026-01-23T10:01:46.mp4",
			canonical: "2026-01-23_10-01-46",
			format:    FormatISO8601,
			original:  "2026-01-23T10:01:46",
		},
		{
			name:      "iso8601 with zulu suffix",
			filename:  "call-2026-03-05T09:15:00Z.mkv",
			canonical: "2026-03-05_09-15-00",
			format:    FormatISO8601,
			original:  "2026-03-05T09:15:00Z",
		},
		{
			name:      "underscore with hyphens",
			filename:  "zoom_2026-01-22_14-26-31_team-sync.mp4",
			canonical: "2026-01-22_14-26-31",
			format:    FormatUnderscore,
			original:  "2026-01-22_14-26-31",
		},
		{
			name:      "date only",
			filename:  "standup 2026-01-23.mp4",
			canonical: "2026-01-23_00-00-00",
			format:    FormatDateOnly,
			original:  "2026-01-23",
		},
		{
			name:      "short numeric",
			filename:  "REC_2601231005.mp4",
			canonical: "2026-01-23_10-05-00",
			format:    FormatShortNumeric,
			original:  "2601231005",
		},
		{
			name:      "day month year",
			filename:  "retro 18_Feb_26.mp4",
			canonical: "2026-02-18_00-00-00",
			format:    FormatDayMonthYear,
			original:  "18_Feb_26",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, ok := Parse(tc.filename)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tc.filename)
			}
			if p.Canonical != tc.canonical {
				t.Errorf("Canonical = %q, want %q", p.Canonical, tc.canonical)
			}
			if p.Format != tc.format {
				t.Errorf("Format = %q, want %q", p.Format, tc.format)
			}
			if p.Original != tc.original {
				t.Errorf("Original = %q, want %q", p.Original, tc.original)
			}
			if !strings.Contains(tc.filename, p.Original) {
				t.Errorf("Original %q is not a substring of %q", p.Original, tc.filename)
			}
		})
	}
}

func TestParse_NoTimestamp(t *testing.T) {
	for _, filename := range []string{
		"meeting.mp4",
		"notes.txt",
		"all hands recording final.mkv",
	} {
		if p, ok := Parse(filename); ok {
			t.Errorf("Parse(%q) = %+v, want no match", filename, p)
		}
	}
}

func TestParse_RejectsImpossibleDates(t *testing.T) {
	// 2026-02-30 looks structurally like a date but does not exist; the
	// parser must not let time.Date roll it into March.
	if p, ok := Parse("recording 2026-02-30.mp4"); ok {
		t.Fatalf("Parse accepted impossible date: %+v", p)
	}
	if p, ok := Parse("recording 2026-13-01_10-00-00.mp4"); ok {
		t.Fatalf("Parse accepted month 13: %+v", p)
	}
}

func TestParse_InvalidDateFallsThroughToLaterPattern(t *testing.T) {
	// The hyphenated date is impossible, but the name also carries a valid
	// DD_Mon_YY token which the later pattern should pick up.
	p, ok := Parse("export 2026-02-31 from 18_Feb_26.mp4")
	if !ok {
		t.Fatal("expected fallthrough match")
	}
	if p.Format != FormatDayMonthYear {
		t.Fatalf("Format = %q, want %q", p.Format, FormatDayMonthYear)
	}
	if p.Original != "18_Feb_26" {
		t.Fatalf("Original = %q, want 18_Feb_26", p.Original)
	}
}

func TestParse_PriorityPrefersHyphenatedDate(t *testing.T) {
	p, ok := Parse("2026-01-22_14-26-31 aka 2601221426.mp4")
	if !ok {
		t.Fatal("expected match")
	}
	if p.Format != FormatUnderscore {
		t.Fatalf("Format = %q, want %q", p.Format, FormatUnderscore)
	}
}

func TestParse_TimeFieldMatchesCanonical(t *testing.T) {
	p, ok := Parse("2026-01-22_14-26-31.mp4")
	if !ok {
		t.Fatal("expected match")
	}
	want := time.Date(2026, time.January, 22, 14, 26, 31, 0, time.UTC)
	if !p.Time.Equal(want) {
		t.Fatalf("Time = %v, want %v", p.Time, want)
	}
}
