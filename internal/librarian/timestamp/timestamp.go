// Package timestamp extracts recording timestamps from filenames.
package timestamp

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Format identifies which filename pattern produced a parsed timestamp.
type Format string

const (
	// FormatISO8601 covers 2026-01-23T10:01:46 with or without a trailing Z.
	FormatISO8601 Format = "ISO 8601"
	// FormatUnderscore covers 2026-01-22_14-26-31.
	FormatUnderscore Format = "underscore with hyphens"
	// FormatDateOnly covers a bare 2026-01-23; the time defaults to midnight.
	// Date-only timestamps are exempt from timezone conversion downstream.
	FormatDateOnly Format = "date-only"
	// FormatShortNumeric covers a bare 10-digit YYMMDDHHMM run.
	FormatShortNumeric Format = "YYMMDDHHMM"
	// FormatDayMonthYear covers 18_Feb_26 style names.
	FormatDayMonthYear Format = "DD_Mon_YY"
)

// Parsed is an immutable timestamp extracted from a filename.
type Parsed struct {
	// Time is the wall-clock time as written in the filename (local time,
	// no zone attached).
	Time time.Time
	// Canonical is the zero-padded YYYY-MM-DD_HH-MM-SS reconstruction.
	Canonical string
	// Format tags which pattern matched.
	Format Format
	// Original is the exact matched substring, never reformatted.
	Original string
}

// Patterns are tried in a fixed priority order; the first structural match
// whose date is a real calendar date wins. Overlaps resolve by this order,
// not by specificity.
var (
	combinedPattern = regexp.MustCompile(
		`(\d{4})-(\d{2})-(\d{2})(?:[T_](\d{2}):(\d{2}):(\d{2})Z?|_(\d{2})-(\d{2})-(\d{2}))?`)
	shortNumericPattern = regexp.MustCompile(`(?:^|[^0-9])(\d{2})(\d{2})(\d{2})(\d{2})(\d{2})(?:[^0-9]|$)`)
	dayMonthYearPattern = regexp.MustCompile(`(\d{1,2})[ _-]([A-Z][a-z]{2})[ _-](\d{2})(?:[^0-9]|$)`)
)

var monthsByName = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// Parse extracts the first timestamp found in filename, trying patterns in
// priority order. ok is false when no pattern yields a valid calendar date.
func Parse(filename string) (p Parsed, ok bool) {
	if p, ok = parseCombined(filename); ok {
		return p, true
	}
	if p, ok = parseShortNumeric(filename); ok {
		return p, true
	}
	if p, ok = parseDayMonthYear(filename); ok {
		return p, true
	}
	return Parsed{}, false
}

func parseCombined(filename string) (Parsed, bool) {
	m := combinedPattern.FindStringSubmatch(filename)
	if m == nil {
		return Parsed{}, false
	}

	year := atoi(m[1])
	month := atoi(m[2])
	day := atoi(m[3])

	var hour, minute, second int
	var format Format
	switch {
	case m[4] != "": // ISO 8601 time with colons
		hour, minute, second = atoi(m[4]), atoi(m[5]), atoi(m[6])
		format = FormatISO8601
	case m[7] != "": // underscore time with hyphens
		hour, minute, second = atoi(m[7]), atoi(m[8]), atoi(m[9])
		format = FormatUnderscore
	default:
		format = FormatDateOnly
	}

	t, valid := makeTime(year, month, day, hour, minute, second)
	if !valid {
		return Parsed{}, false
	}
	return Parsed{
		Time:      t,
		Canonical: canonical(t),
		Format:    format,
		Original:  m[0],
	}, true
}

func parseShortNumeric(filename string) (Parsed, bool) {
	loc := shortNumericPattern.FindStringSubmatchIndex(filename)
	if loc == nil {
		return Parsed{}, false
	}

	group := func(i int) string { return filename[loc[2*i]:loc[2*i+1]] }
	year := 2000 + atoi(group(1))
	month := atoi(group(2))
	day := atoi(group(3))
	hour := atoi(group(4))
	minute := atoi(group(5))

	t, valid := makeTime(year, month, day, hour, minute, 0)
	if !valid {
		return Parsed{}, false
	}
	return Parsed{
		Time:      t,
		Canonical: canonical(t),
		Format:    FormatShortNumeric,
		Original:  filename[loc[2]:loc[11]],
	}, true
}

func parseDayMonthYear(filename string) (Parsed, bool) {
	loc := dayMonthYearPattern.FindStringSubmatchIndex(filename)
	if loc == nil {
		return Parsed{}, false
	}

	group := func(i int) string { return filename[loc[2*i]:loc[2*i+1]] }
	day := atoi(group(1))
	month, known := monthsByName[group(2)]
	if !known {
		return Parsed{}, false
	}
	year := 2000 + atoi(group(3))

	t, valid := makeTime(year, int(month), day, 0, 0, 0)
	if !valid {
		return Parsed{}, false
	}
	return Parsed{
		Time:      t,
		Canonical: canonical(t),
		Format:    FormatDayMonthYear,
		Original:  filename[loc[2]:loc[7]],
	}, true
}

// makeTime builds a time.Time and rejects dates time.Date would silently
// normalize (e.g. 2026-02-30 rolling into March).
func makeTime(year, month, day, hour, minute, second int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func canonical(t time.Time) string {
	return fmt.Sprintf("%04d-%02d-%02d_%02d-%02d-%02d",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second())
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
