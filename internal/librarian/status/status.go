// Package status provides log parsing for the librarian status display.
package status

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Stats holds counters parsed from the service log.
type Stats struct {
	FilesFiled    int
	RowsPublished int
	Errors        int
	LastFiled     *FiledRecording
}

// FiledRecording describes the most recent recording moved into the
// library.
type FiledRecording struct {
	Timestamp time.Time
	Path      string
	Target    string
}

// Log lines come from slog's text handler:
//
//	time=2026-01-22T14:30:00.000+01:00 level=INFO msg="recording filed" path=/in/a.mp4 target=/out/b.mp4
var (
	filedPattern     = regexp.MustCompile(`^time=(\S+)\s+level=INFO\s+msg="recording filed"\s+path=("[^"]*"|\S+)\s+target=("[^"]*"|\S+)`)
	publishedPattern = regexp.MustCompile(`\s+msg="meeting row published"`)
	errorPattern     = regexp.MustCompile(`\s+level=ERROR\s+`)
)

// ParseLogFile parses a service log file and returns statistics. A
// missing file yields empty stats, not an error.
func ParseLogFile(path string) (*Stats, error) {
	stats := &Stats{}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()

		if matches := filedPattern.FindStringSubmatch(line); matches != nil {
			stats.FilesFiled++
			if ts, err := time.Parse(time.RFC3339, matches[1]); err == nil {
				stats.LastFiled = &FiledRecording{
					Timestamp: ts,
					Path:      unquoteIfNeeded(matches[2]),
					Target:    unquoteIfNeeded(matches[3]),
				}
			}
		}

		if publishedPattern.MatchString(line) {
			stats.RowsPublished++
		}
		if errorPattern.MatchString(line) {
			stats.Errors++
		}
	}

	return stats, scanner.Err()
}

// unquoteIfNeeded removes surrounding quotes that slog adds to values
// containing spaces.
func unquoteIfNeeded(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// FormatTimestamp formats a timestamp for display.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05")
}

// BaseName returns just the filename from a path.
func BaseName(path string) string {
	return filepath.Base(strings.TrimSuffix(path, "/"))
}
