// Package readiness decides when a recording file has finished being
// written and is safe to move.
package readiness

import (
	"context"
	"log/slog"
	"os"
	"time"
)

const (
	DefaultDelay    = 2 * time.Second
	DefaultAttempts = 30
)

// Detector polls a file until its size stops changing and the OS will let
// us open and rename it. Recorders tend to hold their output open until
// the session ends, so a bare size check is not enough on its own.
type Detector struct {
	delay    time.Duration
	attempts int
	logger   *slog.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithDelay sets the interval between polls.
func WithDelay(d time.Duration) Option {
	return func(det *Detector) { det.delay = d }
}

// WithAttempts caps how many polls run before giving up.
func WithAttempts(n int) Option {
	return func(det *Detector) { det.attempts = n }
}

// WithLogger sets the logger for per-poll progress.
func WithLogger(l *slog.Logger) Option {
	return func(det *Detector) { det.logger = l }
}

// NewDetector creates a Detector with the given options applied.
func NewDetector(opts ...Option) *Detector {
	det := &Detector{
		delay:    DefaultDelay,
		attempts: DefaultAttempts,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(det)
	}
	return det
}

// Wait blocks until path is stable and movable, the attempt budget runs
// out, or ctx is cancelled. It returns true only when the file is ready.
// A file that vanishes mid-wait (recorder writing to a temp name, then
// renaming) counts as not ready.
func (det *Detector) Wait(ctx context.Context, path string) bool {
	var lastSize int64 = -1

	for attempt := 1; attempt <= det.attempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(det.delay):
		}

		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				det.logger.Debug("file vanished while waiting", "path", path)
				return false
			}
			det.logger.Debug("stat failed, retrying", "path", path, "error", err)
			lastSize = -1
			continue
		}

		size := info.Size()
		if size != lastSize || size == 0 {
			det.logger.Debug("file still growing",
				"path", path, "size", size, "attempt", attempt)
			lastSize = size
			continue
		}

		if !readable(path) {
			det.logger.Debug("file not yet readable", "path", path, "attempt", attempt)
			continue
		}
		if !movable(path) {
			det.logger.Debug("file still locked by writer", "path", path, "attempt", attempt)
			continue
		}

		det.logger.Debug("file is ready", "path", path, "size", size)
		return true
	}

	det.logger.Warn("file never stabilized", "path", path, "attempts", det.attempts)
	return false
}

// readable probes that the file can actually be opened for reading.
func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	var b [1]byte
	_, err = f.Read(b[:])
	f.Close()
	return err == nil
}

// movable probes a rename onto itself, which fails on platforms that hold
// exclusive locks on files still open for writing.
func movable(path string) bool {
	return os.Rename(path, path) == nil
}
