// Package renamer builds canonical recording names and moves files into
// place, tolerating the short file locks recorders leave behind.
package renamer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultAttempts = 5
	DefaultBackoff  = 3 * time.Second

	// maxUniqueSuffix caps the _01.._NN collision probe.
	maxUniqueSuffix = 100
)

// illegalChars are rejected by Windows filesystems; the pipeline sanitizes
// for them everywhere so an output folder on a mounted share still works.
const illegalChars = `<>:"/\|?*`

// Sanitize makes title safe to use as a filename component. Illegal
// characters become spaces, runs of whitespace collapse, and the result is
// trimmed of trailing dots and spaces.
func Sanitize(title string) string {
	var b strings.Builder
	for _, r := range title {
		if strings.ContainsRune(illegalChars, r) || r < 0x20 {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	cleaned = strings.TrimRight(cleaned, ". ")
	if cleaned == "" {
		cleaned = "Untitled"
	}
	return cleaned
}

// NewBaseName combines a meeting title and canonical timestamp into the
// library naming scheme, keeping the original extension.
func NewBaseName(title, canonical, ext string) string {
	return fmt.Sprintf("%s_%s%s", Sanitize(title), canonical, ext)
}

// UniquePath returns path if free, otherwise the first _01.._99 suffixed
// variant that is. It fails once the suffix budget is exhausted.
func UniquePath(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 1; i < maxUniqueSuffix; i++ {
		candidate := fmt.Sprintf("%s_%02d%s", stem, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", path, maxUniqueSuffix)
}

// Mover renames and copies recordings with retries.
type Mover struct {
	attempts int
	backoff  time.Duration
	dryRun   bool
	logger   *slog.Logger
}

// Option configures a Mover.
type Option func(*Mover)

// WithAttempts sets how many times a rename is retried.
func WithAttempts(n int) Option {
	return func(m *Mover) { m.attempts = n }
}

// WithBackoff sets the pause between rename attempts.
func WithBackoff(d time.Duration) Option {
	return func(m *Mover) { m.backoff = d }
}

// WithDryRun makes every operation log instead of touching the filesystem.
func WithDryRun(enabled bool) Option {
	return func(m *Mover) { m.dryRun = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mover) { m.logger = l }
}

// NewMover creates a Mover with the given options applied.
func NewMover(opts ...Option) *Mover {
	m := &Mover{
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Rename moves src to dst, retrying when the file is briefly locked. dst
// must not exist; callers resolve collisions with UniquePath first.
func (m *Mover) Rename(src, dst string) error {
	if m.dryRun {
		m.logger.Info("dry run: would rename", "from", src, "to", dst)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(m.backoff)
		}
		if err := os.Rename(src, dst); err != nil {
			lastErr = err
			m.logger.Debug("rename attempt failed",
				"from", src, "attempt", attempt, "error", err)
			continue
		}
		m.logger.Info("renamed recording", "from", src, "to", dst)
		return nil
	}
	return fmt.Errorf("renaming %s after %d attempts: %w", src, m.attempts, lastErr)
}

// MoveTo copies src into dir under the same base name and removes the
// original. A copy-then-delete survives dir being on another filesystem.
func (m *Mover) MoveTo(src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))
	dst, err := UniquePath(dst)
	if err != nil {
		return "", err
	}

	if m.dryRun {
		m.logger.Info("dry run: would move", "from", src, "to", dst)
		return dst, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	if err := copyFile(src, dst); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("copying %s: %w", src, err)
	}
	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("removing original %s: %w", src, err)
	}
	m.logger.Info("moved recording", "from", src, "to", dst)
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
