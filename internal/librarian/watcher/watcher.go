// Package watcher detects new recording files appearing in a directory.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileEvent represents a detected file.
type FileEvent struct {
	Path      string
	Size      int64
	Timestamp time.Time
}

// FileWatcher detects new files in a directory.
type FileWatcher interface {
	Watch(ctx context.Context, dir string, patterns []string) (<-chan FileEvent, error)
	Stop() error
}

// FsnotifyWatcher implements FileWatcher on top of OS file notifications.
type FsnotifyWatcher struct {
	inner    *fsnotify.Watcher
	patterns []string
	stopCh   chan struct{}
	stopped  bool
}

// NewFsnotifyWatcher creates a notification-based file watcher.
func NewFsnotifyWatcher() (*FsnotifyWatcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FsnotifyWatcher{
		inner:  inner,
		stopCh: make(chan struct{}),
	}, nil
}

// Watch starts watching the specified directory for files matching the
// patterns. Subdirectories are not watched.
func (w *FsnotifyWatcher) Watch(ctx context.Context, dir string, patterns []string) (<-chan FileEvent, error) {
	if err := w.inner.Add(dir); err != nil {
		return nil, err
	}
	w.patterns = patterns

	events := make(chan FileEvent, 100)

	go w.readEvents(ctx, events)

	return events, nil
}

// Scan lists files already present in dir that match the patterns. The
// caller runs this once at startup so recordings dropped while the
// service was down are not lost.
func (w *FsnotifyWatcher) Scan(dir string, patterns []string) ([]FileEvent, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	w.patterns = patterns

	var found []FileEvent
	for _, entry := range entries {
		if entry.IsDir() || !w.matchesPatterns(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, FileEvent{
			Path:      filepath.Join(dir, entry.Name()),
			Size:      info.Size(),
			Timestamp: info.ModTime(),
		})
	}
	return found, nil
}

// Stop stops the watcher and releases resources.
func (w *FsnotifyWatcher) Stop() error {
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	return w.inner.Close()
}

func (w *FsnotifyWatcher) readEvents(ctx context.Context, events chan<- FileEvent) {
	defer close(events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			// Creates and moves-in both surface new recordings; writes to
			// an in-progress file are ignored, readiness handles those.
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !w.matchesPatterns(filepath.Base(ev.Name)) {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil || info.IsDir() {
				continue
			}
			events <- FileEvent{
				Path:      ev.Name,
				Size:      info.Size(),
				Timestamp: time.Now(),
			}
		case _, ok := <-w.inner.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *FsnotifyWatcher) matchesPatterns(name string) bool {
	if len(w.patterns) == 0 {
		return true
	}

	for _, pattern := range w.patterns {
		matched, err := filepath.Match(pattern, name)
		if err == nil && matched {
			return true
		}
	}
	return false
}
