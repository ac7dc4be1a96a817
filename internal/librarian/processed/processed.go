// Package processed remembers which recordings have already been handled
// so restarts and duplicate watcher events do not reprocess them.
package processed

import (
	"fmt"
	"sync"
	"time"
)

// Entry identifies one handled recording. Size and ModTime guard against a
// new recording reusing an old name.
type Entry struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mod_time"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Store persists the entries.
type Store interface {
	Save(path string, v any) error
	Load(path string, v any) error
}

// Ledger is the durable set of handled recordings.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]Entry
	path    string
	store   Store
}

// NewLedger loads previously recorded entries from path.
func NewLedger(path string, store Store) (*Ledger, error) {
	l := &Ledger{
		entries: make(map[string]Entry),
		path:    path,
		store:   store,
	}
	var loaded []Entry
	if err := store.Load(path, &loaded); err != nil {
		return nil, fmt.Errorf("loading processed ledger: %w", err)
	}
	for _, e := range loaded {
		l.entries[e.Path] = e
	}
	return l, nil
}

// Seen reports whether path was already processed with the same size and
// modification time. A changed size or mtime means a different recording
// and returns false.
func (l *Ledger) Seen(path string, size int64, modTime time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[path]
	if !ok {
		return false
	}
	return e.Size == size && e.ModTime.Equal(modTime)
}

// Mark records path as processed and persists the ledger.
func (l *Ledger) Mark(path string, size int64, modTime time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[path] = Entry{
		Path:        path,
		Size:        size,
		ModTime:     modTime,
		ProcessedAt: time.Now(),
	}
	return l.persistLocked()
}

// Forget removes path, used when a processed file is moved away and its
// old name becomes reusable.
func (l *Ledger) Forget(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[path]; !ok {
		return nil
	}
	delete(l.entries, path)
	return l.persistLocked()
}

func (l *Ledger) persistLocked() error {
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	if err := l.store.Save(l.path, out); err != nil {
		return fmt.Errorf("persisting processed ledger: %w", err)
	}
	return nil
}
