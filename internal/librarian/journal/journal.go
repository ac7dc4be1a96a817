// Package journal provides locked, atomic JSON persistence for the small
// state files the service shares across goroutines and process instances.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultLockTimeout bounds how long a writer waits for a stale lock.
	DefaultLockTimeout = 10 * time.Second
	// DefaultLockPoll is the interval between lock acquisition attempts.
	DefaultLockPoll = 100 * time.Millisecond
)

// ErrLockTimeout is returned when the advisory lock cannot be acquired.
var ErrLockTimeout = errors.New("journal: timeout acquiring lock")

// lockPath returns the advisory lock file used for a journal file.
func lockPath(path string) string {
	return path + ".lock"
}

// acquireLock creates the lock file exclusively, waiting up to timeout.
func acquireLock(path string, timeout time.Duration) (release func(), err error) {
	lp := lockPath(path)
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(lp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lp) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock %s: %w", lp, err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, lp)
		}
		time.Sleep(DefaultLockPoll)
	}
}

// waitForLockClear blocks until no writer holds the lock, or the timeout
// passes. A stale lock is tolerated: readers proceed after the timeout.
func waitForLockClear(path string, timeout time.Duration) {
	lp := lockPath(path)
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(lp); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		time.Sleep(DefaultLockPoll)
	}
}

// Save writes v as indented JSON to path under the advisory lock, using a
// temp file and rename so readers never observe a partial write.
func Save(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}

	release, err := acquireLock(path, DefaultLockTimeout)
	if err != nil {
		return err
	}
	defer release()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal journal data: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace journal file: %w", err)
	}
	return nil
}

// Load reads JSON from path into v, first waiting for any active writer
// lock to clear. A missing file leaves v untouched and returns nil.
func Load(path string, v any) error {
	waitForLockClear(path, DefaultLockTimeout)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read journal file: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse journal file %s: %w", path, err)
	}
	return nil
}
