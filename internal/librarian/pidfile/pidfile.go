// Package pidfile tracks the single running service instance through a
// PID file owned by the caller.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrNotFound means no PID file exists at the configured path.
	ErrNotFound = errors.New("pid file not found")
	// ErrMalformed means the PID file exists but does not hold a PID.
	ErrMalformed = errors.New("pid file malformed")
)

// File is a PID file at a fixed path. The zero value is not usable; build
// one with At.
type File struct {
	path string
}

// At returns a File for the given path. Nothing is touched on disk until
// one of the methods runs.
func At(path string) *File {
	return &File{path: path}
}

// Path reports where the PID file lives.
func (f *File) Path() string {
	return f.path
}

// Acquire records pid in the file, creating parent directories as needed.
// It overwrites whatever was there; callers should ClearStale first.
func (f *File) Acquire(pid int) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Release deletes the PID file. A missing file is not an error so shutdown
// paths can call it unconditionally.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// PID reads the recorded process ID.
func (f *File) PID() (int, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrMalformed
	}
	return pid, nil
}

// Alive reports whether the recorded process still exists. With no PID
// file it returns (false, 0, nil); with a stale file, (false, pid, nil).
func (f *File) Alive() (bool, int, error) {
	pid, err := f.PID()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, 0, nil
		}
		return false, 0, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, pid, nil
	}
	// Signal 0 checks for existence without delivering anything.
	switch err := proc.Signal(syscall.Signal(0)); {
	case err == nil:
		return true, pid, nil
	case errors.Is(err, syscall.EPERM):
		// Someone else's process, but it is there.
		return true, pid, nil
	default:
		return false, pid, nil
	}
}

// ClearStale removes the PID file when its process is gone, reporting
// whether anything was removed.
func (f *File) ClearStale() (bool, error) {
	running, pid, err := f.Alive()
	if err != nil {
		return false, err
	}
	if running || pid == 0 {
		return false, nil
	}
	if err := f.Release(); err != nil {
		return false, err
	}
	return true, nil
}
