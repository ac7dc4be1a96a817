// Package logging builds the shared slog logger for the librarian service.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the logger.
type Config struct {
	// Level is the minimum level to emit ("debug", "info", "warn", "error").
	Level string
	// FilePath is the rotating log file. Empty disables file output.
	FilePath string
	// MaxSizeMB rotates the file after this many megabytes (default 50).
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep (default 3).
	MaxBackups int
	// MaxAgeDays deletes rotated files older than this (default 28).
	MaxAgeDays int
	// Console is the live output writer (default os.Stdout).
	Console io.Writer
}

// New creates a text-format slog logger writing to the console and, when a
// file path is configured, to a size-rotated log file.
func New(cfg Config) *slog.Logger {
	if cfg.Console == nil {
		cfg.Console = os.Stdout
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 28
	}

	w := cfg.Console
	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(cfg.Console, rotator)
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a config string to a slog level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
