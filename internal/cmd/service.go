package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/calendar"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/callback"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/googleauth"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/journal"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/llm"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/pidfile"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/processed"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/queue"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/readiness"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/renamer"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/scriberr"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/sheets"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/speakers"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/telegram"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/timestamp"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/watcher"
	"github.com/AlekZo/ai-meeting-librarian/internal/logging"
	"github.com/spf13/cobra"
)

// journalStore adapts the journal package to the per-package Store
// interfaces.
type journalStore struct{}

func (journalStore) Save(path string, v any) error { return journal.Save(path, v) }
func (journalStore) Load(path string, v any) error { return journal.Load(path, v) }

// noCalendar serves deployments without Google credentials: every lookup
// reports an empty day so the user picks names by hand.
type noCalendar struct{}

func (noCalendar) Match(ctx context.Context, ts timestamp.Parsed) ([]calendar.Meeting, bool, error) {
	return nil, false, calendar.ErrNoEvents
}

// servicePidFile is the PID file every command agrees on.
func servicePidFile() *pidfile.File {
	return pidfile.At(filepath.Join(librarian.ConfigDir(), "librarian.pid"))
}

// connectivityInterval is how often the connectivity check runs.
const connectivityInterval = 30 * time.Second

// newStartCmd creates the start command
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the librarian in foreground mode",
		Long: `Start the meeting librarian in foreground mode.

The service watches the configured folder for meeting recordings, renames
them after matching calendar events, sends transcription jobs to Scriberr
and keeps the meeting-log spreadsheet up to date. Decisions that need a
human go through the configured Telegram chat.

Configuration is read from ~/.librarian/config.json. The service runs
until interrupted with Ctrl+C or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := librarian.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			pf := servicePidFile()
			if running, pid, err := pf.Alive(); err != nil {
				return fmt.Errorf("check PID file: %w", err)
			} else if running {
				return fmt.Errorf("librarian already running (PID %d)", pid)
			}
			if _, err := pf.ClearStale(); err != nil {
				return fmt.Errorf("clean stale PID file: %w", err)
			}
			if err := pf.Acquire(os.Getpid()); err != nil {
				return fmt.Errorf("write PID file: %w", err)
			}
			defer pf.Release()

			fmt.Fprintln(cmd.OutOrStdout(), "Starting meeting librarian...")
			fmt.Fprintf(cmd.OutOrStdout(), "Watching: %s\n", cfg.WatchDir)
			fmt.Fprintf(cmd.OutOrStdout(), "Library:  %s\n", cfg.OutputDir)
			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")
			fmt.Fprintln(cmd.OutOrStdout())

			return runService(cmd.Context(), cfg)
		},
	}
}

// runService wires the full pipeline together and blocks until shutdown.
func runService(ctx context.Context, cfg *librarian.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stateDir := librarian.ConfigDir()
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, FilePath: cfg.LogFile})

	store := journalStore{}
	registry, err := callback.NewRegistry(filepath.Join(stateDir, "callbacks.json"), store, logger)
	if err != nil {
		return fmt.Errorf("open callback registry: %w", err)
	}
	logQueue, err := queue.NewLogQueue(filepath.Join(stateDir, "row_queue.json"), store, logger)
	if err != nil {
		return fmt.Errorf("open row queue: %w", err)
	}
	ledger, err := processed.NewLedger(filepath.Join(stateDir, "processed.json"), store)
	if err != nil {
		return fmt.Errorf("open processed ledger: %w", err)
	}
	negotiator, err := speakers.NewNegotiator(filepath.Join(stateDir, "speakers.json"), store)
	if err != nil {
		return fmt.Errorf("open speaker store: %w", err)
	}

	fileWatcher, err := watcher.NewFsnotifyWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	detector := readiness.NewDetector(
		readiness.WithDelay(time.Duration(cfg.StableDelaySec)*time.Second),
		readiness.WithAttempts(cfg.StableAttempts),
		readiness.WithLogger(logger),
	)
	mover := renamer.NewMover(
		renamer.WithAttempts(cfg.RenameAttempts),
		renamer.WithBackoff(time.Duration(cfg.RenameBackoffSec)*time.Second),
		renamer.WithDryRun(cfg.DryRun),
		renamer.WithLogger(logger),
	)

	bot := telegram.NewClient(cfg.TelegramToken)
	checker := librarian.NewChecker(cfg.ConnectivityTarget)

	scriberrOpts := []scriberr.Option{}
	if cfg.ScriberrWebURL != "" {
		scriberrOpts = append(scriberrOpts, scriberr.WithWebURL(cfg.ScriberrWebURL))
	}
	scriberrClient := scriberr.NewClient(cfg.ScriberrURL, cfg.ScriberrAPIKey, scriberrOpts...)

	var completer llm.Completer
	if cfg.OpenRouterAPIKey != "" {
		llmOpts := []llm.Option{}
		if cfg.OpenRouterModel != "" {
			llmOpts = append(llmOpts, llm.WithModel(cfg.OpenRouterModel))
		}
		completer = llm.NewClient(cfg.OpenRouterAPIKey, llmOpts...)
	}

	var matcher librarian.MeetingMatcher = noCalendar{}
	var publisher sheets.Publisher
	if cfg.GoogleCredentialsPath != "" {
		creds, err := googleauth.LoadCredentials(cfg.GoogleCredentialsPath)
		if err != nil {
			return fmt.Errorf("load google credentials: %w", err)
		}
		auth := googleauth.NewAuthenticator(creds,
			filepath.Join(stateDir, "google_token.json"),
			promptGrant,
			googleauth.WithLogger(logger),
		)
		matcher = calendar.NewMatcher(
			calendar.NewClient(cfg.CalendarID, auth, calendar.WithLogger(logger)),
			cfg.TimezoneOffsetHours,
		)
		if cfg.SpreadsheetID != "" {
			sheetOpts := []sheets.Option{sheets.WithLogger(logger)}
			if cfg.DriveFolderID != "" {
				sheetOpts = append(sheetOpts, sheets.WithDriveFolder(cfg.DriveFolderID))
			}
			publisher = sheets.NewClient(cfg.SpreadsheetID, auth, sheetOpts...)
		}
	} else {
		logger.Warn("no google credentials configured, calendar matching disabled")
	}

	var svc *librarian.Service
	monitor := scriberr.NewMonitor(scriberrClient, scriberr.Hooks{
		OnCompleted: func(job scriberr.Job, jobID string, t *scriberr.Transcript) {
			svc.OnTranscriptCompleted(ctx, job, jobID, t)
		},
		OnFailed: func(job scriberr.Job, jobID, reason string) {
			svc.OnTranscriptFailed(ctx, job, jobID, reason)
		},
	},
		scriberr.WithPollInterval(time.Duration(cfg.StatusPollSec)*time.Second),
		scriberr.WithUploadLogDir(cfg.OutputDir),
		scriberr.WithMonitorLogger(logger),
	)

	svc = librarian.NewService(cfg, librarian.Deps{
		Watcher:      fileWatcher,
		Readiness:    detector,
		Matcher:      matcher,
		Mover:        mover,
		Bot:          bot,
		Registry:     registry,
		Transcriber:  monitor,
		Scriberr:     scriberrClient,
		Negotiator:   negotiator,
		Completer:    completer,
		Publisher:    publisher,
		LogQueue:     logQueue,
		Pending:      queue.NewPendingFiles(),
		Processed:    ledger,
		Connectivity: checker,
	}, logger)

	poller := telegram.NewPoller(bot, svc, telegram.WithPollerLogger(logger))

	go monitor.Run(ctx)
	go poller.Run(ctx)
	go checker.Monitor(ctx, connectivityInterval, logger, func() {
		svc.OnReconnect(ctx)
	})

	return svc.Run(ctx)
}

// promptGrant walks the user through the OAuth consent flow on the
// terminal.
func promptGrant(authURL string) (string, error) {
	fmt.Printf("\nAuthorize the librarian by visiting:\n\n  %s\n\nEnter the code: ", authURL)
	var code string
	if _, err := fmt.Scanln(&code); err != nil {
		return "", fmt.Errorf("read authorization code: %w", err)
	}
	return strings.TrimSpace(code), nil
}

// stopTimeout is the maximum time to wait for graceful shutdown before sending SIGKILL
const stopTimeout = 10 * time.Second

// ErrNotRunning indicates the librarian is not running
var ErrNotRunning = errors.New("librarian is not running")

// ErrStaleProcess indicates the PID file exists but the process is not running
var ErrStaleProcess = errors.New("stale PID file (process not running)")

// newStopCmd creates the stop command
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the librarian",
		Long: `Stop the meeting librarian.

Reads the PID from ~/.librarian/librarian.pid and sends SIGTERM for
graceful shutdown. If the process doesn't exit within 10 seconds, SIGKILL
is sent to force termination. The PID file is removed after the process
exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd)
		},
	}
}

// runStop stops the librarian service
func runStop(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	pf := servicePidFile()
	pidPath := pf.Path()
	pid, err := pf.PID()
	if err != nil {
		if errors.Is(err, pidfile.ErrNotFound) {
			return ErrNotRunning
		}
		return fmt.Errorf("read PID file: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		// On Unix, FindProcess always succeeds, so this shouldn't happen
		return fmt.Errorf("find process: %w", err)
	}

	// Signal 0 checks for existence without signalling.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		if removeErr := os.Remove(pidPath); removeErr != nil && !os.IsNotExist(removeErr) {
			fmt.Fprintf(out, "Warning: failed to remove stale PID file: %v\n", removeErr)
		}
		return ErrStaleProcess
	}

	fmt.Fprintf(out, "Stopping meeting librarian (PID %d)...\n", pid)

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	exited := waitForExit(pid, stopTimeout)
	if !exited {
		fmt.Fprintln(out, "Process did not exit gracefully, sending SIGKILL...")
		if err := process.Signal(syscall.SIGKILL); err != nil {
			// Process may have exited between check and kill
			if !errors.Is(err, os.ErrProcessDone) {
				return fmt.Errorf("send SIGKILL: %w", err)
			}
		}
		waitForExit(pid, 2*time.Second)
	}

	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(out, "Warning: failed to remove PID file: %v\n", err)
	}

	fmt.Fprintln(out, "Meeting librarian stopped")
	return nil
}

// waitForExit polls until the process exits or timeout is reached
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	pollInterval := 100 * time.Millisecond

	for time.Now().Before(deadline) {
		process, err := os.FindProcess(pid)
		if err != nil {
			return true
		}
		if err := process.Signal(syscall.Signal(0)); err != nil {
			return true
		}
		time.Sleep(pollInterval)
	}

	return false
}
