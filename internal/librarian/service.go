package librarian

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/calendar"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/callback"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/llm"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/processed"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/queue"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/scriberr"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/sheets"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/speakers"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/telegram"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/timestamp"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/watcher"
)

// DisplayTimeFormat is the fixed layout for times shown to the user and
// written to the spreadsheet.
const DisplayTimeFormat = "2006-01-02 15:04"

// Watcher detects recordings, both new and pre-existing.
type Watcher interface {
	Watch(ctx context.Context, dir string, patterns []string) (<-chan watcher.FileEvent, error)
	Scan(dir string, patterns []string) ([]watcher.FileEvent, error)
	Stop() error
}

// ReadinessWaiter blocks until a file is safe to move.
type ReadinessWaiter interface {
	Wait(ctx context.Context, path string) bool
}

// MeetingMatcher finds the meetings active at a recording's timestamp.
type MeetingMatcher interface {
	Match(ctx context.Context, ts timestamp.Parsed) (meetings []calendar.Meeting, dayFallback bool, err error)
}

// FileMover renames and relocates recordings.
type FileMover interface {
	Rename(src, dst string) error
	MoveTo(src, dir string) (string, error)
}

// Transcriber accepts jobs for the transcription queue.
type Transcriber interface {
	Enqueue(job scriberr.Job) error
}

// Deps are the service's collaborators, injected so tests can substitute
// fakes.
type Deps struct {
	Watcher      Watcher
	Readiness    ReadinessWaiter
	Matcher      MeetingMatcher
	Mover        FileMover
	Bot          telegram.Bot
	Registry     *callback.Registry
	Transcriber  Transcriber
	Scriberr     scriberr.API
	Negotiator   *speakers.Negotiator
	Completer    llm.Completer
	Publisher    sheets.Publisher
	LogQueue     *queue.LogQueue
	Pending      *queue.PendingFiles
	Processed    *processed.Ledger
	Connectivity ConnectivityChecker
}

// pendingInput routes a force-reply answer back to the action that asked
// the question. Keyed by the prompt's message ID.
type pendingInput struct {
	action callback.Action
}

// Service orchestrates the meeting-recording pipeline.
type Service struct {
	cfg    *Config
	logger *slog.Logger
	deps   Deps

	mu       sync.Mutex
	awaiting map[int64]pendingInput

	wg sync.WaitGroup
}

// NewService creates a Service around the given collaborators. The config
// must already be validated.
func NewService(cfg *Config, deps Deps, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		logger:   logger,
		deps:     deps,
		awaiting: make(map[int64]pendingInput),
	}
}

// Run starts the pipeline and blocks until the context is cancelled or a
// termination signal arrives.
func (s *Service) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.logger.Info("starting meeting librarian",
		"watch_dir", s.cfg.WatchDir,
		"output_dir", s.cfg.OutputDir,
		"dry_run", s.cfg.DryRun,
	)

	s.startup(ctx)

	maxAge := time.Duration(s.cfg.CallbackSweepDays) * 24 * time.Hour
	if n, err := s.deps.Registry.Sweep(maxAge); err != nil {
		s.logger.Warn("callback sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("swept stale callbacks", "count", n)
	}

	events, err := s.deps.Watcher.Watch(ctx, s.cfg.WatchDir, s.cfg.WatchPatterns)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	// Recordings dropped while the service was down.
	if existing, err := s.deps.Watcher.Scan(s.cfg.WatchDir, s.cfg.WatchPatterns); err != nil {
		s.logger.Warn("startup scan failed", "error", err)
	} else {
		for i, ev := range existing {
			if i > 0 {
				time.Sleep(time.Second)
			}
			s.handleFileEvent(ctx, ev)
		}
	}

	sweepTicker := time.NewTicker(24 * time.Hour)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context cancelled, shutting down")
			return s.shutdown()

		case sig := <-sigCh:
			s.logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
			return s.shutdown()

		case <-sweepTicker.C:
			maxAge := time.Duration(s.cfg.CallbackSweepDays) * 24 * time.Hour
			if _, err := s.deps.Registry.Sweep(maxAge); err != nil {
				s.logger.Warn("callback sweep failed", "error", err)
			}

		case event, ok := <-events:
			if !ok {
				s.logger.Info("watcher channel closed")
				return s.shutdown()
			}
			s.handleFileEvent(ctx, event)
		}
	}
}

// startup runs the best-effort online chores: spreadsheet tabs and the
// hello message. Neither failing should keep the watcher from starting.
func (s *Service) startup(ctx context.Context) {
	if !s.deps.Connectivity.Online() {
		s.logger.Warn("starting offline, deferring spreadsheet setup")
		return
	}

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.EnsureTabs(ctx); err != nil {
			s.logger.Warn("spreadsheet setup failed", "error", err)
		}
		// Rows queued during the previous run go out before new work starts.
		if n, err := s.deps.LogQueue.DequeueAll(func(row queue.Row) error {
			return s.deps.Publisher.AppendRow(ctx, sheets.MeetingLogTab, row.Cells())
		}); err != nil {
			s.logger.Warn("draining log queue failed", "error", err)
		} else if n > 0 {
			s.logger.Info("published queued rows", "count", n)
		}
	}

	msg := fmt.Sprintf("👋 Meeting librarian started.\nWatching: %s", s.cfg.WatchDir)
	if s.cfg.DryRun {
		msg += "\n(dry run: no files will be moved)"
	}
	if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID, msg, nil); err != nil {
		s.logger.Warn("startup notification failed", "error", err)
	}
}

func (s *Service) handleFileEvent(ctx context.Context, event watcher.FileEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processFile(ctx, event.Path)
	}()
}

// OnReconnect replays work deferred while offline: pending recordings one
// second apart, then the queued spreadsheet rows.
func (s *Service) OnReconnect(ctx context.Context) {
	paths := s.deps.Pending.Drain()
	if len(paths) > 0 {
		s.logger.Info("replaying recordings detected offline", "count", len(paths))
	}
	for i, path := range paths {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
		if _, err := os.Stat(path); err != nil {
			s.logger.Warn("offline recording vanished, skipping", "path", path)
			continue
		}
		s.processFile(ctx, path)
	}

	if s.deps.Publisher != nil {
		if n, err := s.deps.LogQueue.DequeueAll(func(row queue.Row) error {
			return s.deps.Publisher.AppendRow(ctx, sheets.MeetingLogTab, row.Cells())
		}); err != nil {
			s.logger.Warn("draining log queue failed", "error", err)
		} else if n > 0 {
			s.logger.Info("published queued rows", "count", n)
		}
	}
}

func (s *Service) shutdown() error {
	if err := s.deps.Watcher.Stop(); err != nil {
		s.logger.Error("error stopping watcher", "error", err)
	}
	s.logger.Info("waiting for in-flight processing to complete")
	s.wg.Wait()
	s.logger.Info("meeting librarian stopped")
	return nil
}

func (s *Service) notify(ctx context.Context, text string) {
	if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID, text, nil); err != nil {
		s.logger.Warn("telegram notification failed", "error", err)
	}
}

func (s *Service) awaitReply(messageID int64, action callback.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaiting[messageID] = pendingInput{action: action}
}

func (s *Service) takeReply(messageID int64) (callback.Action, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.awaiting[messageID]
	if ok {
		delete(s.awaiting, messageID)
	}
	return in.action, ok
}
