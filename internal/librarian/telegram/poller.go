package telegram

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"
)

const (
	// DefaultPollTimeout is the server-side long-poll hold; the HTTP
	// client timeout must exceed it.
	DefaultPollTimeout = 30 * time.Second

	conflictBackoff  = 10 * time.Second
	transientBackoff = 2 * time.Second
)

// Handler consumes updates from the Poller. Both methods run on their own
// goroutine per update.
type Handler interface {
	HandleCallback(ctx context.Context, query CallbackQuery)
	HandleText(ctx context.Context, msg Message)
}

// Poller runs the getUpdates loop and dispatches to a Handler.
type Poller struct {
	bot     Bot
	handler Handler
	timeout time.Duration
	logger  *slog.Logger
}

// PollerOption configures the Poller.
type PollerOption func(*Poller)

// WithPollTimeout sets the long-poll hold time.
func WithPollTimeout(d time.Duration) PollerOption {
	return func(p *Poller) { p.timeout = d }
}

// WithPollerLogger sets the logger.
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// NewPoller creates a Poller; call Run to start it.
func NewPoller(bot Bot, handler Handler, opts ...PollerOption) *Poller {
	p := &Poller{
		bot:     bot,
		handler: handler,
		timeout: DefaultPollTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled. Conflicts with another consumer back
// off hard; transient network errors back off briefly.
func (p *Poller) Run(ctx context.Context) {
	var offset int64

	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := p.bot.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, ErrConflict):
				p.logger.Warn("another getUpdates consumer is active, backing off")
				if !sleep(ctx, conflictBackoff) {
					return
				}
			case isTimeout(err):
				// An empty long poll surfacing as a timeout is routine.
				p.logger.Debug("poll timed out", "error", err)
				if !sleep(ctx, transientBackoff) {
					return
				}
			default:
				p.logger.Warn("getUpdates failed", "error", err)
				if !sleep(ctx, transientBackoff) {
					return
				}
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			p.dispatch(ctx, update)
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, update Update) {
	switch {
	case update.CallbackQuery != nil:
		query := *update.CallbackQuery
		go p.handler.HandleCallback(ctx, query)
	case update.Message != nil && update.Message.Text != "":
		msg := *update.Message
		go p.handler.HandleText(ctx, msg)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
