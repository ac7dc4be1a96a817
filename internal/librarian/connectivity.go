package librarian

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// DefaultConnectivityInterval is how often the link state is re-checked.
const DefaultConnectivityInterval = 30 * time.Second

// ConnectivityChecker reports whether the machine can reach the internet.
type ConnectivityChecker interface {
	Online() bool
}

// Checker probes a TCP target (a public DNS resolver by default). DNS
// itself is deliberately not used: a captive portal resolves names while
// the actual APIs stay unreachable.
type Checker struct {
	target  string
	timeout time.Duration
	dial    func(network, addr string, timeout time.Duration) (net.Conn, error)

	mu     sync.Mutex
	online bool
	known  bool
}

// NewChecker creates a Checker probing target (host:port).
func NewChecker(target string) *Checker {
	return &Checker{
		target:  target,
		timeout: 5 * time.Second,
		dial:    net.DialTimeout,
	}
}

// Online probes the target and records the result.
func (c *Checker) Online() bool {
	conn, err := c.dial("tcp", c.target, c.timeout)
	online := err == nil
	if conn != nil {
		conn.Close()
	}

	c.mu.Lock()
	c.online = online
	c.known = true
	c.mu.Unlock()
	return online
}

// Monitor polls until ctx is cancelled and calls onReconnect on every
// offline-to-online transition.
func (c *Checker) Monitor(ctx context.Context, interval time.Duration, logger *slog.Logger, onReconnect func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		wasOnline, wasKnown := c.online, c.known
		c.mu.Unlock()

		nowOnline := c.Online()
		switch {
		case nowOnline && wasKnown && !wasOnline:
			logger.Info("connectivity restored")
			if onReconnect != nil {
				onReconnect()
			}
		case !nowOnline && (!wasKnown || wasOnline):
			logger.Warn("connectivity lost", "target", c.target)
		}
	}
}
