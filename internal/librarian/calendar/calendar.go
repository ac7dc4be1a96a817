// Package calendar looks up which meeting a recording belongs to.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Meeting is one calendar event.
type Meeting struct {
	ID     string
	Title  string
	Start  time.Time
	End    time.Time
	AllDay bool
}

// API lists the events overlapping one calendar day (UTC).
type API interface {
	ListEvents(ctx context.Context, day time.Time) ([]Meeting, error)
}

// TokenSource supplies bearer tokens and can drop a bad one.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Client implements API against the Google Calendar REST endpoint.
type Client struct {
	baseURL    string
	calendarID string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger

	retries    int
	retryDelay time.Duration
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetry tunes the retry budget for 403/429/5xx responses.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Client) {
		c.retries = retries
		c.retryDelay = delay
	}
}

// NewClient creates a calendar client for calendarID ("primary" for the
// account's default calendar).
func NewClient(calendarID string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		calendarID: calendarID,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		retries:    3,
		retryDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

type eventsResponse struct {
	Items []struct {
		ID      string    `json:"id"`
		Summary string    `json:"summary"`
		Status  string    `json:"status"`
		Start   eventTime `json:"start"`
		End     eventTime `json:"end"`
	} `json:"items"`
}

// ListEvents returns the events overlapping the UTC day containing day,
// ordered by start time. Cancelled events are dropped.
func (c *Client) ListEvents(ctx context.Context, day time.Time) ([]Meeting, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	q := url.Values{
		"timeMin":      {dayStart.Format(time.RFC3339)},
		"timeMax":      {dayEnd.Format(time.RFC3339)},
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
		"maxResults":   {"50"},
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s",
		c.baseURL, url.PathEscape(c.calendarID), q.Encode())

	data, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var decoded eventsResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parsing events response: %w", err)
	}

	var meetings []Meeting
	for _, item := range decoded.Items {
		if item.Status == "cancelled" {
			continue
		}
		m := Meeting{ID: item.ID, Title: item.Summary}
		m.Start, m.AllDay, err = parseEventTime(item.Start)
		if err != nil {
			c.logger.Warn("skipping event with bad start time",
				"event", item.ID, "error", err)
			continue
		}
		m.End, _, err = parseEventTime(item.End)
		if err != nil {
			continue
		}
		if m.Title == "" {
			m.Title = "Untitled meeting"
		}
		meetings = append(meetings, m)
	}
	return meetings, nil
}

// parseEventTime handles both timed and all-day events. Timestamps without
// a zone are treated as UTC.
func parseEventTime(et eventTime) (time.Time, bool, error) {
	if et.Date != "" {
		t, err := time.ParseInLocation("2006-01-02", et.Date, time.UTC)
		return t, true, err
	}
	if t, err := time.Parse(time.RFC3339, et.DateTime); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", et.DateTime, time.UTC)
	return t, false, err
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	reauthorized := false

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("calendar auth: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return data, nil
		case resp.StatusCode == http.StatusForbidden && isScopeError(data) && !reauthorized:
			// Token has the wrong scopes, usually after scope additions.
			// Drop it and try once with a fresh grant.
			c.logger.Warn("calendar token missing scopes, re-authorizing")
			c.tokens.Invalidate()
			reauthorized = true
			lastErr = fmt.Errorf("calendar API: insufficient scopes")
		case resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= 500:
			lastErr = fmt.Errorf("calendar API: status %d: %s", resp.StatusCode, clip(data))
		default:
			return nil, fmt.Errorf("calendar API: status %d: %s", resp.StatusCode, clip(data))
		}
	}
	return nil, fmt.Errorf("calendar request failed after %d retries: %w", c.retries, lastErr)
}

func isScopeError(body []byte) bool {
	s := string(body)
	return strings.Contains(s, "insufficient") || strings.Contains(s, "ACCESS_TOKEN_SCOPE_INSUFFICIENT")
}

func clip(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// ErrNoEvents is returned by Matcher when the day has no events at all.
var ErrNoEvents = errors.New("no events on that day")
