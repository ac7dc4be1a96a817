// Package queue holds work that cannot be completed yet: recordings seen
// while offline, and spreadsheet rows waiting for connectivity.
package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Row is one meeting-log entry waiting to be appended to the spreadsheet.
type Row struct {
	DateTime       string    `json:"date_time"`
	MeetingName    string    `json:"meeting_name"`
	ProjectTag     string    `json:"project_tag"`
	VideoLink      string    `json:"video_link"`
	ScriberrLink   string    `json:"scriberr_link"`
	TranscriptLink string    `json:"transcript_link"`
	Status         string    `json:"status"`
	MeetingType    string    `json:"meeting_type"`
	Summary        string    `json:"summary"`
	QueuedAt       time.Time `json:"queued_at"`
}

// Cells returns the row in spreadsheet column order.
func (r Row) Cells() []string {
	return []string{
		r.DateTime, r.MeetingName, r.ProjectTag, r.VideoLink,
		r.ScriberrLink, r.TranscriptLink, r.Status, r.MeetingType, r.Summary,
	}
}

// Store persists the queued rows.
type Store interface {
	Save(path string, v any) error
	Load(path string, v any) error
}

// LogQueue is a durable FIFO of spreadsheet rows. Rows survive restarts;
// rows that fail to publish go back to the front.
type LogQueue struct {
	mu     sync.Mutex
	rows   []Row
	path   string
	store  Store
	logger *slog.Logger
}

// NewLogQueue loads any rows left over from a previous run.
func NewLogQueue(path string, store Store, logger *slog.Logger) (*LogQueue, error) {
	q := &LogQueue{path: path, store: store, logger: logger}
	if err := store.Load(path, &q.rows); err != nil {
		return nil, fmt.Errorf("loading log queue: %w", err)
	}
	return q, nil
}

// Enqueue appends a row and persists the queue before returning.
func (q *LogQueue) Enqueue(row Row) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if row.QueuedAt.IsZero() {
		row.QueuedAt = time.Now()
	}
	q.rows = append(q.rows, row)
	if err := q.store.Save(q.path, q.rows); err != nil {
		q.rows = q.rows[:len(q.rows)-1]
		return fmt.Errorf("persisting log queue: %w", err)
	}
	return nil
}

// DequeueAll drains the queue through publish, oldest first. Rows whose
// publish fails are kept, in order, for the next drain. The returned count
// is how many rows published successfully.
func (q *LogQueue) DequeueAll(publish func(Row) error) (int, error) {
	q.mu.Lock()
	pending := q.rows
	q.rows = nil
	q.mu.Unlock()

	var failed []Row
	published := 0
	for _, row := range pending {
		if err := publish(row); err != nil {
			q.logger.Warn("row publish failed, re-queueing",
				"meeting", row.MeetingName, "error", err)
			failed = append(failed, row)
			continue
		}
		published++
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	// Rows enqueued during the drain stay behind the re-queued failures.
	q.rows = append(failed, q.rows...)
	if err := q.store.Save(q.path, q.rows); err != nil {
		return published, fmt.Errorf("persisting log queue: %w", err)
	}
	return published, nil
}

// Len reports how many rows are waiting.
func (q *LogQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.rows)
}

// PendingFiles is the in-memory list of recordings detected while offline.
// It is deliberately not persisted: on restart the startup directory scan
// rediscovers anything still on disk.
type PendingFiles struct {
	mu    sync.Mutex
	paths []string
	seen  map[string]bool
}

// NewPendingFiles returns an empty list.
func NewPendingFiles() *PendingFiles {
	return &PendingFiles{seen: make(map[string]bool)}
}

// Add records a path once; duplicates are ignored.
func (p *PendingFiles) Add(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[path] {
		return
	}
	p.seen[path] = true
	p.paths = append(p.paths, path)
}

// Drain empties the list and returns the paths in arrival order.
func (p *PendingFiles) Drain() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.paths
	p.paths = nil
	p.seen = make(map[string]bool)
	return out
}

// Len reports how many paths are waiting.
func (p *PendingFiles) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}
