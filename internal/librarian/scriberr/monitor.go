package scriberr

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPollInterval is how often a running job's status is checked.
const DefaultPollInterval = 10 * time.Second

// Job is one recording queued for transcription.
type Job struct {
	VideoPath string
	Title     string
	Language  string

	// retriedOOM marks that the CPU fallback was already attempted.
	retriedOOM bool
}

// Hooks are called as jobs move through the monitor. All are optional and
// run on the monitor goroutine.
type Hooks struct {
	OnSubmitted func(job Job, jobID string)
	OnCompleted func(job Job, jobID string, t *Transcript)
	OnFailed    func(job Job, jobID string, reason string)
}

// Monitor serializes transcription: the server runs one GPU job at a time,
// so jobs queue here and run strictly one by one.
type Monitor struct {
	api      API
	hooks    Hooks
	interval time.Duration
	logDir   string
	logger   *slog.Logger

	jobs chan Job
}

// MonitorOption configures the Monitor.
type MonitorOption func(*Monitor)

// WithPollInterval sets the status poll interval.
func WithPollInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// WithUploadLogDir enables a per-recording JSON record of each submission.
func WithUploadLogDir(dir string) MonitorOption {
	return func(m *Monitor) { m.logDir = dir }
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a Monitor; call Run to start it.
func NewMonitor(api API, hooks Hooks, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		api:      api,
		hooks:    hooks,
		interval: DefaultPollInterval,
		logger:   slog.Default(),
		jobs:     make(chan Job, 100),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue adds a job to the transcription queue. It fails when the queue
// is full rather than blocking the caller.
func (m *Monitor) Enqueue(job Job) error {
	select {
	case m.jobs <- job:
		return nil
	default:
		return fmt.Errorf("transcription queue full, dropping %s", job.VideoPath)
	}
}

// Run processes jobs until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.jobs:
			m.process(ctx, job)
		}
	}
}

func (m *Monitor) process(ctx context.Context, job Job) {
	params := StartParams{Language: job.Language}
	if job.retriedOOM {
		params = CPUFallback(job.Language)
	}

	jobID, err := m.api.Upload(ctx, job.VideoPath, job.Title)
	if err != nil {
		m.logger.Error("upload failed", "path", job.VideoPath, "error", err)
		m.fail(job, "", fmt.Sprintf("upload failed: %v", err))
		return
	}
	m.logger.Info("recording uploaded", "path", job.VideoPath, "job_id", jobID)

	if err := m.api.Start(ctx, jobID, params); err != nil {
		m.logger.Error("start failed", "job_id", jobID, "error", err)
		m.fail(job, jobID, fmt.Sprintf("start failed: %v", err))
		return
	}

	m.writeUploadLog(job, jobID, params)
	if m.hooks.OnSubmitted != nil {
		m.hooks.OnSubmitted(job, jobID)
	}

	status, err := m.poll(ctx, jobID)
	if err != nil {
		m.fail(job, jobID, fmt.Sprintf("status polling failed: %v", err))
		return
	}

	switch status.State {
	case StateCompleted:
		t, err := m.api.Transcript(ctx, jobID)
		if err != nil {
			m.fail(job, jobID, fmt.Sprintf("transcript fetch failed: %v", err))
			return
		}
		t.JobID = jobID
		m.logger.Info("transcription completed",
			"job_id", jobID, "segments", len(t.Segments))
		if m.hooks.OnCompleted != nil {
			m.hooks.OnCompleted(job, jobID, t)
		}
	case StateFailed:
		if IsOutOfMemory(status.Error) && !job.retriedOOM {
			m.logger.Warn("GPU out of memory, retrying on CPU",
				"job_id", jobID, "path", job.VideoPath)
			job.retriedOOM = true
			m.process(ctx, job)
			return
		}
		m.fail(job, jobID, status.Error)
	}
}

func (m *Monitor) poll(ctx context.Context, jobID string) (JobStatus, error) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return JobStatus{}, ctx.Err()
		case <-ticker.C:
		}

		status, err := m.api.Status(ctx, jobID)
		if err != nil {
			// Transient poll failures are tolerated; the next tick retries.
			m.logger.Debug("status poll failed", "job_id", jobID, "error", err)
			continue
		}
		if status.Terminal() {
			return status, nil
		}
	}
}

func (m *Monitor) fail(job Job, jobID, reason string) {
	m.logger.Error("transcription failed",
		"path", job.VideoPath, "job_id", jobID, "reason", reason)
	if m.hooks.OnFailed != nil {
		m.hooks.OnFailed(job, jobID, reason)
	}
}

// writeUploadLog drops a small JSON record next to each submission so a
// job can be traced back to its recording after the fact.
func (m *Monitor) writeUploadLog(job Job, jobID string, params StartParams) {
	if m.logDir == "" {
		return
	}
	record := struct {
		VideoPath   string    `json:"video_path"`
		Title       string    `json:"title"`
		JobID       string    `json:"job_id"`
		JobURL      string    `json:"job_url"`
		Device      string    `json:"device,omitempty"`
		SubmittedAt time.Time `json:"submitted_at"`
	}{
		VideoPath:   job.VideoPath,
		Title:       job.Title,
		JobID:       jobID,
		JobURL:      m.api.JobURL(jobID),
		Device:      params.Device,
		SubmittedAt: time.Now(),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(m.logDir, 0o755); err != nil {
		m.logger.Warn("cannot create upload log dir", "dir", m.logDir, "error", err)
		return
	}
	name := strings.TrimSuffix(filepath.Base(job.VideoPath), filepath.Ext(job.VideoPath)) + ".upload.json"
	if err := os.WriteFile(filepath.Join(m.logDir, name), data, 0o644); err != nil {
		m.logger.Warn("cannot write upload log", "error", err)
	}
}

// oomSignatures are the error fragments the server emits when the GPU runs
// out of memory.
var oomSignatures = []string{
	"CUDA out of memory",
	"CUDA error: out of memory",
	"cuda out of memory",
	"OutOfMemoryError",
}

// IsOutOfMemory reports whether a failure message is a GPU memory
// exhaustion, which is worth one retry on CPU.
func IsOutOfMemory(message string) bool {
	for _, sig := range oomSignatures {
		if strings.Contains(message, sig) {
			return true
		}
	}
	return false
}
