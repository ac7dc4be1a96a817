package scriberr

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AlekZo/ai-meeting-librarian/internal/logging"
)

// fakeAPI scripts job outcomes per upload.
type fakeAPI struct {
	mu       sync.Mutex
	uploads  int
	starts   []StartParams
	statuses []JobStatus // one per upload, returned after one poll
	result   *Transcript
}

func (f *fakeAPI) Upload(ctx context.Context, videoPath, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return "job-" + title, nil
}

func (f *fakeAPI) Start(ctx context.Context, jobID string, params StartParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, params)
	return nil
}

func (f *fakeAPI) Status(ctx context.Context, jobID string) (JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.starts) - 1
	if i < len(f.statuses) {
		return f.statuses[i], nil
	}
	return JobStatus{State: StateCompleted}, nil
}

func (f *fakeAPI) Transcript(ctx context.Context, jobID string) (*Transcript, error) {
	if f.result != nil {
		return f.result, nil
	}
	return &Transcript{}, nil
}

func (f *fakeAPI) UpdateSpeakers(ctx context.Context, jobID string, mappings map[string]string) error {
	return nil
}

func (f *fakeAPI) Cancel(ctx context.Context, jobID string) error { return nil }

func (f *fakeAPI) JobURL(jobID string) string { return "http://scriberr.local/transcription/" + jobID }

func runMonitor(t *testing.T, api API, hooks Hooks, opts ...MonitorOption) (*Monitor, context.CancelFunc) {
	t.Helper()
	base := []MonitorOption{
		WithPollInterval(time.Millisecond),
		WithMonitorLogger(logging.Nop()),
	}
	m := NewMonitor(api, hooks, append(base, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	return m, cancel
}

func TestMonitor_CompletedJobDeliversTranscript(t *testing.T) {
	api := &fakeAPI{
		statuses: []JobStatus{{State: StateCompleted}},
		result:   &Transcript{Segments: []Segment{{Speaker: "SPEAKER_00", Text: "hi"}}},
	}

	done := make(chan *Transcript, 1)
	m, cancel := runMonitor(t, api, Hooks{
		OnCompleted: func(job Job, jobID string, tr *Transcript) { done <- tr },
	})
	defer cancel()

	if err := m.Enqueue(Job{VideoPath: "/v/rec.mp4", Title: "sync"}); err != nil {
		t.Fatal(err)
	}

	select {
	case tr := <-done:
		if len(tr.Segments) != 1 {
			t.Fatalf("segments = %d", len(tr.Segments))
		}
		if tr.JobID != "job-sync" {
			t.Fatalf("JobID = %q", tr.JobID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("completion hook never fired")
	}
}

func TestMonitor_OOMRetriesOnceOnCPU(t *testing.T) {
	api := &fakeAPI{
		statuses: []JobStatus{
			{State: StateFailed, Error: "CUDA out of memory"},
			{State: StateCompleted},
		},
	}

	done := make(chan string, 1)
	m, cancel := runMonitor(t, api, Hooks{
		OnCompleted: func(job Job, jobID string, tr *Transcript) { done <- jobID },
	})
	defer cancel()

	if err := m.Enqueue(Job{VideoPath: "/v/long.mp4", Title: "allhands"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retry never completed")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.uploads != 2 {
		t.Fatalf("uploads = %d, want 2", api.uploads)
	}
	retry := api.starts[1]
	if retry.Device != "cpu" || retry.ComputeType != "int8" || retry.BatchSize != 1 {
		t.Fatalf("retry params = %+v, want CPU fallback", retry)
	}
}

func TestMonitor_RepeatedOOMFails(t *testing.T) {
	api := &fakeAPI{
		statuses: []JobStatus{
			{State: StateFailed, Error: "CUDA out of memory"},
			{State: StateFailed, Error: "CUDA out of memory"},
		},
	}

	failed := make(chan string, 1)
	m, cancel := runMonitor(t, api, Hooks{
		OnFailed: func(job Job, jobID, reason string) { failed <- reason },
	})
	defer cancel()

	if err := m.Enqueue(Job{VideoPath: "/v/huge.mp4", Title: "offsite"}); err != nil {
		t.Fatal(err)
	}

	select {
	case reason := <-failed:
		if !IsOutOfMemory(reason) {
			t.Fatalf("reason = %q", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("failure hook never fired")
	}
}

func TestMonitor_WritesUploadLog(t *testing.T) {
	logDir := t.TempDir()
	api := &fakeAPI{statuses: []JobStatus{{State: StateCompleted}}}

	done := make(chan struct{}, 1)
	m, cancel := runMonitor(t, api, Hooks{
		OnCompleted: func(Job, string, *Transcript) { done <- struct{}{} },
	}, WithUploadLogDir(logDir))
	defer cancel()

	if err := m.Enqueue(Job{VideoPath: "/v/standup 2026-01-22.mp4", Title: "standup"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job never completed")
	}

	data, err := os.ReadFile(filepath.Join(logDir, "standup 2026-01-22.upload.json"))
	if err != nil {
		t.Fatal(err)
	}
	var record struct {
		JobID  string `json:"job_id"`
		JobURL string `json:"job_url"`
	}
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatal(err)
	}
	if record.JobID != "job-standup" || record.JobURL == "" {
		t.Fatalf("record = %+v", record)
	}
}
