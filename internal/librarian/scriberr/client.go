// Package scriberr talks to a Scriberr transcription server.
package scriberr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout covers uploads of long recordings.
const DefaultTimeout = 10 * time.Minute

// API is the transcription server surface the pipeline needs.
type API interface {
	Upload(ctx context.Context, videoPath, title string) (string, error)
	Start(ctx context.Context, jobID string, params StartParams) error
	Status(ctx context.Context, jobID string) (JobStatus, error)
	Transcript(ctx context.Context, jobID string) (*Transcript, error)
	UpdateSpeakers(ctx context.Context, jobID string, mappings map[string]string) error
	Cancel(ctx context.Context, jobID string) error
	JobURL(jobID string) string
}

// StartParams selects the compute profile for one transcription run. Zero
// values fall back to the server-side GPU defaults.
type StartParams struct {
	Device      string
	ComputeType string
	BatchSize   int
	Language    string
}

// CPUFallback is the low-memory profile used after a GPU out-of-memory
// failure.
func CPUFallback(language string) StartParams {
	return StartParams{
		Device:      "cpu",
		ComputeType: "int8",
		BatchSize:   1,
		Language:    language,
	}
}

// JobStatus is one poll of a transcription job.
type JobStatus struct {
	State string `json:"status"`
	Error string `json:"error_message"`
}

// Job states reported by the server.
const (
	StateUploaded   = "uploaded"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Terminal reports whether the job will make no further progress.
func (s JobStatus) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// StatusError carries the HTTP status of a failed API call so callers can
// decide whether to retry.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: status %d: %s", e.Status, e.Body)
}

// Client implements API over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	webURL     string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithWebURL sets the base for human-facing job links when it differs from
// the API address.
func WithWebURL(url string) Option {
	return func(c *Client) { c.webURL = strings.TrimRight(url, "/") }
}

// NewClient creates a Scriberr client.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL: base,
		apiKey:  apiKey,
		webURL:  base,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Upload sends the recording and returns the new job ID.
func (c *Client) Upload(ctx context.Context, videoPath, title string) (string, error) {
	file, err := os.Open(videoPath)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(videoPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy recording data: %w", err)
	}
	if err := writer.WriteField("title", title); err != nil {
		return "", fmt.Errorf("write title field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/transcription/upload-video", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.auth(req)

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := c.do(req, &uploaded); err != nil {
		return "", err
	}
	if uploaded.ID == "" {
		return "", fmt.Errorf("upload response missing job id")
	}
	return uploaded.ID, nil
}

// startPayload is the full WhisperX parameter set the server expects. The
// pipeline only varies device, compute type, batch size and language.
type startPayload struct {
	Device           string  `json:"device"`
	ComputeType      string  `json:"compute_type"`
	BatchSize        int     `json:"batch_size"`
	Language         string  `json:"language,omitempty"`
	ModelSize        string  `json:"model_size"`
	Diarize          bool    `json:"diarize"`
	AlignOutput      bool    `json:"align_output"`
	VadOnset         float64 `json:"vad_onset"`
	VadOffset        float64 `json:"vad_offset"`
	ChunkSize        int     `json:"chunk_size"`
	ReturnCharAligns bool    `json:"return_char_alignments"`
}

// Start begins transcription of an uploaded job.
func (c *Client) Start(ctx context.Context, jobID string, params StartParams) error {
	payload := startPayload{
		Device:      "cuda",
		ComputeType: "float32",
		BatchSize:   4,
		ModelSize:   "large-v3",
		Diarize:     true,
		AlignOutput: true,
		VadOnset:    0.5,
		VadOffset:   0.363,
		ChunkSize:   30,
	}
	if params.Device != "" {
		payload.Device = params.Device
	}
	if params.ComputeType != "" {
		payload.ComputeType = params.ComputeType
	}
	if params.BatchSize > 0 {
		payload.BatchSize = params.BatchSize
	}
	if params.Language != "" && params.Language != "auto" {
		payload.Language = params.Language
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode start payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/v1/transcription/%s/start", c.baseURL, jobID),
		bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	return c.do(req, nil)
}

// Status polls the job state.
func (c *Client) Status(ctx context.Context, jobID string) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/transcription/%s/status", c.baseURL, jobID), nil)
	if err != nil {
		return JobStatus{}, fmt.Errorf("create request: %w", err)
	}
	c.auth(req)

	var status JobStatus
	if err := c.do(req, &status); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}

// Transcript fetches the finished transcript for a job.
func (c *Client) Transcript(ctx context.Context, jobID string) (*Transcript, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/transcription/%s/transcript", c.baseURL, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: clip(data)}
	}
	return DecodeTranscript(data)
}

// UpdateSpeakers pushes final speaker names back to the server.
func (c *Client) UpdateSpeakers(ctx context.Context, jobID string, mappings map[string]string) error {
	type mapping struct {
		OriginalSpeaker string `json:"original_speaker"`
		CustomName      string `json:"custom_name"`
	}
	payload := struct {
		Mappings []mapping `json:"mappings"`
	}{}
	for original, name := range mappings {
		payload.Mappings = append(payload.Mappings, mapping{
			OriginalSpeaker: original,
			CustomName:      name,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode speaker mappings: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/v1/transcription/%s/speakers", c.baseURL, jobID),
		bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	return c.do(req, nil)
}

// Cancel aborts a running job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/v1/transcription/%s/cancel", c.baseURL, jobID), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.auth(req)

	return c.do(req, nil)
}

// JobURL returns the human-facing link for a job.
func (c *Client) JobURL(jobID string) string {
	return fmt.Sprintf("%s/transcription/%s", c.webURL, jobID)
}

func (c *Client) auth(req *http.Request) {
	req.Header.Set("X-API-Key", c.apiKey)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: clip(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse JSON response: %w", err)
	}
	return nil
}

func clip(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
