// Package sheets publishes meeting rows to Google Sheets and transcripts
// to Google Drive.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MeetingLogHeaders is the column layout of the meeting log tab.
var MeetingLogHeaders = []string{
	"Date & Time", "Meeting Name", "Project Tag", "Video Source Link",
	"Scribber Link", "Transcript Drive Link", "Status", "Meeting Type", "Summary",
}

// Tab names the pipeline maintains in the spreadsheet.
const (
	MeetingLogTab   = "Meeting_Log"
	ProjectsTab     = "Project_Config"
	MeetingTypesTab = "Meeting_Types"
)

// ConfigEntry is one row of a config tab: a name and its description.
type ConfigEntry struct {
	Name        string
	Description string
}

// Publisher is the spreadsheet surface the pipeline needs.
type Publisher interface {
	AppendRow(ctx context.Context, tab string, cells []string) error
	ReadConfig(ctx context.Context, tab string) ([]ConfigEntry, error)
	EnsureTabs(ctx context.Context) error
	UploadTranscriptDoc(ctx context.Context, title, text string) (string, error)
}

// TokenSource supplies bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

const (
	defaultSheetsURL = "https://sheets.googleapis.com/v4"
	defaultDriveURL  = "https://www.googleapis.com/upload/drive/v3"
	defaultDriveMeta = "https://www.googleapis.com/drive/v3"
)

// Client implements Publisher over the Sheets and Drive REST APIs.
type Client struct {
	sheetsURL     string
	driveURL      string
	driveMetaURL  string
	spreadsheetID string
	driveFolderID string
	tokens        TokenSource
	httpClient    *http.Client
	logger        *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithEndpoints overrides the API endpoints, for tests.
func WithEndpoints(sheetsURL, driveURL, driveMetaURL string) Option {
	return func(c *Client) {
		c.sheetsURL = strings.TrimRight(sheetsURL, "/")
		c.driveURL = strings.TrimRight(driveURL, "/")
		c.driveMetaURL = strings.TrimRight(driveMetaURL, "/")
	}
}

// WithDriveFolder places uploaded transcripts in the given folder.
func WithDriveFolder(folderID string) Option {
	return func(c *Client) { c.driveFolderID = folderID }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Publisher for the given spreadsheet.
func NewClient(spreadsheetID string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		sheetsURL:     defaultSheetsURL,
		driveURL:      defaultDriveURL,
		driveMetaURL:  defaultDriveMeta,
		spreadsheetID: spreadsheetID,
		tokens:        tokens,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AppendRow appends one row to a tab.
func (c *Client) AppendRow(ctx context.Context, tab string, cells []string) error {
	values := make([]any, len(cells))
	for i, cell := range cells {
		values[i] = cell
	}
	payload := map[string]any{"values": [][]any{values}}

	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s:append?valueInputOption=USER_ENTERED",
		c.sheetsURL, c.spreadsheetID, url.PathEscape(tab))
	return c.postJSON(ctx, endpoint, payload, nil)
}

// ReadConfig reads a two-column config tab, skipping the header row and
// blank names.
func (c *Client) ReadConfig(ctx context.Context, tab string) ([]ConfigEntry, error) {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s",
		c.sheetsURL, c.spreadsheetID, url.PathEscape(tab+"!A2:B"))

	var decoded struct {
		Values [][]string `json:"values"`
	}
	if err := c.getJSON(ctx, endpoint, &decoded); err != nil {
		return nil, err
	}

	var entries []ConfigEntry
	for _, row := range decoded.Values {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		entry := ConfigEntry{Name: strings.TrimSpace(row[0])}
		if len(row) > 1 {
			entry.Description = strings.TrimSpace(row[1])
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// EnsureTabs creates the pipeline's tabs and their header rows when
// missing. Safe to run on every startup.
func (c *Client) EnsureTabs(ctx context.Context) error {
	var meta struct {
		Sheets []struct {
			Properties struct {
				Title string `json:"title"`
			} `json:"properties"`
		} `json:"sheets"`
	}
	endpoint := fmt.Sprintf("%s/spreadsheets/%s?fields=sheets.properties.title",
		c.sheetsURL, c.spreadsheetID)
	if err := c.getJSON(ctx, endpoint, &meta); err != nil {
		return fmt.Errorf("reading spreadsheet tabs: %w", err)
	}

	existing := make(map[string]bool)
	for _, sheet := range meta.Sheets {
		existing[sheet.Properties.Title] = true
	}

	wanted := []struct {
		tab     string
		headers []string
	}{
		{MeetingLogTab, MeetingLogHeaders},
		{ProjectsTab, []string{"Project Name", "Description"}},
		{MeetingTypesTab, []string{"Meeting Type", "Description"}},
	}

	for _, w := range wanted {
		if existing[w.tab] {
			continue
		}
		c.logger.Info("creating spreadsheet tab", "tab", w.tab)
		addReq := map[string]any{
			"requests": []map[string]any{{
				"addSheet": map[string]any{
					"properties": map[string]any{"title": w.tab},
				},
			}},
		}
		batchURL := fmt.Sprintf("%s/spreadsheets/%s:batchUpdate", c.sheetsURL, c.spreadsheetID)
		if err := c.postJSON(ctx, batchURL, addReq, nil); err != nil {
			return fmt.Errorf("creating tab %s: %w", w.tab, err)
		}
		if err := c.AppendRow(ctx, w.tab, w.headers); err != nil {
			return fmt.Errorf("writing headers for %s: %w", w.tab, err)
		}
	}
	return nil
}

// UploadTranscriptDoc uploads text to Drive as a Google Doc readable by
// anyone with the link, and returns that link.
func (c *Client) UploadTranscriptDoc(ctx context.Context, title, text string) (string, error) {
	meta := map[string]any{
		"name":     title,
		"mimeType": "application/vnd.google-apps.document",
	}
	if c.driveFolderID != "" {
		meta["parents"] = []string{c.driveFolderID}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encoding file metadata: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	metaPart, err := writer.CreatePart(map[string][]string{
		"Content-Type": {"application/json; charset=UTF-8"},
	})
	if err != nil {
		return "", err
	}
	metaPart.Write(metaJSON)
	textPart, err := writer.CreatePart(map[string][]string{
		"Content-Type": {"text/plain; charset=UTF-8"},
	})
	if err != nil {
		return "", err
	}
	textPart.Write([]byte(text))
	if err := writer.Close(); err != nil {
		return "", err
	}

	endpoint := c.driveURL + "/files?uploadType=multipart&fields=id,webViewLink"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())
	if err := c.authorize(ctx, req); err != nil {
		return "", err
	}

	var uploaded struct {
		ID          string `json:"id"`
		WebViewLink string `json:"webViewLink"`
	}
	if err := c.doJSON(req, &uploaded); err != nil {
		return "", fmt.Errorf("uploading transcript doc: %w", err)
	}

	// Link sharing so the spreadsheet link works without per-user grants.
	permURL := fmt.Sprintf("%s/files/%s/permissions", c.driveMetaURL, uploaded.ID)
	perm := map[string]string{"role": "reader", "type": "anyone"}
	if err := c.postJSON(ctx, permURL, perm, nil); err != nil {
		return "", fmt.Errorf("sharing transcript doc: %w", err)
	}

	if uploaded.WebViewLink != "" {
		return uploaded.WebViewLink, nil
	}
	return "https://docs.google.com/document/d/" + uploaded.ID, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("sheets auth: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if err := c.authorize(ctx, req); err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
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
		return fmt.Errorf("API error: status %d: %s", resp.StatusCode, clip(data))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func clip(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
