package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AlekZo/ai-meeting-librarian/internal/logging"
)

type staticTokens struct{}

func (staticTokens) Token(ctx context.Context) (string, error) { return "tok", nil }
func (staticTokens) Invalidate()                               {}

func newTestClient(serverURL string, opts ...Option) *Client {
	base := []Option{
		WithEndpoints(serverURL, serverURL, serverURL),
		WithLogger(logging.Nop()),
	}
	return NewClient("sheet-1", staticTokens{}, append(base, opts...)...)
}

func TestAppendRow(t *testing.T) {
	var gotPath string
	var gotBody map[string][][]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	err := newTestClient(server.URL).AppendRow(context.Background(),
		MeetingLogTab, []string{"2026-01-22 14:26", "Design Review"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotPath, "/spreadsheets/sheet-1/values/Meeting_Log:append") {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["values"][0][1] != "Design Review" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestReadConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "Project_Config!A2:B") {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"values": [["platform", "Core platform work"], ["", "orphan description"], ["hiring"]]}`))
	}))
	defer server.Close()

	entries, err := newTestClient(server.URL).ReadConfig(context.Background(), ProjectsTab)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Name != "platform" || entries[0].Description != "Core platform work" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].Name != "hiring" || entries[1].Description != "" {
		t.Errorf("entries[1] = %+v", entries[1])
	}
}

func TestEnsureTabs_CreatesMissingOnly(t *testing.T) {
	var batchUpdates, appends []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/spreadsheets/sheet-1"):
			w.Write([]byte(`{"sheets": [{"properties": {"title": "Meeting_Log"}}]}`))
		case strings.Contains(r.URL.Path, ":batchUpdate"):
			body, _ := io.ReadAll(r.Body)
			batchUpdates = append(batchUpdates, string(body))
			w.Write([]byte(`{}`))
		case strings.Contains(r.URL.Path, ":append"):
			appends = append(appends, r.URL.Path)
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s", r.URL)
		}
	}))
	defer server.Close()

	if err := newTestClient(server.URL).EnsureTabs(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(batchUpdates) != 2 {
		t.Fatalf("batchUpdates = %d, want Project_Config and Meeting_Types only", len(batchUpdates))
	}
	for _, b := range batchUpdates {
		if strings.Contains(b, "Meeting_Log") {
			t.Error("existing tab recreated")
		}
	}
	if len(appends) != 2 {
		t.Fatalf("header appends = %d, want 2", len(appends))
	}
}

func TestUploadTranscriptDoc(t *testing.T) {
	var permBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/files") && strings.Contains(r.URL.RawQuery, "uploadType=multipart"):
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "multipart/related") {
				t.Errorf("Content-Type = %q", ct)
			}
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), "application/vnd.google-apps.document") {
				t.Error("doc conversion mime type missing")
			}
			if !strings.Contains(string(body), "Alice: hello") {
				t.Error("transcript text missing")
			}
			w.Write([]byte(`{"id": "doc-1", "webViewLink": "https://docs.google.com/document/d/doc-1/view"}`))
		case strings.Contains(r.URL.Path, "/files/doc-1/permissions"):
			json.NewDecoder(r.Body).Decode(&permBody)
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s", r.URL)
		}
	}))
	defer server.Close()

	link, err := newTestClient(server.URL).UploadTranscriptDoc(context.Background(),
		"Design Review transcript", "[00:01] Alice: hello")
	if err != nil {
		t.Fatal(err)
	}
	if link != "https://docs.google.com/document/d/doc-1/view" {
		t.Fatalf("link = %q", link)
	}
	if permBody["role"] != "reader" || permBody["type"] != "anyone" {
		t.Fatalf("permission = %v", permBody)
	}
}
