package librarian

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/calendar"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/callback"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/journal"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/processed"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/queue"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/renamer"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/scriberr"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/speakers"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/telegram"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/timestamp"
	"github.com/AlekZo/ai-meeting-librarian/internal/logging"
)

type journalStore struct{}

func (journalStore) Save(path string, v any) error { return journal.Save(path, v) }
func (journalStore) Load(path string, v any) error { return journal.Load(path, v) }

// fakeBot records every outgoing message.
type fakeBot struct {
	telegram.Bot
	mu        sync.Mutex
	messages  []string
	keyboards [][][]telegram.Button
	nextID    int64
}

func (b *fakeBot) SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]telegram.Button) (*telegram.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, text)
	b.keyboards = append(b.keyboards, keyboard)
	b.nextID++
	return &telegram.Message{MessageID: b.nextID, Chat: telegram.Chat{ID: chatID}}, nil
}

func (b *fakeBot) SendForceReply(ctx context.Context, chatID int64, text string) (*telegram.Message, error) {
	return b.SendMessage(ctx, chatID, text, nil)
}

func (b *fakeBot) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (b *fakeBot) EditReplyMarkup(ctx context.Context, chatID, messageID int64, kb [][]telegram.Button) error {
	return nil
}

func (b *fakeBot) SendDocument(ctx context.Context, chatID int64, filename string, content io.Reader, caption string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, "document:"+filename)
	return nil
}

func (b *fakeBot) lastKeyboard() [][]telegram.Button {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.keyboards) - 1; i >= 0; i-- {
		if len(b.keyboards[i]) > 0 {
			return b.keyboards[i]
		}
	}
	return nil
}

func (b *fakeBot) messageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

type fakeMatcher struct {
	meetings    []calendar.Meeting
	dayFallback bool
	err         error
}

func (f *fakeMatcher) Match(ctx context.Context, ts timestamp.Parsed) ([]calendar.Meeting, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return f.meetings, f.dayFallback, nil
}

type instantReadiness struct{}

func (instantReadiness) Wait(ctx context.Context, path string) bool { return true }

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

type fakeTranscriber struct {
	mu   sync.Mutex
	jobs []scriberr.Job
}

func (f *fakeTranscriber) Enqueue(job scriberr.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

// fakeScriberrAPI serves a canned transcript and records cancellations
// and speaker pushes.
type fakeScriberrAPI struct {
	mu         sync.Mutex
	transcript *scriberr.Transcript
	cancelled  []string
	pushes     []map[string]string
}

func (f *fakeScriberrAPI) Upload(ctx context.Context, videoPath, title string) (string, error) {
	return "job-1", nil
}

func (f *fakeScriberrAPI) Start(ctx context.Context, jobID string, params scriberr.StartParams) error {
	return nil
}

func (f *fakeScriberrAPI) Status(ctx context.Context, jobID string) (scriberr.JobStatus, error) {
	return scriberr.JobStatus{}, nil
}

func (f *fakeScriberrAPI) Transcript(ctx context.Context, jobID string) (*scriberr.Transcript, error) {
	return f.transcript, nil
}

func (f *fakeScriberrAPI) UpdateSpeakers(ctx context.Context, jobID string, mappings map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, mappings)
	return nil
}

func (f *fakeScriberrAPI) Cancel(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeScriberrAPI) JobURL(jobID string) string {
	return "http://scriberr.local/jobs/" + jobID
}

// testEnv groups a Service built over real movers, registries and queues
// on a temp directory with fake externals.
type testEnv struct {
	svc      *Service
	bot      *fakeBot
	matcher  *fakeMatcher
	trans    *fakeTranscriber
	scriberr *fakeScriberrAPI
	watchDir string
	outDir   string
	stateDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	stateDir := t.TempDir()

	registry, err := callback.NewRegistry(filepath.Join(stateDir, "callbacks.json"), journalStore{}, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	logQueue, err := queue.NewLogQueue(filepath.Join(stateDir, "queue.json"), journalStore{}, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := processed.NewLedger(filepath.Join(stateDir, "processed.json"), journalStore{})
	if err != nil {
		t.Fatal(err)
	}
	negotiator, err := speakers.NewNegotiator(filepath.Join(stateDir, "speakers.json"), journalStore{})
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		bot:     &fakeBot{},
		matcher: &fakeMatcher{},
		trans:   &fakeTranscriber{},
		scriberr: &fakeScriberrAPI{transcript: &scriberr.Transcript{Segments: []scriberr.Segment{
			{Speaker: "SPEAKER_00", Text: "hello"},
			{Speaker: "SPEAKER_01", Text: "hi there"},
		}}},
		watchDir: t.TempDir(),
		outDir:   t.TempDir(),
		stateDir: stateDir,
	}

	cfg := &Config{
		WatchDir:       env.watchDir,
		OutputDir:      env.outDir,
		ScriberrURL:    "http://scriberr.local",
		TelegramToken:  "tok",
		TelegramChatID: 1,
	}
	cfg.ApplyDefaults()

	env.svc = NewService(cfg, Deps{
		Readiness:    instantReadiness{},
		Matcher:      env.matcher,
		Mover:        renamer.NewMover(renamer.WithAttempts(1), renamer.WithLogger(logging.Nop())),
		Bot:          env.bot,
		Registry:     registry,
		Transcriber:  env.trans,
		Scriberr:     env.scriberr,
		Negotiator:   negotiator,
		LogQueue:     logQueue,
		Pending:      queue.NewPendingFiles(),
		Processed:    ledger,
		Connectivity: alwaysOnline{},
	}, logging.Nop())
	return env
}

func (e *testEnv) addRecording(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.watchDir, name)
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (e *testEnv) outputFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.outDir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func meeting(title, start, end string) calendar.Meeting {
	s, _ := time.Parse(time.RFC3339, start)
	e, _ := time.Parse(time.RFC3339, end)
	return calendar.Meeting{ID: "evt-" + title, Title: title, Start: s, End: e}
}

func TestProcessFile_SingleMatchRenamesWithoutPrompt(t *testing.T) {
	env := newTestEnv(t)
	env.matcher.meetings = []calendar.Meeting{
		meeting("Design Review", "2026-01-22T14:00:00Z", "2026-01-22T15:00:00Z"),
	}
	path := env.addRecording(t, "zoom_2026-01-22_14-26-31.mp4")

	env.svc.processFile(context.Background(), path)

	files := env.outputFiles(t)
	if len(files) != 1 || files[0] != "Design Review_2026-01-22_14-26-31.mp4" {
		t.Fatalf("output = %v", files)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("original still in watch dir")
	}

	// The only message is the transcribe offer, never a selection prompt.
	env.bot.mu.Lock()
	defer env.bot.mu.Unlock()
	if len(env.bot.messages) != 1 || !strings.Contains(env.bot.messages[0], "Transcribe it?") {
		t.Fatalf("messages = %v", env.bot.messages)
	}
}

func TestProcessFile_NoMatchPromptsWithoutRenaming(t *testing.T) {
	env := newTestEnv(t)
	path := env.addRecording(t, "zoom_2026-01-22_14-26-31.mp4")

	env.svc.processFile(context.Background(), path)

	if files := env.outputFiles(t); len(files) != 0 {
		t.Fatalf("nothing should be moved, output = %v", files)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("file should stay in watch dir until the user decides")
	}

	kb := env.bot.lastKeyboard()
	if kb == nil {
		t.Fatal("no keyboard sent")
	}
	var texts []string
	for _, row := range kb {
		for _, b := range row {
			texts = append(texts, b.Text)
		}
	}
	joined := strings.Join(texts, "|")
	for _, want := range []string{"Keep name", "Rename", "Retry", "Skip"} {
		if !strings.Contains(joined, want) {
			t.Errorf("keyboard missing %q: %v", want, texts)
		}
	}
}

func TestProcessFile_MultipleMatchesOfferSelection(t *testing.T) {
	env := newTestEnv(t)
	env.matcher.meetings = []calendar.Meeting{
		meeting("Design Review", "2026-01-22T14:00:00Z", "2026-01-22T15:00:00Z"),
		meeting("Platform Sync", "2026-01-22T14:00:00Z", "2026-01-22T15:00:00Z"),
	}
	path := env.addRecording(t, "zoom_2026-01-22_14-26-31.mp4")

	env.svc.processFile(context.Background(), path)

	if _, err := os.Stat(path); err != nil {
		t.Fatal("file must not move before selection")
	}
	kb := env.bot.lastKeyboard()
	if len(kb) < 3 {
		t.Fatalf("keyboard = %v", kb)
	}
	if !strings.Contains(kb[0][0].Text, "Design Review") {
		t.Errorf("first button = %q", kb[0][0].Text)
	}
}

func TestProcessFile_NoActiveMeetingOffersDaysList(t *testing.T) {
	env := newTestEnv(t)
	// The day's only meeting ended hours before the recording started.
	env.matcher.meetings = []calendar.Meeting{
		meeting("Weekly Sync", "2026-01-22T10:00:00Z", "2026-01-22T11:00:00Z"),
	}
	env.matcher.dayFallback = true
	path := env.addRecording(t, "zoom_2026-01-22_20-00-00.mp4")

	env.svc.processFile(context.Background(), path)

	// Even a single fallback candidate must go through selection, never
	// an automatic rename.
	if files := env.outputFiles(t); len(files) != 0 {
		t.Fatalf("nothing should be moved, output = %v", files)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal("file must stay put until the user picks a meeting")
	}
	kb := env.bot.lastKeyboard()
	if kb == nil || !strings.Contains(kb[0][0].Text, "Weekly Sync") {
		t.Fatalf("keyboard = %v, want the day's meeting offered", kb)
	}
	env.bot.mu.Lock()
	defer env.bot.mu.Unlock()
	if last := env.bot.messages[len(env.bot.messages)-1]; !strings.Contains(last, "No meeting was running") {
		t.Errorf("message = %q", last)
	}
}

func TestCallback_RetryRerunsMatching(t *testing.T) {
	env := newTestEnv(t)
	path := env.addRecording(t, "zoom_2026-01-22_14-26-31.mp4")
	env.svc.processFile(context.Background(), path)

	kb := env.bot.lastKeyboard()
	var retryToken string
	for _, row := range kb {
		for _, b := range row {
			if strings.Contains(b.Text, "Retry") {
				retryToken = b.Data
			}
		}
	}
	if retryToken == "" {
		t.Fatalf("no retry button in %v", kb)
	}

	// The calendar has caught up by the time the user retries.
	env.matcher.meetings = []calendar.Meeting{
		meeting("Design Review", "2026-01-22T14:00:00Z", "2026-01-22T15:00:00Z"),
	}
	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{ID: "cb", Data: retryToken})

	files := env.outputFiles(t)
	if len(files) != 1 || files[0] != "Design Review_2026-01-22_14-26-31.mp4" {
		t.Fatalf("output = %v", files)
	}
}

func TestCallback_SelectRenamesAfterRestart(t *testing.T) {
	env := newTestEnv(t)
	env.matcher.meetings = []calendar.Meeting{
		meeting("Design Review", "2026-01-22T14:00:00Z", "2026-01-22T15:00:00Z"),
		meeting("Platform Sync", "2026-01-22T14:00:00Z", "2026-01-22T15:00:00Z"),
	}
	path := env.addRecording(t, "zoom_2026-01-22_14-26-31.mp4")
	env.svc.processFile(context.Background(), path)

	token := env.bot.lastKeyboard()[1][0].Data // Platform Sync

	// A new registry over the same state file stands in for a restart.
	registry2, err := callback.NewRegistry(
		filepath.Join(env.stateDir, "callbacks.json"), journalStore{}, logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	env.svc.deps.Registry = registry2

	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{
		ID:   "cb-1",
		Data: token,
		Message: &telegram.Message{
			MessageID: 1,
			Chat:      telegram.Chat{ID: 1},
		},
	})

	files := env.outputFiles(t)
	if len(files) != 1 || files[0] != "Platform Sync_2026-01-22_14-26-31.mp4" {
		t.Fatalf("output = %v", files)
	}
}

func TestCallback_TranscribeEnqueuesJob(t *testing.T) {
	env := newTestEnv(t)
	env.matcher.meetings = []calendar.Meeting{
		meeting("Design Review", "2026-01-22T14:00:00Z", "2026-01-22T15:00:00Z"),
	}
	path := env.addRecording(t, "zoom_2026-01-22_14-26-31.mp4")
	env.svc.processFile(context.Background(), path)

	kb := env.bot.lastKeyboard()
	var token string
	for _, row := range kb {
		for _, b := range row {
			if b.Text == "📝 Transcribe" {
				token = b.Data
			}
		}
	}
	if token == "" {
		t.Fatalf("no transcribe button in %v", kb)
	}

	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{ID: "cb", Data: token})

	env.trans.mu.Lock()
	defer env.trans.mu.Unlock()
	if len(env.trans.jobs) != 1 {
		t.Fatalf("jobs = %v", env.trans.jobs)
	}
	job := env.trans.jobs[0]
	if job.Title != "Design Review" {
		t.Errorf("Title = %q", job.Title)
	}
	if !strings.HasSuffix(job.VideoPath, "Design Review_2026-01-22_14-26-31.mp4") {
		t.Errorf("VideoPath = %q", job.VideoPath)
	}
}

func TestCallback_ExpiredTokenIsHarmless(t *testing.T) {
	env := newTestEnv(t)
	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{
		ID:   "cb",
		Data: "select_123_deadbeef",
	})
	if env.bot.messageCount() != 0 {
		t.Fatalf("messages = %v", env.bot.messages)
	}
}

func TestProcessFile_AlreadyProcessedIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	path := env.addRecording(t, "zoom_2026-01-22_14-26-31.mp4")
	info, _ := os.Stat(path)
	if err := env.svc.deps.Processed.Mark(path, info.Size(), info.ModTime()); err != nil {
		t.Fatal(err)
	}

	env.svc.processFile(context.Background(), path)

	if env.bot.messageCount() != 0 {
		t.Fatalf("processed file triggered messages: %v", env.bot.messages)
	}
}

func TestHandleText_ManualRenameFlow(t *testing.T) {
	env := newTestEnv(t)
	path := env.addRecording(t, "noname.mp4")
	env.svc.processFile(context.Background(), path)

	// Press the rename button.
	kb := env.bot.lastKeyboard()
	var renameToken string
	for _, row := range kb {
		for _, b := range row {
			if strings.Contains(b.Text, "Rename") {
				renameToken = b.Data
			}
		}
	}
	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{ID: "cb", Data: renameToken})

	// The force-reply prompt is the latest message.
	env.bot.mu.Lock()
	promptID := env.bot.nextID
	env.bot.mu.Unlock()

	env.svc.HandleText(context.Background(), telegram.Message{
		Text:    "Weekly All Hands",
		Chat:    telegram.Chat{ID: 1},
		ReplyTo: &telegram.Message{MessageID: promptID},
	})

	// Confirm the rename.
	kb = env.bot.lastKeyboard()
	var confirmToken string
	for _, row := range kb {
		for _, b := range row {
			if strings.Contains(b.Text, "✅") {
				confirmToken = b.Data
			}
		}
	}
	if confirmToken == "" {
		t.Fatalf("no confirm button: %v", kb)
	}
	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{ID: "cb2", Data: confirmToken})

	files := env.outputFiles(t)
	if len(files) != 1 || files[0] != "Weekly All Hands.mp4" {
		t.Fatalf("output = %v", files)
	}
}

func TestHandleText_SpeakerNameNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.svc.deps.Registry.Allocate(callback.Action{
		Kind:         callback.KindAssignSpeaker,
		Path:         "/library/Design Review.mp4",
		JobID:        "job-1",
		SpeakerLabel: "SPEAKER_00",
		NewBaseName:  "Design Review",
	})
	if err != nil {
		t.Fatal(err)
	}

	// Press the per-speaker edit button and reply with a name.
	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{ID: "cb", Data: token})
	env.bot.mu.Lock()
	promptID := env.bot.nextID
	env.bot.mu.Unlock()
	env.svc.HandleText(context.Background(), telegram.Message{
		Text:    "Alice",
		Chat:    telegram.Chat{ID: 1},
		ReplyTo: &telegram.Message{MessageID: promptID},
	})

	// The typed name is staged, not committed.
	names := env.svc.deps.Negotiator.Effective("job-1", []string{"SPEAKER_00"})
	if names["SPEAKER_00"] != "SPEAKER_00" {
		t.Fatalf("name committed before confirmation: %v", names)
	}
	env.bot.mu.Lock()
	confirmMsg := env.bot.messages[len(env.bot.messages)-1]
	env.bot.mu.Unlock()
	if !strings.Contains(confirmMsg, "Rename SPEAKER_00 to Alice?") {
		t.Fatalf("confirmation message = %q", confirmMsg)
	}

	kb := env.bot.lastKeyboard()
	var yesToken string
	for _, row := range kb {
		for _, b := range row {
			if strings.Contains(b.Text, "Yes") {
				yesToken = b.Data
			}
		}
	}
	if yesToken == "" {
		t.Fatalf("no confirm button in %v", kb)
	}
	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{ID: "cb2", Data: yesToken})

	names = env.svc.deps.Negotiator.Effective("job-1", []string{"SPEAKER_00"})
	if names["SPEAKER_00"] != "Alice" {
		t.Fatalf("names after confirmation = %v", names)
	}
	env.scriberr.mu.Lock()
	defer env.scriberr.mu.Unlock()
	if len(env.scriberr.pushes) == 0 {
		t.Fatal("confirmed name was not pushed to the transcription server")
	}
}

func TestCallback_GiveUpCancelsTranscriptionJob(t *testing.T) {
	env := newTestEnv(t)
	job := scriberr.Job{VideoPath: "/library/a.mp4", Title: "a", Language: "en"}
	env.svc.OnTranscriptFailed(context.Background(), job, "job-9", "worker crashed")

	kb := env.bot.lastKeyboard()
	var giveUpToken string
	for _, row := range kb {
		for _, b := range row {
			if strings.Contains(b.Text, "Give up") {
				giveUpToken = b.Data
			}
		}
	}
	if giveUpToken == "" {
		t.Fatalf("no give-up button in %v", kb)
	}
	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{ID: "cb", Data: giveUpToken})

	env.scriberr.mu.Lock()
	defer env.scriberr.mu.Unlock()
	if len(env.scriberr.cancelled) != 1 || env.scriberr.cancelled[0] != "job-9" {
		t.Fatalf("cancelled = %v, want [job-9]", env.scriberr.cancelled)
	}
}

func TestCallback_RetryTranscribeKeepsLanguage(t *testing.T) {
	env := newTestEnv(t)
	job := scriberr.Job{VideoPath: "/library/a.mp4", Title: "a", Language: "ru"}
	env.svc.OnTranscriptFailed(context.Background(), job, "job-9", "worker crashed")

	kb := env.bot.lastKeyboard()
	var retryToken string
	for _, row := range kb {
		for _, b := range row {
			if strings.Contains(b.Text, "Retry") {
				retryToken = b.Data
			}
		}
	}
	env.svc.HandleCallback(context.Background(), telegram.CallbackQuery{ID: "cb", Data: retryToken})

	env.trans.mu.Lock()
	defer env.trans.mu.Unlock()
	if len(env.trans.jobs) != 1 || env.trans.jobs[0].Language != "ru" {
		t.Fatalf("jobs = %v", env.trans.jobs)
	}
}
