package librarian

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/callback"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/llm"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/queue"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/scriberr"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/sheets"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/speakers"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/telegram"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/timestamp"
)

// OnTranscriptCompleted is the monitor hook for a finished transcription:
// run speaker identification and open the review conversation.
func (s *Service) OnTranscriptCompleted(ctx context.Context, job scriberr.Job, jobID string, t *scriberr.Transcript) {
	logger := s.logger.With("job_id", jobID)
	blocks := speakers.Clean(t)
	if len(blocks) == 0 {
		logger.Warn("transcript is empty, publishing without speakers")
		s.finalizeTranscript(ctx, jobID, job.VideoPath, job.Title)
		return
	}

	identified := false
	if s.deps.Completer != nil {
		guesses, err := speakers.Identify(ctx, s.deps.Completer, blocks)
		if err != nil {
			// Identification is best-effort; the user can still assign names.
			logger.Warn("speaker identification failed", "error", err)
		} else {
			for label, name := range guesses {
				if name != label {
					identified = true
					break
				}
			}
			if err := s.deps.Negotiator.SetAIGuesses(jobID, guesses); err != nil {
				logger.Warn("cannot store speaker guesses", "error", err)
			}
		}
	}
	if !identified {
		s.notify(ctx, "🤖 I couldn't identify any speakers automatically, please name them below.")
	}

	s.sendSpeakerMenu(ctx, jobID, job.VideoPath, job.Title)
}

// OnTranscriptFailed is the monitor hook for a failed transcription.
func (s *Service) OnTranscriptFailed(ctx context.Context, job scriberr.Job, jobID, reason string) {
	retry, err := s.deps.Registry.Allocate(callback.Action{
		Kind:        callback.KindRetryTranscribe,
		Path:        job.VideoPath,
		NewBaseName: job.Title,
		Language:    job.Language,
	})
	if err != nil {
		s.logger.Error("cannot store retry action", "error", err)
		return
	}
	skip, err := s.deps.Registry.Allocate(callback.Action{
		Kind:  callback.KindCancel,
		Path:  job.VideoPath,
		JobID: jobID,
	})
	if err != nil {
		s.logger.Error("cannot store cancel action", "error", err)
		return
	}

	text := fmt.Sprintf("❌ Transcription failed for %s:\n%s",
		filepath.Base(job.VideoPath), reason)
	keyboard := [][]telegram.Button{
		{{Text: "🔁 Retry", Data: retry}, {Text: "Give up", Data: skip}},
	}
	if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID, text, keyboard); err != nil {
		s.logger.Warn("failure notification failed", "error", err)
	}
}

// blocksFor re-fetches and cleans the transcript for a job. Fetching on
// demand keeps the speaker conversation working across restarts.
func (s *Service) blocksFor(ctx context.Context, jobID string) ([]speakers.Block, error) {
	t, err := s.deps.Scriberr.Transcript(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetching transcript %s: %w", jobID, err)
	}
	return speakers.Clean(t), nil
}

// sendSpeakerMenu shows the current speaker mapping with per-speaker edit
// buttons, a swap option, and done.
func (s *Service) sendSpeakerMenu(ctx context.Context, jobID, path, title string) {
	blocks, err := s.blocksFor(ctx, jobID)
	if err != nil {
		s.logger.Error("cannot load transcript for speaker menu", "error", err)
		return
	}
	labels := speakers.Labels(blocks)
	names := s.deps.Negotiator.Effective(jobID, labels)

	var lines []string
	var keyboard [][]telegram.Button
	for _, label := range labels {
		name := names[label]
		lines = append(lines, fmt.Sprintf("%s → %s", label, name))

		token, err := s.deps.Registry.Allocate(callback.Action{
			Kind:         callback.KindAssignSpeaker,
			Path:         path,
			JobID:        jobID,
			NewBaseName:  title,
			SpeakerLabel: label,
		})
		if err != nil {
			s.logger.Error("cannot store speaker action", "error", err)
			return
		}
		keyboard = append(keyboard, []telegram.Button{
			{Text: fmt.Sprintf("✏️ %s (%s)", label, name), Data: token},
		})
	}

	var controls []telegram.Button
	if len(labels) > 1 {
		swap, err := s.deps.Registry.Allocate(callback.Action{
			Kind:        callback.KindOfferSwap,
			Path:        path,
			JobID:       jobID,
			NewBaseName: title,
		})
		if err != nil {
			s.logger.Error("cannot store swap action", "error", err)
			return
		}
		controls = append(controls, telegram.Button{Text: "🔄 Swap two", Data: swap})
	}
	done, err := s.deps.Registry.Allocate(callback.Action{
		Kind:        callback.KindSpeakerAssignmentDone,
		Path:        path,
		JobID:       jobID,
		NewBaseName: title,
	})
	if err != nil {
		s.logger.Error("cannot store done action", "error", err)
		return
	}
	controls = append(controls, telegram.Button{Text: "✅ Done", Data: done})
	keyboard = append(keyboard, controls)

	text := fmt.Sprintf("🎙 Speakers in %s:\n%s\n\nTap a speaker to correct the name.",
		title, strings.Join(lines, "\n"))
	if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID, text, keyboard); err != nil {
		s.logger.Warn("speaker menu failed", "error", err)
	}
}

// offerSwap lists label pairs whose names can be exchanged.
func (s *Service) offerSwap(ctx context.Context, action callback.Action) {
	blocks, err := s.blocksFor(ctx, action.JobID)
	if err != nil {
		s.logger.Error("cannot load transcript for swap menu", "error", err)
		return
	}
	labels := speakers.Labels(blocks)
	names := s.deps.Negotiator.Effective(action.JobID, labels)

	var keyboard [][]telegram.Button
	for i := 0; i < len(labels); i++ {
		for j := i + 1; j < len(labels); j++ {
			token, err := s.deps.Registry.Allocate(callback.Action{
				Kind:         callback.KindConfirmSwap,
				Path:         action.Path,
				JobID:        action.JobID,
				NewBaseName:  action.NewBaseName,
				SpeakerLabel: labels[i],
				SpeakerName:  labels[j],
			})
			if err != nil {
				s.logger.Error("cannot store swap pair", "error", err)
				return
			}
			keyboard = append(keyboard, []telegram.Button{{
				Text: fmt.Sprintf("%s ↔ %s", names[labels[i]], names[labels[j]]),
				Data: token,
			}})
		}
	}

	if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID,
		"Which two speakers should swap names?", keyboard); err != nil {
		s.logger.Warn("swap menu failed", "error", err)
	}
}

// finalizeTranscript pushes the final names to the server, publishes the
// transcript document, and appends the meeting-log row.
func (s *Service) finalizeTranscript(ctx context.Context, jobID, path, title string) {
	logger := s.logger.With("job_id", jobID)

	blocks, err := s.blocksFor(ctx, jobID)
	if err != nil {
		logger.Error("cannot load final transcript", "error", err)
		s.notify(ctx, fmt.Sprintf("❌ Could not fetch the transcript for %s: %v", title, err))
		return
	}
	labels := speakers.Labels(blocks)
	names := s.deps.Negotiator.Effective(jobID, labels)

	if len(names) > 0 {
		if err := s.deps.Scriberr.UpdateSpeakers(ctx, jobID, names); err != nil {
			logger.Warn("cannot push speaker names to server", "error", err)
		} else {
			// Give the server a moment to apply the mapping, then take
			// the transcript it would serve from now on.
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			if fresh, err := s.blocksFor(ctx, jobID); err == nil {
				blocks = fresh
			} else {
				logger.Warn("cannot re-fetch transcript after push", "error", err)
			}
		}
	}

	text := speakers.FormatText(blocks, names)
	s.saveTranscriptFile(path, text)

	var docLink string
	if s.deps.Publisher != nil && s.deps.Connectivity.Online() {
		docLink, err = s.deps.Publisher.UploadTranscriptDoc(ctx, title+" transcript", text)
		if err != nil {
			logger.Warn("transcript doc upload failed", "error", err)
			docLink = ""
		}
	}

	if err := s.deps.Bot.SendDocument(ctx, s.cfg.TelegramChatID,
		title+".txt", strings.NewReader(text), "📄 "+title); err != nil {
		logger.Warn("transcript delivery failed", "error", err)
	}

	s.publishRow(ctx, rowInput{
		Path:       path,
		Title:      title,
		JobID:      jobID,
		Status:     "Transcribed",
		Transcript: text,
		DocLink:    docLink,
	})

	if err := s.deps.Negotiator.Forget(jobID); err != nil {
		logger.Warn("cannot drop speaker state", "error", err)
	}
}

// saveTranscriptFile keeps a plain-text copy of the transcript next to the
// filed recording.
func (s *Service) saveTranscriptFile(recordingPath, text string) {
	ext := filepath.Ext(recordingPath)
	target := strings.TrimSuffix(recordingPath, ext) + ".transcript.txt"
	if err := os.WriteFile(target, []byte(text), 0o644); err != nil {
		s.logger.Warn("cannot save transcript file", "path", target, "error", err)
	}
}

// rowInput carries everything publishRow needs to build a meeting-log row.
type rowInput struct {
	Path       string
	Title      string
	JobID      string
	Status     string
	Transcript string
	DocLink    string
}

// publishRow classifies the meeting and appends (or queues) its log row.
func (s *Service) publishRow(ctx context.Context, in rowInput) {
	row := queue.Row{
		DateTime:       s.rowDateTime(in),
		MeetingName:    in.Title,
		VideoLink:      in.Path,
		TranscriptLink: in.DocLink,
		Status:         in.Status,
	}
	if in.JobID != "" {
		row.ScriberrLink = s.deps.Scriberr.JobURL(in.JobID)
	}
	if in.Transcript != "" {
		c := s.classify(ctx, in.Title, in.Transcript)
		row.ProjectTag = c.ProjectTag
		row.MeetingType = c.MeetingType
		row.Summary = c.Summary
	}

	if s.deps.Publisher != nil && s.deps.Connectivity.Online() {
		err := s.deps.Publisher.AppendRow(ctx, sheets.MeetingLogTab, row.Cells())
		if err == nil {
			s.logger.Info("meeting row published", "meeting", in.Title)
			return
		}
		s.logger.Warn("row append failed, queueing", "error", err)
	}
	if err := s.deps.LogQueue.Enqueue(row); err != nil {
		s.logger.Error("cannot queue meeting row", "error", err)
	}
}

// rowDateTime prefers the timestamp embedded in the filed name, falling
// back to now.
func (s *Service) rowDateTime(in rowInput) string {
	if ts, ok := timestamp.Parse(filepath.Base(in.Path)); ok {
		return ts.Time.Format(DisplayTimeFormat)
	}
	return time.Now().Format(DisplayTimeFormat)
}

type classification struct {
	ProjectTag  string `json:"project_tag"`
	MeetingType string `json:"meeting_type"`
	Summary     string `json:"summary"`
}

const classifySystemPrompt = `You label meeting transcripts.
Given a transcript and the allowed project tags and meeting types, pick the
best-fitting tag and type and write a one-sentence summary.
If nothing fits, use an empty string for that field.
Respond with only a JSON object: {"project_tag": "...", "meeting_type": "...", "summary": "..."}`

// classify picks a project tag, meeting type and summary for the meeting.
// Failures degrade to empty fields; the row is still worth publishing.
func (s *Service) classify(ctx context.Context, title, transcript string) classification {
	if s.deps.Completer == nil {
		return classification{}
	}
	projects := s.configOptions(ctx, sheets.ProjectsTab)
	types := s.configOptions(ctx, sheets.MeetingTypesTab)

	prompt := fmt.Sprintf("Meeting: %s\nAllowed project tags:\n%s\nAllowed meeting types:\n%s\n\nTranscript:\n%s",
		title, projects, types, llm.TruncateForPrompt(transcript, 12000))

	raw, err := s.deps.Completer.Complete(ctx, classifySystemPrompt, prompt)
	if err != nil {
		s.logger.Warn("meeting classification failed", "error", err)
		return classification{}
	}
	blob, ok := llm.ExtractJSON(raw)
	if !ok {
		s.logger.Warn("classification response had no JSON")
		return classification{}
	}
	var c classification
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		s.logger.Warn("cannot parse classification", "error", err)
		return classification{}
	}
	return c
}

func (s *Service) configOptions(ctx context.Context, tab string) string {
	if s.deps.Publisher == nil || !s.deps.Connectivity.Online() {
		return "(none)"
	}
	entries, err := s.deps.Publisher.ReadConfig(ctx, tab)
	if err != nil || len(entries) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.Name, e.Description)
	}
	return b.String()
}
