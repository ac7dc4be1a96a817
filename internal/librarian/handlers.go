package librarian

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/callback"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/renamer"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/scriberr"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/speakers"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/telegram"
)

// HandleCallback reacts to an inline button press. Tokens resolve through
// the durable registry, so presses survive restarts.
func (s *Service) HandleCallback(ctx context.Context, query telegram.CallbackQuery) {
	action, ok := s.deps.Registry.Resolve(query.Data)
	if !ok {
		s.logger.Warn("unknown callback token", "token", query.Data)
		s.answer(ctx, query, "This button has expired.")
		s.stripButtons(ctx, query)
		return
	}

	s.answer(ctx, query, "")
	s.logger.Info("callback received", "kind", string(action.Kind), "path", action.Path)

	switch action.Kind {
	case callback.KindSelect:
		s.stripButtons(ctx, query)
		s.releaseFilePrompts(action.Path)
		s.renameAndContinue(ctx, action.Path, action.MeetingTitle, action.NewBaseName)

	case callback.KindKeepName:
		s.stripButtons(ctx, query)
		s.releaseFilePrompts(action.Path)
		title := strings.TrimSuffix(filepath.Base(action.Path), filepath.Ext(action.Path))
		s.moveAndOfferTranscription(ctx, action.Path, title)

	case callback.KindManualRename:
		prompt, err := s.deps.Bot.SendForceReply(ctx, s.cfg.TelegramChatID,
			fmt.Sprintf("✏️ Reply with the new name for:\n%s", filepath.Base(action.Path)))
		if err != nil {
			s.logger.Warn("rename prompt failed", "error", err)
			return
		}
		s.awaitReply(prompt.MessageID, action)

	case callback.KindSkip:
		s.stripButtons(ctx, query)
		s.releaseFilePrompts(action.Path)
		if info, err := os.Stat(action.Path); err == nil {
			s.deps.Processed.Mark(action.Path, info.Size(), info.ModTime())
		}
		s.notify(ctx, fmt.Sprintf("⏭ Skipped %s", filepath.Base(action.Path)))

	case callback.KindConfirmRename:
		s.stripButtons(ctx, query)
		s.deps.Registry.Release(query.Data)
		target := filepath.Join(filepath.Dir(action.Path), action.NewBaseName)
		unique, err := renamer.UniquePath(target)
		if err == nil {
			err = s.deps.Mover.Rename(action.Path, unique)
		}
		if err != nil {
			s.logger.Error("manual rename failed", "path", action.Path, "error", err)
			s.notify(ctx, fmt.Sprintf("❌ Rename failed: %v", err))
			return
		}
		title := strings.TrimSuffix(action.NewBaseName, filepath.Ext(action.NewBaseName))
		s.moveAndOfferTranscription(ctx, unique, title)

	case callback.KindCancel:
		s.stripButtons(ctx, query)
		s.deps.Registry.Release(query.Data)
		if action.JobID != "" {
			if err := s.deps.Scriberr.Cancel(ctx, action.JobID); err != nil {
				s.logger.Warn("cannot cancel transcription job", "job_id", action.JobID, "error", err)
			}
		}
		s.notify(ctx, "🚫 Cancelled.")

	case callback.KindTranscribe:
		s.stripButtons(ctx, query)
		s.deps.Registry.ReleaseKind(callback.KindTranscribe, action.Path)
		s.deps.Registry.ReleaseKind(callback.KindSkipTranscribe, action.Path)
		s.enqueueTranscription(ctx, action.Path, action.NewBaseName, action.Language)

	case callback.KindSkipTranscribe:
		s.stripButtons(ctx, query)
		s.deps.Registry.ReleaseKind(callback.KindTranscribe, action.Path)
		s.deps.Registry.ReleaseKind(callback.KindSkipTranscribe, action.Path)
		s.publishRow(ctx, rowInput{
			Path:   action.Path,
			Title:  action.NewBaseName,
			Status: "Filed (not transcribed)",
		})

	case callback.KindRetry:
		s.stripButtons(ctx, query)
		s.releaseFilePrompts(action.Path)
		s.processFile(ctx, action.Path)

	case callback.KindRetryTranscribe:
		s.stripButtons(ctx, query)
		s.deps.Registry.Release(query.Data)
		s.enqueueTranscription(ctx, action.Path, action.NewBaseName, action.Language)

	case callback.KindAssignSpeaker:
		prompt, err := s.deps.Bot.SendForceReply(ctx, s.cfg.TelegramChatID,
			fmt.Sprintf("Who is %s? Reply with their name.", action.SpeakerLabel))
		if err != nil {
			s.logger.Warn("speaker prompt failed", "error", err)
			return
		}
		s.awaitReply(prompt.MessageID, action)

	case callback.KindConfirmSpeaker:
		s.stripButtons(ctx, query)
		s.deps.Registry.Release(query.Data)
		if err := s.deps.Negotiator.SetManual(action.JobID, action.SpeakerLabel, action.SpeakerName); err != nil {
			s.logger.Error("cannot record speaker name", "job_id", action.JobID, "error", err)
			return
		}
		s.pushSpeakerNames(ctx, action.JobID)
		s.sendSpeakerMenu(ctx, action.JobID, action.Path, action.NewBaseName)

	case callback.KindOfferSwap:
		s.offerSwap(ctx, action)

	case callback.KindConfirmSwap:
		s.stripButtons(ctx, query)
		s.deps.Registry.Release(query.Data)
		if err := s.deps.Negotiator.Swap(action.JobID, action.SpeakerLabel, action.SpeakerName); err != nil {
			s.logger.Error("speaker swap failed", "job_id", action.JobID, "error", err)
			return
		}
		s.pushSpeakerNames(ctx, action.JobID)
		s.sendSpeakerMenu(ctx, action.JobID, action.Path, action.NewBaseName)

	case callback.KindSpeakerAssignmentDone:
		s.stripButtons(ctx, query)
		s.deps.Registry.ReleaseKind(callback.KindSpeakerAssignmentDone, action.Path)
		s.deps.Registry.ReleaseKind(callback.KindAssignSpeaker, action.Path)
		s.deps.Registry.ReleaseKind(callback.KindOfferSwap, action.Path)
		s.finalizeTranscript(ctx, action.JobID, action.Path, action.NewBaseName)

	default:
		s.logger.Warn("unhandled callback kind", "kind", string(action.Kind))
	}
}

// HandleText routes force-reply answers back to the action that asked, and
// handles the /name escape hatch for assigning speakers without buttons.
func (s *Service) HandleText(ctx context.Context, msg telegram.Message) {
	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/name ") {
		s.handleNameCommand(ctx, strings.TrimSpace(msg.Text))
		return
	}
	if msg.ReplyTo == nil {
		return
	}
	action, ok := s.takeReply(msg.ReplyTo.MessageID)
	if !ok {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	switch action.Kind {
	case callback.KindManualRename:
		base := renamer.Sanitize(text) + filepath.Ext(action.Path)
		confirm, err := s.deps.Registry.Allocate(callback.Action{
			Kind:        callback.KindConfirmRename,
			Path:        action.Path,
			NewBaseName: base,
		})
		if err != nil {
			s.logger.Error("cannot store rename confirmation", "error", err)
			return
		}
		cancel, err := s.deps.Registry.Allocate(callback.Action{Kind: callback.KindCancel, Path: action.Path})
		if err != nil {
			s.logger.Error("cannot store cancel action", "error", err)
			return
		}
		keyboard := [][]telegram.Button{
			{{Text: "✅ Rename", Data: confirm}, {Text: "Cancel", Data: cancel}},
		}
		prompt := fmt.Sprintf("Rename to:\n%s ?", base)
		if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID, prompt, keyboard); err != nil {
			s.logger.Warn("rename confirmation failed", "error", err)
		}

	case callback.KindAssignSpeaker:
		// Stage the typed name behind a confirmation before committing it.
		confirm, err := s.deps.Registry.Allocate(callback.Action{
			Kind:         callback.KindConfirmSpeaker,
			Path:         action.Path,
			JobID:        action.JobID,
			SpeakerLabel: action.SpeakerLabel,
			SpeakerName:  text,
			NewBaseName:  action.NewBaseName,
		})
		if err != nil {
			s.logger.Error("cannot store speaker confirmation", "error", err)
			return
		}
		cancel, err := s.deps.Registry.Allocate(callback.Action{Kind: callback.KindCancel, Path: action.Path})
		if err != nil {
			s.logger.Error("cannot store cancel action", "error", err)
			return
		}
		keyboard := [][]telegram.Button{
			{{Text: "✅ Yes", Data: confirm}, {Text: "No", Data: cancel}},
		}
		prompt := fmt.Sprintf("Rename %s to %s?", action.SpeakerLabel, text)
		if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID, prompt, keyboard); err != nil {
			s.logger.Warn("speaker confirmation failed", "error", err)
		}

	default:
		s.logger.Warn("unexpected reply for action", "kind", string(action.Kind))
	}
}

// handleNameCommand assigns a speaker by hand: /name <job> <label> <name>.
func (s *Service) handleNameCommand(ctx context.Context, text string) {
	fields := strings.Fields(text)
	if len(fields) < 4 {
		s.notify(ctx, "Usage: /name <job-id> <speaker-label> <real name>")
		return
	}
	jobID, label := fields[1], fields[2]
	name := strings.Join(fields[3:], " ")

	if err := s.deps.Negotiator.SetManual(jobID, label, name); err != nil {
		s.logger.Error("cannot record speaker name", "job_id", jobID, "error", err)
		s.notify(ctx, fmt.Sprintf("❌ Could not record the name: %v", err))
		return
	}
	s.pushSpeakerNames(ctx, jobID)
	s.notify(ctx, fmt.Sprintf("✅ %s is now %s", label, name))
}

// pushSpeakerNames sends the accumulated mapping to the transcription
// server so its copy stays in step with each assignment.
func (s *Service) pushSpeakerNames(ctx context.Context, jobID string) {
	blocks, err := s.blocksFor(ctx, jobID)
	if err != nil {
		s.logger.Warn("cannot load transcript for speaker push", "job_id", jobID, "error", err)
		return
	}
	names := s.deps.Negotiator.Effective(jobID, speakers.Labels(blocks))
	if len(names) == 0 {
		return
	}
	if err := s.deps.Scriberr.UpdateSpeakers(ctx, jobID, names); err != nil {
		s.logger.Warn("cannot push speaker names", "job_id", jobID, "error", err)
	}
}

func (s *Service) enqueueTranscription(ctx context.Context, path, title, language string) {
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if language == "" {
		language = s.cfg.Language
	}
	err := s.deps.Transcriber.Enqueue(scriberr.Job{
		VideoPath: path,
		Title:     title,
		Language:  language,
	})
	if err != nil {
		s.logger.Error("cannot enqueue transcription", "path", path, "error", err)
		s.notify(ctx, fmt.Sprintf("❌ Could not queue transcription: %v", err))
		return
	}
	s.notify(ctx, fmt.Sprintf("📝 Queued for transcription: %s", filepath.Base(path)))
}

// releaseFilePrompts drops every stored choice for one recording once any
// of them has been taken.
func (s *Service) releaseFilePrompts(path string) {
	for _, kind := range []callback.Kind{
		callback.KindSelect, callback.KindKeepName,
		callback.KindManualRename, callback.KindRetry, callback.KindSkip,
	} {
		if err := s.deps.Registry.ReleaseKind(kind, path); err != nil {
			s.logger.Warn("cannot release prompt actions", "kind", string(kind), "error", err)
		}
	}
}

func (s *Service) answer(ctx context.Context, query telegram.CallbackQuery, text string) {
	if err := s.deps.Bot.AnswerCallback(ctx, query.ID, text); err != nil {
		s.logger.Debug("answerCallback failed", "error", err)
	}
}

func (s *Service) stripButtons(ctx context.Context, query telegram.CallbackQuery) {
	if query.Message == nil {
		return
	}
	err := s.deps.Bot.EditReplyMarkup(ctx, query.Message.Chat.ID, query.Message.MessageID, nil)
	if err != nil {
		s.logger.Debug("cannot strip buttons", "error", err)
	}
}
