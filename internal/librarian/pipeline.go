package librarian

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/calendar"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/callback"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/renamer"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/telegram"
	"github.com/AlekZo/ai-meeting-librarian/internal/librarian/timestamp"
)

// maxMeetingButtons caps the meeting-selection keyboard; Telegram renders
// long keyboards poorly and more than this means the calendar matched too
// loosely to be useful anyway.
const maxMeetingButtons = 10

// processFile drives one recording from detection to either an automatic
// rename or a Telegram prompt.
func (s *Service) processFile(ctx context.Context, path string) {
	logger := s.logger.With("path", path)

	info, err := os.Stat(path)
	if err != nil {
		logger.Warn("recording vanished before processing")
		return
	}
	if s.deps.Processed.Seen(path, info.Size(), info.ModTime()) {
		logger.Debug("already processed, skipping")
		return
	}

	if !s.deps.Readiness.Wait(ctx, path) {
		logger.Warn("recording never became ready")
		return
	}
	// The readiness wait may have seen more data arrive.
	if info, err = os.Stat(path); err != nil {
		logger.Warn("recording vanished while waiting")
		return
	}

	if !s.deps.Connectivity.Online() {
		logger.Info("offline, queueing recording for later")
		s.deps.Pending.Add(path)
		return
	}

	ts, ok := timestamp.Parse(filepath.Base(path))
	if !ok {
		logger.Info("no timestamp in filename, asking user")
		s.promptNoMatch(ctx, path, "🎬 New recording with no recognizable timestamp:\n%s\n\nWhat should I do?")
		return
	}
	logger.Info("parsed filename timestamp",
		"canonical", ts.Canonical, "format", string(ts.Format))

	meetings, dayFallback, err := s.deps.Matcher.Match(ctx, ts)
	if err != nil && !errors.Is(err, calendar.ErrNoEvents) {
		logger.Error("calendar lookup failed", "error", err)
		s.promptNoMatch(ctx, path, "⚠️ Calendar lookup failed for:\n%s\n\nWhat should I do?")
		return
	}

	switch {
	case len(meetings) == 0:
		logger.Info("no meeting matches timestamp")
		s.promptNoMatch(ctx, path, "🎬 New recording matches no calendar meeting:\n%s\n\nWhat should I do?")
	case dayFallback:
		// Nothing was running at the stamped time, but the day had
		// meetings; let the user pick one of those.
		logger.Info("no meeting active, offering the day's meetings", "count", len(meetings))
		s.promptSelect(ctx, path, ts, meetings,
			"🎬 %s\n\nNo meeting was running at %s, but that day had these. Which one is it?")
	case len(meetings) == 1:
		// One unambiguous meeting: rename without bothering the user.
		logger.Info("single meeting match", "meeting", meetings[0].Title)
		s.renameAndContinue(ctx, path, meetings[0].Title, ts.Canonical)
	default:
		logger.Info("multiple meeting matches", "count", len(meetings))
		s.promptSelect(ctx, path, ts, meetings,
			"🎬 %s\n\nSeveral meetings were running at %s. Which one is it?")
	}
}

// renameAndContinue renames the recording to Title_Timestamp, moves it to
// the output directory, and offers transcription.
func (s *Service) renameAndContinue(ctx context.Context, path, title, canonical string) {
	base := renamer.NewBaseName(title, canonical, filepath.Ext(path))
	target := filepath.Join(filepath.Dir(path), base)

	finalPath := path
	if target != path {
		unique, err := renamer.UniquePath(target)
		if err != nil {
			s.logger.Error("cannot pick unique name", "target", target, "error", err)
			s.notify(ctx, fmt.Sprintf("❌ Could not rename %s: %v", filepath.Base(path), err))
			return
		}
		if err := s.deps.Mover.Rename(path, unique); err != nil {
			s.logger.Error("rename failed", "path", path, "error", err)
			s.notify(ctx, fmt.Sprintf("❌ Could not rename %s: %v", filepath.Base(path), err))
			return
		}
		finalPath = unique
	}

	s.moveAndOfferTranscription(ctx, finalPath, title)
}

// moveAndOfferTranscription relocates the recording to the library and
// asks whether to transcribe it.
func (s *Service) moveAndOfferTranscription(ctx context.Context, path, title string) {
	moved, err := s.deps.Mover.MoveTo(path, s.cfg.OutputDir)
	if err != nil {
		s.logger.Error("move to library failed", "path", path, "error", err)
		s.notify(ctx, fmt.Sprintf("❌ Could not move %s to the library: %v", filepath.Base(path), err))
		return
	}
	if s.cfg.DryRun {
		s.logger.Info("dry run: stopping after simulated move", "path", path)
		return
	}

	if info, err := os.Stat(moved); err == nil {
		if err := s.deps.Processed.Mark(moved, info.Size(), info.ModTime()); err != nil {
			s.logger.Warn("cannot mark processed", "path", moved, "error", err)
		}
	}
	s.logger.Info("recording filed", "path", path, "target", moved)

	s.askTranscribe(ctx, moved, title)
}

func (s *Service) askTranscribe(ctx context.Context, path, title string) {
	var langRow []telegram.Button
	for _, choice := range []struct{ label, lang string }{
		{"📝 Transcribe", "auto"},
		{"🇬🇧 EN", "en"},
		{"🇷🇺 RU", "ru"},
	} {
		token, err := s.deps.Registry.Allocate(callback.Action{
			Kind:        callback.KindTranscribe,
			Path:        path,
			NewBaseName: title,
			Language:    choice.lang,
		})
		if err != nil {
			s.logger.Error("cannot store transcribe action", "error", err)
			return
		}
		langRow = append(langRow, telegram.Button{Text: choice.label, Data: token})
	}
	no, err := s.deps.Registry.Allocate(callback.Action{
		Kind:        callback.KindSkipTranscribe,
		Path:        path,
		NewBaseName: title,
	})
	if err != nil {
		s.logger.Error("cannot store skip action", "error", err)
		return
	}

	text := fmt.Sprintf("✅ Filed as:\n%s\n\nTranscribe it?", filepath.Base(path))
	keyboard := [][]telegram.Button{
		langRow,
		{{Text: "Skip", Data: no}},
	}
	if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID, text, keyboard); err != nil {
		s.logger.Warn("transcribe prompt failed", "error", err)
	}
}

// promptNoMatch asks what to do with a recording that has no usable
// calendar match. The file is not renamed until the user decides.
func (s *Service) promptNoMatch(ctx context.Context, path, format string) {
	keyboard, err := s.fallbackButtons(path)
	if err != nil {
		s.logger.Error("cannot store fallback actions", "error", err)
		return
	}
	text := fmt.Sprintf(format, filepath.Base(path))
	if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID, text, keyboard); err != nil {
		s.logger.Warn("fallback prompt failed", "error", err)
	}
}

// promptSelect offers one button per matching meeting plus the fallback
// actions.
func (s *Service) promptSelect(ctx context.Context, path string, ts timestamp.Parsed, meetings []calendar.Meeting, format string) {
	if len(meetings) > maxMeetingButtons {
		meetings = meetings[:maxMeetingButtons]
	}

	var keyboard [][]telegram.Button
	for _, m := range meetings {
		token, err := s.deps.Registry.Allocate(callback.Action{
			Kind:         callback.KindSelect,
			Path:         path,
			MeetingID:    m.ID,
			MeetingTitle: m.Title,
			NewBaseName:  ts.Canonical,
		})
		if err != nil {
			s.logger.Error("cannot store select action", "error", err)
			return
		}
		label := m.Title
		if !m.AllDay {
			label = fmt.Sprintf("%s (%s)", m.Title, m.Start.Format("15:04"))
		}
		keyboard = append(keyboard, []telegram.Button{{Text: label, Data: token}})
	}

	fallback, err := s.fallbackButtons(path)
	if err != nil {
		s.logger.Error("cannot store fallback actions", "error", err)
		return
	}
	keyboard = append(keyboard, fallback...)

	text := fmt.Sprintf(format, filepath.Base(path), ts.Time.Format(DisplayTimeFormat))
	if _, err := s.deps.Bot.SendMessage(ctx, s.cfg.TelegramChatID, text, keyboard); err != nil {
		s.logger.Warn("selection prompt failed", "error", err)
	}
}

// fallbackButtons are the always-available choices: keep the filename,
// rename by hand, retry the calendar match, or skip the file entirely.
func (s *Service) fallbackButtons(path string) ([][]telegram.Button, error) {
	keep, err := s.deps.Registry.Allocate(callback.Action{Kind: callback.KindKeepName, Path: path})
	if err != nil {
		return nil, err
	}
	manual, err := s.deps.Registry.Allocate(callback.Action{Kind: callback.KindManualRename, Path: path})
	if err != nil {
		return nil, err
	}
	retry, err := s.deps.Registry.Allocate(callback.Action{Kind: callback.KindRetry, Path: path})
	if err != nil {
		return nil, err
	}
	skip, err := s.deps.Registry.Allocate(callback.Action{Kind: callback.KindSkip, Path: path})
	if err != nil {
		return nil, err
	}
	return [][]telegram.Button{
		{{Text: "Keep name", Data: keep}, {Text: "✏️ Rename", Data: manual}},
		{{Text: "🔄 Retry", Data: retry}, {Text: "Skip", Data: skip}},
	}, nil
}
