// Package callback stores the actions behind Telegram inline buttons so a
// button pressed after a restart still does what it promised.
package callback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates what an Action does when its button is pressed.
type Kind string

const (
	KindRetry                 Kind = "retry"
	KindRetryTranscribe       Kind = "retry_transcribe"
	KindSkip                  Kind = "skip"
	KindSelect                Kind = "select"
	KindKeepName              Kind = "keep_name"
	KindManualRename          Kind = "manual_rename"
	KindCancel                Kind = "cancel"
	KindTranscribe            Kind = "transcribe"
	KindSkipTranscribe        Kind = "skip_transcribe"
	KindAssignSpeaker         Kind = "assign_speaker"
	KindConfirmSpeaker        Kind = "confirm_speaker"
	KindConfirmRename         Kind = "confirm_rename"
	KindOfferSwap             Kind = "offer_swap"
	KindConfirmSwap           Kind = "confirm_swap"
	KindSpeakerAssignmentDone Kind = "speaker_assignment_done"
)

// Action is the stored payload behind one inline button. Kind selects which
// of the optional fields are meaningful; unused fields stay zero.
type Action struct {
	Kind Kind `json:"kind"`

	// Path is the recording file the action applies to.
	Path string `json:"path,omitempty"`
	// MeetingID and MeetingTitle carry the chosen calendar event for
	// select actions.
	MeetingID    string `json:"meeting_id,omitempty"`
	MeetingTitle string `json:"meeting_title,omitempty"`
	// NewBaseName is the target filename for rename confirmations.
	NewBaseName string `json:"new_base_name,omitempty"`
	// JobID is the transcription job for speaker actions.
	JobID string `json:"job_id,omitempty"`
	// SpeakerLabel and SpeakerName carry one speaker assignment.
	SpeakerLabel string `json:"speaker_label,omitempty"`
	SpeakerName  string `json:"speaker_name,omitempty"`
	// Language is the transcription language for transcribe actions.
	Language string `json:"language,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DefaultMaxAge is how long an unanswered button stays resolvable.
const DefaultMaxAge = 14 * 24 * time.Hour

// Registry allocates button tokens and resolves them back to Actions. Every
// allocation is written through to disk before the token is handed out.
type Registry struct {
	mu      sync.Mutex
	actions map[string]Action

	path   string
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Store persists the registry map. *journal-backed in production, swapped
// in tests.
type Store interface {
	Save(path string, v any) error
	Load(path string, v any) error
}

// NewRegistry loads any previously stored actions from path via store.
func NewRegistry(path string, store Store, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		actions: make(map[string]Action),
		path:    path,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
	if err := store.Load(path, &r.actions); err != nil {
		return nil, fmt.Errorf("loading callback registry: %w", err)
	}
	if r.actions == nil {
		r.actions = make(map[string]Action)
	}
	return r, nil
}

// Allocate stores the action durably and returns its token. The token is
// short enough for Telegram's 64-byte callback data limit.
func (r *Registry) Allocate(a Action) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	token := fmt.Sprintf("%s_%d_%s", a.Kind, a.CreatedAt.Unix(), uuid.NewString()[:8])
	r.actions[token] = a

	if err := r.store.Save(r.path, r.actions); err != nil {
		delete(r.actions, token)
		return "", fmt.Errorf("persisting callback %s: %w", token, err)
	}
	return token, nil
}

// Resolve returns the action for a token. On a miss it reloads from disk
// once, in case another process (or a previous run) wrote the token.
func (r *Registry) Resolve(token string) (Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actions[token]; ok {
		return a, true
	}

	fresh := make(map[string]Action)
	if err := r.store.Load(r.path, &fresh); err != nil {
		r.logger.Warn("callback registry reload failed", "error", err)
		return Action{}, false
	}
	for k, v := range fresh {
		if _, exists := r.actions[k]; !exists {
			r.actions[k] = v
		}
	}

	a, ok := r.actions[token]
	return a, ok
}

// Release removes a consumed token. Missing tokens are a no-op so double
// presses stay harmless.
func (r *Registry) Release(tokens ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for _, token := range tokens {
		if _, ok := r.actions[token]; ok {
			delete(r.actions, token)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return r.store.Save(r.path, r.actions)
}

// ReleaseKind removes every token of the given kind for the given path,
// used when a whole prompt is superseded.
func (r *Registry) ReleaseKind(kind Kind, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := false
	for token, a := range r.actions {
		if a.Kind == kind && a.Path == path {
			delete(r.actions, token)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return r.store.Save(r.path, r.actions)
}

// Sweep drops actions older than maxAge and reports how many were removed.
// Run periodically, the registry would otherwise grow without bound.
func (r *Registry) Sweep(maxAge time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for token, a := range r.actions {
		if a.CreatedAt.Before(cutoff) {
			delete(r.actions, token)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := r.store.Save(r.path, r.actions); err != nil {
		return removed, fmt.Errorf("persisting swept registry: %w", err)
	}
	r.logger.Info("swept stale callbacks", "removed", removed)
	return removed, nil
}

// Len reports how many tokens are currently stored.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

// KindOf extracts the kind prefix from a token without resolving it. Kinds
// may contain underscores, so the split point is the underscore before the
// unix-seconds segment.
func KindOf(token string) Kind {
	for i := 0; i < len(token); i++ {
		if token[i] == '_' && i+1 < len(token) && token[i+1] >= '0' && token[i+1] <= '9' {
			return Kind(token[:i])
		}
	}
	return ""
}
