package speakers

import (
	"fmt"
	"sync"
)

// assignment is the per-job negotiation state between AI guesses and the
// user's manual corrections.
type assignment struct {
	AIGuesses map[string]string `json:"ai_guesses"`
	Manual    map[string]string `json:"manual"`
}

// Store persists negotiation state.
type Store interface {
	Save(path string, v any) error
	Load(path string, v any) error
}

// Negotiator tracks, per transcription job, what the AI guessed each
// speaker label means and what the user has confirmed. Manual assignments
// always win, and once the user has touched a job, later AI guesses are
// ignored so re-identification cannot silently undo corrections.
type Negotiator struct {
	mu    sync.Mutex
	jobs  map[string]*assignment
	path  string
	store Store
}

// NewNegotiator loads prior state from path.
func NewNegotiator(path string, store Store) (*Negotiator, error) {
	n := &Negotiator{
		jobs:  make(map[string]*assignment),
		path:  path,
		store: store,
	}
	if err := store.Load(path, &n.jobs); err != nil {
		return nil, fmt.Errorf("loading speaker assignments: %w", err)
	}
	if n.jobs == nil {
		n.jobs = make(map[string]*assignment)
	}
	return n, nil
}

func (n *Negotiator) job(jobID string) *assignment {
	a, ok := n.jobs[jobID]
	if !ok {
		a = &assignment{
			AIGuesses: make(map[string]string),
			Manual:    make(map[string]string),
		}
		n.jobs[jobID] = a
	}
	return a
}

// SetAIGuesses records the model's label-to-name guesses. Once any manual
// assignment exists for the job the guesses are frozen and this is a
// no-op.
func (n *Negotiator) SetAIGuesses(jobID string, guesses map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	a := n.job(jobID)
	if len(a.Manual) > 0 {
		return nil
	}
	for label, name := range guesses {
		if name != "" {
			a.AIGuesses[label] = name
		}
	}
	return n.persistLocked()
}

// SetManual records a user-confirmed name for one label.
func (n *Negotiator) SetManual(jobID, label, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.job(jobID).Manual[label] = name
	return n.persistLocked()
}

// Swap exchanges the effective names of two labels in one step, recording
// both as manual.
func (n *Negotiator) Swap(jobID, labelA, labelB string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	a := n.job(jobID)
	nameA := effectiveName(a, labelA)
	nameB := effectiveName(a, labelB)
	a.Manual[labelA] = nameB
	a.Manual[labelB] = nameA
	return n.persistLocked()
}

// HasManual reports whether the user has made any assignment for the job.
func (n *Negotiator) HasManual(jobID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	a, ok := n.jobs[jobID]
	return ok && len(a.Manual) > 0
}

// Effective returns the final label-to-name map for the labels given:
// manual assignments first, AI guesses for untouched labels, and the raw
// label where neither exists.
func (n *Negotiator) Effective(jobID string, labels []string) map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()

	a, ok := n.jobs[jobID]
	out := make(map[string]string, len(labels))
	for _, label := range labels {
		if !ok {
			out[label] = label
			continue
		}
		out[label] = effectiveName(a, label)
	}
	return out
}

func effectiveName(a *assignment, label string) string {
	if name, ok := a.Manual[label]; ok && name != "" {
		return name
	}
	if name, ok := a.AIGuesses[label]; ok && name != "" {
		return name
	}
	return label
}

// Forget drops all state for a finished job.
func (n *Negotiator) Forget(jobID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.jobs[jobID]; !ok {
		return nil
	}
	delete(n.jobs, jobID)
	return n.persistLocked()
}

func (n *Negotiator) persistLocked() error {
	if err := n.store.Save(n.path, n.jobs); err != nil {
		return fmt.Errorf("persisting speaker assignments: %w", err)
	}
	return nil
}
