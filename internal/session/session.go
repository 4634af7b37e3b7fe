// Package session tracks per-project work sessions in the Memory server so
// a later session (possibly by someone else) can pick up where the last one
// ended. Sessions are advisory state: when the Memory server is down the
// operations degrade to informative failures instead of blocking project
// work.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spirrowgames/prismind/internal/memstore"
)

// KV is the slice of the Memory server the manager needs.
type KV interface {
	Available() bool
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// State is the stored session record.
type State struct {
	ProjectID string    `json:"project_id"`
	User      string    `json:"user"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Phase     string    `json:"phase,omitempty"`
	Task      string    `json:"task,omitempty"`
	Completed string    `json:"last_completed,omitempty"`
	Blockers  []string  `json:"blockers,omitempty"`
	Notes     []string  `json:"notes,omitempty"`
	// Handoff is the summary left for whoever continues the work.
	Handoff   string   `json:"handoff,omitempty"`
	NextSteps []string `json:"next_steps,omitempty"`
	Ended     bool     `json:"ended"`
}

// Manager implements the session operations for one user.
type Manager struct {
	kv   KV
	user string
}

// NewManager builds a Manager.
func NewManager(kv KV, user string) *Manager {
	return &Manager{kv: kv, user: user}
}

// Result is the common envelope for session operations.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	State   State  `json:"state,omitempty"`
	Resumed bool   `json:"resumed,omitempty"`
}

func (m *Manager) unavailable() Result {
	return Result{Message: "memory server is unavailable; session tracking is disabled for now"}
}

// Start begins a session for a project, or resumes the stored one if it was
// never ended.
func (m *Manager) Start(ctx context.Context, projectID string) (Result, error) {
	if !m.kv.Available() {
		return m.unavailable(), nil
	}
	key := memstore.SessionKey(projectID, m.user)

	var existing State
	err := m.kv.Get(ctx, key, &existing)
	switch {
	case err == nil && !existing.Ended:
		return Result{
			Success: true,
			Message: fmt.Sprintf("resumed session for project %q started %s", projectID, existing.StartedAt.Format(time.RFC3339)),
			State:   existing,
			Resumed: true,
		}, nil
	case err != nil && !errors.Is(err, memstore.ErrNotFound):
		return Result{}, fmt.Errorf("reading session: %w", err)
	}

	now := time.Now().UTC()
	state := State{
		ProjectID: projectID,
		User:      m.user,
		StartedAt: now,
		UpdatedAt: now,
	}
	// A previous ended session leaves its handoff for the new one.
	if err == nil && existing.Ended {
		state.Handoff = existing.Handoff
		state.NextSteps = existing.NextSteps
	}

	if err := m.kv.Set(ctx, key, state); err != nil {
		return Result{}, fmt.Errorf("storing session: %w", err)
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("started session for project %q", projectID),
		State:   state,
	}, nil
}

// SaveParams are partial updates for Save. Nil fields keep their values;
// Note appends.
type SaveParams struct {
	Phase     *string
	Task      *string
	Completed *string
	Blockers  *[]string
	Note      string
	Handoff   *string
	NextSteps *[]string
}

// Save updates the active session.
func (m *Manager) Save(ctx context.Context, projectID string, p SaveParams) (Result, error) {
	if !m.kv.Available() {
		return m.unavailable(), nil
	}
	key := memstore.SessionKey(projectID, m.user)

	var state State
	err := m.kv.Get(ctx, key, &state)
	if errors.Is(err, memstore.ErrNotFound) {
		return Result{Message: fmt.Sprintf("no session for project %q; call start_session first", projectID)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("reading session: %w", err)
	}
	if state.Ended {
		return Result{Message: fmt.Sprintf("session for project %q has ended; start a new one", projectID)}, nil
	}

	if p.Phase != nil {
		state.Phase = *p.Phase
	}
	if p.Task != nil {
		state.Task = *p.Task
	}
	if p.Completed != nil {
		state.Completed = *p.Completed
	}
	if p.Blockers != nil {
		state.Blockers = *p.Blockers
	}
	if p.Note != "" {
		state.Notes = append(state.Notes, p.Note)
	}
	if p.Handoff != nil {
		state.Handoff = *p.Handoff
	}
	if p.NextSteps != nil {
		state.NextSteps = *p.NextSteps
	}
	state.UpdatedAt = time.Now().UTC()

	if err := m.kv.Set(ctx, key, state); err != nil {
		return Result{}, fmt.Errorf("storing session: %w", err)
	}
	return Result{Success: true, Message: "session saved", State: state}, nil
}

// Get returns the stored session, ended or not.
func (m *Manager) Get(ctx context.Context, projectID string) (Result, error) {
	if !m.kv.Available() {
		return m.unavailable(), nil
	}

	var state State
	err := m.kv.Get(ctx, memstore.SessionKey(projectID, m.user), &state)
	if errors.Is(err, memstore.ErrNotFound) {
		return Result{Message: fmt.Sprintf("no session for project %q", projectID)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("reading session: %w", err)
	}
	return Result{Success: true, Message: "session found", State: state}, nil
}

// End closes the active session, recording the final handoff. The record is
// kept so the next Start can surface the handoff.
func (m *Manager) End(ctx context.Context, projectID, handoff string, nextSteps []string) (Result, error) {
	if !m.kv.Available() {
		return m.unavailable(), nil
	}
	key := memstore.SessionKey(projectID, m.user)

	var state State
	err := m.kv.Get(ctx, key, &state)
	if errors.Is(err, memstore.ErrNotFound) {
		return Result{Message: fmt.Sprintf("no session for project %q", projectID)}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("reading session: %w", err)
	}

	if handoff != "" {
		state.Handoff = handoff
	}
	if len(nextSteps) > 0 {
		state.NextSteps = nextSteps
	}
	state.Ended = true
	state.UpdatedAt = time.Now().UTC()

	if err := m.kv.Set(ctx, key, state); err != nil {
		return Result{}, fmt.Errorf("storing session: %w", err)
	}
	return Result{Success: true, Message: fmt.Sprintf("session for project %q ended", projectID), State: state}, nil
}
