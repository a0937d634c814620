// ABOUTME: Per-conversation state: phase, login, selected task and wizard draft
// ABOUTME: Phase transitions go through enter() which keeps payloads consistent with the phase

package bot

import (
	"sync"
)

// Phase is the workflow step a conversation is waiting on.
type Phase string

const (
	PhaseNormal                   Phase = "normal"
	PhaseAwaitingEmail            Phase = "awaiting_email"
	PhaseAwaitingPassword         Phase = "awaiting_password"
	PhaseAddingComment            Phase = "adding_comment"
	PhaseAddingTaskTitle          Phase = "adding_task_title"
	PhaseAddingTaskDescription    Phase = "adding_task_description"
	PhaseAddingTaskEstimatedHours Phase = "adding_task_estimated_hours"
	PhaseAddingTaskTag            Phase = "adding_task_tag"
	PhaseAddingTaskSprint         Phase = "adding_task_sprint"
	PhaseAddingRealHours          Phase = "adding_real_hours"
)

// Phases lists every phase.
var Phases = []Phase{
	PhaseNormal,
	PhaseAwaitingEmail,
	PhaseAwaitingPassword,
	PhaseAddingComment,
	PhaseAddingTaskTitle,
	PhaseAddingTaskDescription,
	PhaseAddingTaskEstimatedHours,
	PhaseAddingTaskTag,
	PhaseAddingTaskSprint,
	PhaseAddingRealHours,
}

// wizardPhases are the task creation steps; a draft exists exactly in these.
var wizardPhases = []Phase{
	PhaseAddingTaskTitle,
	PhaseAddingTaskDescription,
	PhaseAddingTaskEstimatedHours,
	PhaseAddingTaskTag,
	PhaseAddingTaskSprint,
}

// InTaskWizard reports whether p is a task creation step.
func (p Phase) InTaskWizard() bool {
	for _, w := range wizardPhases {
		if p == w {
			return true
		}
	}
	return false
}

// InLogin reports whether p is a login step.
func (p Phase) InLogin() bool {
	return p == PhaseAwaitingEmail || p == PhaseAwaitingPassword
}

// TaskDraft accumulates a task across the creation wizard.
type TaskDraft struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	Tag            string   `json:"tag,omitempty"`

	// SprintChosen separates "no sprint" (true, SprintID nil) from "not asked yet".
	SprintChosen bool   `json:"sprint_chosen"`
	SprintID     *int64 `json:"sprint_id,omitempty"`
}

func (d *TaskDraft) clone() *TaskDraft {
	if d == nil {
		return nil
	}
	c := *d
	if d.EstimatedHours != nil {
		h := *d.EstimatedHours
		c.EstimatedHours = &h
	}
	if d.SprintID != nil {
		id := *d.SprintID
		c.SprintID = &id
	}
	return &c
}

// ConversationState is the server-held session of one conversation.
// mu is held for the whole handling of one event.
type ConversationState struct {
	mu sync.Mutex

	id     string
	loaded bool // login binding restored from the user store

	userID         *int64
	userName       string
	selectedTaskID *int64
	phase          Phase
	draft          *TaskDraft
	pendingEmail   *string // "" while awaiting the email, the email while awaiting the password
}

func newConversationState(id string) *ConversationState {
	return &ConversationState{id: id, phase: PhaseNormal}
}

// ID returns the conversation ID.
func (s *ConversationState) ID() string { return s.id }

// enter moves to phase and drops any payload the new phase does not carry.
func (s *ConversationState) enter(phase Phase) {
	s.phase = phase

	if phase.InTaskWizard() {
		if s.draft == nil {
			s.draft = &TaskDraft{}
		}
	} else {
		s.draft = nil
	}

	switch phase {
	case PhaseAwaitingEmail:
		empty := ""
		s.pendingEmail = &empty
	case PhaseAwaitingPassword:
		if s.pendingEmail == nil {
			empty := ""
			s.pendingEmail = &empty
		}
	default:
		s.pendingEmail = nil
	}
}

// softReset clears the workflow in progress and keeps the login.
func (s *ConversationState) softReset() {
	s.selectedTaskID = nil
	s.enter(PhaseNormal)
}

// reset returns the conversation to a logged-out baseline.
func (s *ConversationState) reset() {
	s.softReset()
	s.userID = nil
	s.userName = ""
}

func (s *ConversationState) loggedIn() bool {
	return s.userID != nil
}

func (s *ConversationState) login(userID int64, name string) {
	id := userID
	s.userID = &id
	s.userName = name
}

func (s *ConversationState) selectTask(taskID int64) {
	id := taskID
	s.selectedTaskID = &id
}

// Snapshot is a read-only copy of a conversation state.
type Snapshot struct {
	ConversationID    string     `json:"conversation_id"`
	UserID            *int64     `json:"user_id,omitempty"`
	UserName          string     `json:"user_name,omitempty"`
	SelectedTaskID    *int64     `json:"selected_task_id,omitempty"`
	Phase             Phase      `json:"phase"`
	Draft             *TaskDraft `json:"draft,omitempty"`
	PendingLoginEmail *string    `json:"pending_login_email,omitempty"`
}

// snapshotLocked copies the state. The caller must hold s.mu.
func (s *ConversationState) snapshotLocked() Snapshot {
	snap := Snapshot{
		ConversationID: s.id,
		UserName:       s.userName,
		Phase:          s.phase,
		Draft:          s.draft.clone(),
	}
	if s.userID != nil {
		id := *s.userID
		snap.UserID = &id
	}
	if s.selectedTaskID != nil {
		id := *s.selectedTaskID
		snap.SelectedTaskID = &id
	}
	if s.pendingEmail != nil {
		e := *s.pendingEmail
		snap.PendingLoginEmail = &e
	}
	return snap
}

// Snapshot copies the state, waiting for any in-flight event to finish.
func (s *ConversationState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}
