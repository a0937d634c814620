// ABOUTME: Free-text routing by phase: login credentials, comments, wizard steps and hours
// ABOUTME: Phases without a text route answer "not understood" and change nothing

package bot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/2389/taskbot/internal/auth"
	"github.com/2389/taskbot/internal/store"
)

type textRoute struct {
	requiresLogin bool
	handle        func(ctx context.Context, st *ConversationState, text string) error
}

func (e *Engine) textTable() map[Phase]textRoute {
	return map[Phase]textRoute{
		PhaseAwaitingEmail:            {handle: e.textEmail},
		PhaseAwaitingPassword:         {handle: e.textPassword},
		PhaseAddingComment:            {requiresLogin: true, handle: e.textComment},
		PhaseAddingTaskTitle:          {requiresLogin: true, handle: e.textTaskTitle},
		PhaseAddingTaskDescription:    {requiresLogin: true, handle: e.textTaskDescription},
		PhaseAddingTaskEstimatedHours: {requiresLogin: true, handle: e.textEstimatedHours},
		PhaseAddingRealHours:          {requiresLogin: true, handle: e.textRealHours},
	}
}

func (e *Engine) textEmail(ctx context.Context, st *ConversationState, text string) error {
	email := strings.ToLower(strings.TrimSpace(text))
	st.enter(PhaseAwaitingPassword)
	st.pendingEmail = &email
	e.reply(ctx, st, msgAskPassword)
	return nil
}

// textPassword takes the raw text: passwords are not trimmed.
func (e *Engine) textPassword(ctx context.Context, st *ConversationState, password string) error {
	if st.pendingEmail == nil || *st.pendingEmail == "" {
		st.softReset()
		e.reply(ctx, st, msgLoginRestart)
		return nil
	}
	email := *st.pendingEmail

	user, err := e.creds.Authenticate(ctx, email, password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		e.logger.Info("login rejected", "conversation_id", st.id, "email", email)
		st.enter(PhaseNormal)
		e.reply(ctx, st, msgAuthFailed)
		return nil
	}
	if err != nil {
		return fmt.Errorf("authenticating %s: %w", email, err)
	}

	if err := e.users.BindConversation(ctx, user.ID, st.id); err != nil {
		return fmt.Errorf("binding conversation: %w", err)
	}
	st.softReset()
	st.login(user.ID, user.Name)
	e.logger.Info("user logged in", "conversation_id", st.id, "user_id", user.ID)

	e.reply(ctx, st, fmt.Sprintf("Welcome, %s!", user.Name))
	return e.listTasks(ctx, st)
}

func (e *Engine) textComment(ctx context.Context, st *ConversationState, text string) error {
	task, err := e.requireSelectedTask(ctx, st)
	if task == nil {
		return err
	}

	comment := &store.Comment{
		TaskID:     task.ID,
		AuthorID:   *st.userID,
		AuthorName: st.userName,
		Content:    strings.TrimSpace(text),
	}
	if err := e.comments.CreateComment(ctx, comment); err != nil {
		return fmt.Errorf("creating comment on task %d: %w", task.ID, err)
	}

	st.enter(PhaseNormal)
	e.reply(ctx, st, msgCommentAdded)
	return e.showTask(ctx, st, task)
}

func (e *Engine) textTaskTitle(ctx context.Context, st *ConversationState, text string) error {
	title := strings.TrimSpace(text)
	st.draft = &TaskDraft{Title: title}
	st.enter(PhaseAddingTaskDescription)
	e.reply(ctx, st, msgAskDescription)
	return nil
}

func (e *Engine) textTaskDescription(ctx context.Context, st *ConversationState, text string) error {
	if st.draft == nil {
		st.softReset()
		e.reply(ctx, st, msgDraftMissing)
		return nil
	}
	st.draft.Description = strings.TrimSpace(text)
	st.enter(PhaseAddingTaskEstimatedHours)
	e.reply(ctx, st, msgAskEstimate)
	return nil
}

func (e *Engine) textEstimatedHours(ctx context.Context, st *ConversationState, text string) error {
	hours, ok := parseHours(text)
	if !ok {
		e.reply(ctx, st, msgBadHours)
		return nil
	}
	st.draft.EstimatedHours = &hours
	st.enter(PhaseAddingTaskTag)
	e.reply(ctx, st, msgAskTag, tagButtons()...)
	return nil
}

func (e *Engine) textRealHours(ctx context.Context, st *ConversationState, text string) error {
	if st.selectedTaskID == nil {
		return e.noTaskSelected(ctx, st)
	}
	hours, ok := parseHours(text)
	if !ok {
		e.reply(ctx, st, msgBadHours)
		return nil
	}

	taskID := *st.selectedTaskID
	err := e.tasks.UpdateTaskActualHours(ctx, taskID, hours)
	if errors.Is(err, store.ErrNotFound) {
		return e.taskVanished(ctx, st)
	}
	if err != nil {
		return fmt.Errorf("updating actual hours of task %d: %w", taskID, err)
	}

	st.softReset()
	e.reply(ctx, st, msgHoursUpdated)
	return e.listTasks(ctx, st)
}

// parseHours accepts a finite, non-negative decimal. A decimal comma is allowed.
func parseHours(text string) (float64, bool) {
	s := strings.Replace(strings.TrimSpace(text), ",", ".", 1)
	h, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(h) || math.IsInf(h, 0) || h < 0 {
		return 0, false
	}
	return h, true
}
