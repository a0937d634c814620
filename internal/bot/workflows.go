// ABOUTME: Shared workflow steps: task list, task detail, selected-task checks and task commit
// ABOUTME: Helpers that send a reply and stop return a nil task with a nil error

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/taskbot/internal/store"
)

func (e *Engine) today() string {
	return e.now().Format(store.DateLayout)
}

// listTasks shows the tasks assigned to the logged-in user.
func (e *Engine) listTasks(ctx context.Context, st *ConversationState) error {
	if !st.loggedIn() {
		e.reply(ctx, st, msgLoginFirst)
		return nil
	}
	tasks, err := e.tasks.ListTasksAssignedTo(ctx, *st.userID)
	if err != nil {
		return fmt.Errorf("listing tasks of user %d: %w", *st.userID, err)
	}

	buttons := make([]Button, 0, len(tasks)+1)
	for _, t := range tasks {
		buttons = append(buttons, taskButton(t))
	}
	buttons = append(buttons, addTaskButton())

	text := msgTaskListHeader
	if len(tasks) == 0 {
		text = msgNoTasks
	}
	e.reply(ctx, st, text, buttons...)
	return nil
}

// showTask renders the task detail with its action buttons.
func (e *Engine) showTask(ctx context.Context, st *ConversationState, task *store.Task) error {
	sprintName := "No sprint"
	if task.SprintID != nil {
		sp, err := e.sprints.GetSprint(ctx, *task.SprintID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			sprintName = fmt.Sprintf("Sprint %d not found", *task.SprintID)
		case err != nil:
			return fmt.Errorf("loading sprint %d: %w", *task.SprintID, err)
		default:
			sprintName = sp.Name
		}
	}
	e.reply(ctx, st, renderTask(task, sprintName), taskDetailButtons()...)
	return nil
}

// requireSelectedTask loads the selected task. When there is none, or it has
// been deleted, the user is told and (nil, nil) is returned.
func (e *Engine) requireSelectedTask(ctx context.Context, st *ConversationState) (*store.Task, error) {
	if st.selectedTaskID == nil {
		return nil, e.noTaskSelected(ctx, st)
	}
	task, err := e.tasks.GetTask(ctx, *st.selectedTaskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, e.taskVanished(ctx, st)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %d: %w", *st.selectedTaskID, err)
	}
	return task, nil
}

func (e *Engine) noTaskSelected(ctx context.Context, st *ConversationState) error {
	st.softReset()
	e.reply(ctx, st, msgNoTaskSelected)
	return nil
}

func (e *Engine) taskVanished(ctx context.Context, st *ConversationState) error {
	st.softReset()
	e.reply(ctx, st, msgTaskVanished)
	return e.listTasks(ctx, st)
}

// commitDraft persists the draft as a Backlog task assigned to its creator.
func (e *Engine) commitDraft(ctx context.Context, st *ConversationState) error {
	d := st.draft
	if d == nil || strings.TrimSpace(d.Title) == "" {
		st.softReset()
		e.reply(ctx, st, msgDraftMissing)
		return nil
	}

	user, err := e.users.GetUser(ctx, *st.userID)
	if errors.Is(err, store.ErrNotFound) {
		st.softReset()
		e.reply(ctx, st, msgUnknownAccount)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading user %d: %w", *st.userID, err)
	}

	task := &store.Task{
		Title:          d.Title,
		Description:    d.Description,
		Tag:            d.Tag,
		Status:         store.StatusBacklog,
		StartDate:      e.today(),
		EstimatedHours: d.EstimatedHours,
		SprintID:       d.SprintID,
		TeamID:         user.TeamID,
		CreatorID:      user.ID,
		CreatorName:    user.Name,
	}
	id, err := e.tasks.CreateAssignedTask(ctx, task, user.ID)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	e.logger.Info("task created", "conversation_id", st.id, "task_id", id, "user_id", user.ID)

	st.softReset()
	st.selectTask(id)
	e.reply(ctx, st, fmt.Sprintf("Task %q created.", task.Title))
	return e.listTasks(ctx, st)
}
