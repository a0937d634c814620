// ABOUTME: Button callback routing: an ordered table of token matchers with login and phase guards
// ABOUTME: Unknown tokens and tokens pressed in the wrong phase change nothing

package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/2389/taskbot/internal/store"
)

type callbackRoute struct {
	name   string
	exact  string // matches the whole token
	prefix string // matches a leading prefix; the rest is passed as arg
	public bool   // usable without being logged in
	phases []Phase
	handle func(ctx context.Context, st *ConversationState, arg string) error
}

func (r callbackRoute) match(token string) (string, bool) {
	if r.exact != "" {
		return "", token == r.exact
	}
	if r.prefix != "" && strings.HasPrefix(token, r.prefix) {
		return strings.TrimPrefix(token, r.prefix), true
	}
	return "", false
}

func (e *Engine) callbackTable() []callbackRoute {
	var routes []callbackRoute
	if e.allowUserPicker {
		routes = append(routes, callbackRoute{name: "login", prefix: TokenLoginPrefix, public: true, handle: e.cbLogin})
	}
	return append(routes,
		callbackRoute{name: "task", prefix: TokenTaskPrefix, handle: e.cbSelectTask},
		callbackRoute{name: "show_comments", exact: TokenShowComments, handle: e.cbShowComments},
		callbackRoute{name: "add_comment", exact: TokenAddComment, handle: e.cbAddComment},
		callbackRoute{name: "add_task", exact: TokenAddTask, handle: e.cbAddTask},
		callbackRoute{name: "no_sprint", exact: TokenNoSprint, phases: []Phase{PhaseAddingTaskSprint}, handle: e.cbNoSprint},
		callbackRoute{name: "sprint", prefix: TokenSprintPrefix, phases: []Phase{PhaseAddingTaskSprint}, handle: e.cbSprint},
		callbackRoute{name: "change_status", exact: TokenChangeStatus, handle: e.cbChangeStatus},
		callbackRoute{name: "status", prefix: TokenStatusPrefix, handle: e.cbStatus},
		callbackRoute{name: "tag", prefix: TokenTagPrefix, phases: wizardPhases, handle: e.cbTag},
		callbackRoute{name: "real_hours", exact: TokenRealHours, handle: e.cbRealHours},
		callbackRoute{name: "back_to_list", exact: TokenBackToList, handle: e.cbBackToList},
		callbackRoute{name: "back_to_task", exact: TokenBackToTask, handle: e.cbBackToTask},
	)
}

func (e *Engine) handleCallback(ctx context.Context, st *ConversationState, token string) error {
	for _, route := range e.callbacks {
		arg, ok := route.match(token)
		if !ok {
			continue
		}
		if !route.public && !st.loggedIn() {
			e.reply(ctx, st, msgLoginFirst)
			return nil
		}
		if len(route.phases) > 0 && !slices.Contains(route.phases, st.phase) {
			e.logger.Debug("callback outside its phase", "conversation_id", st.id, "route", route.name, "phase", st.phase)
			e.reply(ctx, st, msgNotRecognized)
			return nil
		}
		return route.handle(ctx, st, arg)
	}

	e.reply(ctx, st, msgNotRecognized)
	return nil
}

func (e *Engine) cbLogin(ctx context.Context, st *ConversationState, arg string) error {
	id, ok := parseID(arg, "")
	if !ok {
		e.reply(ctx, st, msgBadUserSelection)
		return nil
	}
	user, err := e.users.GetUser(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		e.reply(ctx, st, msgBadUserSelection)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading user %d: %w", id, err)
	}

	if err := e.users.BindConversation(ctx, user.ID, st.id); err != nil {
		return fmt.Errorf("binding conversation: %w", err)
	}
	st.softReset()
	st.login(user.ID, user.Name)
	e.logger.Info("user logged in via picker", "conversation_id", st.id, "user_id", user.ID)

	e.reply(ctx, st, fmt.Sprintf("Welcome, %s!", user.Name))
	return e.listTasks(ctx, st)
}

func (e *Engine) cbSelectTask(ctx context.Context, st *ConversationState, arg string) error {
	id, ok := parseID(arg, "")
	if !ok {
		e.reply(ctx, st, msgInvalidTask)
		return nil
	}
	task, err := e.tasks.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		e.reply(ctx, st, msgTaskNotFound)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading task %d: %w", id, err)
	}

	st.enter(PhaseNormal)
	st.selectTask(task.ID)
	return e.showTask(ctx, st, task)
}

func (e *Engine) cbShowComments(ctx context.Context, st *ConversationState, _ string) error {
	task, err := e.requireSelectedTask(ctx, st)
	if task == nil {
		return err
	}
	comments, err := e.comments.ListComments(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("listing comments of task %d: %w", task.ID, err)
	}
	e.reply(ctx, st, renderComments(task, comments))
	return e.showTask(ctx, st, task)
}

func (e *Engine) cbAddComment(ctx context.Context, st *ConversationState, _ string) error {
	task, err := e.requireSelectedTask(ctx, st)
	if task == nil {
		return err
	}
	st.enter(PhaseAddingComment)
	e.reply(ctx, st, fmt.Sprintf("Write your comment for %q:", task.Title))
	return nil
}

func (e *Engine) cbAddTask(ctx context.Context, st *ConversationState, _ string) error {
	st.draft = nil
	st.enter(PhaseAddingTaskTitle)
	e.reply(ctx, st, msgAskTitle)
	return nil
}

func (e *Engine) cbNoSprint(ctx context.Context, st *ConversationState, _ string) error {
	st.draft.SprintChosen = true
	st.draft.SprintID = nil
	return e.commitDraft(ctx, st)
}

func (e *Engine) cbSprint(ctx context.Context, st *ConversationState, arg string) error {
	id, ok := parseID(arg, "")
	if !ok {
		e.reply(ctx, st, msgBadSprint)
		return nil
	}
	sprint, err := e.sprints.GetSprint(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		e.reply(ctx, st, msgBadSprint)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading sprint %d: %w", id, err)
	}

	st.draft.SprintChosen = true
	st.draft.SprintID = &sprint.ID
	return e.commitDraft(ctx, st)
}

func (e *Engine) cbChangeStatus(ctx context.Context, st *ConversationState, _ string) error {
	task, err := e.requireSelectedTask(ctx, st)
	if task == nil {
		return err
	}
	st.enter(PhaseNormal)
	e.reply(ctx, st, fmt.Sprintf("Current status: %s. Choose the new status:", task.Status.DisplayName()), statusButtons()...)
	return nil
}

func (e *Engine) cbStatus(ctx context.Context, st *ConversationState, arg string) error {
	task, err := e.requireSelectedTask(ctx, st)
	if task == nil {
		return err
	}
	status, ok := store.ParseTaskStatus(arg)
	if !ok {
		e.reply(ctx, st, msgBadStatus, statusButtons()...)
		return nil
	}

	// only completed tasks carry an end date
	var endDate *string
	if status == store.StatusCompleted {
		today := e.today()
		endDate = &today
	}
	err = e.tasks.ChangeTaskStatus(ctx, task.ID, status, endDate)
	if errors.Is(err, store.ErrNotFound) {
		return e.taskVanished(ctx, st)
	}
	if err != nil {
		return fmt.Errorf("updating status of task %d: %w", task.ID, err)
	}

	st.enter(PhaseNormal)
	e.reply(ctx, st, fmt.Sprintf("Status of %q changed to %s.", task.Title, status.DisplayName()))
	return e.listTasks(ctx, st)
}

func (e *Engine) cbTag(ctx context.Context, st *ConversationState, arg string) error {
	tag, ok := store.ParseTag(arg)
	if !ok {
		e.reply(ctx, st, msgBadTag, tagButtons()...)
		return nil
	}
	st.draft.Tag = tag
	st.enter(PhaseAddingTaskSprint)

	teamID, err := e.users.GetUserTeamID(ctx, *st.userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("loading team of user %d: %w", *st.userID, err)
	}
	if teamID == nil {
		st.draft.SprintChosen = true
		return e.commitDraft(ctx, st)
	}

	sprints, err := e.sprints.ListSprintsByTeam(ctx, *teamID)
	if err != nil {
		return fmt.Errorf("listing sprints of team %d: %w", *teamID, err)
	}
	if len(sprints) == 0 {
		st.draft.SprintChosen = true
		return e.commitDraft(ctx, st)
	}

	buttons := make([]Button, 0, len(sprints)+1)
	for _, sp := range sprints {
		buttons = append(buttons, sprintButton(sp))
	}
	buttons = append(buttons, Button{Label: "No sprint", Token: TokenNoSprint})
	e.reply(ctx, st, msgAskSprint, buttons...)
	return nil
}

func (e *Engine) cbRealHours(ctx context.Context, st *ConversationState, _ string) error {
	task, err := e.requireSelectedTask(ctx, st)
	if task == nil {
		return err
	}
	st.enter(PhaseAddingRealHours)
	e.reply(ctx, st, fmt.Sprintf("How many hours did %q actually take?", task.Title))
	return nil
}

func (e *Engine) cbBackToList(ctx context.Context, st *ConversationState, _ string) error {
	st.softReset()
	return e.listTasks(ctx, st)
}

func (e *Engine) cbBackToTask(ctx context.Context, st *ConversationState, _ string) error {
	task, err := e.requireSelectedTask(ctx, st)
	if task == nil {
		return err
	}
	st.enter(PhaseNormal)
	return e.showTask(ctx, st, task)
}
