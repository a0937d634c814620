// ABOUTME: Slash commands: /login, /logout, /start, /tasks, /whoami and /cancel
// ABOUTME: Commands are matched before phase routing and work in every phase

package bot

import (
	"context"
	"fmt"
	"strings"
)

type commandHandler func(ctx context.Context, st *ConversationState) error

func (e *Engine) commandTable() map[string]commandHandler {
	return map[string]commandHandler{
		"/login":  e.cmdLogin,
		"/logout": e.cmdLogout,
		"/start":  e.cmdTasks,
		"/tasks":  e.cmdTasks,
		"/whoami": e.cmdWhoAmI,
		"/cancel": e.cmdCancel,
	}
}

// parseCommand extracts a lower-cased command name from text. A "@botname"
// suffix is dropped and arguments are ignored.
func parseCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	name, _, _ := strings.Cut(fields[0], "@")
	if name == "/" {
		return "", false
	}
	return strings.ToLower(name), true
}

func (e *Engine) handleText(ctx context.Context, st *ConversationState, text string) error {
	if name, ok := parseCommand(text); ok {
		if cmd, ok := e.commands[name]; ok {
			return cmd(ctx, st)
		}
	}

	route, ok := e.text[st.phase]
	if !ok {
		e.reply(ctx, st, msgNotUnderstood)
		return nil
	}
	if route.requiresLogin && !st.loggedIn() {
		st.softReset()
		e.reply(ctx, st, msgLoginFirst)
		return nil
	}
	return route.handle(ctx, st, text)
}

func (e *Engine) cmdLogin(ctx context.Context, st *ConversationState) error {
	st.selectedTaskID = nil
	st.enter(PhaseAwaitingEmail)

	if !e.allowUserPicker {
		e.reply(ctx, st, msgAskEmail)
		return nil
	}

	users, err := e.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	buttons := make([]Button, 0, len(users))
	for _, u := range users {
		buttons = append(buttons, loginButton(u))
	}
	e.reply(ctx, st, msgAskEmailOrPick, buttons...)
	return nil
}

func (e *Engine) cmdLogout(ctx context.Context, st *ConversationState) error {
	if err := e.users.ClearConversationBinding(ctx, st.id); err != nil {
		return fmt.Errorf("clearing conversation binding: %w", err)
	}
	st.reset()
	e.reply(ctx, st, msgLoggedOut)
	return nil
}

func (e *Engine) cmdTasks(ctx context.Context, st *ConversationState) error {
	if !st.loggedIn() {
		e.reply(ctx, st, msgWelcomeLoggedOut)
		return nil
	}
	return e.listTasks(ctx, st)
}

func (e *Engine) cmdWhoAmI(ctx context.Context, st *ConversationState) error {
	if !st.loggedIn() {
		e.reply(ctx, st, msgNotLoggedIn)
		return nil
	}
	e.reply(ctx, st, fmt.Sprintf("You are logged in as %s.", st.userName))
	return nil
}

func (e *Engine) cmdCancel(ctx context.Context, st *ConversationState) error {
	busy := st.phase != PhaseNormal
	st.softReset()
	e.reply(ctx, st, msgCancelled)
	if busy && st.loggedIn() {
		return e.listTasks(ctx, st)
	}
	return nil
}
