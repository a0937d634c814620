// ABOUTME: Callback token vocabulary and button construction
// ABOUTME: Tokens are prefix+identifier strings echoed back verbatim by the transport

package bot

import (
	"strconv"
	"strings"

	"github.com/2389/taskbot/internal/store"
)

// MaxTokenBytes is the practical callback payload limit of chat transports.
// Longer tokens are logged, not rejected.
const MaxTokenBytes = 64

// Callback token prefixes and static tokens.
const (
	TokenLoginPrefix  = "login_"
	TokenTaskPrefix   = "task_"
	TokenSprintPrefix = "sprint_select_"
	TokenStatusPrefix = "status_select_"
	TokenTagPrefix    = "tag_select_"

	TokenNoSprint     = "no_sprint"
	TokenShowComments = "showComments"
	TokenAddComment   = "addComment"
	TokenAddTask      = "addTaskTitle"
	TokenChangeStatus = "change_status"
	TokenRealHours    = "real_hours"
	TokenBackToList   = "back_to_list"
	TokenBackToTask   = "back_to_task"
)

// Button is one row of a single-column keyboard.
type Button struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

func idToken(prefix string, id int64) string {
	return prefix + strconv.FormatInt(id, 10)
}

// parseID extracts the decimal identifier after prefix.
func parseID(token, prefix string) (int64, bool) {
	raw := strings.TrimPrefix(token, prefix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func loginButton(u *store.User) Button {
	return Button{Label: u.Name + " (" + u.Email + ")", Token: idToken(TokenLoginPrefix, u.ID)}
}

func taskButton(t *store.Task) Button {
	return Button{Label: t.Title + " [ID: " + strconv.FormatInt(t.ID, 10) + "]", Token: idToken(TokenTaskPrefix, t.ID)}
}

func sprintButton(sp *store.Sprint) Button {
	return Button{Label: sp.Name, Token: idToken(TokenSprintPrefix, sp.ID)}
}

func statusButtons() []Button {
	buttons := make([]Button, 0, len(store.TaskStatuses)+1)
	for _, st := range store.TaskStatuses {
		buttons = append(buttons, Button{Label: st.DisplayName(), Token: TokenStatusPrefix + string(st)})
	}
	return append(buttons, Button{Label: "« Back to task", Token: TokenBackToTask})
}

func tagButtons() []Button {
	buttons := make([]Button, 0, len(store.TaskTags))
	for _, tag := range store.TaskTags {
		buttons = append(buttons, Button{Label: tag, Token: TokenTagPrefix + tag})
	}
	return buttons
}

func addTaskButton() Button {
	return Button{Label: "+ Add task", Token: TokenAddTask}
}

func taskDetailButtons() []Button {
	return []Button{
		{Label: "Show comments", Token: TokenShowComments},
		{Label: "Add comment", Token: TokenAddComment},
		{Label: "Change status", Token: TokenChangeStatus},
		{Label: "Set actual hours", Token: TokenRealHours},
		{Label: "« Back to list", Token: TokenBackToList},
	}
}
