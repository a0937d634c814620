// ABOUTME: User-facing message texts and task/comment rendering
// ABOUTME: Output is plain text; transports may add their own formatting

package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/taskbot/internal/store"
)

const (
	msgGenericFailure   = "Something went wrong while processing your request. Please try again."
	msgNotUnderstood    = "Sorry, I didn't understand that. Use /tasks to see your tasks or /login to log in."
	msgNotRecognized    = "Sorry, that option is not available right now."
	msgLoginFirst       = "Please log in first with /login."
	msgWelcomeLoggedOut = "Welcome! Please log in with /login to manage your tasks."
	msgNotLoggedIn      = "You are not logged in. Use /login to log in."
	msgLoggedOut        = "You have been logged out."
	msgCancelled        = "Cancelled."

	msgAskEmail         = "Please enter your email:"
	msgAskEmailOrPick   = "Please enter your email, or pick your account:"
	msgAskPassword      = "Now enter your password:"
	msgLoginRestart     = "Your login attempt expired. Please start again with /login."
	msgAuthFailed       = "Authentication failed: wrong email or password. Use /login to try again."
	msgBadUserSelection = "Internal error: that account could not be selected. Please try /login again."

	msgTaskListHeader = "Your tasks:"
	msgNoTasks        = "You have no assigned tasks yet."
	msgInvalidTask    = "Invalid task selection."
	msgTaskNotFound   = "Task not found."
	msgNoTaskSelected = "No task is selected. Use /tasks and pick one first."
	msgTaskVanished   = "The selected task no longer exists."

	msgCommentAdded = "Comment added."
	msgHoursUpdated = "Actual hours updated."
	msgBadHours     = "Please enter a non-negative number of hours, for example 4.5."
	msgBadStatus    = "Unknown status. Please choose one of the options:"

	msgAskTitle       = "Enter the title of the new task:"
	msgAskDescription = "Enter a description for the task:"
	msgAskEstimate    = "How many hours do you estimate it will take?"
	msgAskTag         = "Choose a tag:"
	msgBadTag         = "Unknown tag. Please choose one of the options:"
	msgAskSprint      = "Choose a sprint for the task:"
	msgBadSprint      = "That sprint is not available. Please choose another one."
	msgDraftMissing   = "There is no task being created. Use + Add task to start again."
	msgUnknownAccount = "Could not resolve your account, the task was not created."
)

const missing = "-"

func formatHours(h *float64) string {
	if h == nil {
		return missing
	}
	return strconv.FormatFloat(*h, 'f', -1, 64)
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return missing
	}
	return s
}

// renderTask formats the task detail view.
func renderTask(t *store.Task, sprintName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task #%d: %s\n", t.ID, t.Title)
	fmt.Fprintf(&b, "Description: %s\n", orMissing(t.Description))
	fmt.Fprintf(&b, "Tag: %s\n", orMissing(t.Tag))
	fmt.Fprintf(&b, "Sprint: %s\n", sprintName)
	fmt.Fprintf(&b, "Status: %s\n", t.Status.DisplayName())
	fmt.Fprintf(&b, "Start date: %s\n", orMissing(t.StartDate))
	end := missing
	if t.EndDate != nil {
		end = orMissing(*t.EndDate)
	}
	fmt.Fprintf(&b, "End date: %s\n", end)
	fmt.Fprintf(&b, "Estimated hours: %s\n", formatHours(t.EstimatedHours))
	fmt.Fprintf(&b, "Actual hours: %s", formatHours(t.ActualHours))
	return b.String()
}

// renderComments lists comments as "[author]: text".
func renderComments(t *store.Task, comments []*store.Comment) string {
	if len(comments) == 0 {
		return fmt.Sprintf("No comments yet on %q.", t.Title)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Comments on %q:", t.Title)
	for _, c := range comments {
		author := c.AuthorName
		if author == "" {
			author = "Unknown"
		}
		fmt.Fprintf(&b, "\n[%s]: %s", author, c.Content)
	}
	return b.String()
}
