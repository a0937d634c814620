// ABOUTME: Store interface and data types for taskbot persistence
// ABOUTME: Defines users, teams, sprints, tasks, comments and the Store interface

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when creating a user whose email is taken
var ErrDuplicateEmail = errors.New("email already registered")

// DateLayout is the layout of calendar dates stored on tasks and sprints.
const DateLayout = "2006-01-02"

// Role distinguishes managers from developers.
type Role string

const (
	RoleManager   Role = "manager"
	RoleDeveloper Role = "developer"
)

// User is a person who can log in to the bot.
type User struct {
	ID             int64
	Name           string
	Email          string // stored lower-cased
	PasswordHash   string // bcrypt
	Role           Role
	TeamID         *int64
	Lead           bool
	ConversationID *string // chat conversation currently bound to this user
	CreatedAt      time.Time
}

// Team groups developers; sprints belong to a team.
type Team struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Sprint is a time-boxed iteration of a team.
type Sprint struct {
	ID        int64
	TeamID    int64
	Name      string
	Status    string // planned, active, closed
	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD
}

// TaskStatus is the workflow status of a task.
type TaskStatus string

const (
	StatusBacklog    TaskStatus = "BACKLOG"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// TaskStatuses lists every status in workflow order.
var TaskStatuses = []TaskStatus{StatusBacklog, StatusInProgress, StatusCompleted, StatusCancelled}

// DisplayName returns the human readable label of the status.
func (s TaskStatus) DisplayName() string {
	switch s {
	case StatusBacklog:
		return "Backlog"
	case StatusInProgress:
		return "In progress"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// ParseTaskStatus converts a status name (case-insensitive) into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for _, st := range TaskStatuses {
		if string(st) == upper {
			return st, true
		}
	}
	return "", false
}

// Task tags.
const (
	TagFeature = "Feature"
	TagIssue   = "Issue"
)

// TaskTags lists the allowed tags.
var TaskTags = []string{TagFeature, TagIssue}

// ParseTag matches s against the allowed tags, ignoring case.
func ParseTag(s string) (string, bool) {
	for _, tag := range TaskTags {
		if strings.EqualFold(tag, strings.TrimSpace(s)) {
			return tag, true
		}
	}
	return "", false
}

// Task is a unit of work assigned to one or more users.
type Task struct {
	ID             int64
	Title          string
	Description    string
	Tag            string
	Status         TaskStatus
	StartDate      string  // YYYY-MM-DD
	EndDate        *string // set when the task is completed
	EstimatedHours *float64
	ActualHours    *float64
	SprintID       *int64
	TeamID         *int64
	CreatorID      int64
	CreatorName    string
	CreatedAt      time.Time
}

// Comment is a note left on a task.
type Comment struct {
	ID         int64
	TaskID     int64
	AuthorID   int64
	AuthorName string
	Content    string
	CreatedAt  time.Time
}

// UserStore handles users, teams and conversation bindings.
type UserStore interface {
	CreateTeam(ctx context.Context, team *Team) error
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	GetUserByConversation(ctx context.Context, conversationID string) (*User, error)
	BindConversation(ctx context.Context, userID int64, conversationID string) error
	ClearConversationBinding(ctx context.Context, conversationID string) error
	GetUserTeamID(ctx context.Context, userID int64) (*int64, error)
}

// TaskStore handles tasks and their assignees.
type TaskStore interface {
	GetTask(ctx context.Context, id int64) (*Task, error)
	ListTasksAssignedTo(ctx context.Context, userID int64) ([]*Task, error)
	InsertTask(ctx context.Context, task *Task) (int64, error)
	AddTaskAssignee(ctx context.Context, taskID, userID int64) error
	CreateAssignedTask(ctx context.Context, task *Task, assigneeID int64) (int64, error)
	ListTaskAssignees(ctx context.Context, taskID int64) ([]int64, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status TaskStatus) error
	UpdateTaskEndDate(ctx context.Context, taskID int64, date string) error
	ChangeTaskStatus(ctx context.Context, taskID int64, status TaskStatus, endDate *string) error
	UpdateTaskActualHours(ctx context.Context, taskID int64, hours float64) error
}

// CommentStore handles task comments.
type CommentStore interface {
	ListComments(ctx context.Context, taskID int64) ([]*Comment, error)
	CreateComment(ctx context.Context, comment *Comment) error
}

// SprintStore handles sprints.
type SprintStore interface {
	CreateSprint(ctx context.Context, sprint *Sprint) error
	ListSprintsByTeam(ctx context.Context, teamID int64) ([]*Sprint, error)
	GetSprint(ctx context.Context, id int64) (*Sprint, error)
}

// Store combines every persistence concern of the bot.
type Store interface {
	UserStore
	TaskStore
	CommentStore
	SprintStore
	EventStore

	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error

	// Close closes the underlying database connection
	Close() error
}
