// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers users, bindings, atomic task creation, comments, sprints and the ledger

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
	assert.NoError(t, store.Ping(context.Background()))
}

func TestCreateAndGetUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	team := createTestTeam(t, store, "Frontend")
	user := &User{Name: "Dev", Email: "  Dev@Example.COM ", PasswordHash: "hash", TeamID: &team.ID}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.NotZero(t, user.ID)
	assert.Equal(t, "dev@example.com", user.Email)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dev", got.Name)
	assert.Equal(t, RoleDeveloper, got.Role)
	require.NotNil(t, got.TeamID)
	assert.Equal(t, team.ID, *got.TeamID)
	assert.Nil(t, got.ConversationID)

	byEmail, err := store.GetUserByEmail(ctx, "DEV@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = store.GetUser(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &User{Name: "A", Email: "a@example.com", PasswordHash: "x"}))
	err := store.CreateUser(ctx, &User{Name: "B", Email: "A@example.com", PasswordHash: "y"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestBindConversation_ReleasesPreviousHolder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alice := createTestUser(t, store, "alice@example.com", nil)
	bob := createTestUser(t, store, "bob@example.com", nil)

	require.NoError(t, store.BindConversation(ctx, alice.ID, "telegram:1"))
	got, err := store.GetUserByConversation(ctx, "telegram:1")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	require.NoError(t, store.BindConversation(ctx, bob.ID, "telegram:1"))
	got, err = store.GetUserByConversation(ctx, "telegram:1")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ID)

	a, err := store.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, a.ConversationID)

	// rebinding a user moves them to the new conversation
	require.NoError(t, store.BindConversation(ctx, bob.ID, "telegram:2"))
	_, err = store.GetUserByConversation(ctx, "telegram:1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.BindConversation(ctx, 9999, "telegram:3"), ErrNotFound)
}

func TestClearConversationBinding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, store, "u@example.com", nil)
	require.NoError(t, store.BindConversation(ctx, u.ID, "matrix:!room:hs"))
	require.NoError(t, store.ClearConversationBinding(ctx, "matrix:!room:hs"))

	_, err := store.GetUserByConversation(ctx, "matrix:!room:hs")
	assert.ErrorIs(t, err, ErrNotFound)

	// clearing an unbound conversation is fine
	assert.NoError(t, store.ClearConversationBinding(ctx, "matrix:!other:hs"))
}

func TestGetUserTeamID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	team := createTestTeam(t, store, "Backend")
	member := createTestUser(t, store, "m@example.com", &team.ID)
	loner := createTestUser(t, store, "l@example.com", nil)

	teamID, err := store.GetUserTeamID(ctx, member.ID)
	require.NoError(t, err)
	require.NotNil(t, teamID)
	assert.Equal(t, team.ID, *teamID)

	teamID, err = store.GetUserTeamID(ctx, loner.ID)
	require.NoError(t, err)
	assert.Nil(t, teamID)

	_, err = store.GetUserTeamID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAssignedTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, store, "creator@example.com", nil)
	est := 4.5
	task := &Task{
		Title:          "Fix bug",
		Description:    "desc",
		Tag:            TagFeature,
		StartDate:      "2026-01-02",
		EstimatedHours: &est,
		CreatorID:      u.ID,
		CreatorName:    u.Name,
	}

	id, err := store.CreateAssignedTask(ctx, task, u.ID)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)

	got, err := store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Fix bug", got.Title)
	assert.Equal(t, StatusBacklog, got.Status)
	require.NotNil(t, got.EstimatedHours)
	assert.InDelta(t, 4.5, *got.EstimatedHours, 0.0001)
	assert.Nil(t, got.ActualHours)
	assert.Nil(t, got.EndDate)
	assert.Nil(t, got.SprintID)

	assignees, err := store.ListTaskAssignees(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int64{u.ID}, assignees)

	tasks, err := store.ListTasksAssignedTo(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)
}

func TestCreateAssignedTask_RollsBackWithoutAssignee(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, store, "creator@example.com", nil)
	task := &Task{Title: "Orphan", StartDate: "2026-01-02", CreatorID: u.ID, CreatorName: u.Name}

	_, err := store.CreateAssignedTask(ctx, task, 9999)
	require.Error(t, err)

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&count))
	assert.Zero(t, count, "task row must not survive a failed assignee insert")
}

func TestTaskUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, store, "u@example.com", nil)
	id, err := store.InsertTask(ctx, &Task{Title: "T", StartDate: "2026-01-02", CreatorID: u.ID, CreatorName: u.Name})
	require.NoError(t, err)
	require.NoError(t, store.AddTaskAssignee(ctx, id, u.ID))
	require.NoError(t, store.AddTaskAssignee(ctx, id, u.ID))

	require.NoError(t, store.UpdateTaskStatus(ctx, id, StatusCompleted))
	require.NoError(t, store.UpdateTaskEndDate(ctx, id, "2026-02-03"))
	require.NoError(t, store.UpdateTaskActualHours(ctx, id, 7.25))

	got, err := store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, "2026-02-03", *got.EndDate)
	require.NotNil(t, got.ActualHours)
	assert.InDelta(t, 7.25, *got.ActualHours, 0.0001)

	assignees, err := store.ListTaskAssignees(ctx, id)
	require.NoError(t, err)
	assert.Len(t, assignees, 1)

	assert.ErrorIs(t, store.UpdateTaskStatus(ctx, 9999, StatusBacklog), ErrNotFound)
	assert.ErrorIs(t, store.UpdateTaskActualHours(ctx, 9999, 1), ErrNotFound)
}

func TestChangeTaskStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, store, "u@example.com", nil)
	id, err := store.InsertTask(ctx, &Task{Title: "T", StartDate: "2026-01-02", CreatorID: u.ID, CreatorName: u.Name})
	require.NoError(t, err)

	done := "2026-02-03"
	require.NoError(t, store.ChangeTaskStatus(ctx, id, StatusCompleted, &done))
	got, err := store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.EndDate)
	assert.Equal(t, done, *got.EndDate)

	require.NoError(t, store.ChangeTaskStatus(ctx, id, StatusInProgress, nil))
	got, err = store.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Nil(t, got.EndDate, "reopening clears the end date")

	assert.ErrorIs(t, store.ChangeTaskStatus(ctx, 9999, StatusBacklog, nil), ErrNotFound)
}

func TestComments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, store, "u@example.com", nil)
	id, err := store.InsertTask(ctx, &Task{Title: "T", StartDate: "2026-01-02", CreatorID: u.ID, CreatorName: u.Name})
	require.NoError(t, err)

	for _, text := range []string{"first", "second"} {
		require.NoError(t, store.CreateComment(ctx, &Comment{TaskID: id, AuthorID: u.ID, AuthorName: u.Name, Content: text}))
	}

	comments, err := store.ListComments(ctx, id)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Content)
	assert.Equal(t, "second", comments[1].Content)
	assert.Equal(t, u.Name, comments[0].AuthorName)
}

func TestSprints(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	team := createTestTeam(t, store, "Frontend")
	other := createTestTeam(t, store, "Backend")
	sp := &Sprint{TeamID: team.ID, Name: "Sprint 1", StartDate: "2026-01-01", EndDate: "2026-01-14"}
	require.NoError(t, store.CreateSprint(ctx, sp))
	require.NoError(t, store.CreateSprint(ctx, &Sprint{TeamID: other.ID, Name: "Other"}))

	sprints, err := store.ListSprintsByTeam(ctx, team.ID)
	require.NoError(t, err)
	require.Len(t, sprints, 1)
	assert.Equal(t, "Sprint 1", sprints[0].Name)
	assert.Equal(t, "planned", sprints[0].Status)

	got, err := store.GetSprint(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, team.ID, got.TeamID)

	_, err = store.GetSprint(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBotEvents_OrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	for i, body := range []string{"one", "two", "three"} {
		require.NoError(t, store.SaveBotEvent(ctx, &BotEvent{
			ID:             body,
			ConversationID: "telegram:1",
			Direction:      EventDirectionInbound,
			Kind:           EventKindText,
			Body:           body,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.SaveBotEvent(ctx, &BotEvent{
		ID: "other", ConversationID: "telegram:2", Direction: EventDirectionOutbound, Kind: EventKindMessage, Body: "x",
	}))

	events, err := store.ListBotEvents(ctx, "telegram:1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "two", events[0].Body)
	assert.Equal(t, "three", events[1].Body)

	events, err = store.ListBotEvents(ctx, "telegram:1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestSeed_Idempotent(t *testing.T) {
	SeedHashCost = 4
	store := newTestStore(t)
	ctx := context.Background()

	seeded, err := Seed(ctx, store)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = Seed(ctx, store)
	require.NoError(t, err)
	assert.False(t, seeded)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 5)

	dev1, err := store.GetUserByEmail(ctx, "dev1@example.com")
	require.NoError(t, err)
	require.NotNil(t, dev1.TeamID)
	assert.True(t, dev1.Lead)

	sprints, err := store.ListSprintsByTeam(ctx, *dev1.TeamID)
	require.NoError(t, err)
	assert.Len(t, sprints, 1)

	tasks, err := store.ListTasksAssignedTo(ctx, dev1.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

// newTestStore creates a SQLiteStore in a temporary directory.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestTeam(t *testing.T, s *SQLiteStore, name string) *Team {
	t.Helper()
	team := &Team{Name: name}
	require.NoError(t, s.CreateTeam(context.Background(), team))
	return team
}

func createTestUser(t *testing.T, s *SQLiteStore, email string, teamID *int64) *User {
	t.Helper()
	u := &User{Name: email, Email: email, PasswordHash: "hash", TeamID: teamID}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}
