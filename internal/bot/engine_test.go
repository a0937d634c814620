// ABOUTME: Tests for the conversation engine
// ABOUTME: Drives full chat scenarios against the in-memory store and a recording gateway

package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/taskbot/internal/auth"
	"github.com/2389/taskbot/internal/store"
)

const testConv = "telegram:100"

type sentMessage struct {
	ConversationID string
	Text           string
	Buttons        []Button
}

// recordingGateway captures every outbound message.
type recordingGateway struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (g *recordingGateway) Send(ctx context.Context, conversationID, text string, buttons []Button) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{ConversationID: conversationID, Text: text, Buttons: buttons})
	return g.err
}

func (g *recordingGateway) all() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

func (g *recordingGateway) last(t *testing.T) sentMessage {
	t.Helper()
	msgs := g.all()
	require.NotEmpty(t, msgs, "no message was sent")
	return msgs[len(msgs)-1]
}

func (g *recordingGateway) texts() []string {
	var out []string
	for _, m := range g.all() {
		out = append(out, m.Text)
	}
	return out
}

func (g *recordingGateway) clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = nil
}

func tokens(buttons []Button) []string {
	out := make([]string, 0, len(buttons))
	for _, b := range buttons {
		out = append(out, b.Token)
	}
	return out
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *store.MockStore
	gw     *recordingGateway
	engine *Engine

	team   *store.Team
	sprint *store.Sprint
	dev1   *store.User
	taskID int64
}

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMockStore()

	team := &store.Team{Name: "Backend"}
	require.NoError(t, ms.CreateTeam(ctx, team))
	sprint := &store.Sprint{TeamID: team.ID, Name: "Backend Sprint 1", Status: "active"}
	require.NoError(t, ms.CreateSprint(ctx, sprint))

	hash, err := bcrypt.GenerateFromPassword([]byte("dev123"), bcrypt.MinCost)
	require.NoError(t, err)
	dev1 := &store.User{
		Name:         "Dev One",
		Email:        "dev1@example.com",
		PasswordHash: string(hash),
		Role:         store.RoleDeveloper,
		TeamID:       &team.ID,
	}
	require.NoError(t, ms.CreateUser(ctx, dev1))

	taskID, err := ms.CreateAssignedTask(ctx, &store.Task{
		Title:       "Onboarding",
		Description: "Read the handbook",
		Tag:         store.TagFeature,
		Status:      store.StatusBacklog,
		StartDate:   "2026-03-01",
		TeamID:      &team.ID,
		CreatorID:   dev1.ID,
		CreatorName: dev1.Name,
	}, dev1.ID)
	require.NoError(t, err)

	f := &fixture{
		t:      t,
		ctx:    ctx,
		store:  ms,
		gw:     &recordingGateway{},
		team:   team,
		sprint: sprint,
		dev1:   dev1,
		taskID: taskID,
	}
	f.engine = f.newEngine(opts...)
	return f
}

// newEngine builds an engine over the fixture's store, as after a restart.
func (f *fixture) newEngine(opts ...func(*Options)) *Engine {
	f.t.Helper()
	o := Options{Now: func() time.Time { return testNow }}
	for _, fn := range opts {
		fn(&o)
	}
	e, err := NewEngine(Deps{
		Users:       f.store,
		Tasks:       f.store,
		Comments:    f.store,
		Sprints:     f.store,
		Credentials: auth.NewPasswordVerifier(f.store),
		Gateway:     f.gw,
		Recorder:    f.store,
	}, o, testLogger())
	require.NoError(f.t, err)
	return e
}

func (f *fixture) text(text string) {
	f.engine.Dispatch(f.ctx, TextEvent{Conversation: testConv, Text: text})
}

func (f *fixture) press(token string) {
	f.engine.Dispatch(f.ctx, CallbackEvent{Conversation: testConv, Token: token})
}

func (f *fixture) snap() Snapshot {
	return f.engine.Table().GetOrCreate(testConv).Snapshot()
}

func (f *fixture) login() {
	f.t.Helper()
	f.text("/login")
	f.text("dev1@example.com")
	f.text("dev123")
	require.NotNil(f.t, f.snap().UserID, "login failed")
	f.gw.clear()
}

func (f *fixture) selectTask() {
	f.t.Helper()
	f.press(TokenTaskPrefix + strconv.FormatInt(f.taskID, 10))
	require.NotNil(f.t, f.snap().SelectedTaskID)
}

func TestNewEngine_RequiresDeps(t *testing.T) {
	_, err := NewEngine(Deps{}, Options{}, nil)
	assert.Error(t, err)
}

func TestLoginAndList(t *testing.T) {
	f := newFixture(t)

	f.text("/login")
	snap := f.snap()
	assert.Equal(t, PhaseAwaitingEmail, snap.Phase)
	require.NotNil(t, snap.PendingLoginEmail)
	assert.Equal(t, "", *snap.PendingLoginEmail)
	assert.Equal(t, msgAskEmail, f.gw.last(t).Text)
	assert.Empty(t, f.gw.last(t).Buttons)

	f.text("  DEV1@Example.com ")
	snap = f.snap()
	assert.Equal(t, PhaseAwaitingPassword, snap.Phase)
	require.NotNil(t, snap.PendingLoginEmail)
	assert.Equal(t, "dev1@example.com", *snap.PendingLoginEmail)

	f.text("dev123")
	snap = f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	require.NotNil(t, snap.UserID)
	assert.Equal(t, f.dev1.ID, *snap.UserID)
	assert.Equal(t, "Dev One", snap.UserName)
	assert.Nil(t, snap.PendingLoginEmail)

	last := f.gw.last(t)
	assert.Equal(t, msgTaskListHeader, last.Text)
	assert.Equal(t, []string{TokenTaskPrefix + strconv.FormatInt(f.taskID, 10), TokenAddTask}, tokens(last.Buttons))
	assert.Equal(t, "Onboarding [ID: "+strconv.FormatInt(f.taskID, 10)+"]", last.Buttons[0].Label)

	bound, err := f.store.GetUserByConversation(f.ctx, testConv)
	require.NoError(t, err)
	assert.Equal(t, f.dev1.ID, bound.ID)
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newFixture(t)

	f.text("/login")
	f.text("dev1@example.com")
	f.text("nope")

	snap := f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Nil(t, snap.UserID)
	assert.Nil(t, snap.PendingLoginEmail)
	assert.Equal(t, msgAuthFailed, f.gw.last(t).Text)
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newFixture(t)

	f.text("/login")
	f.text("ghost@example.com")
	f.text("dev123")

	assert.Nil(t, f.snap().UserID)
	assert.Equal(t, msgAuthFailed, f.gw.last(t).Text)
}

func TestLogin_PasswordIsRedactedInLedger(t *testing.T) {
	f := newFixture(t)
	f.login()

	events, err := f.store.ListBotEvents(f.ctx, testConv, 0)
	require.NoError(t, err)

	var inbound []string
	for _, ev := range events {
		if ev.Direction == store.EventDirectionInbound {
			inbound = append(inbound, ev.Body)
		}
	}
	assert.Equal(t, []string{"/login", "dev1@example.com", redacted}, inbound)
}

func TestLogin_RestoredAfterRestart(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.engine = f.newEngine()
	f.text("/whoami")

	assert.Equal(t, "You are logged in as Dev One.", f.gw.last(t).Text)
	snap := f.snap()
	require.NotNil(t, snap.UserID)
	assert.Equal(t, f.dev1.ID, *snap.UserID)
}

func TestLogin_UserPicker(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AllowUserPicker = true })

	f.text("/login")
	last := f.gw.last(t)
	assert.Equal(t, msgAskEmailOrPick, last.Text)
	require.Len(t, last.Buttons, 1)
	assert.Equal(t, "Dev One (dev1@example.com)", last.Buttons[0].Label)

	f.press(last.Buttons[0].Token)
	snap := f.snap()
	require.NotNil(t, snap.UserID)
	assert.Equal(t, f.dev1.ID, *snap.UserID)
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Equal(t, msgTaskListHeader, f.gw.last(t).Text)
}

func TestLogin_PickerUnknownUser(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AllowUserPicker = true })

	f.press(TokenLoginPrefix + "9999")
	assert.Equal(t, msgBadUserSelection, f.gw.last(t).Text)
	assert.Nil(t, f.snap().UserID)

	f.press(TokenLoginPrefix + "abc")
	assert.Equal(t, msgBadUserSelection, f.gw.last(t).Text)
}

func TestLogin_PickerDisabled(t *testing.T) {
	f := newFixture(t)

	f.press(TokenLoginPrefix + strconv.FormatInt(f.dev1.ID, 10))
	assert.Equal(t, msgNotRecognized, f.gw.last(t).Text)
	assert.Nil(t, f.snap().UserID)
}

func TestCreateTaskWizard(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.press(TokenAddTask)
	snap := f.snap()
	assert.Equal(t, PhaseAddingTaskTitle, snap.Phase)
	require.NotNil(t, snap.Draft)

	f.text("Write docs")
	assert.Equal(t, PhaseAddingTaskDescription, f.snap().Phase)

	f.text("User guide for the bot")
	assert.Equal(t, PhaseAddingTaskEstimatedHours, f.snap().Phase)

	draft := f.snap().Draft
	f.text("lots")
	assert.Equal(t, PhaseAddingTaskEstimatedHours, f.snap().Phase)
	assert.Equal(t, msgBadHours, f.gw.last(t).Text)
	assert.Equal(t, draft, f.snap().Draft, "a rejected number leaves the draft alone")

	f.text("-2")
	assert.Equal(t, PhaseAddingTaskEstimatedHours, f.snap().Phase)

	f.text("3.5")
	snap = f.snap()
	assert.Equal(t, PhaseAddingTaskTag, snap.Phase)
	require.NotNil(t, snap.Draft.EstimatedHours)
	assert.Equal(t, 3.5, *snap.Draft.EstimatedHours)
	assert.Equal(t, []string{"tag_select_Feature", "tag_select_Issue"}, tokens(f.gw.last(t).Buttons))

	f.press("tag_select_Feature")
	assert.Equal(t, PhaseAddingTaskSprint, f.snap().Phase)
	sprintToken := TokenSprintPrefix + strconv.FormatInt(f.sprint.ID, 10)
	assert.Equal(t, []string{sprintToken, TokenNoSprint}, tokens(f.gw.last(t).Buttons))

	f.press(sprintToken)
	snap = f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Nil(t, snap.Draft)
	require.NotNil(t, snap.SelectedTaskID)

	task, err := f.store.GetTask(f.ctx, *snap.SelectedTaskID)
	require.NoError(t, err)
	assert.Equal(t, "Write docs", task.Title)
	assert.Equal(t, "User guide for the bot", task.Description)
	assert.Equal(t, store.TagFeature, task.Tag)
	assert.Equal(t, store.StatusBacklog, task.Status)
	assert.Equal(t, "2026-03-04", task.StartDate)
	assert.Equal(t, f.dev1.ID, task.CreatorID)
	require.NotNil(t, task.SprintID)
	assert.Equal(t, f.sprint.ID, *task.SprintID)
	require.NotNil(t, task.TeamID)
	assert.Equal(t, f.team.ID, *task.TeamID)

	assignees, err := f.store.ListTaskAssignees(f.ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.dev1.ID}, assignees)

	assert.Contains(t, f.gw.texts(), `Task "Write docs" created.`)
	assert.Equal(t, msgTaskListHeader, f.gw.last(t).Text)
	assert.Len(t, f.gw.last(t).Buttons, 3)
}

func TestCreateTaskWizard_NoSprintSkipsLookup(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.press(TokenAddTask)
	f.text("Fix login bug")
	f.text("Crash on empty password")
	f.text("1")
	f.press("tag_select_issue")
	require.Equal(t, PhaseAddingTaskSprint, f.snap().Phase)

	before := f.store.Calls("GetSprint")
	f.press(TokenNoSprint)
	assert.Equal(t, before, f.store.Calls("GetSprint"))

	snap := f.snap()
	require.NotNil(t, snap.SelectedTaskID)
	task, err := f.store.GetTask(f.ctx, *snap.SelectedTaskID)
	require.NoError(t, err)
	assert.Nil(t, task.SprintID)
	assert.Equal(t, store.TagIssue, task.Tag)
}

func TestCreateTaskWizard_UserWithoutTeamCommitsAfterTag(t *testing.T) {
	f := newFixture(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("solo123"), bcrypt.MinCost)
	require.NoError(t, err)
	solo := &store.User{Name: "Solo", Email: "solo@example.com", PasswordHash: string(hash)}
	require.NoError(t, f.store.CreateUser(f.ctx, solo))

	f.text("/login")
	f.text("solo@example.com")
	f.text("solo123")
	f.press(TokenAddTask)
	f.text("Standalone")
	f.text("No team here")
	f.text("2")
	f.press("tag_select_Feature")

	snap := f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	require.NotNil(t, snap.SelectedTaskID)
	task, err := f.store.GetTask(f.ctx, *snap.SelectedTaskID)
	require.NoError(t, err)
	assert.Nil(t, task.SprintID)
	assert.Nil(t, task.TeamID)
}

func TestCreateTaskWizard_TeamWithoutSprintsCommitsAfterTag(t *testing.T) {
	f := newFixture(t)
	empty := &store.Team{Name: "Design"}
	require.NoError(t, f.store.CreateTeam(f.ctx, empty))
	hash, err := bcrypt.GenerateFromPassword([]byte("designer1"), bcrypt.MinCost)
	require.NoError(t, err)
	designer := &store.User{Name: "Designer", Email: "designer@example.com", PasswordHash: string(hash), TeamID: &empty.ID}
	require.NoError(t, f.store.CreateUser(f.ctx, designer))

	f.text("/login")
	f.text("designer@example.com")
	f.text("designer1")
	f.press(TokenAddTask)
	f.text("Mockups")
	f.text("Login screen")
	f.text("4.5")
	f.press("tag_select_Feature")

	assert.Equal(t, 1, f.store.Calls("ListSprintsByTeam"))
	snap := f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Nil(t, snap.Draft)
	require.NotNil(t, snap.SelectedTaskID)

	task, err := f.store.GetTask(f.ctx, *snap.SelectedTaskID)
	require.NoError(t, err)
	assert.Equal(t, "Mockups", task.Title)
	assert.Nil(t, task.SprintID)
	require.NotNil(t, task.TeamID)
	assert.Equal(t, empty.ID, *task.TeamID)
	require.NotNil(t, task.EstimatedHours)
	assert.Equal(t, 4.5, *task.EstimatedHours)

	assignees, err := f.store.ListTaskAssignees(f.ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{designer.ID}, assignees)
}

func TestCreateTaskWizard_UnknownSprintRePrompts(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.press(TokenAddTask)
	f.text("T")
	f.text("D")
	f.text("1")
	f.press("tag_select_Feature")
	f.press(TokenSprintPrefix + "424242")

	assert.Equal(t, PhaseAddingTaskSprint, f.snap().Phase)
	assert.Equal(t, msgBadSprint, f.gw.last(t).Text)
	assert.Equal(t, 1, f.store.Calls("CreateAssignedTask"), "only the fixture task")
}

func TestCreateTaskWizard_UnknownTagRePrompts(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.press(TokenAddTask)
	f.text("T")
	f.text("D")
	f.text("1")
	f.press("tag_select_Chore")

	assert.Equal(t, PhaseAddingTaskTag, f.snap().Phase)
	assert.Equal(t, msgBadTag, f.gw.last(t).Text)
}

func TestAddComment(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()

	detail := f.gw.last(t)
	assert.Contains(t, detail.Text, "Task #"+strconv.FormatInt(f.taskID, 10)+": Onboarding")
	assert.Contains(t, detail.Text, "Sprint: No sprint")
	assert.Contains(t, detail.Text, "Status: Backlog")
	assert.Equal(t, []string{TokenShowComments, TokenAddComment, TokenChangeStatus, TokenRealHours, TokenBackToList}, tokens(detail.Buttons))

	f.press(TokenAddComment)
	assert.Equal(t, PhaseAddingComment, f.snap().Phase)

	f.text("Looks good")
	snap := f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	require.NotNil(t, snap.SelectedTaskID)
	assert.Equal(t, f.taskID, *snap.SelectedTaskID)

	comments, err := f.store.ListComments(f.ctx, f.taskID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "Looks good", comments[0].Content)
	assert.Equal(t, f.dev1.ID, comments[0].AuthorID)

	f.gw.clear()
	f.press(TokenShowComments)
	texts := f.gw.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "Comments on \"Onboarding\":\n[Dev One]: Looks good", texts[0])
}

func TestAddComment_WithoutSelectedTask(t *testing.T) {
	f := newFixture(t)
	f.login()
	st := f.engine.Table().GetOrCreate(testConv)
	st.enter(PhaseAddingComment)
	require.Nil(t, f.snap().SelectedTaskID)

	f.text("orphan comment")

	snap := f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Nil(t, snap.SelectedTaskID)
	assert.NotNil(t, snap.UserID, "login survives the reset")
	assert.Equal(t, []string{msgNoTaskSelected}, f.gw.texts())
	assert.Equal(t, 0, f.store.Calls("CreateComment"))
}

func TestShowComments_Empty(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()
	f.gw.clear()

	f.press(TokenShowComments)
	assert.Equal(t, `No comments yet on "Onboarding".`, f.gw.texts()[0])
}

func TestChangeStatus_CompletedSetsEndDate(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()

	f.press(TokenChangeStatus)
	last := f.gw.last(t)
	assert.Equal(t, []string{
		"status_select_BACKLOG",
		"status_select_IN_PROGRESS",
		"status_select_COMPLETED",
		"status_select_CANCELLED",
		TokenBackToTask,
	}, tokens(last.Buttons))

	f.press("status_select_COMPLETED")

	task, err := f.store.GetTask(f.ctx, f.taskID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, task.Status)
	require.NotNil(t, task.EndDate)
	assert.Equal(t, "2026-03-04", *task.EndDate)

	snap := f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	require.NotNil(t, snap.SelectedTaskID)
	assert.Equal(t, msgTaskListHeader, f.gw.last(t).Text)
}

func TestChangeStatus_InProgressLeavesEndDate(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()

	f.press("status_select_IN_PROGRESS")

	task, err := f.store.GetTask(f.ctx, f.taskID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, task.Status)
	assert.Nil(t, task.EndDate)
}

func TestChangeStatus_ReopeningClearsEndDate(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()
	f.press("status_select_COMPLETED")

	f.selectTask()
	f.press("status_select_IN_PROGRESS")

	task, err := f.store.GetTask(f.ctx, f.taskID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusInProgress, task.Status)
	assert.Nil(t, task.EndDate)
}

func TestChangeStatus_FailureLeavesTaskUntouched(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()

	f.store.FailOn("ChangeTaskStatus", errors.New("database is locked"))
	f.press("status_select_COMPLETED")

	task, err := f.store.GetTask(f.ctx, f.taskID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusBacklog, task.Status)
	assert.Nil(t, task.EndDate)
	assert.Equal(t, msgGenericFailure, f.gw.last(t).Text)
}

func TestChangeStatus_UnknownStatusRePrompts(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()

	f.press("status_select_DONE")
	assert.Equal(t, msgBadStatus, f.gw.last(t).Text)
	assert.Equal(t, 0, f.store.Calls("ChangeTaskStatus"))
}

func TestRealHours(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()

	f.press(TokenRealHours)
	assert.Equal(t, PhaseAddingRealHours, f.snap().Phase)

	f.text("abc")
	assert.Equal(t, PhaseAddingRealHours, f.snap().Phase)
	assert.Equal(t, msgBadHours, f.gw.last(t).Text)

	f.text("2,5")
	task, err := f.store.GetTask(f.ctx, f.taskID)
	require.NoError(t, err)
	require.NotNil(t, task.ActualHours)
	assert.Equal(t, 2.5, *task.ActualHours)

	snap := f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Nil(t, snap.SelectedTaskID)
}

func TestVanishedTask(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()
	f.press(TokenAddComment)

	f.store.DeleteTask(f.taskID)
	f.gw.clear()
	f.text("Is anyone there?")

	snap := f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Nil(t, snap.SelectedTaskID)
	assert.Equal(t, 0, f.store.Calls("CreateComment"))

	texts := f.gw.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, msgTaskVanished, texts[0])
	assert.Equal(t, msgNoTasks, texts[1])
}

func TestSelectTask_Invalid(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.press(TokenTaskPrefix + "x")
	assert.Equal(t, msgInvalidTask, f.gw.last(t).Text)

	f.press(TokenTaskPrefix + "987654")
	assert.Equal(t, msgTaskNotFound, f.gw.last(t).Text)
	assert.Nil(t, f.snap().SelectedTaskID)
}

func TestSelectedTaskRequired(t *testing.T) {
	for _, token := range []string{TokenShowComments, TokenAddComment, TokenChangeStatus, TokenRealHours, TokenBackToTask, "status_select_BACKLOG"} {
		t.Run(token, func(t *testing.T) {
			f := newFixture(t)
			f.login()

			f.press(token)
			assert.Equal(t, msgNoTaskSelected, f.gw.last(t).Text)
			assert.Equal(t, PhaseNormal, f.snap().Phase)
		})
	}
}

func TestBackNavigation(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()

	f.press(TokenChangeStatus)
	f.press(TokenBackToTask)
	assert.Contains(t, f.gw.last(t).Text, "Onboarding")
	assert.NotNil(t, f.snap().SelectedTaskID)

	f.press(TokenBackToList)
	assert.Equal(t, msgTaskListHeader, f.gw.last(t).Text)
	assert.Nil(t, f.snap().SelectedTaskID)
}

func TestCancel(t *testing.T) {
	t.Run("mid wizard", func(t *testing.T) {
		f := newFixture(t)
		f.login()
		f.press(TokenAddTask)
		f.text("Half done")
		f.gw.clear()

		f.text("/cancel")
		snap := f.snap()
		assert.Equal(t, PhaseNormal, snap.Phase)
		assert.Nil(t, snap.Draft)
		assert.NotNil(t, snap.UserID)
		assert.Equal(t, []string{msgCancelled, msgTaskListHeader}, f.gw.texts())
	})

	t.Run("idle", func(t *testing.T) {
		f := newFixture(t)
		f.login()

		f.text("/cancel")
		assert.Equal(t, []string{msgCancelled}, f.gw.texts())
	})

	t.Run("during login", func(t *testing.T) {
		f := newFixture(t)
		f.text("/login")
		f.text("dev1@example.com")
		f.text("/cancel")

		snap := f.snap()
		assert.Equal(t, PhaseNormal, snap.Phase)
		assert.Nil(t, snap.PendingLoginEmail)
	})
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.selectTask()

	f.text("/logout")
	snap := f.snap()
	assert.Nil(t, snap.UserID)
	assert.Nil(t, snap.SelectedTaskID)
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Equal(t, msgLoggedOut, f.gw.last(t).Text)

	_, err := f.store.GetUserByConversation(f.ctx, testConv)
	assert.ErrorIs(t, err, store.ErrNotFound)

	f.engine = f.newEngine()
	f.text("/whoami")
	assert.Equal(t, msgNotLoggedIn, f.gw.last(t).Text)
}

func TestLogout_BindingFailureKeepsLogin(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.store.FailOn("ClearConversationBinding", errors.New("disk I/O error"))
	f.text("/logout")

	assert.Equal(t, msgGenericFailure, f.gw.last(t).Text)
	assert.NotNil(t, f.snap().UserID, "memory and database agree the user is still logged in")
	u, err := f.store.GetUserByConversation(f.ctx, testConv)
	require.NoError(t, err)
	assert.Equal(t, f.dev1.ID, u.ID)

	f.store.FailOn("ClearConversationBinding", nil)
	f.text("/logout")
	assert.Equal(t, msgLoggedOut, f.gw.last(t).Text)
	assert.Nil(t, f.snap().UserID)
}

func TestCommands(t *testing.T) {
	f := newFixture(t)

	f.text("/start")
	assert.Equal(t, msgWelcomeLoggedOut, f.gw.last(t).Text)

	f.text("/tasks")
	assert.Equal(t, msgWelcomeLoggedOut, f.gw.last(t).Text)

	f.login()
	f.text("/WhoAmI@taskbot_bot")
	assert.Equal(t, "You are logged in as Dev One.", f.gw.last(t).Text)

	f.text("/tasks now")
	assert.Equal(t, msgTaskListHeader, f.gw.last(t).Text)
}

func TestCallbackRequiresLogin(t *testing.T) {
	f := newFixture(t)

	f.press(TokenTaskPrefix + strconv.FormatInt(f.taskID, 10))
	assert.Equal(t, msgLoginFirst, f.gw.last(t).Text)
	assert.Nil(t, f.snap().SelectedTaskID)
}

func TestChangeStatusWhileLoggedOut(t *testing.T) {
	f := newFixture(t)
	f.text("/login")
	f.text("dev1@example.com")
	before := f.snap()
	require.Equal(t, PhaseAwaitingPassword, before.Phase)
	f.gw.clear()

	f.press(TokenChangeStatus)

	assert.Equal(t, before, f.snap())
	assert.Equal(t, []string{msgLoginFirst}, f.gw.texts())
	assert.Equal(t, 0, f.store.Calls("GetTask"))
}

func TestFreeTextInNormalPhase(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.text("hello there")
	assert.Equal(t, msgNotUnderstood, f.gw.last(t).Text)

	f.text("/unknown")
	assert.Equal(t, msgNotUnderstood, f.gw.last(t).Text)
}

func TestFailureSoftResets(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.press(TokenAddTask)

	f.store.FailOn("ListTasksAssignedTo", errors.New("database is locked"))
	f.text("/tasks")

	snap := f.snap()
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Nil(t, snap.Draft)
	assert.NotNil(t, snap.UserID)
	assert.Equal(t, msgGenericFailure, f.gw.last(t).Text)
}

func TestRestoreFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.engine = f.newEngine()
	f.store.FailOn("GetUserByConversation", errors.New("disk I/O error"))
	f.text("/whoami")
	assert.Equal(t, msgGenericFailure, f.gw.last(t).Text)

	f.store.FailOn("GetUserByConversation", nil)
	f.text("/whoami")
	assert.Equal(t, "You are logged in as Dev One.", f.gw.last(t).Text)
}

type panickingVerifier struct{}

func (panickingVerifier) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	panic("boom")
}

func TestPanicIsContained(t *testing.T) {
	f := newFixture(t)
	e, err := NewEngine(Deps{
		Users:       f.store,
		Tasks:       f.store,
		Comments:    f.store,
		Sprints:     f.store,
		Credentials: panickingVerifier{},
		Gateway:     f.gw,
	}, Options{}, testLogger())
	require.NoError(t, err)

	for _, text := range []string{"/login", "dev1@example.com", "dev123"} {
		e.Dispatch(f.ctx, TextEvent{Conversation: testConv, Text: text})
	}

	snap := e.Table().GetOrCreate(testConv).Snapshot()
	assert.Equal(t, PhaseNormal, snap.Phase)
	assert.Nil(t, snap.PendingLoginEmail)
	assert.Equal(t, msgGenericFailure, f.gw.last(t).Text)
}

type panickingGateway struct{}

func (panickingGateway) Send(ctx context.Context, conversationID, text string, buttons []Button) error {
	panic("transport blew up")
}

type panickingRecorder struct{}

func (panickingRecorder) SaveBotEvent(ctx context.Context, ev *store.BotEvent) error {
	panic("ledger blew up")
}

func TestPanickingGatewayIsContained(t *testing.T) {
	f := newFixture(t)
	e, err := NewEngine(Deps{
		Users:       f.store,
		Tasks:       f.store,
		Comments:    f.store,
		Sprints:     f.store,
		Credentials: auth.NewPasswordVerifier(f.store),
		Gateway:     panickingGateway{},
	}, Options{}, testLogger())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		e.Dispatch(f.ctx, TextEvent{Conversation: testConv, Text: "/whoami"})
		e.Dispatch(f.ctx, TextEvent{Conversation: testConv, Text: "/login"})
	})
	assert.Equal(t, PhaseNormal, e.Table().GetOrCreate(testConv).Snapshot().Phase)
}

func TestPanickingRecorderIsContained(t *testing.T) {
	f := newFixture(t)
	e, err := NewEngine(Deps{
		Users:       f.store,
		Tasks:       f.store,
		Comments:    f.store,
		Sprints:     f.store,
		Credentials: auth.NewPasswordVerifier(f.store),
		Gateway:     f.gw,
		Recorder:    panickingRecorder{},
	}, Options{}, testLogger())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		e.Dispatch(f.ctx, TextEvent{Conversation: testConv, Text: "/whoami"})
	})
	assert.Equal(t, []string{msgGenericFailure}, f.gw.texts())
}

func TestSendFailureKeepsStateChange(t *testing.T) {
	f := newFixture(t)
	f.gw.err = errors.New("network unreachable")

	f.text("/login")
	assert.Equal(t, PhaseAwaitingEmail, f.snap().Phase)
}

func TestConversationsAreIsolated(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.engine.Dispatch(f.ctx, TextEvent{Conversation: "matrix:!room:example.org", Text: "/whoami"})
	assert.Equal(t, msgNotLoggedIn, f.gw.last(t).Text)
	assert.Equal(t, "matrix:!room:example.org", f.gw.last(t).ConversationID)
	assert.NotNil(t, f.snap().UserID)
}
