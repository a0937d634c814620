// ABOUTME: Mock Store implementation for testing
// ABOUTME: In-memory store with call counting and injectable failures

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu        sync.RWMutex
	teams     map[int64]*Team
	users     map[int64]*User
	sprints   map[int64]*Sprint
	tasks     map[int64]*Task
	assignees map[int64][]int64 // task ID -> user IDs
	comments  map[int64][]*Comment
	events    []*BotEvent
	nextID    int64

	calls    map[string]int
	failures map[string]error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		teams:     make(map[int64]*Team),
		users:     make(map[int64]*User),
		sprints:   make(map[int64]*Sprint),
		tasks:     make(map[int64]*Task),
		assignees: make(map[int64][]int64),
		comments:  make(map[int64][]*Comment),
		calls:     make(map[string]int),
		failures:  make(map[string]error),
	}
}

// FailOn makes every later call of the named method return err.
// Pass a nil err to clear the failure.
func (m *MockStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

// Calls returns how many times the named method was invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method]
}

// enter records a call and returns the injected failure, if any.
// Must be called with m.mu held.
func (m *MockStore) enter(method string) error {
	m.calls[method]++
	return m.failures[method]
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateTeam stores a team.
func (m *MockStore) CreateTeam(ctx context.Context, team *Team) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateTeam"); err != nil {
		return err
	}
	team.ID = m.id()
	if team.CreatedAt.IsZero() {
		team.CreatedAt = time.Now().UTC()
	}
	t := *team
	m.teams[t.ID] = &t
	return nil
}

// CreateUser stores a user with a lower-cased email.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateUser"); err != nil {
		return err
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	for _, u := range m.users {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	if user.Role == "" {
		user.Role = RoleDeveloper
	}
	user.ID = m.id()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	m.users[user.ID] = copyUser(user)
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

// GetUserByEmail retrieves a user by email, ignoring case.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUserByEmail"); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

// ListUsers returns all users ordered by ID.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListUsers"); err != nil {
		return nil, err
	}
	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// GetUserByConversation returns the user bound to the conversation.
func (m *MockStore) GetUserByConversation(ctx context.Context, conversationID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUserByConversation"); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if u.ConversationID != nil && *u.ConversationID == conversationID {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

// BindConversation binds the conversation to the user, releasing other holders.
func (m *MockStore) BindConversation(ctx context.Context, userID int64, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("BindConversation"); err != nil {
		return err
	}
	target, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	for _, u := range m.users {
		if u.ID != userID && u.ConversationID != nil && *u.ConversationID == conversationID {
			u.ConversationID = nil
		}
	}
	conv := conversationID
	target.ConversationID = &conv
	return nil
}

// ClearConversationBinding removes any binding for the conversation.
func (m *MockStore) ClearConversationBinding(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ClearConversationBinding"); err != nil {
		return err
	}
	for _, u := range m.users {
		if u.ConversationID != nil && *u.ConversationID == conversationID {
			u.ConversationID = nil
		}
	}
	return nil
}

// GetUserTeamID returns the team of the user.
func (m *MockStore) GetUserTeamID(ctx context.Context, userID int64) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUserTeamID"); err != nil {
		return nil, err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if u.TeamID == nil {
		return nil, nil
	}
	id := *u.TeamID
	return &id, nil
}

// GetTask retrieves a task by ID.
func (m *MockStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetTask"); err != nil {
		return nil, err
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTask(t), nil
}

// DeleteTask removes a task and its assignees and comments.
func (m *MockStore) DeleteTask(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	delete(m.assignees, id)
	delete(m.comments, id)
}

// ListTasksAssignedTo returns the tasks assigned to the user ordered by ID.
func (m *MockStore) ListTasksAssignedTo(ctx context.Context, userID int64) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListTasksAssignedTo"); err != nil {
		return nil, err
	}
	var tasks []*Task
	for taskID, users := range m.assignees {
		for _, u := range users {
			if u == userID {
				if t, ok := m.tasks[taskID]; ok {
					tasks = append(tasks, copyTask(t))
				}
				break
			}
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// InsertTask stores a new task.
func (m *MockStore) InsertTask(ctx context.Context, task *Task) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("InsertTask"); err != nil {
		return 0, err
	}
	return m.insertTask(task), nil
}

func (m *MockStore) insertTask(task *Task) int64 {
	task.ID = m.id()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.Status == "" {
		task.Status = StatusBacklog
	}
	m.tasks[task.ID] = copyTask(task)
	return task.ID
}

// AddTaskAssignee assigns the user to the task.
func (m *MockStore) AddTaskAssignee(ctx context.Context, taskID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("AddTaskAssignee"); err != nil {
		return err
	}
	return m.addAssignee(taskID, userID)
}

func (m *MockStore) addAssignee(taskID, userID int64) error {
	if _, ok := m.tasks[taskID]; !ok {
		return ErrNotFound
	}
	for _, u := range m.assignees[taskID] {
		if u == userID {
			return nil
		}
	}
	m.assignees[taskID] = append(m.assignees[taskID], userID)
	return nil
}

// CreateAssignedTask inserts a task together with its first assignee.
func (m *MockStore) CreateAssignedTask(ctx context.Context, task *Task, assigneeID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateAssignedTask"); err != nil {
		return 0, err
	}
	if _, ok := m.users[assigneeID]; !ok {
		return 0, ErrNotFound
	}
	id := m.insertTask(task)
	m.assignees[id] = append(m.assignees[id], assigneeID)
	return id, nil
}

// ListTaskAssignees returns the user IDs assigned to a task.
func (m *MockStore) ListTaskAssignees(ctx context.Context, taskID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListTaskAssignees"); err != nil {
		return nil, err
	}
	ids := append([]int64(nil), m.assignees[taskID]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// UpdateTaskStatus sets the status of a task.
func (m *MockStore) UpdateTaskStatus(ctx context.Context, taskID int64, status TaskStatus) error {
	return m.updateTask("UpdateTaskStatus", taskID, func(t *Task) { t.Status = status })
}

// UpdateTaskEndDate sets the end date of a task.
func (m *MockStore) UpdateTaskEndDate(ctx context.Context, taskID int64, date string) error {
	return m.updateTask("UpdateTaskEndDate", taskID, func(t *Task) { t.EndDate = &date })
}

// ChangeTaskStatus sets the status and end date of a task together.
func (m *MockStore) ChangeTaskStatus(ctx context.Context, taskID int64, status TaskStatus, endDate *string) error {
	return m.updateTask("ChangeTaskStatus", taskID, func(t *Task) {
		t.Status = status
		if endDate == nil {
			t.EndDate = nil
			return
		}
		d := *endDate
		t.EndDate = &d
	})
}

// UpdateTaskActualHours sets the actual hours of a task.
func (m *MockStore) UpdateTaskActualHours(ctx context.Context, taskID int64, hours float64) error {
	return m.updateTask("UpdateTaskActualHours", taskID, func(t *Task) { t.ActualHours = &hours })
}

func (m *MockStore) updateTask(method string, taskID int64, fn func(*Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(method); err != nil {
		return err
	}
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	fn(t)
	return nil
}

// ListComments returns the comments of a task, oldest first.
func (m *MockStore) ListComments(ctx context.Context, taskID int64) ([]*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListComments"); err != nil {
		return nil, err
	}
	out := make([]*Comment, 0, len(m.comments[taskID]))
	for _, c := range m.comments[taskID] {
		cc := *c
		out = append(out, &cc)
	}
	return out, nil
}

// CreateComment stores a comment.
func (m *MockStore) CreateComment(ctx context.Context, comment *Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateComment"); err != nil {
		return err
	}
	if _, ok := m.tasks[comment.TaskID]; !ok {
		return ErrNotFound
	}
	comment.ID = m.id()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	c := *comment
	m.comments[c.TaskID] = append(m.comments[c.TaskID], &c)
	return nil
}

// CreateSprint stores a sprint.
func (m *MockStore) CreateSprint(ctx context.Context, sprint *Sprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateSprint"); err != nil {
		return err
	}
	sprint.ID = m.id()
	if sprint.Status == "" {
		sprint.Status = "planned"
	}
	sp := *sprint
	m.sprints[sp.ID] = &sp
	return nil
}

// ListSprintsByTeam returns the sprints of a team ordered by ID.
func (m *MockStore) ListSprintsByTeam(ctx context.Context, teamID int64) ([]*Sprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListSprintsByTeam"); err != nil {
		return nil, err
	}
	var out []*Sprint
	for _, sp := range m.sprints {
		if sp.TeamID == teamID {
			c := *sp
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetSprint retrieves a sprint by ID.
func (m *MockStore) GetSprint(ctx context.Context, id int64) (*Sprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetSprint"); err != nil {
		return nil, err
	}
	sp, ok := m.sprints[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sp
	return &c, nil
}

// SaveBotEvent appends an event to the ledger.
func (m *MockStore) SaveBotEvent(ctx context.Context, event *BotEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SaveBotEvent"); err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	e := *event
	m.events = append(m.events, &e)
	return nil
}

// ListBotEvents returns the latest events of a conversation in order.
func (m *MockStore) ListBotEvents(ctx context.Context, conversationID string, limit int) ([]*BotEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListBotEvents"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	var out []*BotEvent
	for _, e := range m.events {
		if e.ConversationID == conversationID {
			c := *e
			out = append(out, &c)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Ping always succeeds unless a failure was injected.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("Ping")
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

func copyUser(u *User) *User {
	c := *u
	if u.TeamID != nil {
		id := *u.TeamID
		c.TeamID = &id
	}
	if u.ConversationID != nil {
		conv := *u.ConversationID
		c.ConversationID = &conv
	}
	return &c
}

func copyTask(t *Task) *Task {
	c := *t
	if t.EndDate != nil {
		v := *t.EndDate
		c.EndDate = &v
	}
	if t.EstimatedHours != nil {
		v := *t.EstimatedHours
		c.EstimatedHours = &v
	}
	if t.ActualHours != nil {
		v := *t.ActualHours
		c.ActualHours = &v
	}
	if t.SprintID != nil {
		v := *t.SprintID
		c.SprintID = &v
	}
	if t.TeamID != nil {
		v := *t.TeamID
		c.TeamID = &v
	}
	return &c
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
