// ABOUTME: Conversation engine: collaborator contracts, dispatch boundary and reply helper
// ABOUTME: One event is handled under its conversation's lock; failures soft-reset and never escape

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/2389/taskbot/internal/store"
)

// UserStore is the slice of user persistence the engine needs.
type UserStore interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
	ListUsers(ctx context.Context) ([]*store.User, error)
	GetUserByConversation(ctx context.Context, conversationID string) (*store.User, error)
	BindConversation(ctx context.Context, userID int64, conversationID string) error
	ClearConversationBinding(ctx context.Context, conversationID string) error
	GetUserTeamID(ctx context.Context, userID int64) (*int64, error)
}

// TaskStore is the slice of task persistence the engine needs.
type TaskStore interface {
	GetTask(ctx context.Context, id int64) (*store.Task, error)
	ListTasksAssignedTo(ctx context.Context, userID int64) ([]*store.Task, error)
	CreateAssignedTask(ctx context.Context, task *store.Task, assigneeID int64) (int64, error)
	ChangeTaskStatus(ctx context.Context, taskID int64, status store.TaskStatus, endDate *string) error
	UpdateTaskActualHours(ctx context.Context, taskID int64, hours float64) error
}

// CommentStore reads and writes task comments.
type CommentStore interface {
	ListComments(ctx context.Context, taskID int64) ([]*store.Comment, error)
	CreateComment(ctx context.Context, comment *store.Comment) error
}

// SprintStore looks up sprints.
type SprintStore interface {
	ListSprintsByTeam(ctx context.Context, teamID int64) ([]*store.Sprint, error)
	GetSprint(ctx context.Context, id int64) (*store.Sprint, error)
}

// CredentialVerifier checks an email and password. A rejected login must
// return an error wrapping auth.ErrInvalidCredentials.
type CredentialVerifier interface {
	Authenticate(ctx context.Context, email, password string) (*store.User, error)
}

// EventRecorder appends to the conversation ledger.
type EventRecorder interface {
	SaveBotEvent(ctx context.Context, event *store.BotEvent) error
}

// Deps are the collaborators of an Engine. Recorder is optional.
type Deps struct {
	Users       UserStore
	Tasks       TaskStore
	Comments    CommentStore
	Sprints     SprintStore
	Credentials CredentialVerifier
	Gateway     MessageGateway
	Recorder    EventRecorder
}

// Options tune an Engine.
type Options struct {
	// AllowUserPicker offers one login button per user on /login.
	AllowUserPicker bool
	// SendTimeout bounds each outbound message. Zero means 15s.
	SendTimeout time.Duration
	// Now is the clock used for task dates. Nil means time.Now.
	Now func() time.Time
}

// Engine turns chat events into task-management workflows.
type Engine struct {
	users    UserStore
	tasks    TaskStore
	comments CommentStore
	sprints  SprintStore
	creds    CredentialVerifier
	gateway  MessageGateway
	recorder EventRecorder

	table  *Table
	logger *slog.Logger

	allowUserPicker bool
	sendTimeout     time.Duration
	now             func() time.Time

	commands  map[string]commandHandler
	text      map[Phase]textRoute
	callbacks []callbackRoute
}

// NewEngine validates deps and builds the routing tables.
func NewEngine(deps Deps, opts Options, logger *slog.Logger) (*Engine, error) {
	switch {
	case deps.Users == nil:
		return nil, errors.New("bot: Users is required")
	case deps.Tasks == nil:
		return nil, errors.New("bot: Tasks is required")
	case deps.Comments == nil:
		return nil, errors.New("bot: Comments is required")
	case deps.Sprints == nil:
		return nil, errors.New("bot: Sprints is required")
	case deps.Credentials == nil:
		return nil, errors.New("bot: Credentials is required")
	case deps.Gateway == nil:
		return nil, errors.New("bot: Gateway is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		users:           deps.Users,
		tasks:           deps.Tasks,
		comments:        deps.Comments,
		sprints:         deps.Sprints,
		creds:           deps.Credentials,
		gateway:         deps.Gateway,
		recorder:        deps.Recorder,
		table:           NewTable(),
		logger:          logger.With("component", "bot"),
		allowUserPicker: opts.AllowUserPicker,
		sendTimeout:     opts.SendTimeout,
		now:             opts.Now,
	}
	if e.sendTimeout <= 0 {
		e.sendTimeout = 15 * time.Second
	}
	if e.now == nil {
		e.now = time.Now
	}

	e.commands = e.commandTable()
	e.text = e.textTable()
	e.callbacks = e.callbackTable()
	return e, nil
}

// Table exposes the conversation states.
func (e *Engine) Table() *Table {
	return e.table
}

// Dispatch handles one event. It never returns an error and never panics:
// failures are logged, reported to the conversation and soft-reset it.
func (e *Engine) Dispatch(ctx context.Context, ev Event) {
	st := e.table.GetOrCreate(ev.ConversationID())
	st.mu.Lock()
	defer st.mu.Unlock()

	phase := st.phase
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while dispatching event",
				"conversation_id", st.id,
				"phase", phase,
				"event", describeEvent(ev, phase),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			st.softReset()
			e.safeReply(ctx, st, msgGenericFailure)
		}
	}()

	e.recordInbound(ctx, st.id, ev, phase)

	e.logger.Debug("dispatching event",
		"conversation_id", st.id,
		"phase", phase,
		"event", describeEvent(ev, phase),
	)

	if err := e.handle(ctx, st, ev); err != nil {
		e.logger.Error("event handling failed",
			"conversation_id", st.id,
			"phase", phase,
			"event", describeEvent(ev, phase),
			"error", err,
		)
		st.softReset()
		e.safeReply(ctx, st, msgGenericFailure)
	}
}

func (e *Engine) handle(ctx context.Context, st *ConversationState, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while handling event", "conversation_id", st.id, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := e.restoreLogin(ctx, st); err != nil {
		return err
	}

	switch ev := ev.(type) {
	case TextEvent:
		return e.handleText(ctx, st, ev.Text)
	case CallbackEvent:
		return e.handleCallback(ctx, st, ev.Token)
	default:
		return fmt.Errorf("unsupported event type %T", ev)
	}
}

// restoreLogin loads a persisted conversation binding the first time a
// conversation is seen. A failed lookup is retried on the next event.
func (e *Engine) restoreLogin(ctx context.Context, st *ConversationState) error {
	if st.loaded {
		return nil
	}
	u, err := e.users.GetUserByConversation(ctx, st.id)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("restoring login: %w", err)
	default:
		st.login(u.ID, u.Name)
		e.logger.Info("restored login", "conversation_id", st.id, "user_id", u.ID)
	}
	st.loaded = true
	return nil
}

// reply sends a message to the conversation. Delivery is best effort: a
// failed send is logged and the state change before it stands.
func (e *Engine) reply(ctx context.Context, st *ConversationState, text string, buttons ...Button) {
	for _, b := range buttons {
		if len(b.Token) > MaxTokenBytes {
			e.logger.Warn("callback token exceeds transport limit",
				"conversation_id", st.id,
				"token", b.Token,
				"bytes", len(b.Token),
				"limit", MaxTokenBytes,
			)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if err := e.gateway.Send(sendCtx, st.id, text, buttons); err != nil {
		e.logger.Error("failed to send message", "conversation_id", st.id, "error", err)
	}

	e.record(ctx, st.id, store.EventDirectionOutbound, store.EventKindMessage, text)
}

// safeReply sends the failure notice. A gateway that panics here is logged
// and otherwise ignored.
func (e *Engine) safeReply(ctx context.Context, st *ConversationState, text string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while sending failure notice", "conversation_id", st.id, "panic", r)
		}
	}()
	e.reply(ctx, st, text)
}

func (e *Engine) recordInbound(ctx context.Context, conversationID string, ev Event, phase Phase) {
	switch ev := ev.(type) {
	case TextEvent:
		e.record(ctx, conversationID, store.EventDirectionInbound, store.EventKindText, redactText(ev.Text, phase))
	case CallbackEvent:
		e.record(ctx, conversationID, store.EventDirectionInbound, store.EventKindCallback, ev.Token)
	}
}

func (e *Engine) record(ctx context.Context, conversationID string, dir store.EventDirection, kind, body string) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.SaveBotEvent(ctx, &store.BotEvent{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Direction:      dir,
		Kind:           kind,
		Body:           body,
		CreatedAt:      e.now().UTC(),
	})
	if err != nil {
		e.logger.Warn("failed to record bot event", "conversation_id", conversationID, "error", err)
	}
}

const redacted = "[redacted]"

// redactText hides whatever is typed while a password is expected.
func redactText(text string, phase Phase) string {
	if phase == PhaseAwaitingPassword {
		return redacted
	}
	return text
}

func describeEvent(ev Event, phase Phase) string {
	switch ev := ev.(type) {
	case TextEvent:
		return "text: " + redactText(ev.Text, phase)
	case CallbackEvent:
		return "callback: " + ev.Token
	default:
		return fmt.Sprintf("%T", ev)
	}
}
