// ABOUTME: Matrix frontend: syncs room messages into the bot and posts replies
// ABOUTME: Buttons become numbered lists; a numeric reply is turned back into the button's token

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/taskbot/internal/bot"
)

// Frontend is the conversation key prefix of Matrix rooms.
const Frontend = "matrix"

// Sink receives inbound updates.
type Sink interface {
	Submit(ctx context.Context, in bot.Inbound) error
}

// Config configures an Adapter. Either AccessToken or Username and
// Password must be set. CryptoDir enables end-to-end encryption.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	Username     string
	Password     string
	RecoveryKey  string
	CryptoDir    string
	AllowedRooms []string
}

// Adapter bridges a Matrix account and the bot engine.
type Adapter struct {
	cfg       Config
	client    *mautrix.Client
	keyboards *keyboards
	logger    *slog.Logger
	crypto    *cryptoSession

	// events sent before startedAt are history replayed by the first sync
	startedAt time.Time
}

// NewAdapter creates the Matrix client. Call Login before Run.
func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Adapter{
		cfg:       cfg,
		client:    client,
		keyboards: newKeyboards(),
		logger:    logger.With("component", "matrix"),
		startedAt: time.Now(),
	}, nil
}

// Login authenticates with a password when no access token is configured.
func (a *Adapter) Login(ctx context.Context) error {
	if a.cfg.AccessToken != "" {
		return nil
	}
	if a.cfg.Username == "" || a.cfg.Password == "" {
		return errors.New("matrix: access_token or username and password are required")
	}

	resp, err := a.client.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: a.cfg.Username,
		},
		Password:                 a.cfg.Password,
		InitialDeviceDisplayName: "taskbot",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	a.logger.Info("logged in to matrix", "user_id", resp.UserID, "device_id", resp.DeviceID)
	return nil
}

// Run syncs until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, sink Sink) error {
	a.logger.Info("starting matrix sync", "homeserver", a.cfg.Homeserver, "user_id", a.client.UserID)

	if a.cfg.CryptoDir != "" {
		cs, err := setupCrypto(ctx, a.client, a.cfg.RecoveryKey, a.cfg.CryptoDir, a.logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		a.crypto = cs
		defer func() {
			if err := cs.Close(); err != nil {
				a.logger.Warn("closing crypto store", "error", err)
			}
		}()
	}

	syncer, ok := a.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", a.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		a.handleMessage(ctx, evt, sink)
	})
	syncer.OnEventType(event.StateMember, a.handleMembership)

	err := a.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

// inbound converts a room message. It returns false for messages the bot
// must not answer.
func (a *Adapter) inbound(evt *event.Event) (bot.Inbound, bool) {
	if evt.Sender == a.client.UserID {
		return bot.Inbound{}, false
	}
	if time.UnixMilli(evt.Timestamp).Before(a.startedAt) {
		return bot.Inbound{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return bot.Inbound{}, false
	}

	room := evt.RoomID.String()
	if !a.roomAllowed(room) {
		a.logger.Debug("ignoring message from non-allowed room", "room", room)
		return bot.Inbound{}, false
	}

	in := bot.Inbound{
		DeliveryID:     Frontend + ":" + evt.ID.String(),
		ConversationID: bot.ConversationKey(Frontend, room),
		Sender:         evt.Sender.String(),
	}
	if token, ok := a.keyboards.resolve(room, content.Body); ok {
		in.CallbackToken = &token
	} else {
		body := content.Body
		in.Text = &body
	}
	return in, true
}

func (a *Adapter) handleMessage(ctx context.Context, evt *event.Event, sink Sink) {
	in, ok := a.inbound(evt)
	if !ok {
		return
	}
	if err := sink.Submit(ctx, in); err != nil && !errors.Is(err, bot.ErrPoolClosed) {
		a.logger.Error("failed to submit message", "room", evt.RoomID.String(), "error", err)
	}
}

// handleMembership joins rooms the bot is invited to.
func (a *Adapter) handleMembership(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != a.client.UserID.String() {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if !a.roomAllowed(evt.RoomID.String()) {
		return
	}
	if _, err := a.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		a.logger.Warn("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	a.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

func (a *Adapter) roomAllowed(room string) bool {
	return len(a.cfg.AllowedRooms) == 0 || slices.Contains(a.cfg.AllowedRooms, room)
}

// Send implements bot.MessageGateway.
func (a *Adapter) Send(ctx context.Context, conversationID, text string, buttons []bot.Button) error {
	frontend, room, ok := bot.SplitConversationKey(conversationID)
	if !ok || frontend != Frontend {
		return fmt.Errorf("not a matrix conversation: %q", conversationID)
	}

	content := &event.MessageEventContent{MsgType: event.MsgText, Body: numbered(text, buttons)}
	if formatted, err := formatHTML(text, buttons); err != nil {
		a.logger.Debug("markdown rendering failed, sending plain text", "error", err)
	} else {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}

	if _, err := a.client.SendMessageEvent(ctx, id.RoomID(room), event.EventMessage, content); err != nil {
		return fmt.Errorf("sending to room %s: %w", room, err)
	}
	a.keyboards.set(room, buttons)
	return nil
}
