// ABOUTME: Telegram frontend: long-polls updates into the bot and delivers replies
// ABOUTME: Conversation IDs are "telegram:<chat id>", delivery IDs "telegram:<update id>"

package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/2389/taskbot/internal/bot"
)

// Frontend is the conversation key prefix of Telegram chats.
const Frontend = "telegram"

// MaxMessageRunes is the Bot API limit on message text.
const MaxMessageRunes = 4096

// Sink receives inbound updates.
type Sink interface {
	Submit(ctx context.Context, in bot.Inbound) error
}

// Config configures an Adapter.
type Config struct {
	Token       string
	APIURL      string // empty means the public Bot API
	PollTimeout time.Duration

	// HTTPClient overrides the client used for Bot API calls.
	HTTPClient tgbot.HttpClient
}

// Adapter bridges the Bot API and the bot engine.
type Adapter struct {
	api    *tgbot.Bot
	token  string
	logger *slog.Logger

	mu   sync.Mutex
	sink Sink
	stop context.CancelFunc
}

// NewAdapter creates an adapter. It does not contact Telegram.
func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.PollTimeout + 10*time.Second}
	}

	a := &Adapter{
		token:  cfg.Token,
		logger: logger.With("component", "telegram"),
	}

	opts := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithHTTPClient(cfg.PollTimeout, httpClient),
		tgbot.WithAllowedUpdates(tgbot.AllowedUpdates{"message", "callback_query"}),
		tgbot.WithDefaultHandler(a.handleUpdate),
		tgbot.WithErrorsHandler(a.logPollError),
		tgbot.WithWorkers(1),
	}
	if cfg.APIURL != "" {
		opts = append(opts, tgbot.WithServerURL(strings.TrimSuffix(cfg.APIURL, "/")))
	}

	api, err := tgbot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating telegram client: %w", redactToken(err, cfg.Token))
	}
	a.api = api
	return a, nil
}

// Run polls until ctx is cancelled or sink is closed. Poll failures are
// retried by the client with backoff.
func (a *Adapter) Run(ctx context.Context, sink Sink) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.sink = sink
	a.stop = cancel
	a.mu.Unlock()

	a.logger.Info("starting telegram polling")
	a.api.Start(runCtx)
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, _ *tgbot.Bot, u *models.Update) {
	in, ok := a.inbound(ctx, u)
	if !ok {
		return
	}

	a.mu.Lock()
	sink, stop := a.sink, a.stop
	a.mu.Unlock()
	if sink == nil {
		return
	}

	if err := sink.Submit(ctx, in); err != nil {
		if errors.Is(err, bot.ErrPoolClosed) {
			stop()
			return
		}
		if ctx.Err() != nil {
			return
		}
		a.logger.Error("failed to submit update", "update_id", u.ID, "error", err)
	}
}

func (a *Adapter) logPollError(err error) {
	a.logger.Warn("telegram polling failed", "error", redactToken(err, a.token))
}

// inbound converts an update. Callback queries are acknowledged here.
func (a *Adapter) inbound(ctx context.Context, u *models.Update) (bot.Inbound, bool) {
	if u == nil {
		return bot.Inbound{}, false
	}
	deliveryID := Frontend + ":" + strconv.FormatInt(u.ID, 10)

	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if _, err := a.api.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{CallbackQueryID: cq.ID}); err != nil {
			a.logger.Warn("answerCallbackQuery failed", "callback_id", cq.ID, "error", redactToken(err, a.token))
		}
		chatID, ok := callbackChatID(cq)
		if !ok {
			a.logger.Debug("callback without message", "update_id", u.ID)
			return bot.Inbound{}, false
		}
		data := cq.Data
		return bot.Inbound{
			DeliveryID:     deliveryID,
			ConversationID: chatKey(chatID),
			Sender:         displayName(&cq.From),
			CallbackToken:  &data,
		}, true

	case u.Message != nil:
		text := u.Message.Text
		return bot.Inbound{
			DeliveryID:     deliveryID,
			ConversationID: chatKey(u.Message.Chat.ID),
			Sender:         displayName(u.Message.From),
			Text:           &text,
		}, true
	}
	return bot.Inbound{}, false
}

// callbackChatID finds the chat of the message carrying the pressed button.
// Old messages arrive as inaccessible but still name their chat.
func callbackChatID(cq *models.CallbackQuery) (int64, bool) {
	switch {
	case cq.Message.Message != nil:
		return cq.Message.Message.Chat.ID, true
	case cq.Message.InaccessibleMessage != nil:
		return cq.Message.InaccessibleMessage.Chat.ID, true
	}
	return 0, false
}

// displayName prefers the username.
func displayName(u *models.User) string {
	if u == nil {
		return ""
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.FirstName
}

// Send implements bot.MessageGateway.
func (a *Adapter) Send(ctx context.Context, conversationID, text string, buttons []bot.Button) error {
	chatID, err := parseChatKey(conversationID)
	if err != nil {
		return err
	}

	params := &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   truncate(text, MaxMessageRunes-1),
	}
	if len(buttons) > 0 {
		rows := make([][]models.InlineKeyboardButton, 0, len(buttons))
		for _, b := range buttons {
			rows = append(rows, []models.InlineKeyboardButton{{Text: b.Label, CallbackData: b.Token}})
		}
		params.ReplyMarkup = &models.InlineKeyboardMarkup{InlineKeyboard: rows}
	}

	if _, err := a.api.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("sending to chat %d: %w", chatID, redactToken(err, a.token))
	}
	return nil
}

func chatKey(chatID int64) string {
	return bot.ConversationKey(Frontend, strconv.FormatInt(chatID, 10))
}

func parseChatKey(conversationID string) (int64, error) {
	frontend, native, ok := bot.SplitConversationKey(conversationID)
	if !ok || frontend != Frontend {
		return 0, fmt.Errorf("not a telegram conversation: %q", conversationID)
	}
	id, err := strconv.ParseInt(native, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", native, err)
	}
	return id, nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// redactToken hides the bot token, which the Bot API embeds in request URLs.
func redactToken(err error, token string) error {
	if err == nil || token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
