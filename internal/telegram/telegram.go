// Package telegram adapts the Telegram Bot API to the relay's inbound and
// outbound interfaces: long-poll fetching, text/sticker delivery, chat
// actions, reactions, and the command menu.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/workglows/personabot/internal/dispatch"
	"github.com/workglows/personabot/internal/persona"
	"github.com/workglows/personabot/internal/respond"
)

// maxMessageLength is Telegram's hard per-message limit, measured in
// characters. The responder clamps generated replies below this; the
// transport guard only protects persona-supplied text such as welcome blocks
// and must never touch an already-clamped reply.
const maxMessageLength = 4096

// api is the slice of *tgbotapi.BotAPI the client uses. Narrow on purpose so
// tests can fake the wire.
type api interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Command is one entry of the platform command menu.
type Command struct {
	Name        string
	Description string
}

// Client talks to Telegram on behalf of one bot account.
type Client struct {
	log  *slog.Logger
	api  api
	self tgbotapi.User
}

// NewClient authenticates the bot token (getMe) and returns a ready client.
func NewClient(token string, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "telegram"))
	_ = tgbotapi.SetLogger(&slogBotLogger{log: log})
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Client{log: log, api: bot, self: bot.Self}, nil
}

// Self returns the bot's own identity as reported by getMe.
func (c *Client) Self() dispatch.Identity {
	return dispatch.Identity{ID: c.self.ID, Username: c.self.UserName}
}

// FetchEvents long-polls for updates with ids strictly greater than afterID,
// waiting server-side up to waitSeconds. Malformed updates are dropped
// (fail closed) rather than surfaced.
func (c *Client) FetchEvents(ctx context.Context, afterID, waitSeconds int) ([]dispatch.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := tgbotapi.NewUpdate(afterID + 1)
	cfg.Timeout = waitSeconds
	updates, err := c.api.GetUpdates(cfg)
	if err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	events := make([]dispatch.Event, 0, len(updates))
	for _, u := range updates {
		ev, ok := eventFromUpdate(u)
		if !ok {
			c.log.Debug("dropping malformed or unsupported update", slog.Int("update_id", u.UpdateID))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// eventFromUpdate normalizes one update. Updates without a message, chat, or
// sender, and chats that are neither private nor group, are rejected.
func eventFromUpdate(u tgbotapi.Update) (dispatch.Event, bool) {
	msg := u.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return dispatch.Event{}, false
	}
	var kind dispatch.ChatKind
	switch {
	case msg.Chat.IsPrivate():
		kind = dispatch.ChatPrivate
	case msg.Chat.IsGroup() || msg.Chat.IsSuperGroup():
		kind = dispatch.ChatGroup
	default:
		return dispatch.Event{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	ev := dispatch.Event{
		UpdateID:   u.UpdateID,
		ChatID:     msg.Chat.ID,
		ChatKind:   kind,
		MessageID:  msg.MessageID,
		SenderID:   msg.From.ID,
		SenderName: senderName(msg.From),
		Text:       text,
		Sticker:    msg.Sticker != nil,
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		ev.ReplyTo = &dispatch.ReplyRef{
			MessageID: msg.ReplyToMessage.MessageID,
			AuthorID:  msg.ReplyToMessage.From.ID,
		}
	}
	return ev, true
}

func senderName(from *tgbotapi.User) string {
	name := strings.TrimSpace(strings.TrimSpace(from.FirstName) + " " + strings.TrimSpace(from.LastName))
	if name == "" {
		name = strings.TrimSpace(from.UserName)
	}
	return name
}

// DeliverText sends HTML-formatted text, optionally as an explicit reply and
// with an inline URL keyboard.
func (c *Client) DeliverText(ctx context.Context, chatID int64, text string, opts respond.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, truncateText(sanitizeText(text)))
	msg.ParseMode = tgbotapi.ModeHTML
	if opts.ReplyTo > 0 {
		msg.ReplyToMessageID = opts.ReplyTo
	}
	if len(opts.Buttons) > 0 {
		msg.ReplyMarkup = inlineKeyboard(opts.Buttons)
	}
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// DeliverSticker sends a sticker by file id, replying to the given message
// when replyTo is non-zero.
func (c *Client) DeliverSticker(ctx context.Context, chatID int64, fileID string, replyTo int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sticker := tgbotapi.NewSticker(chatID, tgbotapi.FileID(fileID))
	if replyTo > 0 {
		sticker.ReplyToMessageID = replyTo
	}
	if _, err := c.api.Send(sticker); err != nil {
		return fmt.Errorf("send sticker: %w", err)
	}
	return nil
}

// Indicate sends a chat action. The indicator clears on its own server-side.
func (c *Client) Indicate(ctx context.Context, chatID int64, kind respond.IndicatorKind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	action := tgbotapi.ChatTyping
	if kind == respond.IndicatorSticker {
		action = "choose_sticker"
	}
	if _, err := c.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// React sets an emoji reaction on a message. The library has no typed config
// for setMessageReaction, so this goes through the raw request path.
func (c *Client) React(ctx context.Context, chatID int64, messageID int, emoji string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reaction, err := json.Marshal([]struct {
		Type  string `json:"type"`
		Emoji string `json:"emoji"`
	}{{Type: "emoji", Emoji: emoji}})
	if err != nil {
		return fmt.Errorf("encode reaction: %w", err)
	}
	params := tgbotapi.Params{}
	params.AddNonEmpty("chat_id", strconv.FormatInt(chatID, 10))
	params.AddNonEmpty("message_id", strconv.Itoa(messageID))
	params.AddNonEmpty("reaction", string(reaction))
	if _, err := c.api.MakeRequest("setMessageReaction", params); err != nil {
		return fmt.Errorf("set reaction: %w", err)
	}
	return nil
}

// RegisterCommands publishes the command menu. Idempotent; safe to call on
// every startup.
func (c *Client) RegisterCommands(ctx context.Context, commands []Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	botCommands := make([]tgbotapi.BotCommand, len(commands))
	for i, cmd := range commands {
		botCommands[i] = tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description}
	}
	if _, err := c.api.Request(tgbotapi.NewSetMyCommands(botCommands...)); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

func inlineKeyboard(rows []persona.ButtonRow) tgbotapi.InlineKeyboardMarkup {
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row.Buttons))
		for _, b := range row.Buttons {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
		}
		keyboard = append(keyboard, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

// sanitizeText strips invalid byte sequences so the API never rejects the
// payload for encoding reasons.
func sanitizeText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateText cuts text to the platform's character limit. The limit is in
// runes, not bytes; a multibyte reply under 4096 characters passes through
// untouched.
func truncateText(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLength {
		return text
	}
	const suffix = "..."
	runes := []rune(text)
	return string(runes[:maxMessageLength-len([]rune(suffix))]) + suffix
}

// slogBotLogger routes the library's own log lines through slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(fmt.Sprintln(v...))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}
