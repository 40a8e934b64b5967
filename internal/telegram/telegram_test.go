package telegram

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workglows/personabot/internal/dispatch"
	"github.com/workglows/personabot/internal/persona"
	"github.com/workglows/personabot/internal/respond"
)

type fakeAPI struct {
	sent       []tgbotapi.Chattable
	requested  []tgbotapi.Chattable
	raw        []rawCall
	updates    []tgbotapi.Update
	updatesCfg []tgbotapi.UpdateConfig
	sendErr    error
	updatesErr error
}

type rawCall struct {
	endpoint string
	params   tgbotapi.Params
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requested = append(f.requested, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.updatesCfg = append(f.updatesCfg, config)
	return f.updates, f.updatesErr
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.raw = append(f.raw, rawCall{endpoint: endpoint, params: params})
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func newTestClient(f *fakeAPI) *Client {
	return &Client{
		log:  slog.Default(),
		api:  f,
		self: tgbotapi.User{ID: 9000, UserName: "sakura_chan_bot"},
	}
}

func groupUpdate(id int, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		Message: &tgbotapi.Message{
			MessageID: id * 10,
			Chat:      &tgbotapi.Chat{ID: -100, Type: "group"},
			From:      &tgbotapi.User{ID: 42, FirstName: "Ayumi"},
			Text:      text,
		},
	}
}

func TestFetchEventsConvertsUpdates(t *testing.T) {
	reply := &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 9000},
	}
	f := &fakeAPI{updates: []tgbotapi.Update{
		{
			UpdateID: 100,
			Message: &tgbotapi.Message{
				MessageID:      11,
				Chat:           &tgbotapi.Chat{ID: 55, Type: "private"},
				From:           &tgbotapi.User{ID: 42, FirstName: "Ayumi", LastName: "Sato"},
				Text:           "hello there",
				ReplyToMessage: reply,
			},
		},
		{
			UpdateID: 101,
			Message: &tgbotapi.Message{
				MessageID: 12,
				Chat:      &tgbotapi.Chat{ID: -200, Type: "supergroup"},
				From:      &tgbotapi.User{ID: 43, UserName: "kenta_k"},
				Sticker:   &tgbotapi.Sticker{FileID: "abc"},
			},
		},
	}}
	c := newTestClient(f)

	events, err := c.FetchEvents(context.Background(), 99, 30)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Len(t, f.updatesCfg, 1)
	assert.Equal(t, 100, f.updatesCfg[0].Offset)
	assert.Equal(t, 30, f.updatesCfg[0].Timeout)

	first := events[0]
	assert.Equal(t, 100, first.UpdateID)
	assert.Equal(t, int64(55), first.ChatID)
	assert.Equal(t, dispatch.ChatPrivate, first.ChatKind)
	assert.Equal(t, 11, first.MessageID)
	assert.Equal(t, int64(42), first.SenderID)
	assert.Equal(t, "Ayumi Sato", first.SenderName)
	assert.Equal(t, "hello there", first.Text)
	assert.False(t, first.Sticker)
	require.NotNil(t, first.ReplyTo)
	assert.Equal(t, 7, first.ReplyTo.MessageID)
	assert.Equal(t, int64(9000), first.ReplyTo.AuthorID)

	second := events[1]
	assert.Equal(t, dispatch.ChatGroup, second.ChatKind)
	assert.True(t, second.Sticker)
	assert.Empty(t, second.Text)
	assert.Equal(t, "kenta_k", second.SenderName)
	assert.Nil(t, second.ReplyTo)
}

func TestFetchEventsDropsMalformedUpdates(t *testing.T) {
	f := &fakeAPI{updates: []tgbotapi.Update{
		{UpdateID: 1},                              // no message
		{UpdateID: 2, Message: &tgbotapi.Message{}}, // no chat or sender
		{
			UpdateID: 3,
			Message: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: 5, Type: "channel"},
				From: &tgbotapi.User{ID: 42},
			},
		},
		groupUpdate(4, "kept"),
	}}
	c := newTestClient(f)

	events, err := c.FetchEvents(context.Background(), 0, 30)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 4, events[0].UpdateID)
}

func TestDeliverTextBuildsMessage(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(f)

	buttons := []persona.ButtonRow{
		{Buttons: []persona.Button{{Text: "Updates", URL: "https://t.me/x"}}},
	}
	err := c.DeliverText(context.Background(), 55, "hi <b>there</b>", respond.SendOptions{
		ReplyTo: 11,
		Buttons: buttons,
	})
	require.NoError(t, err)

	require.Len(t, f.sent, 1)
	msg, ok := f.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(55), msg.ChatID)
	assert.Equal(t, "hi <b>there</b>", msg.Text)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Equal(t, 11, msg.ReplyToMessageID)

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 1)
	assert.Equal(t, "Updates", markup.InlineKeyboard[0][0].Text)
}

func TestDeliverTextOmitsOptionalFields(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(f)

	require.NoError(t, c.DeliverText(context.Background(), 55, "plain", respond.SendOptions{}))

	msg := f.sent[0].(tgbotapi.MessageConfig)
	assert.Zero(t, msg.ReplyToMessageID)
	assert.Nil(t, msg.ReplyMarkup)
}

func TestDeliverTextTruncatesAtPlatformLimit(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(f)

	long := strings.Repeat("あ", maxMessageLength+1)
	require.NoError(t, c.DeliverText(context.Background(), 55, long, respond.SendOptions{}))

	msg := f.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, maxMessageLength, utf8.RuneCountInString(msg.Text))
	assert.True(t, strings.HasSuffix(msg.Text, "..."))
	assert.True(t, strings.HasPrefix(msg.Text, "あ"))
}

// A reply the responder already clamped sits under the character limit even
// when it is far over 4096 bytes; the transport must deliver it verbatim.
func TestDeliverTextKeepsClampedMultibyteReply(t *testing.T) {
	p, err := persona.Load("sakura", "")
	require.NoError(t, err)
	f := &fakeAPI{}
	c := newTestClient(f)

	clamped := strings.Repeat("あ", p.TruncateTo) + p.TooLongNotice
	require.Greater(t, len(clamped), maxMessageLength)
	require.LessOrEqual(t, utf8.RuneCountInString(clamped), maxMessageLength)

	require.NoError(t, c.DeliverText(context.Background(), 55, clamped, respond.SendOptions{}))

	msg := f.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, clamped, msg.Text)
}

func TestDeliverSticker(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(f)

	require.NoError(t, c.DeliverSticker(context.Background(), -100, "sticker-file-id", 12))

	require.Len(t, f.sent, 1)
	sticker, ok := f.sent[0].(tgbotapi.StickerConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100), sticker.ChatID)
	assert.Equal(t, 12, sticker.ReplyToMessageID)
	assert.Equal(t, tgbotapi.FileID("sticker-file-id"), sticker.File)
}

func TestIndicateMapsKinds(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(f)

	require.NoError(t, c.Indicate(context.Background(), 55, respond.IndicatorTyping))
	require.NoError(t, c.Indicate(context.Background(), 55, respond.IndicatorSticker))

	require.Len(t, f.requested, 2)
	typing := f.requested[0].(tgbotapi.ChatActionConfig)
	assert.Equal(t, tgbotapi.ChatTyping, typing.Action)
	choosing := f.requested[1].(tgbotapi.ChatActionConfig)
	assert.Equal(t, "choose_sticker", choosing.Action)
}

func TestReactUsesRawEndpoint(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(f)

	require.NoError(t, c.React(context.Background(), -100, 12, "🌸"))

	require.Len(t, f.raw, 1)
	assert.Equal(t, "setMessageReaction", f.raw[0].endpoint)
	assert.Equal(t, "-100", f.raw[0].params["chat_id"])
	assert.Equal(t, "12", f.raw[0].params["message_id"])

	var payload []struct {
		Type  string `json:"type"`
		Emoji string `json:"emoji"`
	}
	require.NoError(t, json.Unmarshal([]byte(f.raw[0].params["reaction"]), &payload))
	require.Len(t, payload, 1)
	assert.Equal(t, "emoji", payload[0].Type)
	assert.Equal(t, "🌸", payload[0].Emoji)
}

func TestReactEscapesPayload(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(f)

	require.NoError(t, c.React(context.Background(), -100, 12, `a"b\c`))

	var payload []struct {
		Emoji string `json:"emoji"`
	}
	require.NoError(t, json.Unmarshal([]byte(f.raw[0].params["reaction"]), &payload))
	assert.Equal(t, `a"b\c`, payload[0].Emoji)
}

func TestRegisterCommands(t *testing.T) {
	f := &fakeAPI{}
	c := newTestClient(f)

	err := c.RegisterCommands(context.Background(), []Command{
		{Name: "start", Description: "Start chatting"},
		{Name: "reset", Description: "Forget the conversation"},
	})
	require.NoError(t, err)

	require.Len(t, f.requested, 1)
	cfg, ok := f.requested[0].(tgbotapi.SetMyCommandsConfig)
	require.True(t, ok)
	require.Len(t, cfg.Commands, 2)
	assert.Equal(t, "start", cfg.Commands[0].Command)
	assert.Equal(t, "Forget the conversation", cfg.Commands[1].Description)
}

func TestSelfIdentity(t *testing.T) {
	c := newTestClient(&fakeAPI{})
	id := c.Self()
	assert.Equal(t, int64(9000), id.ID)
	assert.Equal(t, "sakura_chan_bot", id.Username)
}

func TestFetchEventsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestClient(&fakeAPI{})
	_, err := c.FetchEvents(ctx, 0, 30)
	assert.ErrorIs(t, err, context.Canceled)
}
