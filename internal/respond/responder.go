// Package respond turns classifier decisions into outbound deliveries: it
// owns the per-user sessions, builds generation prompts, clamps replies, and
// runs the command handlers.
package respond

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/workglows/personabot/internal/dispatch"
	"github.com/workglows/personabot/internal/persona"
	"github.com/workglows/personabot/internal/session"
)

// IndicatorKind selects the "working" hint shown while a reply is prepared.
type IndicatorKind string

const (
	IndicatorTyping  IndicatorKind = "typing"
	IndicatorSticker IndicatorKind = "choose_sticker"
)

// SendOptions carries optional delivery parameters. ReplyTo of zero means no
// explicit reply linkage.
type SendOptions struct {
	ReplyTo int
	Buttons []persona.ButtonRow
}

// Channel is the outbound side of the messaging platform as the responder
// needs it.
type Channel interface {
	DeliverText(ctx context.Context, chatID int64, text string, opts SendOptions) error
	DeliverSticker(ctx context.Context, chatID int64, fileID string, replyTo int) error
	// Indicate is fire-and-forget; callers ignore its error beyond logging.
	Indicate(ctx context.Context, chatID int64, kind IndicatorKind) error
	React(ctx context.Context, chatID int64, messageID int, emoji string) error
}

// Session is one user's conversation with the generation backend. The handle
// accumulates history across Generate calls; the responder never inspects it.
type Session interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Responder implements the reply orchestration for one persona.
type Responder struct {
	log        *slog.Logger
	p          *persona.Persona
	ch         Channel
	sessions   *session.Store[Session]
	genTimeout time.Duration

	// pick selects a random index below n; swapped out in tests.
	pick func(n int) int
}

// NewResponder wires a responder. genTimeout bounds each generation call.
func NewResponder(log *slog.Logger, p *persona.Persona, ch Channel, sessions *session.Store[Session], genTimeout time.Duration) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{
		log:        log.With(slog.String("component", "respond")),
		p:          p,
		ch:         ch,
		sessions:   sessions,
		genTimeout: genTimeout,
		pick:       rand.IntN,
	}
}

// Respond executes the decision for one event. Per event it performs at most
// one working indicator and one substantive delivery; generation failures are
// converted into an in-persona fallback message and never escape.
func (r *Responder) Respond(ctx context.Context, ev dispatch.Event, d dispatch.Decision) error {
	switch d.Kind {
	case dispatch.RunCommand:
		return r.runCommand(ctx, ev, d.Command)
	case dispatch.RespondWithSticker:
		r.indicate(ctx, ev.ChatID, IndicatorSticker)
		return r.stickerAck(ctx, ev)
	case dispatch.RespondWithText:
		r.indicate(ctx, ev.ChatID, IndicatorTyping)
		return r.generateReply(ctx, ev)
	default:
		return nil
	}
}

func (r *Responder) indicate(ctx context.Context, chatID int64, kind IndicatorKind) {
	if err := r.ch.Indicate(ctx, chatID, kind); err != nil {
		r.log.Warn("indicator failed", slog.Int64("chat_id", chatID), slog.String("kind", string(kind)), slog.Any("error", err))
	}
}

// stickerAck answers a sticker with a random sticker from the persona set,
// falling back to an emoji reaction when no stickers are configured.
func (r *Responder) stickerAck(ctx context.Context, ev dispatch.Event) error {
	if len(r.p.Stickers) > 0 {
		fileID := r.p.Stickers[r.pick(len(r.p.Stickers))]
		return r.ch.DeliverSticker(ctx, ev.ChatID, fileID, ev.MessageID)
	}
	if len(r.p.Reactions) > 0 {
		emoji := r.p.Reactions[r.pick(len(r.p.Reactions))]
		return r.ch.React(ctx, ev.ChatID, ev.MessageID, emoji)
	}
	r.log.Debug("no stickers or reactions configured", slog.Int64("chat_id", ev.ChatID))
	return nil
}

func (r *Responder) generateReply(ctx context.Context, ev dispatch.Event) error {
	sess, err := r.sessions.GetOrCreate(ev.SenderID)
	if err != nil {
		r.log.Error("session create failed", slog.Int64("user_id", ev.SenderID), slog.Any("error", err))
		r.deliverFallback(ctx, ev)
		return nil
	}

	genCtx := ctx
	if r.genTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, r.genTimeout)
		defer cancel()
	}
	reply, err := sess.Generate(genCtx, r.buildPrompt(ev))
	if err != nil {
		r.log.Error("generation failed", slog.Int64("user_id", ev.SenderID), slog.Any("error", err))
		r.deliverFallback(ctx, ev)
		return nil
	}

	reply = r.clampReply(reply)
	opts := SendOptions{}
	if ev.ChatKind == dispatch.ChatGroup {
		opts.ReplyTo = ev.MessageID
	}
	if err := r.ch.DeliverText(ctx, ev.ChatID, reply, opts); err != nil {
		r.log.Error("deliver reply failed", slog.Int64("chat_id", ev.ChatID), slog.Any("error", err))
	}
	return nil
}

// buildPrompt wraps the user text in the persona instruction block, with a
// personalization hint when the sender's display name is known.
func (r *Responder) buildPrompt(ev dispatch.Event) string {
	var b strings.Builder
	b.WriteString(r.p.Prompt)
	if name := strings.TrimSpace(ev.SenderName); name != "" {
		b.WriteString("\n\nThe user's name is ")
		b.WriteString(name)
		b.WriteString(". Address them by name when it feels natural.")
	}
	b.WriteString("\n\nUser: ")
	b.WriteString(ev.Text)
	b.WriteString("\n\n")
	b.WriteString(r.p.Closing)
	return b.String()
}

// clampReply cuts replies above the persona ceiling down to the truncation
// target (in runes) and appends the fixed too-long notice.
func (r *Responder) clampReply(reply string) string {
	runes := []rune(reply)
	if len(runes) <= r.p.MaxReplyLen {
		return reply
	}
	return string(runes[:r.p.TruncateTo]) + r.p.TooLongNotice
}

// deliverFallback sends one random in-persona error message. Uniform failure
// surface: the user never sees backend error detail.
func (r *Responder) deliverFallback(ctx context.Context, ev dispatch.Event) {
	msg := r.p.ErrorMessages[r.pick(len(r.p.ErrorMessages))]
	opts := SendOptions{}
	if ev.ChatKind == dispatch.ChatGroup {
		opts.ReplyTo = ev.MessageID
	}
	if err := r.ch.DeliverText(ctx, ev.ChatID, msg, opts); err != nil {
		r.log.Error("deliver fallback failed", slog.Int64("chat_id", ev.ChatID), slog.Any("error", err))
	}
}

func (r *Responder) runCommand(ctx context.Context, ev dispatch.Event, name string) error {
	switch name {
	case "start":
		if ev.ChatKind == dispatch.ChatGroup {
			// no keyboard spam in groups, just a short in-persona greeting
			greeting := r.p.StartMessages[r.pick(len(r.p.StartMessages))]
			return r.ch.DeliverText(ctx, ev.ChatID, greeting, SendOptions{ReplyTo: ev.MessageID})
		}
		return r.ch.DeliverText(ctx, ev.ChatID, r.p.Welcome, SendOptions{Buttons: r.p.ButtonRows})
	case "help":
		return r.ch.DeliverText(ctx, ev.ChatID, r.p.Help, SendOptions{})
	case "reset":
		r.sessions.Reset(ev.SenderID)
		return r.ch.DeliverText(ctx, ev.ChatID, r.p.ResetAck, SendOptions{})
	default:
		r.log.Debug("unknown command ignored", slog.String("command", name))
		return nil
	}
}
