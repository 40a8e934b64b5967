package dispatch

import "strings"

// DecisionKind selects how (or whether) an event is answered.
type DecisionKind int

const (
	Ignore DecisionKind = iota
	RunCommand
	RespondWithSticker
	RespondWithText
)

// Decision is the classifier output. Command carries the command name when
// Kind is RunCommand.
type Decision struct {
	Kind    DecisionKind
	Command string
}

// Commands are the registered command tokens, matched prefix-wise and
// case-sensitively against the leading slash token.
var Commands = []string{"start", "help", "reset"}

// Classifier applies the response rules for one bot identity and trigger
// keyword. Zero allocations per call; safe for concurrent use.
type Classifier struct {
	Bot     Identity
	Keyword string
}

// Classify evaluates the rules in order, first match wins:
// commands always win, then textless/stickerless events are dropped, private
// chats are always answered, and group chats only on reply-to-bot or keyword.
func (c Classifier) Classify(ev Event) Decision {
	text := strings.TrimSpace(ev.Text)

	if name, ok := commandToken(text); ok {
		return Decision{Kind: RunCommand, Command: name}
	}
	if text == "" && !ev.Sticker {
		return Decision{Kind: Ignore}
	}
	if ev.ChatKind == ChatPrivate {
		if text == "" && ev.Sticker {
			return Decision{Kind: RespondWithSticker}
		}
		return Decision{Kind: RespondWithText}
	}
	if ev.IsReplyTo(c.Bot) {
		if ev.Sticker {
			return Decision{Kind: RespondWithSticker}
		}
		return Decision{Kind: RespondWithText}
	}
	if c.Keyword != "" && strings.Contains(strings.ToLower(text), strings.ToLower(c.Keyword)) {
		return Decision{Kind: RespondWithText}
	}
	return Decision{Kind: Ignore}
}

// commandToken extracts the command name from a leading slash token. A
// registered name is matched as a prefix of the token ("/starting" still
// runs start, mirroring the platform's permissive matching); any other slash
// token is passed through so the orchestrator can drop it as a no-op.
func commandToken(text string) (string, bool) {
	if len(text) < 2 || text[0] != '/' {
		return "", false
	}
	token := text[1:]
	if i := strings.IndexAny(token, " \t\n"); i >= 0 {
		token = token[:i]
	}
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	if token == "" {
		return "", false
	}
	for _, name := range Commands {
		if strings.HasPrefix(token, name) {
			return name, true
		}
	}
	return token, true
}
