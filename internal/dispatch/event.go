// Package dispatch decides, per inbound message, whether and how the relay
// responds.
package dispatch

// ChatKind distinguishes one-to-one chats from group chats.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

// Identity is the bot's own identity as reported by the platform.
type Identity struct {
	ID       int64
	Username string
}

// ReplyRef points at the message an event replies to.
type ReplyRef struct {
	MessageID int
	AuthorID  int64
}

// Event is one inbound message, already normalized by the transport adapter.
// Consumed once; never stored.
type Event struct {
	UpdateID   int
	ChatID     int64
	ChatKind   ChatKind
	MessageID  int
	SenderID   int64
	SenderName string
	Text       string
	Sticker    bool
	ReplyTo    *ReplyRef
}

// IsReplyTo reports whether the event explicitly replies to a message
// authored by the given identity.
func (e Event) IsReplyTo(bot Identity) bool {
	return e.ReplyTo != nil && e.ReplyTo.AuthorID == bot.ID
}
