// Package persona holds the static character configuration that gives the
// relay its voice. A deployment differs from another only by the Persona
// value it is started with; everything else is shared machinery.
package persona

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

//go:embed presets/*.toml
var presets embed.FS

const (
	// DefaultMaxReplyLen is the reply length ceiling above which generated
	// text gets clamped.
	DefaultMaxReplyLen = 4000
	// DefaultTruncateTo is the length replies are cut down to when they
	// exceed the ceiling, before the too-long notice is appended.
	DefaultTruncateTo = 3900
)

// Button is one inline URL button shown under the welcome message.
type Button struct {
	Text string `toml:"text" validate:"required"`
	URL  string `toml:"url" validate:"required,url"`
}

// ButtonRow groups buttons rendered on one keyboard row.
type ButtonRow struct {
	Buttons []Button `toml:"buttons" validate:"min=1,dive"`
}

// Persona is the immutable character configuration. Loaded once at startup,
// never mutated afterwards.
type Persona struct {
	// Name is the display name, also used in log lines.
	Name string `toml:"name" validate:"required"`
	// Keyword triggers replies in group chats (case-insensitive substring).
	Keyword string `toml:"keyword" validate:"required"`
	// Prompt is the instruction block prefixed to every generation request.
	Prompt string `toml:"prompt" validate:"required"`
	// Closing is the fixed instruction appended after the user text,
	// e.g. "Respond as Sakura Haruno:".
	Closing string `toml:"closing" validate:"required"`

	Welcome       string `toml:"welcome" validate:"required"`
	Help          string `toml:"help" validate:"required"`
	ResetAck      string `toml:"reset_ack" validate:"required"`
	TooLongNotice string `toml:"too_long_notice" validate:"required"`

	StartMessages []string `toml:"start_messages" validate:"min=1"`
	ErrorMessages []string `toml:"error_messages" validate:"min=1"`

	// Stickers are Telegram sticker file ids used to acknowledge sticker
	// replies in groups. Reactions are the fallback emoji vocabulary when no
	// stickers are configured.
	Stickers  []string `toml:"stickers"`
	Reactions []string `toml:"reactions"`

	ButtonRows []ButtonRow `toml:"button_rows" validate:"dive"`

	MaxReplyLen int `toml:"max_reply_len" validate:"gt=0"`
	TruncateTo  int `toml:"truncate_to" validate:"gt=0"`
}

// Load returns the persona selected by preset name, or the one decoded from
// path when path is non-empty.
func Load(name, path string) (*Persona, error) {
	var data []byte
	var err error
	if strings.TrimSpace(path) != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read persona file: %w", err)
		}
	} else {
		data, err = presets.ReadFile("presets/" + strings.ToLower(strings.TrimSpace(name)) + ".toml")
		if err != nil {
			return nil, fmt.Errorf("unknown persona preset %q", name)
		}
	}
	return parse(data)
}

// Presets lists the built-in persona names.
func Presets() []string {
	entries, err := presets.ReadDir("presets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".toml"))
	}
	return names
}

func parse(data []byte) (*Persona, error) {
	p := Persona{
		MaxReplyLen: DefaultMaxReplyLen,
		TruncateTo:  DefaultTruncateTo,
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode persona: %w", err)
	}
	if err := validator.New().Struct(p); err != nil {
		return nil, fmt.Errorf("validate persona: %w", err)
	}
	if p.TruncateTo >= p.MaxReplyLen {
		return nil, fmt.Errorf("truncate_to (%d) must be below max_reply_len (%d)", p.TruncateTo, p.MaxReplyLen)
	}
	return &p, nil
}
