// Package gemini backs conversation sessions with the Gemini API. Each user
// gets a chat session that carries its own history server-side in the client
// library, so the relay never persists transcripts itself.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/workglows/personabot/internal/respond"
)

// Generator creates per-user chat sessions against one model.
type Generator struct {
	log    *slog.Logger
	client *genai.Client
	model  string
}

// NewGenerator authenticates against the Gemini API. The key is validated
// lazily on the first generation call, not here.
func NewGenerator(ctx context.Context, apiKey, model string, log *slog.Logger) (*Generator, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Generator{
		log:    log.With(slog.String("component", "gemini")),
		client: client,
		model:  model,
	}, nil
}

// NewSession starts an empty-history chat session.
func (g *Generator) NewSession(ctx context.Context) (respond.Session, error) {
	chat, err := g.client.Chats.Create(ctx, g.model, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	return &chatSession{chat: chat}, nil
}

type chatSession struct {
	chat *genai.Chat
}

// Generate sends one prompt on the session and returns the model's text.
// History accumulates inside the chat object across calls.
func (s *chatSession) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := s.chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("model returned an empty reply")
	}
	return text, nil
}
