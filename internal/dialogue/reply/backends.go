package reply

import (
	"context"

	"calling-agent/internal/clients/googleai"
	"calling-agent/internal/clients/groq"
)

// GroqBackend adapts the Groq client to the Backend interface.
type GroqBackend struct {
	Client *groq.Client
}

func (b GroqBackend) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	converted := make([]groq.Message, len(messages))
	for i, m := range messages {
		converted[i] = groq.Message{Role: m.Role, Content: m.Content}
	}
	return b.Client.Complete(ctx, system, converted)
}

// GeminiBackend adapts the Google AI client to the Backend interface.
type GeminiBackend struct {
	Client *googleai.Client
}

func (b GeminiBackend) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	converted := make([]googleai.Message, len(messages))
	for i, m := range messages {
		converted[i] = googleai.Message{Role: m.Role, Content: m.Content}
	}
	return b.Client.Complete(ctx, system, converted)
}
