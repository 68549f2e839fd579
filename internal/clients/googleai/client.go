package googleai

import (
	"context"
	"fmt"
	"strings"

	"calling-agent/internal/observability"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Message mirrors the chat turns handed to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client wraps the Gemini SDK for single-shot chat completions with history.
type Client struct {
	apiKey string
	model  string
	logger *observability.Logger
}

func NewClient(apiKey, model string, logger *observability.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google AI API key is required")
	}
	return &Client{apiKey: apiKey, model: model, logger: logger}, nil
}

// Complete sends the history plus the final user message to Gemini and
// returns the reply text.
func (c *Client) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		c.logger.Error(ctx, "failed to create gemini client", err)
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(c.model)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}

	var history []*genai.Content
	var prompt genai.Part = genai.Text("")
	if len(messages) > 0 {
		for _, m := range messages[:len(messages)-1] {
			role := "user"
			if m.Role == "assistant" {
				role = "model" // Gemini SDK expects "model"
			}
			history = append(history, &genai.Content{
				Role:  role,
				Parts: []genai.Part{genai.Text(m.Content)},
			})
		}
		prompt = genai.Text(messages[len(messages)-1].Content)
	}

	chat := model.StartChat()
	chat.History = history
	resp, err := chat.SendMessage(ctx, prompt)
	if err != nil {
		c.logger.Error(ctx, "gemini completion failed", err)
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
