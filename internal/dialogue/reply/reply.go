// Package reply provides the reply-generation variants behind the
// processor.ReplyGenerator port: a single-step responder and a two-step
// interpret-then-compose pipeline, each over a pluggable chat backend.
package reply

import (
	"context"
	"fmt"
	"strings"

	"calling-agent/internal/dialogue/processor"
	"calling-agent/internal/observability"
)

// Message is one chat turn handed to a backend.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Backend is a chat completion capability. Implementations wrap the Groq and
// Gemini clients.
type Backend interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Prompts holds the instruction text for the generation variants.
type Prompts struct {
	System           string
	InterpretSystem  string
	ComposeSystem    string
	ClarifyingPrompt string
}

// DefaultPrompts mirrors the agent's HR-call persona.
func DefaultPrompts(clarifying string) Prompts {
	return Prompts{
		System: "You are an assistant on a live phone call with an HR representative. " +
			"Reply politely in one or two short sentences.",
		InterpretSystem: "Summarize what the HR representative just said on a phone call " +
			"in one sentence, capturing their intent and any concrete details.",
		ComposeSystem: "You are an assistant on a live phone call with an HR representative. " +
			"Given an interpretation of what they said, reply politely in one or two short sentences.",
		ClarifyingPrompt: clarifying,
	}
}

// historyMessages flattens prior turns plus the new utterance into a chat
// transcript for the backend.
func historyMessages(dctx processor.DialogueContext) []Message {
	messages := make([]Message, 0, len(dctx.Turns)*2+1)
	for _, turn := range dctx.Turns {
		if turn.CallerText != "" {
			messages = append(messages, Message{Role: "user", Content: turn.CallerText})
		}
		if turn.AgentText != "" {
			messages = append(messages, Message{Role: "assistant", Content: turn.AgentText})
		}
	}
	messages = append(messages, Message{Role: "user", Content: dctx.Utterance})
	return messages
}

// SingleStep generates the reply in one completion over the full transcript.
type SingleStep struct {
	backend Backend
	prompts Prompts
	logger  *observability.Logger
}

func NewSingleStep(backend Backend, prompts Prompts, logger *observability.Logger) *SingleStep {
	return &SingleStep{backend: backend, prompts: prompts, logger: logger}
}

func (g *SingleStep) Generate(ctx context.Context, dctx processor.DialogueContext) (string, error) {
	if strings.TrimSpace(dctx.Utterance) == "" {
		// Nothing was heard; prompt the counterpart instead of guessing.
		return g.prompts.ClarifyingPrompt, nil
	}

	text, err := g.backend.Complete(ctx, g.prompts.System, historyMessages(dctx))
	if err != nil {
		return "", fmt.Errorf("single-step generation: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Pipeline generates the reply in two steps: an interpret completion distills
// the utterance, then a compose completion writes the spoken reply from that
// interpretation.
type Pipeline struct {
	backend Backend
	prompts Prompts
	logger  *observability.Logger
}

func NewPipeline(backend Backend, prompts Prompts, logger *observability.Logger) *Pipeline {
	return &Pipeline{backend: backend, prompts: prompts, logger: logger}
}

func (g *Pipeline) Generate(ctx context.Context, dctx processor.DialogueContext) (string, error) {
	if strings.TrimSpace(dctx.Utterance) == "" {
		return g.prompts.ClarifyingPrompt, nil
	}

	interpretation, err := g.backend.Complete(ctx, g.prompts.InterpretSystem, []Message{
		{Role: "user", Content: dctx.Utterance},
	})
	if err != nil {
		return "", fmt.Errorf("interpret step: %w", err)
	}

	messages := historyMessages(dctx)
	// The compose step sees the interpretation in place of the raw utterance.
	messages[len(messages)-1] = Message{
		Role:    "user",
		Content: fmt.Sprintf("They said: %q. Interpretation: %s", dctx.Utterance, interpretation),
	}

	text, err := g.backend.Complete(ctx, g.prompts.ComposeSystem, messages)
	if err != nil {
		return "", fmt.Errorf("compose step: %w", err)
	}
	return strings.TrimSpace(text), nil
}
