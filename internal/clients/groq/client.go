package groq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"calling-agent/internal/observability"

	"github.com/openai/openai-go"
	openaiOption "github.com/openai/openai-go/option"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// ErrEmptyCompletion is returned when the model produced no usable text, so
// callers can engage their fallback instead of speaking nothing.
var ErrEmptyCompletion = errors.New("empty completion")

// Message is one chat turn handed to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Client talks to Groq's OpenAI-compatible API: Whisper transcription, chat
// completions, and speech synthesis.
type Client struct {
	client       openai.Client
	chatModel    string
	whisperModel string
	ttsModel     string
	ttsVoice     string
	logger       *observability.Logger
}

type Config struct {
	APIKey       string
	ChatModel    string
	WhisperModel string
	TTSModel     string
	TTSVoice     string
}

func NewClient(cfg Config, logger *observability.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("groq API key is required")
	}
	client := openai.NewClient(
		openaiOption.WithAPIKey(cfg.APIKey),
		openaiOption.WithBaseURL(groqBaseURL),
	)
	return &Client{
		client:       client,
		chatModel:    cfg.ChatModel,
		whisperModel: cfg.WhisperModel,
		ttsModel:     cfg.TTSModel,
		ttsVoice:     cfg.TTSVoice,
		logger:       logger,
	}, nil
}

// Transcribe sends audio bytes to the Whisper endpoint and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	file := openai.File(bytes.NewReader(audio), "audio.wav", "audio/wav")
	params := openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(c.whisperModel),
		File:  file,
	}
	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		c.logger.Error(ctx, "whisper transcription failed", err)
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// Complete runs a chat completion over the system prompt and message history.
func (c *Client) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.chatModel),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1),
	}
	if system != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(system))
	}
	for _, m := range messages {
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
			continue
		}
		params.Messages = append(params.Messages, openai.UserMessage(m.Content))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		c.logger.Error(ctx, "chat completion failed", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// Speak renders text to mp3 audio via the speech endpoint.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	params := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.ttsModel),
		Voice:          openai.AudioSpeechNewParamsVoice(c.ttsVoice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
	resp, err := c.client.Audio.Speech.New(ctx, params)
	if err != nil {
		c.logger.Error(ctx, "speech synthesis failed", err)
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("speech endpoint returned empty audio")
	}
	return audio, nil
}
