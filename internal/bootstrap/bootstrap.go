package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"calling-agent/internal/config"
	"calling-agent/internal/observability"
	"calling-agent/internal/store"

	"calling-agent/internal/clients/googleai"
	"calling-agent/internal/clients/groq"
	kafkaClient "calling-agent/internal/clients/kafka"
	twilioClient "calling-agent/internal/clients/twilio"
	"calling-agent/internal/dashboard"
	"calling-agent/internal/dialogue/assets"
	dialogueHandler "calling-agent/internal/dialogue/handler"
	dialogueProcessor "calling-agent/internal/dialogue/processor"
	"calling-agent/internal/dialogue/reply"
	"calling-agent/internal/dialogue/synth"
	"calling-agent/internal/events"
	"calling-agent/internal/workers"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Store  *store.Store
	Logger *observability.Logger

	// Handlers
	DialogueHandler  dialogueHandler.Handler
	DashboardHandler dashboard.Handler

	// Background workers
	PersistencePool *workers.Pool

	// Kafka producer (for cleanup, nil when event streaming is disabled)
	KafkaProducer *kafkaClient.Producer
}

// Initialize sets up all application dependencies
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	// Initialize database store
	connectionString := cfg.Database.ConnectionString()
	var err error
	deps.Store, err = store.New(connectionString, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Initialize clients
	twilioCli, err := twilioClient.NewClient(twilioClient.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
		Retries:    cfg.Dialogue.FetchRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create twilio client: %w", err)
	}

	groqCli, err := groq.NewClient(groq.Config{
		APIKey:       cfg.Groq.APIKey,
		ChatModel:    cfg.Groq.ChatModel,
		WhisperModel: cfg.Groq.WhisperModel,
		TTSModel:     cfg.Groq.TTSModel,
		TTSVoice:     cfg.Groq.TTSVoice,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create groq client: %w", err)
	}

	// Initialize Kafka producer when brokers are configured
	if cfg.Kafka.EventsEnabled() {
		deps.KafkaProducer = kafkaClient.NewProducer(kafkaClient.ProducerConfig{
			Brokers: strings.Split(cfg.Kafka.Brokers, ","),
			Topic:   cfg.Kafka.Topic,
		}, logger)
	}

	// Initialize live feed hub and event publisher
	hub := dashboard.NewHub(logger)
	publisher := events.NewPublisher(deps.KafkaProducer, hub, logger)

	// Initialize reply generator for the configured backend
	prompts := reply.DefaultPrompts(cfg.Dialogue.ClarifyingPrompt)
	var generator dialogueProcessor.ReplyGenerator
	switch cfg.Dialogue.ReplyBackend {
	case config.ReplyBackendGemini:
		geminiCli, err := googleai.NewClient(cfg.GoogleAI.APIKey, cfg.GoogleAI.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create google AI client: %w", err)
		}
		generator = reply.NewSingleStep(reply.GeminiBackend{Client: geminiCli}, prompts, logger)
	case config.ReplyBackendGroqPipeline:
		generator = reply.NewPipeline(reply.GroqBackend{Client: groqCli}, prompts, logger)
	default:
		generator = reply.NewSingleStep(reply.GroqBackend{Client: groqCli}, prompts, logger)
	}

	// Initialize speech synthesis and audio asset store
	assetStore, err := assets.New(cfg.Dialogue.StaticDir, cfg.Dialogue.PublicURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset store: %w", err)
	}
	synthesizer := synth.New(groqCli, assetStore, logger)

	// Initialize persistence worker pool
	deps.PersistencePool = workers.NewPool(workers.Config{}, logger)
	deps.PersistencePool.Start(ctx)

	// Initialize dialogue processor and handler
	proc := dialogueProcessor.New(
		twilioCli,
		groqCli,
		generator,
		synthesizer,
		deps.Store,
		publisher,
		deps.PersistencePool,
		dialogueProcessor.Config{
			Greeting:          cfg.Dialogue.Greeting,
			FallbackReply:     cfg.Dialogue.FallbackReply,
			ApologyLine:       cfg.Dialogue.ApologyLine,
			MaxTurns:          cfg.Dialogue.MaxTurns,
			TurnTimeout:       cfg.Dialogue.TurnTimeout,
			FetchTimeout:      cfg.Dialogue.FetchTimeout,
			TranscribeTimeout: cfg.Dialogue.TranscribeTimeout,
			GenerateTimeout:   cfg.Dialogue.GenerateTimeout,
			SynthesizeTimeout: cfg.Dialogue.SynthesizeTimeout,
		},
		logger,
	)
	deps.DialogueHandler = dialogueHandler.New(proc, twilioCli, dialogueHandler.Config{
		PublicURL:       cfg.Dialogue.PublicURL,
		TargetNumber:    cfg.Twilio.TargetNumber,
		RecordMaxLength: cfg.Dialogue.RecordMaxLength,
		RecordTimeout:   cfg.Dialogue.RecordTimeout,
	}, logger)

	// Initialize dashboard handler
	deps.DashboardHandler = dashboard.New(deps.Store, hub, logger)

	return deps, nil
}

// Cleanup closes all resources that need cleanup
func (d *Dependencies) Cleanup() {
	if d.PersistencePool != nil {
		d.PersistencePool.Stop()
	}
	if d.KafkaProducer != nil {
		d.KafkaProducer.Close()
	}
}
