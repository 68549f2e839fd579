package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Twilio   TwilioConfig
	Groq     GroqConfig
	GoogleAI GoogleAIConfig
	Kafka    KafkaConfig
	Dialogue DialogueConfig
	Server   ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host     string
	Username string
	Password string
	Name     string
}

// TwilioConfig holds the telephony platform credentials and numbers
type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	TargetNumber string
}

// GroqConfig holds the Groq API key and model selection
type GroqConfig struct {
	APIKey       string
	ChatModel    string
	WhisperModel string
	TTSModel     string
	TTSVoice     string
}

// GoogleAIConfig holds the Gemini API configuration. The key is only
// required when the reply backend is set to "gemini".
type GoogleAIConfig struct {
	APIKey string
	Model  string
}

// KafkaConfig holds event streaming configuration. Empty brokers disable
// event publishing entirely.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

// Reply backend selectors. Which reply-generation variant is constructed
// is decided once at startup, never per request.
const (
	ReplyBackendGroq         = "groq"
	ReplyBackendGroqPipeline = "groq-pipeline"
	ReplyBackendGemini       = "gemini"
)

// DialogueConfig holds the conversation loop tuning knobs
type DialogueConfig struct {
	PublicURL        string
	ReplyBackend     string
	Greeting         string
	FallbackReply    string
	ApologyLine      string
	ClarifyingPrompt string
	MaxTurns         int
	RecordMaxLength  int // seconds
	RecordTimeout    int // seconds of silence before the recording closes
	FetchRetries     int
	StaticDir        string

	// TurnTimeout bounds the whole recording-webhook pipeline; it must stay
	// inside the telephony platform's webhook response window (~15s for
	// Twilio) or the platform drops the call mid-turn.
	TurnTimeout       time.Duration
	FetchTimeout      time.Duration
	TranscribeTimeout time.Duration
	GenerateTimeout   time.Duration
	SynthesizeTimeout time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

const (
	defaultGreeting = "Hello, this is the AI calling agent from AiKing Solutions. " +
		"May I know what job openings are currently available?"
	defaultFallbackReply    = "I'm sorry, could you repeat that?"
	defaultApologyLine      = "Sorry, I had trouble hearing you. Could you say that again?"
	defaultClarifyingPrompt = "I didn't catch that. Could you tell me a little more?"
)

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments
	if os.Getenv("GO_ENV") != "production" {
		if err := godotenv.Load("env.local"); err != nil {
			return nil, fmt.Errorf("failed to load env.local: %w", err)
		}
	}

	cfg := &Config{}

	// Database configuration
	var err error
	if cfg.Database.Host, err = requireEnv("DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.Database.Username, err = requireEnv("DB_USERNAME"); err != nil {
		return nil, err
	}
	if cfg.Database.Password, err = requireEnv("DB_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Database.Name, err = requireEnv("DB_NAME"); err != nil {
		return nil, err
	}

	// Twilio configuration
	if cfg.Twilio.AccountSID, err = requireEnv("TWILIO_ACCOUNT_SID"); err != nil {
		return nil, err
	}
	if cfg.Twilio.AuthToken, err = requireEnv("TWILIO_AUTH_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.Twilio.FromNumber, err = requireEnv("TWILIO_PHONE_NUMBER"); err != nil {
		return nil, err
	}
	cfg.Twilio.TargetNumber = os.Getenv("TARGET_PHONE_NUMBER")

	// Groq configuration
	if cfg.Groq.APIKey, err = requireEnv("GROQ_API_KEY"); err != nil {
		return nil, err
	}
	cfg.Groq.ChatModel = getEnvWithDefault("GROQ_CHAT_MODEL", "llama-3.1-8b-instant")
	cfg.Groq.WhisperModel = getEnvWithDefault("GROQ_WHISPER_MODEL", "whisper-large-v3")
	cfg.Groq.TTSModel = getEnvWithDefault("GROQ_TTS_MODEL", "playai-tts")
	cfg.Groq.TTSVoice = getEnvWithDefault("GROQ_TTS_VOICE", "Fritz-PlayAI")

	// Google AI configuration (only required for the gemini backend)
	cfg.GoogleAI.APIKey = os.Getenv("GOOGLE_AI_API_KEY")
	cfg.GoogleAI.Model = getEnvWithDefault("GOOGLE_AI_MODEL", "gemini-2.0-flash")

	// Kafka configuration
	cfg.Kafka.Brokers = os.Getenv("KAFKA_BROKERS")
	cfg.Kafka.Topic = getEnvWithDefault("KAFKA_TOPIC", "call-events")

	// Dialogue configuration
	if cfg.Dialogue.PublicURL, err = requireEnv("PUBLIC_URL"); err != nil {
		return nil, err
	}
	cfg.Dialogue.ReplyBackend = getEnvWithDefault("REPLY_BACKEND", ReplyBackendGroq)
	switch cfg.Dialogue.ReplyBackend {
	case ReplyBackendGroq, ReplyBackendGroqPipeline, ReplyBackendGemini:
	default:
		return nil, fmt.Errorf("unknown REPLY_BACKEND %q", cfg.Dialogue.ReplyBackend)
	}
	if cfg.Dialogue.ReplyBackend == ReplyBackendGemini && cfg.GoogleAI.APIKey == "" {
		return nil, fmt.Errorf("GOOGLE_AI_API_KEY is not set: %w", ErrEmptyEnvironmentVariable)
	}
	cfg.Dialogue.Greeting = getEnvWithDefault("CALL_GREETING", defaultGreeting)
	cfg.Dialogue.FallbackReply = getEnvWithDefault("FALLBACK_REPLY", defaultFallbackReply)
	cfg.Dialogue.ApologyLine = getEnvWithDefault("APOLOGY_LINE", defaultApologyLine)
	cfg.Dialogue.ClarifyingPrompt = getEnvWithDefault("CLARIFYING_PROMPT", defaultClarifyingPrompt)
	cfg.Dialogue.StaticDir = getEnvWithDefault("STATIC_DIR", "static")

	if cfg.Dialogue.MaxTurns, err = intEnv("MAX_TURNS", 10); err != nil {
		return nil, err
	}
	if cfg.Dialogue.RecordMaxLength, err = intEnv("RECORD_MAX_LENGTH", 12); err != nil {
		return nil, err
	}
	if cfg.Dialogue.RecordTimeout, err = intEnv("RECORD_TIMEOUT", 3); err != nil {
		return nil, err
	}
	if cfg.Dialogue.FetchRetries, err = intEnv("FETCH_RETRIES", 2); err != nil {
		return nil, err
	}
	if cfg.Dialogue.TurnTimeout, err = durationEnv("TURN_TIMEOUT", 12*time.Second); err != nil {
		return nil, err
	}
	if cfg.Dialogue.FetchTimeout, err = durationEnv("FETCH_TIMEOUT", 4*time.Second); err != nil {
		return nil, err
	}
	if cfg.Dialogue.TranscribeTimeout, err = durationEnv("TRANSCRIBE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Dialogue.GenerateTimeout, err = durationEnv("GENERATE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Dialogue.SynthesizeTimeout, err = durationEnv("SYNTHESIZE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	// Server configuration
	serverPort, err := requireEnv("SERVER_PORT")
	if err != nil {
		return nil, err
	}
	cfg.Server.Port, err = strconv.Atoi(serverPort)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SERVER_PORT: %w", err)
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		c.Username, c.Password, c.Host, c.Name)
}

// EventsEnabled reports whether Kafka event publishing is configured
func (c *KafkaConfig) EventsEnabled() bool {
	return c.Brokers != ""
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func intEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return parsed, nil
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return parsed, nil
}
