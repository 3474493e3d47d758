// Package config loads service configuration from the environment and owns
// the shared logrus instance.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config carries everything the service reads from the environment.
// Provider selection decides which adapter variant runs; only the selected
// provider's credentials are required.
type Config struct {
	Port string `validate:"required"`

	SupabaseURL string `validate:"required,url"`
	SupabaseKey string `validate:"required"`

	// Provider is "elevenlabs" (synchronous) or "speechmatics"
	// (asynchronous, webhook-driven).
	Provider string `validate:"required,oneof=elevenlabs speechmatics"`

	ElevenLabsAPIKey  string
	ElevenLabsModelID string

	SpeechmaticsAPIKey string
	// WebhookURL is the public URL the async provider posts results to.
	WebhookURL string `validate:"omitempty,url"`

	Workers        int           `validate:"gte=1"`
	QueueSize      int           `validate:"gte=1"`
	MaxTaskRuntime time.Duration `validate:"gt=0"`

	RetryMaxAttempts int           `validate:"gte=1"`
	RetryBaseDelay   time.Duration `validate:"gt=0"`
	RetryMaxDelay    time.Duration `validate:"gt=0"`
}

// Load reads the environment into a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getenv("PORT", "8080"),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseKey:        os.Getenv("SUPABASE_SERVICE_KEY"),
		Provider:           getenv("TRANSCRIPTION_PROVIDER", "elevenlabs"),
		ElevenLabsAPIKey:   os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsModelID:  getenv("ELEVENLABS_MODEL_ID", "scribe_v1"),
		SpeechmaticsAPIKey: os.Getenv("SPEECHMATICS_API_KEY"),
		WebhookURL:         os.Getenv("TRANSCRIPTION_WEBHOOK_URL"),
		Workers:            getenvInt("WORKER_COUNT", 5),
		QueueSize:          getenvInt("JOB_QUEUE_SIZE", 100),
		MaxTaskRuntime:     getenvDuration("MAX_TASK_RUNTIME", 45*time.Minute),
		RetryMaxAttempts:   getenvInt("RETRY_MAX_ATTEMPTS", 8),
		RetryBaseDelay:     getenvDuration("RETRY_BASE_DELAY", time.Minute),
		RetryMaxDelay:      getenvDuration("RETRY_MAX_DELAY", 15*time.Minute),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Provider == "speechmatics" && cfg.WebhookURL == "" {
		return nil, fmt.Errorf("invalid configuration: TRANSCRIPTION_WEBHOOK_URL is required for the speechmatics provider")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
