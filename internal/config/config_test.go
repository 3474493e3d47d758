package config

import (
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("ELEVENLABS_API_KEY", "xi-key")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8080" || cfg.Provider != "elevenlabs" {
		t.Fatalf("defaults wrong: %+v", cfg)
	}
	if cfg.Workers != 5 || cfg.QueueSize != 100 {
		t.Fatalf("pool defaults wrong: %+v", cfg)
	}
	if cfg.RetryMaxAttempts != 8 || cfg.RetryBaseDelay != time.Minute {
		t.Fatalf("retry defaults wrong: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("MAX_TASK_RUNTIME", "90m")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != 2 {
		t.Fatalf("workers = %d", cfg.Workers)
	}
	if cfg.MaxTaskRuntime != 90*time.Minute {
		t.Fatalf("max runtime = %v", cfg.MaxTaskRuntime)
	}
}

func TestLoadRejectsMissingSupabase(t *testing.T) {
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing supabase settings")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TRANSCRIPTION_PROVIDER", "whispernet")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestLoadSpeechmaticsNeedsWebhookURL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TRANSCRIPTION_PROVIDER", "speechmatics")
	t.Setenv("SPEECHMATICS_API_KEY", "sm-key")
	t.Setenv("TRANSCRIPTION_WEBHOOK_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when webhook URL is missing")
	}

	t.Setenv("TRANSCRIPTION_WEBHOOK_URL", "https://tutty.example/api/v1/webhook/transcription")
	if _, err := Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
