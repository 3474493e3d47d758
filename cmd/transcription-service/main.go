package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/hossjar/transcription-service/internal/config"
	"github.com/hossjar/transcription-service/internal/handlers"
	"github.com/hossjar/transcription-service/internal/middleware"
	"github.com/hossjar/transcription-service/internal/notify"
	"github.com/hossjar/transcription-service/internal/orchestrator"
	"github.com/hossjar/transcription-service/internal/store"
	"github.com/hossjar/transcription-service/internal/transcriber"
	"github.com/hossjar/transcription-service/internal/worker"
)

func main() {
	log := config.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := store.NewClient(cfg.SupabaseURL, cfg.SupabaseKey)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}

	var adapter transcriber.Adapter
	switch cfg.Provider {
	case "speechmatics":
		adapter = transcriber.NewSpeechmatics(cfg.SpeechmaticsAPIKey, cfg.WebhookURL)
	default:
		adapter = transcriber.NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModelID)
	}
	log.WithField("provider", adapter.Name()).Info("Transcription provider selected")

	hub := notify.NewHub()
	retry := orchestrator.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      true,
	}
	orch := orchestrator.New(st, orchestrator.FFmpegMedia{}, adapter, hub, retry, log)

	dispatcher := worker.NewDispatcher(cfg.Workers, cfg.QueueSize, cfg.MaxTaskRuntime, log)
	dispatcher.Run()

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))
	app.Use(middleware.RequestLogger(log))

	h := handlers.NewApplicationHandler(log, st, orch, dispatcher, hub)
	h.RegisterRoutes(app)

	go func() {
		log.WithField("port", cfg.Port).Info("Starting transcription service")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down transcription service")
	if err := app.Shutdown(); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	dispatcher.Stop()
	log.Info("Transcription service shut down gracefully")
}
