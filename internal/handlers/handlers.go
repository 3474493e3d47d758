// Package handlers exposes the service's inbound HTTP surface: the enqueue
// call, the provider webhook and the live event stream. Everything else
// (upload intake, auth, payments) lives in collaborating services.
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/hossjar/transcription-service/internal/jobs"
	"github.com/hossjar/transcription-service/internal/models"
	"github.com/hossjar/transcription-service/internal/notify"
	"github.com/hossjar/transcription-service/internal/store"
	"github.com/hossjar/transcription-service/internal/utils"
	"github.com/hossjar/transcription-service/internal/worker"
)

// JobStore is the slice of persistence the handlers need.
type JobStore interface {
	JobByID(id string) (*models.Job, error)
	UpdateJob(id string, fields map[string]interface{}) error
}

// Pipeline is what the handlers expect from the job orchestrator.
type Pipeline interface {
	Process(ctx context.Context, jobID string) error
	Resume(ctx context.Context, providerRef, status string, payload []byte) error
}

// Queue accepts background jobs for execution.
type Queue interface {
	Submit(job worker.Job) bool
}

// ApplicationHandler holds shared dependencies for handlers.
type ApplicationHandler struct {
	Logger   *logrus.Logger
	Store    JobStore
	Pipeline Pipeline
	Queue    Queue
	Hub      *notify.Hub
	Validate *validator.Validate
}

func NewApplicationHandler(logger *logrus.Logger, st JobStore, pipeline Pipeline, queue Queue, hub *notify.Hub) *ApplicationHandler {
	return &ApplicationHandler{
		Logger:   logger,
		Store:    st,
		Pipeline: pipeline,
		Queue:    queue,
		Hub:      hub,
		Validate: validator.New(),
	}
}

// RegisterRoutes mounts the handler routes on the fiber app.
func (h *ApplicationHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.Health)

	apiV1 := app.Group("/api/v1")
	apiV1.Post("/jobs/:jobId/transcribe", h.SubmitTranscription)
	apiV1.Post("/webhook/transcription", h.TranscriptionWebhook)
	apiV1.Get("/events/:userId", h.StreamEvents)
}

// Health reports service liveness.
func (h *ApplicationHandler) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":  "ok",
		"message": "Transcription service is healthy",
	})
}

// SubmitTranscriptionPayload carries the per-job transcription options the
// upload-intake collaborator selected.
type SubmitTranscriptionPayload struct {
	OutputFormat   string `json:"output_format" validate:"required,oneof=text srt structured"`
	Language       string `json:"language" validate:"omitempty,min=2,max=16"`
	Diarize        bool   `json:"diarize"`
	TagAudioEvents bool   `json:"tag_audio_events"`
}

// SubmitTranscription stamps the pending job row with the requested options
// and queues the transcription task.
// POST /api/v1/jobs/:jobId/transcribe
func (h *ApplicationHandler) SubmitTranscription(c *fiber.Ctx) error {
	jobID := c.Params("jobId")

	var payload SubmitTranscriptionPayload
	if err := c.BodyParser(&payload); err != nil {
		h.Logger.WithError(err).WithField("job_id", jobID).Warn("Unparseable submit payload")
		return utils.RespondWithError(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.Validate.Struct(payload); err != nil {
		return utils.RespondWithError(c, fiber.StatusBadRequest,
			fmt.Sprintf("Validation failed: %s", strings.Join(utils.FormatValidationErrors(err), "; ")))
	}
	if payload.Language == "" {
		payload.Language = "auto"
	}

	job, err := h.Store.JobByID(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.RespondWithError(c, fiber.StatusNotFound, "Job not found")
		}
		h.Logger.WithError(err).WithField("job_id", jobID).Error("Failed to load job for submission")
		return utils.RespondWithError(c, fiber.StatusInternalServerError, "Could not load job")
	}
	if job.Status != models.StatusPending {
		return utils.RespondWithError(c, fiber.StatusConflict,
			fmt.Sprintf("Job is %s, only pending jobs can be submitted", job.Status))
	}

	err = h.Store.UpdateJob(jobID, map[string]interface{}{
		"output_format":    payload.OutputFormat,
		"language":         payload.Language,
		"diarize":          payload.Diarize,
		"tag_audio_events": payload.TagAudioEvents,
	})
	if err != nil {
		h.Logger.WithError(err).WithField("job_id", jobID).Error("Failed to record transcription options")
		return utils.RespondWithError(c, fiber.StatusInternalServerError, "Could not update job")
	}

	if !h.Queue.Submit(jobs.NewTranscribeJob(jobID, h.Pipeline)) {
		return utils.RespondWithError(c, fiber.StatusServiceUnavailable, "Worker queue is full, try again later")
	}

	h.Logger.WithField("job_id", jobID).Info("Transcription job queued")
	return utils.RespondWithJSON(c, fiber.StatusAccepted, fiber.Map{"job_id": jobID, "status": "queued"})
}

// TranscriptionWebhook resumes an async job from the provider callback.
// The provider sends the job reference and status as query parameters and,
// on success, the raw transcript payload in the body.
// POST /api/v1/webhook/transcription?id=...&status=...
func (h *ApplicationHandler) TranscriptionWebhook(c *fiber.Ctx) error {
	providerRef := c.Query("id")
	status := c.Query("status")
	if providerRef == "" {
		return utils.RespondWithError(c, fiber.StatusBadRequest, "Missing id in query params")
	}

	err := h.Pipeline.Resume(c.Context(), providerRef, status, c.Body())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return utils.RespondWithError(c, fiber.StatusNotFound, "Unknown job reference")
		}
		h.Logger.WithError(err).WithField("provider_job_ref", providerRef).Error("Webhook processing failed")
		return utils.RespondWithError(c, fiber.StatusInternalServerError, "Error processing transcript")
	}
	return utils.RespondWithJSON(c, fiber.StatusOK, fiber.Map{"detail": "Webhook processed successfully"})
}

// StreamEvents streams a user's job notifications as server-sent events.
// Delivery is best-effort; clients re-fetch job state on reconnect.
// GET /api/v1/events/:userId
func (h *ApplicationHandler) StreamEvents(c *fiber.Ctx) error {
	userID := c.Params("userId")
	channel := models.UserChannel(userID)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	events, cancel := h.Hub.Subscribe(channel)
	done := c.Context().Done()

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for {
			select {
			case event, open := <-events:
				if !open {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
	return nil
}
