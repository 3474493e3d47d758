// Package orchestrator owns the transcription job lifecycle: it validates
// preconditions, drives extraction, the provider adapter and output
// rendering, persists every state transition, deducts the owner's balance
// and publishes progress events. Jobs move pending -> processing ->
// transcribed | error and never backwards.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hossjar/transcription-service/internal/faults"
	"github.com/hossjar/transcription-service/internal/ffmpeg"
	"github.com/hossjar/transcription-service/internal/format"
	"github.com/hossjar/transcription-service/internal/models"
	"github.com/hossjar/transcription-service/internal/notify"
	"github.com/hossjar/transcription-service/internal/store"
	"github.com/hossjar/transcription-service/internal/transcriber"
)

// Store is the persistence capability the orchestrator mutates jobs through.
// Every transition re-reads or conditionally updates the persisted row; the
// orchestrator never trusts an in-memory copy across steps.
type Store interface {
	JobByID(id string) (*models.Job, error)
	JobByProviderRef(ref string) (*models.Job, error)
	UpdateJob(id string, fields map[string]interface{}) error
	ClaimTransition(id string, from []models.JobStatus, fields map[string]interface{}) (bool, error)
	DeductMinutes(ownerID string, minutes float64) error
}

// Media abstracts the ffmpeg probe/extract steps so tests can fake them.
type Media interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ExtractAudio(ctx context.Context, videoPath string) (string, error)
}

// ResultParser is implemented by adapters whose transcripts arrive through
// the webhook rather than the Transcribe call.
type ResultParser interface {
	ParseResult(payload []byte) (*models.Transcript, error)
}

// RetryPolicy bounds the automatic re-attempts for transient provider
// failures. Delays grow exponentially from BaseDelay, capped at MaxDelay,
// with optional jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// Delay returns the backoff before the given re-attempt (attempt starts
// at 1 for the first retry).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// Random point in [d/2, d) so synchronized retries spread out.
		d = d/2 + time.Duration(rand.Int63n(int64(d/2)))
	}
	return d
}

// Orchestrator wires the pipeline capabilities together. It is safe for
// concurrent use across jobs; a single job is only ever touched by one task
// execution plus, for the async adapter, the webhook resumption.
type Orchestrator struct {
	store     Store
	media     Media
	adapter   transcriber.Adapter
	publisher notify.Publisher
	retry     RetryPolicy
	log       *logrus.Logger

	// sleep is replaceable in tests so retry backoff does not slow them.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(st Store, media Media, adapter transcriber.Adapter, publisher notify.Publisher, retry RetryPolicy, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		media:     media,
		adapter:   adapter,
		publisher: publisher,
		retry:     retry,
		log:       log,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// activeStates are the only states a terminal transition may claim from.
var activeStates = []models.JobStatus{models.StatusPending, models.StatusProcessing}

// Process runs the transcription task for one job. It is idempotent: running
// it again on a finished job publishes a duplicate notice and does nothing
// else. All failures are absorbed into the job's terminal state; the
// returned error is for worker logging only.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	started := time.Now()
	jlog := o.log.WithField("job_id", jobID)

	job, err := o.store.JobByID(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jlog.Error("Job row not found, nothing to process")
			return nil
		}
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	jlog = jlog.WithField("owner_id", job.OwnerID)

	// Idempotency guard. A crash between provider success and state commit
	// makes task retries inevitable; a finished job must never be re-billed
	// or re-sent to the provider.
	switch job.Status {
	case models.StatusTranscribed:
		jlog.Info("Job already transcribed, publishing duplicate notice")
		o.notifyJob(job, string(models.StatusTranscribed), "Transcription already completed.")
		return nil
	case models.StatusError:
		jlog.Warn("Job already in error state, skipping")
		return nil
	}

	o.notifyJob(job, string(models.StatusProcessing), "Transcription job started.")

	// Commit processing up front so collaborators reading storage see the
	// job as in flight for the whole task, not just the async wait.
	claimed, err := o.store.ClaimTransition(job.ID, activeStates, map[string]interface{}{
		"status": models.StatusProcessing,
	})
	if err != nil {
		return fmt.Errorf("failed to mark job %s processing: %w", job.ID, err)
	}
	if !claimed {
		jlog.Warn("Job finished elsewhere before processing could start")
		return nil
	}
	job.Status = models.StatusProcessing

	if err := o.adapter.Ready(); err != nil {
		jlog.WithError(err).Error("Provider credentials not configured")
		o.fail(job, err)
		return nil
	}

	if err := checkSource(job.SourcePath); err != nil {
		jlog.WithError(err).Error("Source file check failed")
		o.fail(job, err)
		return nil
	}

	if job.IsVideo {
		if err := o.extractAudio(ctx, job, jlog); err != nil {
			o.fail(job, err)
			return nil
		}
	}

	if job.DurationSeconds <= 0 {
		if err := o.refreshDuration(ctx, job); err != nil {
			jlog.WithError(err).Error("Media duration indeterminate")
			o.fail(job, err)
			return nil
		}
	}

	// Fail fast on an unusable format before spending provider money.
	if !job.OutputFormat.Valid() {
		err := faults.New(faults.Config, nil, "Unsupported output format %q.", job.OutputFormat)
		jlog.WithError(err).Error("Invalid output format")
		o.fail(job, err)
		return nil
	}

	outcome, err := o.callProvider(ctx, job, jlog)
	if err != nil {
		o.fail(job, err)
		return err
	}

	if outcome.ProviderRef != "" {
		// Async variant: the task ends here, the webhook finishes the job.
		claimed, err := o.store.ClaimTransition(job.ID, activeStates, map[string]interface{}{
			"status":           models.StatusProcessing,
			"provider_job_ref": outcome.ProviderRef,
		})
		if err != nil {
			return fmt.Errorf("failed to persist provider reference for job %s: %w", job.ID, err)
		}
		if !claimed {
			jlog.Warn("Job finished elsewhere before submission could be recorded")
			return nil
		}
		jlog.WithField("provider_job_ref", outcome.ProviderRef).Info("Job submitted, awaiting webhook")
		o.notifyJob(job, string(models.StatusProcessing), "Transcription job submitted, awaiting provider result.")
		return nil
	}

	if err := o.finish(job, outcome.Transcript, jlog); err != nil {
		return err
	}
	jlog.WithField("elapsed_seconds", time.Since(started).Seconds()).Info("Transcription task finished")
	return nil
}

// Resume completes an async job from a webhook callback, correlated by the
// provider's job reference. An unknown reference mutates nothing and returns
// store.ErrNotFound for the handler to surface.
func (o *Orchestrator) Resume(ctx context.Context, providerRef, status string, payload []byte) error {
	jlog := o.log.WithField("provider_job_ref", providerRef)

	job, err := o.store.JobByProviderRef(providerRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jlog.Error("Webhook received for unknown provider job reference")
		}
		return err
	}
	jlog = jlog.WithFields(logrus.Fields{"job_id": job.ID, "owner_id": job.OwnerID})

	// Same idempotency guard as the task path: the webhook may race an
	// unrelated retry of the submission task.
	if job.Status == models.StatusTranscribed {
		jlog.Info("Job already transcribed, publishing duplicate notice")
		o.notifyJob(job, string(models.StatusTranscribed), "Transcription already completed.")
		return nil
	}

	if status != "success" {
		jlog.WithField("provider_status", status).Error("Provider reported failure via webhook")
		o.fail(job, faults.New(faults.ProviderPermanent, nil, "Transcription failed with provider status %q.", status))
		return nil
	}

	parser, ok := o.adapter.(ResultParser)
	if !ok {
		err := faults.New(faults.Config, nil, "Active provider does not deliver results via webhook.")
		jlog.Error(err.Message)
		o.fail(job, err)
		return nil
	}

	transcript, err := parser.ParseResult(payload)
	if err != nil {
		jlog.WithError(err).Error("Failed to parse webhook transcript payload")
		o.fail(job, err)
		return nil
	}

	return o.finish(job, transcript, jlog)
}

// extractAudio converts a video upload into audio, atomically repoints the
// job at the new file and removes the original video so a task retry never
// re-processes it. On failure the video is left on disk for investigation.
func (o *Orchestrator) extractAudio(ctx context.Context, job *models.Job, jlog *logrus.Entry) error {
	jlog.Info("Extracting audio from video upload")
	audioPath, err := o.media.ExtractAudio(ctx, job.SourcePath)
	if err != nil {
		return faults.New(faults.Media, err, "Failed to extract audio from video file.")
	}

	duration, err := o.media.ProbeDuration(ctx, audioPath)
	if err != nil || duration <= 0 {
		return faults.New(faults.Input, err, "Could not determine duration of the extracted audio.")
	}

	originalPath := job.SourcePath
	err = o.store.UpdateJob(job.ID, map[string]interface{}{
		"source_path":            audioPath,
		"is_video":               false,
		"media_duration_seconds": duration,
	})
	if err != nil {
		return faults.New(faults.Media, err, "Failed to record extracted audio.")
	}
	job.SourcePath = audioPath
	job.IsVideo = false
	job.DurationSeconds = duration

	if err := os.Remove(originalPath); err != nil && !os.IsNotExist(err) {
		jlog.WithError(err).Warn("Could not remove original video file")
	}
	o.notifyJob(job, string(models.StatusProcessing), "Audio extracted from video file.")
	return nil
}

// refreshDuration probes the source when the intake collaborator did not
// record a duration. A probe of 0 means billing would be blind, so the job
// is rejected rather than processed.
func (o *Orchestrator) refreshDuration(ctx context.Context, job *models.Job) error {
	duration, err := o.media.ProbeDuration(ctx, job.SourcePath)
	if err != nil || duration <= 0 {
		return faults.New(faults.Input, err, "Could not determine media duration.")
	}
	if err := o.store.UpdateJob(job.ID, map[string]interface{}{"media_duration_seconds": duration}); err != nil {
		return faults.New(faults.Input, err, "Failed to record media duration.")
	}
	job.DurationSeconds = duration
	return nil
}

// callProvider invokes the adapter, retrying transient failures per the
// configured policy. Permanent failures and exhausted retries surface as the
// final error.
func (o *Orchestrator) callProvider(ctx context.Context, job *models.Job, jlog *logrus.Entry) (*transcriber.Outcome, error) {
	req := transcriber.Request{
		AudioPath:       job.SourcePath,
		Language:        job.Language,
		Diarize:         job.Diarize,
		TagAudioEvents:  job.TagAudioEvents,
		DurationSeconds: job.DurationSeconds,
	}

	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		outcome, err := o.adapter.Transcribe(ctx, req)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !faults.Retryable(err) {
			jlog.WithError(err).Error("Provider call failed permanently")
			return nil, err
		}
		if attempt == o.retry.MaxAttempts {
			break
		}
		delay := o.retry.Delay(attempt)
		jlog.WithError(err).WithFields(logrus.Fields{
			"attempt":     attempt,
			"retry_in_ms": delay.Milliseconds(),
		}).Warn("Provider call failed, retrying")
		if err := o.sleep(ctx, delay); err != nil {
			return nil, faults.New(faults.ProviderTransient, err, "Transcription task interrupted while waiting to retry.")
		}
	}
	jlog.WithError(lastErr).Error("Provider call failed after all retries")
	return nil, faults.New(faults.ProviderPermanent, lastErr, "Transcription provider unreachable after multiple attempts.")
}

// finish renders the transcript, commits the terminal transcribed state,
// bills the owner and publishes the terminal event. The compare-and-set
// transition guarantees at most one actor performs billing + notification
// even when a webhook races a task retry.
func (o *Orchestrator) finish(job *models.Job, transcript *models.Transcript, jlog *logrus.Entry) error {
	rendered, err := format.Render(transcript, job.OutputFormat)
	if err != nil {
		jlog.WithError(err).Error("Failed to render transcript output")
		o.fail(job, err)
		return nil
	}

	claimed, err := o.store.ClaimTransition(job.ID, activeStates, map[string]interface{}{
		"status":     models.StatusTranscribed,
		"transcript": rendered,
	})
	if err != nil {
		return fmt.Errorf("failed to commit transcript for job %s: %w", job.ID, err)
	}
	if !claimed {
		jlog.Warn("Job was finalized elsewhere, skipping billing and notification")
		return nil
	}

	usedMinutes := job.DurationSeconds / 60.0
	if err := o.store.DeductMinutes(job.OwnerID, usedMinutes); err != nil {
		// The transcript is committed; billing failure must not fail the job.
		jlog.WithError(err).WithField("minutes", usedMinutes).Error("Balance deduction failed")
	}

	if err := os.Remove(job.SourcePath); err != nil && !os.IsNotExist(err) {
		jlog.WithError(err).Warn("Could not remove processed audio file")
	}

	jlog.Info("Transcription completed")
	o.notifyJob(job, string(models.StatusTranscribed), "Transcription completed successfully.")
	return nil
}

// fail commits the terminal error state and publishes exactly one error
// event. Losing the claim means another actor already finalized the job, in
// which case neither the state nor the event is duplicated.
func (o *Orchestrator) fail(job *models.Job, cause error) {
	msg := faults.UserMessage(cause)
	claimed, err := o.store.ClaimTransition(job.ID, activeStates, map[string]interface{}{
		"status":        models.StatusError,
		"error_message": msg,
	})
	if err != nil {
		o.log.WithError(err).WithField("job_id", job.ID).Error("Failed to persist error state")
		return
	}
	if !claimed {
		o.log.WithField("job_id", job.ID).Warn("Job already finalized, not overwriting with error state")
		return
	}
	o.notifyJob(job, string(models.StatusError), msg)
}

func (o *Orchestrator) notifyJob(job *models.Job, status, message string) {
	event := models.Notification{JobID: job.ID, Status: status, Message: message}
	if err := o.publisher.Publish(models.UserChannel(job.OwnerID), event); err != nil {
		o.log.WithError(err).WithField("job_id", job.ID).Warn("Failed to publish notification")
	}
}

// checkSource verifies the uploaded file exists and is non-empty.
func checkSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return faults.New(faults.Input, err, "Uploaded file not found on server.")
	}
	if info.Size() == 0 {
		return faults.New(faults.Input, nil, "Uploaded file is empty.")
	}
	return nil
}

// FFmpegMedia is the production Media implementation backed by the ffmpeg
// package.
type FFmpegMedia struct{}

func (FFmpegMedia) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return ffmpeg.ProbeDuration(ctx, path)
}

func (FFmpegMedia) ExtractAudio(ctx context.Context, videoPath string) (string, error) {
	return ffmpeg.ExtractAudio(ctx, videoPath)
}
