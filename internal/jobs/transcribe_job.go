// Package jobs binds pipeline operations to the worker pool.
package jobs

import "context"

// Processor runs the transcription task for a persisted job row.
type Processor interface {
	Process(ctx context.Context, jobID string) error
}

// TranscribeJob runs the transcription task for one persisted job row.
type TranscribeJob struct {
	JobID     string
	Processor Processor
}

func NewTranscribeJob(jobID string, p Processor) *TranscribeJob {
	return &TranscribeJob{JobID: jobID, Processor: p}
}

// ID returns the persisted job id; worker logs correlate on it.
func (j *TranscribeJob) ID() string { return j.JobID }

// Execute drives the orchestrator's state machine under the worker's
// runtime ceiling.
func (j *TranscribeJob) Execute(ctx context.Context) error {
	return j.Processor.Process(ctx, j.JobID)
}
