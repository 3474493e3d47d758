package models

import "time"

// JobStatus is the externally observable lifecycle state of a transcription job.
// Transitions only move forward: pending -> processing -> transcribed | error.
type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusProcessing  JobStatus = "processing"
	StatusTranscribed JobStatus = "transcribed"
	StatusError       JobStatus = "error"
)

// OutputFormat selects how a finished transcript is rendered.
type OutputFormat string

const (
	FormatText       OutputFormat = "text"
	FormatSRT        OutputFormat = "srt"
	FormatStructured OutputFormat = "structured"
)

// Valid reports whether the format is one the converter can render.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatText, FormatSRT, FormatStructured:
		return true
	}
	return false
}

// Job maps to the transcription_jobs table.
// Pointers are used for nullable columns, `omitempty` so inserts and partial
// updates do not send fields we did not set.
type Job struct {
	ID              string       `json:"id"`
	OwnerID         string       `json:"owner_id"`
	SourcePath      string       `json:"source_path"`
	IsVideo         bool         `json:"is_video"`
	DurationSeconds float64      `json:"media_duration_seconds"`
	OutputFormat    OutputFormat `json:"output_format"`
	Language        string       `json:"language"`
	Diarize         bool         `json:"diarize"`
	TagAudioEvents  bool         `json:"tag_audio_events"`
	ProviderJobRef  *string      `json:"provider_job_ref,omitempty"`
	Status          JobStatus    `json:"status"`
	Transcript      *string      `json:"transcript,omitempty"`
	ErrorMessage    *string      `json:"error_message,omitempty"`
	CreatedAt       time.Time    `json:"created_at,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at,omitempty"`
}

// TokenKind distinguishes spoken words from non-speech audio events.
type TokenKind string

const (
	TokenWord       TokenKind = "word"
	TokenAudioEvent TokenKind = "audio_event"
)

// Token is one timed element of a provider-agnostic transcript.
// End is always >= Start. Speaker is empty when diarization was not requested
// or the provider does not support it.
type Token struct {
	Kind    TokenKind `json:"kind"`
	Text    string    `json:"text"`
	Start   float64   `json:"start"`
	End     float64   `json:"end"`
	Speaker string    `json:"speaker,omitempty"`
}

// Transcript is the normalized provider output handed to the format
// converter. It lives in memory only; just the rendered string is persisted.
type Transcript struct {
	Language string  `json:"language,omitempty"`
	Tokens   []Token `json:"tokens"`
}

// Notification is the event published on a user's update channel.
type Notification struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// UserChannel returns the per-owner notification channel name.
func UserChannel(ownerID string) string {
	return "user_" + ownerID + "_updates"
}
