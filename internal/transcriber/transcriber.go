// Package transcriber integrates the speech-to-text providers behind one
// adapter interface. Two integration styles exist: a synchronous
// call-and-wait provider (ElevenLabs) and a submit-and-await-webhook
// provider (Speechmatics). The orchestrator only ever sees the interface.
package transcriber

import (
	"context"
	"time"

	"github.com/hossjar/transcription-service/internal/models"
)

// Request carries everything an adapter needs to transcribe one audio file.
type Request struct {
	AudioPath       string
	Language        string // language code, or "auto"
	Diarize         bool
	TagAudioEvents  bool
	DurationSeconds float64
}

// Outcome is the result of a Transcribe call. Exactly one of the two fields
// is set: a synchronous adapter returns the Transcript directly, an
// asynchronous adapter returns the provider's job reference and the final
// transcript arrives later through the webhook.
type Outcome struct {
	Transcript  *models.Transcript
	ProviderRef string
}

// Adapter is the capability the orchestrator depends on.
type Adapter interface {
	// Name identifies the adapter in logs and configuration.
	Name() string
	// Ready reports whether the adapter has the credentials and endpoints
	// it needs. The orchestrator calls it before touching the media so a
	// misconfigured deployment fails jobs cheaply.
	Ready() error
	// Transcribe uploads the audio and either waits for the transcript or
	// submits the job for webhook delivery, depending on the variant.
	// Errors are categorized through the faults package.
	Transcribe(ctx context.Context, req Request) (*Outcome, error)
}

const (
	minCallTimeout = 180 * time.Second
	connectTimeout = 10 * time.Second
)

// callTimeout scales the synchronous provider timeout with media length:
// never below three minutes, and proportionally longer for long media.
func callTimeout(durationSeconds float64) time.Duration {
	scaled := time.Duration(durationSeconds/20) * time.Second
	if scaled < minCallTimeout {
		return minCallTimeout
	}
	return scaled
}
