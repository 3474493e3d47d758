package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hossjar/transcription-service/internal/faults"
	"github.com/hossjar/transcription-service/internal/models"
)

const elevenLabsDefaultURL = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabs is the synchronous adapter: one blocking call uploads the audio
// and returns word-level timings directly. The request timeout scales with
// media duration (callTimeout) on top of a fixed connect timeout.
type ElevenLabs struct {
	APIKey  string
	ModelID string
	BaseURL string
}

// NewElevenLabs builds the synchronous adapter. modelID defaults to the
// scribe model when empty.
func NewElevenLabs(apiKey, modelID string) *ElevenLabs {
	if modelID == "" {
		modelID = "scribe_v1"
	}
	return &ElevenLabs{APIKey: apiKey, ModelID: modelID, BaseURL: elevenLabsDefaultURL}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

// Ready checks the credentials this adapter needs.
func (e *ElevenLabs) Ready() error {
	if e.APIKey == "" {
		return faults.New(faults.Config, nil, "ElevenLabs API key not configured.")
	}
	return nil
}

// elevenLabsWord mirrors one entry of the provider's word list.
type elevenLabsWord struct {
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Type      string  `json:"type"` // "word", "spacing", "audio_event"
	SpeakerID string  `json:"speaker_id"`
}

type elevenLabsResponse struct {
	LanguageCode string           `json:"language_code"`
	Text         string           `json:"text"`
	Words        []elevenLabsWord `json:"words"`
}

// Transcribe uploads the audio as multipart form data and normalizes the
// provider's word list into the shared transcript model.
func (e *ElevenLabs) Transcribe(ctx context.Context, req Request) (*Outcome, error) {
	if e.APIKey == "" {
		return nil, faults.New(faults.Config, nil, "ElevenLabs API key not configured")
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, faults.New(faults.Input, err, "Uploaded file not found on server.")
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"model_id":         e.ModelID,
		"diarize":          fmt.Sprintf("%t", req.Diarize),
		"tag_audio_events": fmt.Sprintf("%t", req.TagAudioEvents),
	}
	if req.Language != "" && req.Language != "auto" {
		fields["language_code"] = req.Language
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, faults.New(faults.Input, err, "Failed to prepare the audio upload.")
		}
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, faults.New(faults.Input, err, "Failed to prepare the audio upload.")
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, faults.New(faults.Input, err, "Failed to read the audio file for upload.")
	}
	if err := mw.Close(); err != nil {
		return nil, faults.New(faults.Input, err, "Failed to prepare the audio upload.")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", e.APIKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	client := &http.Client{
		Timeout: callTimeout(req.DurationSeconds),
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, faults.New(faults.ProviderTransient, err, "Failed to reach the transcription provider.")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return nil, providerStatusError(resp.StatusCode, payload)
	}

	var decoded elevenLabsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, faults.New(faults.ProviderPermanent, err, "Provider returned an unreadable transcript.")
	}
	return &Outcome{Transcript: normalizeElevenLabs(&decoded)}, nil
}

// normalizeElevenLabs converts the provider word list into transcript
// tokens. Spacing entries carry no content and are dropped.
func normalizeElevenLabs(resp *elevenLabsResponse) *models.Transcript {
	t := &models.Transcript{Language: resp.LanguageCode}
	for _, w := range resp.Words {
		var kind models.TokenKind
		switch w.Type {
		case "word":
			kind = models.TokenWord
		case "audio_event":
			kind = models.TokenAudioEvent
		default:
			continue
		}
		t.Tokens = append(t.Tokens, models.Token{
			Kind:    kind,
			Text:    w.Text,
			Start:   w.Start,
			End:     w.End,
			Speaker: w.SpeakerID,
		})
	}
	return t
}

// providerStatusError maps provider HTTP statuses onto the retry taxonomy.
func providerStatusError(status int, payload []byte) error {
	detail := fmt.Errorf("provider returned %d: %s", status, truncate(payload, 512))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return faults.New(faults.ProviderPermanent, detail, "Transcription provider rejected the configured credentials.")
	case status == http.StatusTooManyRequests:
		return faults.New(faults.ProviderPermanent, detail, "Transcription provider quota exhausted.")
	case status >= 500:
		return faults.New(faults.ProviderTransient, detail, "Transcription provider is temporarily unavailable.")
	default:
		return faults.New(faults.ProviderPermanent, detail, "Transcription provider rejected the request.")
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
