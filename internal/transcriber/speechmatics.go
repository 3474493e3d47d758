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
	"strings"

	"github.com/hossjar/transcription-service/internal/faults"
	"github.com/hossjar/transcription-service/internal/models"
)

const speechmaticsDefaultURL = "https://asr.api.speechmatics.com/v2"

// Speechmatics is the asynchronous adapter: Transcribe only submits the job
// and returns the provider's job id. The transcript arrives later on the
// configured webhook URL as a json-v2 payload, which ParseResult normalizes.
type Speechmatics struct {
	APIKey     string
	WebhookURL string
	BaseURL    string
}

func NewSpeechmatics(apiKey, webhookURL string) *Speechmatics {
	return &Speechmatics{APIKey: apiKey, WebhookURL: webhookURL, BaseURL: speechmaticsDefaultURL}
}

func (s *Speechmatics) Name() string { return "speechmatics" }

// Ready checks the credentials and webhook endpoint this adapter needs.
func (s *Speechmatics) Ready() error {
	if s.APIKey == "" {
		return faults.New(faults.Config, nil, "Speechmatics API key not configured.")
	}
	if s.WebhookURL == "" {
		return faults.New(faults.Config, nil, "Speechmatics webhook URL not configured.")
	}
	return nil
}

type speechmaticsJobConfig struct {
	Type                string                    `json:"type"`
	TranscriptionConfig map[string]interface{}    `json:"transcription_config"`
	NotificationConfig  []speechmaticsNotifyEntry `json:"notification_config"`
}

type speechmaticsNotifyEntry struct {
	URL      string   `json:"url"`
	Contents []string `json:"contents"`
}

// Transcribe submits the audio for batch transcription. The transcript is
// always requested as json-v2 so that output rendering stays on our side.
func (s *Speechmatics) Transcribe(ctx context.Context, req Request) (*Outcome, error) {
	if s.APIKey == "" {
		return nil, faults.New(faults.Config, nil, "Speechmatics API key not configured")
	}
	if s.WebhookURL == "" {
		return nil, faults.New(faults.Config, nil, "Speechmatics webhook URL not configured")
	}

	transcription := map[string]interface{}{
		"language":        req.Language,
		"operating_point": "enhanced",
	}
	if req.Language == "" {
		transcription["language"] = "auto"
	}
	if req.Diarize {
		transcription["diarization"] = "speaker"
	}
	conf := speechmaticsJobConfig{
		Type:                "transcription",
		TranscriptionConfig: transcription,
		NotificationConfig: []speechmaticsNotifyEntry{
			{URL: s.WebhookURL, Contents: []string{"transcript.json-v2"}},
		},
	}
	confJSON, err := json.Marshal(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job config: %w", err)
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, faults.New(faults.Input, err, "Uploaded file not found on server.")
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("config", string(confJSON)); err != nil {
		return nil, faults.New(faults.Input, err, "Failed to prepare the audio upload.")
	}
	fw, err := mw.CreateFormFile("data_file", filepath.Base(req.AudioPath))
	if err != nil {
		return nil, faults.New(faults.Input, err, "Failed to prepare the audio upload.")
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, faults.New(faults.Input, err, "Failed to read the audio file for upload.")
	}
	if err := mw.Close(); err != nil {
		return nil, faults.New(faults.Input, err, "Failed to prepare the audio upload.")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.BaseURL, "/")+"/jobs", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.APIKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	// Submission is a short call; the heavy lifting happens provider-side,
	// so the dynamic timeout is not needed here.
	client := &http.Client{
		Timeout: minCallTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
		},
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, faults.New(faults.ProviderTransient, err, "Failed to reach the transcription provider.")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(resp.Body)
		return nil, providerStatusError(resp.StatusCode, payload)
	}

	var submitted struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil || submitted.ID == "" {
		return nil, faults.New(faults.ProviderPermanent, err, "Provider did not return a job reference.")
	}
	return &Outcome{ProviderRef: submitted.ID}, nil
}

// json-v2 payload shapes. Only the fields the normalizer needs.
type speechmaticsResult struct {
	Job struct {
		ID string `json:"id"`
	} `json:"job"`
	Metadata struct {
		TranscriptionConfig struct {
			Language string `json:"language"`
		} `json:"transcription_config"`
	} `json:"metadata"`
	Results []speechmaticsItem `json:"results"`
}

type speechmaticsItem struct {
	Type         string  `json:"type"` // "word" or "punctuation"
	StartTime    float64 `json:"start_time"`
	EndTime      float64 `json:"end_time"`
	Alternatives []struct {
		Content string `json:"content"`
		Speaker string `json:"speaker"`
	} `json:"alternatives"`
}

// ParseResult normalizes a json-v2 webhook body into a transcript.
// Punctuation items carry no timing of their own worth keeping; their
// content is glued onto the preceding word so sentence boundaries survive
// for the SRT segmenter.
func (s *Speechmatics) ParseResult(payload []byte) (*models.Transcript, error) {
	var decoded speechmaticsResult
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, faults.New(faults.ProviderPermanent, err, "Provider returned an unreadable transcript.")
	}

	t := &models.Transcript{Language: decoded.Metadata.TranscriptionConfig.Language}
	for _, item := range decoded.Results {
		if len(item.Alternatives) == 0 {
			continue
		}
		alt := item.Alternatives[0]
		switch item.Type {
		case "word":
			speaker := alt.Speaker
			if speaker == "UU" {
				// Speechmatics uses "UU" for unattributed speech.
				speaker = ""
			}
			t.Tokens = append(t.Tokens, models.Token{
				Kind:    models.TokenWord,
				Text:    alt.Content,
				Start:   item.StartTime,
				End:     item.EndTime,
				Speaker: speaker,
			})
		case "punctuation":
			if n := len(t.Tokens); n > 0 {
				t.Tokens[n-1].Text += alt.Content
				if item.EndTime > t.Tokens[n-1].End {
					t.Tokens[n-1].End = item.EndTime
				}
			}
		}
	}
	return t, nil
}
