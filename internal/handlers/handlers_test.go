package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/hossjar/transcription-service/internal/models"
	"github.com/hossjar/transcription-service/internal/notify"
	"github.com/hossjar/transcription-service/internal/store"
	"github.com/hossjar/transcription-service/internal/worker"
)

type fakeJobStore struct {
	jobs    map[string]*models.Job
	updates []map[string]interface{}
}

func (f *fakeJobStore) JobByID(id string) (*models.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *j
	return &copied, nil
}

func (f *fakeJobStore) UpdateJob(id string, fields map[string]interface{}) error {
	f.updates = append(f.updates, fields)
	return nil
}

type fakePipeline struct {
	processed []string
	resumed   []string
	resumeErr error
}

func (p *fakePipeline) Process(ctx context.Context, jobID string) error {
	p.processed = append(p.processed, jobID)
	return nil
}

func (p *fakePipeline) Resume(ctx context.Context, ref, status string, payload []byte) error {
	p.resumed = append(p.resumed, ref)
	return p.resumeErr
}

type fakeQueue struct {
	jobs []worker.Job
	full bool
}

func (q *fakeQueue) Submit(job worker.Job) bool {
	if q.full {
		return false
	}
	q.jobs = append(q.jobs, job)
	return true
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestApp(st *fakeJobStore, pipeline *fakePipeline, queue *fakeQueue) *fiber.App {
	h := NewApplicationHandler(quietLogger(), st, pipeline, queue, notify.NewHub())
	app := fiber.New()
	h.RegisterRoutes(app)
	return app
}

func pendingStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*models.Job{
		"job-1": {ID: "job-1", OwnerID: "owner-1", Status: models.StatusPending},
	}}
}

func TestSubmitTranscriptionQueuesJob(t *testing.T) {
	st := pendingStore()
	queue := &fakeQueue{}
	app := newTestApp(st, &fakePipeline{}, queue)

	body, _ := json.Marshal(SubmitTranscriptionPayload{OutputFormat: "srt", Diarize: true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/transcribe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(queue.jobs) != 1 || queue.jobs[0].ID() != "job-1" {
		t.Fatalf("queued jobs = %+v", queue.jobs)
	}
	if len(st.updates) != 1 {
		t.Fatalf("updates = %+v", st.updates)
	}
	if st.updates[0]["language"] != "auto" {
		t.Fatalf("empty language must default to auto, got %v", st.updates[0]["language"])
	}
	if st.updates[0]["output_format"] != "srt" {
		t.Fatalf("output_format = %v", st.updates[0]["output_format"])
	}
}

func TestSubmitTranscriptionRejectsBadFormat(t *testing.T) {
	queue := &fakeQueue{}
	app := newTestApp(pendingStore(), &fakePipeline{}, queue)

	body := []byte(`{"output_format":"docx"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/transcribe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(queue.jobs) != 0 {
		t.Fatal("invalid payload must not queue a job")
	}
}

func TestSubmitTranscriptionUnknownJob(t *testing.T) {
	app := newTestApp(&fakeJobStore{jobs: map[string]*models.Job{}}, &fakePipeline{}, &fakeQueue{})

	body := []byte(`{"output_format":"text"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/ghost/transcribe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSubmitTranscriptionConflictOnNonPending(t *testing.T) {
	st := &fakeJobStore{jobs: map[string]*models.Job{
		"job-1": {ID: "job-1", Status: models.StatusProcessing},
	}}
	app := newTestApp(st, &fakePipeline{}, &fakeQueue{})

	body := []byte(`{"output_format":"text"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/transcribe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSubmitTranscriptionQueueFull(t *testing.T) {
	app := newTestApp(pendingStore(), &fakePipeline{}, &fakeQueue{full: true})

	body := []byte(`{"output_format":"text"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/transcribe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestWebhookResumesJob(t *testing.T) {
	pipeline := &fakePipeline{}
	app := newTestApp(pendingStore(), pipeline, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/transcription?id=smx-1&status=success",
		bytes.NewReader([]byte(`{"results":[]}`)))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(pipeline.resumed) != 1 || pipeline.resumed[0] != "smx-1" {
		t.Fatalf("resumed = %+v", pipeline.resumed)
	}
}

func TestWebhookMissingID(t *testing.T) {
	pipeline := &fakePipeline{}
	app := newTestApp(pendingStore(), pipeline, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/transcription?status=success", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(pipeline.resumed) != 0 {
		t.Fatal("missing id must not touch the pipeline")
	}
}

func TestWebhookUnknownReference(t *testing.T) {
	pipeline := &fakePipeline{resumeErr: store.ErrNotFound}
	app := newTestApp(pendingStore(), pipeline, &fakeQueue{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/transcription?id=ghost&status=success", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(pendingStore(), &fakePipeline{}, &fakeQueue{})
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
