// Package store persists jobs and owner balances through Supabase's
// PostgREST interface.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"

	"github.com/hossjar/transcription-service/internal/models"
)

const (
	jobsTable = "transcription_jobs"

	// deductFn is a Postgres function doing
	// `UPDATE owner_accounts SET remaining_minutes =
	//  greatest(remaining_minutes - p_minutes, 0) WHERE id = p_owner_id`
	// in one statement, so concurrent completions for the same owner can
	// never drive the balance negative.
	deductFn = "deduct_remaining_minutes"
)

// ErrNotFound is returned when a job row does not exist (or was deleted
// while a task was in flight).
var ErrNotFound = errors.New("job not found")

// Client wraps the PostgREST client with the job-table operations the
// orchestrator needs. One Client is shared by all workers.
type Client struct {
	pg *postgrest.Client

	// rpcMu guards Rpc calls: the postgrest client reports their failures
	// through the shared ClientError field, so calls must not interleave.
	rpcMu sync.Mutex
}

// NewClient initializes the PostgREST client against the Supabase REST
// endpoint using the service key.
func NewClient(supabaseURL, serviceKey string) (*Client, error) {
	if supabaseURL == "" || serviceKey == "" {
		return nil, fmt.Errorf("supabase URL and service key must be set")
	}
	pg := postgrest.NewClient(supabaseURL+"/rest/v1", "", map[string]string{
		"apikey":        serviceKey,
		"Authorization": fmt.Sprintf("Bearer %s", serviceKey),
	})
	if pg.ClientError != nil {
		return nil, fmt.Errorf("failed to initialize postgrest client: %w", pg.ClientError)
	}
	return &Client{pg: pg}, nil
}

// JobByID fetches one job row.
func (c *Client) JobByID(id string) (*models.Job, error) {
	return c.fetchJob("id", id)
}

// JobByProviderRef correlates an async webhook callback to its job.
func (c *Client) JobByProviderRef(ref string) (*models.Job, error) {
	return c.fetchJob("provider_job_ref", ref)
}

func (c *Client) fetchJob(column, value string) (*models.Job, error) {
	bodyBytes, _, err := c.pg.From(jobsTable).
		Select("*", "", false).
		Eq(column, value).
		Limit(1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job by %s: %w", column, err)
	}

	var jobs []models.Job
	if err := json.Unmarshal(bodyBytes, &jobs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job row: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return &jobs[0], nil
}

// UpdateJob applies an unconditional partial update to a job row.
func (c *Client) UpdateJob(id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()

	var results []models.Job
	_, err := c.pg.From(jobsTable).
		Update(fields, "representation", "").
		Eq("id", id).
		ExecuteTo(&results)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if len(results) == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimTransition performs a compare-and-set state transition: the update
// only applies while the persisted status is one of `from`. It returns false
// when another actor already moved the job on (or the row is gone), which is
// how duplicate terminal transitions are suppressed under concurrent task
// retries and webhook deliveries.
func (c *Client) ClaimTransition(id string, from []models.JobStatus, fields map[string]interface{}) (bool, error) {
	fields["updated_at"] = time.Now().UTC()

	states := make([]string, 0, len(from))
	for _, s := range from {
		states = append(states, string(s))
	}

	var results []models.Job
	_, err := c.pg.From(jobsTable).
		Update(fields, "representation", "").
		Eq("id", id).
		In("status", states).
		ExecuteTo(&results)
	if err != nil {
		return false, fmt.Errorf("failed to transition job %s: %w", id, err)
	}
	return len(results) > 0, nil
}

// DeductMinutes decrements the owner's remaining balance, clamped at zero,
// through a single-statement Postgres function so the update is atomic under
// concurrent deductions.
func (c *Client) DeductMinutes(ownerID string, minutes float64) error {
	c.rpcMu.Lock()
	defer c.rpcMu.Unlock()

	c.pg.Rpc(deductFn, "", map[string]interface{}{
		"p_owner_id": ownerID,
		"p_minutes":  minutes,
	})
	if c.pg.ClientError != nil {
		err := c.pg.ClientError
		c.pg.ClientError = nil
		return fmt.Errorf("failed to deduct %f minutes from owner %s: %w", minutes, ownerID, err)
	}
	return nil
}
