package jobs

import (
	"slices"
	"time"

	"github.com/grimm00/pokedex-sub002/internal/seeder"
)

// JobType enumerates the supported seed job variants.
type JobType string

const (
	JobTypeRange      JobType = "range"
	JobTypeGeneration JobType = "generation"
	JobTypeAll        JobType = "all"
	JobTypeIDs        JobType = "ids"
)

// JobStatus represents the lifecycle state for a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one queued or executed seed request.
type Job struct {
	JobID           string         `json:"job_id"`
	JobType         JobType        `json:"job_type"`
	Source          string         `json:"source,omitempty"`
	StartID         int            `json:"start_id,omitempty"`
	EndID           int            `json:"end_id,omitempty"`
	Generation      int            `json:"generation,omitempty"`
	IDs             []int          `json:"ids,omitempty"`
	BatchSize       int            `json:"batch_size,omitempty"`
	Force           bool           `json:"force,omitempty"`
	Status          JobStatus      `json:"status"`
	StatusMessage   string         `json:"status_message,omitempty"`
	ProgressCurrent int            `json:"progress_current"`
	ProgressTotal   int            `json:"progress_total"`
	LastError       string         `json:"last_error,omitempty"`
	Result          *seeder.Result `json:"result,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// Copy returns a copy safe to hand to callers. The Result is shared; it is
// never modified after a run returns.
func (j *Job) Copy() *Job {
	if j == nil {
		return nil
	}
	cpy := *j
	cpy.IDs = slices.Clone(j.IDs)
	return &cpy
}

// StatusSummary is returned to API callers.
type StatusSummary struct {
	ActiveJob *Job   `json:"active_job,omitempty"`
	Queued    []*Job `json:"queued"`
	History   []*Job `json:"recent_jobs"`
}
