// Package jobs defines the background work that runs after an import is
// committed, independent of the queue implementation carrying it.
package jobs

import (
	"context"
	"errors"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeExportImport mirrors a completed import into the analytics dataset.
	JobTypeExportImport JobType = "export_import"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// DefaultMaxRetries is applied to jobs published without a retry limit.
const DefaultMaxRetries = 3

var (
	// ErrJobNotFound is returned by a JobStore for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned when publishing to or starting a stopped queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// ExportImportJob asks a worker to export one committed import.
type ExportImportJob struct {
	JobID    string `json:"job_id"`
	ImportID string `json:"import_id"`
	UserID   string `json:"user_id"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error holds the last handler failure, kept while the job retries.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *ExportImportJob) GetID() string        { return j.JobID }
func (j *ExportImportJob) GetType() JobType     { return JobTypeExportImport }
func (j *ExportImportJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues jobs.
type Publisher interface {
	// PublishExportImport enqueues job, filling in its ID, status and
	// timestamps when they are unset.
	PublishExportImport(ctx context.Context, job *ExportImportJob) error

	Close() error
}

// Consumer runs a handler for every job received.
type Consumer interface {
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error makes the job eligible for
// retry.
type JobHandler func(ctx context.Context, job Job) error

// JobStore records job state so it can be reported through the API.
type JobStore interface {
	SaveJob(ctx context.Context, job *ExportImportJob) error
	GetJob(ctx context.Context, jobID string) (*ExportImportJob, error)
	// ListJobs returns matching jobs, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*ExportImportJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs. Zero values match
// everything.
type JobFilter struct {
	ImportID string
	UserID   string
	Status   JobStatus

	Limit  int
	Offset int
}
