// Package store keeps composite job records
package store

import (
	"context"
	"errors"
	"time"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

var (
	// ErrJobNotFound is returned when a job does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when attempting to create a job that already exists
	ErrJobExists = errors.New("job already exists")

	// ErrInvalidJobID is returned for invalid job IDs
	ErrInvalidJobID = errors.New("invalid job ID")
)

// Store is the interface for job state persistence
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, filter *ListFilter) ([]*Job, error)

	// UpdateJobStatus moves the job to status and replaces its progress
	// when progress is non-nil
	UpdateJobStatus(ctx context.Context, jobID string, status schemas.JobState, progress *schemas.Progress) error

	// UpdateJobError records why a job failed
	UpdateJobError(ctx context.Context, jobID string, err *schemas.ErrorInfo) error

	// Watch streams a status snapshot after every change to jobID. The
	// channel is closed when ctx ends or the job reaches a terminal state.
	Watch(ctx context.Context, jobID string) (<-chan *schemas.JobStatus, error)

	Close() error
}

// Job is a composite job and everything it produced
type Job struct {
	JobID   string    `json:"job_id"`
	Created time.Time `json:"created_at"`
	Updated time.Time `json:"updated_at"`

	Spec *schemas.JobSpec `json:"spec"`

	// Graph is the filter-graph description of a video composite
	Graph string                  `json:"graph,omitempty"`
	Plan  *schemas.ProcessingPlan `json:"plan,omitempty"`

	Status      schemas.JobState   `json:"status"`
	Progress    *schemas.Progress  `json:"progress,omitempty"`
	Error       *schemas.ErrorInfo `json:"error,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`

	OutputFiles []schemas.OutputFile `json:"output_files,omitempty"`

	// SkippedSlots lists slots left empty because their media was missing
	SkippedSlots []string `json:"skipped_slots,omitempty"`
}

// ListFilter narrows ListJobs
type ListFilter struct {
	Status        []schemas.JobState `json:"status,omitempty"`
	UserID        string             `json:"user_id,omitempty"`
	CreatedAfter  *time.Time         `json:"created_after,omitempty"`
	CreatedBefore *time.Time         `json:"created_before,omitempty"`

	Limit  int `json:"limit,omitempty"` // 0 = no limit
	Offset int `json:"offset,omitempty"`

	SortBy    string `json:"sort_by,omitempty"`    // "created", "updated" or "status"
	SortOrder string `json:"sort_order,omitempty"` // "asc" or "desc"
}

// ToJobStatus converts a Job to schemas.JobStatus
func (j *Job) ToJobStatus() *schemas.JobStatus {
	return &schemas.JobStatus{
		JobID:       j.JobID,
		Status:      j.Status,
		Progress:    j.Progress,
		Error:       j.Error,
		CreatedAt:   j.Created,
		UpdatedAt:   j.Updated,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		OutputFiles: j.OutputFiles,
	}
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return IsTerminal(j.Status)
}

// IsTerminal reports whether no further transitions follow s
func IsTerminal(s schemas.JobState) bool {
	return s == schemas.JobStateCompleted ||
		s == schemas.JobStateFailed ||
		s == schemas.JobStateCancelled
}
