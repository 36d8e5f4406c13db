// Package joblog tracks the lifecycle of asynchronous ingestion jobs, one
// entry per uploaded build log.
package joblog

import (
	"context"
	"time"
)

// Status is the lifecycle state of an ingestion job.
type Status string

const (
	// StatusPending means the job is queued and has not been picked up yet.
	StatusPending Status = "pending"

	// StatusRunning means a worker has dequeued the job.
	StatusRunning Status = "running"

	// StatusSuccessful means the build metrics were stored.
	StatusSuccessful Status = "successful"

	// StatusFailed means processing ended with an error. The job may be
	// redelivered and tried again.
	StatusFailed Status = "failed"
)

// AllStatuses lists every Status, for validation and dashboard rollups.
var AllStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusSuccessful,
	StatusFailed,
}

// Entry records one ingestion job. ID is the name the raw log was stored
// under, which makes the entry and the stored log trivially cross-linkable.
type Entry struct {
	ID      string `json:"id"`
	LogFile string `json:"logFile"`
	LogURL  string `json:"logUrl"`
	Status  Status `json:"status"`

	// Error holds the failure message when Status is StatusFailed.
	Error string `json:"error,omitempty"`

	QueuedAt   time.Time  `json:"queuedAt"`
	DequeuedAt *time.Time `json:"dequeuedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Latency returns how long the job spent being processed, and false if it
// has not finished yet.
func (e *Entry) Latency() (time.Duration, bool) {
	if e.DequeuedAt == nil || e.FinishedAt == nil {
		return 0, false
	}
	return e.FinishedAt.Sub(*e.DequeuedAt), true
}

// Store persists job log entries.
type Store interface {
	// Create inserts a new entry in StatusPending. QueuedAt and the audit
	// stamps are set from the context clock.
	Create(ctx context.Context, id, logFile, logURL string) (*Entry, error)

	// SetStatus transitions the entry with the given id. Moving to
	// StatusRunning stamps DequeuedAt; moving to StatusSuccessful or
	// StatusFailed stamps FinishedAt. errMsg is recorded for StatusFailed
	// and ignored otherwise.
	SetStatus(ctx context.Context, id string, status Status, errMsg string) error

	// Get returns the entry with the given id.
	Get(ctx context.Context, id string) (*Entry, error)

	// List returns up to limit entries, most recently queued first.
	List(ctx context.Context, limit int) ([]*Entry, error)

	// ListRange returns the entries queued in [from, to), most recently
	// queued first.
	ListRange(ctx context.Context, from, to time.Time) ([]*Entry, error)
}
