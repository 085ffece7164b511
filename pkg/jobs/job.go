// Package jobs implements the durable job state store. Records track a
// background job's status, progress, and results; the store is the
// authoritative status even when the queue delivers a job twice.
package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for job store operations.
var (
	// ErrNotFound indicates no job exists for the id.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyClaimed indicates another worker already moved the job to
	// processing. Duplicate queue deliveries hit this and are dropped.
	ErrAlreadyClaimed = errors.New("job already claimed")

	// ErrInvalidTransition indicates a status change that the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Status is the job lifecycle state.
type Status string

// Lifecycle states: queued -> processing -> {completed|failed}.
const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultTTL is how long a job record is retained before cleanup.
const DefaultTTL = 24 * time.Hour

// Progress tracks where a job is in its pipeline.
type Progress struct {
	Step    string `json:"step"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// Job is one background job record.
type Job struct {
	ID          string          `json:"job_id"`
	Status      Status          `json:"status"`
	RequestData json.RawMessage `json:"request_data"`
	Progress    Progress        `json:"progress"`
	Results     json.RawMessage `json:"results,omitempty"`
	Error       string          `json:"error_message,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// NewID returns a time-ordered job identifier. UUIDv7 sorts
// lexicographically by creation time, which keeps cursor pagination on
// job_id in chronological order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}
