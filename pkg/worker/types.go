// Package worker provides the job worker pool: workers dequeue job ids,
// claim them in the job store, and drive the generation pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/streamworks/recapd/pkg/jobs"
)

// Sentinel errors for worker operations.
var (
	// ErrQueueEmpty indicates no job was available within the poll window.
	ErrQueueEmpty = errors.New("job queue empty")

	// ErrJobInterrupted indicates the job left the processing state while
	// a stage was running (cancelled, expired, or claimed elsewhere).
	ErrJobInterrupted = errors.New("job interrupted")
)

// JobStore is the subset of the job store workers and executors need. It
// is satisfied by *jobs.Store.
type JobStore interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
	UpdateStatus(ctx context.Context, id string, u jobs.Update) (*jobs.Job, error)
	Heartbeat(ctx context.Context, id, workerID string) error
}

// JobQueue is the subset of the queue workers consume from. It is
// satisfied by *jobqueue.Queue.
type JobQueue interface {
	Dequeue(ctx context.Context) (string, error)
	Depth(ctx context.Context) (int64, error)
}

// Executor processes one claimed job. The worker handles claiming,
// heartbeat, and the terminal status write; the executor owns everything
// in between, including progress updates.
type Executor interface {
	Execute(ctx context.Context, job *jobs.Job) *ExecutionResult
}

// ExecutionResult is the terminal outcome of one job.
type ExecutionResult struct {
	Status  jobs.Status
	Results json.RawMessage
	Err     error
}

// Config tunes the pool.
type Config struct {
	WorkerCount       int           `yaml:"worker_count"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:       2,
		JobTimeout:        10 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	return c
}

// PoolHealth is the pool's health snapshot.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	QueueDepth    int64          `json:"queue_depth"`
	QueueError    string         `json:"queue_error,omitempty"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}
