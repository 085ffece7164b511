package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamworks/recapd/pkg/jobqueue"
	"github.com/streamworks/recapd/pkg/jobs"
)

// workerStatus is a worker's current state.
type workerStatus string

const (
	workerStatusIdle    workerStatus = "idle"
	workerStatusWorking workerStatus = "working"
)

// JobRegistry is the subset of the pool a worker uses for cancellation
// registration.
type JobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// Worker polls the queue and processes jobs one at a time.
type Worker struct {
	id       string
	store    JobStore
	queue    JobQueue
	executor Executor
	config   Config
	registry JobRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        workerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// NewWorker creates a queue worker. registry may be nil when running
// outside a pool.
func NewWorker(id string, store JobStore, queue JobQueue, executor Executor, cfg Config, registry JobRegistry) *Worker {
	return &Worker{
		id:           id,
		store:        store,
		queue:        queue,
		executor:     executor,
		config:       cfg.withDefaults(),
		registry:     registry,
		stopCh:       make(chan struct{}),
		status:       workerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for the current job to finish.
// Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the worker's health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				switch {
				case errors.Is(err, ErrQueueEmpty):
					// BRPOP already blocked for the poll window.
				case errors.Is(err, jobs.ErrAlreadyClaimed),
					errors.Is(err, jobs.ErrInvalidTransition),
					errors.Is(err, jobs.ErrNotFound):
					// Duplicate or stale delivery; the store is authoritative.
					log.Debug("dropping stale queue delivery", "error", err)
				default:
					log.Error("job processing error", "error", err)
					w.sleep(time.Second)
				}
			}
		}
	}
}

// sleep waits for d or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess dequeues one job id, claims it, and runs the executor.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	jobID, err := w.queue.Dequeue(ctx)
	if err != nil {
		if errors.Is(err, jobqueue.ErrEmpty) {
			return ErrQueueEmpty
		}
		return fmt.Errorf("dequeue: %w", err)
	}

	// The store is the linearization point: claiming an already-claimed
	// job fails here and the duplicate delivery is dropped.
	job, err := w.store.UpdateStatus(ctx, jobID, jobs.Update{
		Status:   jobs.StatusProcessing,
		WorkerID: w.id,
	})
	if err != nil {
		return err
	}

	log := slog.With("job_id", job.ID, "worker_id", w.id)
	log.Info("job claimed")

	w.setStatus(workerStatusWorking, job.ID)
	defer w.setStatus(workerStatusIdle, "")

	jobCtx, cancelJob := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancelJob()

	if w.registry != nil {
		w.registry.RegisterJob(job.ID, cancelJob)
		defer w.registry.UnregisterJob(job.ID)
	}

	heartbeatCtx, cancelHeartbeat := context.WithCancel(jobCtx)
	defer cancelHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job.ID)

	result := w.executor.Execute(jobCtx, job)
	if result == nil {
		result = &ExecutionResult{
			Status: jobs.StatusFailed,
			Err:    fmt.Errorf("executor returned no result"),
		}
	}
	if result.Err == nil {
		switch {
		case errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			result = &ExecutionResult{
				Status: jobs.StatusFailed,
				Err:    fmt.Errorf("job timed out after %v", w.config.JobTimeout),
			}
		case errors.Is(jobCtx.Err(), context.Canceled):
			result = &ExecutionResult{
				Status: jobs.StatusFailed,
				Err:    context.Canceled,
			}
		}
	}

	cancelHeartbeat()

	// Terminal write uses a background context; the job context may
	// already be cancelled.
	update := jobs.Update{
		Status:   result.Status,
		WorkerID: w.id,
		Results:  result.Results,
	}
	if result.Err != nil {
		update.Error = result.Err.Error()
	}
	if _, err := w.store.UpdateStatus(context.Background(), job.ID, update); err != nil {
		log.Error("terminal status write failed", "status", result.Status, "error", err)
		return err
	}

	w.mu.Lock()
	w.jobsProcessed++
	w.mu.Unlock()

	log.Info("job processing complete", "status", result.Status)
	return nil
}

// runHeartbeat refreshes last_heartbeat until the job context ends.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID, w.id); err != nil {
				slog.Warn("heartbeat update failed", "job_id", jobID, "error", err)
			}
		}
	}
}

func (w *Worker) setStatus(status workerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
