package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Pool manages a set of workers sharing one queue and job store.
type Pool struct {
	podID    string
	store    JobStore
	queue    JobQueue
	executor Executor
	config   Config
	workers  []*Worker

	// Job cancel registry: job_id -> cancel function.
	activeJobs map[string]context.CancelFunc
	mu         sync.RWMutex
	started    bool
}

// NewPool creates a worker pool.
func NewPool(podID string, store JobStore, queue JobQueue, executor Executor, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		podID:      podID,
		store:      store,
		queue:      queue,
		executor:   executor,
		config:     cfg,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. Safe to call multiple times;
// subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.podID, i)
		w := NewWorker(workerID, p.store, p.queue, p.executor, p.config, p)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
}

// Stop signals all workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	slog.Info("stopping worker pool")

	if active := p.activeJobIDs(); len(active) > 0 {
		slog.Info("waiting for active jobs to complete", "count", len(active), "job_ids", active)
	}
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("worker pool stopped")
}

// RegisterJob stores a cancel function for cooperative cancellation.
func (p *Pool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes the cancel function when processing ends.
func (p *Pool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// CancelJob cancels a job running on this pool. Returns false when the
// job is not active here.
func (p *Pool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the pool's health snapshot. A queue that cannot be
// reached makes the pool unhealthy.
func (p *Pool) Health(ctx context.Context) *PoolHealth {
	depth, err := p.queue.Depth(ctx)

	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		stats[i] = w.Health()
		if stats[i].Status == string(workerStatusWorking) {
			active++
		}
	}

	h := &PoolHealth{
		IsHealthy:     len(p.workers) > 0 && err == nil,
		QueueDepth:    depth,
		ActiveWorkers: active,
		TotalWorkers:  len(p.workers),
		WorkerStats:   stats,
	}
	if err != nil {
		h.QueueError = fmt.Sprintf("queue depth query failed: %v", err)
	}
	return h
}

func (p *Pool) activeJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		ids = append(ids, id)
	}
	return ids
}
