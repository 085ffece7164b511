package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store persists job records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store on an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `job_id, status, request_data, progress_step, progress_current, progress_total,
	results, error_message, worker_id, created_at, started_at, completed_at, last_heartbeat, expires_at`

// Create inserts a new queued job and returns it. A zero ttl uses
// DefaultTTL.
func (s *Store) Create(ctx context.Context, requestData json.RawMessage, ttl time.Duration) (*Job, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if len(requestData) == 0 {
		requestData = json.RawMessage("{}")
	}

	job := &Job{
		ID:          NewID(),
		Status:      StatusQueued,
		RequestData: requestData,
		CreatedAt:   time.Now().UTC(),
	}
	job.ExpiresAt = job.CreatedAt.Add(ttl)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, status, request_data, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Status, []byte(job.RequestData), job.CreatedAt, job.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Get fetches a job by id.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, id)
	return scanJob(row)
}

// Update is a status mutation. Status is required; the remaining fields
// apply depending on the transition.
type Update struct {
	Status   Status
	WorkerID string
	Progress *Progress
	Results  json.RawMessage
	Error    string
}

// UpdateStatus is the sole mutation entry for job records. Allowed
// transitions: queued -> processing (the claim, stamping started_at and
// worker_id), processing -> processing by the owning worker (progress
// update), processing -> completed/failed (stamping completed_at).
// Claiming a job that is no longer queued returns ErrAlreadyClaimed so
// duplicate queue deliveries can be dropped.
func (s *Store) UpdateStatus(ctx context.Context, id string, u Update) (*Job, error) {
	if !u.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, u.Status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current Status
	var workerID sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT status, worker_id FROM jobs WHERE job_id = $1 FOR UPDATE`, id,
	).Scan(&current, &workerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job %s: %w", id, err)
	}

	switch {
	case u.Status == StatusProcessing && current == StatusQueued:
		if u.WorkerID == "" {
			return nil, fmt.Errorf("%w: claim requires a worker id", ErrInvalidTransition)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = $2, worker_id = $3, started_at = now(), last_heartbeat = now()
			 WHERE job_id = $1`,
			id, StatusProcessing, u.WorkerID)

	case u.Status == StatusProcessing && current == StatusProcessing:
		if workerID.String != u.WorkerID {
			return nil, fmt.Errorf("%w: held by %s", ErrAlreadyClaimed, workerID.String)
		}
		p := u.Progress
		if p == nil {
			p = &Progress{}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET progress_step = $2, progress_current = $3, progress_total = $4, last_heartbeat = now()
			 WHERE job_id = $1`,
			id, p.Step, p.Current, p.Total)

	case u.Status == StatusProcessing:
		return nil, fmt.Errorf("%w: job is %s", ErrAlreadyClaimed, current)

	case u.Status.Terminal() && current == StatusProcessing:
		var results any
		if len(u.Results) > 0 {
			results = []byte(u.Results)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs SET status = $2, results = $3, error_message = $4, completed_at = now()
			 WHERE job_id = $1`,
			id, u.Status, results, nullable(u.Error))

	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, u.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("update job %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return s.Get(ctx, id)
}

// Heartbeat refreshes the liveness timestamp for a job the worker holds.
func (s *Store) Heartbeat(ctx context.Context, id, workerID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_heartbeat = now()
		 WHERE job_id = $1 AND worker_id = $2 AND status = $3`,
		id, workerID, StatusProcessing)
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListQuery filters and pages a job listing.
type ListQuery struct {
	Status     Status
	Limit      int
	Cursor     string
	Descending bool
}

// Page is one page of job listing results.
type Page struct {
	Jobs    []*Job `json:"jobs"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

// List returns jobs ordered by job_id (time-ordered for v7 ids). The
// cursor is the last job_id of the previous page.
func (s *Store) List(ctx context.Context, q ListQuery) (*Page, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Status != "" {
		query += ` AND status = ` + arg(q.Status)
	}
	if q.Cursor != "" {
		if q.Descending {
			query += ` AND job_id < ` + arg(q.Cursor)
		} else {
			query += ` AND job_id > ` + arg(q.Cursor)
		}
	}
	if q.Descending {
		query += ` ORDER BY job_id DESC`
	} else {
		query += ` ORDER BY job_id ASC`
	}
	query += ` LIMIT ` + arg(limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	page := &Page{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		page.Jobs = append(page.Jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	if len(page.Jobs) > limit {
		page.Jobs = page.Jobs[:limit]
		page.HasMore = true
		page.Cursor = page.Jobs[limit-1].ID
	}
	return page, nil
}

// Stats aggregates job counts and average processing time over a recent
// window.
type Stats struct {
	Window               time.Duration  `json:"-"`
	Total                int            `json:"total"`
	ByStatus             map[Status]int `json:"by_status"`
	AvgProcessingSeconds float64        `json:"avg_processing_seconds"`
}

// Stats returns aggregates for jobs created within the window.
func (s *Store) Stats(ctx context.Context, window time.Duration) (*Stats, error) {
	since := time.Now().UTC().Add(-window)

	stats := &Stats{Window: window, ByStatus: make(map[Status]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE created_at >= $1 GROUP BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("job stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
		 FROM jobs
		 WHERE created_at >= $1 AND status = $2 AND started_at IS NOT NULL AND completed_at IS NOT NULL`,
		since, StatusCompleted,
	).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	if avg.Valid {
		stats.AvgProcessingSeconds = avg.Float64
	}
	return stats, nil
}

// CleanupExpired deletes jobs whose expires_at has passed and returns how
// many were removed.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup expired jobs: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var results, errMsg, workerID sql.NullString
	var requestData []byte
	var startedAt, completedAt, lastHeartbeat sql.NullTime

	err := row.Scan(
		&job.ID, &job.Status, &requestData,
		&job.Progress.Step, &job.Progress.Current, &job.Progress.Total,
		&results, &errMsg, &workerID,
		&job.CreatedAt, &startedAt, &completedAt, &lastHeartbeat, &job.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.RequestData = json.RawMessage(requestData)
	if results.Valid {
		job.Results = json.RawMessage(results.String)
	}
	job.Error = errMsg.String
	job.WorkerID = workerID.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if lastHeartbeat.Valid {
		job.LastHeartbeat = &lastHeartbeat.Time
	}
	return &job, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
