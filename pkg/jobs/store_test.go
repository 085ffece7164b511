package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func jobRow(id string, status Status, workerID string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"job_id", "status", "request_data",
		"progress_step", "progress_current", "progress_total",
		"results", "error_message", "worker_id",
		"created_at", "started_at", "completed_at", "last_heartbeat", "expires_at",
	}).AddRow(
		id, status, []byte(`{"kind":"generate"}`),
		"", 0, 0,
		nil, nil, nullStr(workerID),
		now, nil, nil, nil, now.Add(DefaultTTL),
	)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func TestNewID_Sortable(t *testing.T) {
	a := NewID()
	time.Sleep(2 * time.Millisecond)
	b := NewID()
	assert.Less(t, a, b, "v7 ids should sort by creation time")
}

func TestCreate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), StatusQueued, []byte(`{"kind":"generate"}`),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	job, err := store.Create(context.Background(), json.RawMessage(`{"kind":"generate"}`), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusQueued, job.Status)
	assert.WithinDuration(t, job.CreatedAt.Add(DefaultTTL), job.ExpiresAt, time.Second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE job_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_Claim(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, worker_id FROM jobs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "worker_id"}).AddRow(StatusQueued, nil))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("job-1", StatusProcessing, "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", StatusProcessing, "worker-1"))

	job, err := store.UpdateStatus(context.Background(), "job-1", Update{
		Status:   StatusProcessing,
		WorkerID: "worker-1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_DuplicateClaim(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, worker_id FROM jobs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "worker_id"}).
			AddRow(StatusProcessing, "worker-1"))
	mock.ExpectRollback()

	_, err := store.UpdateStatus(context.Background(), "job-1", Update{
		Status:   StatusProcessing,
		WorkerID: "worker-2",
	})
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_ProgressUpdate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, worker_id FROM jobs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "worker_id"}).
			AddRow(StatusProcessing, "worker-1"))
	mock.ExpectExec("UPDATE jobs SET progress_step").
		WithArgs("job-1", "building_manifest", 3, 5).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", StatusProcessing, "worker-1"))

	_, err := store.UpdateStatus(context.Background(), "job-1", Update{
		Status:   StatusProcessing,
		WorkerID: "worker-1",
		Progress: &Progress{Step: "building_manifest", Current: 3, Total: 5},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_Complete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, worker_id FROM jobs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "worker_id"}).
			AddRow(StatusProcessing, "worker-1"))
	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("job-1", StatusCompleted, []byte(`{"post_id":"2024-05-10"}`), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", StatusCompleted, "worker-1"))

	_, err := store.UpdateStatus(context.Background(), "job-1", Update{
		Status:  StatusCompleted,
		Results: json.RawMessage(`{"post_id":"2024-05-10"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_InvalidTransition(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, worker_id FROM jobs WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "worker_id"}).
			AddRow(StatusQueued, nil))
	mock.ExpectRollback()

	_, err := store.UpdateStatus(context.Background(), "job-1", Update{Status: StatusCompleted})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status, worker_id FROM jobs WHERE job_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"status", "worker_id"}))
	mock.ExpectRollback()

	_, err := store.UpdateStatus(context.Background(), "missing", Update{
		Status:   StatusProcessing,
		WorkerID: "w",
	})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHeartbeat_NotHeld(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET last_heartbeat").
		WithArgs("job-1", "worker-2", StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Heartbeat(context.Background(), "job-1", "worker-2")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_Pagination(t *testing.T) {
	store, mock := newMockStore(t)

	rows := jobRow("job-1", StatusCompleted, "w")
	now := time.Now().UTC()
	rows.AddRow("job-2", StatusCompleted, []byte(`{}`), "", 0, 0, nil, nil, "w",
		now, nil, nil, nil, now.Add(DefaultTTL))
	rows.AddRow("job-3", StatusCompleted, []byte(`{}`), "", 0, 0, nil, nil, "w",
		now, nil, nil, nil, now.Add(DefaultTTL))

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE 1=1 AND status = (.+) ORDER BY job_id ASC LIMIT").
		WithArgs(StatusCompleted, 3).
		WillReturnRows(rows)

	page, err := store.List(context.Background(), ListQuery{Status: StatusCompleted, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Jobs, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "job-2", page.Cursor)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT status, COUNT(.+) FROM jobs WHERE created_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow(StatusCompleted, 7).
			AddRow(StatusFailed, 2))
	mock.ExpectQuery("SELECT AVG").
		WithArgs(sqlmock.AnyArg(), StatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(42.5))

	stats, err := store.Stats(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 9, stats.Total)
	assert.Equal(t, 7, stats.ByStatus[StatusCompleted])
	assert.Equal(t, 42.5, stats.AvgProcessingSeconds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupExpired(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM jobs WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
