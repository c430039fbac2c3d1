package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/statement-importer/internal/jobs"
)

func noBackoff(int) time.Duration { return 0 }

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ExportImportJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s did not reach %s, last state %+v", jobID, want, job)
	return nil
}

func TestQueue_PublishAndProcess(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(2), WithBackoff(noBackoff))
	ctx := context.Background()

	seen := make(chan string, 1)
	if err := q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		seen <- job.(*jobs.ExportImportJob).ImportID
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Close()

	job := &jobs.ExportImportJob{ImportID: "imp-1", UserID: "user-1"}
	if err := q.PublishExportImport(ctx, job); err != nil {
		t.Fatalf("PublishExportImport: %v", err)
	}
	if job.JobID == "" || job.MaxRetries != jobs.DefaultMaxRetries || job.CreatedAt.IsZero() {
		t.Errorf("defaults not applied: %+v", job)
	}

	select {
	case id := <-seen:
		if id != "imp-1" {
			t.Errorf("handler got import %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.StartedAt == nil || done.CompletedAt == nil || done.Error != "" {
		t.Errorf("completed job = %+v", done)
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(1), WithBackoff(noBackoff))
	ctx := context.Background()

	var calls atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("bigquery unavailable")
		}
		return nil
	})
	defer q.Close()

	job := &jobs.ExportImportJob{ImportID: "imp-1"}
	if err := q.PublishExportImport(ctx, job); err != nil {
		t.Fatalf("PublishExportImport: %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", done.RetryCount)
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", calls.Load())
	}
}

func TestQueue_RetriesExhausted(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(1), WithBackoff(noBackoff))
	ctx := context.Background()

	var calls atomic.Int32
	_ = q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return errors.New("permanent")
	})
	defer q.Close()

	job := &jobs.ExportImportJob{ImportID: "imp-1", MaxRetries: 1}
	_ = q.PublishExportImport(ctx, job)

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.Error != "permanent" {
		t.Errorf("Error = %q", failed.Error)
	}
	if calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", calls.Load())
	}
}

func TestQueue_HandlerPanic(t *testing.T) {
	store := NewStore()
	q := NewQueue(10, store, WithWorkers(1), WithBackoff(noBackoff))
	ctx := context.Background()

	_ = q.Start(ctx, func(ctx context.Context, job jobs.Job) error {
		panic("boom")
	})
	defer q.Close()

	job := &jobs.ExportImportJob{ImportID: "imp-1", MaxRetries: -1}
	_ = q.PublishExportImport(ctx, job)

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.Error != "job panicked: boom" {
		t.Errorf("Error = %q", failed.Error)
	}
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	ctx := context.Background()
	if err := q.PublishExportImport(ctx, &jobs.ExportImportJob{}); !errors.Is(err, jobs.ErrQueueClosed) {
		t.Errorf("PublishExportImport after close = %v, want ErrQueueClosed", err)
	}
	if err := q.Start(ctx, func(context.Context, jobs.Job) error { return nil }); !errors.Is(err, jobs.ErrQueueClosed) {
		t.Errorf("Start after close = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_PublishRespectsContext(t *testing.T) {
	q := NewQueue(0, nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.PublishExportImport(ctx, &jobs.ExportImportJob{}); !errors.Is(err, context.Canceled) {
		t.Errorf("PublishExportImport = %v, want context.Canceled", err)
	}
}
