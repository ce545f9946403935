package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediavault/internal/jobstore"
	"mediavault/internal/metrics"
	"mediavault/internal/models"
	"mediavault/internal/ws"
)

func newTestRuntime(t *testing.T, opts Options) (*Runtime, jobstore.Store) {
	t.Helper()
	store := jobstore.NewMemory()
	rt := New(store, ws.NewHub(), metrics.New(), zerolog.Nop(), opts)
	return rt, store
}

func waitForStatus(t *testing.T, store jobstore.Store, id string, want models.JobStatus) models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.Get(context.Background(), id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, err := store.Get(context.Background(), id)
	t.Fatalf("job %s never reached %s (last: %+v, err: %v)", id, want, job, err)
	return models.Job{}
}

func TestJobCompletes(t *testing.T) {
	rt, store := newTestRuntime(t, Options{})

	id, err := rt.CreateAndStart(context.Background(), Spec{
		Type: "test",
		Run: func(ctx context.Context, task *Task) error {
			return task.SetResult(ctx, map[string]any{"ok": true})
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	job := waitForStatus(t, store, id, models.JobStatusCompleted)
	if job.CompletedAt == nil {
		t.Fatal("expected completed_at to be stamped")
	}
	if job.Result == nil || job.Result["ok"] != true {
		t.Fatalf("expected result to survive, got %+v", job.Result)
	}
	if job.Error != nil {
		t.Fatalf("expected no error, got %v", *job.Error)
	}
}

func TestJobErrorCapturesMessage(t *testing.T) {
	rt, store := newTestRuntime(t, Options{})

	id, err := rt.CreateAndStart(context.Background(), Spec{
		Type: "test",
		Run: func(context.Context, *Task) error {
			return errors.New("boom")
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	job := waitForStatus(t, store, id, models.JobStatusError)
	if job.Error == nil || *job.Error != "boom" {
		t.Fatalf("expected error message boom, got %+v", job.Error)
	}
	if job.CompletedAt == nil {
		t.Fatal("expected completed_at on error")
	}
}

func TestJobPanicBecomesError(t *testing.T) {
	rt, store := newTestRuntime(t, Options{})

	id, err := rt.CreateAndStart(context.Background(), Spec{
		Type: "test",
		Run: func(context.Context, *Task) error {
			panic("kaboom")
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	job := waitForStatus(t, store, id, models.JobStatusError)
	if job.Error == nil {
		t.Fatal("expected error message from panic")
	}
}

func TestCancelIsCooperativeAndTerminal(t *testing.T) {
	rt, store := newTestRuntime(t, Options{})

	started := make(chan struct{})
	id, err := rt.CreateAndStart(context.Background(), Spec{
		Type: "test",
		Run: func(ctx context.Context, task *Task) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	if err := rt.Cancel(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitForStatus(t, store, id, models.JobStatusCancelled)

	// A second cancel is rejected.
	if err := rt.Cancel(context.Background(), id); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished, got %v", err)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	if err := rt.Cancel(context.Background(), "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestBoundedTransferFanOut(t *testing.T) {
	const permits = 3
	rt, store := newTestRuntime(t, Options{TransferPermits: permits})

	var inFlight, peak int64
	var mu sync.Mutex

	id, err := rt.CreateAndStart(context.Background(), Spec{
		Type: "test",
		Run: func(ctx context.Context, task *Task) error {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := rt.AcquireTransfer(ctx)
					if err != nil {
						return
					}
					defer release()

					n := atomic.AddInt64(&inFlight, 1)
					mu.Lock()
					if n > peak {
						peak = n
					}
					mu.Unlock()
					time.Sleep(10 * time.Millisecond)
					atomic.AddInt64(&inFlight, -1)
				}()
			}
			wg.Wait()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, store, id, models.JobStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	if peak > permits {
		t.Fatalf("expected at most %d concurrent transfers, saw %d", permits, peak)
	}
	if peak == 0 {
		t.Fatal("expected at least one transfer to run")
	}
}

func TestDeleteRejectsActiveJob(t *testing.T) {
	rt, store := newTestRuntime(t, Options{})

	started := make(chan struct{})
	stop := make(chan struct{})
	id, err := rt.CreateAndStart(context.Background(), Spec{
		Type: "test",
		Run: func(ctx context.Context, task *Task) error {
			close(started)
			select {
			case <-stop:
			case <-ctx.Done():
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	if err := rt.Delete(context.Background(), id); !errors.Is(err, ErrJobActive) {
		t.Fatalf("expected ErrJobActive, got %v", err)
	}

	close(stop)
	waitForStatus(t, store, id, models.JobStatusCompleted)

	if err := rt.Delete(context.Background(), id); err != nil {
		t.Fatalf("delete terminal job: %v", err)
	}
	if _, err := store.Get(context.Background(), id); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("expected job removed, got %v", err)
	}
}

func TestSweepDropsOldTerminalJobs(t *testing.T) {
	rt, store := newTestRuntime(t, Options{Retention: time.Minute})

	old := time.Now().Add(-2 * time.Minute).UTC().Format(time.RFC3339Nano)
	fresh := time.Now().UTC().Format(time.RFC3339Nano)
	if err := store.Set(context.Background(), models.Job{
		ID: "OLD", Type: "test", Status: models.JobStatusCompleted,
		CreatedAt: old, CompletedAt: &old,
	}); err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if err := store.Set(context.Background(), models.Job{
		ID: "FRESH", Type: "test", Status: models.JobStatusCompleted,
		CreatedAt: fresh, CompletedAt: &fresh,
	}); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}
	if err := store.Set(context.Background(), models.Job{
		ID: "ACTIVE", Type: "test", Status: models.JobStatusRunning,
		CreatedAt: old,
	}); err != nil {
		t.Fatalf("seed active: %v", err)
	}

	rt.sweep(context.Background())

	if _, err := store.Get(context.Background(), "OLD"); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("expected OLD removed, got %v", err)
	}
	if _, err := store.Get(context.Background(), "FRESH"); err != nil {
		t.Fatalf("expected FRESH kept: %v", err)
	}
	if _, err := store.Get(context.Background(), "ACTIVE"); err != nil {
		t.Fatalf("expected ACTIVE kept: %v", err)
	}
}
