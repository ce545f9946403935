package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"mediavault/internal/jobstore"
	"mediavault/internal/metrics"
	"mediavault/internal/models"
	"mediavault/internal/ws"
)

var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrJobFinished = errors.New("job already finished")
	ErrJobActive   = errors.New("job still active")
)

const (
	defaultTransferPermits = 3
	defaultRetention       = 24 * time.Hour
)

type Options struct {
	TransferPermits int
	Retention       time.Duration
}

// Runtime owns the lifecycle of background jobs: it writes every transition
// through the job store, publishes it on the hub and keeps the per-job cancel
// handles. Job bodies run in their own goroutine with a context detached from
// the request that started them.
type Runtime struct {
	store jobstore.Store
	hub   *ws.Hub
	mtr   *metrics.Metrics
	log   zerolog.Logger

	retention time.Duration
	permits   chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	started map[string]time.Time
}

// Spec describes one job to run. Run receives a context that is cancelled by
// Cancel and must treat ctx.Err() as a stop request.
type Spec struct {
	Type    string
	Payload map[string]any
	Run     func(ctx context.Context, task *Task) error
}

// Task is the handle a job body uses to report on itself.
type Task struct {
	rt *Runtime
	id string
}

func New(store jobstore.Store, hub *ws.Hub, mtr *metrics.Metrics, log zerolog.Logger, opts Options) *Runtime {
	permits := opts.TransferPermits
	if permits <= 0 {
		permits = defaultTransferPermits
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Runtime{
		store:     store,
		hub:       hub,
		mtr:       mtr,
		log:       log.With().Str("component", "runtime").Logger(),
		retention: retention,
		permits:   make(chan struct{}, permits),
		cancels:   make(map[string]context.CancelFunc),
		started:   make(map[string]time.Time),
	}
}

// CreateAndStart persists a pending record and launches the job body.
func (rt *Runtime) CreateAndStart(ctx context.Context, spec Spec) (string, error) {
	if spec.Run == nil {
		return "", errors.New("job spec has no body")
	}
	id := ulid.Make().String()
	job := models.Job{
		ID:        id,
		Type:      spec.Type,
		Status:    models.JobStatusPending,
		Payload:   spec.Payload,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := rt.store.Set(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rt.mu.Lock()
	rt.cancels[id] = cancel
	rt.started[id] = time.Now()
	rt.mu.Unlock()

	rt.mtr.IncJobsStarted(spec.Type)
	rt.publishStatus(job)

	go rt.run(runCtx, spec, id)
	return id, nil
}

func (rt *Runtime) run(ctx context.Context, spec Spec, id string) {
	task := &Task{rt: rt, id: id}

	rt.setStatus(id, models.JobStatusRunning, nil)

	err := rt.invoke(ctx, spec, task)

	status := models.JobStatusCompleted
	var errMsg *string
	switch {
	case ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)):
		status = models.JobStatusCancelled
		rt.mtr.IncJobsCanceled(spec.Type)
	case err != nil:
		status = models.JobStatusError
		msg := err.Error()
		errMsg = &msg
	}

	rt.setStatus(id, status, errMsg)

	rt.mu.Lock()
	started := rt.started[id]
	delete(rt.cancels, id)
	delete(rt.started, id)
	rt.mu.Unlock()

	rt.mtr.IncJobsCompleted(spec.Type, string(status))
	if !started.IsZero() {
		rt.mtr.ObserveJobsDuration(spec.Type, string(status), time.Since(started))
	}

	evt := rt.log.Info()
	if status == models.JobStatusError {
		evt = rt.log.Error().Str("error", *errMsg)
	}
	evt.Str("job_id", id).Str("type", spec.Type).Str("status", string(status)).Msg("job finished")
}

func (rt *Runtime) invoke(ctx context.Context, spec Spec, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return spec.Run(ctx, task)
}

// Cancel requests cooperative cancellation. Unknown and already-terminal jobs
// are rejected; committed writes made by the job stay committed.
func (rt *Runtime) Cancel(ctx context.Context, id string) error {
	job, err := rt.store.Get(ctx, id)
	if errors.Is(err, jobstore.ErrNotFound) {
		return ErrUnknownJob
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobFinished
	}

	rt.mu.Lock()
	cancel, ok := rt.cancels[id]
	rt.mu.Unlock()
	if !ok {
		// Finished between the store read and the lookup.
		return ErrJobFinished
	}
	cancel()
	return nil
}

// Delete removes a terminal job record.
func (rt *Runtime) Delete(ctx context.Context, id string) error {
	job, err := rt.store.Get(ctx, id)
	if errors.Is(err, jobstore.ErrNotFound) {
		return ErrUnknownJob
	}
	if err != nil {
		return err
	}
	if !job.Status.IsTerminal() {
		return ErrJobActive
	}
	return rt.store.Delete(ctx, id)
}

// AcquireTransfer blocks on the bounded transfer semaphore. The returned
// release function must be called exactly once.
func (rt *Runtime) AcquireTransfer(ctx context.Context) (func(), error) {
	select {
	case rt.permits <- struct{}{}:
		rt.mtr.IncTransfersInFlight()
		var once sync.Once
		return func() {
			once.Do(func() {
				rt.mtr.DecTransfersInFlight()
				<-rt.permits
			})
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RunCleanup sweeps terminal jobs older than the retention window until the
// context ends.
func (rt *Runtime) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.sweep(ctx)
		}
	}
}

func (rt *Runtime) sweep(ctx context.Context) {
	jobs, err := rt.store.List(ctx, jobstore.Filter{})
	if err != nil {
		rt.log.Warn().Err(err).Msg("cleanup sweep failed")
		return
	}
	cutoff := time.Now().Add(-rt.retention)
	removed := 0
	for _, job := range jobs {
		if !job.Status.IsTerminal() || job.CompletedAt == nil {
			continue
		}
		done, err := time.Parse(time.RFC3339Nano, *job.CompletedAt)
		if err != nil || done.After(cutoff) {
			continue
		}
		if err := rt.store.Delete(ctx, job.ID); err != nil && !errors.Is(err, jobstore.ErrNotFound) {
			rt.log.Warn().Err(err).Str("job_id", job.ID).Msg("cleanup delete failed")
			continue
		}
		rt.mu.Lock()
		delete(rt.cancels, job.ID)
		delete(rt.started, job.ID)
		rt.mu.Unlock()
		removed++
	}
	if removed > 0 {
		rt.log.Debug().Int("removed", removed).Msg("cleanup sweep")
	}
}

func (rt *Runtime) setStatus(id string, status models.JobStatus, errMsg *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := rt.store.Get(ctx, id)
	if err != nil {
		rt.log.Warn().Err(err).Str("job_id", id).Msg("load job for status update")
		return
	}
	if job.Status.IsTerminal() {
		return
	}
	job.Status = status
	if errMsg != nil {
		job.Error = errMsg
	}
	if status.IsTerminal() {
		done := time.Now().UTC().Format(time.RFC3339Nano)
		job.CompletedAt = &done
	}
	if err := rt.store.Set(ctx, job); err != nil {
		rt.log.Warn().Err(err).Str("job_id", id).Msg("persist status update")
		return
	}
	rt.publishStatus(job)
}

func (rt *Runtime) publishStatus(job models.Job) {
	if rt.hub == nil {
		return
	}
	rt.hub.Publish(ws.Event{Type: ws.EventJobStatus, JobID: job.ID, Payload: job})
}

func (t *Task) ID() string { return t.id }

// SetStatus reports an intermediate phase (downloading, uploading). Terminal
// states are owned by the runtime and rejected here.
func (t *Task) SetStatus(ctx context.Context, status models.JobStatus) error {
	if status.IsTerminal() {
		return fmt.Errorf("status %s is terminal", status)
	}
	job, err := t.rt.store.Get(ctx, t.id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobFinished
	}
	job.Status = status
	if err := t.rt.store.Set(ctx, job); err != nil {
		return err
	}
	t.rt.publishStatus(job)
	return nil
}

func (t *Task) SetProgress(ctx context.Context, progress map[string]any) error {
	job, err := t.rt.store.Get(ctx, t.id)
	if err != nil {
		return err
	}
	job.Progress = progress
	if err := t.rt.store.Set(ctx, job); err != nil {
		return err
	}
	if t.rt.hub != nil {
		t.rt.hub.Publish(ws.Event{Type: ws.EventJobProgress, JobID: t.id, Payload: progress})
	}
	return nil
}

func (t *Task) SetResult(ctx context.Context, result map[string]any) error {
	job, err := t.rt.store.Get(ctx, t.id)
	if err != nil {
		return err
	}
	job.Result = result
	return t.rt.store.Set(ctx, job)
}
