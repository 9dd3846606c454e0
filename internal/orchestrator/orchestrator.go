package orchestrator

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"kgingest/internal/graphstore"
	"kgingest/internal/kgerrors"
	"kgingest/internal/logging"
)

// Orchestrator owns the single in-flight job for one store/repo pair.
// Exclusivity is in-process only, as spec.md §4.10 requires: a second Start
// call while a job is running is rejected, not queued.
type Orchestrator struct {
	mu         sync.Mutex
	store      *graphstore.Store
	repoRoot   string
	storeDir   string
	maxWorkers int

	job    *Job
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Orchestrator bound to an open store and a repository root.
// storeDir is where the manifest lives alongside the graph database file.
// maxWorkers bounds the per-stage worker pool (spec.md §5); <= 0 defaults to
// the host's CPU count.
func New(store *graphstore.Store, repoRoot, storeDir string, maxWorkers int) *Orchestrator {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	return &Orchestrator{store: store, repoRoot: repoRoot, storeDir: storeDir, maxWorkers: maxWorkers}
}

// Start launches a new pipeline run and returns its job ID immediately; the
// run continues on a background goroutine. Returns kgerrors.ErrJobAlreadyRunning
// if a job is already in flight.
func (o *Orchestrator) Start(opts Options) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.job != nil && o.job.Status == StatusRunning {
		return "", kgerrors.ErrJobAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        uuid.NewString(),
		Options:   opts,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	o.job = job
	o.cancel = cancel
	o.done = make(chan struct{})

	logging.Get(logging.CategoryOrchestrator).Info("job %s started (profile=%s scope=%q strict=%v reset=%v)",
		job.ID, opts.Profile, opts.Scope, opts.Strict, opts.ResetGraph)

	go o.run(ctx, job)

	return job.ID, nil
}

// run executes the pipeline and finalizes the job's terminal status. It is
// the only writer of o.job's Status/EndedAt/Error after Start returns.
func (o *Orchestrator) run(ctx context.Context, job *Job) {
	defer close(o.done)

	err := runPipeline(ctx, o.store, o.repoRoot, o.storeDir, o.maxWorkers, job)

	o.mu.Lock()
	defer o.mu.Unlock()
	job.EndedAt = time.Now()
	switch {
	case ctx.Err() == context.Canceled:
		job.Status = StatusCancelled
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
	default:
		job.Status = StatusSucceeded
	}
	logging.Get(logging.CategoryOrchestrator).Info("job %s finished: %s", job.ID, job.Status)
}

// Status returns a snapshot of the current (or most recently finished) job.
func (o *Orchestrator) Status() *Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.job.snapshot()
}

// Report is an alias for Status: the full job record including per-stage
// telemetry (spec.md §6's `report` entrypoint).
func (o *Orchestrator) Report() *Job {
	return o.Status()
}

// Stop cancels the in-flight job cooperatively. Stages observe ctx.Done()
// at defined suspension points (between batches, between files) rather than
// being killed mid-write, so a stop never leaves a half-written batch.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.job == nil || o.job.Status != StatusRunning {
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	cancel()
	<-done
	return nil
}
