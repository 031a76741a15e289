package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/allensuvorov/logamizer/internal/metrics"
)

// Queue runs log-file ingest requests on a bounded pool of goroutines
// (one per job, gated by a semaphore), per spec.md §5's "parallel workers drain a job queue; each
// job is a single pipeline run for one log file." Grounded on the
// errgroup.WithContext/semaphore pattern used for bounded fan-out in the
// activecm-rita spagooper analysis tool from the reference corpus.
type Queue struct {
	driver *Driver
	sem    *semaphore.Weighted
	group  *errgroup.Group
	ctx    context.Context

	mu   sync.Mutex
	jobs map[string]error
}

// NewQueue builds a Queue bounded to concurrency workers in flight at
// once. Wait blocks until all enqueued jobs finish; a job's own error is
// read with JobError, since jobs report nil to the underlying errgroup.
func NewQueue(ctx context.Context, driver *Driver, concurrency int) *Queue {
	if concurrency <= 0 {
		concurrency = 4
	}
	group, gctx := errgroup.WithContext(ctx)
	return &Queue{
		driver: driver,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		group:  group,
		ctx:    gctx,
		jobs:   make(map[string]error),
	}
}

// Enqueue schedules a RunIngest call for logFileID and returns its job id
// without waiting for the job to finish, per spec.md §6's
// `run_ingest(log_file_id)` returning "a job id". When every worker slot
// is busy, Enqueue blocks until one frees up (or the queue's context ends).
func (q *Queue) Enqueue(logFileID string) (string, error) {
	jobID := uuid.NewString()
	metrics.QueueDepth.Inc()
	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		metrics.QueueDepth.Dec()
		return "", err
	}
	q.group.Go(func() error {
		defer q.sem.Release(1)
		defer metrics.QueueDepth.Dec()
		err := q.driver.RunIngest(q.ctx, jobID, logFileID)
		q.mu.Lock()
		q.jobs[jobID] = err
		q.mu.Unlock()
		// A single file's failure must not cancel sibling jobs in flight;
		// errgroup's first-error-cancels-context behavior is only useful
		// here for a hard shutdown signal, so job errors are recorded but
		// not returned to the group.
		return nil
	})
	return jobID, nil
}

// Wait blocks until every enqueued job has run.
func (q *Queue) Wait() error {
	return q.group.Wait()
}

// JobError returns the outcome of a completed job, or (nil, false) if it
// hasn't finished yet.
func (q *Queue) JobError(jobID string) (error, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	err, ok := q.jobs[jobID]
	return err, ok
}
