package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/metrics"
	"github.com/1broseidon/beacon/pkg/models"
)

// Trigger values recorded with every check
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Execution is one dispatched check
type Execution struct {
	Monitor     *models.Monitor
	ScheduledAt time.Time
	Trigger     string
}

// ExecFunc runs one execution on a worker
type ExecFunc func(ctx context.Context, exec *Execution)

// WorkerPool runs executions on a fixed number of goroutines fed by a
// bounded queue. Its size is the global cap on concurrent checks.
type WorkerPool struct {
	size     int
	jobQueue chan *Execution
	exec     ExecFunc
	logger   *logging.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool

	processedJobs int64
	activeWorkers int32
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(size, queueSize int, exec ExecFunc, logger *logging.Logger, m *metrics.Metrics) *WorkerPool {
	if size <= 0 {
		size = 5
	}
	if queueSize <= 0 {
		queueSize = size * 2
	}

	return &WorkerPool{
		size:     size,
		jobQueue: make(chan *Execution, queueSize),
		exec:     exec,
		logger:   logger.WithComponent(logging.ComponentScheduler),
		metrics:  m,
	}
}

// Start starts the workers. Calling it more than once has no effect.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started || wp.closed {
		return
	}
	wp.started = true
	wp.ctx, wp.cancel = context.WithCancel(ctx)

	wp.logger.WithFields(map[string]interface{}{
		"worker_count": wp.size,
		"queue_size":   cap(wp.jobQueue),
	}).Info("Starting worker pool")

	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.work(i)
	}
}

// Submit queues an execution without blocking. It returns false when the
// queue is full or the pool is shut down.
func (wp *WorkerPool) Submit(exec *Execution) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}

	select {
	case wp.jobQueue <- exec:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting work and discards queued executions, then waits
// up to grace for running ones. Remaining executions have their context
// cancelled. It reports whether everything finished within grace and returns
// the executions that never started.
func (wp *WorkerPool) Shutdown(grace time.Duration) (bool, []*Execution) {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return true, nil
	}
	wp.closed = true
	started := wp.started

	var discarded []*Execution
drain:
	for {
		select {
		case exec := <-wp.jobQueue:
			discarded = append(discarded, exec)
		default:
			break drain
		}
	}
	close(wp.jobQueue)
	wp.mu.Unlock()

	if !started {
		return true, discarded
	}

	wp.logger.WithFields(map[string]interface{}{
		"discarded": len(discarded),
		"running":   wp.ActiveWorkers(),
		"grace":     grace.String(),
	}).Info("Stopping worker pool")

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	drained := true
	select {
	case <-done:
	case <-time.After(grace):
		drained = false
		wp.logger.WithFields(map[string]interface{}{
			"running": wp.ActiveWorkers(),
		}).Warn("Grace period expired, cancelling running checks")
		wp.cancel()
		<-done
	}
	wp.cancel()

	wp.logger.WithFields(map[string]interface{}{
		"processed_jobs": wp.ProcessedJobs(),
	}).Info("Worker pool stopped")
	return drained, discarded
}

// Size returns the number of workers
func (wp *WorkerPool) Size() int {
	return wp.size
}

// ActiveWorkers returns the number of currently active workers
func (wp *WorkerPool) ActiveWorkers() int {
	return int(atomic.LoadInt32(&wp.activeWorkers))
}

// PendingJobs returns the number of pending jobs in the queue
func (wp *WorkerPool) PendingJobs() int {
	return len(wp.jobQueue)
}

// ProcessedJobs returns the total number of processed jobs
func (wp *WorkerPool) ProcessedJobs() int64 {
	return atomic.LoadInt64(&wp.processedJobs)
}

func (wp *WorkerPool) work(id int) {
	defer wp.wg.Done()

	for exec := range wp.jobQueue {
		wp.process(id, exec)
	}
	wp.logger.WithFields(map[string]interface{}{"worker_id": id}).Debug("Worker stopped - job queue closed")
}

func (wp *WorkerPool) process(id int, exec *Execution) {
	atomic.AddInt32(&wp.activeWorkers, 1)
	wp.metrics.IncrementActiveWorkers()
	defer func() {
		atomic.AddInt32(&wp.activeWorkers, -1)
		atomic.AddInt64(&wp.processedJobs, 1)
		wp.metrics.DecrementActiveWorkers()
	}()

	// The executor recovers probe panics itself; this keeps the worker
	// alive if anything else in the pipeline panics.
	defer func() {
		if r := recover(); r != nil {
			wp.metrics.RecordPanic()
			wp.logger.WithFields(map[string]interface{}{
				"worker_id":  id,
				"monitor_id": exec.Monitor.ID,
				"panic":      r,
			}).Error("Worker panic recovered")
		}
	}()

	wp.exec(wp.ctx, exec)
}
