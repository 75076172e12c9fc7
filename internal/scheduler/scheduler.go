// Package scheduler runs every enabled monitor at its own fixed rate on a
// bounded worker pool, records results and triggers alerts on up-to-down
// transitions.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/1broseidon/beacon/internal/config"
	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/metrics"
	"github.com/1broseidon/beacon/internal/notify"
	"github.com/1broseidon/beacon/internal/probe"
	"github.com/1broseidon/beacon/internal/retry"
	"github.com/1broseidon/beacon/internal/storage"
	"github.com/1broseidon/beacon/pkg/models"
)

// Prober executes one check
type Prober interface {
	Probe(ctx context.Context, req probe.Request) (probe.Outcome, error)
}

// Notifier delivers a down alert through every configured channel
type Notifier interface {
	Notify(ctx context.Context, monitor *models.Monitor, result *models.CheckResult) []notify.Outcome
}

// RemoveOutcome tells a cancelled job apart from an absent one
type RemoveOutcome int

const (
	RemoveNoJob RemoveOutcome = iota
	RemoveCancelled
)

func (o RemoveOutcome) String() string {
	if o == RemoveCancelled {
		return "cancelled"
	}
	return "no_job"
}

// UpdateOutcome describes what Update did to the job table
type UpdateOutcome int

const (
	// UpdateNoop: the monitor is disabled and had no job.
	UpdateNoop UpdateOutcome = iota
	UpdateAdded
	UpdateRemoved
	UpdateRescheduled
	// UpdateRefreshed: the job kept its schedule and got the new snapshot.
	UpdateRefreshed
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateAdded:
		return "added"
	case UpdateRemoved:
		return "removed"
	case UpdateRescheduled:
		return "rescheduled"
	case UpdateRefreshed:
		return "refreshed"
	default:
		return "noop"
	}
}

// Options tunes the scheduler
type Options struct {
	Workers   int
	QueueSize int
	// ProbeTimeout bounds every check and must be shorter than MinInterval.
	ProbeTimeout  time.Duration
	MinInterval   time.Duration
	ShutdownGrace time.Duration
	RecentResults int

	NotifyTimeout     time.Duration
	NotifyOnFirstDown bool

	Persistence retry.Policy
}

// OptionsFromConfig maps configuration onto scheduler options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:           cfg.Scheduler.Workers,
		QueueSize:         cfg.Scheduler.QueueSize,
		ProbeTimeout:      cfg.Scheduler.ProbeTimeout,
		MinInterval:       cfg.Scheduler.MinInterval,
		ShutdownGrace:     cfg.Scheduler.ShutdownGrace,
		RecentResults:     cfg.Scheduler.RecentResults,
		NotifyTimeout:     cfg.Notifications.Timeout,
		NotifyOnFirstDown: cfg.Notifications.NotifyOnFirstDown,
		Persistence: retry.Policy{
			Attempts:  cfg.Persistence.Attempts,
			BaseDelay: cfg.Persistence.BaseDelay,
			MaxDelay:  cfg.Persistence.MaxDelay,
		},
	}
}

func (o *Options) applyDefaults() {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 4 * time.Second
	}
	if o.MinInterval <= 0 {
		o.MinInterval = 5 * time.Second
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 10 * time.Second
	}
	if o.NotifyTimeout <= 0 {
		o.NotifyTimeout = 30 * time.Second
	}
	if o.Persistence.Attempts <= 0 {
		o.Persistence.Attempts = 3
	}
}

// Stats is a snapshot of scheduler counters
type Stats struct {
	Running        bool             `json:"running"`
	Jobs           int              `json:"jobs"`
	InFlight       int              `json:"in_flight"`
	QueueDepth     int              `json:"queue_depth"`
	Workers        int              `json:"workers"`
	ActiveWorkers  int              `json:"active_workers"`
	Processed      int64            `json:"processed"`
	OverlapSkipped int64            `json:"overlap_skipped"`
	QueueFull      int64            `json:"queue_full"`
	MissedTicks    int64            `json:"missed_ticks"`
	Results        ResultStoreStats `json:"results"`
}

// Scheduler owns the job table and is the single source of truth for what
// runs when. Create it with New, then Start and Stop it once.
type Scheduler struct {
	store    storage.Persistence
	prober   Prober
	notifier Notifier
	results  *ResultStore
	pool     *WorkerPool
	logger   *logging.Logger
	metrics  *metrics.Metrics
	opts     Options

	// submit hands an execution to the pool without blocking.
	submit func(*Execution) bool
	now    func() time.Time

	mu       sync.Mutex
	jobs     map[int64]*job
	queue    jobHeap
	inFlight map[int64]struct{}
	running  bool
	stopped  bool
	closing  bool

	wake     chan struct{}
	stop     chan struct{}
	loopDone chan struct{}

	notifyWG     sync.WaitGroup
	notifyCtx    context.Context
	cancelNotify context.CancelFunc

	overlapSkipped int64
	queueFull      int64
	missedTicks    int64
}

// New creates a scheduler. notifier may be nil.
func New(store storage.Persistence, prober Prober, notifier Notifier, logger *logging.Logger, m *metrics.Metrics, opts Options) *Scheduler {
	opts.applyDefaults()
	log := logger.WithComponent(logging.ComponentScheduler)

	s := &Scheduler{
		store:    store,
		prober:   prober,
		notifier: notifier,
		logger:   log,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
		jobs:     make(map[int64]*job),
		inFlight: make(map[int64]struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	s.results = NewResultStore(store, opts.Persistence, opts.RecentResults, logger, m)
	s.pool = NewWorkerPool(opts.Workers, opts.QueueSize, s.runScheduled, logger, m)
	s.submit = s.pool.Submit
	s.notifyCtx, s.cancelNotify = context.WithCancel(context.Background())
	return s
}

// Results returns the result store
func (s *Scheduler) Results() *ResultStore {
	return s.results
}

// Start rehydrates jobs from the enabled monitors in persistence and starts
// the workers and the scheduling loop. Calling it while running has no
// effect.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.mu.Unlock()

	monitors, err := s.store.LoadEnabledMonitors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled monitors: %w", err)
	}
	for _, m := range monitors {
		if err := s.Add(m); err != nil && !errors.Is(err, ErrDuplicateJob) {
			s.logger.WithMonitor(m.ID, m.Name, string(m.Kind)).
				WithError(err).
				Error("Failed to schedule monitor")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.pool.Start(ctx)
	s.running = true
	go s.run()

	s.logger.WithFields(map[string]interface{}{
		"jobs":          len(s.jobs),
		"workers":       s.pool.Size(),
		"probe_timeout": s.opts.ProbeTimeout.String(),
	}).Info("Scheduler started")
	return nil
}

// Stop stops firing, drains running checks and pending notifications within
// the shutdown grace period and cancels whatever remains. It is idempotent.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopped = true
	close(s.stop)
	s.mu.Unlock()

	<-s.loopDone
	s.logger.Info("Stopping scheduler")

	deadline := time.Now().Add(s.opts.ShutdownGrace)
	drained, discarded := s.pool.Shutdown(s.opts.ShutdownGrace)
	for _, exec := range discarded {
		s.finish(exec.Monitor.ID)
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.notifyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Until(deadline)):
		s.logger.Warn("Grace period expired, cancelling pending notifications")
		s.cancelNotify()
		<-done
	}
	s.cancelNotify()

	s.logger.WithFields(map[string]interface{}{
		"drained":   drained,
		"discarded": len(discarded),
	}).Info("Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// validate rejects monitors that can never be scheduled
func (s *Scheduler) validate(m *models.Monitor) error {
	if m == nil {
		return &models.ValidationError{Field: "monitor", Reason: "is required"}
	}
	if err := m.Validate(); err != nil {
		return err
	}
	if m.Interval() < s.opts.MinInterval {
		return &models.ValidationError{
			Field:  "intervalSeconds",
			Reason: fmt.Sprintf("must be at least %s", s.opts.MinInterval),
		}
	}
	return nil
}

// Add schedules an enabled monitor with its first fire one interval from
// now. Disabled monitors are ignored. A monitor that already has a job is
// rejected with ErrDuplicateJob.
func (s *Scheduler) Add(m *models.Monitor) error {
	if err := s.validate(m); err != nil {
		return err
	}
	log := s.logger.WithMonitor(m.ID, m.Name, string(m.Kind))
	if !m.Enabled {
		log.Debug("Monitor disabled, not scheduled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[m.ID]; exists {
		err := fmt.Errorf("%w: monitor %d", ErrDuplicateJob, m.ID)
		log.WithError(err).Error("Rejected duplicate job")
		return err
	}
	s.addLocked(m)
	return nil
}

func (s *Scheduler) addLocked(m *models.Monitor) {
	j := &job{
		monitor:  cloneMonitor(m),
		interval: m.Interval(),
		next:     s.now().Add(m.Interval()),
		state:    JobScheduled,
	}
	s.jobs[m.ID] = j
	heap.Push(&s.queue, j)

	if m.LastCheckedAt != nil {
		s.results.Prime(m.ID, m.KnownStatus())
	}
	s.metrics.SetScheduledJobs(len(s.jobs))
	s.signal()

	s.logger.WithMonitor(m.ID, m.Name, string(m.Kind)).
		WithEvent(logging.EventJobScheduled).
		WithFields(map[string]interface{}{
			"interval":  j.interval.String(),
			"next_fire": j.next,
		}).
		Debug("Job scheduled")
}

// Remove cancels the job of a monitor. Once it returns, no further scheduled
// fire happens for that id; a check already running may still complete.
// Removing an absent job is not an error and reports RemoveNoJob.
func (s *Scheduler) Remove(monitorID int64) (RemoveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(monitorID)
}

func (s *Scheduler) removeLocked(monitorID int64) (RemoveOutcome, error) {
	j, ok := s.jobs[monitorID]
	if !ok {
		s.logger.WithEvent(logging.EventJobCancelled).
			WithFields(map[string]interface{}{"monitor_id": monitorID}).
			Info("No scheduled job to cancel")
		return RemoveNoJob, nil
	}

	delete(s.jobs, monitorID)
	j.state = JobCancelled
	s.metrics.SetScheduledJobs(len(s.jobs))

	if j.index < 0 || j.index >= len(s.queue) || s.queue[j.index] != j {
		err := &InternalError{MonitorID: monitorID, Op: "remove", Err: errors.New("job missing from fire queue")}
		s.logger.WithError(err).Error("Job table inconsistent")
		return RemoveCancelled, err
	}
	heap.Remove(&s.queue, j.index)
	s.signal()

	s.logger.WithMonitor(monitorID, j.monitor.Name, string(j.monitor.Kind)).
		WithEvent(logging.EventJobCancelled).
		Debug("Job cancelled")
	return RemoveCancelled, nil
}

// Update applies an edited monitor to the job table: an enabled flip adds or
// removes the job, an interval change reschedules it from now, and any other
// change replaces the snapshot used by future fires.
func (s *Scheduler) Update(m *models.Monitor) (UpdateOutcome, error) {
	if err := s.validate(m); err != nil {
		return UpdateNoop, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[m.ID]
	switch {
	case !m.Enabled && !exists:
		return UpdateNoop, nil
	case !m.Enabled:
		_, err := s.removeLocked(m.ID)
		return UpdateRemoved, err
	case !exists:
		s.addLocked(m)
		return UpdateAdded, nil
	case j.interval != m.Interval():
		if _, err := s.removeLocked(m.ID); err != nil {
			return UpdateRescheduled, err
		}
		s.addLocked(m)
		return UpdateRescheduled, nil
	default:
		j.monitor = cloneMonitor(m)
		return UpdateRefreshed, nil
	}
}

// Forget drops the in-memory status, recent results and metric series of a
// deleted monitor.
func (s *Scheduler) Forget(m *models.Monitor) {
	s.results.Forget(m.ID)
	s.metrics.ForgetMonitor(m.ID, string(m.Kind))
}

// HasJob reports whether the monitor currently has a scheduled job
func (s *Scheduler) HasJob(monitorID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[monitorID]
	return ok
}

// Jobs returns the scheduled jobs ordered by monitor id
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		infos = append(infos, j.info())
	}
	sort.Slice(infos, func(i, k int) bool { return infos[i].MonitorID < infos[k].MonitorID })
	return infos
}

// Stats returns scheduler statistics
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	stats := Stats{
		Running:  s.running,
		Jobs:     len(s.jobs),
		InFlight: len(s.inFlight),
	}
	s.mu.Unlock()

	stats.QueueDepth = s.pool.PendingJobs()
	stats.Workers = s.pool.Size()
	stats.ActiveWorkers = s.pool.ActiveWorkers()
	stats.Processed = s.pool.ProcessedJobs()
	stats.OverlapSkipped = atomic.LoadInt64(&s.overlapSkipped)
	stats.QueueFull = atomic.LoadInt64(&s.queueFull)
	stats.MissedTicks = atomic.LoadInt64(&s.missedTicks)
	stats.Results = s.results.Stats()
	return stats
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the scheduling loop. It only waits on the timer, the wake channel
// and stop; all work it does is non-blocking.
func (s *Scheduler) run() {
	defer close(s.loopDone)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	s.logger.Info("Scheduler loop started")
	for {
		wait := s.dispatchDue(s.now())
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// idleWait is how long the loop sleeps with an empty job table.
const idleWait = time.Minute

// dispatchDue fires every job due at now and returns the time until the
// next fire. Each due job is advanced on its fixed-rate grid before its
// execution is handed off, so slow checks never delay the schedule.
func (s *Scheduler) dispatchDue(now time.Time) time.Duration {
	var due []*Execution

	s.mu.Lock()
	for len(s.queue) > 0 && !s.queue[0].next.After(now) {
		j := s.queue[0]
		fire, missed := j.advance(now)
		heap.Fix(&s.queue, 0)

		log := s.logger.WithMonitor(j.monitor.ID, j.monitor.Name, string(j.monitor.Kind))
		if missed > 0 {
			j.missed += uint64(missed)
			atomic.AddInt64(&s.missedTicks, int64(missed))
			s.metrics.RecordMissedTicks(missed)
			log.WithFields(map[string]interface{}{"missed": missed}).Debug("Dropped missed ticks")
		}

		if _, busy := s.inFlight[j.monitor.ID]; busy {
			atomic.AddInt64(&s.overlapSkipped, 1)
			s.metrics.RecordOverlapSkipped()
			log.WithEvent(logging.EventJobSkipped).
				WithFields(map[string]interface{}{"scheduled_at": fire}).
				Warn("Previous check still running, skipping tick")
			continue
		}

		s.inFlight[j.monitor.ID] = struct{}{}
		j.state = JobRunning
		j.fires++
		j.lastFire = fire
		due = append(due, &Execution{
			Monitor:     cloneMonitor(j.monitor),
			ScheduledAt: fire,
			Trigger:     TriggerSchedule,
		})
	}

	wait := idleWait
	if len(s.queue) > 0 {
		wait = s.queue[0].next.Sub(now)
	}
	s.metrics.SetInFlight(len(s.inFlight))
	s.mu.Unlock()

	for _, exec := range due {
		if s.submit(exec) {
			continue
		}
		atomic.AddInt64(&s.queueFull, 1)
		s.metrics.RecordQueueFull()
		s.logger.WithMonitor(exec.Monitor.ID, exec.Monitor.Name, string(exec.Monitor.Kind)).
			WithEvent(logging.EventJobSkipped).
			Warn("Worker pool full, skipping monitor check")
		s.finish(exec.Monitor.ID)
	}
	return wait
}

// finish clears the in-flight mark of a monitor.
func (s *Scheduler) finish(monitorID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, monitorID)
	if j, ok := s.jobs[monitorID]; ok && j.state == JobRunning {
		j.state = JobScheduled
	}
	s.metrics.SetInFlight(len(s.inFlight))
}

// runScheduled is the worker pool's ExecFunc. Executions still queued when
// their job is removed never start a check.
func (s *Scheduler) runScheduled(ctx context.Context, exec *Execution) {
	defer s.finish(exec.Monitor.ID)
	if !s.HasJob(exec.Monitor.ID) {
		m := exec.Monitor
		s.logger.WithMonitor(m.ID, m.Name, string(m.Kind)).
			WithEvent(logging.EventJobSkipped).
			Debug("Monitor removed before its check started, skipping")
		return
	}
	s.execute(ctx, exec)
}

// TriggerNow runs one check of a monitor immediately in the caller's
// goroutine, outside the schedule. It returns ErrCheckInFlight while another
// check of the same monitor runs. Monitors without a job (for example
// disabled ones) are loaded from persistence.
func (s *Scheduler) TriggerNow(ctx context.Context, monitorID int64) (*models.CheckResult, error) {
	s.mu.Lock()
	if _, busy := s.inFlight[monitorID]; busy {
		s.mu.Unlock()
		return nil, ErrCheckInFlight
	}
	var snapshot *models.Monitor
	if j, ok := s.jobs[monitorID]; ok {
		snapshot = cloneMonitor(j.monitor)
	}
	s.inFlight[monitorID] = struct{}{}
	s.mu.Unlock()
	defer s.finish(monitorID)

	if snapshot == nil {
		m, err := s.store.GetMonitor(ctx, monitorID)
		if err != nil {
			return nil, err
		}
		snapshot = m
	}

	return s.execute(ctx, &Execution{
		Monitor:     snapshot,
		ScheduledAt: s.now(),
		Trigger:     TriggerManual,
	}), nil
}

// execute probes, records the result and notifies on an up-to-down edge.
func (s *Scheduler) execute(ctx context.Context, exec *Execution) *models.CheckResult {
	m := exec.Monitor
	log := s.logger.WithMonitor(m.ID, m.Name, string(m.Kind))

	start := time.Now()
	out := s.probe(ctx, m, log)
	duration := time.Since(start)

	result := &models.CheckResult{
		ID:        uuid.NewString(),
		MonitorID: m.ID,
		Timestamp: time.Now().UTC(),
		Status:    out.Status,
		LatencyMS: out.LatencyMS,
		Details:   out.Details,
	}

	prior := s.results.LastStatus(m.ID)
	if err := s.results.Append(ctx, result); err != nil {
		log.WithError(err).Error("Failed to persist check result")
	}

	s.metrics.RecordCheck(string(m.Kind), string(result.Status), duration)
	s.metrics.SetMonitorStatus(m.ID, string(m.Kind), result.IsUp())
	if prior != models.StatusUnknown && prior != result.Status {
		s.metrics.RecordTransition(string(result.Status))
	}

	if s.shouldNotify(prior, result.Status) {
		if exec.Trigger == TriggerSchedule && !s.HasJob(m.ID) {
			log.Info("Monitor removed while its check was running, alert suppressed")
		} else {
			s.notifyAsync(m, result)
		}
	}

	log.MonitorCheck(m.ID, m.Name, string(m.Kind), string(result.Status), exec.Trigger, duration, result.Details)
	return result
}

// probe runs the prober under the probe timeout and turns panics and
// configuration errors into down outcomes.
func (s *Scheduler) probe(ctx context.Context, m *models.Monitor, log *logging.Logger) (out probe.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordPanic()
			log.WithEvent(logging.EventCheckFailed).
				WithFields(map[string]interface{}{"panic": r}).
				Error("Probe panic recovered")
			out = probe.Outcome{
				Status:  models.StatusDown,
				Details: fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ProbeTimeout)
	defer cancel()

	out, err := s.prober.Probe(ctx, probe.RequestFor(m, s.opts.ProbeTimeout))
	if err != nil {
		log.WithEvent(logging.EventCheckFailed).
			WithError(err).
			Error("Monitor configuration error")
		if out.Details == "" {
			out.Details = err.Error()
		}
		out.Status = models.StatusDown
	}
	if out.Status != models.StatusUp {
		out.Status = models.StatusDown
	}
	return out
}

// shouldNotify reports whether a result is an up-to-down edge. A first
// down with no prior status counts when NotifyOnFirstDown is set.
func (s *Scheduler) shouldNotify(prior, current models.Status) bool {
	if current != models.StatusDown {
		return false
	}
	switch prior {
	case models.StatusUp:
		return true
	case models.StatusUnknown:
		return s.opts.NotifyOnFirstDown
	default:
		return false
	}
}

// notifyAsync delivers the alert on its own goroutine so the worker is free
// immediately. Stop waits for it within the grace period.
func (s *Scheduler) notifyAsync(m *models.Monitor, result *models.CheckResult) {
	if s.notifier == nil {
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.logger.WithMonitor(m.ID, m.Name, string(m.Kind)).Warn("Scheduler stopping, alert dropped")
		return
	}
	s.notifyWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(s.notifyCtx, s.opts.NotifyTimeout)
		defer cancel()

		outcomes := s.notifier.Notify(ctx, m, result)
		failed := 0
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
			}
		}
		s.logger.WithMonitor(m.ID, m.Name, string(m.Kind)).
			WithFields(map[string]interface{}{
				"channels": len(outcomes),
				"failed":   failed,
			}).
			Info("Down alert dispatched")
	}()
}

func cloneMonitor(m *models.Monitor) *models.Monitor {
	c := *m
	if m.Port != nil {
		port := *m.Port
		c.Port = &port
	}
	if m.LastCheckedAt != nil {
		at := *m.LastCheckedAt
		c.LastCheckedAt = &at
	}
	return &c
}
