package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/metrics"
	"github.com/1broseidon/beacon/internal/retry"
	"github.com/1broseidon/beacon/internal/storage"
	"github.com/1broseidon/beacon/pkg/models"
)

// Persistence operations, used as metric labels
const (
	opSaveResult   = "save_result"
	opUpdateStatus = "update_status"
)

// ResultStore appends check results to persistence and tracks the last
// known status of every monitor. It also keeps a small circular buffer of
// recent results per monitor. Safe for concurrent use.
type ResultStore struct {
	persist    storage.Persistence
	policy     retry.Policy
	logger     *logging.Logger
	metrics    *metrics.Metrics
	maxResults int

	mu     sync.RWMutex
	last   map[int64]models.Status
	recent map[int64]*recentResults
}

// recentResults holds results for a specific monitor
type recentResults struct {
	results []*models.CheckResult
	index   int // next write index
	count   int // stored results, up to maxResults
}

// NewResultStore creates a result store writing through persist
func NewResultStore(persist storage.Persistence, policy retry.Policy, maxResults int, logger *logging.Logger, m *metrics.Metrics) *ResultStore {
	if maxResults <= 0 {
		maxResults = 100
	}
	if policy.Retryable == nil {
		policy.Retryable = storage.IsRetryable
	}

	return &ResultStore{
		persist:    persist,
		policy:     policy,
		logger:     logger.WithComponent(logging.ComponentStorage),
		metrics:    m,
		maxResults: maxResults,
		last:       make(map[int64]models.Status),
		recent:     make(map[int64]*recentResults),
	}
}

// Append records result as the monitor's latest status and persists it. It
// returns once the result is durable, or with a *storage.PersistenceError
// after the retries are exhausted. The in-memory status is updated either
// way.
func (rs *ResultStore) Append(ctx context.Context, result *models.CheckResult) error {
	rs.remember(result)

	err := rs.withRetry(ctx, opSaveResult, func(ctx context.Context) error {
		return rs.persist.SaveResult(ctx, result)
	})
	if err == nil {
		err = rs.withRetry(ctx, opUpdateStatus, func(ctx context.Context) error {
			return rs.persist.UpdateMonitorStatus(ctx, result.MonitorID, result.IsUp(), result.Timestamp)
		})
	}
	if errors.Is(err, storage.ErrMonitorNotFound) {
		// Deleted while the check was running; drop what remember wrote back.
		rs.Forget(result.MonitorID)
		return nil
	}
	return err
}

func (rs *ResultStore) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := rs.policy
	policy.OnRetry = func(n int, err error) {
		rs.metrics.RecordRetry(op)
		rs.logger.WithError(err).
			WithFields(map[string]interface{}{"op": op, "retry": n}).
			Debug("Retrying persistence operation")
	}

	err := policy.Do(ctx, fn)
	if err == nil || errors.Is(err, storage.ErrMonitorNotFound) {
		return err
	}

	rs.metrics.RecordDropped(op)
	rs.logger.WithEvent(logging.EventResultDropped).
		WithError(err).
		WithFields(map[string]interface{}{"op": op}).
		Error("Persistence failed after retries")
	return &storage.PersistenceError{Op: op, Err: err}
}

func (rs *ResultStore) remember(result *models.CheckResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.last[result.MonitorID] = result.Status

	rr, ok := rs.recent[result.MonitorID]
	if !ok {
		rr = &recentResults{results: make([]*models.CheckResult, rs.maxResults)}
		rs.recent[result.MonitorID] = rr
	}
	rr.results[rr.index] = result
	rr.index = (rr.index + 1) % rs.maxResults
	if rr.count < rs.maxResults {
		rr.count++
	}
}

// LastStatus returns the status of the most recent result, or StatusUnknown
// before any result was appended or primed.
func (rs *ResultStore) LastStatus(monitorID int64) models.Status {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if status, ok := rs.last[monitorID]; ok {
		return status
	}
	return models.StatusUnknown
}

// Prime seeds the last status from persisted state. It never overrides a
// status recorded by Append.
func (rs *ResultStore) Prime(monitorID int64, status models.Status) {
	if status == models.StatusUnknown {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, ok := rs.last[monitorID]; !ok {
		rs.last[monitorID] = status
	}
}

// Recent returns up to limit results, newest first. A limit <= 0 returns
// everything buffered.
func (rs *ResultStore) Recent(monitorID int64, limit int) []*models.CheckResult {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rr, ok := rs.recent[monitorID]
	if !ok || rr.count == 0 {
		return []*models.CheckResult{}
	}

	count := rr.count
	if limit > 0 && limit < count {
		count = limit
	}

	results := make([]*models.CheckResult, 0, count)
	for i := 0; i < count; i++ {
		idx := (rr.index - 1 - i + rs.maxResults) % rs.maxResults
		if rr.results[idx] != nil {
			results = append(results, rr.results[idx])
		}
	}
	return results
}

// Uptime returns the percentage of up results among buffered results newer
// than window, and how many results it was computed from.
func (rs *ResultStore) Uptime(monitorID int64, window time.Duration) (float64, int) {
	cutoff := time.Now().Add(-window)

	var total, up int
	for _, r := range rs.Recent(monitorID, -1) {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		total++
		if r.IsUp() {
			up++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(up) / float64(total) * 100.0, total
}

// Forget drops all in-memory state of a monitor
func (rs *ResultStore) Forget(monitorID int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	delete(rs.last, monitorID)
	delete(rs.recent, monitorID)
}

// Stats returns statistics about buffered results
func (rs *ResultStore) Stats() ResultStoreStats {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	stats := ResultStoreStats{
		Monitors:   len(rs.recent),
		MaxResults: rs.maxResults,
	}
	for _, rr := range rs.recent {
		stats.TotalResults += rr.count
	}
	return stats
}

// ResultStoreStats represents statistics about the result store
type ResultStoreStats struct {
	Monitors     int `json:"monitors"`
	MaxResults   int `json:"max_results"`
	TotalResults int `json:"total_results"`
}
