package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/1broseidon/beacon/pkg/models"
)

// MemoryStore keeps monitors and results in process memory. Nothing survives
// a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	monitors map[int64]*models.Monitor
	results  map[int64][]*models.CheckResult
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		monitors: make(map[int64]*models.Monitor),
		results:  make(map[int64][]*models.CheckResult),
		now:      time.Now,
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) CreateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now().UTC()
	m.ID = s.nextID
	m.CreatedAt = now
	m.UpdatedAt = now
	s.monitors[m.ID] = cloneMonitor(m)
	return nil
}

func (s *MemoryStore) UpdateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.monitors[m.ID]
	if !ok {
		return ErrMonitorNotFound
	}
	updated := cloneMonitor(m)
	updated.LastStatus = existing.LastStatus
	updated.LastCheckedAt = existing.LastCheckedAt
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = s.now().UTC()
	s.monitors[m.ID] = updated

	m.UpdatedAt = updated.UpdatedAt
	m.CreatedAt = updated.CreatedAt
	return nil
}

func (s *MemoryStore) DeleteMonitor(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.monitors[id]; !ok {
		return ErrMonitorNotFound
	}
	delete(s.monitors, id)
	delete(s.results, id)
	return nil
}

func (s *MemoryStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.monitors[id]
	if !ok {
		return nil, ErrMonitorNotFound
	}
	return cloneMonitor(m), nil
}

func (s *MemoryStore) ListMonitors(ctx context.Context, ownerID int64) ([]*models.Monitor, error) {
	return s.filter(func(m *models.Monitor) bool {
		return ownerID == 0 || m.OwnerID == ownerID
	}), nil
}

func (s *MemoryStore) LoadEnabledMonitors(ctx context.Context) ([]*models.Monitor, error) {
	return s.filter(func(m *models.Monitor) bool { return m.Enabled }), nil
}

func (s *MemoryStore) filter(keep func(*models.Monitor) bool) []*models.Monitor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		if keep(m) {
			out = append(out, cloneMonitor(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) SaveResult(ctx context.Context, result *models.CheckResult) error {
	if err := validateResult(result); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Results may outlive their monitor when a probe finishes after delete.
	list := s.results[result.MonitorID]
	idx := sort.Search(len(list), func(i int) bool {
		return list[i].Timestamp.After(result.Timestamp)
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = cloneResult(result)
	s.results[result.MonitorID] = list
	return nil
}

func (s *MemoryStore) UpdateMonitorStatus(ctx context.Context, id int64, up bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.monitors[id]
	if !ok {
		return ErrMonitorNotFound
	}
	checked := at.UTC()
	m.LastStatus = up
	m.LastCheckedAt = &checked
	return nil
}

func (s *MemoryStore) History(ctx context.Context, monitorID int64, from, to time.Time) ([]*models.CheckResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CheckResult
	for _, r := range s.results[monitorID] {
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		out = append(out, cloneResult(r))
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
