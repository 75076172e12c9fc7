// Package monitors is the CRUD layer for monitors. Every change is written to
// storage and mirrored into the scheduler's job table.
package monitors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/internal/scheduler"
	"github.com/1broseidon/beacon/internal/storage"
	"github.com/1broseidon/beacon/pkg/models"
)

// Scheduler is the part of the scheduler the manager drives
type Scheduler interface {
	Add(m *models.Monitor) error
	Remove(monitorID int64) (scheduler.RemoveOutcome, error)
	Update(m *models.Monitor) (scheduler.UpdateOutcome, error)
	Forget(m *models.Monitor)
}

// DeleteOutcome reports what happened to the job of a deleted monitor.
// CancelErr is set when cancelling the job failed; the row is deleted anyway.
type DeleteOutcome struct {
	Job       scheduler.RemoveOutcome
	CancelErr error
}

// Manager manages monitors
type Manager struct {
	store       storage.Store
	sched       Scheduler
	logger      *logging.Logger
	minInterval time.Duration

	// mu serialises writes so a job always matches its row.
	mu sync.Mutex
}

// NewManager creates a monitor manager. minInterval is the shortest interval
// the scheduler accepts.
func NewManager(store storage.Store, sched Scheduler, logger *logging.Logger, minInterval time.Duration) *Manager {
	return &Manager{
		store:       store,
		sched:       sched,
		logger:      logger.WithComponent(logging.ComponentMonitors),
		minInterval: minInterval,
	}
}

func (m *Manager) validate(mon *models.Monitor) error {
	if err := mon.Validate(); err != nil {
		return err
	}
	if mon.Interval() < m.minInterval {
		return &models.ValidationError{
			Field:  "intervalSeconds",
			Reason: fmt.Sprintf("must be at least %s", m.minInterval),
		}
	}
	return nil
}

// Create stores a new monitor and schedules it when enabled. New monitors
// start as up.
func (m *Manager) Create(ctx context.Context, mon *models.Monitor) (*models.Monitor, error) {
	if err := m.validate(mon); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mon.LastStatus = true
	mon.LastCheckedAt = nil
	if err := m.store.CreateMonitor(ctx, mon); err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	if err := m.onMonitorCreated(mon); err != nil {
		if derr := m.store.DeleteMonitor(ctx, mon.ID); derr != nil {
			m.logger.WithMonitor(mon.ID, mon.Name, string(mon.Kind)).
				WithError(derr).
				Error("Failed to roll back monitor after scheduling error")
		}
		return nil, err
	}

	m.logger.WithMonitor(mon.ID, mon.Name, string(mon.Kind)).
		WithFields(map[string]interface{}{"enabled": mon.Enabled}).
		Info("Monitor created")
	return mon, nil
}

func (m *Manager) onMonitorCreated(mon *models.Monitor) error {
	return m.sched.Add(mon)
}

// Update replaces a monitor's configuration and reschedules it. Status
// fields are kept from storage.
func (m *Manager) Update(ctx context.Context, mon *models.Monitor) (*models.Monitor, scheduler.UpdateOutcome, error) {
	if err := m.validate(mon); err != nil {
		return nil, scheduler.UpdateNoop, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.UpdateMonitor(ctx, mon); err != nil {
		return nil, scheduler.UpdateNoop, err
	}
	updated, err := m.store.GetMonitor(ctx, mon.ID)
	if err != nil {
		return nil, scheduler.UpdateNoop, err
	}

	outcome, err := m.onMonitorUpdated(updated)
	log := m.logger.WithMonitor(updated.ID, updated.Name, string(updated.Kind))
	if err != nil {
		log.WithError(err).Error("Monitor updated but job update failed")
		return updated, outcome, err
	}

	log.WithFields(map[string]interface{}{"job": outcome.String()}).Info("Monitor updated")
	return updated, outcome, nil
}

func (m *Manager) onMonitorUpdated(mon *models.Monitor) (scheduler.UpdateOutcome, error) {
	return m.sched.Update(mon)
}

// Delete cancels the monitor's job and deletes it with its history. The job
// is restored when the row cannot be deleted.
func (m *Manager) Delete(ctx context.Context, id int64) (DeleteOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.GetMonitor(ctx, id)
	if err != nil {
		return DeleteOutcome{}, err
	}
	log := m.logger.WithMonitor(existing.ID, existing.Name, string(existing.Kind))

	outcome := m.onMonitorDeleted(id)
	if outcome.CancelErr != nil {
		log.WithError(outcome.CancelErr).Warn("Job cancellation failed, deleting monitor anyway")
	}

	if err := m.store.DeleteMonitor(ctx, id); err != nil {
		if outcome.Job == scheduler.RemoveCancelled {
			if rerr := m.sched.Add(existing); rerr != nil {
				log.WithError(rerr).Error("Failed to restore job after delete failure")
			}
		}
		return outcome, fmt.Errorf("failed to delete monitor: %w", err)
	}

	m.sched.Forget(existing)
	log.WithFields(map[string]interface{}{"job": outcome.Job.String()}).Info("Monitor deleted")
	return outcome, nil
}

func (m *Manager) onMonitorDeleted(id int64) DeleteOutcome {
	job, err := m.sched.Remove(id)
	return DeleteOutcome{Job: job, CancelErr: err}
}

// Get returns one monitor
func (m *Manager) Get(ctx context.Context, id int64) (*models.Monitor, error) {
	return m.store.GetMonitor(ctx, id)
}

// List returns the monitors of an owner, or every monitor for owner 0.
func (m *Manager) List(ctx context.Context, ownerID int64) ([]*models.Monitor, error) {
	return m.store.ListMonitors(ctx, ownerID)
}

// History returns results of a monitor in [from, to], oldest first.
func (m *Manager) History(ctx context.Context, id int64, from, to time.Time) ([]*models.CheckResult, error) {
	if _, err := m.store.GetMonitor(ctx, id); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, &models.ValidationError{Field: "to", Reason: "must not be before from"}
	}
	return m.store.History(ctx, id, from, to)
}

// Seed creates the configured monitors that do not exist yet, matched by
// owner and case-insensitive name. Invalid entries are logged and skipped.
func (m *Manager) Seed(ctx context.Context, seeds []models.Monitor) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}

	existing, err := m.store.ListMonitors(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list monitors: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, mon := range existing {
		known[seedKey(mon)] = true
	}

	created := 0
	var errs []error
	for i := range seeds {
		mon := seeds[i]
		mon.ID = 0
		if known[seedKey(&mon)] {
			continue
		}
		if _, err := m.Create(ctx, &mon); err != nil {
			m.logger.WithFields(map[string]interface{}{"monitor": mon.Name}).
				WithError(err).
				Error("Failed to seed monitor")
			if !errors.Is(err, models.ErrInvalidMonitor) {
				errs = append(errs, err)
			}
			continue
		}
		known[seedKey(&mon)] = true
		created++
	}

	if created > 0 {
		m.logger.WithFields(map[string]interface{}{"created": created}).Info("Seeded monitors from configuration")
	}
	return created, errors.Join(errs...)
}

func seedKey(mon *models.Monitor) string {
	return fmt.Sprintf("%d/%s", mon.OwnerID, strings.ToLower(strings.TrimSpace(mon.Name)))
}
