package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1broseidon/beacon/pkg/models"
)

// ErrMonitorNotFound is returned when a monitor id does not exist
var ErrMonitorNotFound = errors.New("monitor not found")

// Persistence is the subset of storage the scheduler depends on
type Persistence interface {
	// LoadEnabledMonitors returns every enabled monitor, ordered by id.
	LoadEnabledMonitors(ctx context.Context) ([]*models.Monitor, error)
	GetMonitor(ctx context.Context, id int64) (*models.Monitor, error)
	SaveResult(ctx context.Context, result *models.CheckResult) error
	UpdateMonitorStatus(ctx context.Context, id int64, up bool, at time.Time) error
}

// Store is implemented by every storage backend
type Store interface {
	Persistence

	// CreateMonitor assigns m.ID, CreatedAt and UpdatedAt.
	CreateMonitor(ctx context.Context, m *models.Monitor) error
	// UpdateMonitor replaces the user-editable fields of an existing monitor.
	// LastStatus and LastCheckedAt are left untouched.
	UpdateMonitor(ctx context.Context, m *models.Monitor) error
	DeleteMonitor(ctx context.Context, id int64) error
	// ListMonitors returns monitors ordered by id. ownerID 0 lists all.
	ListMonitors(ctx context.Context, ownerID int64) ([]*models.Monitor, error)
	// History returns results with from <= timestamp <= to, oldest first.
	History(ctx context.Context, monitorID int64, from, to time.Time) ([]*models.CheckResult, error)

	Name() string
	Close() error
}

// PersistenceError is returned once a write has exhausted its retries
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a storage error may succeed on another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrMonitorNotFound) &&
		!errors.Is(err, models.ErrInvalidMonitor) &&
		!errors.Is(err, context.Canceled)
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

func cloneResult(r *models.CheckResult) *models.CheckResult {
	c := *r
	if r.LatencyMS != nil {
		ms := *r.LatencyMS
		c.LatencyMS = &ms
	}
	return &c
}

func validateResult(r *models.CheckResult) error {
	if r == nil {
		return fmt.Errorf("result cannot be nil")
	}
	if r.MonitorID == 0 || r.ID == "" {
		return fmt.Errorf("result requires monitor id and result id")
	}
	return nil
}
