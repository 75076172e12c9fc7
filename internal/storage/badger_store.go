package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/pkg/models"
)

// BadgerStore persists monitors and results in an embedded BadgerDB
type BadgerStore struct {
	db        *badger.DB
	seq       *badger.Sequence
	logger    *logging.Logger
	retention time.Duration

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

const (
	monitorKeyPrefix  = "monitor:"
	resultKeyPrefix   = "result:"
	monitorSeqKey     = "seq:monitor"
	idKeyWidth        = 20
	timestampKeyWidth = 20
	seqBandwidth      = 100
)

// BadgerOptions configures NewBadgerStore
type BadgerOptions struct {
	Path string
	// Retention is the TTL given to every result. Zero keeps results forever.
	Retention  time.Duration
	GCInterval time.Duration
	// InMemory runs badger without touching disk. Path is ignored.
	InMemory bool
}

func monitorKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", monitorKeyPrefix, idKeyWidth, id))
}

func resultPrefix(monitorID int64) string {
	return fmt.Sprintf("%s%0*d:", resultKeyPrefix, idKeyWidth, monitorID)
}

func formatTimestampKey(ts int64) string {
	return fmt.Sprintf("%0*d", timestampKeyWidth, ts)
}

func resultKey(r *models.CheckResult) []byte {
	return []byte(resultPrefix(r.MonitorID) + formatTimestampKey(r.Timestamp.UnixNano()) + ":" + r.ID)
}

// timestampFromKey extracts the unix-nano component of a result key.
func timestampFromKey(key []byte, prefix string) (int64, bool) {
	rest := strings.TrimPrefix(string(key), prefix)
	if len(rest) < timestampKeyWidth {
		return 0, false
	}
	ts, err := strconv.ParseInt(rest[:timestampKeyWidth], 10, 64)
	return ts, err == nil
}

// NewBadgerStore opens (or creates) a Badger database
func NewBadgerStore(opts BadgerOptions, logger *logging.Logger) (*BadgerStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = 5 * time.Minute
	}

	log := logger.WithComponent(logging.ComponentStorage)
	bopts := badger.DefaultOptions(opts.Path).WithLogger(&badgerLogger{logger: log})
	if opts.InMemory {
		bopts = bopts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	seq, err := db.GetSequence([]byte(monitorSeqKey), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open monitor id sequence: %w", err)
	}

	store := &BadgerStore{
		db:        db,
		seq:       seq,
		logger:    log,
		retention: opts.Retention,
		stopGC:    make(chan struct{}),
		gcDone:    make(chan struct{}),
	}

	go store.runGC(opts.GCInterval)

	log.WithFields(map[string]interface{}{
		"path":      opts.Path,
		"in_memory": opts.InMemory,
		"retention": opts.Retention.String(),
	}).Info("BadgerDB storage initialized")

	return store, nil
}

func (bs *BadgerStore) Name() string { return "badger" }

func (bs *BadgerStore) CreateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	next, err := bs.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to allocate monitor id: %w", err)
	}

	now := time.Now().UTC()
	m.ID = int64(next) + 1
	m.CreatedAt = now
	m.UpdatedAt = now

	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal monitor: %w", err)
	}
	if err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(monitorKey(m.ID), value)
	}); err != nil {
		return fmt.Errorf("failed to store monitor: %w", err)
	}
	return nil
}

func (bs *BadgerStore) UpdateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return bs.modifyMonitor(m.ID, func(existing *models.Monitor) {
		createdAt, lastStatus, lastChecked := existing.CreatedAt, existing.LastStatus, existing.LastCheckedAt
		*existing = *cloneMonitor(m)
		existing.CreatedAt = createdAt
		existing.LastStatus = lastStatus
		existing.LastCheckedAt = lastChecked
		existing.UpdatedAt = time.Now().UTC()

		m.CreatedAt = existing.CreatedAt
		m.UpdatedAt = existing.UpdatedAt
	})
}

func (bs *BadgerStore) UpdateMonitorStatus(ctx context.Context, id int64, up bool, at time.Time) error {
	checked := at.UTC()
	return bs.modifyMonitor(id, func(existing *models.Monitor) {
		existing.LastStatus = up
		existing.LastCheckedAt = &checked
	})
}

// modifyMonitor runs a read-modify-write of one monitor record in a single
// transaction. Conflicting writers get badger.ErrConflict.
func (bs *BadgerStore) modifyMonitor(id int64, mutate func(*models.Monitor)) error {
	err := bs.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(monitorKey(id))
		if err != nil {
			return err
		}
		var m models.Monitor
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		}); err != nil {
			return err
		}

		mutate(&m)

		value, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return txn.Set(monitorKey(id), value)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrMonitorNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update monitor %d: %w", id, err)
	}
	return nil
}

func (bs *BadgerStore) DeleteMonitor(ctx context.Context, id int64) error {
	err := bs.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(monitorKey(id)); err != nil {
			return err
		}
		return txn.Delete(monitorKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrMonitorNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete monitor %d: %w", id, err)
	}

	if err := bs.db.DropPrefix([]byte(resultPrefix(id))); err != nil {
		bs.logger.WithError(err).
			WithFields(map[string]interface{}{"monitor_id": id}).
			Warn("Failed to drop results of deleted monitor")
	}
	return nil
}

func (bs *BadgerStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	var m models.Monitor
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(monitorKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMonitorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor %d: %w", id, err)
	}
	return &m, nil
}

func (bs *BadgerStore) ListMonitors(ctx context.Context, ownerID int64) ([]*models.Monitor, error) {
	return bs.scanMonitors(func(m *models.Monitor) bool {
		return ownerID == 0 || m.OwnerID == ownerID
	})
}

func (bs *BadgerStore) LoadEnabledMonitors(ctx context.Context) ([]*models.Monitor, error) {
	return bs.scanMonitors(func(m *models.Monitor) bool { return m.Enabled })
}

// scanMonitors walks the monitor keyspace in key order, which is id order
// because ids are zero padded.
func (bs *BadgerStore) scanMonitors(keep func(*models.Monitor) bool) ([]*models.Monitor, error) {
	var monitors []*models.Monitor
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(monitorKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var m models.Monitor
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				bs.logger.WithError(err).Warn("Failed to unmarshal monitor")
				continue
			}
			if keep(&m) {
				monitors = append(monitors, &m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list monitors: %w", err)
	}
	return monitors, nil
}

func (bs *BadgerStore) SaveResult(ctx context.Context, result *models.CheckResult) error {
	if err := validateResult(result); err != nil {
		return err
	}
	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	err = bs.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(resultKey(result), value)
		if bs.retention > 0 {
			entry = entry.WithTTL(bs.retention)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

func (bs *BadgerStore) History(ctx context.Context, monitorID int64, from, to time.Time) ([]*models.CheckResult, error) {
	prefix := resultPrefix(monitorID)
	endTS := to.UnixNano()

	var results []*models.CheckResult
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefix + formatTimestampKey(from.UnixNano()))); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			ts, ok := timestampFromKey(item.Key(), prefix)
			if !ok {
				continue
			}
			if ts > endTS {
				break
			}

			var r models.CheckResult
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				bs.logger.WithError(err).Warn("Failed to unmarshal result")
				continue
			}
			results = append(results, &r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	return results, nil
}

// Close stops the GC loop, releases the id sequence and closes the database.
func (bs *BadgerStore) Close() error {
	var err error
	bs.closeOnce.Do(func() {
		close(bs.stopGC)
		<-bs.gcDone

		if releaseErr := bs.seq.Release(); releaseErr != nil {
			bs.logger.WithError(releaseErr).Warn("Failed to release monitor id sequence")
		}
		bs.logger.Info("Closing BadgerDB")
		err = bs.db.Close()
	})
	return err
}

// runGC runs value log garbage collection periodically
func (bs *BadgerStore) runGC(interval time.Duration) {
	defer close(bs.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-bs.stopGC:
			return
		case <-ticker.C:
			err := bs.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				bs.logger.WithError(err).Debug("Garbage collection completed with notice")
			}
		}
	}
}

// badgerLogger adapts our logger to BadgerDB's logger interface
type badgerLogger struct {
	logger *logging.Logger
}

func (bl *badgerLogger) Errorf(format string, args ...interface{}) {
	bl.logger.Errorf(strings.TrimSpace(format), args...)
}

func (bl *badgerLogger) Warningf(format string, args ...interface{}) {
	bl.logger.Warnf(strings.TrimSpace(format), args...)
}

func (bl *badgerLogger) Infof(format string, args ...interface{}) {
	bl.logger.Debugf(strings.TrimSpace(format), args...)
}

func (bl *badgerLogger) Debugf(format string, args ...interface{}) {
	bl.logger.Debugf(strings.TrimSpace(format), args...)
}
