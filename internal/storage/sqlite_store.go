package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/pkg/models"
)

// SQLiteStore persists monitors and results in a SQLite file. Timestamps are
// stored as unix nanoseconds.
type SQLiteStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteStore opens the database at path and applies pending migrations.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string, logger *logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	log := logger.WithComponent(logging.ComponentStorage)

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if err := migrate(ctx, db, goose.DialectSQLite3, "migrations/sqlite", log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.WithFields(map[string]interface{}{"path": path}).Info("SQLite storage initialized")
	return &SQLiteStore{db: db, logger: log}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func nullablePort(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullableLatency(ms *float64) sql.NullFloat64 {
	if ms == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *ms, Valid: true}
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func (s *SQLiteStore) CreateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO monitors (owner_id, name, kind, target, port, keyword, contact_email,
			interval_seconds, enabled, last_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.OwnerID, m.Name, string(m.Kind), m.Target, nullablePort(m.Port), m.Keyword, m.ContactEmail,
		m.IntervalSeconds, m.Enabled, m.LastStatus, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert monitor: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read monitor id: %w", err)
	}
	m.ID = id
	m.CreatedAt = now
	m.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) UpdateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE monitors
		SET owner_id = ?, name = ?, kind = ?, target = ?, port = ?, keyword = ?,
			contact_email = ?, interval_seconds = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		m.OwnerID, m.Name, string(m.Kind), m.Target, nullablePort(m.Port), m.Keyword,
		m.ContactEmail, m.IntervalSeconds, m.Enabled, now.UnixNano(), m.ID)
	if err != nil {
		return fmt.Errorf("failed to update monitor %d: %w", m.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMonitorNotFound
	}

	var created int64
	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM monitors WHERE id = ?`, m.ID).Scan(&created); err == nil {
		m.CreatedAt = fromNanos(created)
	}
	m.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) UpdateMonitorStatus(ctx context.Context, id int64, up bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE monitors SET last_status = ?, last_checked_at = ? WHERE id = ?`,
		up, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to update monitor status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMonitorNotFound
	}
	return nil
}

// DeleteMonitor removes the monitor and its history in one transaction.
func (s *SQLiteStore) DeleteMonitor(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM monitors WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete monitor %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMonitorNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM check_results WHERE monitor_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete results of monitor %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteMonitor(row rowScanner) (*models.Monitor, error) {
	var (
		m                models.Monitor
		kind             string
		port             sql.NullInt64
		lastChecked      sql.NullInt64
		created, updated int64
	)
	err := row.Scan(&m.ID, &m.OwnerID, &m.Name, &kind, &m.Target, &port, &m.Keyword,
		&m.ContactEmail, &m.IntervalSeconds, &m.Enabled, &m.LastStatus, &lastChecked,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	m.Kind = models.MonitorKind(kind)
	if port.Valid {
		p := int(port.Int64)
		m.Port = &p
	}
	if lastChecked.Valid {
		at := fromNanos(lastChecked.Int64)
		m.LastCheckedAt = &at
	}
	m.CreatedAt = fromNanos(created)
	m.UpdatedAt = fromNanos(updated)
	return &m, nil
}

func (s *SQLiteStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id = ?`, id)
	m, err := scanSQLiteMonitor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMonitorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor %d: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMonitors(ctx context.Context, ownerID int64) ([]*models.Monitor, error) {
	if ownerID == 0 {
		return s.queryMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors ORDER BY id`)
	}
	return s.queryMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE owner_id = ? ORDER BY id`, ownerID)
}

func (s *SQLiteStore) LoadEnabledMonitors(ctx context.Context) ([]*models.Monitor, error) {
	return s.queryMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE enabled = 1 ORDER BY id`)
}

func (s *SQLiteStore) queryMonitors(ctx context.Context, query string, args ...interface{}) ([]*models.Monitor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	defer rows.Close()

	var monitors []*models.Monitor
	for rows.Next() {
		m, err := scanSQLiteMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating monitors: %w", err)
	}
	return monitors, nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, result *models.CheckResult) error {
	if err := validateResult(result); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_results (id, monitor_id, checked_at, status, latency_ms, details)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		result.ID, result.MonitorID, result.Timestamp.UnixNano(), string(result.Status),
		nullableLatency(result.LatencyMS), result.Details)
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, monitorID int64, from, to time.Time) ([]*models.CheckResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, monitor_id, checked_at, status, latency_ms, details
		FROM check_results
		WHERE monitor_id = ? AND checked_at >= ? AND checked_at <= ?
		ORDER BY checked_at ASC, id ASC`,
		monitorID, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*models.CheckResult
	for rows.Next() {
		var (
			r       models.CheckResult
			ts      int64
			status  string
			latency sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &r.MonitorID, &ts, &status, &latency, &r.Details); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Timestamp = fromNanos(ts)
		r.Status = models.Status(status)
		if latency.Valid {
			ms := latency.Float64
			r.LatencyMS = &ms
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }
