package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/1broseidon/beacon/internal/logging"
	"github.com/1broseidon/beacon/pkg/models"
)

// PostgresStore persists monitors and results in PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logging.Logger
}

// PostgresOptions configures NewPostgresStore
type PostgresOptions struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ConnectTimeout  time.Duration
}

const monitorColumns = `id, owner_id, name, kind, target, port, keyword, contact_email,
	interval_seconds, enabled, last_status, last_checked_at, created_at, updated_at`

// NewPostgresStore connects to PostgreSQL and applies pending migrations
func NewPostgresStore(ctx context.Context, opts PostgresOptions, logger *logging.Logger) (*PostgresStore, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	log := logger.WithComponent(logging.ComponentStorage)

	config, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		config.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		config.MaxConnLifetime = opts.MaxConnLifetime
	}
	config.MaxConnIdleTime = 30 * time.Minute

	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Closing the sql.DB view leaves the pool open.
	db := stdlib.OpenDBFromPool(pool)
	err = migrate(ctx, db, goose.DialectPostgres, "migrations/postgres", log)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.WithFields(map[string]interface{}{
		"max_conns": config.MaxConns,
		"min_conns": config.MinConns,
	}).Info("PostgreSQL storage initialized")

	return &PostgresStore{pool: pool, logger: log}, nil
}

func (ps *PostgresStore) Name() string { return "postgres" }

func (ps *PostgresStore) CreateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO monitors (owner_id, name, kind, target, port, keyword, contact_email,
			interval_seconds, enabled, last_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	err := ps.pool.QueryRow(ctx, query,
		m.OwnerID, m.Name, string(m.Kind), m.Target, m.Port, m.Keyword, m.ContactEmail,
		m.IntervalSeconds, m.Enabled, m.LastStatus,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert monitor: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return nil
}

func (ps *PostgresStore) UpdateMonitor(ctx context.Context, m *models.Monitor) error {
	if err := m.Validate(); err != nil {
		return err
	}
	query := `
		UPDATE monitors
		SET owner_id = $2, name = $3, kind = $4, target = $5, port = $6, keyword = $7,
			contact_email = $8, interval_seconds = $9, enabled = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`

	err := ps.pool.QueryRow(ctx, query,
		m.ID, m.OwnerID, m.Name, string(m.Kind), m.Target, m.Port, m.Keyword,
		m.ContactEmail, m.IntervalSeconds, m.Enabled,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrMonitorNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update monitor %d: %w", m.ID, err)
	}
	return nil
}

func (ps *PostgresStore) UpdateMonitorStatus(ctx context.Context, id int64, up bool, at time.Time) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE monitors SET last_status = $2, last_checked_at = $3 WHERE id = $1`,
		id, up, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to update monitor status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMonitorNotFound
	}
	return nil
}

// DeleteMonitor removes the monitor and its history in one transaction.
func (ps *PostgresStore) DeleteMonitor(ctx context.Context, id int64) error {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM monitors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete monitor %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMonitorNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM check_results WHERE monitor_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete results of monitor %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetMonitor(ctx context.Context, id int64) (*models.Monitor, error) {
	row := ps.pool.QueryRow(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE id = $1`, id)
	m, err := scanPgMonitor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMonitorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor %d: %w", id, err)
	}
	return m, nil
}

func (ps *PostgresStore) ListMonitors(ctx context.Context, ownerID int64) ([]*models.Monitor, error) {
	if ownerID == 0 {
		return ps.queryMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors ORDER BY id`)
	}
	return ps.queryMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE owner_id = $1 ORDER BY id`, ownerID)
}

func (ps *PostgresStore) LoadEnabledMonitors(ctx context.Context) ([]*models.Monitor, error) {
	return ps.queryMonitors(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE enabled ORDER BY id`)
}

func (ps *PostgresStore) queryMonitors(ctx context.Context, query string, args ...interface{}) ([]*models.Monitor, error) {
	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	defer rows.Close()

	var monitors []*models.Monitor
	for rows.Next() {
		m, err := scanPgMonitor(rows)
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

func scanPgMonitor(row pgx.Row) (*models.Monitor, error) {
	var (
		m    models.Monitor
		kind string
	)
	err := row.Scan(&m.ID, &m.OwnerID, &m.Name, &kind, &m.Target, &m.Port, &m.Keyword,
		&m.ContactEmail, &m.IntervalSeconds, &m.Enabled, &m.LastStatus, &m.LastCheckedAt,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Kind = models.MonitorKind(kind)
	if m.LastCheckedAt != nil {
		at := m.LastCheckedAt.UTC()
		m.LastCheckedAt = &at
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (ps *PostgresStore) SaveResult(ctx context.Context, result *models.CheckResult) error {
	if err := validateResult(result); err != nil {
		return err
	}
	query := `
		INSERT INTO check_results (id, monitor_id, checked_at, status, latency_ms, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := ps.pool.Exec(ctx, query,
		result.ID, result.MonitorID, result.Timestamp.UTC(), string(result.Status),
		result.LatencyMS, result.Details)
	if err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}
	return nil
}

func (ps *PostgresStore) History(ctx context.Context, monitorID int64, from, to time.Time) ([]*models.CheckResult, error) {
	query := `
		SELECT id, monitor_id, checked_at, status, latency_ms, details
		FROM check_results
		WHERE monitor_id = $1 AND checked_at >= $2 AND checked_at <= $3
		ORDER BY checked_at ASC, id ASC`

	rows, err := ps.pool.Query(ctx, query, monitorID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*models.CheckResult
	for rows.Next() {
		var (
			r      models.CheckResult
			status string
		)
		if err := rows.Scan(&r.ID, &r.MonitorID, &r.Timestamp, &status, &r.LatencyMS, &r.Details); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Status = models.Status(status)
		r.Timestamp = r.Timestamp.UTC()
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

// HealthCheck verifies the database connection is healthy
func (ps *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool
func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	ps.logger.Info("PostgreSQL connection pool closed")
	return nil
}
