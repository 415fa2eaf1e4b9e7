package pds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"appview/pkg/platform/sentinel"
)

// PostgresStore persists registry entries in the pds_endpoints table. Counter
// updates are single statements so concurrent outcomes never lose an increment.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const originColumns = `endpoint, status, scan_priority, has_known_records, is_relay_connected,
	consecutive_failures, last_scan_at, next_scan_at, created_at, updated_at`

func (s *PostgresStore) EnsureKnown(ctx context.Context, endpoint string, relayConnected bool, now time.Time) (bool, error) {
	query := `
		INSERT INTO pds_endpoints (endpoint, status, scan_priority, is_relay_connected, created_at, updated_at)
		VALUES ($1, 'active', $2, $3, $4, $4)
		ON CONFLICT (endpoint) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, endpoint, DefaultScanPriority, relayConnected, now)
	if err != nil {
		return false, fmt.Errorf("ensure origin known: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure origin known rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, endpoint string, hints Hints, relayDefault bool, now time.Time) (*Origin, error) {
	query := `
		INSERT INTO pds_endpoints (endpoint, status, scan_priority, has_known_records, is_relay_connected, created_at, updated_at)
		VALUES ($1, COALESCE($2::text, 'active'), COALESCE($3::integer, $7), COALESCE($4::boolean, FALSE), COALESCE($5::boolean, $8::boolean), $6, $6)
		ON CONFLICT (endpoint) DO UPDATE SET
			status = COALESCE($2::text, pds_endpoints.status),
			scan_priority = COALESCE($3::integer, pds_endpoints.scan_priority),
			has_known_records = COALESCE($4::boolean, pds_endpoints.has_known_records),
			is_relay_connected = COALESCE($5::boolean, pds_endpoints.is_relay_connected),
			updated_at = $6
		RETURNING ` + originColumns
	var status sql.NullString
	if hints.Status != nil {
		status = sql.NullString{String: string(*hints.Status), Valid: true}
	}
	var priority sql.NullInt64
	if hints.ScanPriority != nil {
		priority = sql.NullInt64{Int64: int64(*hints.ScanPriority), Valid: true}
	}
	o, err := scanOrigin(s.db.QueryRowContext(ctx, query,
		endpoint,
		status,
		priority,
		nullBool(hints.HasKnownRecords),
		nullBool(hints.IsRelayConnected),
		now,
		DefaultScanPriority,
		relayDefault,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert origin: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) Get(ctx context.Context, endpoint string) (*Origin, error) {
	query := `SELECT ` + originColumns + ` FROM pds_endpoints WHERE endpoint = $1`
	o, err := scanOrigin(s.db.QueryRowContext(ctx, query, endpoint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("origin %s: %w", endpoint, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get origin: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]Origin, error) {
	query := `
		SELECT ` + originColumns + `
		FROM pds_endpoints
		WHERE status = 'active' AND is_relay_connected = FALSE
		ORDER BY endpoint
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active origins: %w", err)
	}
	defer rows.Close()

	var out []Origin
	for rows.Next() {
		o, err := scanOrigin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan origin: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate origins: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) RecordSuccess(ctx context.Context, endpoint string, now, next time.Time) error {
	query := `
		UPDATE pds_endpoints
		SET consecutive_failures = 0, last_scan_at = $2, next_scan_at = $3, updated_at = $2
		WHERE endpoint = $1
	`
	return s.execOne(ctx, "record scan success", endpoint, query, endpoint, now, next)
}

func (s *PostgresStore) IncrementFailures(ctx context.Context, endpoint string, now time.Time) (int, error) {
	query := `
		UPDATE pds_endpoints
		SET consecutive_failures = consecutive_failures + 1, last_scan_at = $2, updated_at = $2
		WHERE endpoint = $1
		RETURNING consecutive_failures
	`
	var failures int
	err := s.db.QueryRowContext(ctx, query, endpoint, now).Scan(&failures)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("origin %s: %w", endpoint, sentinel.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment origin failures: %w", err)
	}
	return failures, nil
}

func (s *PostgresStore) ScheduleNext(ctx context.Context, endpoint string, failures int, next time.Time) (bool, error) {
	query := `
		UPDATE pds_endpoints
		SET next_scan_at = $3
		WHERE endpoint = $1 AND consecutive_failures = $2
	`
	res, err := s.db.ExecContext(ctx, query, endpoint, failures, next)
	if err != nil {
		return false, fmt.Errorf("schedule next scan: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("schedule next scan rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) ResetFailures(ctx context.Context, endpoint string, now time.Time) error {
	query := `
		UPDATE pds_endpoints
		SET consecutive_failures = 0, next_scan_at = NULL, updated_at = $2
		WHERE endpoint = $1
	`
	return s.execOne(ctx, "reset origin failures", endpoint, query, endpoint, now)
}

func (s *PostgresStore) SetStatus(ctx context.Context, endpoint string, status Status, now time.Time) error {
	query := `UPDATE pds_endpoints SET status = $2, updated_at = $3 WHERE endpoint = $1`
	return s.execOne(ctx, "set origin status", endpoint, query, endpoint, string(status), now)
}

func (s *PostgresStore) execOne(ctx context.Context, op, endpoint, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("origin %s: %w", endpoint, sentinel.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrigin(row rowScanner) (*Origin, error) {
	var o Origin
	var status string
	var lastScan, nextScan sql.NullTime
	err := row.Scan(
		&o.Endpoint,
		&status,
		&o.ScanPriority,
		&o.HasKnownRecords,
		&o.IsRelayConnected,
		&o.ConsecutiveFailures,
		&lastScan,
		&nextScan,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)
	if lastScan.Valid {
		t := lastScan.Time
		o.LastScanAt = &t
	}
	if nextScan.Valid {
		t := nextScan.Time
		o.NextScanAt = &t
	}
	return &o, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
