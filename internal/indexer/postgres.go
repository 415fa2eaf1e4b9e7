package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresReader looks up indexed pointers in the indexer's records table.
// It is read-only.
type PostgresReader struct {
	db *sql.DB
}

func NewPostgresReader(db *sql.DB) *PostgresReader {
	return &PostgresReader{db: db}
}

const selectRecordColumns = `uri, cid, indexed_at, last_synced_at, COALESCE(origin_endpoint, '')`

// Lookup returns the indexed pointer for uri.
func (r *PostgresReader) Lookup(ctx context.Context, uri string) (IndexedRecord, bool, error) {
	query := `SELECT ` + selectRecordColumns + ` FROM records WHERE uri = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, uri))
	if errors.Is(err, sql.ErrNoRows) {
		return IndexedRecord{}, false, nil
	}
	if err != nil {
		return IndexedRecord{}, false, fmt.Errorf("lookup indexed record: %w", err)
	}
	return rec, true, nil
}

// LookupMany returns the indexed pointers for the uris that exist, in one round trip.
func (r *PostgresReader) LookupMany(ctx context.Context, uris []string) (map[string]IndexedRecord, error) {
	out := make(map[string]IndexedRecord, len(uris))
	if len(uris) == 0 {
		return out, nil
	}
	query := `SELECT ` + selectRecordColumns + ` FROM records WHERE uri = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(uris))
	if err != nil {
		return nil, fmt.Errorf("lookup indexed records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan indexed record: %w", err)
		}
		out[rec.URI] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexed records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (IndexedRecord, error) {
	var rec IndexedRecord
	var lastSynced sql.NullTime
	if err := row.Scan(&rec.URI, &rec.CID, &rec.IndexedAt, &lastSynced, &rec.OriginEndpoint); err != nil {
		return IndexedRecord{}, err
	}
	if lastSynced.Valid {
		t := lastSynced.Time
		rec.LastSyncedAt = &t
	}
	return rec, nil
}
