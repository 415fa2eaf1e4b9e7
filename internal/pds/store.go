package pds

import (
	"context"
	"time"
)

// Store persists registry entries. It holds no scheduling policy: counter
// updates are single atomic operations and selection happens in SelectDue.
type Store interface {
	// EnsureKnown inserts endpoint with defaults if absent. It never modifies an
	// existing entry. created reports whether a row was inserted.
	EnsureKnown(ctx context.Context, endpoint string, relayConnected bool, now time.Time) (created bool, err error)

	// Upsert inserts endpoint or updates the fields set in hints. relayDefault is
	// the relay flag for a new entry without an IsRelayConnected hint; an existing
	// entry keeps its stored flag.
	Upsert(ctx context.Context, endpoint string, hints Hints, relayDefault bool, now time.Time) (*Origin, error)

	// Get returns the entry, or sentinel.ErrNotFound.
	Get(ctx context.Context, endpoint string) (*Origin, error)

	// ListActive returns active entries not covered by the relay.
	ListActive(ctx context.Context) ([]Origin, error)

	// RecordSuccess resets the failure counter and schedules the next scan.
	RecordSuccess(ctx context.Context, endpoint string, now, next time.Time) error

	// IncrementFailures atomically bumps the failure counter and returns the new value.
	IncrementFailures(ctx context.Context, endpoint string, now time.Time) (int, error)

	// ScheduleNext sets the next scan time only while the failure counter still
	// equals failures. applied is false when a concurrent outcome got there first.
	ScheduleNext(ctx context.Context, endpoint string, failures int, next time.Time) (applied bool, err error)

	// ResetFailures zeroes the failure counter and makes the entry due immediately.
	ResetFailures(ctx context.Context, endpoint string, now time.Time) error

	// SetStatus changes the administrative status.
	SetStatus(ctx context.Context, endpoint string, status Status, now time.Time) error
}
