package pds

import (
	"cmp"
	"slices"
	"time"
)

// DefaultMaxFailures is the consecutive-failure count at which an origin drops
// out of selection.
const DefaultMaxFailures = 5

// SelectDue picks up to limit origins that should be scanned at now: active,
// below the failure threshold, not covered by the relay, and not scheduled for
// later. Never-scanned origins sort ahead of scheduled ones at equal priority.
func SelectDue(origins []Origin, now time.Time, limit, maxFailures int) []Origin {
	if limit <= 0 {
		return nil
	}
	due := make([]Origin, 0, min(limit, len(origins)))
	for _, o := range origins {
		if isDue(o, now, maxFailures) {
			due = append(due, o)
		}
	}
	slices.SortStableFunc(due, compareDue)
	if len(due) > limit {
		due = due[:limit]
	}
	return due
}

func isDue(o Origin, now time.Time, maxFailures int) bool {
	if o.Status != StatusActive || o.IsRelayConnected {
		return false
	}
	if o.Dormant(maxFailures) {
		return false
	}
	return o.NextScanAt == nil || !o.NextScanAt.After(now)
}

func compareDue(a, b Origin) int {
	if c := cmp.Compare(a.ScanPriority, b.ScanPriority); c != 0 {
		return c
	}
	switch {
	case a.NextScanAt == nil && b.NextScanAt != nil:
		return -1
	case a.NextScanAt != nil && b.NextScanAt == nil:
		return 1
	case a.NextScanAt != nil && b.NextScanAt != nil:
		if c := a.NextScanAt.Compare(*b.NextScanAt); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Endpoint, b.Endpoint)
}
