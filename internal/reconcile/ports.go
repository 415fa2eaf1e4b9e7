package reconcile

import (
	"context"
	"encoding/json"

	"appview/internal/indexer"
	"appview/internal/origin"
	"appview/pkg/domain"
)

// Resolver maps a DID to the origin endpoint hosting it.
type Resolver interface {
	Resolve(ctx context.Context, did domain.DID) (string, error)
	// Invalidate drops any cached resolution so the next Resolve refetches.
	Invalidate(ctx context.Context, did domain.DID)
}

// RecordFetcher reads a record from its origin. found is false when the origin
// reports the record absent.
type RecordFetcher interface {
	FetchRecord(ctx context.Context, endpoint string, did domain.DID, collection, rkey string) (origin.Record, bool, error)
}

// IndexReader reads the index's pointer for a record.
type IndexReader interface {
	Lookup(ctx context.Context, uri string) (indexer.IndexedRecord, bool, error)
}

// IndexWriter hands apply and remove decisions to the indexer. Both must be
// idempotent.
type IndexWriter interface {
	ApplyRecord(ctx context.Context, uri, cid string, value json.RawMessage) error
	RemoveRecord(ctx context.Context, uri string) error
}
