package scheduler

import (
	"context"

	"appview/internal/indexer"
	"appview/internal/origin"
	"appview/internal/pds"
	"appview/internal/reconcile"
	"appview/pkg/domain"
)

// Registry is the origin registry as the scheduler uses it.
type Registry interface {
	SelectDue(ctx context.Context, limit int) ([]pds.Origin, error)
	RecordScanOutcome(ctx context.Context, endpoint string, success bool) error
	Upsert(ctx context.Context, endpoint string, hints pds.Hints) (*pds.Origin, error)
}

// Lister pages through an origin's repositories and collections.
type Lister interface {
	ListRepos(ctx context.Context, endpoint, cursor string, limit int) (origin.RepoPage, error)
	ListRecords(ctx context.Context, endpoint string, did domain.DID, collection, cursor string, limit int) (origin.Page, error)
}

// Index looks up indexed pointers in bulk.
type Index interface {
	LookupMany(ctx context.Context, uris []string) (map[string]indexer.IndexedRecord, error)
}

// Refresher repairs a single record.
type Refresher interface {
	Refresh(ctx context.Context, uri string) (*reconcile.RefreshResult, error)
}
