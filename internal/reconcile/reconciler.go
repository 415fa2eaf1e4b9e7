// Package reconcile compares what the index holds for a record against what the
// record's origin currently serves, and repairs the index on request.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"appview/internal/fault"
	"appview/internal/origin"
	"appview/pkg/domain"
)

var tracer = otel.Tracer("appview/internal/reconcile")

// Status classifies a staleness check.
type Status string

const (
	StatusFresh       Status = "fresh"
	StatusStale       Status = "stale"
	StatusDeleted     Status = "deleted"
	StatusUnreachable Status = "unreachable"
	StatusFailed      Status = "failed"
	StatusInvalid     Status = "invalid"
)

// ErrorInfo is the serializable form of a check failure.
type ErrorInfo struct {
	Kind    fault.Kind `json:"kind"`
	Message string     `json:"message"`
}

// StalenessResult is the outcome of comparing the index against the origin.
// IsStale is only ever true on positive evidence: a failed check leaves it false
// and populates Error instead.
type StalenessResult struct {
	URI        string     `json:"uri"`
	Status     Status     `json:"status"`
	IsStale    bool       `json:"isStale"`
	IndexedCID string     `json:"indexedCid,omitempty"`
	OriginCID  string     `json:"originCid,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`

	// Err is the underlying failure, if any.
	Err error `json:"-"`
}

// Deleted reports whether the origin no longer has the record.
func (r *StalenessResult) Deleted() bool {
	return r.Status == StatusDeleted
}

// VerifyResult is a staleness check plus the index's sync timestamps.
type VerifyResult struct {
	StalenessResult
	IndexedAt    *time.Time `json:"indexedAt,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
}

// Action is what a refresh did to the index.
type Action string

const (
	ActionApplied Action = "applied"
	ActionRemoved Action = "removed"
)

// RefreshResult describes a completed refresh.
type RefreshResult struct {
	URI    string `json:"uri"`
	Action Action `json:"action"`
	CID    string `json:"cid,omitempty"`
}

// Reconciler checks and repairs indexed records against their origins. It never
// schedules scans or touches origin registry state.
type Reconciler struct {
	resolver Resolver
	fetcher  RecordFetcher
	reader   IndexReader
	writer   IndexWriter
	logger   *slog.Logger
	metrics  *Metrics
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// New constructs a Reconciler. All collaborators are required.
func New(resolver Resolver, fetcher RecordFetcher, reader IndexReader, writer IndexWriter, opts ...Option) (*Reconciler, error) {
	if resolver == nil || fetcher == nil || reader == nil || writer == nil {
		return nil, errors.New("resolver, fetcher, index reader and index writer are required")
	}
	r := &Reconciler{
		resolver: resolver,
		fetcher:  fetcher,
		reader:   reader,
		writer:   writer,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CheckStaleness compares the indexed version of uri with the origin's current one.
// Failures are reported inside the result, never as a stale verdict.
func (r *Reconciler) CheckStaleness(ctx context.Context, uri string) *StalenessResult {
	ctx, span := tracer.Start(ctx, "reconcile.checkStaleness", trace.WithAttributes(attribute.String("record.uri", uri)))
	defer span.End()

	res := r.check(ctx, uri)
	r.finish(span, "check", res)
	return &res.StalenessResult
}

// Verify is CheckStaleness plus the index's timestamps for the record.
func (r *Reconciler) Verify(ctx context.Context, uri string) *VerifyResult {
	ctx, span := tracer.Start(ctx, "reconcile.verify", trace.WithAttributes(attribute.String("record.uri", uri)))
	defer span.End()

	res := r.check(ctx, uri)
	r.finish(span, "verify", res)
	return res
}

// Refresh brings the index in line with the origin: the origin's current version
// is applied, or the record is removed when the origin no longer has it. On
// failure the index is left untouched. Refreshing an up-to-date record is a no-op
// for the index.
func (r *Reconciler) Refresh(ctx context.Context, uri string) (result *RefreshResult, err error) {
	ctx, span := tracer.Start(ctx, "reconcile.refresh", trace.WithAttributes(attribute.String("record.uri", uri)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(fault.KindOf(err)))
			r.metrics.observeRefresh("error")
		} else {
			span.SetAttributes(attribute.String("refresh.action", string(result.Action)))
			r.metrics.observeRefresh(string(result.Action))
		}
		span.End()
	}()

	target, err := domain.ParseATURI(uri)
	if err != nil {
		return nil, fault.InvalidURI(uri, err)
	}
	canonical := target.String()

	rec, found, err := r.fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	if !found {
		if err := r.writer.RemoveRecord(ctx, canonical); err != nil {
			return nil, fmt.Errorf("remove record from index: %w", err)
		}
		r.logger.InfoContext(ctx, "record removed from index", "uri", canonical)
		return &RefreshResult{URI: canonical, Action: ActionRemoved}, nil
	}

	if err := r.writer.ApplyRecord(ctx, canonical, rec.CID, rec.Value); err != nil {
		return nil, fmt.Errorf("apply record to index: %w", err)
	}
	r.logger.InfoContext(ctx, "record applied to index", "uri", canonical, "cid", rec.CID)
	return &RefreshResult{URI: canonical, Action: ActionApplied, CID: rec.CID}, nil
}

func (r *Reconciler) check(ctx context.Context, uri string) *VerifyResult {
	res := &VerifyResult{StalenessResult: StalenessResult{URI: uri}}

	target, err := domain.ParseATURI(uri)
	if err != nil {
		res.fail(StatusInvalid, fault.InvalidURI(uri, err))
		return res
	}
	res.URI = target.String()

	indexed, indexedFound, err := r.reader.Lookup(ctx, res.URI)
	if err != nil {
		res.fail(StatusFailed, fmt.Errorf("lookup indexed record: %w", err))
		return res
	}
	if indexedFound {
		res.IndexedCID = indexed.CID
		if !indexed.IndexedAt.IsZero() {
			at := indexed.IndexedAt
			res.IndexedAt = &at
		}
		res.LastSyncedAt = indexed.LastSyncedAt
	}

	rec, found, err := r.fetch(ctx, target)
	switch {
	case err != nil:
		status := StatusFailed
		if k := fault.KindOf(err); k == fault.KindPDSConnection || k == fault.KindIdentityResolution {
			status = StatusUnreachable
		}
		res.fail(status, err)
	case !found:
		res.Status = StatusDeleted
	case rec.CID == res.IndexedCID:
		res.Status = StatusFresh
		res.OriginCID = rec.CID
	default:
		// Includes records the index has never seen.
		res.Status = StatusStale
		res.IsStale = true
		res.OriginCID = rec.CID
	}
	return res
}

// fetch resolves the record's origin and reads the record from it. A connection
// failure drops the cached resolution, since the account may have moved.
func (r *Reconciler) fetch(ctx context.Context, target domain.ATURI) (origin.Record, bool, error) {
	did := target.DID()
	endpoint, err := r.resolver.Resolve(ctx, did)
	if err != nil {
		return origin.Record{}, false, err
	}
	rec, found, err := r.fetcher.FetchRecord(ctx, endpoint, did, target.Collection, target.RKey)
	if err != nil {
		if fault.Is(err, fault.KindPDSConnection) {
			r.resolver.Invalidate(ctx, did)
		}
		r.logger.WarnContext(ctx, "origin fetch failed",
			"uri", target.String(),
			"endpoint", endpoint,
			"kind", fault.KindOf(err),
			"error", err,
		)
		return origin.Record{}, false, err
	}
	return rec, found, nil
}

func (r *Reconciler) finish(span trace.Span, op string, res *VerifyResult) {
	span.SetAttributes(attribute.String("staleness.status", string(res.Status)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Status))
	}
	r.metrics.observeCheck(op, res.Status)
}

func (r *StalenessResult) fail(status Status, err error) {
	r.Status = status
	r.IsStale = false
	r.Err = err
	r.Error = &ErrorInfo{Kind: fault.KindOf(err), Message: err.Error()}
}
