// Package scheduler runs the recurring sweep that proactively scans origins the
// relay does not cover.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"appview/internal/origin"
	"appview/internal/pds"
	"appview/pkg/domain"
)

// Config controls sweep cadence and size.
type Config struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	TaskTimeout time.Duration
	PageSize    int
	Collections []string
}

// DefaultCollections are scanned when none are configured.
var DefaultCollections = []string{
	"app.bsky.feed.post",
	"app.bsky.actor.profile",
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		BatchSize:   50,
		Concurrency: 8,
		TaskTimeout: 2 * time.Minute,
		PageSize:    100,
		Collections: DefaultCollections,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if len(c.Collections) == 0 {
		c.Collections = d.Collections
	}
	return c
}

// SweepSummary describes one completed sweep.
type SweepSummary struct {
	ID               string
	Selected         int
	Succeeded        int
	Failed           int
	RecordsChecked   int
	RecordsRefreshed int
	RefreshErrors    int
	PeakConcurrency  int
	Duration         time.Duration
}

// EndpointResult is the outcome of scanning one origin.
type EndpointResult struct {
	Endpoint         string
	RecordsChecked   int
	RecordsRefreshed int
	RefreshErrors    int
	Err              error
}

// Scheduler runs periodic sweeps over due origins.
type Scheduler struct {
	cfg       Config
	registry  Registry
	lister    Lister
	index     Index
	refresher Refresher
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *Metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock driving the sweep ticker.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) {
		if clk != nil {
			s.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// New constructs a Scheduler.
func New(cfg Config, registry Registry, lister Lister, index Index, refresher Refresher, opts ...Option) (*Scheduler, error) {
	if registry == nil || lister == nil || index == nil || refresher == nil {
		return nil, errors.New("registry, lister, index and refresher are required")
	}
	s := &Scheduler{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		lister:    lister,
		index:     index,
		refresher: refresher,
		clock:     clock.New(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run sweeps immediately and then every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scan scheduler started",
		"interval", s.cfg.Interval,
		"batch_size", s.cfg.BatchSize,
		"concurrency", s.cfg.Concurrency,
	)
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "scan sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scan scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep scans one batch of due origins with bounded concurrency. A failing
// origin is recorded and never aborts the sweep; only failing to select the
// batch is returned as an error.
func (s *Scheduler) Sweep(ctx context.Context) (SweepSummary, error) {
	start := s.clock.Now()
	summary := SweepSummary{ID: uuid.NewString()}
	logger := s.logger.With("sweep_id", summary.ID)

	due, err := s.registry.SelectDue(ctx, s.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("select due origins: %w", err)
	}
	summary.Selected = len(due)
	if len(due) == 0 {
		logger.DebugContext(ctx, "no origins due")
		return summary, nil
	}

	results := make([]EndpointResult, len(due))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	var inFlight, peak atomic.Int32
	for i, o := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			results[i] = s.runTask(ctx, logger, o.Endpoint)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Endpoint == "" {
			continue
		}
		if r.Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
		summary.RecordsChecked += r.RecordsChecked
		summary.RecordsRefreshed += r.RecordsRefreshed
		summary.RefreshErrors += r.RefreshErrors
	}
	summary.PeakConcurrency = int(peak.Load())
	summary.Duration = s.clock.Since(start)
	s.metrics.observeSweep(summary.Duration)

	logger.InfoContext(ctx, "scan sweep finished",
		"selected", summary.Selected,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"records_checked", summary.RecordsChecked,
		"records_refreshed", summary.RecordsRefreshed,
		"refresh_errors", summary.RefreshErrors,
		"peak_concurrency", summary.PeakConcurrency,
		"duration", summary.Duration,
	)
	return summary, nil
}

// runTask scans one origin under its own deadline and records the outcome on a
// context that outlives that deadline.
func (s *Scheduler) runTask(ctx context.Context, logger *slog.Logger, endpoint string) EndpointResult {
	s.metrics.taskStarted()
	defer s.metrics.taskDone()

	taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	result := s.ScanEndpoint(taskCtx, endpoint)
	cancel()

	success := result.Err == nil
	s.metrics.observeEndpoint(success)
	if !success {
		logger.WarnContext(ctx, "origin scan failed", "endpoint", endpoint, "error", result.Err)
	}

	recordCtx, cancelRecord := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelRecord()
	if err := s.registry.RecordScanOutcome(recordCtx, endpoint, success); err != nil {
		logger.ErrorContext(ctx, "record scan outcome failed", "endpoint", endpoint, "error", err)
	}
	return result
}

// ScanEndpoint lists the first page of an origin's repositories and, for each
// active repository and configured collection, one page of records. Records
// whose indexed version differs from the listing are refreshed. Listing failures
// fail the scan; refresh failures are counted and logged.
func (s *Scheduler) ScanEndpoint(ctx context.Context, endpoint string) EndpointResult {
	result := EndpointResult{Endpoint: endpoint}

	repos, err := s.lister.ListRepos(ctx, endpoint, "", s.cfg.PageSize)
	if err != nil {
		result.Err = fmt.Errorf("list repos: %w", err)
		return result
	}

	sawRecords := false
	for _, repo := range repos.Repos {
		if !repo.IsActive() {
			continue
		}
		did, err := domain.ParseDID(repo.DID)
		if err != nil {
			s.logger.DebugContext(ctx, "skipping repo with invalid did", "endpoint", endpoint, "did", repo.DID)
			continue
		}
		for _, collection := range s.cfg.Collections {
			page, err := s.lister.ListRecords(ctx, endpoint, did, collection, "", s.cfg.PageSize)
			if err != nil {
				result.Err = fmt.Errorf("list records %s/%s: %w", did, collection, err)
				return result
			}
			if len(page.Records) == 0 {
				continue
			}
			sawRecords = true
			if err := s.reconcilePage(ctx, page, &result); err != nil {
				result.Err = err
				return result
			}
		}
	}

	if sawRecords {
		if _, err := s.registry.Upsert(ctx, endpoint, pds.Hints{HasKnownRecords: boolPtr(true)}); err != nil {
			s.logger.WarnContext(ctx, "mark origin as having records failed", "endpoint", endpoint, "error", err)
		}
	}
	return result
}

func (s *Scheduler) reconcilePage(ctx context.Context, page origin.Page, result *EndpointResult) error {
	uris := make([]string, 0, len(page.Records))
	for _, rec := range page.Records {
		uris = append(uris, rec.URI)
	}
	indexed, err := s.index.LookupMany(ctx, uris)
	if err != nil {
		return fmt.Errorf("lookup indexed records: %w", err)
	}

	for _, rec := range page.Records {
		result.RecordsChecked++
		if held, ok := indexed[rec.URI]; ok && held.CID == rec.CID {
			continue
		}
		if _, err := s.refresher.Refresh(ctx, rec.URI); err != nil {
			result.RefreshErrors++
			s.metrics.observeRefresh(false)
			s.logger.WarnContext(ctx, "record refresh failed", "uri", rec.URI, "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		result.RecordsRefreshed++
		s.metrics.observeRefresh(true)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
