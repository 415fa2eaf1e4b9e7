// Package pds keeps the registry of known origin servers and decides which of
// them are due for a proactive scan.
package pds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/benbjohnson/clock"
)

// Registry is the origin registry service. Scheduling policy (selection,
// backoff, relay classification) lives here; the store only persists.
type Registry struct {
	store       Store
	clock       clock.Clock
	backoff     Backoff
	relay       *RelayClassifier
	maxFailures int
	logger      *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for scheduling.
func WithClock(clk clock.Clock) Option {
	return func(r *Registry) {
		if clk != nil {
			r.clock = clk
		}
	}
}

// WithBackoff sets the failure backoff.
func WithBackoff(b Backoff) Option {
	return func(r *Registry) {
		if b.Base > 0 && b.Max >= b.Base && b.Factor >= 1 {
			r.backoff = b
		}
	}
}

// WithRelayPatterns sets the host suffixes treated as relay-connected.
func WithRelayPatterns(patterns []string) Option {
	return func(r *Registry) {
		r.relay = NewRelayClassifier(patterns)
	}
}

// WithMaxFailures sets the failure count at which an origin goes dormant.
func WithMaxFailures(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxFailures = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry constructs the registry service over store.
func NewRegistry(store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	r := &Registry{
		store:       store,
		clock:       clock.New(),
		backoff:     DefaultBackoff(),
		relay:       NewRelayClassifier(DefaultRelayPatterns),
		maxFailures: DefaultMaxFailures,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NormalizeEndpoint canonicalizes an origin URL to scheme://host[:port].
func NormalizeEndpoint(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "https" && scheme != "http") || u.Host == "" || u.User != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEndpoint, raw)
	}
	if strings.Trim(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w: %q has a path", ErrInvalidEndpoint, raw)
	}
	return scheme + "://" + strings.ToLower(u.Host), nil
}

// Upsert registers endpoint or updates it with hints. A new entry without a
// relay hint is classified from its host; an existing entry keeps the relay flag
// the change-stream collaborator set.
func (r *Registry) Upsert(ctx context.Context, endpoint string, hints Hints) (*Origin, error) {
	endpoint, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if hints.Status != nil && !hints.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *hints.Status)
	}
	return r.store.Upsert(ctx, endpoint, hints, r.relay.IsRelayConnected(endpoint), r.clock.Now())
}

// EnsureKnown records a newly discovered endpoint without touching the scan state
// of an existing entry.
func (r *Registry) EnsureKnown(ctx context.Context, endpoint string) error {
	endpoint, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return err
	}
	created, err := r.store.EnsureKnown(ctx, endpoint, r.relay.IsRelayConnected(endpoint), r.clock.Now())
	if err != nil {
		return err
	}
	if created {
		r.logger.InfoContext(ctx, "discovered origin", "endpoint", endpoint)
	}
	return nil
}

// RegisterPDS is the explicit registration signal: the endpoint is upserted,
// classified, and its failure counter reset so a dormant origin becomes due again.
func (r *Registry) RegisterPDS(ctx context.Context, endpoint string) (*Origin, error) {
	o, err := r.Upsert(ctx, endpoint, Hints{})
	if err != nil {
		return nil, err
	}
	if err := r.store.ResetFailures(ctx, o.Endpoint, r.clock.Now()); err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "registered origin",
		"endpoint", o.Endpoint,
		"relay_connected", o.IsRelayConnected,
	)
	return r.store.Get(ctx, o.Endpoint)
}

// RecordScanOutcome applies a scan result. Success resets the failure counter and
// schedules the base interval; failure increments the counter atomically and
// backs off from the new count.
func (r *Registry) RecordScanOutcome(ctx context.Context, endpoint string, success bool) error {
	now := r.clock.Now()
	if success {
		return r.store.RecordSuccess(ctx, endpoint, now, r.backoff.Next(now, 0))
	}

	failures, err := r.store.IncrementFailures(ctx, endpoint, now)
	if err != nil {
		return err
	}
	next := r.backoff.Next(now, failures)
	if _, err := r.store.ScheduleNext(ctx, endpoint, failures, next); err != nil {
		return err
	}
	if failures == r.maxFailures {
		r.logger.WarnContext(ctx, "origin dormant after repeated failures",
			"endpoint", endpoint,
			"failures", failures,
		)
	}
	return nil
}

// SelectDue returns up to limit origins due for a scan now.
func (r *Registry) SelectDue(ctx context.Context, limit int) ([]Origin, error) {
	candidates, err := r.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return SelectDue(candidates, r.clock.Now(), limit, r.maxFailures), nil
}

// Get returns the registry entry for endpoint.
func (r *Registry) Get(ctx context.Context, endpoint string) (*Origin, error) {
	endpoint, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return r.store.Get(ctx, endpoint)
}

// SetStatus changes an origin's administrative status.
func (r *Registry) SetStatus(ctx context.Context, endpoint string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	endpoint, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return err
	}
	return r.store.SetStatus(ctx, endpoint, status, r.clock.Now())
}
