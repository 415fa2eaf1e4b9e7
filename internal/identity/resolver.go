// Package identity resolves decentralized identifiers to the origin server
// currently hosting their repository.
package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"appview/internal/fault"
	"appview/pkg/domain"
)

const (
	DefaultPLCURL      = "https://plc.directory"
	DefaultTTL         = time.Hour
	defaultTimeout     = 10 * time.Second
	maxDocumentBytes   = 256 << 10
	didWebDocumentPath = "/.well-known/did.json"
)

// DiscoveryHook is told about every endpoint a fresh resolution returns.
type DiscoveryHook func(ctx context.Context, endpoint string)

// Resolver maps DIDs to origin endpoints with a TTL cache in front of the
// directory. At most one fetch per DID is in flight at a time.
type Resolver struct {
	httpClient *http.Client
	plcURL     string
	ttl        time.Duration
	timeout    time.Duration
	clock      clock.Clock
	cache      *MemoryCache
	shared     SharedCache
	handles    *handleResolver
	discovered DiscoveryHook
	group      singleflight.Group
	logger     *slog.Logger
	metrics    *Metrics
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient sets the client used for directory and did:web fetches.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Resolver) {
		if hc != nil {
			r.httpClient = hc
		}
	}
}

// WithPLCURL sets the PLC directory base URL.
func WithPLCURL(u string) Option {
	return func(r *Resolver) {
		if u != "" {
			r.plcURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTTL sets how long a resolution is served from cache.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithTimeout bounds each document fetch.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock sets the clock used to stamp and expire entries.
func WithClock(clk clock.Clock) Option {
	return func(r *Resolver) {
		if clk != nil {
			r.clock = clk
		}
	}
}

// WithCache sets the in-process cache.
func WithCache(c *MemoryCache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithSharedCache adds a cross-process tier consulted after a local miss.
func WithSharedCache(c SharedCache) Option {
	return func(r *Resolver) {
		r.shared = c
	}
}

// WithDiscoveryHook registers a callback for freshly resolved endpoints.
func WithDiscoveryHook(hook DiscoveryHook) Option {
	return func(r *Resolver) {
		r.discovered = hook
	}
}

// WithNameserver sets the DNS server used for handle lookups, as host:port.
func WithNameserver(addr string) Option {
	return func(r *Resolver) {
		if addr != "" {
			r.handles.nameserver = addr
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver constructs a resolver.
func NewResolver(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		httpClient: &http.Client{},
		plcURL:     DefaultPLCURL,
		ttl:        DefaultTTL,
		timeout:    defaultTimeout,
		clock:      clock.New(),
		handles:    newHandleResolver(),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		cache, err := NewMemoryCache(defaultCacheSize, r.clock)
		if err != nil {
			return nil, err
		}
		r.cache = cache
	}
	r.handles.httpClient = r.httpClient
	r.handles.timeout = r.timeout
	return r, nil
}

// Resolve returns the origin endpoint currently hosting did's repository. A
// failed resolution removes any cached entry for did from every tier.
func (r *Resolver) Resolve(ctx context.Context, did domain.DID) (string, error) {
	if entry, ok := r.cache.Get(did); ok {
		r.metrics.cacheLookup("memory", true)
		return entry.Endpoint, nil
	}
	r.metrics.cacheLookup("memory", false)

	if entry, ok := r.sharedGet(ctx, did); ok {
		r.cache.Put(entry)
		return entry.Endpoint, nil
	}

	v, err, _ := r.group.Do(string(did), func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.fetch(fetchCtx, did)
	})
	if err != nil {
		r.Invalidate(ctx, did)
		return "", err
	}
	entry := v.(Entry)
	r.cache.Put(entry)
	r.sharedSet(ctx, entry)
	if r.discovered != nil {
		r.discovered(ctx, entry.Endpoint)
	}
	return entry.Endpoint, nil
}

// Invalidate drops did from every cache tier so the next Resolve refetches.
func (r *Resolver) Invalidate(ctx context.Context, did domain.DID) {
	r.cache.Invalidate(did)
	if r.shared == nil {
		return
	}
	if err := r.shared.Delete(ctx, did); err != nil {
		r.logger.WarnContext(ctx, "shared identity cache delete failed", "did", did, "error", err)
	}
}

// ResolveHandle returns the DID a handle claims, via DNS TXT with an HTTPS
// well-known fallback.
func (r *Resolver) ResolveHandle(ctx context.Context, handle domain.Handle) (domain.DID, error) {
	did, err := r.handles.resolve(ctx, handle)
	if err != nil {
		return "", fault.IdentityResolution(handle.String(), "handle resolution failed", err)
	}
	return did, nil
}

func (r *Resolver) sharedGet(ctx context.Context, did domain.DID) (Entry, bool) {
	if r.shared == nil {
		return Entry{}, false
	}
	entry, ok, err := r.shared.Get(ctx, did)
	if err != nil {
		r.logger.WarnContext(ctx, "shared identity cache read failed", "did", did, "error", err)
		return Entry{}, false
	}
	r.metrics.cacheLookup("shared", ok)
	return entry, ok
}

func (r *Resolver) sharedSet(ctx context.Context, entry Entry) {
	if r.shared == nil {
		return
	}
	if err := r.shared.Set(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "shared identity cache write failed", "did", entry.DID, "error", err)
	}
}

func (r *Resolver) fetch(ctx context.Context, did domain.DID) (Entry, error) {
	method := string(did.Method())
	doc, err := r.fetchDocument(ctx, did)
	if err != nil {
		r.metrics.resolution(method, "error")
		return Entry{}, fault.IdentityResolution(did.String(), "fetch did document", err)
	}
	if doc.ID != did.String() {
		r.metrics.resolution(method, "mismatch")
		return Entry{}, fault.IdentityResolution(did.String(), fmt.Sprintf("document id %q does not match", doc.ID), nil)
	}
	endpoint, err := doc.PDSEndpoint()
	if err != nil {
		r.metrics.resolution(method, "no_endpoint")
		return Entry{}, fault.IdentityResolution(did.String(), "no usable pds endpoint", err)
	}
	r.metrics.resolution(method, "ok")
	r.logger.DebugContext(ctx, "resolved did", "did", did, "endpoint", endpoint)
	return Entry{DID: did, Endpoint: endpoint, ResolvedAt: r.clock.Now(), TTL: r.ttl}, nil
}

func (r *Resolver) fetchDocument(ctx context.Context, did domain.DID) (*Document, error) {
	var target string
	switch did.Method() {
	case domain.DIDMethodPLC:
		target = r.plcURL + "/" + did.String()
	case domain.DIDMethodWeb:
		target = "https://" + did.WebHost() + didWebDocumentPath
	default:
		return nil, fmt.Errorf("unsupported did method %q", did.Method())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/did+ld+json, application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxDocumentBytes {
		return nil, errors.New("did document too large")
	}
	return parseDocument(body)
}
