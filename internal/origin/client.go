// Package origin talks to user-controlled origin servers (PDSes). Origins are
// untrusted: every call is bounded in time and size, runs under the endpoint's
// shared resilience policy, and fails with an error from the fault taxonomy.
package origin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"appview/internal/fault"
	"appview/pkg/domain"
)

const (
	defaultMaxRecordBytes int64 = 1 << 20
	defaultMaxBlobBytes   int64 = 50 << 20
	defaultUserAgent            = "appview-reconciler/1.0"
	defaultRatePerSecond        = 10
	defaultRateBurst            = 20
	errorBodyLimit        int64 = 64 << 10
)

var tracer = otel.Tracer("appview/internal/origin")

// Record is a single record as served by its origin.
type Record struct {
	URI   string          `json:"uri"`
	CID   string          `json:"cid"`
	Value json.RawMessage `json:"value"`
}

// Page is one page of a collection listing.
type Page struct {
	Records []Record `json:"records"`
	Cursor  string   `json:"cursor,omitempty"`
}

// Repo is a repository hosted on an origin.
type Repo struct {
	DID    string `json:"did"`
	Head   string `json:"head"`
	Rev    string `json:"rev"`
	Active *bool  `json:"active,omitempty"`
	Status string `json:"status,omitempty"`
}

// IsActive reports whether the origin serves the repository's records. Origins
// that predate the active flag omit it.
func (r Repo) IsActive() bool {
	return r.Active == nil || *r.Active
}

// RepoPage is one page of an origin's repository listing.
type RepoPage struct {
	Repos  []Repo `json:"repos"`
	Cursor string `json:"cursor,omitempty"`
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client performs bounded calls against origin endpoints under a resilience policy.
type Client struct {
	httpClient     *http.Client
	policy         Policy
	blobPolicy     Policy
	limiters       *limiterSet
	maxRecordBytes int64
	maxBlobBytes   int64
	userAgent      string
	logger         *slog.Logger
	metrics        *Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBlobPolicy sets a separate policy for blob downloads, typically sharing the
// breaker registry with a longer timeout.
func WithBlobPolicy(p Policy) Option {
	return func(c *Client) {
		if p != nil {
			c.blobPolicy = p
		}
	}
}

// WithMaxRecordBytes bounds record and listing response bodies.
func WithMaxRecordBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxRecordBytes = n
		}
	}
}

// WithMaxBlobBytes bounds blob downloads.
func WithMaxBlobBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBlobBytes = n
		}
	}
}

// WithRateLimit sets the per-origin request rate. A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.limiters = newLimiterSet(perSecond, burst)
	}
}

// WithUserAgent sets the User-Agent sent to origins.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient constructs an origin client running every call under policy.
func NewClient(policy Policy, opts ...Option) (*Client, error) {
	if policy == nil {
		return nil, errors.New("resilience policy is required")
	}
	c := &Client{
		httpClient:     &http.Client{},
		policy:         policy,
		limiters:       newLimiterSet(defaultRatePerSecond, defaultRateBurst),
		maxRecordBytes: defaultMaxRecordBytes,
		maxBlobBytes:   defaultMaxBlobBytes,
		userAgent:      defaultUserAgent,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.blobPolicy == nil {
		c.blobPolicy = c.policy
	}
	return c, nil
}

// FetchRecord fetches the origin's current version of a record. A record the
// origin reports as absent yields found=false and a nil error.
func (c *Client) FetchRecord(ctx context.Context, endpoint string, did domain.DID, collection, rkey string) (rec Record, found bool, err error) {
	ctx, finish := c.start(ctx, "fetchRecord", endpoint,
		attribute.String("record.repo", did.String()),
		attribute.String("record.collection", collection),
	)
	defer func() { finish(err, found) }()

	base, err := normalizeEndpoint(endpoint)
	if err != nil {
		return Record{}, false, err
	}
	q := url.Values{}
	q.Set("repo", did.String())
	q.Set("collection", collection)
	q.Set("rkey", rkey)

	if err = c.throttle(ctx, base); err != nil {
		return Record{}, false, err
	}
	err = c.policy.Execute(ctx, base, func(ctx context.Context) error {
		var out Record
		ok, err := c.getJSON(ctx, base, "com.atproto.repo.getRecord", q, &out)
		if err != nil {
			return err
		}
		if !ok {
			found = false
			return nil
		}
		if out.CID == "" {
			return fault.RecordFetch(base, http.StatusOK, "record response missing cid", nil)
		}
		rec, found = out, true
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, found, nil
}

// ListRecords lists one page of a repository collection.
func (c *Client) ListRecords(ctx context.Context, endpoint string, did domain.DID, collection, cursor string, limit int) (page Page, err error) {
	ctx, finish := c.start(ctx, "listRecords", endpoint,
		attribute.String("record.repo", did.String()),
		attribute.String("record.collection", collection),
	)
	defer func() { finish(err, true) }()

	base, err := normalizeEndpoint(endpoint)
	if err != nil {
		return Page{}, err
	}
	q := url.Values{}
	q.Set("repo", did.String())
	q.Set("collection", collection)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	if err = c.throttle(ctx, base); err != nil {
		return Page{}, err
	}
	err = c.policy.Execute(ctx, base, func(ctx context.Context) error {
		var out Page
		ok, err := c.getJSON(ctx, base, "com.atproto.repo.listRecords", q, &out)
		if err != nil {
			return err
		}
		if !ok {
			// An unknown repo or collection lists as empty.
			page = Page{}
			return nil
		}
		page = out
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	return page, nil
}

// ListRepos lists one page of the repositories hosted on an origin.
func (c *Client) ListRepos(ctx context.Context, endpoint, cursor string, limit int) (page RepoPage, err error) {
	ctx, finish := c.start(ctx, "listRepos", endpoint)
	defer func() { finish(err, true) }()

	base, err := normalizeEndpoint(endpoint)
	if err != nil {
		return RepoPage{}, err
	}
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	if err = c.throttle(ctx, base); err != nil {
		return RepoPage{}, err
	}
	err = c.policy.Execute(ctx, base, func(ctx context.Context) error {
		var out RepoPage
		ok, err := c.getJSON(ctx, base, "com.atproto.sync.listRepos", q, &out)
		if err != nil {
			return err
		}
		if !ok {
			return fault.RecordFetch(base, http.StatusNotFound, "origin does not list repositories", nil)
		}
		page = out
		return nil
	})
	if err != nil {
		return RepoPage{}, err
	}
	return page, nil
}

// FetchBlob downloads a blob. Downloads larger than the configured maximum fail
// with a BlobFetchError as soon as the limit is crossed, so at most max+1 bytes
// are ever buffered.
func (c *Client) FetchBlob(ctx context.Context, endpoint string, did domain.DID, cid string) (data []byte, err error) {
	ctx, finish := c.start(ctx, "fetchBlob", endpoint,
		attribute.String("record.repo", did.String()),
		attribute.String("blob.cid", cid),
	)
	defer func() { finish(err, true) }()

	base, err := normalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("did", did.String())
	q.Set("cid", cid)

	if err = c.throttle(ctx, base); err != nil {
		return nil, err
	}
	err = c.blobPolicy.Execute(ctx, base, func(ctx context.Context) error {
		resp, err := c.get(ctx, base, "com.atproto.sync.getBlob", q)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
			return statusError(base, resp.StatusCode, body)
		}
		if resp.ContentLength > c.maxBlobBytes {
			return fault.BlobFetch(base, fmt.Sprintf("declared size %d exceeds limit %d", resp.ContentLength, c.maxBlobBytes), nil)
		}
		buf, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBlobBytes+1))
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return fault.BlobFetch(base, "truncated blob", err)
		}
		if int64(len(buf)) > c.maxBlobBytes {
			return fault.BlobFetch(base, fmt.Sprintf("blob exceeds limit %d", c.maxBlobBytes), nil)
		}
		if resp.ContentLength >= 0 && int64(len(buf)) != resp.ContentLength {
			return fault.BlobFetch(base, "truncated blob", io.ErrUnexpectedEOF)
		}
		data = buf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// getJSON performs a GET and decodes a 2xx body into out. found is false when the
// origin reports the target absent.
func (c *Client) getJSON(ctx context.Context, base, method string, q url.Values, out any) (found bool, err error) {
	resp, err := c.get(ctx, base, method, q)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Error bodies are only inspected for the XRPC error name.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		if isNotFound(resp.StatusCode, body) {
			return false, nil
		}
		return false, statusError(base, resp.StatusCode, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxRecordBytes+1))
	if err != nil {
		return false, err
	}
	if int64(len(body)) > c.maxRecordBytes {
		return false, fault.RecordFetch(base, resp.StatusCode, fmt.Sprintf("response exceeds %d bytes", c.maxRecordBytes), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fault.RecordFetch(base, resp.StatusCode, "malformed response", err)
	}
	return true, nil
}

// throttle waits for the origin's request budget ahead of the policy, so local
// pacing is never accounted as an origin failure.
func (c *Client) throttle(ctx context.Context, base string) error {
	if err := c.limiters.wait(ctx, base); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("origin %s: waiting for request budget: %w", base, context.DeadlineExceeded)
	}
	return nil
}

func (c *Client) get(ctx context.Context, base, method string, q url.Values) (*http.Response, error) {
	target := base + "/xrpc/" + method
	if encoded := q.Encode(); encoded != "" {
		target += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fault.Connection(base, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return c.httpClient.Do(req)
}

// start opens a client span and returns a closure that ends it and records metrics.
func (c *Client) start(ctx context.Context, operation, endpoint string, attrs ...attribute.KeyValue) (context.Context, func(error, bool)) {
	begin := time.Now()
	attrs = append(attrs, attribute.String("origin.endpoint", endpoint))
	ctx, span := tracer.Start(ctx, "origin."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error, found bool) {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = string(fault.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			c.logger.DebugContext(ctx, "origin call failed",
				"operation", operation,
				"endpoint", endpoint,
				"error", err,
			)
		case !found:
			outcome = "not_found"
		}
		span.SetAttributes(attribute.String("origin.outcome", outcome))
		span.End()
		c.metrics.ObserveRequest(operation, outcome, time.Since(begin))
	}
}

// isNotFound recognizes the ways origins report an absent record: a plain 404,
// or the XRPC 400 with a RecordNotFound error name.
func isNotFound(status int, body []byte) bool {
	if status == http.StatusNotFound {
		return true
	}
	if status != http.StatusBadRequest {
		return false
	}
	var xe xrpcError
	if err := json.Unmarshal(body, &xe); err != nil {
		return false
	}
	return xe.Error == "RecordNotFound" || xe.Error == "NotFound"
}

// statusError classifies a non-2xx answer. 5xx and 429 are transient; every other
// status is a definitive answer about the request.
func statusError(base string, status int, body []byte) error {
	if status >= 500 || status == http.StatusTooManyRequests {
		return fault.ServerError(base, status)
	}
	var xe xrpcError
	_ = json.Unmarshal(body, &xe)
	msg := strings.TrimSpace(xe.Error + " " + xe.Message)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fault.RecordFetch(base, status, msg, nil)
}

// normalizeEndpoint validates an origin URL and strips trailing slashes so every
// caller keys breakers and limiters identically.
func normalizeEndpoint(endpoint string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fault.Connection(endpoint, "invalid origin endpoint", err)
	}
	return trimmed, nil
}

// NormalizeEndpoint is the exported form used by components that key state by origin.
func NormalizeEndpoint(endpoint string) (string, error) {
	return normalizeEndpoint(endpoint)
}
