// Package handler exposes staleness checks, refreshes and origin registration
// as XRPC-style HTTP endpoints.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"appview/internal/fault"
	"appview/internal/pds"
	"appview/internal/reconcile"
	"appview/pkg/domain"
	"appview/pkg/platform/httputil"
	"appview/pkg/platform/sentinel"
)

const (
	RouteCheckStaleness = "/xrpc/app.appview.sync.checkStaleness"
	RouteVerify         = "/xrpc/app.appview.sync.verify"
	RouteRefreshRecord  = "/xrpc/app.appview.sync.refreshRecord"
	RouteRegisterPDS    = "/xrpc/app.appview.sync.registerPDS"
	RouteGetPDS         = "/xrpc/app.appview.sync.getPDS"
	RouteGetBlob        = "/xrpc/app.appview.sync.getBlob"
)

// Reconciler defines the record operations served here.
type Reconciler interface {
	CheckStaleness(ctx context.Context, uri string) *reconcile.StalenessResult
	Verify(ctx context.Context, uri string) *reconcile.VerifyResult
	Refresh(ctx context.Context, uri string) (*reconcile.RefreshResult, error)
}

// Registry defines the origin registry operations served here.
type Registry interface {
	RegisterPDS(ctx context.Context, endpoint string) (*pds.Origin, error)
	Get(ctx context.Context, endpoint string) (*pds.Origin, error)
}

// Resolver maps a DID to its origin endpoint.
type Resolver interface {
	Resolve(ctx context.Context, did domain.DID) (string, error)
}

// BlobFetcher downloads blobs from an origin.
type BlobFetcher interface {
	FetchBlob(ctx context.Context, endpoint string, did domain.DID, cid string) ([]byte, error)
}

// Handler wires sync endpoints to the reconciler and origin registry.
type Handler struct {
	reconciler Reconciler
	registry   Registry
	resolver   Resolver
	blobs      BlobFetcher
	logger     *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithBlobs enables the blob passthrough route.
func WithBlobs(resolver Resolver, blobs BlobFetcher) Option {
	return func(h *Handler) {
		h.resolver = resolver
		h.blobs = blobs
	}
}

// New constructs a handler with its dependencies.
func New(reconciler Reconciler, registry Registry, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		reconciler: reconciler,
		registry:   registry,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts sync endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get(RouteCheckStaleness, h.HandleCheckStaleness)
	r.Get(RouteVerify, h.HandleVerify)
	r.Post(RouteRefreshRecord, h.HandleRefreshRecord)
	r.Post(RouteRegisterPDS, h.HandleRegisterPDS)
	r.Get(RouteGetPDS, h.HandleGetPDS)
	if h.blobs != nil && h.resolver != nil {
		r.Get(RouteGetBlob, h.HandleGetBlob)
	}
}

type refreshRequest struct {
	URI string `json:"uri"`
}

type registerRequest struct {
	Endpoint string `json:"endpoint"`
}

// HandleCheckStaleness handles GET checkStaleness?uri=. Check failures are part of
// the result body; only a missing or malformed uri is a client error.
func (h *Handler) HandleCheckStaleness(w http.ResponseWriter, r *http.Request) {
	uri, ok := requireURI(w, r.URL.Query().Get("uri"))
	if !ok {
		return
	}
	res := h.reconciler.CheckStaleness(r.Context(), uri)
	if res.Status == reconcile.StatusInvalid {
		writeInvalid(w, res)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleVerify handles GET verify?uri=.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	uri, ok := requireURI(w, r.URL.Query().Get("uri"))
	if !ok {
		return
	}
	res := h.reconciler.Verify(r.Context(), uri)
	if res.Status == reconcile.StatusInvalid {
		writeInvalid(w, &res.StalenessResult)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleRefreshRecord handles POST refreshRecord {uri}.
func (h *Handler) HandleRefreshRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[refreshRequest](r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	uri, ok := requireURI(w, req.URI)
	if !ok {
		return
	}

	res, err := h.reconciler.Refresh(ctx, uri)
	if err != nil {
		status, code := refreshErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(ctx, "refresh failed", "uri", uri, "error", err)
		} else {
			h.logger.WarnContext(ctx, "refresh failed", "uri", uri, "error", err)
		}
		httputil.WriteError(w, status, code, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleRegisterPDS handles POST registerPDS {endpoint}.
func (h *Handler) HandleRegisterPDS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[registerRequest](r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		httputil.WriteError(w, http.StatusBadRequest, "InvalidRequest", "endpoint is required")
		return
	}

	origin, err := h.registry.RegisterPDS(ctx, req.Endpoint)
	if err != nil {
		if errors.Is(err, pds.ErrInvalidEndpoint) {
			httputil.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
			return
		}
		h.logger.ErrorContext(ctx, "register origin failed", "endpoint", req.Endpoint, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "InternalServerError", err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, origin)
}

// HandleGetPDS handles GET getPDS?endpoint=.
func (h *Handler) HandleGetPDS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	endpoint, err := pds.NormalizeEndpoint(r.URL.Query().Get("endpoint"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	origin, err := h.registry.Get(ctx, endpoint)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "NotFound", "origin not registered")
	case err != nil:
		h.logger.ErrorContext(ctx, "get origin failed", "endpoint", endpoint, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "InternalServerError", err.Error())
	default:
		httputil.WriteJSON(w, http.StatusOK, origin)
	}
}

// HandleGetBlob handles GET getBlob?did=&cid=, streaming the origin's blob back
// within the configured size limit.
func (h *Handler) HandleGetBlob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	did, err := domain.ParseDID(q.Get("did"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	cid := strings.TrimSpace(q.Get("cid"))
	if cid == "" {
		httputil.WriteError(w, http.StatusBadRequest, "InvalidRequest", "cid is required")
		return
	}

	endpoint, err := h.resolver.Resolve(ctx, did)
	if err != nil {
		h.writeUpstreamError(w, r, "resolve blob origin failed", err)
		return
	}
	data, err := h.blobs.FetchBlob(ctx, endpoint, did, cid)
	if err != nil {
		h.writeUpstreamError(w, r, "blob fetch failed", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) writeUpstreamError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Kind == fault.KindRecordFetch && fe.StatusCode == http.StatusNotFound {
		httputil.WriteError(w, http.StatusNotFound, "NotFound", "blob not found")
		return
	}
	status, code := refreshErrorStatus(err)
	if fault.Is(err, fault.KindBlobFetch) {
		status, code = http.StatusBadGateway, "BlobUnavailable"
	}
	h.logger.WarnContext(r.Context(), msg, "error", err)
	httputil.WriteError(w, status, code, err.Error())
}

func requireURI(w http.ResponseWriter, uri string) (string, bool) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		httputil.WriteError(w, http.StatusBadRequest, "InvalidRequest", "uri is required")
		return "", false
	}
	return uri, true
}

func writeInvalid(w http.ResponseWriter, res *reconcile.StalenessResult) {
	msg := "invalid record uri"
	if res.Error != nil {
		msg = res.Error.Message
	}
	httputil.WriteError(w, http.StatusBadRequest, "InvalidRequest", msg)
}

// refreshErrorStatus maps a refresh failure to a response status and error code.
// Upstream failures are gateway errors; the index was left untouched.
func refreshErrorStatus(err error) (int, string) {
	switch fault.KindOf(err) {
	case fault.KindInvalidURI:
		return http.StatusBadRequest, "InvalidRequest"
	case fault.KindIdentityResolution:
		return http.StatusBadGateway, "IdentityResolutionFailed"
	case fault.KindPDSConnection:
		return http.StatusBadGateway, "UpstreamUnavailable"
	case fault.KindRecordFetch:
		return http.StatusBadGateway, "UpstreamFailure"
	default:
		return http.StatusInternalServerError, "InternalServerError"
	}
}
