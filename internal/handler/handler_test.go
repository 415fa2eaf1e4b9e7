package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appview/internal/fault"
	"appview/internal/pds"
	"appview/internal/reconcile"
	"appview/pkg/domain"
	"appview/pkg/platform/sentinel"
	"appview/pkg/testutil"
)

const testURI = "at://did:plc:abc234/app.bsky.feed.post/3k2a"

type stubReconciler struct {
	check      *reconcile.StalenessResult
	verify     *reconcile.VerifyResult
	refresh    *reconcile.RefreshResult
	refreshErr error
	lastURI    string
}

func (s *stubReconciler) CheckStaleness(_ context.Context, uri string) *reconcile.StalenessResult {
	s.lastURI = uri
	return s.check
}

func (s *stubReconciler) Verify(_ context.Context, uri string) *reconcile.VerifyResult {
	s.lastURI = uri
	return s.verify
}

func (s *stubReconciler) Refresh(_ context.Context, uri string) (*reconcile.RefreshResult, error) {
	s.lastURI = uri
	return s.refresh, s.refreshErr
}

func newRouter(t *testing.T, rec Reconciler, reg Registry) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	New(rec, reg, nil).Register(r)
	return r
}

func newRegistry(t *testing.T) *pds.Registry {
	t.Helper()
	reg, err := pds.NewRegistry(pds.NewInMemoryStore())
	require.NoError(t, err)
	return reg
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	return testutil.DecodeJSON(t, rec)
}

func serve(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var payload any
	if body != "" {
		payload = body
	}
	return testutil.DoRequest(router, testutil.NewJSONRequest(t, method, target, payload))
}

// =============================================================================
// Staleness checks
// =============================================================================
// Degraded checks are successful responses: the failure travels in the body.

func TestCheckStaleness(t *testing.T) {
	t.Run("stale result", func(t *testing.T) {
		stub := &stubReconciler{check: &reconcile.StalenessResult{
			URI: testURI, Status: reconcile.StatusStale, IsStale: true, IndexedCID: "abc", OriginCID: "def",
		}}
		router := newRouter(t, stub, newRegistry(t))

		rec := serve(t, router, http.MethodGet, RouteCheckStaleness+"?uri="+url.QueryEscape(testURI), "")

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["isStale"])
		assert.Equal(t, "abc", body["indexedCid"])
		assert.Equal(t, "def", body["originCid"])
		assert.Equal(t, testURI, stub.lastURI)
	})

	t.Run("unreachable origin is reported in the body", func(t *testing.T) {
		stub := &stubReconciler{check: &reconcile.StalenessResult{
			URI: testURI, Status: reconcile.StatusUnreachable,
			Error: &reconcile.ErrorInfo{Kind: fault.KindPDSConnection, Message: "circuit open"},
		}}
		router := newRouter(t, stub, newRegistry(t))

		rec := serve(t, router, http.MethodGet, RouteCheckStaleness+"?uri="+url.QueryEscape(testURI), "")

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["isStale"])
		errInfo, ok := body["error"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, string(fault.KindPDSConnection), errInfo["kind"])
	})

	t.Run("missing uri", func(t *testing.T) {
		router := newRouter(t, &stubReconciler{}, newRegistry(t))
		rec := serve(t, router, http.MethodGet, RouteCheckStaleness, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid uri", func(t *testing.T) {
		stub := &stubReconciler{check: &reconcile.StalenessResult{
			URI: "nope", Status: reconcile.StatusInvalid,
			Error: &reconcile.ErrorInfo{Kind: fault.KindInvalidURI, Message: `invalid_uri: cannot parse "nope"`},
		}}
		router := newRouter(t, stub, newRegistry(t))

		rec := serve(t, router, http.MethodGet, RouteCheckStaleness+"?uri=nope", "")

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "InvalidRequest", decode(t, rec)["error"])
	})
}

func TestVerify(t *testing.T) {
	indexedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stub := &stubReconciler{verify: &reconcile.VerifyResult{
		StalenessResult: reconcile.StalenessResult{URI: testURI, Status: reconcile.StatusFresh, IndexedCID: "abc", OriginCID: "abc"},
		IndexedAt:       &indexedAt,
	}}
	router := newRouter(t, stub, newRegistry(t))

	rec := serve(t, router, http.MethodGet, RouteVerify+"?uri="+url.QueryEscape(testURI), "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "fresh", body["status"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["indexedAt"])
	_, hasSynced := body["lastSyncedAt"]
	assert.False(t, hasSynced)
}

// =============================================================================
// Refresh
// =============================================================================

func TestRefreshRecord(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		stub := &stubReconciler{refresh: &reconcile.RefreshResult{URI: testURI, Action: reconcile.ActionApplied, CID: "def"}}
		router := newRouter(t, stub, newRegistry(t))

		rec := serve(t, router, http.MethodPost, RouteRefreshRecord, `{"uri":"`+testURI+`"}`)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "applied", body["action"])
		assert.Equal(t, "def", body["cid"])
	})

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid uri", fault.InvalidURI("x", errors.New("bad")), http.StatusBadRequest, "InvalidRequest"},
		{"identity", fault.IdentityResolution("did:plc:abc234", "no endpoint", nil), http.StatusBadGateway, "IdentityResolutionFailed"},
		{"connection", fault.CircuitOpen("https://pds.example"), http.StatusBadGateway, "UpstreamUnavailable"},
		{"record fetch", fault.RecordFetch("https://pds.example", 403, "forbidden", nil), http.StatusBadGateway, "UpstreamFailure"},
		{"index write", errors.New("apply record to index: broker down"), http.StatusInternalServerError, "InternalServerError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newRouter(t, &stubReconciler{refreshErr: tc.err}, newRegistry(t))

			rec := serve(t, router, http.MethodPost, RouteRefreshRecord, `{"uri":"`+testURI+`"}`)

			testutil.AssertStatusAndError(t, rec, tc.status, tc.code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		router := newRouter(t, &stubReconciler{}, newRegistry(t))
		rec := serve(t, router, http.MethodPost, RouteRefreshRecord, `{"uri":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty uri", func(t *testing.T) {
		router := newRouter(t, &stubReconciler{}, newRegistry(t))
		rec := serve(t, router, http.MethodPost, RouteRefreshRecord, `{"uri":"  "}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// Origin registration
// =============================================================================

func TestRegisterPDS(t *testing.T) {
	registry := newRegistry(t)
	router := newRouter(t, &stubReconciler{}, registry)

	rec := serve(t, router, http.MethodPost, RouteRegisterPDS, `{"endpoint":"https://Morel.US-East.Host.Bsky.Network/"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "https://morel.us-east.host.bsky.network", body["endpoint"])
	assert.Equal(t, true, body["isRelayConnected"])
	assert.Equal(t, "active", body["status"])

	rec = serve(t, router, http.MethodGet, RouteGetPDS+"?endpoint="+url.QueryEscape("https://morel.us-east.host.bsky.network"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["consecutiveFailures"])
}

func TestRegisterPDS_InvalidEndpoint(t *testing.T) {
	router := newRouter(t, &stubReconciler{}, newRegistry(t))

	for _, body := range []string{`{"endpoint":""}`, `{"endpoint":"ftp://pds.example"}`, `{"endpoint":"https://pds.example/xrpc"}`} {
		rec := serve(t, router, http.MethodPost, RouteRegisterPDS, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestGetPDS_NotFound(t *testing.T) {
	router := newRouter(t, &stubReconciler{}, newRegistry(t))

	rec := serve(t, router, http.MethodGet, RouteGetPDS+"?endpoint="+url.QueryEscape("https://unknown.example"), "")

	testutil.AssertStatusAndError(t, rec, http.StatusNotFound, "NotFound")
}

type failingRegistry struct{}

func (failingRegistry) RegisterPDS(context.Context, string) (*pds.Origin, error) {
	return nil, sentinel.ErrUnavailable
}

func (failingRegistry) Get(context.Context, string) (*pds.Origin, error) {
	return nil, sentinel.ErrUnavailable
}

func TestRegisterPDS_StoreFailureHidesDetail(t *testing.T) {
	router := newRouter(t, &stubReconciler{}, failingRegistry{})

	rec := serve(t, router, http.MethodPost, RouteRegisterPDS, `{"endpoint":"https://pds.example"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "InternalServerError", body["error"])
	_, ok := body["error_description"]
	assert.False(t, ok)
}

// =============================================================================
// Blob passthrough
// =============================================================================

type stubResolver struct {
	endpoint string
	err      error
}

func (s stubResolver) Resolve(context.Context, domain.DID) (string, error) {
	return s.endpoint, s.err
}

type stubBlobs struct {
	data     []byte
	err      error
	endpoint string
}

func (s *stubBlobs) FetchBlob(_ context.Context, endpoint string, _ domain.DID, _ string) ([]byte, error) {
	s.endpoint = endpoint
	return s.data, s.err
}

func newBlobRouter(t *testing.T, res Resolver, blobs BlobFetcher) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	New(&stubReconciler{}, newRegistry(t), nil, WithBlobs(res, blobs)).Register(r)
	return r
}

func TestGetBlob(t *testing.T) {
	target := RouteGetBlob + "?did=did:plc:abc234&cid=bafyblob"

	t.Run("streams bytes from the resolved origin", func(t *testing.T) {
		blobs := &stubBlobs{data: []byte("pixels")}
		router := newBlobRouter(t, stubResolver{endpoint: "https://pds.example"}, blobs)

		rec := serve(t, router, http.MethodGet, target, "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "pixels", rec.Body.String())
		assert.Equal(t, "6", rec.Header().Get("Content-Length"))
		assert.Equal(t, "https://pds.example", blobs.endpoint)
	})

	t.Run("oversized blob", func(t *testing.T) {
		blobs := &stubBlobs{err: fault.BlobFetch("https://pds.example", "blob exceeds limit 16", nil)}
		router := newBlobRouter(t, stubResolver{endpoint: "https://pds.example"}, blobs)

		rec := serve(t, router, http.MethodGet, target, "")

		require.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "BlobUnavailable", decode(t, rec)["error"])
	})

	t.Run("origin 404", func(t *testing.T) {
		blobs := &stubBlobs{err: fault.RecordFetch("https://pds.example", http.StatusNotFound, "BlobNotFound", nil)}
		router := newBlobRouter(t, stubResolver{endpoint: "https://pds.example"}, blobs)

		rec := serve(t, router, http.MethodGet, target, "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("identity failure", func(t *testing.T) {
		router := newBlobRouter(t, stubResolver{err: fault.IdentityResolution("did:plc:abc234", "no endpoint", nil)}, &stubBlobs{})

		rec := serve(t, router, http.MethodGet, target, "")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("invalid did", func(t *testing.T) {
		router := newBlobRouter(t, stubResolver{}, &stubBlobs{})

		rec := serve(t, router, http.MethodGet, RouteGetBlob+"?did=nope&cid=x", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("route absent without blob support", func(t *testing.T) {
		router := newRouter(t, &stubReconciler{}, newRegistry(t))

		rec := serve(t, router, http.MethodGet, target, "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
