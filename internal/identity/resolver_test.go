package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"appview/internal/fault"
	"appview/pkg/domain"
)

const testDID = domain.DID("did:plc:ewvi7nxzyoun6zhxrhs64oiz")

func didDocument(did, endpoint string) map[string]any {
	return map[string]any{
		"id":          did,
		"alsoKnownAs": []string{"at://alice.example.com"},
		"service": []map[string]any{
			{"id": "#atproto_pds", "type": "AtprotoPersonalDataServer", "serviceEndpoint": endpoint},
		},
	}
}

type ResolverSuite struct {
	suite.Suite
	plc      *httptest.Server
	calls    atomic.Int32
	docs     *sync.Map // did -> document (map) or status (int)
	clock    *clock.Mock
	metrics  *Metrics
	resolver *Resolver
	mu       sync.Mutex
	found    []string
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.calls.Store(0)
	s.docs = &sync.Map{}
	s.found = nil
	s.plc = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		v, ok := s.docs.Load(strings.TrimPrefix(r.URL.Path, "/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		if status, isStatus := v.(int); isStatus {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(v)
	}))
	s.clock = clock.NewMock()
	s.clock.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s.metrics = NewMetrics(prometheus.NewRegistry())

	var err error
	s.resolver, err = NewResolver(
		WithPLCURL(s.plc.URL),
		WithClock(s.clock),
		WithTTL(time.Hour),
		WithMetrics(s.metrics),
		WithDiscoveryHook(func(_ context.Context, endpoint string) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.found = append(s.found, endpoint)
		}),
	)
	s.Require().NoError(err)
}

func (s *ResolverSuite) TearDownTest() {
	s.plc.Close()
}

func (s *ResolverSuite) TestResolvesPLCDocument() {
	s.docs.Store(string(testDID), didDocument(string(testDID), "https://pds.example.com/"))

	endpoint, err := s.resolver.Resolve(context.Background(), testDID)
	s.Require().NoError(err)
	s.Equal("https://pds.example.com", endpoint)
	s.Equal([]string{"https://pds.example.com"}, s.found)
}

func (s *ResolverSuite) TestCachedWithinTTL() {
	s.docs.Store(string(testDID), didDocument(string(testDID), "https://pds.example.com"))
	ctx := context.Background()

	_, err := s.resolver.Resolve(ctx, testDID)
	s.Require().NoError(err)

	s.clock.Add(59 * time.Minute)
	endpoint, err := s.resolver.Resolve(ctx, testDID)
	s.Require().NoError(err)
	s.Equal("https://pds.example.com", endpoint)
	s.Equal(int32(1), s.calls.Load(), "second resolve within TTL makes no directory call")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CacheLookups.WithLabelValues("memory", "hit")))
}

func (s *ResolverSuite) TestRefetchesAfterExpiry() {
	s.docs.Store(string(testDID), didDocument(string(testDID), "https://old.example.com"))
	ctx := context.Background()

	_, err := s.resolver.Resolve(ctx, testDID)
	s.Require().NoError(err)

	s.docs.Store(string(testDID), didDocument(string(testDID), "https://new.example.com"))
	s.clock.Add(time.Hour)

	endpoint, err := s.resolver.Resolve(ctx, testDID)
	s.Require().NoError(err)
	s.Equal("https://new.example.com", endpoint, "migrated account resolves to its new origin")
	s.Equal(int32(2), s.calls.Load())
}

func (s *ResolverSuite) TestFailureInvalidatesEntry() {
	s.docs.Store(string(testDID), didDocument(string(testDID), "https://pds.example.com"))
	ctx := context.Background()

	_, err := s.resolver.Resolve(ctx, testDID)
	s.Require().NoError(err)

	s.clock.Add(2 * time.Hour)
	s.docs.Store(string(testDID), http.StatusInternalServerError)
	_, err = s.resolver.Resolve(ctx, testDID)
	s.True(fault.Is(err, fault.KindIdentityResolution))

	_, ok := s.resolver.cache.Get(testDID)
	s.False(ok)
}

func (s *ResolverSuite) TestInvalidateForcesRefetch() {
	s.docs.Store(string(testDID), didDocument(string(testDID), "https://pds.example.com"))
	ctx := context.Background()

	_, err := s.resolver.Resolve(ctx, testDID)
	s.Require().NoError(err)
	s.resolver.Invalidate(ctx, testDID)
	_, err = s.resolver.Resolve(ctx, testDID)
	s.Require().NoError(err)

	s.Equal(int32(2), s.calls.Load())
}

func (s *ResolverSuite) TestRejectsUnusableDocuments() {
	ctx := context.Background()
	cases := map[string]any{
		"did:plc:aaaaaaaaaaaaaaaaaaaaaaaa": map[string]any{"id": "did:plc:aaaaaaaaaaaaaaaaaaaaaaaa"},
		"did:plc:bbbbbbbbbbbbbbbbbbbbbbbb": didDocument("did:plc:cccccccccccccccccccccccc", "https://pds.example.com"),
		"did:plc:dddddddddddddddddddddddd": didDocument("did:plc:dddddddddddddddddddddddd", "ftp://pds.example.com"),
		"did:plc:eeeeeeeeeeeeeeeeeeeeeeee": map[string]any{
			"id": "did:plc:eeeeeeeeeeeeeeeeeeeeeeee",
			"service": []map[string]any{
				{"id": "#atproto_pds", "type": "SomethingElse", "serviceEndpoint": "https://pds.example.com"},
			},
		},
	}
	for did, doc := range cases {
		s.docs.Store(did, doc)
		_, err := s.resolver.Resolve(ctx, domain.DID(did))
		s.True(fault.Is(err, fault.KindIdentityResolution), did)
	}

	_, err := s.resolver.Resolve(ctx, domain.DID("did:plc:ffffffffffffffffffffffff"))
	s.True(fault.Is(err, fault.KindIdentityResolution), "unknown did")
	s.Empty(s.found)
}

func (s *ResolverSuite) TestConcurrentMissesShareOneFetch() {
	s.docs.Store(string(testDID), didDocument(string(testDID), "https://pds.example.com"))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.resolver.Resolve(context.Background(), testDID)
		}()
	}
	wg.Wait()

	s.LessOrEqual(s.calls.Load(), int32(20))
	_, ok := s.resolver.cache.Get(testDID)
	s.True(ok)
}

func TestResolver_DIDWeb(t *testing.T) {
	var host string
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, didWebDocumentPath, r.URL.Path)
		_ = json.NewEncoder(w).Encode(didDocument("did:web:"+host, "https://pds.example.com"))
	}))
	defer server.Close()

	host = strings.ReplaceAll(strings.TrimPrefix(server.URL, "https://"), ":", "%3A")
	did, err := domain.ParseDID("did:web:" + host)
	require.NoError(t, err)

	resolver, err := NewResolver(WithHTTPClient(server.Client()))
	require.NoError(t, err)

	endpoint, err := resolver.Resolve(context.Background(), did)
	require.NoError(t, err)
	assert.Equal(t, "https://pds.example.com", endpoint)
}

type fakeSharedCache struct {
	mu      sync.Mutex
	entries map[domain.DID]Entry
	getErr  error
	deletes int
}

func newFakeSharedCache() *fakeSharedCache {
	return &fakeSharedCache{entries: map[domain.DID]Entry{}}
}

func (f *fakeSharedCache) Get(_ context.Context, did domain.DID) (Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return Entry{}, false, f.getErr
	}
	e, ok := f.entries[did]
	return e, ok, nil
}

func (f *fakeSharedCache) Set(_ context.Context, e Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.DID] = e
	return nil
}

func (f *fakeSharedCache) Delete(_ context.Context, did domain.DID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.entries, did)
	return nil
}

func TestResolver_SharedTier(t *testing.T) {
	var calls atomic.Int32
	plc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer plc.Close()

	clk := clock.NewMock()
	shared := newFakeSharedCache()
	shared.entries[testDID] = Entry{DID: testDID, Endpoint: "https://shared.example.com", ResolvedAt: clk.Now(), TTL: time.Hour}

	resolver, err := NewResolver(WithPLCURL(plc.URL), WithClock(clk), WithSharedCache(shared))
	require.NoError(t, err)

	t.Run("local miss is served by the shared tier", func(t *testing.T) {
		endpoint, err := resolver.Resolve(context.Background(), testDID)
		require.NoError(t, err)
		assert.Equal(t, "https://shared.example.com", endpoint)
		assert.Zero(t, calls.Load())
		assert.Equal(t, 1, resolver.cache.Len(), "shared hit populates the local tier")
	})

	t.Run("failure invalidates every tier", func(t *testing.T) {
		resolver.Invalidate(context.Background(), testDID)
		shared.entries[testDID] = Entry{DID: testDID, Endpoint: "https://shared.example.com", ResolvedAt: clk.Now(), TTL: time.Hour}
		shared.getErr = errors.New("redis down")

		_, err := resolver.Resolve(context.Background(), testDID)
		assert.True(t, fault.Is(err, fault.KindIdentityResolution))
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 2, shared.deletes)
		assert.NotContains(t, shared.entries, testDID)
	})
}

func TestMemoryCache_ExpiresAgainstClock(t *testing.T) {
	clk := clock.NewMock()
	cache, err := NewMemoryCache(2, clk)
	require.NoError(t, err)

	cache.Put(Entry{DID: "did:plc:aaaa", Endpoint: "https://a", ResolvedAt: clk.Now(), TTL: time.Minute})
	_, ok := cache.Get("did:plc:aaaa")
	assert.True(t, ok)

	clk.Add(time.Minute)
	_, ok = cache.Get("did:plc:aaaa")
	assert.False(t, ok, "entry is dead at exactly resolvedAt+ttl")
	assert.Zero(t, cache.Len())
}

func TestMemoryCache_BoundedAndSingleEntryPerDID(t *testing.T) {
	clk := clock.NewMock()
	cache, err := NewMemoryCache(2, clk)
	require.NoError(t, err)

	put := func(did, endpoint string) {
		cache.Put(Entry{DID: domain.DID(did), Endpoint: endpoint, ResolvedAt: clk.Now(), TTL: time.Hour})
	}
	put("did:plc:aaaa", "https://a1")
	put("did:plc:aaaa", "https://a2")
	assert.Equal(t, 1, cache.Len())

	e, ok := cache.Get("did:plc:aaaa")
	require.True(t, ok)
	assert.Equal(t, "https://a2", e.Endpoint)

	put("did:plc:bbbb", "https://b")
	put("did:plc:cccc", "https://c")
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.Get("did:plc:aaaa")
	assert.False(t, ok, "least recently used entry is evicted")
}
