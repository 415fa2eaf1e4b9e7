package identity

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appview/internal/fault"
	"appview/pkg/domain"
)

// startDNS serves TXT answers from records on a loopback UDP port.
func startDNS(t *testing.T, records map[string][]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			resp := new(dns.Msg)
			resp.SetReply(req)
			name := req.Question[0].Name
			txts, ok := records[name]
			if !ok {
				resp.Rcode = dns.RcodeNameError
			}
			for _, txt := range txts {
				resp.Answer = append(resp.Answer, &dns.TXT{
					Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
					Txt: []string{txt},
				})
			}
			_ = w.WriteMsg(resp)
		}),
	}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}
	return pc.LocalAddr().String()
}

func newHandleTestResolver(t *testing.T, nameserver string, wellKnown *httptest.Server) *Resolver {
	t.Helper()
	opts := []Option{WithNameserver(nameserver), WithTimeout(2 * time.Second)}
	if wellKnown != nil {
		opts = append(opts, WithHTTPClient(wellKnown.Client()))
	}
	r, err := NewResolver(opts...)
	require.NoError(t, err)
	if wellKnown != nil {
		r.handles.wellKnownURL = func(domain.Handle) string { return wellKnown.URL + wellKnownDIDPath }
	}
	return r
}

func TestResolveHandle_DNS(t *testing.T) {
	ns := startDNS(t, map[string][]string{
		"_atproto.alice.example.com.": {"did=did:plc:ewvi7nxzyoun6zhxrhs64oiz"},
		"_atproto.split.example.com.": {"did=did:plc:aaaaaaaaaaaaaaaaaaaaaaaa", "did=did:plc:bbbbbbbbbbbbbbbbbbbbbbbb"},
	})
	failing := httptest.NewServer(http.NotFoundHandler())
	defer failing.Close()
	r := newHandleTestResolver(t, ns, failing)

	did, err := r.ResolveHandle(context.Background(), "alice.example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.DID("did:plc:ewvi7nxzyoun6zhxrhs64oiz"), did)

	_, err = r.ResolveHandle(context.Background(), "split.example.com")
	assert.True(t, fault.Is(err, fault.KindIdentityResolution), "conflicting records are rejected")
}

func TestResolveHandle_WellKnownFallback(t *testing.T) {
	ns := startDNS(t, map[string][]string{})
	wellKnown := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("did:plc:ewvi7nxzyoun6zhxrhs64oiz\n"))
	}))
	defer wellKnown.Close()
	r := newHandleTestResolver(t, ns, wellKnown)

	did, err := r.ResolveHandle(context.Background(), "bob.example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.DID("did:plc:ewvi7nxzyoun6zhxrhs64oiz"), did)
}

func TestResolveHandle_NothingFound(t *testing.T) {
	ns := startDNS(t, map[string][]string{})
	wellKnown := httptest.NewServer(http.NotFoundHandler())
	defer wellKnown.Close()
	r := newHandleTestResolver(t, ns, wellKnown)

	_, err := r.ResolveHandle(context.Background(), "nobody.example.com")
	assert.True(t, fault.Is(err, fault.KindIdentityResolution))
}
