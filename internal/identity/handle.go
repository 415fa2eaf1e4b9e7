package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"

	"appview/pkg/domain"
)

const (
	handleTXTPrefix   = "_atproto."
	didTXTPrefix      = "did="
	wellKnownDIDPath  = "/.well-known/atproto-did"
	resolvConfPath    = "/etc/resolv.conf"
	fallbackDNSServer = "1.1.1.1:53"
	maxWellKnownBytes = 2048
)

var errNoHandleRecord = errors.New("handle has no did record")

type handleResolver struct {
	nameserver   string
	dnsClient    *dns.Client
	httpClient   *http.Client
	timeout      time.Duration
	wellKnownURL func(domain.Handle) string
}

func newHandleResolver() *handleResolver {
	nameserver := fallbackDNSServer
	if conf, err := dns.ClientConfigFromFile(resolvConfPath); err == nil && len(conf.Servers) > 0 {
		nameserver = conf.Servers[0] + ":" + conf.Port
	}
	return &handleResolver{
		nameserver: nameserver,
		dnsClient:  &dns.Client{Net: "udp"},
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		wellKnownURL: func(h domain.Handle) string {
			return "https://" + h.String() + wellKnownDIDPath
		},
	}
}

func (h *handleResolver) resolve(ctx context.Context, handle domain.Handle) (domain.DID, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	did, dnsErr := h.lookupTXT(ctx, handle)
	if dnsErr == nil {
		return did, nil
	}
	did, httpErr := h.lookupWellKnown(ctx, handle)
	if httpErr == nil {
		return did, nil
	}
	return "", errors.Join(fmt.Errorf("dns: %w", dnsErr), fmt.Errorf("https: %w", httpErr))
}

func (h *handleResolver) lookupTXT(ctx context.Context, handle domain.Handle) (domain.DID, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(handleTXTPrefix+handle.String()), dns.TypeTXT)
	msg.RecursionDesired = true

	resp, _, err := h.dnsClient.ExchangeContext(ctx, msg, h.nameserver)
	if err != nil {
		return "", err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("dns rcode %s", dns.RcodeToString[resp.Rcode])
	}

	var found domain.DID
	for _, rr := range resp.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		value, ok := strings.CutPrefix(strings.Join(txt.Txt, ""), didTXTPrefix)
		if !ok {
			continue
		}
		did, err := domain.ParseDID(value)
		if err != nil {
			return "", err
		}
		if found != "" && found != did {
			return "", errors.New("handle has conflicting did records")
		}
		found = did
	}
	if found == "" {
		return "", errNoHandleRecord
	}
	return found, nil
}

func (h *handleResolver) lookupWellKnown(ctx context.Context, handle domain.Handle) (domain.DID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.wellKnownURL(handle), nil)
	if err != nil {
		return "", err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("well-known returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWellKnownBytes))
	if err != nil {
		return "", err
	}
	return domain.ParseDID(strings.TrimSpace(string(body)))
}
