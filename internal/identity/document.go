package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	pdsServiceFragment = "#atproto_pds"
	pdsServiceType     = "AtprotoPersonalDataServer"
	handlePrefix       = "at://"
)

var (
	errNoPDSService    = errors.New("document has no atproto_pds service")
	errInvalidEndpoint = errors.New("pds service endpoint is not an absolute http(s) url")
)

// Document is the subset of a DID document the resolver reads.
type Document struct {
	ID          string    `json:"id"`
	AlsoKnownAs []string  `json:"alsoKnownAs"`
	Service     []Service `json:"service"`
}

// Service is a DID document service entry. Endpoints that are not plain strings
// are kept raw and rejected when read.
type Service struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	ServiceEndpoint json.RawMessage `json:"serviceEndpoint"`
}

func parseDocument(body []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode did document: %w", err)
	}
	if doc.ID == "" {
		return nil, errors.New("did document has no id")
	}
	return &doc, nil
}

// PDSEndpoint returns the origin server endpoint declared by the document, with
// trailing slashes removed.
func (d *Document) PDSEndpoint() (string, error) {
	for _, svc := range d.Service {
		if !d.isPDSService(svc) {
			continue
		}
		var raw string
		if err := json.Unmarshal(svc.ServiceEndpoint, &raw); err != nil {
			return "", errInvalidEndpoint
		}
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return "", errInvalidEndpoint
		}
		return strings.TrimRight(u.String(), "/"), nil
	}
	return "", errNoPDSService
}

// Handle returns the first at:// alias claimed by the document.
func (d *Document) Handle() string {
	for _, aka := range d.AlsoKnownAs {
		if h, ok := strings.CutPrefix(aka, handlePrefix); ok && h != "" {
			return h
		}
	}
	return ""
}

func (d *Document) isPDSService(svc Service) bool {
	if svc.Type != pdsServiceType {
		return false
	}
	return svc.ID == pdsServiceFragment || svc.ID == d.ID+pdsServiceFragment
}
