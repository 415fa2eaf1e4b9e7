package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DIDMethod identifies how a DID document is located.
type DIDMethod string

// Supported DID methods.
const (
	DIDMethodPLC DIDMethod = "plc"
	DIDMethodWeb DIDMethod = "web"
)

// ErrInvalidDID is returned for identifiers that are not syntactically valid DIDs.
var ErrInvalidDID = errors.New("invalid did")

// maxDIDLength bounds identifiers accepted from untrusted input.
const maxDIDLength = 2048

// DID is a decentralized identifier of the form did:<method>:<identifier>.
// This is a domain primitive that enforces validity at parse time.
type DID string

// ParseDID validates and returns a DID. Only the plc and web methods are accepted
// since those are the only ones origin servers are reachable through.
func ParseDID(s string) (DID, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxDIDLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidDID, s)
	}
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "did" || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidDID, s)
	}
	switch DIDMethod(parts[1]) {
	case DIDMethodPLC:
		if !isBase32Lower(parts[2]) {
			return "", fmt.Errorf("%w: malformed plc identifier %q", ErrInvalidDID, s)
		}
	case DIDMethodWeb:
		if strings.ContainsAny(parts[2], "/?#") {
			return "", fmt.Errorf("%w: malformed web identifier %q", ErrInvalidDID, s)
		}
	default:
		return "", fmt.Errorf("%w: unsupported method %q", ErrInvalidDID, parts[1])
	}
	return DID(s), nil
}

// Method returns the DID method.
func (d DID) Method() DIDMethod {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return DIDMethod(parts[1])
}

// Identifier returns the method-specific identifier.
func (d DID) Identifier() string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}

// WebHost returns the host a did:web document is served from. Port separators are
// percent-encoded in did:web identifiers.
func (d DID) WebHost() string {
	if d.Method() != DIDMethodWeb {
		return ""
	}
	return strings.ReplaceAll(d.Identifier(), "%3A", ":")
}

func (d DID) String() string {
	return string(d)
}

// IsNil returns true if the DID is empty.
func (d DID) IsNil() bool {
	return d == ""
}

func isBase32Lower(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			return false
		}
	}
	return true
}
