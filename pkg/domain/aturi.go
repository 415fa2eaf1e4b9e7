package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidATURI is returned when a record address cannot be parsed.
var ErrInvalidATURI = errors.New("invalid at-uri")

const atURIScheme = "at://"

// ATURI is the canonical address of a single record: the owning repository DID,
// the collection NSID, and the record key.
type ATURI struct {
	Repo       DID
	Collection string
	RKey       string
}

// ParseATURI parses at://<did>/<collection>/<rkey>. Handle authorities are rejected
// because records are reconciled by the DID that owns them.
func ParseATURI(s string) (ATURI, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, atURIScheme) {
		return ATURI{}, fmt.Errorf("%w: missing scheme in %q", ErrInvalidATURI, s)
	}
	rest := strings.TrimPrefix(s, atURIScheme)
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return ATURI{}, fmt.Errorf("%w: expected did/collection/rkey in %q", ErrInvalidATURI, s)
	}
	did, err := ParseDID(parts[0])
	if err != nil {
		return ATURI{}, fmt.Errorf("%w: %w", ErrInvalidATURI, err)
	}
	if !isNSID(parts[1]) {
		return ATURI{}, fmt.Errorf("%w: invalid collection %q", ErrInvalidATURI, parts[1])
	}
	if !isRecordKey(parts[2]) {
		return ATURI{}, fmt.Errorf("%w: invalid record key %q", ErrInvalidATURI, parts[2])
	}
	return ATURI{Repo: did, Collection: parts[1], RKey: parts[2]}, nil
}

// String renders the canonical at:// form.
func (u ATURI) String() string {
	return atURIScheme + u.Repo.String() + "/" + u.Collection + "/" + u.RKey
}

// DID returns the repository that owns the record.
func (u ATURI) DID() DID {
	return u.Repo
}

func isNSID(s string) bool {
	segments := strings.Split(s, ".")
	if len(segments) < 3 || len(s) > 317 {
		return false
	}
	for _, seg := range segments {
		if seg == "" || len(seg) > 63 {
			return false
		}
		for _, r := range seg {
			if !isAlnum(r) && r != '-' {
				return false
			}
		}
	}
	return true
}

func isRecordKey(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > 512 {
		return false
	}
	for _, r := range s {
		if !isAlnum(r) && !strings.ContainsRune("._:~-", r) {
			return false
		}
	}
	return true
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
