package pds

import (
	"net/url"
	"strings"

	platformstrings "appview/pkg/platform/strings"
)

// DefaultRelayPatterns match hosts whose changes already arrive over the relay.
var DefaultRelayPatterns = []string{".host.bsky.network"}

// RelayClassifier decides from an endpoint's host whether the relay already
// streams its changes.
type RelayClassifier struct {
	suffixes []string
}

func NewRelayClassifier(patterns []string) *RelayClassifier {
	suffixes := platformstrings.DedupeAndTrimLower(patterns)
	for i, p := range suffixes {
		if !strings.HasPrefix(p, ".") {
			suffixes[i] = "." + p
		}
	}
	return &RelayClassifier{suffixes: suffixes}
}

// IsRelayConnected reports whether endpoint matches a relay-connected pattern.
func (c *RelayClassifier) IsRelayConnected(endpoint string) bool {
	if c == nil {
		return false
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	host := "." + strings.ToLower(u.Hostname())
	for _, suffix := range c.suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}
