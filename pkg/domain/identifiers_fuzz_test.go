//go:build go1.18

package domain

import "testing"

// FuzzParseATURI checks that parsing never panics and that accepted addresses
// round-trip through String.
func FuzzParseATURI(f *testing.F) {
	f.Add("")
	f.Add("at://did:plc:ewvi7nxzyoun6zhxrhs64oiz/app.bsky.feed.post/3k2a4b6c7d")
	f.Add("at://did:web:example.com/com.example.record/self")
	f.Add("at://did:plc:/a.b.c/d")
	f.Add("at:///")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		uri, err := ParseATURI(input)
		if err != nil {
			return
		}
		again, err := ParseATURI(uri.String())
		if err != nil {
			t.Fatalf("valid uri failed round-trip: %v", err)
		}
		if again != uri {
			t.Fatalf("round-trip changed uri: %v != %v", again, uri)
		}
	})
}
