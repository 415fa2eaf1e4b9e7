package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidHandle is returned for strings that are not valid domain handles.
var ErrInvalidHandle = errors.New("invalid handle")

// Handle is a DNS name a repository uses as its human-readable alias.
type Handle string

// ParseHandle normalizes a handle to lower case and validates its shape.
func ParseHandle(s string) (Handle, error) {
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
	if len(s) == 0 || len(s) > 253 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	labels := strings.Split(s, ".")
	if len(labels) < 2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	for _, label := range labels {
		if label == "" || len(label) > 63 || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return "", fmt.Errorf("%w: %q", ErrInvalidHandle, s)
		}
		for _, r := range label {
			if !isAlnum(r) && r != '-' {
				return "", fmt.Errorf("%w: %q", ErrInvalidHandle, s)
			}
		}
	}
	return Handle(s), nil
}

func (h Handle) String() string {
	return string(h)
}
