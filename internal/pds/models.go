package pds

import (
	"errors"
	"time"
)

// Status is the administrative state of an origin.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBanned   Status = "banned"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusBanned:
		return true
	}
	return false
}

// DefaultScanPriority is assigned to origins registered without a priority.
// Lower values are scanned first.
const DefaultScanPriority = 100

var (
	ErrInvalidEndpoint = errors.New("invalid origin endpoint")
	ErrInvalidStatus   = errors.New("invalid origin status")
)

// Origin is a registry entry for an origin server.
type Origin struct {
	Endpoint            string     `json:"endpoint"`
	Status              Status     `json:"status"`
	ScanPriority        int        `json:"scanPriority"`
	HasKnownRecords     bool       `json:"hasKnownRecords"`
	IsRelayConnected    bool       `json:"isRelayConnected"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastScanAt          *time.Time `json:"lastScanAt,omitempty"`
	NextScanAt          *time.Time `json:"nextScanAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Dormant reports whether the origin has failed often enough to be left out of
// selection until its failure counter is reset.
func (o *Origin) Dormant(maxFailures int) bool {
	return o.ConsecutiveFailures >= maxFailures
}

// Hints carries the fields an upsert should set. Nil fields are left unchanged
// on existing entries and defaulted on new ones.
type Hints struct {
	Status           *Status
	ScanPriority     *int
	HasKnownRecords  *bool
	IsRelayConnected *bool
}

func boolPtr(b bool) *bool { return &b }
