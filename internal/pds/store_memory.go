package pds

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"appview/pkg/platform/sentinel"
)

// InMemoryStore is a mutex-guarded Store for development and tests.
type InMemoryStore struct {
	mu      sync.Mutex
	origins map[string]*Origin
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{origins: make(map[string]*Origin)}
}

func (s *InMemoryStore) EnsureKnown(_ context.Context, endpoint string, relayConnected bool, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.origins[endpoint]; ok {
		return false, nil
	}
	s.origins[endpoint] = newOrigin(endpoint, now)
	s.origins[endpoint].IsRelayConnected = relayConnected
	return true, nil
}

func (s *InMemoryStore) Upsert(_ context.Context, endpoint string, hints Hints, relayDefault bool, now time.Time) (*Origin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.origins[endpoint]
	if !ok {
		o = newOrigin(endpoint, now)
		o.IsRelayConnected = relayDefault
		s.origins[endpoint] = o
	}
	if hints.Status != nil {
		o.Status = *hints.Status
	}
	if hints.ScanPriority != nil {
		o.ScanPriority = *hints.ScanPriority
	}
	if hints.HasKnownRecords != nil {
		o.HasKnownRecords = *hints.HasKnownRecords
	}
	if hints.IsRelayConnected != nil {
		o.IsRelayConnected = *hints.IsRelayConnected
	}
	o.UpdatedAt = now
	return copyOrigin(o), nil
}

func (s *InMemoryStore) Get(_ context.Context, endpoint string) (*Origin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.origins[endpoint]
	if !ok {
		return nil, fmt.Errorf("origin %s: %w", endpoint, sentinel.ErrNotFound)
	}
	return copyOrigin(o), nil
}

func (s *InMemoryStore) ListActive(_ context.Context) ([]Origin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Origin, 0, len(s.origins))
	for _, o := range s.origins {
		if o.Status == StatusActive && !o.IsRelayConnected {
			out = append(out, *copyOrigin(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out, nil
}

func (s *InMemoryStore) RecordSuccess(_ context.Context, endpoint string, now, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.origins[endpoint]
	if !ok {
		return fmt.Errorf("origin %s: %w", endpoint, sentinel.ErrNotFound)
	}
	o.ConsecutiveFailures = 0
	o.LastScanAt = &now
	o.NextScanAt = &next
	o.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) IncrementFailures(_ context.Context, endpoint string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.origins[endpoint]
	if !ok {
		return 0, fmt.Errorf("origin %s: %w", endpoint, sentinel.ErrNotFound)
	}
	o.ConsecutiveFailures++
	o.LastScanAt = &now
	o.UpdatedAt = now
	return o.ConsecutiveFailures, nil
}

func (s *InMemoryStore) ScheduleNext(_ context.Context, endpoint string, failures int, next time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.origins[endpoint]
	if !ok {
		return false, fmt.Errorf("origin %s: %w", endpoint, sentinel.ErrNotFound)
	}
	if o.ConsecutiveFailures != failures {
		return false, nil
	}
	o.NextScanAt = &next
	return true, nil
}

func (s *InMemoryStore) ResetFailures(_ context.Context, endpoint string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.origins[endpoint]
	if !ok {
		return fmt.Errorf("origin %s: %w", endpoint, sentinel.ErrNotFound)
	}
	o.ConsecutiveFailures = 0
	o.NextScanAt = nil
	o.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) SetStatus(_ context.Context, endpoint string, status Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.origins[endpoint]
	if !ok {
		return fmt.Errorf("origin %s: %w", endpoint, sentinel.ErrNotFound)
	}
	o.Status = status
	o.UpdatedAt = now
	return nil
}

func newOrigin(endpoint string, now time.Time) *Origin {
	return &Origin{
		Endpoint:     endpoint,
		Status:       StatusActive,
		ScanPriority: DefaultScanPriority,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func copyOrigin(o *Origin) *Origin {
	c := *o
	if o.LastScanAt != nil {
		t := *o.LastScanAt
		c.LastScanAt = &t
	}
	if o.NextScanAt != nil {
		t := *o.NextScanAt
		c.NextScanAt = &t
	}
	return &c
}
