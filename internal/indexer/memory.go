package indexer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/benbjohnson/clock"
)

// MemoryIndex is an in-process index usable as both reader and writer.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]IndexedRecord
	clock   clock.Clock
}

// MemoryOption configures a MemoryIndex.
type MemoryOption func(*MemoryIndex)

// WithClock sets the clock used to stamp records.
func WithClock(clk clock.Clock) MemoryOption {
	return func(m *MemoryIndex) {
		if clk != nil {
			m.clock = clk
		}
	}
}

func NewMemoryIndex(opts ...MemoryOption) *MemoryIndex {
	m := &MemoryIndex{
		records: make(map[string]IndexedRecord),
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lookup returns the indexed pointer for uri.
func (m *MemoryIndex) Lookup(_ context.Context, uri string) (IndexedRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[uri]
	return rec, ok, nil
}

// LookupMany returns the indexed pointers for the given uris that exist.
func (m *MemoryIndex) LookupMany(_ context.Context, uris []string) (map[string]IndexedRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]IndexedRecord, len(uris))
	for _, uri := range uris {
		if rec, ok := m.records[uri]; ok {
			out[uri] = rec
		}
	}
	return out, nil
}

// ApplyRecord stores cid as the indexed version. Reapplying the held version only
// refreshes the sync stamp.
func (m *MemoryIndex) ApplyRecord(_ context.Context, uri, cid string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	rec, ok := m.records[uri]
	if !ok || rec.CID != cid {
		rec = IndexedRecord{URI: uri, CID: cid, IndexedAt: now}
	}
	rec.Value = append(json.RawMessage(nil), value...)
	rec.LastSyncedAt = &now
	m.records[uri] = rec
	return nil
}

// RemoveRecord drops uri. Removing an absent record is not an error.
func (m *MemoryIndex) RemoveRecord(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, uri)
	return nil
}

// Put seeds a record as-is.
func (m *MemoryIndex) Put(rec IndexedRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.URI] = rec
}

// Len returns the number of indexed records.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
