// Package indexer adapts the external record index. The reconciler reads the
// indexed pointer for a record and hands apply/remove decisions to a writer; the
// index table itself belongs to the indexer.
package indexer

import (
	"encoding/json"
	"time"
)

// IndexedRecord is the index's pointer to the version of a record it holds.
type IndexedRecord struct {
	URI            string
	CID            string
	Value          json.RawMessage
	IndexedAt      time.Time
	LastSyncedAt   *time.Time
	OriginEndpoint string
}

// Op is a decision handed to the indexer.
type Op string

const (
	OpApply  Op = "apply"
	OpRemove Op = "remove"
)

// Decision is the message the indexer consumes for one record.
type Decision struct {
	Op        Op              `json:"op"`
	URI       string          `json:"uri"`
	CID       string          `json:"cid,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	DecidedAt time.Time       `json:"decided_at"`
}
