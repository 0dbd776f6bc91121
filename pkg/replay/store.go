// Package replay implements the replay server side of the recovery
// protocol: an in-memory trade record store, a TCP server answering gap
// and replay-all requests, and an optional periodic multicast publisher
// used to drive the live feed (with optional synthetic gap injection for
// exercising the sequencer's recovery path).
package replay

import "github.com/lxfeed/tradefeed/pkg/wire"

// Store is a dense, sequence-indexed collection of trade records loaded
// once at startup (see internal/csvload).
type Store struct {
	records []wire.TradeRecord
}

// NewStore wraps records as the replay server's backing store. Callers
// are expected to have already sorted records by timestamp and assigned
// dense sequence numbers (internal/csvload.LoadFiles does both).
func NewStore(records []wire.TradeRecord) *Store {
	return &Store{records: records}
}

// Get returns the record at sequence index i, or false if i is out of range.
func (s *Store) Get(i uint64) (*wire.TradeRecord, bool) {
	if i >= uint64(len(s.records)) {
		return nil, false
	}
	return &s.records[i], true
}

// Size returns the number of records in the store.
func (s *Store) Size() int { return len(s.records) }
