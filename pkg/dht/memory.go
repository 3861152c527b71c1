package dht

import (
	"context"
	"fmt"
	"sync"

	"github.com/pubky/pubky-core-client/pkg/errs"
	"github.com/pubky/pubky-core-client/pkg/keys"
	"github.com/pubky/pubky-core-client/pkg/record"
)

// MemoryStore keeps the newest record per key in memory. It is safe for
// concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[keys.PublicKey]*record.SignedRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[keys.PublicKey]*record.SignedRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, pub keys.PublicKey) (*record.SignedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrLookupFailed, err)
	}
	s.mu.RLock()
	r, ok := s.records[pub]
	s.mu.RUnlock()
	if !ok {
		return nil, errs.ErrEntryNotFound
	}
	return r, nil
}

// Put verifies r and stores it unless a record with a newer or equal timestamp
// is already held, in which case errs.ErrStaleRecord is returned.
func (s *MemoryStore) Put(ctx context.Context, r *record.SignedRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrEntryNotPublished, err)
	}
	if err := r.Verify(); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrEntryNotPublished, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[r.PublicKey]; ok && cur.Timestamp >= r.Timestamp {
		return fmt.Errorf("%w: %w", errs.ErrEntryNotPublished, errs.ErrStaleRecord)
	}
	s.records[r.PublicKey] = r
	return nil
}

// Len returns the number of keys with a stored record.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
