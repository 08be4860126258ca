package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/certlookup/internal/grading"
)

// LookupStore keeps lookup history per certification number.
type LookupStore struct {
	mu      sync.RWMutex
	records map[grading.CertificationNumber][]grading.LookupRecord
}

// NewLookupStore creates an empty LookupStore.
func NewLookupStore() *LookupStore {
	return &LookupStore{records: make(map[grading.CertificationNumber][]grading.LookupRecord)}
}

// RecordLookup implements grading.LookupRecorder.
func (s *LookupStore) RecordLookup(_ context.Context, record grading.LookupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.CertNumber] = append(s.records[record.CertNumber], record)
	return nil
}

// ListLookups implements grading.LookupHistory. limit <= 0 returns everything.
func (s *LookupStore) ListLookups(_ context.Context, cert grading.CertificationNumber, limit int) ([]grading.LookupRecord, error) {
	s.mu.RLock()
	out := append([]grading.LookupRecord(nil), s.records[cert]...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LookedUpAt.After(out[j].LookedUpAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
