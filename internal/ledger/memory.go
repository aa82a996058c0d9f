package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reliefops/incidenttrust/internal/hashchain"
)

// MemoryStore is an in-memory, thread-safe Store implementation. Each
// incident carries its own lock so appends to different incidents never
// contend; the outer lock only guards the timeline map itself.
type MemoryStore struct {
	mu        sync.RWMutex
	timelines map[string]*memTimeline
}

type memTimeline struct {
	mu sync.RWMutex
	tl Timeline
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{timelines: make(map[string]*memTimeline)}
}

// getOrCreate returns the incident's timeline slot, creating it if absent.
func (s *MemoryStore) getOrCreate(incidentID string) *memTimeline {
	s.mu.RLock()
	m, ok := s.timelines[incidentID]
	s.mu.RUnlock()
	if ok {
		return m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.timelines[incidentID]; ok {
		return m
	}
	m = &memTimeline{tl: Timeline{IncidentID: incidentID, RootHash: hashchain.EmptyRoot}}
	s.timelines[incidentID] = m
	return m
}

// Init implements Store.
func (s *MemoryStore) Init(_ context.Context, incidentID string) (*Timeline, error) {
	m := s.getOrCreate(incidentID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(), nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, event *AuditEvent) (hashchain.Fingerprint, error) {
	m := s.getOrCreate(event.IncidentID)
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tl.Events = append(m.tl.Events, *event)
	m.tl.RootHash = ComputeRoot(m.tl.Events)
	return m.tl.RootHash, nil
}

// Timeline implements Store.
func (s *MemoryStore) Timeline(_ context.Context, incidentID string) (*Timeline, error) {
	s.mu.RLock()
	m, ok := s.timelines[incidentID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(), nil
}

// SetAnchor implements Store.
func (s *MemoryStore) SetAnchor(_ context.Context, incidentID, txHash string, block int64, at time.Time) error {
	s.mu.RLock()
	m, ok := s.timelines[incidentID]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tl.LastAnchorTxHash = txHash
	m.tl.LastAnchorBlock = block
	anchoredAt := at
	m.tl.AnchoredAt = &anchoredAt
	return nil
}

// Incidents implements Store.
func (s *MemoryStore) Incidents(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.timelines))
	for id := range s.timelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// snapshot returns a deep copy of the timeline. Callers must hold m.mu.
func (m *memTimeline) snapshot() *Timeline {
	cp := m.tl
	cp.Events = make([]AuditEvent, len(m.tl.Events))
	copy(cp.Events, m.tl.Events)
	if m.tl.AnchoredAt != nil {
		at := *m.tl.AnchoredAt
		cp.AnchoredAt = &at
	}
	return &cp
}
