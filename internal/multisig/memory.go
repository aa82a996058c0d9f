package multisig

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation. Each
// proposal carries its own lock, so the Sign check-and-flip is atomic per
// proposal without serialising unrelated proposals.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[uuid.UUID]*memProposal
}

type memProposal struct {
	mu sync.Mutex
	p  Proposal
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[uuid.UUID]*memProposal)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[p.ID] = &memProposal{p: *snapshot(p)}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Proposal, error) {
	s.mu.RLock()
	slot, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return snapshot(&slot.p), nil
}

// List implements Store. Results are ordered by proposal time.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Proposal, error) {
	s.mu.RLock()
	slots := make([]*memProposal, 0, len(s.slots))
	for _, slot := range s.slots {
		slots = append(slots, slot)
	}
	s.mu.RUnlock()

	var out []*Proposal
	for _, slot := range slots {
		slot.mu.Lock()
		if f.matches(&slot.p) {
			out = append(out, snapshot(&slot.p))
		}
		slot.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProposedAt.Before(out[j].ProposedAt) })
	return out, nil
}

// Sign implements Store.
func (s *MemoryStore) Sign(_ context.Context, id uuid.UUID, entry SignerEntry) (*Proposal, bool, error) {
	s.mu.RLock()
	slot, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, ErrNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	reached, err := applySignature(&slot.p, entry)
	if err != nil {
		return nil, false, err
	}
	return snapshot(&slot.p), reached, nil
}

// Reject implements Store.
func (s *MemoryStore) Reject(_ context.Context, id uuid.UUID, rejectedBy, reason string, at time.Time) (*Proposal, error) {
	s.mu.RLock()
	slot, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	if err := applyRejection(&slot.p, rejectedBy, reason, at); err != nil {
		return nil, err
	}
	return snapshot(&slot.p), nil
}

// snapshot returns a deep copy of p so callers can never mutate stored state.
func snapshot(p *Proposal) *Proposal {
	cp := *p
	cp.Signers = make([]SignerEntry, len(p.Signers))
	copy(cp.Signers, p.Signers)
	if p.ExecutedAt != nil {
		at := *p.ExecutedAt
		cp.ExecutedAt = &at
	}
	if p.RejectedAt != nil {
		at := *p.RejectedAt
		cp.RejectedAt = &at
	}
	return &cp
}
