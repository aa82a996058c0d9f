// Package multisig implements the threshold-signature approval workflow for
// critical actions. A proposal starts Pending, collects signatures from
// distinct actors, and flips atomically to Approved the moment the threshold
// is met; rejection is possible only while Pending. Approved and Rejected are
// terminal.
package multisig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reliefops/incidenttrust/internal/hashchain"
)

var (
	// ErrNotFound is returned when a proposal id is unknown.
	ErrNotFound = errors.New("proposal not found")

	// ErrAlreadySigned is returned when an actor signs a proposal twice.
	ErrAlreadySigned = errors.New("actor has already signed this proposal")

	// ErrNotPending is returned when Sign or Reject is attempted on a
	// proposal that has left the Pending state.
	ErrNotPending = errors.New("proposal is no longer open for signing")
)

// ErrValidation is returned when a caller supplies invalid input.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// Type classifies what a proposal authorises.
type Type string

const (
	TypeFundRelease Type = "fund_release"
	TypeEvacuation  Type = "evacuation"
	TypeLockdown    Type = "lockdown"
	TypeTransaction Type = "transaction"
)

// ValidType reports whether t is a known proposal type.
func ValidType(t Type) bool {
	switch t {
	case TypeFundRelease, TypeEvacuation, TypeLockdown, TypeTransaction:
		return true
	}
	return false
}

// Status is the lifecycle state of a proposal. Transitions are monotonic:
// nothing ever returns to Pending.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"

	// StatusExecuted is reserved for a future settlement-gated transition.
	// Today approval and execution collapse into one step: ExecutedAt and
	// ExecutionHash are stamped when the threshold is met and the status
	// stays Approved.
	StatusExecuted Status = "executed"
)

// SignerEntry records one actor's signature on a proposal.
type SignerEntry struct {
	Actor     string    `json:"actor"`
	SignedAt  time.Time `json:"signed_at"`
	Signature string    `json:"signature"`
}

// Proposal is a pending or resolved request for a critical action.
type Proposal struct {
	ID             uuid.UUID     `json:"id"`
	IncidentID     string        `json:"incident_id,omitempty"`
	Type           Type          `json:"type"`
	Amount         string        `json:"amount,omitempty"`
	Currency       string        `json:"currency,omitempty"`
	Description    string        `json:"description"`
	ProposedBy     string        `json:"proposed_by"`
	ProposedAt     time.Time     `json:"proposed_at"`
	Signatures     int           `json:"signatures"` // always len(Signers)
	Required       int           `json:"required"`   // fixed at creation
	Status         Status        `json:"status"`
	Signers        []SignerEntry `json:"signers"`
	ExecutedAt     *time.Time    `json:"executed_at,omitempty"`
	ExecutionHash  string        `json:"execution_hash,omitempty"`
	CriticalAction bool          `json:"critical_action"`
	RejectedBy     string        `json:"rejected_by,omitempty"`
	RejectReason   string        `json:"reject_reason,omitempty"`
	RejectedAt     *time.Time    `json:"rejected_at,omitempty"`
}

// HasSigner reports whether actor already appears in Signers.
func (p *Proposal) HasSigner(actor string) bool {
	for _, s := range p.Signers {
		if s.Actor == actor {
			return true
		}
	}
	return false
}

// applySignature validates and applies one signature to p, flipping the
// status to Approved when the threshold is met. It reports whether this
// signature reached the threshold. Callers must hold the proposal's lock:
// the duplicate check, the count, and the flip are one atomic step.
func applySignature(p *Proposal, entry SignerEntry) (bool, error) {
	if p.Status != StatusPending {
		return false, ErrNotPending
	}
	if p.HasSigner(entry.Actor) {
		return false, ErrAlreadySigned
	}

	p.Signers = append(p.Signers, entry)
	p.Signatures = len(p.Signers)

	if p.Signatures < p.Required {
		return false, nil
	}

	// Threshold met: approval and execution are one transition.
	at := entry.SignedAt
	p.Status = StatusApproved
	p.ExecutedAt = &at
	p.ExecutionHash = executionHash(p)
	return true, nil
}

// applyRejection validates and applies an explicit rejection. Rejection is
// only allowed from Pending; Approved and Rejected are terminal.
func applyRejection(p *Proposal, rejectedBy, reason string, at time.Time) error {
	if p.Status != StatusPending {
		return ErrNotPending
	}
	p.Status = StatusRejected
	p.RejectedBy = rejectedBy
	p.RejectReason = reason
	p.RejectedAt = &at
	return nil
}

// executionHash derives the execution reference from the proposal id and the
// full ordered signer set, so the hash attests to who authorised the action.
func executionHash(p *Proposal) string {
	data := []byte(p.ID.String())
	for _, s := range p.Signers {
		data = fmt.Appendf(data, "|%s:%s", s.Actor, s.Signature)
	}
	return "0x" + string(hashchain.Hash(data))
}

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	IncidentID   string
	Status       Status
	CriticalOnly bool
}

// matches reports whether p satisfies the filter.
func (f Filter) matches(p *Proposal) bool {
	if f.IncidentID != "" && p.IncidentID != f.IncidentID {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.CriticalOnly && !p.CriticalAction {
		return false
	}
	return true
}

// Store is the persistence interface for proposals. Sign and Reject are the
// atomic mutation points: implementations must serialise them per proposal
// so two concurrent signers can neither double-count nor both trigger the
// threshold flip.
type Store interface {
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id uuid.UUID) (*Proposal, error)
	List(ctx context.Context, f Filter) ([]*Proposal, error)

	// Sign applies the entry under the proposal's lock and reports whether
	// this signature reached the threshold.
	Sign(ctx context.Context, id uuid.UUID, entry SignerEntry) (*Proposal, bool, error)

	// Reject marks the proposal rejected under the proposal's lock.
	Reject(ctx context.Context, id uuid.UUID, rejectedBy, reason string, at time.Time) (*Proposal, error)
}
