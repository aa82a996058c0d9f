package multisig

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reliefops/incidenttrust/internal/signer"
	"go.uber.org/zap"
)

// DefaultRequiredSignatures is the threshold applied when a proposal does
// not request one explicitly. Fixed per proposal at creation time.
const DefaultRequiredSignatures = 3

// ActionRecorder receives proposal lifecycle notifications so they can be
// logged to the incident's audit ledger. *bridge.CriticalActionBridge
// satisfies this interface; the registry never touches ledger internals.
type ActionRecorder interface {
	ProposalCreated(ctx context.Context, p *Proposal) error
	ProposalSigned(ctx context.Context, p *Proposal, actor string, approved bool) error
	ProposalRejected(ctx context.Context, p *Proposal) error
}

// Registry enforces the multi-party approval state machine.
type Registry struct {
	store    Store
	keys     *signer.Keyring
	recorder ActionRecorder // nil = no audit logging
	required int
	logger   *zap.Logger
}

// NewRegistry creates a Registry with the default signature threshold.
func NewRegistry(store Store, keys *signer.Keyring, logger *zap.Logger) *Registry {
	return &Registry{
		store:    store,
		keys:     keys,
		required: DefaultRequiredSignatures,
		logger:   logger,
	}
}

// SetRecorder configures the audit recorder for critical-action proposals.
func (r *Registry) SetRecorder(rec ActionRecorder) {
	r.recorder = rec
}

// SetRequiredSignatures changes the default threshold for new proposals.
// Existing proposals keep the threshold they were created with.
func (r *Registry) SetRequiredSignatures(n int) {
	if n > 0 {
		r.required = n
	}
}

// ProposeRequest carries the inputs for a new proposal.
type ProposeRequest struct {
	Type        Type
	Description string
	ProposedBy  string
	Amount      string
	Currency    string
	IncidentID  string
	Required    int // 0 = registry default
}

// Propose creates a new proposal. The proposer's act of proposing counts as
// the first signature and runs through the normal signing transition, so a
// threshold of one is Approved on creation. When an incident is attached the
// proposal is treated as a critical action and its creation is logged to
// that incident's ledger.
func (r *Registry) Propose(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	if !ValidType(req.Type) {
		return nil, &ErrValidation{Msg: fmt.Sprintf("unknown proposal type %q", req.Type)}
	}
	if req.ProposedBy == "" {
		return nil, &ErrValidation{Msg: "proposed_by is required"}
	}
	if req.Description == "" {
		return nil, &ErrValidation{Msg: "description is required"}
	}

	required := req.Required
	if required <= 0 {
		required = r.required
	}

	now := time.Now().UTC()
	p := &Proposal{
		ID:             uuid.New(),
		IncidentID:     req.IncidentID,
		Type:           req.Type,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Description:    req.Description,
		ProposedBy:     req.ProposedBy,
		ProposedAt:     now,
		Required:       required,
		Status:         StatusPending,
		CriticalAction: req.IncidentID != "",
	}

	sig, err := r.keys.Sign(req.ProposedBy, signPayload(p.ID, req.ProposedBy))
	if err != nil {
		return nil, fmt.Errorf("sign proposal: %w", err)
	}

	// The proposer's signature goes through the same transition as any later
	// one, so a 1-of-1 proposal is Approved the moment it is created.
	reached, err := applySignature(p, SignerEntry{Actor: req.ProposedBy, SignedAt: now, Signature: sig})
	if err != nil {
		return nil, fmt.Errorf("apply proposer signature: %w", err)
	}

	if err := r.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create proposal: %w", err)
	}

	r.logger.Info("proposal created",
		zap.String("proposal_id", p.ID.String()),
		zap.String("type", string(p.Type)),
		zap.String("proposed_by", p.ProposedBy),
		zap.Int("required", p.Required),
		zap.Bool("critical_action", p.CriticalAction),
		zap.Bool("approved", reached),
	)

	if p.CriticalAction && r.recorder != nil {
		if err := r.recorder.ProposalCreated(ctx, p); err != nil {
			r.logger.Error("audit log for proposal creation failed (non-fatal)",
				zap.String("proposal_id", p.ID.String()),
				zap.Error(err),
			)
		}
		if reached {
			if err := r.recorder.ProposalSigned(ctx, p, req.ProposedBy, true); err != nil {
				r.logger.Error("audit log for proposal approval failed",
					zap.String("proposal_id", p.ID.String()),
					zap.Error(err),
				)
			}
		}
	}
	return p, nil
}

// ProposeCriticalAction creates a proposal that must be tied to an incident
// timeline; it fails when no incident id is supplied.
func (r *Registry) ProposeCriticalAction(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	if req.IncidentID == "" {
		return nil, &ErrValidation{Msg: "incident id is required for a critical action"}
	}
	return r.Propose(ctx, req)
}

// Sign records one actor's approval. Fails with ErrAlreadySigned for a
// repeat signer and ErrNotPending once the proposal has left Pending. When
// the signature meets the threshold the proposal flips to Approved in the
// same atomic step, and the approval is logged to the incident ledger before
// Sign returns.
func (r *Registry) Sign(ctx context.Context, id uuid.UUID, actor string) (*Proposal, error) {
	if actor == "" {
		return nil, &ErrValidation{Msg: "actor is required"}
	}

	sig, err := r.keys.Sign(actor, signPayload(id, actor))
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	p, reached, err := r.store.Sign(ctx, id, SignerEntry{
		Actor:     actor,
		SignedAt:  time.Now().UTC(),
		Signature: sig,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("proposal signature recorded",
		zap.String("proposal_id", id.String()),
		zap.String("actor", actor),
		zap.Int("signatures", p.Signatures),
		zap.Int("required", p.Required),
		zap.Bool("approved", reached),
	)

	if p.CriticalAction && r.recorder != nil {
		if err := r.recorder.ProposalSigned(ctx, p, actor, reached); err != nil {
			// The flip is already durable; surface loudly but do not unwind.
			r.logger.Error("audit log for proposal signature failed",
				zap.String("proposal_id", id.String()),
				zap.Bool("approved", reached),
				zap.Error(err),
			)
		}
	}
	return p, nil
}

// Reject closes a Pending proposal with an explicit rejection. Approved and
// Rejected proposals cannot be rejected again (ErrNotPending).
func (r *Registry) Reject(ctx context.Context, id uuid.UUID, rejectedBy, reason string) (*Proposal, error) {
	if rejectedBy == "" {
		return nil, &ErrValidation{Msg: "rejected_by is required"}
	}

	p, err := r.store.Reject(ctx, id, rejectedBy, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	r.logger.Info("proposal rejected",
		zap.String("proposal_id", id.String()),
		zap.String("rejected_by", rejectedBy),
		zap.String("reason", reason),
	)

	if p.CriticalAction && r.recorder != nil {
		if err := r.recorder.ProposalRejected(ctx, p); err != nil {
			r.logger.Error("audit log for proposal rejection failed (non-fatal)",
				zap.String("proposal_id", id.String()),
				zap.Error(err),
			)
		}
	}
	return p, nil
}

// Get returns a proposal by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Proposal, error) {
	return r.store.Get(ctx, id)
}

// List returns all proposals matching the filter, oldest first.
func (r *Registry) List(ctx context.Context, f Filter) ([]*Proposal, error) {
	return r.store.List(ctx, f)
}

// ListByIncident returns all proposals tied to one incident.
func (r *Registry) ListByIncident(ctx context.Context, incidentID string) ([]*Proposal, error) {
	return r.store.List(ctx, Filter{IncidentID: incidentID})
}

// ListPending returns proposals still open for signing.
func (r *Registry) ListPending(ctx context.Context) ([]*Proposal, error) {
	return r.store.List(ctx, Filter{Status: StatusPending})
}

// ListCritical returns proposals whose lifecycle is logged to a ledger.
func (r *Registry) ListCritical(ctx context.Context) ([]*Proposal, error) {
	return r.store.List(ctx, Filter{CriticalOnly: true})
}

// signPayload is the byte string bound by a proposal signature.
func signPayload(id uuid.UUID, actor string) []byte {
	return []byte(id.String() + "|" + actor)
}
