// Package bridge joins the proposal workflow to the audit ledger: every
// lifecycle step of a critical-action proposal becomes a signed, tamper-evident
// event on the incident's timeline.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/reliefops/incidenttrust/internal/ledger"
	"github.com/reliefops/incidenttrust/internal/multisig"
	"go.uber.org/zap"
)

// Action tags recorded on incident timelines for proposal lifecycle steps.
// Creation uses a type-specific tag (CRITICAL_FUND_RELEASE, CRITICAL_LOCKDOWN,
// ...) produced by creationAction.
const (
	ActionSigned   ledger.Action = "CRITICAL_ACTION_SIGNED"
	ActionRejected ledger.Action = "CRITICAL_ACTION_REJECTED"
)

// creationAction maps a proposal type to its timeline tag.
func creationAction(t multisig.Type) ledger.Action {
	return ledger.Action("CRITICAL_" + strings.ToUpper(string(t)))
}

// CriticalActionBridge implements multisig.ActionRecorder on top of the
// ledger service.
type CriticalActionBridge struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// New creates a CriticalActionBridge writing to the given ledger service.
func New(l *ledger.Service, logger *zap.Logger) *CriticalActionBridge {
	return &CriticalActionBridge{ledger: l, logger: logger}
}

// ProposalCreated logs the creation of a critical-action proposal to its
// incident timeline. The proposer is the acting party.
func (b *CriticalActionBridge) ProposalCreated(ctx context.Context, p *multisig.Proposal) error {
	details := fmt.Sprintf("proposal %s: %s (requires %d signatures)", p.ID, p.Description, p.Required)
	if p.Amount != "" {
		details = fmt.Sprintf("proposal %s: %s — %s %s (requires %d signatures)",
			p.ID, p.Description, p.Amount, p.Currency, p.Required)
	}
	_, err := b.ledger.Append(ctx, p.IncidentID, p.ProposedBy, creationAction(p.Type), details)
	if err != nil {
		return fmt.Errorf("log proposal creation: %w", err)
	}
	b.logger.Debug("critical action proposed",
		zap.String("incident_id", p.IncidentID),
		zap.String("proposal_id", p.ID.String()),
		zap.String("type", string(p.Type)),
	)
	return nil
}

// ProposalSigned logs one signature on a critical-action proposal. When the
// signature reached the threshold the event notes the approval and the
// execution hash, making the authorisation itself auditable.
func (b *CriticalActionBridge) ProposalSigned(ctx context.Context, p *multisig.Proposal, actor string, approved bool) error {
	details := fmt.Sprintf("proposal %s signed (%d/%d)", p.ID, p.Signatures, p.Required)
	if approved {
		details = fmt.Sprintf("proposal %s signed (%d/%d) — threshold reached, approved with execution hash %s",
			p.ID, p.Signatures, p.Required, p.ExecutionHash)
	}
	_, err := b.ledger.Append(ctx, p.IncidentID, actor, ActionSigned, details)
	if err != nil {
		return fmt.Errorf("log proposal signature: %w", err)
	}
	return nil
}

// ProposalRejected logs an explicit rejection to the incident timeline.
func (b *CriticalActionBridge) ProposalRejected(ctx context.Context, p *multisig.Proposal) error {
	details := fmt.Sprintf("proposal %s rejected: %s", p.ID, p.RejectReason)
	_, err := b.ledger.Append(ctx, p.IncidentID, p.RejectedBy, ActionRejected, details)
	if err != nil {
		return fmt.Errorf("log proposal rejection: %w", err)
	}
	return nil
}
