package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reliefops/incidenttrust/internal/hashchain"
)

// Action tags an audit event with its place in the platform taxonomy.
// The taxonomy is an open set of registered strings, not a closed enum —
// consumers add their own tags without touching this package.
type Action string

// Core action tags recorded by platform features. Critical-action tags live
// in the bridge package, which owns that vocabulary.
const (
	ActionIncidentOpened    Action = "INCIDENT_OPENED"
	ActionEvidenceUploaded  Action = "EVIDENCE_UPLOADED"
	ActionChatEncrypted     Action = "CHAT_ENCRYPTED"
	ActionPrivacyToggled    Action = "PRIVACY_TOGGLED"
	ActionDonationPledged   Action = "DONATION_PLEDGED"
	ActionChecklistSignedOff Action = "CHECKLIST_SIGNED_OFF"
)

// AuditEvent is one immutable fact about an incident. Once appended to a
// timeline its fields never change; the event is owned exclusively by the
// timeline that contains it.
type AuditEvent struct {
	ID         uuid.UUID `json:"id"`
	IncidentID string    `json:"incident_id"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Action     Action    `json:"action"`
	Details    string    `json:"details"`
	Signature  string    `json:"signature"` // actor-bound signature over Actor|Action|Details
	Verified   bool      `json:"verified"`
}

// SignedPayload returns the byte string bound by the actor's signature.
func (e *AuditEvent) SignedPayload() []byte {
	return []byte(e.Actor + "|" + string(e.Action) + "|" + e.Details)
}

// Leaf returns the event's Merkle leaf fingerprint over its canonical
// serialisation. Any field change changes the leaf, and therefore the root.
func (e *AuditEvent) Leaf() hashchain.Fingerprint {
	return hashchain.Hash(fmt.Appendf(nil, "%s|%s|%s|%s|%s|%s|%s",
		e.ID, e.IncidentID, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Actor, e.Action, e.Details, e.Signature,
	))
}

// ComputeRoot returns the Merkle root over events in append order.
// Both Store implementations call this inside their per-incident critical
// section so the stored root can never go stale.
func ComputeRoot(events []AuditEvent) hashchain.Fingerprint {
	leaves := make([]hashchain.Fingerprint, len(events))
	for i := range events {
		leaves[i] = events[i].Leaf()
	}
	return hashchain.MerkleRoot(leaves)
}

// Timeline is the per-incident ledger state.
type Timeline struct {
	IncidentID       string                `json:"incident_id"`
	Events           []AuditEvent          `json:"events"`
	RootHash         hashchain.Fingerprint `json:"root_hash"`
	LastAnchorTxHash string                `json:"last_anchor_tx_hash,omitempty"`
	LastAnchorBlock  int64                 `json:"last_anchor_block,omitempty"`
	AnchoredAt       *time.Time            `json:"anchored_at,omitempty"`
}

// Report is the exportable audit artifact for one incident. Every field is
// both human- and machine-checkable: an external auditor can recompute the
// root from Events and compare it to RootHash.
type Report struct {
	IncidentID       string                `json:"incident_id"`
	EventCount       int                   `json:"event_count"`
	RootHash         hashchain.Fingerprint `json:"root_hash"`
	Valid            bool                  `json:"valid"`
	Events           []AuditEvent          `json:"events"`
	LastAnchorTxHash string                `json:"last_anchor_tx_hash,omitempty"`
	LastAnchorBlock  int64                 `json:"last_anchor_block,omitempty"`
	AnchoredAt       *time.Time            `json:"anchored_at,omitempty"`
	GeneratedAt      time.Time             `json:"generated_at"`
}
