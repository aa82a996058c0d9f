package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reliefops/incidenttrust/internal/anchor"
	"github.com/reliefops/incidenttrust/internal/signer"
	"go.uber.org/zap"
)

// ErrAnchorUnavailable is returned by Anchor when no anchor client is configured.
var ErrAnchorUnavailable = errors.New("no anchor client configured")

// Service contains the business logic of the audit ledger: event
// construction and signing, integrity verification, anchoring, and export.
type Service struct {
	store   Store
	keys    *signer.Keyring
	anchors anchor.Client // nil = anchoring disabled
	logger  *zap.Logger
}

// NewService creates a ledger Service. Anchoring is disabled until
// SetAnchorClient is called.
func NewService(store Store, keys *signer.Keyring, logger *zap.Logger) *Service {
	return &Service{store: store, keys: keys, logger: logger}
}

// SetAnchorClient configures the external commitment client used by Anchor.
func (s *Service) SetAnchorClient(c anchor.Client) {
	s.anchors = c
}

// Init explicitly creates an incident timeline. It is idempotent: calling it
// again for a known incident returns the existing timeline unchanged.
func (s *Service) Init(ctx context.Context, incidentID string) (*Timeline, error) {
	if incidentID == "" {
		return nil, &ErrValidation{Msg: "incident id is required"}
	}
	return s.store.Init(ctx, incidentID)
}

// Append records a new signed event on the incident's timeline, lazily
// initialising the timeline on first reference. The timeline root is
// recomputed before Append returns.
func (s *Service) Append(ctx context.Context, incidentID, actor string, action Action, details string) (*AuditEvent, error) {
	if incidentID == "" {
		return nil, &ErrValidation{Msg: "incident id is required"}
	}
	if actor == "" {
		return nil, &ErrValidation{Msg: "actor is required"}
	}
	if action == "" {
		return nil, &ErrValidation{Msg: "action is required"}
	}

	event := &AuditEvent{
		ID:         uuid.New(),
		IncidentID: incidentID,
		Timestamp:  time.Now().UTC(),
		Actor:      actor,
		Action:     action,
		Details:    details,
	}

	sig, err := s.keys.Sign(actor, event.SignedPayload())
	if err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}
	event.Signature = sig
	event.Verified = true

	root, err := s.store.Append(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	s.logger.Info("audit event recorded",
		zap.String("incident_id", incidentID),
		zap.String("actor", actor),
		zap.String("action", string(action)),
		zap.String("root", string(root)),
	)
	return event, nil
}

// Verify recomputes the Merkle root over the stored events and compares it
// to the stored root. It returns false — never an error — when the timeline
// is missing or the roots diverge: integrity failure is a reportable result,
// and a failing ledger stays fully readable for forensic export.
func (s *Service) Verify(ctx context.Context, incidentID string) bool {
	tl, err := s.store.Timeline(ctx, incidentID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("verify: load timeline", zap.String("incident_id", incidentID), zap.Error(err))
		}
		return false
	}
	if ComputeRoot(tl.Events) != tl.RootHash {
		s.logger.Warn("timeline integrity check FAILED",
			zap.String("incident_id", incidentID),
			zap.Int("events", len(tl.Events)),
		)
		return false
	}
	return true
}

// Anchor snapshots the incident's current root and commits it to the
// configured anchor client, then records the receipt on the timeline.
// The external call is made without holding any ledger lock; events appended
// in the meantime are simply covered by the next anchor.
func (s *Service) Anchor(ctx context.Context, incidentID string) (*anchor.Receipt, error) {
	tl, err := s.store.Timeline(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if s.anchors == nil {
		return nil, ErrAnchorUnavailable
	}

	receipt, err := s.anchors.Anchor(ctx, incidentID, tl.RootHash)
	if err != nil {
		return nil, fmt.Errorf("anchor root: %w", err)
	}

	if err := s.store.SetAnchor(ctx, incidentID, receipt.TxHash, receipt.BlockNumber, receipt.Timestamp); err != nil {
		return nil, fmt.Errorf("record anchor receipt: %w", err)
	}

	s.logger.Info("timeline anchored",
		zap.String("incident_id", incidentID),
		zap.String("tx_hash", receipt.TxHash),
		zap.Int64("block", receipt.BlockNumber),
	)
	return receipt, nil
}

// Export assembles the downloadable audit report for an incident, including
// the outcome of Verify and per-event signature checks for actors whose keys
// are held by this process's keyring.
func (s *Service) Export(ctx context.Context, incidentID string) (*Report, error) {
	tl, err := s.store.Timeline(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	valid := ComputeRoot(tl.Events) == tl.RootHash
	for i := range tl.Events {
		e := &tl.Events[i]
		// Keys are process-local; events signed by actors unknown to this
		// keyring keep their stored flag.
		if s.keys.Known(e.Actor) {
			e.Verified = s.keys.Verify(e.Actor, e.SignedPayload(), e.Signature)
			if !e.Verified {
				valid = false
			}
		}
	}

	return &Report{
		IncidentID:       tl.IncidentID,
		EventCount:       len(tl.Events),
		RootHash:         tl.RootHash,
		Valid:            valid,
		Events:           tl.Events,
		LastAnchorTxHash: tl.LastAnchorTxHash,
		LastAnchorBlock:  tl.LastAnchorBlock,
		AnchoredAt:       tl.AnchoredAt,
		GeneratedAt:      time.Now().UTC(),
	}, nil
}

// EventsInRange returns the incident's events with start <= Timestamp <= end.
func (s *Service) EventsInRange(ctx context.Context, incidentID string, start, end time.Time) ([]AuditEvent, error) {
	tl, err := s.store.Timeline(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	var out []AuditEvent
	for _, e := range tl.Events {
		if !e.Timestamp.Before(start) && !e.Timestamp.After(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

// EventsByActor returns the incident's events recorded by the given actor.
func (s *Service) EventsByActor(ctx context.Context, incidentID, actor string) ([]AuditEvent, error) {
	tl, err := s.store.Timeline(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	var out []AuditEvent
	for _, e := range tl.Events {
		if e.Actor == actor {
			out = append(out, e)
		}
	}
	return out, nil
}

// Events returns the incident's full event list in append order.
func (s *Service) Events(ctx context.Context, incidentID string) ([]AuditEvent, error) {
	tl, err := s.store.Timeline(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	return tl.Events, nil
}

// Timeline returns a snapshot of the incident's timeline.
func (s *Service) Timeline(ctx context.Context, incidentID string) (*Timeline, error) {
	return s.store.Timeline(ctx, incidentID)
}

// Incidents lists the IDs of all known incident timelines.
func (s *Service) Incidents(ctx context.Context) ([]string, error) {
	return s.store.Incidents(ctx)
}
