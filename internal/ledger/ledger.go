// Package ledger implements the append-only, tamper-evident incident audit
// ledger. Each incident owns one timeline of signed events; the timeline's
// Merkle root is recomputed synchronously on every append, so
// RootHash == MerkleRoot(events) holds at every observable point.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and single-process deployments.
//   - PostgresStore: durable, for production use.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/reliefops/incidenttrust/internal/hashchain"
)

// ErrNotFound is returned when an incident has no timeline.
var ErrNotFound = errors.New("incident timeline not found")

// ErrValidation is returned when a caller supplies invalid input.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }

// Store is the persistence interface for incident timelines. Implementations
// must serialise mutations per incident: two concurrent Appends on the same
// incident may never compute a root from a stale event list, and different
// incidents must not contend with each other.
type Store interface {
	// Init creates an empty timeline if none exists and returns the current
	// timeline either way (idempotent).
	Init(ctx context.Context, incidentID string) (*Timeline, error)

	// Append persists the event, lazily initialising the timeline, and
	// recomputes the timeline root in the same critical section. It returns
	// the new root.
	Append(ctx context.Context, event *AuditEvent) (hashchain.Fingerprint, error)

	// Timeline returns a snapshot of the incident's timeline including its
	// full event list. Returns ErrNotFound if the incident is unknown.
	Timeline(ctx context.Context, incidentID string) (*Timeline, error)

	// SetAnchor records the external commitment reference on the timeline.
	// It never touches the event sequence. Returns ErrNotFound if unknown.
	SetAnchor(ctx context.Context, incidentID, txHash string, block int64, at time.Time) error

	// Incidents lists the IDs of all known timelines.
	Incidents(ctx context.Context) ([]string, error)
}
