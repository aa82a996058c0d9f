package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reliefops/incidenttrust/internal/hashchain"
	"go.uber.org/zap"
)

// PostgresStore persists incident timelines to PostgreSQL. It implements the
// Store interface. Mutations on one incident are serialised with a
// transaction-scoped advisory lock derived from the incident id, so appends
// on different incidents proceed in parallel.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// incidentLockKey maps an incident id onto a stable advisory lock key.
// The value must be consistent across all service instances.
func incidentLockKey(incidentID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("incident:" + incidentID)) //nolint:errcheck
	return int64(h.Sum64())
}

// Init implements Store.
func (s *PostgresStore) Init(ctx context.Context, incidentID string) (*Timeline, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO incident_timelines (incident_id, root_hash)
		 VALUES ($1, $2)
		 ON CONFLICT (incident_id) DO NOTHING`,
		incidentID, string(hashchain.EmptyRoot),
	); err != nil {
		return nil, fmt.Errorf("init timeline: %w", err)
	}
	return s.Timeline(ctx, incidentID)
}

// Append implements Store.
// It acquires the incident's advisory lock, inserts the event at the next
// sequence number, recomputes the Merkle root over the full sequence, and
// updates the timeline row — all within a single transaction.
func (s *PostgresStore) Append(ctx context.Context, event *AuditEvent) (hashchain.Fingerprint, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends on this incident. The lock is released
	// automatically when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", incidentLockKey(event.IncidentID)); err != nil {
		return "", fmt.Errorf("acquire incident lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO incident_timelines (incident_id, root_hash)
		 VALUES ($1, $2)
		 ON CONFLICT (incident_id) DO NOTHING`,
		event.IncidentID, string(hashchain.EmptyRoot),
	); err != nil {
		return "", fmt.Errorf("init timeline: %w", err)
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM audit_events WHERE incident_id = $1`,
		event.IncidentID,
	).Scan(&seq); err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_events (id, incident_id, seq, timestamp, actor, action, details, signature, verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.IncidentID, seq, event.Timestamp,
		event.Actor, string(event.Action), event.Details, event.Signature, event.Verified,
	); err != nil {
		return "", fmt.Errorf("insert audit event: %w", err)
	}

	events, err := scanEvents(tx, ctx, event.IncidentID)
	if err != nil {
		return "", err
	}
	root := ComputeRoot(events)

	if _, err := tx.Exec(ctx,
		`UPDATE incident_timelines SET root_hash = $2, updated_at = now() WHERE incident_id = $1`,
		event.IncidentID, string(root),
	); err != nil {
		return "", fmt.Errorf("update root: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit append: %w", err)
	}

	s.logger.Debug("audit event appended",
		zap.String("incident_id", event.IncidentID),
		zap.String("action", string(event.Action)),
		zap.Int64("seq", seq),
	)
	return root, nil
}

// Timeline implements Store.
func (s *PostgresStore) Timeline(ctx context.Context, incidentID string) (*Timeline, error) {
	tl := &Timeline{IncidentID: incidentID}
	var root string
	var txHash *string
	var block *int64
	if err := s.pool.QueryRow(ctx,
		`SELECT root_hash, last_anchor_tx, last_anchor_block, anchored_at
		 FROM incident_timelines WHERE incident_id = $1`, incidentID,
	).Scan(&root, &txHash, &block, &tl.AnchoredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get timeline: %w", err)
	}
	tl.RootHash = hashchain.Fingerprint(root)
	if txHash != nil {
		tl.LastAnchorTxHash = *txHash
	}
	if block != nil {
		tl.LastAnchorBlock = *block
	}

	events, err := scanEvents(s.pool, ctx, incidentID)
	if err != nil {
		return nil, err
	}
	tl.Events = events
	return tl, nil
}

// SetAnchor implements Store.
func (s *PostgresStore) SetAnchor(ctx context.Context, incidentID, txHash string, block int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE incident_timelines
		 SET last_anchor_tx = $2, last_anchor_block = $3, anchored_at = $4, updated_at = now()
		 WHERE incident_id = $1`,
		incidentID, txHash, block, at,
	)
	if err != nil {
		return fmt.Errorf("set anchor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Incidents implements Store.
func (s *PostgresStore) Incidents(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT incident_id FROM incident_timelines ORDER BY incident_id`)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan incident id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// scanEvents reads an incident's events in append order.
func scanEvents(q querier, ctx context.Context, incidentID string) ([]AuditEvent, error) {
	rows, err := q.Query(ctx,
		`SELECT id, incident_id, timestamp, actor, action, details, signature, verified
		 FROM audit_events WHERE incident_id = $1 ORDER BY seq ASC`, incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var action string
		if err := rows.Scan(
			&e.ID, &e.IncidentID, &e.Timestamp,
			&e.Actor, &action, &e.Details, &e.Signature, &e.Verified,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Action = Action(action)
		events = append(events, e)
	}
	return events, rows.Err()
}
