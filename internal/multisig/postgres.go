package multisig

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore persists proposals to PostgreSQL. It implements the Store
// interface. Sign and Reject run inside a transaction holding an advisory
// lock derived from the proposal id, making the threshold check-and-flip
// atomic across service instances.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// proposalLockKey maps a proposal id onto a stable advisory lock key.
func proposalLockKey(id uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write([]byte("proposal:" + id.String())) //nolint:errcheck
	return int64(h.Sum64())
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, p *Proposal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// A threshold-of-one proposal arrives already Approved, so the execution
	// stamp is persisted alongside the row.
	if _, err := tx.Exec(ctx,
		`INSERT INTO proposals
		   (id, incident_id, type, amount, currency, description, proposed_by, proposed_at,
		    signatures, required, status, executed_at, execution_hash, critical_action)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.IncidentID, string(p.Type), p.Amount, p.Currency, p.Description,
		p.ProposedBy, p.ProposedAt, p.Signatures, p.Required, string(p.Status),
		p.ExecutedAt, nullable(p.ExecutionHash), p.CriticalAction,
	); err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}

	for _, e := range p.Signers {
		if _, err := tx.Exec(ctx,
			`INSERT INTO proposal_signers (proposal_id, actor, signed_at, signature)
			 VALUES ($1, $2, $3, $4)`,
			p.ID, e.Actor, e.SignedAt, e.Signature,
		); err != nil {
			return fmt.Errorf("insert proposer signature: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit proposal: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Proposal, error) {
	return s.get(ctx, s.pool, id)
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Proposal, error) {
	q := `SELECT id FROM proposals WHERE 1=1`
	var args []any
	if f.IncidentID != "" {
		args = append(args, f.IncidentID)
		q += fmt.Sprintf(" AND incident_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.CriticalOnly {
		q += " AND critical_action"
	}
	q += " ORDER BY proposed_at ASC"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan proposal id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := s.get(ctx, s.pool, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Sign implements Store.
// It acquires the proposal's advisory lock, re-reads the proposal, applies
// the signature through the shared transition helper, and writes the result
// back — all within a single transaction.
func (s *PostgresStore) Sign(ctx context.Context, id uuid.UUID, entry SignerEntry) (*Proposal, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", proposalLockKey(id)); err != nil {
		return nil, false, fmt.Errorf("acquire proposal lock: %w", err)
	}

	p, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}

	reached, err := applySignature(p, entry)
	if err != nil {
		return nil, false, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO proposal_signers (proposal_id, actor, signed_at, signature)
		 VALUES ($1, $2, $3, $4)`,
		id, entry.Actor, entry.SignedAt, entry.Signature,
	); err != nil {
		return nil, false, fmt.Errorf("insert signature: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE proposals
		 SET signatures = $2, status = $3, executed_at = $4, execution_hash = $5
		 WHERE id = $1`,
		id, p.Signatures, string(p.Status), p.ExecutedAt, nullable(p.ExecutionHash),
	); err != nil {
		return nil, false, fmt.Errorf("update proposal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit signature: %w", err)
	}

	s.logger.Debug("proposal signed",
		zap.String("proposal_id", id.String()),
		zap.String("actor", entry.Actor),
		zap.Bool("threshold_reached", reached),
	)
	return p, reached, nil
}

// Reject implements Store.
func (s *PostgresStore) Reject(ctx context.Context, id uuid.UUID, rejectedBy, reason string, at time.Time) (*Proposal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", proposalLockKey(id)); err != nil {
		return nil, fmt.Errorf("acquire proposal lock: %w", err)
	}

	p, err := s.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := applyRejection(p, rejectedBy, reason, at); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE proposals
		 SET status = $2, rejected_by = $3, reject_reason = $4, rejected_at = $5
		 WHERE id = $1`,
		id, string(p.Status), p.RejectedBy, p.RejectReason, p.RejectedAt,
	); err != nil {
		return nil, fmt.Errorf("update proposal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rejection: %w", err)
	}
	return p, nil
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) get(ctx context.Context, q pgQuerier, id uuid.UUID) (*Proposal, error) {
	p := &Proposal{}
	var typ, status string
	var incidentID, amount, currency, executionHash, rejectedBy, rejectReason *string
	if err := q.QueryRow(ctx,
		`SELECT id, incident_id, type, amount, currency, description, proposed_by, proposed_at,
		        signatures, required, status, executed_at, execution_hash, critical_action,
		        rejected_by, reject_reason, rejected_at
		 FROM proposals WHERE id = $1`, id,
	).Scan(
		&p.ID, &incidentID, &typ, &amount, &currency, &p.Description, &p.ProposedBy, &p.ProposedAt,
		&p.Signatures, &p.Required, &status, &p.ExecutedAt, &executionHash, &p.CriticalAction,
		&rejectedBy, &rejectReason, &p.RejectedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	p.Type = Type(typ)
	p.Status = Status(status)
	p.IncidentID = deref(incidentID)
	p.Amount = deref(amount)
	p.Currency = deref(currency)
	p.ExecutionHash = deref(executionHash)
	p.RejectedBy = deref(rejectedBy)
	p.RejectReason = deref(rejectReason)

	rows, err := q.Query(ctx,
		`SELECT actor, signed_at, signature FROM proposal_signers
		 WHERE proposal_id = $1 ORDER BY signed_at ASC, actor ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query signers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e SignerEntry
		if err := rows.Scan(&e.Actor, &e.SignedAt, &e.Signature); err != nil {
			return nil, fmt.Errorf("scan signer: %w", err)
		}
		p.Signers = append(p.Signers, e)
	}
	return p, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
