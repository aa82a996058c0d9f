package operators

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the storage interface consumed by Service.
type Repository interface {
	Create(ctx context.Context, o *Operator) error
	GetByID(ctx context.Context, id uuid.UUID) (*Operator, error)
	GetByEmail(ctx context.Context, email string) (*Operator, error)
	GetByHandle(ctx context.Context, handle string) (*Operator, error)
	List(ctx context.Context) ([]*Operator, error)
}

// PostgresRepository provides operator CRUD against PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new operator record. Sets ID and CreatedAt on the operator.
func (r *PostgresRepository) Create(ctx context.Context, o *Operator) error {
	o.ID = uuid.New()
	o.CreatedAt = time.Now().UTC()

	q := `
		INSERT INTO operators (id, email, password_hash, handle, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(ctx, q, o.ID, o.Email, o.PasswordHash, o.Handle, string(o.Role), o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("create operator: %w", err)
	}
	return nil
}

// GetByID retrieves an operator by their internal UUID.
func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Operator, error) {
	return r.scanOne(ctx, `SELECT id, email, password_hash, handle, role, created_at FROM operators WHERE id = $1`, id)
}

// GetByEmail retrieves an operator by email address.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Operator, error) {
	return r.scanOne(ctx, `SELECT id, email, password_hash, handle, role, created_at FROM operators WHERE email = $1`, email)
}

// GetByHandle retrieves an operator by their actor handle.
func (r *PostgresRepository) GetByHandle(ctx context.Context, handle string) (*Operator, error) {
	return r.scanOne(ctx, `SELECT id, email, password_hash, handle, role, created_at FROM operators WHERE handle = $1`, handle)
}

// List returns all operators ordered by registration time.
func (r *PostgresRepository) List(ctx context.Context) ([]*Operator, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, email, password_hash, handle, role, created_at FROM operators ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var out []*Operator
	for rows.Next() {
		o, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) scanOne(ctx context.Context, q string, args ...any) (*Operator, error) {
	o, err := scanOperator(r.db.QueryRow(ctx, q, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperator(row rowScanner) (*Operator, error) {
	o := &Operator{}
	var role string
	if err := row.Scan(&o.ID, &o.Email, &o.PasswordHash, &o.Handle, &role, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Role = Role(role)
	return o, nil
}

// MemoryRepository is an in-memory Repository for demo mode and tests.
type MemoryRepository struct {
	mu  sync.RWMutex
	ops map[uuid.UUID]*Operator
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ops: make(map[uuid.UUID]*Operator)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, o *Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.ops {
		if strings.EqualFold(existing.Email, o.Email) {
			return ErrEmailTaken
		}
	}
	o.ID = uuid.New()
	o.CreatedAt = time.Now().UTC()
	cp := *o
	r.ops[o.ID] = &cp
	return nil
}

// GetByID implements Repository.
func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.ops[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// GetByEmail implements Repository.
func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*Operator, error) {
	return r.find(func(o *Operator) bool { return strings.EqualFold(o.Email, email) })
}

// GetByHandle implements Repository.
func (r *MemoryRepository) GetByHandle(_ context.Context, handle string) (*Operator, error) {
	return r.find(func(o *Operator) bool { return o.Handle == handle })
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context) ([]*Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Operator, 0, len(r.ops))
	for _, o := range r.ops {
		cp := *o
		out = append(out, &cp)
	}
	// Registration order
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (r *MemoryRepository) find(match func(*Operator) bool) (*Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.ops {
		if match(o) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
