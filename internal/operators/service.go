package operators

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Service implements business logic for operator account management.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates an operator Service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Register creates a new operator with email/password authentication. An
// empty handle is derived from the email's local part, and an empty role
// defaults to responder.
func (s *Service) Register(ctx context.Context, email, password, handle string, role Role) (*Operator, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}
	if role == "" {
		role = RoleResponder
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	if handle == "" {
		handle = slugifyEmail(email)
	}
	if handle == "" {
		return nil, fmt.Errorf("handle could not be derived from email")
	}
	if _, err := s.repo.GetByHandle(ctx, handle); err == nil {
		return nil, fmt.Errorf("handle %q already taken", handle)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("check handle: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	o := &Operator{
		Email:        strings.ToLower(email),
		PasswordHash: string(hash),
		Handle:       handle,
		Role:         role,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create operator: %w", err)
	}

	s.logger.Info("operator registered",
		zap.String("operator_id", o.ID.String()),
		zap.String("handle", o.Handle),
		zap.String("role", string(o.Role)),
	)
	return o, nil
}

// Login verifies email/password credentials and returns the operator.
func (s *Service) Login(ctx context.Context, email, password string) (*Operator, error) {
	o, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup operator: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(o.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return o, nil
}

// GetByID retrieves an operator by ID.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Operator, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByHandle retrieves an operator by their actor handle.
func (s *Service) GetByHandle(ctx context.Context, handle string) (*Operator, error) {
	return s.repo.GetByHandle(ctx, handle)
}

// List returns all registered operators.
func (s *Service) List(ctx context.Context) ([]*Operator, error) {
	return s.repo.List(ctx)
}

// slugifyEmail converts "alice@example.org" to "alice".
func slugifyEmail(email string) string {
	local := email
	if at := strings.Index(email, "@"); at > 0 {
		local = email[:at]
	}
	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > 32 {
		out = out[:32]
	}
	return out
}
