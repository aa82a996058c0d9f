// Package operators manages the responder accounts that act on incidents and
// proposals. An operator's handle is the actor identity used on audit events
// and proposal signatures.
package operators

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an operator lookup misses.
	ErrNotFound = errors.New("operator not found")

	// ErrEmailTaken is returned when registering with an email that is
	// already in use.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned on a failed login. It is the same
	// for a wrong password and an unknown email.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Role controls what an operator may do through the HTTP API.
type Role string

const (
	// RoleResponder can record events and sign proposals.
	RoleResponder Role = "responder"
	// RoleCoordinator can additionally propose critical actions and
	// trigger anchoring.
	RoleCoordinator Role = "coordinator"
	// RoleAuditor has read-only access to timelines and reports.
	RoleAuditor Role = "auditor"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleResponder, RoleCoordinator, RoleAuditor:
		return true
	}
	return false
}

// Operator is a registered responder account.
type Operator struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Handle       string    `json:"handle"` // actor identity on ledger events
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}
