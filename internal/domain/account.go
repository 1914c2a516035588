package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AccountKind string

const (
	KindCustomer AccountKind = "customer"
	KindEmployee AccountKind = "employee"
)

type Permission string

const (
	PermVerifyTransactions Permission = "verify_transactions"
	PermSubmitToSwift      Permission = "submit_to_swift"
)

// Account is a customer or employee login. Employees carry a role with an
// explicit permission set; customers have none.
type Account struct {
	ID                  uuid.UUID    `json:"id"`
	Kind                AccountKind  `json:"kind"`
	Username            string       `json:"username"`
	IDCode              string       `json:"id_code,omitempty"`
	FullName            string       `json:"full_name"`
	PasswordHash        string       `json:"-"`
	RoleName            string       `json:"role,omitempty"`
	Permissions         []Permission `json:"permissions,omitempty"`
	IsActive            bool         `json:"is_active"`
	FailedLoginAttempts int          `json:"-"`
	LockedUntil         *time.Time   `json:"-"`
	LastLogin           *time.Time   `json:"last_login,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Actor is the authenticated identity invoking an operation.
type Actor struct {
	ID          uuid.UUID
	Username    string
	Kind        AccountKind
	Role        string
	Permissions []Permission
}

func (a Actor) HasPermission(p Permission) bool {
	for _, held := range a.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

func (a Actor) IsEmployee() bool { return a.Kind == KindEmployee }

// ActorFor builds the actor identity for an authenticated account.
func ActorFor(acc *Account) Actor {
	return Actor{
		ID:          acc.ID,
		Username:    acc.Username,
		Kind:        acc.Kind,
		Role:        acc.RoleName,
		Permissions: acc.Permissions,
	}
}

type AccountRepository interface {
	CreateAccount(ctx context.Context, acc *Account) error
	GetAccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// FindByLogin matches username (lowercased) or id code (uppercased).
	FindByLogin(ctx context.Context, kind AccountKind, identity string) (*Account, error)
	// RecordFailedLogin atomically bumps the failure counter and sets
	// locked_until once the counter reaches threshold. A lock that already
	// expired restarts the count at one.
	RecordFailedLogin(ctx context.Context, id uuid.UUID, threshold int, now, lockUntil time.Time) (int, *time.Time, error)
	ResetLoginState(ctx context.Context, id uuid.UUID, lastLogin time.Time) error
	RoleExists(ctx context.Context, name string) (bool, error)
}

// UnitOfWork groups repositories sharing one executor.
type UnitOfWork interface {
	Accounts() AccountRepository
	Transactions() TransactionRepository
	WithTransaction(ctx context.Context, fn func(UnitOfWork) error) error
}
