package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
)

const accountColumns = `
	a.id, a.kind, a.username, a.id_code, a.full_name, a.password_hash, a.role_name,
	COALESCE(r.permissions, '{}'), a.is_active, a.failed_login_attempts, a.locked_until,
	a.last_login, a.created_at, a.updated_at`

type accountRepository struct {
	db      SQLExecutor
	logger  *slog.Logger
	timeout time.Duration
}

func NewAccountRepository(db SQLExecutor, logger *slog.Logger, timeout time.Duration) domain.AccountRepository {
	return &accountRepository{
		db:      db,
		logger:  logger,
		timeout: timeout,
	}
}

func (r *accountRepository) CreateAccount(ctx context.Context, acc *domain.Account) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO accounts
		(id, kind, username, id_code, full_name, password_hash, role_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var roleName interface{}
	if acc.RoleName != "" {
		roleName = acc.RoleName
	}

	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		acc.ID,
		acc.Kind,
		acc.Username,
		acc.IDCode,
		acc.FullName,
		acc.PasswordHash,
		roleName,
		acc.IsActive,
		now,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505": // unique_violation
				r.logger.Warn("Duplicate account creation attempt", "username", acc.Username, "constraint", pqErr.Constraint)
				if pqErr.Constraint == "idx_accounts_kind_id_code" {
					return errors.NewAppError(errors.DuplicateUsername, "account identifier already exists")
				}
				return errors.ErrDuplicateUsername
			case "23503": // foreign_key_violation
				return errors.NewFieldError("role", "unknown role")
			}
		}
		r.logger.Error("Failed to create account", "username", acc.Username, "error", err)
		return errors.NewStorageFault("create account", err)
	}

	acc.CreatedAt = now
	acc.UpdatedAt = now
	r.logger.Info("Account created successfully", "account_id", acc.ID, "kind", acc.Kind)
	return nil
}

func (r *accountRepository) GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM accounts a LEFT JOIN roles r ON r.name = a.role_name
		WHERE a.id = $1
	`
	return r.scanAccount(ctx, query, id)
}

// FindByLogin prefers a username match over an id code match, so one
// account's username never resolves to another account's id code.
func (r *accountRepository) FindByLogin(ctx context.Context, kind domain.AccountKind, identity string) (*domain.Account, error) {
	query := `SELECT` + accountColumns + `
		FROM accounts a LEFT JOIN roles r ON r.name = a.role_name
		WHERE a.kind = $1 AND (a.username = $2 OR a.id_code = $3)
		ORDER BY (a.username = $2) DESC
		LIMIT 1
	`
	return r.scanAccount(ctx, query, kind, strings.ToLower(identity), strings.ToUpper(identity))
}

func (r *accountRepository) scanAccount(ctx context.Context, query string, args ...interface{}) (*domain.Account, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var acc domain.Account
	var roleName sql.NullString
	var permissions []string
	var lockedUntil, lastLogin sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&acc.ID,
		&acc.Kind,
		&acc.Username,
		&acc.IDCode,
		&acc.FullName,
		&acc.PasswordHash,
		&roleName,
		pq.Array(&permissions),
		&acc.IsActive,
		&acc.FailedLoginAttempts,
		&lockedUntil,
		&lastLogin,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to get account", "error", err)
		return nil, errors.NewStorageFault("get account", err)
	}

	acc.RoleName = roleName.String
	for _, p := range permissions {
		acc.Permissions = append(acc.Permissions, domain.Permission(p))
	}
	acc.LockedUntil = timePtr(lockedUntil)
	acc.LastLogin = timePtr(lastLogin)
	return &acc, nil
}

func (r *accountRepository) RecordFailedLogin(ctx context.Context, id uuid.UUID, threshold int, now, lockUntil time.Time) (int, *time.Time, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	// An expired lock restarts the count; right-hand sides see the old row.
	query := `
		UPDATE accounts SET
			failed_login_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
				ELSE failed_login_attempts + 1 END,
			locked_until = CASE
				WHEN (CASE WHEN locked_until IS NOT NULL AND locked_until <= $2 THEN 1
				           ELSE failed_login_attempts + 1 END) >= $3 THEN $4
				ELSE NULL END,
			updated_at = $2
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`

	var attempts int
	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id, now, threshold, lockUntil).Scan(&attempts, &lockedUntil)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to record failed login", "account_id", id, "error", err)
		return 0, nil, errors.NewStorageFault("record failed login", err)
	}

	if lockedUntil.Valid {
		r.logger.Warn("Account locked after failed logins", "account_id", id, "attempts", attempts, "locked_until", lockedUntil.Time)
	}
	return attempts, timePtr(lockedUntil), nil
}

func (r *accountRepository) ResetLoginState(ctx context.Context, id uuid.UUID, lastLogin time.Time) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE accounts
		SET failed_login_attempts = 0, locked_until = NULL, last_login = $2, updated_at = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, lastLogin)
	if err != nil {
		r.logger.Error("Failed to reset login state", "account_id", id, "error", err)
		return errors.NewStorageFault("reset login state", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewStorageFault("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

func (r *accountRepository) RoleExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to look up role", "role", name, "error", err)
		return false, errors.NewStorageFault("look up role", err)
	}
	return exists, nil
}
