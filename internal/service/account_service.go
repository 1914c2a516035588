package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"payments-portal/internal/auth"
	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
)

type AccountService struct {
	store   domain.UnitOfWork
	lockout *LockoutTracker
	tokens  *auth.TokenIssuer
	logger  *slog.Logger
}

func NewAccountService(store domain.UnitOfWork, lockout *LockoutTracker, tokens *auth.TokenIssuer, logger *slog.Logger) *AccountService {
	return &AccountService{
		store:   store,
		lockout: lockout,
		tokens:  tokens,
		logger:  logger,
	}
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=100"`
	Password string `json:"password" validate:"required,max=72"`
}

type LoginResult struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Account   *domain.Account `json:"account"`
}

// Login authenticates a customer or employee. Employees may log in with
// their username or employee id code, customers with username or account
// number. Inactive and locked accounts are refused before the password is
// compared.
func (s *AccountService) Login(ctx context.Context, kind domain.AccountKind, req LoginRequest) (*LoginResult, error) {
	req.Username = strings.TrimSpace(req.Username)
	if appErr := validateStruct(req); appErr != nil {
		return nil, appErr
	}

	acc, err := s.store.Accounts().FindByLogin(ctx, kind, req.Username)
	if err != nil {
		if errors.CodeOf(err) == errors.NotFound {
			auth.BurnCompare(req.Password)
			s.logger.Warn("Login for unknown account", "kind", kind)
			return nil, errors.ErrInvalidCredentials
		}
		return nil, err
	}

	if !acc.IsActive {
		s.logger.Warn("Login for inactive account", "account_id", acc.ID)
		return nil, errors.ErrAccountInactive
	}

	if s.lockout.IsLocked(acc) {
		s.logger.Warn("Login for locked account", "account_id", acc.ID, "locked_until", *acc.LockedUntil)
		return nil, errors.NewAccountLocked(s.lockout.RemainingMinutes(acc))
	}

	if !auth.CheckPassword(req.Password, acc.PasswordHash) {
		if err := s.lockout.RecordAttempt(ctx, acc, false); err != nil {
			return nil, err
		}
		s.logger.Warn("Invalid credentials", "account_id", acc.ID, "attempts", acc.FailedLoginAttempts)
		return nil, errors.ErrInvalidCredentials.WithMeta("remaining_attempts", s.lockout.RemainingAttempts(acc))
	}

	if err := s.lockout.RecordAttempt(ctx, acc, true); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Issue(domain.ActorFor(acc))
	if err != nil {
		s.logger.Error("Failed to issue token", "account_id", acc.ID, "error", err)
		return nil, errors.NewStorageFault("issue session token", err)
	}

	s.logger.Info("Login successful", "account_id", acc.ID, "kind", kind)
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Account: acc}, nil
}

type RegisterRequest struct {
	FullName      string `json:"full_name" validate:"required,max=100"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=8,max=12"`
	Username      string `json:"username" validate:"required,alphanum,min=3,max=30"`
	Password      string `json:"password" validate:"required,min=8,max=72"`
}

// RegisterCustomer creates an active customer login. The account number
// doubles as the customer's alternate login identity.
func (s *AccountService) RegisterCustomer(ctx context.Context, req RegisterRequest) (*domain.Account, error) {
	req.FullName = strings.TrimSpace(req.FullName)
	req.AccountNumber = strings.TrimSpace(req.AccountNumber)
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	if appErr := validateStruct(req); appErr != nil {
		return nil, appErr
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, errors.NewStorageFault("hash password", err)
	}

	acc := &domain.Account{
		ID:           uuid.New(),
		Kind:         domain.KindCustomer,
		Username:     req.Username,
		IDCode:       req.AccountNumber,
		FullName:     req.FullName,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.store.Accounts().CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	s.logger.Info("Customer registered", "account_id", acc.ID)
	return acc, nil
}

type EmployeeRequest struct {
	Username string `json:"username" validate:"required,alphanum,min=3,max=30"`
	FullName string `json:"full_name" validate:"required,max=100"`
	IDCode   string `json:"id_code" validate:"required,alphanum,max=20"`
	Role     string `json:"role" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// CreateEmployee provisions an employee with one of the seeded roles.
func (s *AccountService) CreateEmployee(ctx context.Context, req EmployeeRequest) (*domain.Account, error) {
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.IDCode = strings.ToUpper(strings.TrimSpace(req.IDCode))
	req.FullName = strings.TrimSpace(req.FullName)
	req.Role = strings.TrimSpace(req.Role)
	if appErr := validateStruct(req); appErr != nil {
		return nil, appErr
	}

	ok, err := s.store.Accounts().RoleExists(ctx, req.Role)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewFieldError("role", "unknown role")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, errors.NewStorageFault("hash password", err)
	}

	acc := &domain.Account{
		ID:           uuid.New(),
		Kind:         domain.KindEmployee,
		Username:     req.Username,
		IDCode:       req.IDCode,
		FullName:     req.FullName,
		PasswordHash: hash,
		RoleName:     req.Role,
		IsActive:     true,
	}
	if err := s.store.Accounts().CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	// Re-read so the caller sees the role's permission set.
	created, err := s.store.Accounts().GetAccountByID(ctx, acc.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Employee created", "account_id", acc.ID, "role", acc.RoleName)
	return created, nil
}

// Profile returns the actor's own account.
func (s *AccountService) Profile(ctx context.Context, actor domain.Actor) (*domain.Account, error) {
	acc, err := s.store.Accounts().GetAccountByID(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if acc.Kind != actor.Kind {
		return nil, errors.ErrAccountNotFound
	}
	return acc, nil
}
