package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ValidationFailed       ErrorCode = "validation_error"
	AuthenticationFailed   ErrorCode = "authentication_error"
	AccountLocked          ErrorCode = "account_locked"
	AccountInactive        ErrorCode = "account_inactive"
	AuthorizationFailed    ErrorCode = "authorization_error"
	NotFound               ErrorCode = "not_found"
	InvalidTransition      ErrorCode = "invalid_transition"
	NoEligibleTransactions ErrorCode = "no_eligible_transactions"
	DuplicateUsername      ErrorCode = "duplicate_username"
	StorageFault           ErrorCode = "storage_fault"
)

// FieldError describes a single violated input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Tag     string `json:"tag,omitempty"`
}

type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Fields  []FieldError           `json:"fields,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

func (e AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy of e carrying details, leaving e untouched.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithMeta returns a copy of e with key set in its metadata.
func (e *AppError) WithMeta(key string, value interface{}) *AppError {
	cp := *e
	cp.Meta = make(map[string]interface{}, len(e.Meta)+1)
	for k, v := range e.Meta {
		cp.Meta[k] = v
	}
	cp.Meta[key] = value
	return &cp
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ValidationFailed, InvalidTransition, NoEligibleTransactions:
		return http.StatusBadRequest
	case AuthenticationFailed:
		return http.StatusUnauthorized
	case AccountLocked, AccountInactive, AuthorizationFailed:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case DuplicateUsername:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError reports every violated field at once.
func NewValidationError(fields []FieldError) *AppError {
	return &AppError{
		Code:    ValidationFailed,
		Message: "invalid request data",
		Fields:  fields,
	}
}

// NewFieldError is shorthand for a validation error on one field.
func NewFieldError(field, message string) *AppError {
	return NewValidationError([]FieldError{{Field: field, Message: message}})
}

func NewInvalidTransition(current, requested string) *AppError {
	return NewAppErrorf(InvalidTransition,
		"transaction cannot move from %s to %s", current, requested).
		WithMeta("current_status", current).
		WithMeta("requested_status", requested)
}

func NewAccountLocked(remainingMinutes int) *AppError {
	return NewAppErrorf(AccountLocked,
		"account is locked, try again in %d minutes", remainingMinutes).
		WithMeta("remaining_minutes", remainingMinutes)
}

func NewMissingPermission(permission string) *AppError {
	return NewAppErrorf(AuthorizationFailed, "missing permission %s", permission).
		WithMeta("required_permission", permission)
}

// NewStorageFault wraps an infrastructure failure. For mutating calls the
// outcome is unknown and callers must re-read state before retrying.
func NewStorageFault(op string, err error) *AppError {
	e := NewAppErrorf(StorageFault, "failed to %s", op)
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// As extracts an *AppError from err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code of err, or StorageFault for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return StorageFault
}

// Predefined errors for common cases
var (
	ErrInvalidCredentials   = NewAppError(AuthenticationFailed, "invalid credentials")
	ErrAccountInactive      = NewAppError(AccountInactive, "account is deactivated, please contact an administrator")
	ErrTransactionNotFound  = NewAppError(NotFound, "transaction not found")
	ErrAccountNotFound      = NewAppError(NotFound, "account not found")
	ErrDuplicateUsername    = NewAppError(DuplicateUsername, "username already exists")
	ErrNoEligible           = NewAppError(NoEligibleTransactions, "no verified transactions found")
	ErrMissingToken         = NewAppError(AuthenticationFailed, "authorization header required")
	ErrInvalidToken         = NewAppError(AuthenticationFailed, "invalid or expired token")
	ErrEmployeeOnly         = NewAppError(AuthorizationFailed, "employee access required")
	ErrCustomerOnly         = NewAppError(AuthorizationFailed, "customer access required")
	ErrCannotBeginTx        = NewAppError(StorageFault, "cannot begin transaction on this executor")
	ErrInconsistentBatch    = NewAppError(StorageFault, "batch update affected an unexpected number of rows")
	ErrEmptyTransactionList = NewFieldError("transaction_ids", "transaction_ids must not be empty")
)
