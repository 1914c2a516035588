package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrReferenceCollision reports that a generated reference number is taken.
var ErrReferenceCollision = errors.New("reference number already in use")

type Transaction struct {
	ID                 uuid.UUID       `json:"id"`
	CustomerID         uuid.UUID       `json:"customer_id"`
	ReferenceNumber    string          `json:"reference_number"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	BeneficiaryName    string          `json:"beneficiary_name"`
	BeneficiaryAccount string          `json:"beneficiary_account"`
	BankName           string          `json:"bank_name"`
	SwiftCode          string          `json:"swift_code"`
	Status             Status          `json:"status"`
	VerifiedBy         *uuid.UUID      `json:"verified_by,omitempty"`
	VerifiedAt         *time.Time      `json:"verified_at,omitempty"`
	VerificationNotes  *string         `json:"verification_notes,omitempty"`
	RejectionReason    *string         `json:"rejection_reason,omitempty"`
	SubmittedAt        *time.Time      `json:"submitted_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Review is a compare-and-set status change made by an employee: it applies
// only while the stored status still equals From.
type Review struct {
	From            Status
	To              Status
	ActorID         uuid.UUID
	At              time.Time
	Notes           *string
	RejectionReason *string
}

// SortField names a column the pending list may be ordered by.
type SortField string

const (
	SortByCreatedAt       SortField = "created_at"
	SortByAmount          SortField = "amount"
	SortByCurrency        SortField = "currency"
	SortByBeneficiaryName SortField = "beneficiary_name"
	SortByReferenceNumber SortField = "reference_number"
)

var sortFields = map[SortField]bool{
	SortByCreatedAt:       true,
	SortByAmount:          true,
	SortByCurrency:        true,
	SortByBeneficiaryName: true,
	SortByReferenceNumber: true,
}

func (f SortField) IsValid() bool {
	return sortFields[f]
}

type ListQuery struct {
	Offset     int
	Limit      int
	SortField  SortField
	Descending bool
}

type TransactionRepository interface {
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	ListByStatus(ctx context.Context, status Status, q ListQuery) ([]Transaction, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Transaction, error)
	CountByStatus(ctx context.Context, status Status) (int, error)
	CountSubmittedSince(ctx context.Context, since time.Time) (int, error)
	ApplyReview(ctx context.Context, id uuid.UUID, review Review) (*Transaction, error)
	// LockStatuses returns the current status of every requested id that
	// exists, holding row locks until the surrounding transaction ends.
	LockStatuses(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Status, error)
	MarkSubmitted(ctx context.Context, ids []uuid.UUID, at time.Time) (int, error)
}
