package service

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
)

const (
	defaultPage       = 1
	defaultPageSize   = 10
	maxReferenceTries = 3
	maxNotesLength    = 500
)

// SummaryInvalidator drops cached read models after a lifecycle change.
type SummaryInvalidator interface {
	Invalidate(ctx context.Context)
}

type TransactionService struct {
	store       domain.UnitOfWork
	invalidator SummaryInvalidator
	logger      *slog.Logger
	maxPageSize int
	now         func() time.Time
}

func NewTransactionService(store domain.UnitOfWork, invalidator SummaryInvalidator, logger *slog.Logger, maxPageSize int) *TransactionService {
	if maxPageSize <= 0 {
		maxPageSize = 100
	}
	return &TransactionService{
		store:       store,
		invalidator: invalidator,
		logger:      logger,
		maxPageSize: maxPageSize,
		now:         time.Now,
	}
}

type PaymentRequest struct {
	Amount             string `json:"amount" validate:"required,amount"`
	Currency           string `json:"currency" validate:"required,iso4217"`
	BeneficiaryName    string `json:"beneficiary_name" validate:"required,max=100"`
	BeneficiaryAccount string `json:"beneficiary_account" validate:"required,alphanum,max=34"`
	BankName           string `json:"bank_name" validate:"required,max=100"`
	SwiftCode          string `json:"swift_code" validate:"required,bic"`
}

func (r *PaymentRequest) normalize() {
	r.Amount = strings.TrimSpace(r.Amount)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	r.BeneficiaryName = strings.TrimSpace(r.BeneficiaryName)
	r.BeneficiaryAccount = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(r.BeneficiaryAccount), " ", ""))
	r.BankName = strings.TrimSpace(r.BankName)
	r.SwiftCode = strings.ToUpper(strings.TrimSpace(r.SwiftCode))
}

// Create records a new pending payment owned by the calling customer.
func (s *TransactionService) Create(ctx context.Context, actor domain.Actor, req PaymentRequest) (*domain.Transaction, error) {
	if actor.Kind != domain.KindCustomer {
		return nil, errors.ErrCustomerOnly
	}

	req.normalize()
	if appErr := validateStruct(req); appErr != nil {
		return nil, appErr
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, errors.NewFieldError("amount", "invalid amount format")
	}

	now := s.now()
	tx := &domain.Transaction{
		ID:                 uuid.New(),
		CustomerID:         actor.ID,
		Amount:             amount,
		Currency:           req.Currency,
		BeneficiaryName:    req.BeneficiaryName,
		BeneficiaryAccount: req.BeneficiaryAccount,
		BankName:           req.BankName,
		SwiftCode:          req.SwiftCode,
		Status:             domain.StatusPending,
		CreatedAt:          now,
	}

	for attempt := 1; ; attempt++ {
		ref, err := newReferenceNumber(now)
		if err != nil {
			return nil, errors.NewStorageFault("generate reference number", err)
		}
		tx.ReferenceNumber = ref

		err = s.store.Transactions().CreateTransaction(ctx, tx)
		if err == nil {
			break
		}
		if stderrors.Is(err, domain.ErrReferenceCollision) && attempt < maxReferenceTries {
			continue
		}
		if stderrors.Is(err, domain.ErrReferenceCollision) {
			return nil, errors.NewStorageFault("assign reference number", err)
		}
		return nil, err
	}

	s.logger.Info("Payment created",
		"transaction_id", tx.ID,
		"reference_number", tx.ReferenceNumber,
		"customer_id", actor.ID,
		"amount", tx.Amount,
		"currency", tx.Currency)
	s.invalidate(ctx)
	return tx, nil
}

// Verify moves a pending transaction to verified on behalf of actor.
func (s *TransactionService) Verify(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.Transaction, error) {
	if err := s.authorizeReview(ctx, actor, id, domain.StatusVerified); err != nil {
		return nil, err
	}

	if notes != nil {
		trimmed := strings.TrimSpace(*notes)
		if len(trimmed) > maxNotesLength {
			return nil, s.reviewInputError(ctx, id, domain.StatusVerified,
				errors.NewFieldError("verification_notes", "Value is too long"))
		}
		notes = &trimmed
		if trimmed == "" {
			notes = nil
		}
	}

	tx, err := s.store.Transactions().ApplyReview(ctx, id, domain.Review{
		From:    domain.StatusPending,
		To:      domain.StatusVerified,
		ActorID: actor.ID,
		At:      s.now(),
		Notes:   notes,
	})
	if err != nil {
		s.logger.Warn("Verify failed", "transaction_id", id, "actor", actor.ID, "error", err)
		return nil, err
	}

	s.logger.Info("Transaction verified", "transaction_id", id, "actor", actor.ID)
	s.invalidate(ctx)
	return tx, nil
}

// Reject closes a pending transaction. A non-empty reason is mandatory.
func (s *TransactionService) Reject(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.Transaction, error) {
	if err := s.authorizeReview(ctx, actor, id, domain.StatusRejected); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, s.reviewInputError(ctx, id, domain.StatusRejected,
			errors.NewFieldError("rejection_reason", "rejection reason is required"))
	}
	if len(reason) > maxNotesLength {
		return nil, s.reviewInputError(ctx, id, domain.StatusRejected,
			errors.NewFieldError("rejection_reason", "Value is too long"))
	}

	tx, err := s.store.Transactions().ApplyReview(ctx, id, domain.Review{
		From:            domain.StatusPending,
		To:              domain.StatusRejected,
		ActorID:         actor.ID,
		At:              s.now(),
		RejectionReason: &reason,
	})
	if err != nil {
		s.logger.Warn("Reject failed", "transaction_id", id, "actor", actor.ID, "error", err)
		return nil, err
	}

	s.logger.Info("Transaction rejected", "transaction_id", id, "actor", actor.ID)
	s.invalidate(ctx)
	return tx, nil
}

// authorizeReview checks the review permission. Without it, a transaction
// that can no longer move to requested still reports InvalidTransition.
func (s *TransactionService) authorizeReview(ctx context.Context, actor domain.Actor, id uuid.UUID, requested domain.Status) error {
	if actor.HasPermission(domain.PermVerifyTransactions) {
		return nil
	}
	if err := s.checkReviewable(ctx, id, requested); err != nil {
		return err
	}
	return errors.NewMissingPermission(string(domain.PermVerifyTransactions))
}

// reviewInputError reports fieldErr only while the transaction can still
// move to requested; otherwise the transition error wins.
func (s *TransactionService) reviewInputError(ctx context.Context, id uuid.UUID, requested domain.Status, fieldErr *errors.AppError) error {
	if err := s.checkReviewable(ctx, id, requested); err != nil {
		return err
	}
	return fieldErr
}

func (s *TransactionService) checkReviewable(ctx context.Context, id uuid.UUID, requested domain.Status) error {
	tx, err := s.store.Transactions().GetTransactionByID(ctx, id)
	if err != nil {
		return err
	}
	if !tx.Status.CanTransitionTo(requested) {
		return errors.NewInvalidTransition(string(tx.Status), string(requested))
	}
	return nil
}

// Batch outcome reasons for ids left out of a submission.
const (
	ReasonNotFound    = "not_found"
	ReasonNotVerified = "not_verified"
)

type BatchOutcome struct {
	ID        uuid.UUID     `json:"id"`
	Submitted bool          `json:"submitted"`
	Status    domain.Status `json:"status,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

type BatchResult struct {
	SubmittedCount int            `json:"submitted_count"`
	SubmittedAt    time.Time      `json:"submitted_at"`
	IDs            []uuid.UUID    `json:"ids"`
	Outcomes       []BatchOutcome `json:"outcomes"`
}

// SubmitBatch submits every verified transaction among ids in one database
// transaction. Ids in any other state are reported and skipped; when none
// is eligible nothing is written and NoEligibleTransactions is returned.
func (s *TransactionService) SubmitBatch(ctx context.Context, actor domain.Actor, ids []uuid.UUID) (*BatchResult, error) {
	if !actor.HasPermission(domain.PermSubmitToSwift) {
		return nil, errors.NewMissingPermission(string(domain.PermSubmitToSwift))
	}
	if len(ids) == 0 {
		return nil, errors.ErrEmptyTransactionList
	}

	ids = dedupe(ids)
	submittedAt := s.now()

	var result *BatchResult
	err := s.store.WithTransaction(ctx, func(uow domain.UnitOfWork) error {
		statuses, err := uow.Transactions().LockStatuses(ctx, ids)
		if err != nil {
			return err
		}

		outcomes := make([]BatchOutcome, 0, len(ids))
		eligible := make([]uuid.UUID, 0, len(ids))
		for _, id := range ids {
			status, ok := statuses[id]
			switch {
			case !ok:
				outcomes = append(outcomes, BatchOutcome{ID: id, Reason: ReasonNotFound})
			case status.CanTransitionTo(domain.StatusSubmitted):
				eligible = append(eligible, id)
				outcomes = append(outcomes, BatchOutcome{ID: id, Submitted: true, Status: domain.StatusSubmitted})
			default:
				outcomes = append(outcomes, BatchOutcome{ID: id, Status: status, Reason: ReasonNotVerified})
			}
		}

		if len(eligible) == 0 {
			return errors.ErrNoEligible.WithMeta("outcomes", outcomes)
		}

		n, err := uow.Transactions().MarkSubmitted(ctx, eligible, submittedAt)
		if err != nil {
			return err
		}
		if n != len(eligible) {
			s.logger.Error("Batch row count mismatch", "expected", len(eligible), "updated", n)
			return errors.ErrInconsistentBatch
		}

		result = &BatchResult{
			SubmittedCount: n,
			SubmittedAt:    submittedAt,
			IDs:            eligible,
			Outcomes:       outcomes,
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Batch submission failed", "actor", actor.ID, "requested", len(ids), "error", err)
		return nil, err
	}

	s.logger.Info("Transactions submitted",
		"actor", actor.ID,
		"requested", len(ids),
		"submitted", result.SubmittedCount,
		"submitted_at", submittedAt)
	s.invalidate(ctx)
	return result, nil
}

// GetByID is open to any authenticated actor.
func (s *TransactionService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.store.Transactions().GetTransactionByID(ctx, id)
}

// ListForCustomer returns the calling customer's own payments, newest first.
func (s *TransactionService) ListForCustomer(ctx context.Context, actor domain.Actor) ([]domain.Transaction, error) {
	if actor.Kind != domain.KindCustomer {
		return nil, errors.ErrCustomerOnly
	}
	return s.store.Transactions().ListByCustomer(ctx, actor.ID)
}

type PageRequest struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

type Pagination struct {
	CurrentPage       int `json:"currentPage"`
	TotalPages        int `json:"totalPages"`
	TotalTransactions int `json:"totalTransactions"`
	Limit             int `json:"limit"`
}

type PendingPage struct {
	Transactions []domain.Transaction `json:"transactions"`
	Pagination   Pagination           `json:"pagination"`
}

// ListPending pages through pending transactions. Limit is clamped to the
// configured maximum; an unknown sort field or order is a validation error.
func (s *TransactionService) ListPending(ctx context.Context, req PageRequest) (*PendingPage, error) {
	q, page, err := s.listQuery(req)
	if err != nil {
		return nil, err
	}

	total, err := s.store.Transactions().CountByStatus(ctx, domain.StatusPending)
	if err != nil {
		return nil, err
	}

	txs, err := s.store.Transactions().ListByStatus(ctx, domain.StatusPending, q)
	if err != nil {
		return nil, err
	}

	return &PendingPage{
		Transactions: txs,
		Pagination: Pagination{
			CurrentPage:       page,
			TotalPages:        (total + q.Limit - 1) / q.Limit,
			TotalTransactions: total,
			Limit:             q.Limit,
		},
	}, nil
}

func (s *TransactionService) listQuery(req PageRequest) (domain.ListQuery, int, error) {
	var fields []errors.FieldError

	page := req.Page
	if page < 1 {
		page = defaultPage
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	// Offset is (page-1)*limit and must not overflow.
	if page-1 > math.MaxInt/limit {
		fields = append(fields, errors.FieldError{
			Field:   "page",
			Message: "page is out of range",
		})
	}

	sortField := domain.SortByCreatedAt
	if req.SortBy != "" {
		sortField = domain.SortField(req.SortBy)
		if !sortField.IsValid() {
			fields = append(fields, errors.FieldError{
				Field:   "sortBy",
				Message: fmt.Sprintf("unsupported sort field %q", req.SortBy),
			})
		}
	}

	descending := true
	switch strings.ToLower(req.SortOrder) {
	case "", "desc":
	case "asc":
		descending = false
	default:
		fields = append(fields, errors.FieldError{
			Field:   "sortOrder",
			Message: "sort order must be asc or desc",
		})
	}

	if len(fields) > 0 {
		return domain.ListQuery{}, 0, errors.NewValidationError(fields)
	}

	return domain.ListQuery{
		Offset:     (page - 1) * limit,
		Limit:      limit,
		SortField:  sortField,
		Descending: descending,
	}, page, nil
}

func (s *TransactionService) invalidate(ctx context.Context) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx)
	}
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newReferenceNumber returns TXN-YYYYMMDD-XXXXXXXX.
func newReferenceNumber(now time.Time) (string, error) {
	suffix := make([]byte, 8)
	alphabetLen := big.NewInt(int64(len(referenceAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		suffix[i] = referenceAlphabet[n.Int64()]
	}
	return fmt.Sprintf("TXN-%s-%s", now.Format("20060102"), suffix), nil
}
