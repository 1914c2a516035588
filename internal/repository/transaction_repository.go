package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
)

const transactionColumns = `
	id, customer_id, reference_number, amount, currency, beneficiary_name, beneficiary_account,
	bank_name, swift_code, status, verified_by, verified_at, verification_notes, rejection_reason,
	submitted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type transactionRepository struct {
	db      SQLExecutor
	logger  *slog.Logger
	timeout time.Duration
}

func NewTransactionRepository(db SQLExecutor, logger *slog.Logger, timeout time.Duration) domain.TransactionRepository {
	return &transactionRepository{
		db:      db,
		logger:  logger,
		timeout: timeout,
	}
}

func (r *transactionRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO transactions
		(id, customer_id, reference_number, amount, currency, beneficiary_name, beneficiary_account,
		 bank_name, swift_code, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.CustomerID,
		tx.ReferenceNumber,
		tx.Amount.String(),
		tx.Currency,
		tx.BeneficiaryName,
		tx.BeneficiaryAccount,
		tx.BankName,
		tx.SwiftCode,
		tx.Status,
		tx.CreatedAt,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch {
			case pqErr.Code == "23505" && pqErr.Constraint == "idx_transactions_reference_number":
				r.logger.Warn("Reference number collision", "reference_number", tx.ReferenceNumber)
				return domain.ErrReferenceCollision
			case pqErr.Code == "23503": // foreign_key_violation
				return errors.ErrAccountNotFound
			}
		}
		r.logger.Error("Failed to create transaction",
			"customer_id", tx.CustomerID,
			"amount", tx.Amount,
			"error", err)
		return errors.NewStorageFault("create transaction", err)
	}

	tx.UpdatedAt = tx.CreatedAt
	r.logger.Info("Transaction created successfully", "transaction_id", tx.ID, "reference_number", tx.ReferenceNumber)
	return nil
}

func (r *transactionRepository) GetTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + transactionColumns + ` FROM transactions WHERE id = $1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrTransactionNotFound
		}
		r.logger.Error("Failed to get transaction", "transaction_id", id, "error", err)
		return nil, errors.NewStorageFault("get transaction", err)
	}
	return tx, nil
}

func (r *transactionRepository) ListByStatus(ctx context.Context, status domain.Status, q domain.ListQuery) ([]domain.Transaction, error) {
	if !q.SortField.IsValid() {
		return nil, errors.NewFieldError("sortBy", fmt.Sprintf("unsupported sort field %q", q.SortField))
	}

	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}

	// SortField is whitelisted above, so formatting it into the query is safe.
	query := fmt.Sprintf(`SELECT`+transactionColumns+`
		FROM transactions WHERE status = $1
		ORDER BY %s %s, id %s
		LIMIT $2 OFFSET $3`, q.SortField, direction, direction)

	return r.queryTransactions(ctx, "list transactions by status", query, status, q.Limit, q.Offset)
}

func (r *transactionRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Transaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM transactions WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`

	return r.queryTransactions(ctx, "list customer transactions", query, customerID)
}

func (r *transactionRepository) queryTransactions(ctx context.Context, op, query string, args ...interface{}) ([]domain.Transaction, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query transactions", "op", op, "error", err)
		return nil, errors.NewStorageFault(op, err)
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			r.logger.Error("Failed to scan transaction", "op", op, "error", err)
			return nil, errors.NewStorageFault(op, err)
		}
		transactions = append(transactions, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageFault(op, err)
	}
	return transactions, nil
}

func (r *transactionRepository) CountByStatus(ctx context.Context, status domain.Status) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM transactions WHERE status = $1`, status)
}

func (r *transactionRepository) CountSubmittedSince(ctx context.Context, since time.Time) (int, error) {
	return r.count(ctx,
		`SELECT COUNT(*) FROM transactions WHERE status = $1 AND submitted_at >= $2`,
		domain.StatusSubmitted, since)
}

func (r *transactionRepository) count(ctx context.Context, query string, args ...interface{}) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		r.logger.Error("Failed to count transactions", "error", err)
		return 0, errors.NewStorageFault("count transactions", err)
	}
	return n, nil
}

// ApplyReview moves a transaction from review.From to review.To only if its
// stored status still equals review.From. A lost race surfaces as
// InvalidTransition carrying the status the winner wrote.
func (r *transactionRepository) ApplyReview(ctx context.Context, id uuid.UUID, review domain.Review) (*domain.Transaction, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE transactions SET
			status = $3,
			verified_by = $4,
			verified_at = $5,
			verification_notes = COALESCE($6, verification_notes),
			rejection_reason = $7,
			updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		id,
		review.From,
		review.To,
		review.ActorID,
		review.At,
		nullableString(review.Notes),
		nullableString(review.RejectionReason),
	))

	if err == sql.ErrNoRows {
		current, getErr := r.GetTransactionByID(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		r.logger.Warn("Review rejected by status check",
			"transaction_id", id, "current_status", current.Status, "requested_status", review.To)
		return nil, errors.NewInvalidTransition(string(current.Status), string(review.To))
	}
	if err != nil {
		r.logger.Error("Failed to apply review", "transaction_id", id, "to", review.To, "error", err)
		return nil, errors.NewStorageFault("update transaction status, outcome unknown", err)
	}

	r.logger.Info("Transaction status updated", "transaction_id", id, "status", tx.Status, "actor", review.ActorID)
	return tx, nil
}

func (r *transactionRepository) LockStatuses(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Status, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT id, status FROM transactions WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		r.logger.Error("Failed to lock transactions", "count", len(ids), "error", err)
		return nil, errors.NewStorageFault("lock transactions", err)
	}
	defer rows.Close()

	statuses := make(map[uuid.UUID]domain.Status, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, errors.NewStorageFault("lock transactions", err)
		}
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return nil, errors.NewStorageFault("lock transactions", err)
		}
		statuses[id] = status
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageFault("lock transactions", err)
	}
	return statuses, nil
}

func (r *transactionRepository) MarkSubmitted(ctx context.Context, ids []uuid.UUID, at time.Time) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE transactions
		SET status = $2, submitted_at = $3, updated_at = $3
		WHERE id = ANY($1::uuid[]) AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, pq.Array(uuidStrings(ids)), domain.StatusSubmitted, at, domain.StatusVerified)
	if err != nil {
		r.logger.Error("Failed to mark transactions submitted", "count", len(ids), "error", err)
		return 0, errors.NewStorageFault("submit transactions, outcome unknown", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewStorageFault("get rows affected", err)
	}
	return int(rowsAffected), nil
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amountStr, status string
	var verifiedBy uuid.NullUUID
	var verifiedAt, submittedAt sql.NullTime
	var notes, reason sql.NullString

	err := row.Scan(
		&tx.ID,
		&tx.CustomerID,
		&tx.ReferenceNumber,
		&amountStr,
		&tx.Currency,
		&tx.BeneficiaryName,
		&tx.BeneficiaryAccount,
		&tx.BankName,
		&tx.SwiftCode,
		&status,
		&verifiedBy,
		&verifiedAt,
		&notes,
		&reason,
		&submittedAt,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Status, err = domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	// Parse amount
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amountStr, err)
	}
	tx.Amount = amount

	if verifiedBy.Valid {
		id := verifiedBy.UUID
		tx.VerifiedBy = &id
	}
	tx.VerifiedAt = timePtr(verifiedAt)
	tx.VerificationNotes = stringPtr(notes)
	tx.RejectionReason = stringPtr(reason)
	tx.SubmittedAt = timePtr(submittedAt)
	return &tx, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
