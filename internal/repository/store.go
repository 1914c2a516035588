package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	executor SQLExecutor
	logger   *slog.Logger
	timeout  time.Duration
}

var _ domain.UnitOfWork = (*Store)(nil)

// NewStore creates a new Store instance. Every store call is bounded by
// timeout; a zero timeout leaves deadlines to the caller's context.
func NewStore(db *sql.DB, logger *slog.Logger, timeout time.Duration) *Store {
	return &Store{
		executor: db,
		logger:   logger,
		timeout:  timeout,
	}
}

// Accounts returns an AccountRepository using the current executor
func (s *Store) Accounts() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.logger, s.timeout)
}

// Transactions returns a TransactionRepository using the current executor
func (s *Store) Transactions() domain.TransactionRepository {
	return NewTransactionRepository(s.executor, s.logger, s.timeout)
}

// WithTransaction executes a function within a database transaction
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	// Only sql.DB can begin transactions
	db, ok := s.executor.(DB)
	if !ok {
		return errors.ErrCannotBeginTx
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin transaction", "error", err)
		return errors.NewStorageFault("begin transaction", err)
	}

	txStore := &Store{
		executor: tx,
		logger:   s.logger,
		// the outer deadline already covers every statement in the tx
		timeout: 0,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", "error", err)
		return errors.NewStorageFault("commit transaction, outcome unknown", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return nil
	}
	return db.PingContext(ctx)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
