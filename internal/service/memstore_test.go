package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
)

// memState is the shared backing data of an in-memory unit of work.
type memState struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]domain.Account
	txs      map[uuid.UUID]domain.Transaction
	roles    map[string][]domain.Permission

	// createErrs are returned, in order, by the next CreateTransaction calls.
	createErrs []error
	// markFault, when set, decides how many of the eligible ids are written
	// before MarkSubmitted returns its error.
	markFault func(ids []uuid.UUID) (int, error)
}

// memStore implements domain.UnitOfWork and both repositories. A store
// handed to a WithTransaction callback already holds the state lock.
type memStore struct {
	state  *memState
	locked bool
}

var _ domain.UnitOfWork = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{state: &memState{
		accounts: map[uuid.UUID]domain.Account{},
		txs:      map[uuid.UUID]domain.Transaction{},
		roles: map[string][]domain.Permission{
			"verifier":       {domain.PermVerifyTransactions},
			"swift_operator": {domain.PermSubmitToSwift},
			"supervisor":     {domain.PermVerifyTransactions, domain.PermSubmitToSwift},
		},
	}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *memStore) lock() func() {
	if s.locked {
		return func() {}
	}
	s.state.mu.Lock()
	return s.state.mu.Unlock
}

func (s *memStore) Accounts() domain.AccountRepository         { return s }
func (s *memStore) Transactions() domain.TransactionRepository { return s }

func (s *memStore) WithTransaction(ctx context.Context, fn func(domain.UnitOfWork) error) error {
	if s.locked {
		return errors.ErrCannotBeginTx
	}
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	snapshot := make(map[uuid.UUID]domain.Transaction, len(s.state.txs))
	for id, tx := range s.state.txs {
		snapshot[id] = tx
	}

	if err := fn(&memStore{state: s.state, locked: true}); err != nil {
		s.state.txs = snapshot
		return err
	}
	return nil
}

// put stores tx directly, bypassing validation.
func (s *memStore) put(tx domain.Transaction) {
	defer s.lock()()
	s.state.txs[tx.ID] = tx
}

func (s *memStore) get(id uuid.UUID) domain.Transaction {
	defer s.lock()()
	return s.state.txs[id]
}

func (s *memStore) putAccount(acc domain.Account) {
	defer s.lock()()
	acc.Permissions = s.state.roles[acc.RoleName]
	s.state.accounts[acc.ID] = acc
}

func (s *memStore) account(id uuid.UUID) domain.Account {
	defer s.lock()()
	return s.state.accounts[id]
}

// AccountRepository

func (s *memStore) CreateAccount(ctx context.Context, acc *domain.Account) error {
	defer s.lock()()
	for _, existing := range s.state.accounts {
		if existing.Username == acc.Username {
			return errors.ErrDuplicateUsername
		}
	}
	now := time.Now()
	acc.CreatedAt, acc.UpdatedAt = now, now
	stored := *acc
	stored.Permissions = s.state.roles[acc.RoleName]
	s.state.accounts[acc.ID] = stored
	return nil
}

func (s *memStore) GetAccountByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	defer s.lock()()
	acc, ok := s.state.accounts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return &acc, nil
}

func (s *memStore) FindByLogin(ctx context.Context, kind domain.AccountKind, identity string) (*domain.Account, error) {
	defer s.lock()()
	var byCode *domain.Account
	for _, acc := range s.state.accounts {
		if acc.Kind != kind {
			continue
		}
		if acc.Username == strings.ToLower(identity) {
			return &acc, nil
		}
		if acc.IDCode != "" && acc.IDCode == strings.ToUpper(identity) {
			byCode = &acc
		}
	}
	if byCode != nil {
		return byCode, nil
	}
	return nil, errors.ErrAccountNotFound
}

func (s *memStore) RecordFailedLogin(ctx context.Context, id uuid.UUID, threshold int, now, lockUntil time.Time) (int, *time.Time, error) {
	defer s.lock()()
	acc, ok := s.state.accounts[id]
	if !ok {
		return 0, nil, errors.ErrAccountNotFound
	}

	if acc.LockedUntil != nil && !acc.LockedUntil.After(now) {
		acc.FailedLoginAttempts = 1
	} else {
		acc.FailedLoginAttempts++
	}
	acc.LockedUntil = nil
	if acc.FailedLoginAttempts >= threshold {
		until := lockUntil
		acc.LockedUntil = &until
	}
	s.state.accounts[id] = acc
	return acc.FailedLoginAttempts, acc.LockedUntil, nil
}

func (s *memStore) ResetLoginState(ctx context.Context, id uuid.UUID, lastLogin time.Time) error {
	defer s.lock()()
	acc, ok := s.state.accounts[id]
	if !ok {
		return errors.ErrAccountNotFound
	}
	acc.FailedLoginAttempts = 0
	acc.LockedUntil = nil
	acc.LastLogin = &lastLogin
	s.state.accounts[id] = acc
	return nil
}

func (s *memStore) RoleExists(ctx context.Context, name string) (bool, error) {
	defer s.lock()()
	_, ok := s.state.roles[name]
	return ok, nil
}

// TransactionRepository

func (s *memStore) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	defer s.lock()()
	if len(s.state.createErrs) > 0 {
		err := s.state.createErrs[0]
		s.state.createErrs = s.state.createErrs[1:]
		return err
	}
	for _, existing := range s.state.txs {
		if existing.ReferenceNumber == tx.ReferenceNumber {
			return domain.ErrReferenceCollision
		}
	}
	tx.UpdatedAt = tx.CreatedAt
	s.state.txs[tx.ID] = *tx
	return nil
}

func (s *memStore) GetTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	defer s.lock()()
	tx, ok := s.state.txs[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	return &tx, nil
}

func (s *memStore) ListByStatus(ctx context.Context, status domain.Status, q domain.ListQuery) ([]domain.Transaction, error) {
	if !q.SortField.IsValid() {
		return nil, errors.NewFieldError("sortBy", "unsupported sort field")
	}
	defer s.lock()()

	out := []domain.Transaction{}
	for _, tx := range s.state.txs {
		if tx.Status == status {
			out = append(out, tx)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		c := compareBy(q.SortField, out[i], out[j])
		if c == 0 {
			c = strings.Compare(out[i].ID.String(), out[j].ID.String())
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})

	if q.Offset >= len(out) {
		return []domain.Transaction{}, nil
	}
	out = out[q.Offset:]
	if q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func compareBy(field domain.SortField, a, b domain.Transaction) int {
	switch field {
	case domain.SortByAmount:
		return a.Amount.Cmp(b.Amount)
	case domain.SortByCurrency:
		return strings.Compare(a.Currency, b.Currency)
	case domain.SortByBeneficiaryName:
		return strings.Compare(a.BeneficiaryName, b.BeneficiaryName)
	case domain.SortByReferenceNumber:
		return strings.Compare(a.ReferenceNumber, b.ReferenceNumber)
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}

func (s *memStore) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Transaction, error) {
	defer s.lock()()
	out := []domain.Transaction{}
	for _, tx := range s.state.txs {
		if tx.CustomerID == customerID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) CountByStatus(ctx context.Context, status domain.Status) (int, error) {
	defer s.lock()()
	n := 0
	for _, tx := range s.state.txs {
		if tx.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountSubmittedSince(ctx context.Context, since time.Time) (int, error) {
	defer s.lock()()
	n := 0
	for _, tx := range s.state.txs {
		if tx.Status == domain.StatusSubmitted && tx.SubmittedAt != nil && !tx.SubmittedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ApplyReview(ctx context.Context, id uuid.UUID, review domain.Review) (*domain.Transaction, error) {
	defer s.lock()()
	tx, ok := s.state.txs[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	if tx.Status != review.From {
		return nil, errors.NewInvalidTransition(string(tx.Status), string(review.To))
	}

	actor, at := review.ActorID, review.At
	tx.Status = review.To
	tx.VerifiedBy = &actor
	tx.VerifiedAt = &at
	if review.Notes != nil {
		tx.VerificationNotes = review.Notes
	}
	tx.RejectionReason = review.RejectionReason
	tx.UpdatedAt = at
	s.state.txs[id] = tx
	return &tx, nil
}

func (s *memStore) LockStatuses(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Status, error) {
	defer s.lock()()
	out := map[uuid.UUID]domain.Status{}
	for _, id := range ids {
		if tx, ok := s.state.txs[id]; ok {
			out[id] = tx.Status
		}
	}
	return out, nil
}

func (s *memStore) MarkSubmitted(ctx context.Context, ids []uuid.UUID, at time.Time) (int, error) {
	defer s.lock()()

	limit, faultErr := len(ids), error(nil)
	if s.state.markFault != nil {
		limit, faultErr = s.state.markFault(ids)
	}

	n := 0
	for _, id := range ids[:limit] {
		tx, ok := s.state.txs[id]
		if !ok || tx.Status != domain.StatusVerified {
			continue
		}
		submittedAt := at
		tx.Status = domain.StatusSubmitted
		tx.SubmittedAt = &submittedAt
		tx.UpdatedAt = at
		s.state.txs[id] = tx
		n++
	}
	return n, faultErr
}
