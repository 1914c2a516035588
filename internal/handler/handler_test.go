package handler

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payments-portal/internal/auth"
	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
	"payments-portal/internal/service"
)

type mockAccountService struct{ mock.Mock }

func (m *mockAccountService) Login(ctx context.Context, kind domain.AccountKind, req service.LoginRequest) (*service.LoginResult, error) {
	args := m.Called(ctx, kind, req)
	result, _ := args.Get(0).(*service.LoginResult)
	return result, args.Error(1)
}

func (m *mockAccountService) RegisterCustomer(ctx context.Context, req service.RegisterRequest) (*domain.Account, error) {
	args := m.Called(ctx, req)
	acc, _ := args.Get(0).(*domain.Account)
	return acc, args.Error(1)
}

func (m *mockAccountService) Profile(ctx context.Context, actor domain.Actor) (*domain.Account, error) {
	args := m.Called(ctx, actor)
	acc, _ := args.Get(0).(*domain.Account)
	return acc, args.Error(1)
}

type mockTransactionService struct{ mock.Mock }

func (m *mockTransactionService) Create(ctx context.Context, actor domain.Actor, req service.PaymentRequest) (*domain.Transaction, error) {
	args := m.Called(ctx, actor, req)
	tx, _ := args.Get(0).(*domain.Transaction)
	return tx, args.Error(1)
}

func (m *mockTransactionService) Verify(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.Transaction, error) {
	args := m.Called(ctx, actor, id, notes)
	tx, _ := args.Get(0).(*domain.Transaction)
	return tx, args.Error(1)
}

func (m *mockTransactionService) Reject(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.Transaction, error) {
	args := m.Called(ctx, actor, id, reason)
	tx, _ := args.Get(0).(*domain.Transaction)
	return tx, args.Error(1)
}

func (m *mockTransactionService) SubmitBatch(ctx context.Context, actor domain.Actor, ids []uuid.UUID) (*service.BatchResult, error) {
	args := m.Called(ctx, actor, ids)
	result, _ := args.Get(0).(*service.BatchResult)
	return result, args.Error(1)
}

func (m *mockTransactionService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	args := m.Called(ctx, id)
	tx, _ := args.Get(0).(*domain.Transaction)
	return tx, args.Error(1)
}

func (m *mockTransactionService) ListForCustomer(ctx context.Context, actor domain.Actor) ([]domain.Transaction, error) {
	args := m.Called(ctx, actor)
	txs, _ := args.Get(0).([]domain.Transaction)
	return txs, args.Error(1)
}

func (m *mockTransactionService) ListPending(ctx context.Context, req service.PageRequest) (*service.PendingPage, error) {
	args := m.Called(ctx, req)
	page, _ := args.Get(0).(*service.PendingPage)
	return page, args.Error(1)
}

type mockDashboardService struct{ mock.Mock }

func (m *mockDashboardService) Summary(ctx context.Context) (*service.DashboardSummary, error) {
	args := m.Called(ctx)
	summary, _ := args.Get(0).(*service.DashboardSummary)
	return summary, args.Error(1)
}

type testEnv struct {
	router       *mux.Router
	tokens       *auth.TokenIssuer
	accounts     *mockAccountService
	transactions *mockTransactionService
	dashboard    *mockDashboardService
	supervisor   domain.Actor
	customer     domain.Actor
}

func newTestEnv(t *testing.T, verbose bool) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		router:       mux.NewRouter(),
		tokens:       auth.NewTokenIssuer("handler-secret", time.Hour, "portal-test"),
		accounts:     &mockAccountService{},
		transactions: &mockTransactionService{},
		dashboard:    &mockDashboardService{},
		supervisor: domain.Actor{
			ID: uuid.New(), Username: "sam", Kind: domain.KindEmployee, Role: "supervisor",
			Permissions: []domain.Permission{domain.PermVerifyTransactions, domain.PermSubmitToSwift},
		},
		customer: domain.Actor{ID: uuid.New(), Username: "carol", Kind: domain.KindCustomer, Permissions: []domain.Permission{}},
	}

	RegisterRoutes(env.router,
		NewAccountHandler(env.accounts, logger, verbose),
		NewTransactionHandler(env.transactions, env.dashboard, logger, verbose),
		env.tokens)

	t.Cleanup(func() {
		env.accounts.AssertExpectations(t)
		env.transactions.AssertExpectations(t)
		env.dashboard.AssertExpectations(t)
	})
	return env
}

func (e *testEnv) token(t *testing.T, actor domain.Actor) string {
	t.Helper()
	token, _, err := e.tokens.Issue(actor)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestEmployeeLogin(t *testing.T) {
	env := newTestEnv(t, false)
	req := service.LoginRequest{Username: "alice", Password: "secret"}

	env.accounts.On("Login", mock.Anything, domain.KindEmployee, req).Return(&service.LoginResult{
		Token:   "signed-token",
		Account: &domain.Account{ID: uuid.New(), Username: "alice", PasswordHash: "hash"},
	}, nil).Once()

	rec, body := env.do(t, http.MethodPost, "/employee/login", "", req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "signed-token", data["token"])
	assert.NotContains(t, rec.Body.String(), "hash")

	env.accounts.On("Login", mock.Anything, domain.KindEmployee, req).
		Return(nil, errors.ErrInvalidCredentials.WithMeta("remaining_attempts", 3)).Once()

	rec, body = env.do(t, http.MethodPost, "/employee/login", "", req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "authentication_error", body["error"])
	assert.Equal(t, float64(3), body["remaining_attempts"])

	env.accounts.On("Login", mock.Anything, domain.KindEmployee, req).
		Return(nil, errors.NewAccountLocked(12)).Once()

	rec, body = env.do(t, http.MethodPost, "/employee/login", "", req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "account_locked", body["error"])
	assert.Equal(t, float64(12), body["remaining_minutes"])
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, http.MethodPost, "/employee/login", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body["error"])
	assert.NotContains(t, body, "details")
}

func TestBearerAuthentication(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, http.MethodGet, "/employee/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_error", body["error"])

	rec, _ = env.do(t, http.MethodGet, "/employee/dashboard", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/employee/dashboard", env.token(t, env.customer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "authorization_error", body["error"])

	rec, _ = env.do(t, http.MethodGet, "/customer/transactions", env.token(t, env.supervisor), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	other := auth.NewTokenIssuer("different-secret", time.Hour, "portal-test")
	forged, _, err := other.Issue(env.supervisor)
	require.NoError(t, err)
	rec, _ = env.do(t, http.MethodGet, "/employee/dashboard", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t, false)
	env.dashboard.On("Summary", mock.Anything).Return(&service.DashboardSummary{
		Stats:         service.DashboardStats{PendingTransactions: 4, VerifiedTransactions: 2, SubmittedToday: 1},
		RecentPending: []service.RecentTransaction{},
	}, nil)

	rec, body := env.do(t, http.MethodGet, "/employee/dashboard", env.token(t, env.supervisor), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["data"].(map[string]interface{})["stats"].(map[string]interface{})
	assert.Equal(t, float64(4), stats["pending_transactions"])
	assert.Equal(t, float64(1), stats["submitted_today"])
}

func TestVerifyTransaction(t *testing.T) {
	env := newTestEnv(t, false)
	id := uuid.New()
	token := env.token(t, env.supervisor)

	env.transactions.On("Verify", mock.Anything, env.supervisor, id, mock.MatchedBy(func(notes *string) bool {
		return notes != nil && *notes == "looks good"
	})).Return(&domain.Transaction{ID: id, Status: domain.StatusVerified}, nil).Once()

	rec, body := env.do(t, http.MethodPut, "/employee/verify-transaction/"+id.String(), token,
		map[string]string{"verification_notes": "looks good"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "verified", body["data"].(map[string]interface{})["status"])

	env.transactions.On("Verify", mock.Anything, env.supervisor, id, (*string)(nil)).
		Return(nil, errors.NewInvalidTransition("verified", "verified")).Once()

	rec, body = env.do(t, http.MethodPut, "/employee/verify-transaction/"+id.String(), token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_transition", body["error"])
	assert.Equal(t, "verified", body["current_status"])
	assert.Equal(t, "verified", body["requested_status"])

	rec, body = env.do(t, http.MethodPut, "/employee/verify-transaction/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body["error"])
}

func TestRejectTransaction(t *testing.T) {
	env := newTestEnv(t, false)
	id := uuid.New()
	token := env.token(t, env.supervisor)

	env.transactions.On("Reject", mock.Anything, env.supervisor, id, "").
		Return(nil, errors.NewFieldError("rejection_reason", "rejection reason is required")).Once()

	rec, body := env.do(t, http.MethodPut, "/employee/reject-transaction/"+id.String(), token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := body["fields"].([]interface{})
	require.Len(t, fields, 1)
	assert.Equal(t, "rejection_reason", fields[0].(map[string]interface{})["field"])

	reason := "duplicate payment"
	env.transactions.On("Reject", mock.Anything, env.supervisor, id, reason).
		Return(&domain.Transaction{ID: id, Status: domain.StatusRejected, RejectionReason: &reason}, nil).Once()

	rec, _ = env.do(t, http.MethodPut, "/employee/reject-transaction/"+id.String(), token,
		map[string]string{"rejection_reason": reason})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitToSwift(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.token(t, env.supervisor)
	a, b := uuid.New(), uuid.New()
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	env.transactions.On("SubmitBatch", mock.Anything, env.supervisor, []uuid.UUID{a, b}).Return(&service.BatchResult{
		SubmittedCount: 1,
		SubmittedAt:    at,
		IDs:            []uuid.UUID{a},
		Outcomes: []service.BatchOutcome{
			{ID: a, Submitted: true, Status: domain.StatusSubmitted},
			{ID: b, Status: domain.StatusPending, Reason: service.ReasonNotVerified},
		},
	}, nil).Once()

	rec, body := env.do(t, http.MethodPost, "/employee/submit-to-swift", token,
		map[string][]string{"transaction_ids": {a.String(), b.String()}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1 transaction(s) submitted to SWIFT", body["message"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["submitted_count"])
	assert.Len(t, data["outcomes"], 2)

	rec, body = env.do(t, http.MethodPost, "/employee/submit-to-swift", token,
		map[string][]string{"transaction_ids": {a.String(), "bogus"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	fields := body["fields"].([]interface{})
	assert.Equal(t, "transaction_ids[1]", fields[0].(map[string]interface{})["field"])

	env.transactions.On("SubmitBatch", mock.Anything, env.supervisor, []uuid.UUID{b}).
		Return(nil, errors.ErrNoEligible).Once()
	rec, body = env.do(t, http.MethodPost, "/employee/submit-to-swift", token,
		map[string][]string{"transaction_ids": {b.String()}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no_eligible_transactions", body["error"])
}

func TestPendingTransactions(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.token(t, env.supervisor)

	env.transactions.On("ListPending", mock.Anything, service.PageRequest{
		Page: 2, Limit: 5, SortBy: "amount", SortOrder: "asc",
	}).Return(&service.PendingPage{
		Transactions: []domain.Transaction{{ID: uuid.New(), Amount: decimal.NewFromInt(10), Status: domain.StatusPending}},
		Pagination:   service.Pagination{CurrentPage: 2, TotalPages: 3, TotalTransactions: 11, Limit: 5},
	}, nil).Once()

	rec, body := env.do(t, http.MethodGet, "/employee/pending-transactions?page=2&limit=5&sortBy=amount&sortOrder=asc", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pagination := body["data"].(map[string]interface{})["pagination"].(map[string]interface{})
	assert.Equal(t, float64(3), pagination["totalPages"])
	assert.Equal(t, float64(11), pagination["totalTransactions"])

	rec, body = env.do(t, http.MethodGet, "/employee/pending-transactions?page=two&limit=x", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, body["fields"], 2)
}

func TestGetTransaction(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.token(t, env.supervisor)
	id := uuid.New()

	env.transactions.On("GetByID", mock.Anything, id).Return(nil, errors.ErrTransactionNotFound).Once()

	rec, body := env.do(t, http.MethodGet, "/employee/transaction/"+id.String(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestStorageFaultDetailsOnlyInDevelopment(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		env := newTestEnv(t, verbose)
		env.dashboard.On("Summary", mock.Anything).Return(nil, stderrors.New("pq: connection refused")).Once()

		rec, body := env.do(t, http.MethodGet, "/employee/dashboard", env.token(t, env.supervisor), nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "storage_fault", body["error"])
		if verbose {
			assert.Equal(t, "pq: connection refused", body["details"])
		} else {
			assert.NotContains(t, body, "details")
			assert.NotContains(t, rec.Body.String(), "connection refused")
		}
	}
}

func TestCustomerPayment(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.token(t, env.customer)

	env.transactions.On("Create", mock.Anything, env.customer, service.PaymentRequest{
		Amount:             "1500.50",
		Currency:           "EUR",
		BeneficiaryName:    "Jane Doe",
		BeneficiaryAccount: "DE89370400440532013000",
		BankName:           "Commerzbank",
		SwiftCode:          "COBADEFF",
	}).Return(&domain.Transaction{ID: uuid.New(), ReferenceNumber: "TXN-20260314-ABCDEFGH", Status: domain.StatusPending}, nil).Once()

	rec, body := env.do(t, http.MethodPost, "/customer/payment", token, `{
		"amount": 1500.50,
		"currency": "EUR",
		"beneficiary_name": "Jane Doe",
		"beneficiary_account": "DE89370400440532013000",
		"bank_name": "Commerzbank",
		"swift_code": "COBADEFF"
	}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "TXN-20260314-ABCDEFGH", body["data"].(map[string]interface{})["reference_number"])

	env.transactions.On("ListForCustomer", mock.Anything, env.customer).Return([]domain.Transaction{}, nil).Once()
	rec, body = env.do(t, http.MethodGet, "/customer/transactions", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["data"].(map[string]interface{})["count"])
}

func TestCustomerPaymentAmountReachesValidation(t *testing.T) {
	env := newTestEnv(t, false)
	token := env.token(t, env.customer)

	for body, amount := range map[string]string{
		`{"amount":"abc","currency":"EUR"}`:       "abc",
		`{"amount":"  250.00 ","currency":"EUR"}`: "  250.00 ",
		`{"amount":true,"currency":"EUR"}`:        "true",
		`{"amount":null,"currency":"EUR"}`:        "",
		`{"currency":"EUR"}`:                      "",
	} {
		env.transactions.On("Create", mock.Anything, env.customer, service.PaymentRequest{Amount: amount, Currency: "EUR"}).
			Return(nil, errors.NewFieldError("amount", "Must be a positive amount with at most two decimal places")).Once()

		rec, resp := env.do(t, http.MethodPost, "/customer/payment", token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "validation_error", resp["error"], body)
		fields := resp["fields"].([]interface{})
		require.Len(t, fields, 1, body)
		assert.Equal(t, "amount", fields[0].(map[string]interface{})["field"], body)
	}
	env.transactions.AssertExpectations(t)

	rec, resp := env.do(t, http.MethodPost, "/customer/payment", token, `{"amount":"abc`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, resp, "fields")
}

func TestCustomerRegisterAndProfile(t *testing.T) {
	env := newTestEnv(t, false)
	req := service.RegisterRequest{FullName: "Carol", AccountNumber: "12345678", Username: "carol", Password: "longenough"}

	env.accounts.On("RegisterCustomer", mock.Anything, req).Return(nil, errors.ErrDuplicateUsername).Once()
	rec, body := env.do(t, http.MethodPost, "/customer/register", "", req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_username", body["error"])

	env.accounts.On("Profile", mock.Anything, env.customer).
		Return(&domain.Account{ID: env.customer.ID, Username: "carol", PasswordHash: "secret-hash"}, nil).Once()
	rec, _ = env.do(t, http.MethodGet, "/customer/profile", env.token(t, env.customer), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-hash")
}

func TestEmployeeLogout(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, http.MethodPost, "/employee/logout", env.token(t, env.supervisor), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logout successful", body["message"])
}
