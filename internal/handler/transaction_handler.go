package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
	"payments-portal/internal/service"
)

type TransactionService interface {
	Create(ctx context.Context, actor domain.Actor, req service.PaymentRequest) (*domain.Transaction, error)
	Verify(ctx context.Context, actor domain.Actor, id uuid.UUID, notes *string) (*domain.Transaction, error)
	Reject(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (*domain.Transaction, error)
	SubmitBatch(ctx context.Context, actor domain.Actor, ids []uuid.UUID) (*service.BatchResult, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListForCustomer(ctx context.Context, actor domain.Actor) ([]domain.Transaction, error)
	ListPending(ctx context.Context, req service.PageRequest) (*service.PendingPage, error)
}

type DashboardService interface {
	Summary(ctx context.Context) (*service.DashboardSummary, error)
}

type TransactionHandler struct {
	transactionService TransactionService
	dashboardService   DashboardService
	responder
}

func NewTransactionHandler(transactionService TransactionService, dashboardService DashboardService, logger *slog.Logger, verbose bool) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
		dashboardService:   dashboardService,
		responder:          responder{logger: logger, verbose: verbose},
	}
}

type PaymentRequest struct {
	Amount             paymentAmount `json:"amount"`
	Currency           string        `json:"currency"`
	BeneficiaryName    string        `json:"beneficiary_name"`
	BeneficiaryAccount string        `json:"beneficiary_account"`
	BankName           string        `json:"bank_name"`
	SwiftCode          string        `json:"swift_code"`
}

// paymentAmount accepts a number or a string and keeps its text as sent,
// leaving format checks to field validation.
type paymentAmount string

func (a *paymentAmount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*a = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = paymentAmount(s)
	default:
		*a = paymentAmount(raw)
	}
	return nil
}

type VerifyRequest struct {
	VerificationNotes *string `json:"verification_notes"`
}

type RejectRequest struct {
	RejectionReason string `json:"rejection_reason"`
}

type SubmitRequest struct {
	TransactionIDs []string `json:"transaction_ids"`
}

func (h *TransactionHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req PaymentRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}

	tx, err := h.transactionService.Create(r.Context(), actor, service.PaymentRequest{
		Amount:             string(req.Amount),
		Currency:           req.Currency,
		BeneficiaryName:    req.BeneficiaryName,
		BeneficiaryAccount: req.BeneficiaryAccount,
		BankName:           req.BankName,
		SwiftCode:          req.SwiftCode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, "Payment submitted for verification", tx)
}

func (h *TransactionHandler) CustomerTransactions(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	txs, err := h.transactionService.ListForCustomer(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, "", map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

func (h *TransactionHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dashboardService.Summary(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, "", summary)
}

func (h *TransactionHandler) PendingTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var fields []errors.FieldError
	page, ok := intParam(query.Get("page"))
	if !ok {
		fields = append(fields, errors.FieldError{Field: "page", Message: "must be an integer"})
	}
	limit, ok := intParam(query.Get("limit"))
	if !ok {
		fields = append(fields, errors.FieldError{Field: "limit", Message: "must be an integer"})
	}
	if len(fields) > 0 {
		h.writeError(w, errors.NewValidationError(fields))
		return
	}

	result, err := h.transactionService.ListPending(r.Context(), service.PageRequest{
		Page:      page,
		Limit:     limit,
		SortBy:    query.Get("sortBy"),
		SortOrder: query.Get("sortOrder"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, "", result)
}

func (h *TransactionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	tx, err := h.transactionService.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, "", tx)
}

func (h *TransactionHandler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req VerifyRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeError(w, err)
		return
	}

	tx, err := h.transactionService.Verify(r.Context(), actor, id, req.VerificationNotes)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, "Transaction verified successfully", tx)
}

func (h *TransactionHandler) RejectTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req RejectRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.writeError(w, err)
		return
	}

	tx, err := h.transactionService.Reject(r.Context(), actor, id, req.RejectionReason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, "Transaction rejected", tx)
}

func (h *TransactionHandler) SubmitToSwift(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req SubmitRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.TransactionIDs))
	var fields []errors.FieldError
	for i, raw := range req.TransactionIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			fields = append(fields, errors.FieldError{
				Field:   fmt.Sprintf("transaction_ids[%d]", i),
				Message: "must be a valid transaction id",
			})
			continue
		}
		ids = append(ids, id)
	}
	if len(fields) > 0 {
		h.writeError(w, errors.NewValidationError(fields))
		return
	}

	result, err := h.transactionService.SubmitBatch(r.Context(), actor, ids)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK,
		fmt.Sprintf("%d transaction(s) submitted to SWIFT", result.SubmittedCount), result)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, errors.NewFieldError("id", "must be a valid transaction id")
	}
	return id, nil
}

// intParam parses an optional integer query value; empty means zero.
func intParam(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
