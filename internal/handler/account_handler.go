package handler

import (
	"context"
	"log/slog"
	"net/http"

	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
	"payments-portal/internal/service"
)

type AccountService interface {
	Login(ctx context.Context, kind domain.AccountKind, req service.LoginRequest) (*service.LoginResult, error)
	RegisterCustomer(ctx context.Context, req service.RegisterRequest) (*domain.Account, error)
	Profile(ctx context.Context, actor domain.Actor) (*domain.Account, error)
}

type AccountHandler struct {
	accountService AccountService
	responder
}

func NewAccountHandler(accountService AccountService, logger *slog.Logger, verbose bool) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		responder:      responder{logger: logger, verbose: verbose},
	}
}

func (h *AccountHandler) EmployeeLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, domain.KindEmployee)
}

func (h *AccountHandler) CustomerLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, domain.KindCustomer)
}

func (h *AccountHandler) login(w http.ResponseWriter, r *http.Request, kind domain.AccountKind) {
	var req service.LoginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.accountService.Login(r.Context(), kind, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, "Login successful", result)
}

// Logout only acknowledges; tokens are stateless and expire on their own.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, "Logout successful", nil)
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.writeError(w, err)
		return
	}

	account, err := h.accountService.RegisterCustomer(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, "Registration successful", account)
}

func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		h.writeError(w, errors.ErrMissingToken)
		return
	}

	account, err := h.accountService.Profile(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, "", account)
}
