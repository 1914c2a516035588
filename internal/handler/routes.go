package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"payments-portal/internal/domain"
)

// RegisterRoutes mounts the employee and customer APIs on router.
func RegisterRoutes(router *mux.Router, accounts *AccountHandler, transactions *TransactionHandler, tokens TokenParser) {
	employee := router.PathPrefix("/employee").Subrouter()
	employee.HandleFunc("/login", accounts.EmployeeLogin).Methods(http.MethodPost)

	staff := employee.NewRoute().Subrouter()
	staff.Use(authenticate(tokens, domain.KindEmployee, accounts.responder))
	staff.HandleFunc("/logout", accounts.Logout).Methods(http.MethodPost)
	staff.HandleFunc("/profile", accounts.Profile).Methods(http.MethodGet)
	staff.HandleFunc("/dashboard", transactions.Dashboard).Methods(http.MethodGet)
	staff.HandleFunc("/pending-transactions", transactions.PendingTransactions).Methods(http.MethodGet)
	staff.HandleFunc("/transaction/{id}", transactions.GetTransaction).Methods(http.MethodGet)
	staff.HandleFunc("/verify-transaction/{id}", transactions.VerifyTransaction).Methods(http.MethodPut)
	staff.HandleFunc("/reject-transaction/{id}", transactions.RejectTransaction).Methods(http.MethodPut)
	staff.HandleFunc("/submit-to-swift", transactions.SubmitToSwift).Methods(http.MethodPost)

	customer := router.PathPrefix("/customer").Subrouter()
	customer.HandleFunc("/register", accounts.Register).Methods(http.MethodPost)
	customer.HandleFunc("/login", accounts.CustomerLogin).Methods(http.MethodPost)

	member := customer.NewRoute().Subrouter()
	member.Use(authenticate(tokens, domain.KindCustomer, accounts.responder))
	member.HandleFunc("/profile", accounts.Profile).Methods(http.MethodGet)
	member.HandleFunc("/payment", transactions.CreatePayment).Methods(http.MethodPost)
	member.HandleFunc("/transactions", transactions.CustomerTransactions).Methods(http.MethodGet)
}
