package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Dan9191/bank-transfer-core/internal/middleware"
	"github.com/Dan9191/bank-transfer-core/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	svc    *service.Service
	logger *logrus.Logger
}

func NewHandler(svc *service.Service, logger *logrus.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Router wires every route onto a fresh mux router
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.RequestID, middleware.Logging(h.logger))

	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")

	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(h.svc))
	authRouter.HandleFunc("/transfers", h.Transfer).Methods("POST")
	authRouter.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	authRouter.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	authRouter.HandleFunc("/accounts/{number}/balance", h.GetBalance).Methods("GET")
	authRouter.HandleFunc("/transactions", h.ListTransactions).Methods("GET")

	// Admin routes
	adminRouter := authRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(middleware.RequireAdmin)
	adminRouter.HandleFunc("/accounts", h.AdminListAccounts).Methods("GET")
	adminRouter.HandleFunc("/accounts/{number}/deactivate", h.AdminDeactivateAccount).Methods("POST")
	adminRouter.HandleFunc("/transactions", h.AdminListTransactions).Methods("GET")
	adminRouter.HandleFunc("/transactions/{id}/review", h.AdminReviewTransaction).Methods("POST")
	adminRouter.HandleFunc("/audit-logs", h.AdminListAuditLogs).Methods("GET")

	return r
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	reg, err := h.svc.Register(r.Context(), req, middleware.ClientIP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

// Login handles user authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	token, expires, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expiresAt": expires})
}

// Health reports storage connectivity
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.svc.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database_unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Transfer handles a money transfer between two accounts
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req service.TransferRequest
	if !decode(w, r, &req) {
		return
	}
	outcome, err := h.svc.Transfer(r.Context(), req, middleware.PrincipalFromContext(r.Context()))
	var blocked *service.ComplianceBlockError
	if errors.As(err, &blocked) {
		writeJSON(w, http.StatusUnprocessableEntity, outcome)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// CreateAccount handles account creation
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountHolderName string `json:"accountHolderName"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	acc, err := h.svc.OpenAccount(r.Context(), middleware.PrincipalFromContext(r.Context()), req.AccountHolderName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// ListAccounts lists the caller's accounts
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListMyAccounts(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

// GetBalance returns one account's balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	balance, err := h.svc.GetBalance(r.Context(), number, middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accountNumber": number, "balance": balance})
}

// ListTransactions lists transfers touching the caller's accounts
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.svc.ListMyTransactions(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (h *Handler) AdminListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListAccounts(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.svc.ListTransactions(r.Context(), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}

func (h *Handler) AdminListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.svc.ListAuditLogs(r.Context(), middleware.PrincipalFromContext(r.Context()), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) AdminReviewTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Decision string `json:"decision"`
		Notes    string `json:"notes"`
	}
	if !decode(w, r, &req) {
		return
	}
	txn, err := h.svc.ReviewTransaction(r.Context(), middleware.PrincipalFromContext(r.Context()),
		mux.Vars(r)["id"], req.Decision, req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func (h *Handler) AdminDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	if err := h.svc.DeactivateAccount(r.Context(), middleware.PrincipalFromContext(r.Context()), number); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Account deactivated", "accountNumber": number})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// statusFor maps service errors to HTTP status codes. Anything unknown is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated), errors.Is(err, service.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyExists), errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, service.ErrLimitExceeded), errors.Is(err, service.ErrAccountInactive),
		errors.Is(err, service.ErrComplianceBlocked):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		msg = "internal server error"
	case http.StatusServiceUnavailable:
		h.logger.WithError(err).WithField("path", r.URL.Path).Warn("Request failed on storage")
		msg = service.ErrPersistence.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
