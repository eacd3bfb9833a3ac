/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API
 * endpoints. Handlers parse incoming requests, call the ledger service, and
 * map its outcomes onto HTTP responses. They act as the bridge between the
 * web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/codec"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

const rateLimitWindow = time.Minute

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service

	limiter            app.WithdrawalRateLimiter
	requestLimitPerMin int
	commitLimitPerMin  int
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// SetWithdrawalRateLimiter enables per-account rate limiting on the
// withdrawal endpoints. A nil limiter or non-positive limits disable it.
func (h *LedgerHandlers) SetWithdrawalRateLimiter(limiter app.WithdrawalRateLimiter, requestPerMinute, commitPerMinute int) {
	h.limiter = limiter
	h.requestLimitPerMin = requestPerMinute
	h.commitLimitPerMin = commitPerMinute
}

// transactionRequest is the inbound payload for POST /transaction. It carries
// the same five fields as the recorded event.
type transactionRequest struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	AccountID string  `json:"accountId"`
	Timestamp string  `json:"timestamp"`
}

type statusResponse struct {
	Status  string   `json:"status"`
	Balance *float64 `json:"balance,omitempty"`
}

type balanceResponse struct {
	AccountID string  `json:"accountId"`
	Balance   float64 `json:"balance"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// TransactionHandler processes one ledger operation: a deposit, a withdrawal
// reservation, or a withdrawal commit, selected by the `type` field.
func (h *LedgerHandlers) TransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=transaction outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid input data")
		return
	}

	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.AccountID) == "" ||
		strings.TrimSpace(req.Timestamp) == "" || req.Amount == 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid input data")
		return
	}
	if !domain.ValidEventType(req.Type) {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction type")
		return
	}

	switch req.Type {
	case domain.EventTypeDeposit:
		h.handleDeposit(w, r, req)
	case domain.EventTypeWithdrawRequest:
		h.handleWithdrawRequest(w, r, req)
	case domain.EventTypeWithdraw:
		h.handleWithdraw(w, r, req)
	}
}

func (h *LedgerHandlers) handleDeposit(w http.ResponseWriter, r *http.Request, req transactionRequest) {
	balance, err := h.service.Deposit(r.Context(), req.AccountID, req.Amount, req.ID, req.Timestamp)
	if err != nil {
		h.writeOperationError(w, "deposit", req, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{Status: "Deposit successful", Balance: &balance})
}

func (h *LedgerHandlers) handleWithdrawRequest(w http.ResponseWriter, r *http.Request, req transactionRequest) {
	if !h.allowWithdrawal(w, r, "withdraw_request", req.AccountID, h.requestLimitPerMin) {
		return
	}

	if err := h.service.RequestWithdrawal(r.Context(), req.AccountID, req.Amount, req.ID, req.Timestamp); err != nil {
		h.writeOperationError(w, "withdraw_request", req, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, statusResponse{Status: "withdraw_request approved"})
}

func (h *LedgerHandlers) handleWithdraw(w http.ResponseWriter, r *http.Request, req transactionRequest) {
	if !h.allowWithdrawal(w, r, "withdraw", req.AccountID, h.commitLimitPerMin) {
		return
	}

	balance, err := h.service.CommitWithdrawal(r.Context(), req.AccountID, req.Amount, req.ID, req.Timestamp)
	if err != nil {
		h.writeOperationError(w, "withdraw", req, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{Status: "Withdraw successful", Balance: &balance})
}

// GetBalanceHandler reports the balance for one account. Unknown accounts
// report 0 without being created.
func (h *LedgerHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if strings.TrimSpace(accountID) == "" {
		h.writeError(w, http.StatusBadRequest, "Invalid input data")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), accountID)
	if err != nil {
		log.Printf("level=error component=api endpoint=balance account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, balanceResponse{AccountID: accountID, Balance: balance})
}

func (h *LedgerHandlers) allowWithdrawal(w http.ResponseWriter, r *http.Request, scope, accountID string, limit int) bool {
	if h.limiter == nil || limit <= 0 {
		return true
	}

	count, retryAfter, err := h.limiter.ConsumeRateLimit(r.Context(), scope, accountID, limit, rateLimitWindow)
	if err != nil {
		// Limiter outage must not block the ledger.
		log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
		return true
	}
	if count > limit {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		h.writeError(w, http.StatusTooManyRequests, "Too many withdrawal attempts. Please retry later.")
		return false
	}
	return true
}

func (h *LedgerHandlers) writeOperationError(w http.ResponseWriter, op string, req transactionRequest, err error) {
	switch {
	case errors.Is(err, app.ErrValidation), errors.Is(err, codec.ErrSerialization):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInsufficientBalance),
		errors.Is(err, app.ErrOverReservation),
		errors.Is(err, app.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found")
	case errors.Is(err, store.ErrDuplicateTransaction):
		h.writeError(w, http.StatusConflict, "Transaction id already processed")
	default:
		log.Printf("level=error component=api endpoint=transaction op=%s account_id=%s tx_id=%s err=%v", op, req.AccountID, req.ID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
