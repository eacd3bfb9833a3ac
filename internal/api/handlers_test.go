package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/transfa/ledger-service/internal/app"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// memoryRepo backs the handler tests with a real app.Service so the tests
// exercise the full request-to-status-code path.
type memoryRepo struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
	dedup    map[string]bool
	outbox   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{accounts: make(map[string]domain.Account), dedup: make(map[string]bool)}
}

func (m *memoryRepo) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := account
	return &copied, nil
}

func (m *memoryRepo) DepositAndRecordEvent(ctx context.Context, accountID string, amount float64, eventID, routingKey string, payload []byte) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dedup[eventID] {
		return 0, store.ErrDuplicateTransaction
	}
	account := m.accounts[accountID]
	account.AccountID = accountID
	account.Balance += amount
	account.Version++
	m.accounts[accountID] = account
	m.dedup[eventID] = true
	m.outbox++
	return account.Balance, nil
}

func (m *memoryRepo) UpdateAccountAndRecordEvent(ctx context.Context, account *domain.Account, expectedVersion int64, eventID, routingKey string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dedup[eventID] {
		return store.ErrDuplicateTransaction
	}
	current := m.accounts[account.AccountID]
	if current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	m.accounts[account.AccountID] = domain.Account{
		AccountID:            account.AccountID,
		Balance:              account.Balance,
		RequestedWithdrawals: account.RequestedWithdrawals,
		Version:              current.Version + 1,
	}
	m.dedup[eventID] = true
	m.outbox++
	return nil
}

func (m *memoryRepo) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error) {
	return nil, nil
}

func (m *memoryRepo) MarkOutboxPublished(ctx context.Context, id int64) error { return nil }

func (m *memoryRepo) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	return nil
}

func (m *memoryRepo) MarkOutboxDead(ctx context.Context, id int64, reason string) error { return nil }

func (m *memoryRepo) seed(accountID string, balance, requested float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[accountID] = domain.Account{
		AccountID:            accountID,
		Balance:              balance,
		RequestedWithdrawals: requested,
		Version:              1,
	}
}

func newTestServer(repo store.Repository) *httptest.Server {
	handlers := NewLedgerHandlers(app.NewService(repo))
	return httptest.NewServer(LedgerRoutes(handlers))
}

func postTransaction(t *testing.T, server *httptest.Server, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(server.URL+"/transaction", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	return resp, decoded
}

func txBody(txType, accountID string, amount float64, id string) string {
	return fmt.Sprintf(`{"id":%q,"type":%q,"amount":%v,"accountId":%q,"timestamp":"2024-01-01T00:00:00Z"}`, id, txType, amount, accountID)
}

func TestTransactionHandler_Deposit(t *testing.T) {
	repo := newMemoryRepo()
	server := newTestServer(repo)
	defer server.Close()

	resp, body := postTransaction(t, server, txBody("deposit", "acct-1", 100, "tx-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "Deposit successful" {
		t.Fatalf("unexpected status message: %v", body["status"])
	}
	if body["balance"].(float64) != 100 {
		t.Fatalf("expected balance 100, got %v", body["balance"])
	}
}

func TestTransactionHandler_WithdrawRequestApproved(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed("acct-1", 100, 0)
	server := newTestServer(repo)
	defer server.Close()

	resp, body := postTransaction(t, server, txBody("withdraw_request", "acct-1", 40, "tx-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if body["status"] != "withdraw_request approved" {
		t.Fatalf("unexpected status message: %v", body["status"])
	}
}

func TestTransactionHandler_InsufficientBalanceIs402(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed("acct-1", 100, 0)
	server := newTestServer(repo)
	defer server.Close()

	resp, body := postTransaction(t, server, txBody("withdraw_request", "acct-1", 150, "tx-1"))
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	if !strings.Contains(body["error"].(string), "insufficient balance") {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestTransactionHandler_OverReservationIs402(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed("acct-1", 100, 80)
	server := newTestServer(repo)
	defer server.Close()

	resp, body := postTransaction(t, server, txBody("withdraw_request", "acct-1", 30, "tx-1"))
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", resp.StatusCode)
	}
	if !strings.Contains(body["error"].(string), "requested withdrawals exceeding") {
		t.Fatalf("unexpected error message: %v", body["error"])
	}
}

func TestTransactionHandler_WithdrawSuccess(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed("acct-1", 100, 40)
	server := newTestServer(repo)
	defer server.Close()

	resp, body := postTransaction(t, server, txBody("withdraw", "acct-1", 40, "tx-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body["status"] != "Withdraw successful" || body["balance"].(float64) != 60 {
		t.Fatalf("unexpected response: %v", body)
	}
}

func TestTransactionHandler_WithdrawUnknownAccountIs404(t *testing.T) {
	repo := newMemoryRepo()
	server := newTestServer(repo)
	defer server.Close()

	resp, _ := postTransaction(t, server, txBody("withdraw", "ghost", 10, "tx-1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestTransactionHandler_RejectsBadInput(t *testing.T) {
	repo := newMemoryRepo()
	server := newTestServer(repo)
	defer server.Close()

	cases := []struct {
		name string
		body string
	}{
		{name: "not json", body: "deposit 100"},
		{name: "unknown type", body: txBody("transfer", "acct-1", 10, "tx-1")},
		{name: "zero amount", body: txBody("deposit", "acct-1", 0, "tx-1")},
		{name: "missing account", body: txBody("deposit", "", 10, "tx-1")},
		{name: "missing id", body: txBody("deposit", "acct-1", 10, "")},
		{name: "negative reservation", body: txBody("withdraw_request", "acct-1", -5, "tx-1")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := postTransaction(t, server, tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestTransactionHandler_DuplicateIDIs409(t *testing.T) {
	repo := newMemoryRepo()
	server := newTestServer(repo)
	defer server.Close()

	if resp, _ := postTransaction(t, server, txBody("deposit", "acct-1", 100, "tx-1")); resp.StatusCode != http.StatusOK {
		t.Fatalf("first deposit: expected 200, got %d", resp.StatusCode)
	}
	resp, _ := postTransaction(t, server, txBody("deposit", "acct-1", 100, "tx-1"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestGetBalanceHandler(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed("acct-1", 73.25, 0)
	server := newTestServer(repo)
	defer server.Close()

	resp, err := http.Get(server.URL + "/account/acct-1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if body.AccountID != "acct-1" || body.Balance != 73.25 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestGetBalanceHandler_UnknownAccountReportsZero(t *testing.T) {
	repo := newMemoryRepo()
	server := newTestServer(repo)
	defer server.Close()

	resp, err := http.Get(server.URL + "/account/ghost")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("response is not json: %v", err)
	}
	if body.Balance != 0 {
		t.Fatalf("expected balance 0, got %v", body.Balance)
	}
}

// stubLimiter counts consumptions per scope and subject.
type stubLimiter struct {
	counts map[string]int
	err    error
}

func (s *stubLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	key := scope + ":" + subject
	s.counts[key]++
	return s.counts[key], 30, nil
}

func TestWithdrawRequest_RateLimited(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed("acct-1", 1000, 0)
	handlers := NewLedgerHandlers(app.NewService(repo))
	handlers.SetWithdrawalRateLimiter(&stubLimiter{counts: make(map[string]int)}, 2, 2)
	server := httptest.NewServer(LedgerRoutes(handlers))
	defer server.Close()

	for i := 0; i < 2; i++ {
		resp, _ := postTransaction(t, server, txBody("withdraw_request", "acct-1", 10, fmt.Sprintf("tx-%d", i)))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i, resp.StatusCode)
		}
	}

	resp, _ := postTransaction(t, server, txBody("withdraw_request", "acct-1", 10, "tx-over"))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", resp.Header.Get("Retry-After"))
	}
}

func TestWithdrawRequest_LimiterOutageDoesNotBlock(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed("acct-1", 1000, 0)
	handlers := NewLedgerHandlers(app.NewService(repo))
	handlers.SetWithdrawalRateLimiter(&stubLimiter{err: errors.New("redis down")}, 1, 1)
	server := httptest.NewServer(LedgerRoutes(handlers))
	defer server.Close()

	resp, _ := postTransaction(t, server, txBody("withdraw_request", "acct-1", 10, "tx-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("limiter outage must not block withdrawals, got %d", resp.StatusCode)
	}
}
