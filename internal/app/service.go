/**
 * @description
 * This file contains the core business logic for the ledger-service. The
 * `Service` struct applies deposit, withdrawal-request, and withdrawal-commit
 * operations to account state, enforces the reservation invariant, and couples
 * every accepted operation to exactly one recorded transaction event.
 *
 * Key features:
 * - Two-phase withdrawal: RequestWithdrawal reserves funds against the
 *   balance, CommitWithdrawal finalizes and releases the reservation.
 * - Read-check-write paths run as a version-guarded compare-and-swap loop so
 *   the invariant `balance >= requested_withdrawals >= 0` holds under
 *   arbitrary interleaving of concurrent callers.
 * - Event emission goes through the store's transactional outbox: the state
 *   change and the encoded event commit atomically, and the dispatcher
 *   guarantees eventual delivery.
 *
 * @dependencies
 * - context, errors, fmt, log, math, time: Standard Go libraries.
 * - internal/codec, internal/domain, internal/store: Event wire codec, domain
 *   models, and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/transfa/ledger-service/internal/codec"
	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

var (
	ErrValidation          = errors.New("invalid input: accountId, amount, id, and timestamp are required")
	ErrInsufficientBalance = errors.New("withdraw_request denied due to insufficient balance")
	ErrOverReservation     = errors.New("withdraw_request denied due to total requested withdrawals exceeding available balance")
	ErrInsufficientFunds   = errors.New("withdraw denied due to insufficient funds")
)

const (
	// casMaxAttempts bounds the compare-and-swap retry loop. A conflict on
	// every attempt means pathological contention on one account; the caller
	// gets a generic failure rather than an unbounded spin.
	casMaxAttempts = 5
	casRetryDelay  = 10 * time.Millisecond
)

// Routing keys for recorded events, one per transaction type. All three bind
// to the same queue so consumers observe events in outbox insertion order.
const (
	RoutingKeyDeposit         = "ledger.transaction.deposit"
	RoutingKeyWithdrawRequest = "ledger.transaction.withdraw_request"
	RoutingKeyWithdraw        = "ledger.transaction.withdraw"
)

// Service provides the core ledger operations.
type Service struct {
	repo store.Repository
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// Deposit atomically increments the account's balance by amount, creating the
// account if absent, and records a deposit event carrying the requested
// amount. The amount's sign and magnitude are the caller's responsibility.
func (s *Service) Deposit(ctx context.Context, accountID string, amount float64, id, timestamp string) (float64, error) {
	payload, err := codec.Encode(domain.TransactionEvent{
		ID:        id,
		Type:      domain.EventTypeDeposit,
		Amount:    amount,
		AccountID: accountID,
		Timestamp: timestamp,
	})
	if err != nil {
		return 0, err
	}

	balance, err := s.repo.DepositAndRecordEvent(ctx, accountID, amount, id, RoutingKeyDeposit, payload)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateTransaction) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to apply deposit: %w", err)
	}

	log.Printf("level=info component=ledger op=deposit account_id=%s amount=%v balance=%v", accountID, amount, balance)
	return balance, nil
}

// RequestWithdrawal reserves amount against the account's balance for a
// future commit. The reservation is denied when the amount exceeds the
// balance, or when honoring it together with all outstanding reservations
// would exceed available funds.
func (s *Service) RequestWithdrawal(ctx context.Context, accountID string, amount float64, id, timestamp string) error {
	if err := validateOperation(accountID, amount, id, timestamp); err != nil {
		return err
	}

	payload, err := codec.Encode(domain.TransactionEvent{
		ID:        id,
		Type:      domain.EventTypeWithdrawRequest,
		Amount:    amount,
		AccountID: accountID,
		Timestamp: timestamp,
	})
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		account, err := s.readSnapshot(ctx, accountID)
		if err != nil {
			return fmt.Errorf("failed to read account: %w", err)
		}

		if amount > account.Balance {
			return ErrInsufficientBalance
		}
		if account.RequestedWithdrawals+amount > account.Balance {
			return ErrOverReservation
		}

		next := &domain.Account{
			AccountID:            accountID,
			Balance:              account.Balance,
			RequestedWithdrawals: account.RequestedWithdrawals + amount,
		}
		err = s.repo.UpdateAccountAndRecordEvent(ctx, next, account.Version, id, RoutingKeyWithdrawRequest, payload)
		if err == nil {
			log.Printf("level=info component=ledger op=withdraw_request account_id=%s amount=%v reserved=%v", accountID, amount, next.RequestedWithdrawals)
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			if errors.Is(err, store.ErrDuplicateTransaction) {
				return err
			}
			return fmt.Errorf("failed to persist reservation: %w", err)
		}
		if attempt >= casMaxAttempts {
			return fmt.Errorf("reservation contention on account %s: %w", accountID, err)
		}
		sleepBackoff(ctx, attempt)
	}
}

// CommitWithdrawal finalizes a withdrawal. A commit covered by the
// outstanding reservation deducts amount from both the balance and the
// reservation. A commit exceeding the reservation is treated as an
// over-reservation withdrawal: it must fit within the balance, and it resets
// the reservation to zero while deducting the full amount. Returns the new
// balance.
func (s *Service) CommitWithdrawal(ctx context.Context, accountID string, amount float64, id, timestamp string) (float64, error) {
	if err := validateOperation(accountID, amount, id, timestamp); err != nil {
		return 0, err
	}

	payload, err := codec.Encode(domain.TransactionEvent{
		ID:        id,
		Type:      domain.EventTypeWithdraw,
		Amount:    amount,
		AccountID: accountID,
		Timestamp: timestamp,
	})
	if err != nil {
		return 0, err
	}

	for attempt := 1; ; attempt++ {
		account, err := s.repo.GetAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return 0, err
			}
			return 0, fmt.Errorf("failed to read account: %w", err)
		}

		next := &domain.Account{AccountID: accountID}
		if amount <= account.RequestedWithdrawals {
			// Covered by the outstanding reservation: release it in part or
			// in full.
			next.Balance = account.Balance - amount
			next.RequestedWithdrawals = account.RequestedWithdrawals - amount
		} else {
			if amount > account.Balance {
				return 0, ErrInsufficientFunds
			}
			// Over-reservation withdrawal: the full reservation is discarded,
			// not merely consumed.
			next.Balance = account.Balance - amount
			next.RequestedWithdrawals = 0
		}

		err = s.repo.UpdateAccountAndRecordEvent(ctx, next, account.Version, id, RoutingKeyWithdraw, payload)
		if err == nil {
			log.Printf("level=info component=ledger op=withdraw account_id=%s amount=%v balance=%v reserved=%v", accountID, amount, next.Balance, next.RequestedWithdrawals)
			return next.Balance, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			if errors.Is(err, store.ErrDuplicateTransaction) {
				return 0, err
			}
			return 0, fmt.Errorf("failed to persist withdrawal: %w", err)
		}
		if attempt >= casMaxAttempts {
			return 0, fmt.Errorf("withdrawal contention on account %s: %w", accountID, err)
		}
		sleepBackoff(ctx, attempt)
	}
}

// GetBalance returns the account's balance. An account with no prior activity
// reports 0; the read never creates a record and emits no event.
func (s *Service) GetBalance(ctx context.Context, accountID string) (float64, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read account: %w", err)
	}
	return account.Balance, nil
}

// readSnapshot treats an absent account as a zero-valued snapshot so the
// reservation checks run uniformly.
func (s *Service) readSnapshot(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return &domain.Account{AccountID: accountID}, nil
		}
		return nil, err
	}
	return account, nil
}

func validateOperation(accountID string, amount float64, id, timestamp string) error {
	if accountID == "" || id == "" || timestamp == "" {
		return ErrValidation
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ErrValidation
	}
	if amount <= 0 {
		return ErrValidation
	}
	return nil
}

func sleepBackoff(ctx context.Context, attempt int) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(attempt) * casRetryDelay):
	}
}
