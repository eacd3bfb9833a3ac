/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the ledger-service needs. The interface decouples the business logic
 * from PostgreSQL so that the service and dispatcher can be exercised against
 * in-memory fakes in tests.
 *
 * Every state-mutating method pairs the account write with recording the
 * encoded transaction event in the outbox, inside one database transaction.
 * That coupling is what guarantees the store and the event log never diverge:
 * either both the balance change and the event intent commit, or neither does.
 */

package store

import (
	"context"
	"errors"

	"github.com/transfa/ledger-service/internal/domain"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrVersionConflict      = errors.New("account version conflict")
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)

// OutboxMessage is one pending event claimed for dispatch.
type OutboxMessage struct {
	ID         int64
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// GetAccount returns the account row, or ErrAccountNotFound when no row
	// exists. Reads never create accounts.
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)

	// DepositAndRecordEvent atomically increments the account balance by
	// amount, creating the account row if absent, and enqueues the encoded
	// event in the outbox. Returns the resulting balance.
	// Returns ErrDuplicateTransaction when eventID was already accepted.
	DepositAndRecordEvent(ctx context.Context, accountID string, amount float64, eventID, routingKey string, payload []byte) (float64, error)

	// UpdateAccountAndRecordEvent writes the account's balance and
	// requested-withdrawal fields conditioned on expectedVersion, bumping the
	// version, and enqueues the encoded event in the outbox. Returns
	// ErrVersionConflict when the row's version no longer matches, and
	// ErrDuplicateTransaction when eventID was already accepted.
	UpdateAccountAndRecordEvent(ctx context.Context, account *domain.Account, expectedVersion int64, eventID, routingKey string, payload []byte) error

	// Outbox dispatch methods.
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
	MarkOutboxDead(ctx context.Context, id int64, reason string) error
}
