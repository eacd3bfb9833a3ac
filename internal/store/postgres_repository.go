/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains the SQL for the accounts table, the transaction
 * dedup table, and the event outbox.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/ledger-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetAccount retrieves an account row by its identifier.
func (r *PostgresRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT account_id, balance, requested_withdrawals, version
		FROM accounts
		WHERE account_id = $1
	`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.AccountID,
		&account.Balance,
		&account.RequestedWithdrawals,
		&account.Version,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// DepositAndRecordEvent performs the upsert-increment for a deposit and
// enqueues the event, all in one transaction.
func (r *PostgresRepository) DepositAndRecordEvent(ctx context.Context, accountID string, amount float64, eventID, routingKey string, payload []byte) (float64, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := reserveTransactionIDTx(ctx, tx, eventID); err != nil {
		return 0, err
	}

	var balance float64
	query := `
		INSERT INTO accounts (account_id, balance, requested_withdrawals, version)
		VALUES ($1, $2, 0, 1)
		ON CONFLICT (account_id) DO UPDATE
		SET balance = accounts.balance + EXCLUDED.balance,
			version = accounts.version + 1,
			updated_at = NOW()
		RETURNING balance
	`
	if err := tx.QueryRow(ctx, query, accountID, amount).Scan(&balance); err != nil {
		return 0, err
	}

	if err := enqueueEventTx(ctx, tx, routingKey, payload); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}

// UpdateAccountAndRecordEvent persists both balance fields conditioned on the
// version read by the caller, and enqueues the event in the same transaction.
func (r *PostgresRepository) UpdateAccountAndRecordEvent(ctx context.Context, account *domain.Account, expectedVersion int64, eventID, routingKey string, payload []byte) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := reserveTransactionIDTx(ctx, tx, eventID); err != nil {
		return err
	}

	query := `
		UPDATE accounts
		SET balance = $2,
			requested_withdrawals = $3,
			version = version + 1,
			updated_at = NOW()
		WHERE account_id = $1 AND version = $4
	`
	tag, err := tx.Exec(ctx, query,
		account.AccountID,
		account.Balance,
		account.RequestedWithdrawals,
		expectedVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the row changed under us or it vanished; the caller re-reads
		// and decides.
		return ErrVersionConflict
	}

	if err := enqueueEventTx(ctx, tx, routingKey, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ClaimOutboxMessages marks up to limit pending outbox rows as processing and
// returns them. Rows stuck in processing longer than staleAfterSeconds are
// reclaimed, so a dispatcher crash cannot strand events.
func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	query := `
		WITH candidates AS (
			SELECT id
			FROM event_outbox
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event_outbox AS o
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = o.attempts + 1
		FROM candidates
		WHERE o.id = candidates.id
		RETURNING o.id, o.routing_key, o.payload, o.attempts
	`

	rows, err := r.db.Query(ctx, query, limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]OutboxMessage, 0, limit)
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.RoutingKey, &msg.Payload, &msg.Attempts); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkOutboxPublished records successful delivery of an outbox row.
func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'published',
			published_at = NOW(),
			processing_started_at = NULL,
			last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

// MarkOutboxFailed returns a row to pending with a scheduled retry.
func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			processing_started_at = NULL,
			last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, reason)
	return err
}

// MarkOutboxDead parks a row permanently after the retry budget is exhausted.
// Dead rows stay in the table for reconciliation; they are never retried.
func (r *PostgresRepository) MarkOutboxDead(ctx context.Context, id int64, reason string) error {
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'failed',
			processing_started_at = NULL,
			last_error = $2
		WHERE id = $1
	`, id, reason)
	return err
}

// reserveTransactionIDTx claims the caller-supplied event id inside tx. The
// primary key on transaction_dedup makes replayed ids lose the insert race.
func reserveTransactionIDTx(ctx context.Context, tx pgx.Tx, eventID string) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO transaction_dedup (event_id)
		VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID)
	if err != nil {
		return fmt.Errorf("failed to reserve transaction id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateTransaction
	}
	return nil
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, routingKey string, payload []byte) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO event_outbox (routing_key, payload)
		VALUES ($1, $2)
	`, routingKey, payload)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}
