/**
 * @description
 * This file defines the core domain models for the ledger-service.
 * An Account tracks a balance alongside the running total of withdrawal
 * reservations made against it; the Version column backs optimistic
 * concurrency control in the store layer.
 *
 * @notes
 * - Amounts are float64 because the event wire contract fixes `amount` as a
 *   JSON double; fractional currency units are permitted.
 * - An account with no prior activity has no row. Reads against a missing
 *   account report a zero balance without creating one; writes upsert.
 */

package domain

// Account is the persisted balance record for one ledger account.
//
// Invariant, after every accepted operation:
//
//	Balance >= RequestedWithdrawals >= 0
type Account struct {
	AccountID            string  `json:"account_id"`
	Balance              float64 `json:"balance"`
	RequestedWithdrawals float64 `json:"requested_withdrawals"`
	Version              int64   `json:"version"`
}

// Reservable reports how much of the balance is not yet earmarked by
// outstanding withdrawal reservations.
func (a *Account) Reservable() float64 {
	return a.Balance - a.RequestedWithdrawals
}
