package domain

// Transaction event types. These are the only values the `type` field of the
// wire schema may carry; the set is part of the durable contract between the
// ledger and every downstream consumer, so extending it requires versioning.
const (
	EventTypeDeposit         = "deposit"
	EventTypeWithdrawRequest = "withdraw_request"
	EventTypeWithdraw        = "withdraw"
)

// TransactionEvent is the immutable fact recorded for every accepted ledger
// operation. It is write-once and append-only: created at the moment an
// operation is accepted, never mutated or retracted afterwards.
//
// Field names follow the fixed wire schema; `accountId` is deliberately not
// snake_case.
type TransactionEvent struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	AccountID string  `json:"accountId"`
	Timestamp string  `json:"timestamp"`
}

// ValidEventType reports whether t is one of the three transaction types.
func ValidEventType(t string) bool {
	switch t {
	case EventTypeDeposit, EventTypeWithdrawRequest, EventTypeWithdraw:
		return true
	}
	return false
}
