package app

import (
	"log"

	"github.com/transfa/ledger-service/internal/codec"
	"github.com/transfa/ledger-service/internal/domain"
)

// ProjectionConsumer reacts to recorded transaction events from the ledger
// exchange. The only projection today is a structured log line per event;
// richer read models can hang off the same handler.
type ProjectionConsumer struct{}

func NewProjectionConsumer() *ProjectionConsumer {
	return &ProjectionConsumer{}
}

// HandleMessage decodes one delivery. The returned bool is the ack decision:
// malformed payloads are acknowledged and dropped so a poison message cannot
// wedge the queue.
func (c *ProjectionConsumer) HandleMessage(body []byte) bool {
	event, err := codec.Decode(body)
	if err != nil {
		log.Printf("level=warn component=projection msg=\"dropping undecodable event\" err=%v", err)
		return true
	}

	switch event.Type {
	case domain.EventTypeDeposit:
		log.Printf("level=info component=projection event=deposit id=%s account_id=%s amount=%v at=%s", event.ID, event.AccountID, event.Amount, event.Timestamp)
	case domain.EventTypeWithdrawRequest:
		log.Printf("level=info component=projection event=withdraw_request id=%s account_id=%s amount=%v at=%s", event.ID, event.AccountID, event.Amount, event.Timestamp)
	case domain.EventTypeWithdraw:
		log.Printf("level=info component=projection event=withdraw id=%s account_id=%s amount=%v at=%s", event.ID, event.AccountID, event.Amount, event.Timestamp)
	}
	return true
}
