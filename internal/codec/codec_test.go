package codec

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/transfa/ledger-service/internal/domain"
)

func validEvent() domain.TransactionEvent {
	return domain.TransactionEvent{
		ID:        "tx-1",
		Type:      domain.EventTypeWithdrawRequest,
		Amount:    42.5,
		AccountID: "acct-1",
		Timestamp: "2024-01-01T00:00:00Z",
	}
}

func TestEncodeDecode_PreservesEvent(t *testing.T) {
	body, err := Encode(validEvent())
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	// The wire field names are fixed; a renamed struct tag would silently
	// break every existing consumer.
	for _, field := range []string{`"id"`, `"type"`, `"amount"`, `"accountId"`, `"timestamp"`} {
		if !strings.Contains(string(body), field) {
			t.Fatalf("wire payload missing field %s: %s", field, body)
		}
	}

	decoded, err := Decode(body)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != validEvent() {
		t.Fatalf("round trip changed the event: %+v", decoded)
	}
}

func TestEncode_RejectsMalformedEvents(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.TransactionEvent)
	}{
		{name: "missing id", mutate: func(e *domain.TransactionEvent) { e.ID = "" }},
		{name: "unknown type", mutate: func(e *domain.TransactionEvent) { e.Type = "transfer" }},
		{name: "missing account", mutate: func(e *domain.TransactionEvent) { e.AccountID = "" }},
		{name: "missing timestamp", mutate: func(e *domain.TransactionEvent) { e.Timestamp = "" }},
		{name: "nan amount", mutate: func(e *domain.TransactionEvent) { e.Amount = math.NaN() }},
		{name: "infinite amount", mutate: func(e *domain.TransactionEvent) { e.Amount = math.Inf(-1) }},
		{name: "zero amount", mutate: func(e *domain.TransactionEvent) { e.Amount = 0 }},
		{name: "negative amount", mutate: func(e *domain.TransactionEvent) { e.Amount = -10 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := validEvent()
			tc.mutate(&event)
			if _, err := Encode(event); !errors.Is(err, ErrSerialization) {
				t.Fatalf("expected ErrSerialization, got %v", err)
			}
		})
	}
}

func TestDecode_RejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "not json", body: "avro?"},
		{name: "wrong amount kind", body: `{"id":"tx-1","type":"deposit","amount":"ten","accountId":"acct-1","timestamp":"2024-01-01T00:00:00Z"}`},
		{name: "unknown type", body: `{"id":"tx-1","type":"refund","amount":10,"accountId":"acct-1","timestamp":"2024-01-01T00:00:00Z"}`},
		{name: "missing fields", body: `{"type":"deposit","amount":10}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.body)); !errors.Is(err, ErrSerialization) {
				t.Fatalf("expected ErrSerialization, got %v", err)
			}
		})
	}
}
