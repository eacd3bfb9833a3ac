/**
 * @description
 * This package implements the event codec: it converts a TransactionEvent
 * to and from the fixed wire representation published to RabbitMQ. The wire
 * schema is `{id string, type enum, amount double, accountId string,
 * timestamp string}` encoded as JSON.
 *
 * Both directions validate the schema. A payload that is missing a field,
 * carries an unknown type, or has a non-finite or non-positive amount is
 * rejected with ErrSerialization so that producers never enqueue, and
 * consumers never act on, a malformed event.
 */

package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/transfa/ledger-service/internal/domain"
)

// ErrSerialization indicates an event that does not conform to the wire schema.
var ErrSerialization = errors.New("event serialization failed")

// Encode validates event and returns its wire representation.
func Encode(event domain.TransactionEvent) ([]byte, error) {
	if err := validate(event); err != nil {
		return nil, err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return body, nil
}

// Decode parses a wire payload back into a TransactionEvent.
func Decode(body []byte) (domain.TransactionEvent, error) {
	var event domain.TransactionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.TransactionEvent{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if err := validate(event); err != nil {
		return domain.TransactionEvent{}, err
	}
	return event, nil
}

func validate(event domain.TransactionEvent) error {
	if event.ID == "" {
		return fmt.Errorf("%w: missing id", ErrSerialization)
	}
	if !domain.ValidEventType(event.Type) {
		return fmt.Errorf("%w: unknown type %q", ErrSerialization, event.Type)
	}
	if event.AccountID == "" {
		return fmt.Errorf("%w: missing accountId", ErrSerialization)
	}
	if event.Timestamp == "" {
		return fmt.Errorf("%w: missing timestamp", ErrSerialization)
	}
	if math.IsNaN(event.Amount) || math.IsInf(event.Amount, 0) {
		return fmt.Errorf("%w: amount is not finite", ErrSerialization)
	}
	if event.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrSerialization)
	}
	return nil
}
