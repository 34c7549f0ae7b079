package classifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cartops-systems/cartops-gateway/internal/models"
)

// Square event types this service acts on. Anything else classifies to
// Ignore, which is acknowledged without side effects.
const (
	squarePaymentCompleted = "payment.completed"
	squarePaymentUpdated   = "payment.updated"
	squareRefundCreated    = "refund.created"
)

type squareEnvelope struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Object squareObject `json:"object"`
	} `json:"data"`
}

type squareObject struct {
	Payment *squarePayment `json:"payment"`
	Refund  *squareRefund  `json:"refund"`
}

type squarePayment struct {
	ID         string      `json:"id"`
	LocationID string      `json:"location_id"`
	CreatedAt  string      `json:"created_at"`
	TotalMoney squareMoney `json:"total_money"`
}

type squareRefund struct {
	ID          string      `json:"id"`
	PaymentID   string      `json:"payment_id"`
	CreatedAt   string      `json:"created_at"`
	AmountMoney squareMoney `json:"amount_money"`
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// ClassifySquare parses a Square webhook envelope. Amounts are kept in
// minor units; converting to a display currency is a presentation concern.
func ClassifySquare(raw []byte, receivedAt time.Time) (*models.InboundEvent, models.Action, error) {
	var env squareEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	switch env.Type {
	case squarePaymentCompleted, squarePaymentUpdated:
		payment := env.Data.Object.Payment
		if payment == nil || payment.ID == "" {
			return nil, nil, fmt.Errorf("%w: missing payment object", ErrMalformedPayload)
		}
		event := newEvent(models.SourceSquare, squareExternalID(env.EventID, payment.ID), env.Type, receivedAt, raw)
		action := models.RecordTransaction{
			ExternalPaymentID: payment.ID,
			AmountCents:       payment.TotalMoney.Amount,
			Currency:          payment.TotalMoney.Currency,
			OccurredAt:        parseTime(payment.CreatedAt, receivedAt),
			LocationHint:      payment.LocationID,
		}
		return event, action, nil

	case squareRefundCreated:
		refund := env.Data.Object.Refund
		if refund == nil || refund.ID == "" {
			return nil, nil, fmt.Errorf("%w: missing refund object", ErrMalformedPayload)
		}
		event := newEvent(models.SourceSquare, squareExternalID(env.EventID, refund.ID), env.Type, receivedAt, raw)
		action := models.RecordRefund{
			ExternalRefundID:  refund.ID,
			ExternalPaymentID: refund.PaymentID,
			AmountCents:       refund.AmountMoney.Amount,
			OccurredAt:        parseTime(refund.CreatedAt, receivedAt),
		}
		return event, action, nil

	default:
		event := newEvent(models.SourceSquare, env.EventID, env.Type, receivedAt, raw)
		return event, models.Ignore{EventType: env.Type}, nil
	}
}

// squareExternalID prefers the delivery's event_id; older sandbox payloads
// omit it, in which case the entity id still dedupes replays of the same
// event.
func squareExternalID(eventID, entityID string) string {
	if eventID != "" {
		return eventID
	}
	return entityID
}
