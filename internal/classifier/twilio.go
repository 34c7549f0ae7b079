package classifier

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cartops-systems/cartops-gateway/internal/models"
)

// ClassifyTwilioSMS parses an inbound SMS form body. The message body is
// trimmed and upper-cased for command matching only; the forwarded action
// carries the original text.
func ClassifyTwilioSMS(form url.Values, receivedAt time.Time) (*models.InboundEvent, models.Action, error) {
	from := form.Get("From")
	if from == "" {
		return nil, nil, fmt.Errorf("%w: missing From", ErrMalformedPayload)
	}
	to := form.Get("To")
	body := form.Get("Body")
	sid := form.Get("MessageSid")

	command := matchCommand(body)

	event := newEvent(models.SourceTwilioSMS, sid, "sms.inbound", receivedAt, []byte(form.Encode()))
	action := models.EnqueueSmsCommand{
		Command:    command,
		From:       from,
		To:         to,
		MessageSid: sid,
		Body:       body,
		ReceivedAt: receivedAt,
	}
	return event, action, nil
}

// matchCommand maps a message body to a command class. ORDER matches as a
// prefix so "ORDER tacos" still starts a pre-order.
func matchCommand(body string) models.SmsCommand {
	normalized := strings.ToUpper(strings.TrimSpace(body))
	switch {
	case normalized == "STOP":
		return models.CommandUnsubscribe
	case strings.HasPrefix(normalized, "ORDER"):
		return models.CommandPreorder
	case normalized == "HELP":
		return models.CommandHelp
	default:
		return models.CommandForward
	}
}

// ClassifyTwilioStatus parses a delivery status callback. The external id
// combines sid and status: the same message legitimately reports several
// statuses (queued, sent, delivered) and each transition is a distinct
// event.
func ClassifyTwilioStatus(form url.Values, receivedAt time.Time) (*models.InboundEvent, models.Action, error) {
	sid := form.Get("MessageSid")
	status := form.Get("MessageStatus")
	if sid == "" || status == "" {
		return nil, nil, fmt.Errorf("%w: missing MessageSid or MessageStatus", ErrMalformedPayload)
	}

	event := newEvent(models.SourceTwilioStatus, sid+":"+status, "sms.status", receivedAt, []byte(form.Encode()))
	action := models.UpdateDeliveryStatus{
		MessageSid: sid,
		Status:     status,
	}
	return event, action, nil
}
