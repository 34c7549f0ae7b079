// Package classifier parses provider-specific webhook payloads into a
// normalized (InboundEvent, Action) pair. Each source has its own wire
// format; classification errors stop a request before it reaches the
// idempotency guard or the dispatch router.
package classifier

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/cartops-systems/cartops-gateway/internal/models"
)

// ErrMalformedPayload marks payloads that cannot be decoded or are missing
// required fields. The router maps it to a 400 response.
var ErrMalformedPayload = errors.New("malformed payload")

func newEvent(source models.Source, externalID, eventType string, receivedAt time.Time, raw []byte) *models.InboundEvent {
	return &models.InboundEvent{
		ID:         uuid.New().String(),
		Source:     source,
		ExternalID: externalID,
		EventType:  eventType,
		ReceivedAt: receivedAt,
		RawPayload: raw,
	}
}

// parseTime accepts RFC3339 timestamps and falls back to the receipt time.
// Providers are inconsistent about sub-second precision so both variants
// are tried.
func parseTime(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return fallback
}
