package models

import "time"

// Source identifies which external system delivered a webhook.
type Source string

const (
	SourceSquare       Source = "square"
	SourceTwilioSMS    Source = "twilio_sms"
	SourceTwilioStatus Source = "twilio_status"
	SourceWorkflow     Source = "workflow"
	SourceAgent        Source = "agent"
)

// Outcome is the terminal state of one webhook delivery.
type Outcome string

const (
	OutcomeAcknowledged Outcome = "acknowledged"
	OutcomeRejected     Outcome = "rejected"
	OutcomeIgnored      Outcome = "ignored"
)

// InboundEvent is the normalized envelope built from a raw webhook payload.
// It lives only for the duration of one request: long enough to dedupe and
// dispatch.
type InboundEvent struct {
	ID         string    `json:"id"`
	Source     Source    `json:"source"`
	ExternalID string    `json:"external_id"`
	EventType  string    `json:"event_type"`
	ReceivedAt time.Time `json:"received_at"`
	RawPayload []byte    `json:"-"`
}

// AgentConfig is returned to a hardware agent on successful registration.
type AgentConfig struct {
	SyncIntervalSeconds int    `json:"sync_interval_seconds"`
	GPSIntervalSeconds  int    `json:"gps_interval_seconds"`
	APIURL              string `json:"api_url"`
}
