// Package store is the gateway's interface to the external data store. The
// surface is deliberately narrow: inserts, upserts, and lookups keyed by
// entity id — nothing resembling a query language leaks into the pipeline.
package store

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateKey is returned when a unique-constraint insert loses the
	// race: some other delivery of the same event got there first.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned when a lookup or targeted update matches no row.
	ErrNotFound = errors.New("not found")
)

// Transaction is a recorded payment. AmountCents is in minor units.
type Transaction struct {
	ID           string
	ExternalID   string
	AmountCents  int64
	Currency     string
	OccurredAt   time.Time
	LocationHint string
	HardwareID   string
}

// Refund references a prior transaction by the provider's payment id.
// Orphaned refunds arrived before (or without) their transaction and wait
// for reconciliation.
type Refund struct {
	ID                string
	ExternalRefundID  string
	ExternalPaymentID string
	AmountCents       int64
	OccurredAt        time.Time
	Orphaned          bool
}

// InboundMessage is a received SMS, stored with the provider sid so
// operators can reconcile duplicate deliveries by hand.
type InboundMessage struct {
	ID         string
	MessageSid string
	From       string
	To         string
	Body       string
	Command    string
	ReceivedAt time.Time
}

// CartPosition is a cart's last known GPS fix, last-write-wins by RecordedAt.
type CartPosition struct {
	HardwareID string
	Latitude   float64
	Longitude  float64
	RecordedAt time.Time
}

// CartStatus is a cart's last reported system status, last-write-wins by
// RecordedAt. Status is the agent's loose status object, stored as JSON.
type CartStatus struct {
	HardwareID string
	Status     map[string]interface{}
	RecordedAt time.Time
}

// QualityPhoto is a field photo awaiting review.
type QualityPhoto struct {
	ID         string
	HardwareID string
	ExternalID string
	PhotoURL   string
	TakenAt    time.Time
}

// ShiftCheck is a completed quality checklist for a cart's shift.
type ShiftCheck struct {
	ID          string
	CartID      string
	EmployeeID  string
	CompletedAt time.Time
}

// Alert is an appended workflow alert.
type Alert struct {
	ID        string
	AlertType string
	Message   string
	Data      map[string]interface{}
	CreatedAt time.Time
}

// Agent is a provisioned hardware unit. RegistrationCodeHash is a bcrypt
// hash; the plaintext code ships with the hardware and is never stored.
type Agent struct {
	HardwareID           string
	RegistrationCodeHash string
	RegisteredAt         *time.Time
	LastSeenAt           *time.Time
}
