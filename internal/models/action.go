package models

import "time"

// Action is the normalized side effect a classified event maps to. The set
// of variants is closed: the dispatch router switches over every concrete
// type and treats anything else as a programming error.
type Action interface {
	ActionName() string
}

// RecordTransaction records (or upserts) a payment from Square or from a
// hardware sync batch. Amounts stay in minor currency units.
type RecordTransaction struct {
	ExternalPaymentID string
	AmountCents       int64
	Currency          string
	OccurredAt        time.Time
	LocationHint      string
	HardwareID        string
}

func (RecordTransaction) ActionName() string { return "record_transaction" }

// RecordRefund records a refund linked to a prior transaction by the
// provider's payment id.
type RecordRefund struct {
	ExternalRefundID  string
	ExternalPaymentID string
	AmountCents       int64
	OccurredAt        time.Time
}

func (RecordRefund) ActionName() string { return "record_refund" }

// UpdateDeliveryStatus updates the delivery state of an outbound SMS.
type UpdateDeliveryStatus struct {
	MessageSid string
	Status     string
}

func (UpdateDeliveryStatus) ActionName() string { return "update_delivery_status" }

// SmsCommand is the recognized command class of an inbound SMS body.
type SmsCommand string

const (
	CommandUnsubscribe SmsCommand = "unsubscribe"
	CommandPreorder    SmsCommand = "preorder"
	CommandHelp        SmsCommand = "help"
	CommandForward     SmsCommand = "forward"
)

// EnqueueSmsCommand forwards an inbound SMS to the downstream workflow
// engine. Body holds the original message text, not the upper-cased copy
// used for command matching.
type EnqueueSmsCommand struct {
	Command    SmsCommand
	From       string
	To         string
	MessageSid string
	Body       string
	ReceivedAt time.Time
}

func (EnqueueSmsCommand) ActionName() string { return "enqueue_sms_command" }

// ApplySyncBatch applies an ordered batch of records from a hardware agent.
type ApplySyncBatch struct {
	HardwareID string
	Items      []SyncBatchItem
}

func (ApplySyncBatch) ActionName() string { return "apply_sync_batch" }

// RegisterAgent links a hardware unit to the platform using its
// provisioning registration code.
type RegisterAgent struct {
	HardwareID       string
	RegistrationCode string
}

func (RegisterAgent) ActionName() string { return "register_agent" }

// CompleteQualityCheck records that a cart's quality checklist was finished,
// reported by the workflow engine at the end of a shift check.
type CompleteQualityCheck struct {
	CartID      string
	EmployeeID  string
	CompletedAt time.Time
}

func (CompleteQualityCheck) ActionName() string { return "complete_quality_check" }

// LogAlert appends a workflow-generated alert to the alert log.
type LogAlert struct {
	AlertType string
	Message   string
	Data      map[string]interface{}
}

func (LogAlert) ActionName() string { return "log_alert" }

// Ignore is the no-op action for event types this service does not act on.
// Providers must never see an error for these, or they retry forever.
type Ignore struct {
	EventType string
}

func (Ignore) ActionName() string { return "ignore" }
