package messaging

// NATS subjects consumed by the downstream workflow engine.
const (
	// SubjectSmsCommand carries recognized SMS commands (unsubscribe,
	// preorder, help).
	SubjectSmsCommand = "cartops.sms.command"

	// SubjectSmsInbound carries free-form inbound messages, forwarded
	// unmodified.
	SubjectSmsInbound = "cartops.sms.inbound"
)
