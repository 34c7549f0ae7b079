package logging

import "log/slog"

// Common field names for consistent logging across the gateway.
const (
	FieldService    = "service"
	FieldSource     = "source"
	FieldEventID    = "event_id"
	FieldEventType  = "event_type"
	FieldExternalID = "external_id"
	FieldHardwareID = "hardware_id"
	FieldMessageSid = "message_sid"
	FieldIP         = "ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatus     = "status"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldIndex      = "index"
	FieldReason     = "reason"
)

// Service returns a slog attribute for the service name.
func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

// Source returns a slog attribute for the webhook source.
func Source(source string) slog.Attr {
	return slog.String(FieldSource, source)
}

// EventID returns a slog attribute for an event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// EventType returns a slog attribute for an event type.
func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// ExternalID returns a slog attribute for an external event ID.
func ExternalID(id string) slog.Attr {
	return slog.String(FieldExternalID, id)
}

// HardwareID returns a slog attribute for a cart hardware ID.
func HardwareID(id string) slog.Attr {
	return slog.String(FieldHardwareID, id)
}

// MessageSid returns a slog attribute for a Twilio message SID.
func MessageSid(sid string) slog.Attr {
	return slog.String(FieldMessageSid, sid)
}

// IP returns a slog attribute for the IP address.
func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

// Method returns a slog attribute for the HTTP method.
func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

// Path returns a slog attribute for the HTTP path.
func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Status returns a slog attribute for the HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}

// Index returns a slog attribute for a batch item index.
func Index(i int) slog.Attr {
	return slog.Int(FieldIndex, i)
}

// Reason returns a slog attribute for a failure reason.
func Reason(reason string) slog.Attr {
	return slog.String(FieldReason, reason)
}
