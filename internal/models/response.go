package models

// Response payloads match the shapes the external providers already expect
// from the original endpoints.

type SquareWebhookResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Event         string `json:"event,omitempty"`
}

type SMSWebhookResponse struct {
	Status string `json:"status"`
	From   string `json:"from,omitempty"`
	Body   string `json:"body,omitempty"`
}

type StatusWebhookResponse struct {
	Status     string `json:"status"`
	MessageSid string `json:"message_sid"`
}

type SyncResponse struct {
	Status           string        `json:"status"`
	HardwareID       string        `json:"hardware_id"`
	RecordsProcessed int           `json:"records_processed"`
	Failed           []ItemFailure `json:"failed,omitempty"`
}

type RegisterResponse struct {
	Status     string      `json:"status"`
	HardwareID string      `json:"hardware_id"`
	Config     AgentConfig `json:"config"`
	AgentToken string      `json:"agent_token,omitempty"`
}

type QualityCompleteResponse struct {
	Status     string `json:"status"`
	CartID     string `json:"cart_id"`
	EmployeeID string `json:"employee_id,omitempty"`
}

type AlertResponse struct {
	Status    string `json:"status"`
	AlertType string `json:"alert_type"`
}
