package classifier

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cartops-systems/cartops-gateway/internal/models"
)

type agentSyncEnvelope struct {
	HardwareID string            `json:"hardware_id"`
	Type       string            `json:"type"`
	Data       []json.RawMessage `json:"data"`
}

type agentRegisterEnvelope struct {
	HardwareID       string `json:"hardware_id"`
	RegistrationCode string `json:"registration_code"`
}

// envelope-level batch types map onto item kinds; legacy agents send
// "transactions" and "quality" for historical reasons.
var envelopeKinds = map[string]models.SyncItemKind{
	"transaction":   models.KindTransaction,
	"transactions":  models.KindTransaction,
	"gps":           models.KindGPS,
	"quality":       models.KindQualityPhoto,
	"quality_photo": models.KindQualityPhoto,
	"status":        models.KindStatus,
}

// ClassifyAgentSync parses a hardware sync envelope. The envelope's type
// sets the default kind for every item; individual items may override it
// with their own "kind" field, so mixed batches are possible. Items that
// fail to decode are kept with a nil payload and failed per-item by the
// applier instead of aborting the batch.
func ClassifyAgentSync(raw []byte, receivedAt time.Time) (*models.InboundEvent, models.Action, error) {
	var env agentSyncEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.HardwareID == "" {
		return nil, nil, fmt.Errorf("%w: missing hardware_id", ErrMalformedPayload)
	}

	// Unrecognized batch types fail per item in the applier, not as a
	// rejected request; the agent keeps its ack either way.
	defaultKind := envelopeKinds[env.Type]
	if defaultKind == "" && env.Type != "" && env.Type != "mixed" {
		defaultKind = models.SyncItemKind(env.Type)
	}

	items := make([]models.SyncBatchItem, 0, len(env.Data))
	for _, rawItem := range env.Data {
		items = append(items, decodeSyncItem(rawItem, defaultKind))
	}

	event := newEvent(models.SourceAgent, "", "agent.sync", receivedAt, raw)
	action := models.ApplySyncBatch{
		HardwareID: env.HardwareID,
		Items:      items,
	}
	return event, action, nil
}

func decodeSyncItem(raw json.RawMessage, defaultKind models.SyncItemKind) models.SyncBatchItem {
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil || payload == nil {
		return models.SyncBatchItem{Kind: defaultKind}
	}

	kind := defaultKind
	if k, ok := payload["kind"].(string); ok {
		if mapped, known := envelopeKinds[k]; known {
			kind = mapped
		} else {
			kind = models.SyncItemKind(k)
		}
	}

	externalID, _ := payload["external_id"].(string)
	if externalID == "" {
		externalID, _ = payload["id"].(string)
	}

	return models.SyncBatchItem{
		Kind:       kind,
		ExternalID: externalID,
		Payload:    payload,
	}
}

// ClassifyAgentRegister parses a hardware registration request.
func ClassifyAgentRegister(raw []byte, receivedAt time.Time) (*models.InboundEvent, models.Action, error) {
	var env agentRegisterEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.HardwareID == "" || env.RegistrationCode == "" {
		return nil, nil, fmt.Errorf("%w: missing hardware_id or registration_code", ErrMalformedPayload)
	}

	event := newEvent(models.SourceAgent, "", "agent.register", receivedAt, raw)
	action := models.RegisterAgent{
		HardwareID:       env.HardwareID,
		RegistrationCode: env.RegistrationCode,
	}
	return event, action, nil
}

type qualityCompleteEnvelope struct {
	CartID         string `json:"cart_id"`
	EmployeeID     string `json:"employee_id"`
	CompletionTime string `json:"completion_time"`
}

// ClassifyQualityComplete parses the workflow engine's callback for a
// finished quality checklist.
func ClassifyQualityComplete(raw []byte, receivedAt time.Time) (*models.InboundEvent, models.Action, error) {
	var env qualityCompleteEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.CartID == "" {
		return nil, nil, fmt.Errorf("%w: missing cart_id", ErrMalformedPayload)
	}

	event := newEvent(models.SourceWorkflow, "", "quality.complete", receivedAt, raw)
	action := models.CompleteQualityCheck{
		CartID:      env.CartID,
		EmployeeID:  env.EmployeeID,
		CompletedAt: parseTime(env.CompletionTime, receivedAt),
	}
	return event, action, nil
}

type alertEnvelope struct {
	Type    string                 `json:"type"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

// ClassifyAlert parses a generic alert pushed by the workflow engine.
func ClassifyAlert(raw []byte, receivedAt time.Time) (*models.InboundEvent, models.Action, error) {
	var env alertEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Type == "" {
		return nil, nil, fmt.Errorf("%w: missing alert type", ErrMalformedPayload)
	}

	event := newEvent(models.SourceWorkflow, "", "alert."+env.Type, receivedAt, raw)
	action := models.LogAlert{
		AlertType: env.Type,
		Message:   env.Message,
		Data:      env.Data,
	}
	return event, action, nil
}
