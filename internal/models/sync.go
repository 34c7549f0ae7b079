package models

// SyncItemKind is the record type of one entry in a hardware sync batch.
type SyncItemKind string

const (
	KindTransaction  SyncItemKind = "transaction"
	KindGPS          SyncItemKind = "gps"
	KindQualityPhoto SyncItemKind = "quality_photo"
	KindStatus       SyncItemKind = "status"
)

// SyncBatchItem is one record in an agent sync batch. Payload is the raw
// decoded object; a nil payload means the element could not be decoded and
// is failed per-item by the applier rather than aborting the batch.
type SyncBatchItem struct {
	Kind       SyncItemKind           `json:"kind"`
	ExternalID string                 `json:"external_id,omitempty"`
	Payload    map[string]interface{} `json:"payload"`
}

// ItemFailure identifies a failed batch item well enough for the agent to
// retry just that record on its next sync: original index plus the item's
// own external id where it had one.
type ItemFailure struct {
	Index      int    `json:"index"`
	ExternalID string `json:"external_id,omitempty"`
	Reason     string `json:"reason"`
}

// BatchResult summarizes a sync batch application.
type BatchResult struct {
	Applied int           `json:"applied"`
	Failed  []ItemFailure `json:"failed,omitempty"`
}
