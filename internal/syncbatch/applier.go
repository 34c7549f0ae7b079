// Package syncbatch applies ordered record batches uploaded by cart
// hardware agents. Items are independent: one malformed record never
// discards the rest of the batch, and the result carries enough identity
// for the agent to retry only what failed.
package syncbatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartops-systems/cartops-gateway/internal/idempotency"
	"github.com/cartops-systems/cartops-gateway/internal/logging"
	"github.com/cartops-systems/cartops-gateway/internal/metrics"
	"github.com/cartops-systems/cartops-gateway/internal/models"
	"github.com/cartops-systems/cartops-gateway/internal/store"
)

// Failure reasons reported back to the agent.
const (
	ReasonMalformedPayload = "malformed payload"
	ReasonUnknownKind      = "unknown kind"
	ReasonStoreError       = "store error"
)

// Dispatcher lets transaction items reuse the same mapping every other
// RecordTransaction takes; implemented by the dispatch router.
type Dispatcher interface {
	Dispatch(ctx context.Context, action models.Action) error
}

// Admitter dedupes items that carry their own external id, so a retried
// batch does not re-apply records that already landed. Release undoes an
// admission whose write failed, keeping the item retryable.
type Admitter interface {
	Admit(ctx context.Context, source models.Source, externalID string) (idempotency.Decision, error)
	Release(ctx context.Context, source models.Source, externalID string) error
}

// Store covers the cart-state writes GPS, status, and photo items need.
type Store interface {
	UpdateCartPosition(ctx context.Context, pos *store.CartPosition) error
	UpdateCartStatus(ctx context.Context, st *store.CartStatus) error
	InsertQualityPhoto(ctx context.Context, photo *store.QualityPhoto) error
}

type Applier struct {
	dispatcher Dispatcher
	store      Store
	guard      Admitter
	logger     *logging.Logger
}

func NewApplier(dispatcher Dispatcher, st Store, guard Admitter, logger *logging.Logger) *Applier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Applier{
		dispatcher: dispatcher,
		store:      st,
		guard:      guard,
		logger:     logger,
	}
}

// Apply processes items in order, isolating failures per item. Items whose
// external id was already applied count as applied without re-running side
// effects, which is what lets the agent resend a whole batch after a
// partial failure.
func (a *Applier) Apply(ctx context.Context, hardwareID string, items []models.SyncBatchItem) models.BatchResult {
	var result models.BatchResult
	now := time.Now().UTC()

	for i, item := range items {
		if err := a.applyItem(ctx, hardwareID, item, now); err != nil {
			reason := err.Error()
			result.Failed = append(result.Failed, models.ItemFailure{
				Index:      i,
				ExternalID: item.ExternalID,
				Reason:     reason,
			})
			metrics.SyncItemsTotal.WithLabelValues(string(item.Kind), "failed").Inc()
			a.logger.WarnContext(ctx, "sync item failed",
				logging.HardwareID(hardwareID),
				logging.Index(i),
				logging.Reason(reason),
			)
			continue
		}
		result.Applied++
		metrics.SyncItemsTotal.WithLabelValues(string(item.Kind), "applied").Inc()
	}

	return result
}

func (a *Applier) applyItem(ctx context.Context, hardwareID string, item models.SyncBatchItem, receivedAt time.Time) error {
	if item.Payload == nil {
		return errors.New(ReasonMalformedPayload)
	}

	switch item.Kind {
	case models.KindTransaction:
		return a.applyTransaction(ctx, hardwareID, item, receivedAt)
	case models.KindGPS:
		return a.applyGPS(ctx, hardwareID, item, receivedAt)
	case models.KindStatus:
		return a.applyStatus(ctx, hardwareID, item, receivedAt)
	case models.KindQualityPhoto:
		return a.applyQualityPhoto(ctx, hardwareID, item, receivedAt)
	default:
		return fmt.Errorf("%s: %q", ReasonUnknownKind, string(item.Kind))
	}
}

func (a *Applier) applyTransaction(ctx context.Context, hardwareID string, item models.SyncBatchItem, receivedAt time.Time) error {
	if item.ExternalID == "" {
		return fmt.Errorf("%s: transaction without id", ReasonMalformedPayload)
	}
	amount, ok := getNumber(item.Payload, "amount_cents")
	if !ok {
		return fmt.Errorf("%s: missing amount_cents", ReasonMalformedPayload)
	}

	decision, err := a.guard.Admit(ctx, models.SourceAgent, item.ExternalID)
	if err != nil {
		return fmt.Errorf("%s: %v", ReasonStoreError, err)
	}
	if decision == idempotency.Duplicate {
		// Already applied on a previous sync; acknowledged, not re-run.
		return nil
	}

	action := models.RecordTransaction{
		ExternalPaymentID: item.ExternalID,
		AmountCents:       int64(amount),
		Currency:          getStringOr(item.Payload, "currency", "USD"),
		OccurredAt:        itemTime(item.Payload, "occurred_at", receivedAt),
		LocationHint:      getStringOr(item.Payload, "location", ""),
		HardwareID:        hardwareID,
	}
	if err := a.dispatcher.Dispatch(ctx, action); err != nil {
		a.release(ctx, item.ExternalID)
		return fmt.Errorf("%s: %v", ReasonStoreError, err)
	}
	return nil
}

func (a *Applier) applyGPS(ctx context.Context, hardwareID string, item models.SyncBatchItem, receivedAt time.Time) error {
	lat, okLat := getNumber(item.Payload, "latitude")
	lon, okLon := getNumber(item.Payload, "longitude")
	if !okLat || !okLon {
		return fmt.Errorf("%s: missing coordinates", ReasonMalformedPayload)
	}

	pos := &store.CartPosition{
		HardwareID: hardwareID,
		Latitude:   lat,
		Longitude:  lon,
		RecordedAt: itemTime(item.Payload, "recorded_at", receivedAt),
	}
	if err := a.store.UpdateCartPosition(ctx, pos); err != nil {
		return fmt.Errorf("%s: %v", ReasonStoreError, err)
	}
	return nil
}

func (a *Applier) applyStatus(ctx context.Context, hardwareID string, item models.SyncBatchItem, receivedAt time.Time) error {
	st := &store.CartStatus{
		HardwareID: hardwareID,
		Status:     item.Payload,
		RecordedAt: itemTime(item.Payload, "recorded_at", receivedAt),
	}
	if err := a.store.UpdateCartStatus(ctx, st); err != nil {
		return fmt.Errorf("%s: %v", ReasonStoreError, err)
	}
	return nil
}

func (a *Applier) applyQualityPhoto(ctx context.Context, hardwareID string, item models.SyncBatchItem, receivedAt time.Time) error {
	photoURL := getStringOr(item.Payload, "photo_url", "")
	if photoURL == "" {
		photoURL = getStringOr(item.Payload, "url", "")
	}
	if photoURL == "" {
		return fmt.Errorf("%s: missing photo_url", ReasonMalformedPayload)
	}

	if item.ExternalID != "" {
		decision, err := a.guard.Admit(ctx, models.SourceAgent, item.ExternalID)
		if err != nil {
			return fmt.Errorf("%s: %v", ReasonStoreError, err)
		}
		if decision == idempotency.Duplicate {
			return nil
		}
	}

	photo := &store.QualityPhoto{
		ID:         uuid.New().String(),
		HardwareID: hardwareID,
		ExternalID: item.ExternalID,
		PhotoURL:   photoURL,
		TakenAt:    itemTime(item.Payload, "taken_at", receivedAt),
	}
	if err := a.store.InsertQualityPhoto(ctx, photo); err != nil {
		if item.ExternalID != "" {
			a.release(ctx, item.ExternalID)
		}
		return fmt.Errorf("%s: %v", ReasonStoreError, err)
	}
	return nil
}

// release gives back an admitted key after a failed write so the agent's
// resend of the same item is applied instead of deduped.
func (a *Applier) release(ctx context.Context, externalID string) {
	if err := a.guard.Release(ctx, models.SourceAgent, externalID); err != nil {
		a.logger.WarnContext(ctx, "failed to release sync item key",
			logging.ExternalID(externalID), logging.Error(err),
		)
	}
}

func getNumber(payload map[string]interface{}, key string) (float64, bool) {
	v, ok := payload[key].(float64)
	return v, ok
}

func getStringOr(payload map[string]interface{}, key, fallback string) string {
	if v, ok := payload[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// itemTime reads an RFC3339 timestamp from the payload, falling back to the
// batch receipt time.
func itemTime(payload map[string]interface{}, key string, fallback time.Time) time.Time {
	s, ok := payload[key].(string)
	if !ok {
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
