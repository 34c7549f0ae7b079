// Package dispatch routes normalized actions to their side effects. The
// router is the single place where a classified event becomes a store write
// or a forwarded message, so retry semantics live here and nowhere else.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cartops-systems/cartops-gateway/internal/logging"
	"github.com/cartops-systems/cartops-gateway/internal/messaging"
	"github.com/cartops-systems/cartops-gateway/internal/metrics"
	"github.com/cartops-systems/cartops-gateway/internal/models"
	"github.com/cartops-systems/cartops-gateway/internal/store"
)

// Store covers the writes the router performs directly.
type Store interface {
	UpsertTransaction(ctx context.Context, txn *store.Transaction) error
	GetTransactionByExternalID(ctx context.Context, externalID string) (*store.Transaction, error)
	InsertRefund(ctx context.Context, refund *store.Refund) error
	UpdateMessageStatus(ctx context.Context, messageSid, status string) error
	InsertInboundMessage(ctx context.Context, msg *store.InboundMessage) error
	MarkUnsubscribed(ctx context.Context, phone string) error
	InsertShiftCheck(ctx context.Context, check *store.ShiftCheck) error
	InsertAlert(ctx context.Context, alert *store.Alert) error
}

// BatchApplier handles ApplySyncBatch; implemented by the syncbatch package.
type BatchApplier interface {
	Apply(ctx context.Context, hardwareID string, items []models.SyncBatchItem) models.BatchResult
}

type Router struct {
	store     Store
	publisher messaging.Publisher
	applier   BatchApplier
	logger    *logging.Logger
}

func NewRouter(st Store, publisher messaging.Publisher, logger *logging.Logger) *Router {
	if publisher == nil {
		publisher = messaging.NoOpPublisher{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		store:     st,
		publisher: publisher,
		logger:    logger,
	}
}

// SetApplier wires the sync batch applier. Set after construction because the
// applier itself dispatches transaction items back through the router.
func (r *Router) SetApplier(applier BatchApplier) {
	r.applier = applier
}

// ApplyBatch runs a sync batch and returns its per-item outcome. The service
// layer calls this directly because the agent response reports the result;
// Dispatch handles the same action when no caller needs it.
func (r *Router) ApplyBatch(ctx context.Context, a models.ApplySyncBatch) (models.BatchResult, error) {
	if r.applier == nil {
		return models.BatchResult{}, errors.New("sync batch applier not configured")
	}
	return r.applier.Apply(ctx, a.HardwareID, a.Items), nil
}

// Dispatch executes the side effect for one action. An error means the
// effect did not land and the delivery should be retried by the provider.
func (r *Router) Dispatch(ctx context.Context, action models.Action) error {
	start := time.Now()
	err := r.dispatch(ctx, action)
	metrics.DispatchDuration.WithLabelValues(action.ActionName()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.Inc()
	}
	return err
}

func (r *Router) dispatch(ctx context.Context, action models.Action) error {
	switch a := action.(type) {
	case models.RecordTransaction:
		return r.recordTransaction(ctx, a)
	case models.RecordRefund:
		return r.recordRefund(ctx, a)
	case models.UpdateDeliveryStatus:
		return r.updateDeliveryStatus(ctx, a)
	case models.EnqueueSmsCommand:
		return r.enqueueSmsCommand(ctx, a)
	case models.ApplySyncBatch:
		return r.applySyncBatch(ctx, a)
	case models.CompleteQualityCheck:
		return r.completeQualityCheck(ctx, a)
	case models.LogAlert:
		return r.logAlert(ctx, a)
	case models.Ignore:
		r.logger.DebugContext(ctx, "ignored event", logging.EventType(a.EventType))
		return nil
	default:
		return fmt.Errorf("unhandled action %q", action.ActionName())
	}
}

func (r *Router) recordTransaction(ctx context.Context, a models.RecordTransaction) error {
	txn := &store.Transaction{
		ID:           uuid.New().String(),
		ExternalID:   a.ExternalPaymentID,
		AmountCents:  a.AmountCents,
		Currency:     a.Currency,
		OccurredAt:   a.OccurredAt,
		LocationHint: a.LocationHint,
		HardwareID:   a.HardwareID,
	}
	if err := r.store.UpsertTransaction(ctx, txn); err != nil {
		return fmt.Errorf("record transaction %s: %w", a.ExternalPaymentID, err)
	}
	return nil
}

// recordRefund flags refunds whose transaction is missing instead of
// rejecting them; the provider's payment events can arrive out of order.
func (r *Router) recordRefund(ctx context.Context, a models.RecordRefund) error {
	orphaned := false
	_, err := r.store.GetTransactionByExternalID(ctx, a.ExternalPaymentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		orphaned = true
		r.logger.WarnContext(ctx, "refund references unknown transaction",
			logging.ExternalID(a.ExternalRefundID),
		)
	case err != nil:
		return fmt.Errorf("lookup transaction %s: %w", a.ExternalPaymentID, err)
	}

	refund := &store.Refund{
		ID:                uuid.New().String(),
		ExternalRefundID:  a.ExternalRefundID,
		ExternalPaymentID: a.ExternalPaymentID,
		AmountCents:       a.AmountCents,
		OccurredAt:        a.OccurredAt,
		Orphaned:          orphaned,
	}
	if err := r.store.InsertRefund(ctx, refund); err != nil {
		return fmt.Errorf("record refund %s: %w", a.ExternalRefundID, err)
	}
	return nil
}

// updateDeliveryStatus tolerates unknown sids: status callbacks can outlive
// message retention, and Twilio retries on any error response.
func (r *Router) updateDeliveryStatus(ctx context.Context, a models.UpdateDeliveryStatus) error {
	err := r.store.UpdateMessageStatus(ctx, a.MessageSid, a.Status)
	if errors.Is(err, store.ErrNotFound) {
		r.logger.WarnContext(ctx, "status callback for unknown message",
			logging.MessageSid(a.MessageSid),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("update message status %s: %w", a.MessageSid, err)
	}
	return nil
}

func (r *Router) enqueueSmsCommand(ctx context.Context, a models.EnqueueSmsCommand) error {
	msg := &store.InboundMessage{
		ID:         uuid.New().String(),
		MessageSid: a.MessageSid,
		From:       a.From,
		To:         a.To,
		Body:       a.Body,
		Command:    string(a.Command),
		ReceivedAt: a.ReceivedAt,
	}
	if err := r.store.InsertInboundMessage(ctx, msg); err != nil {
		return fmt.Errorf("store inbound message: %w", err)
	}

	switch a.Command {
	case models.CommandUnsubscribe:
		if err := r.store.MarkUnsubscribed(ctx, a.From); err != nil {
			return fmt.Errorf("mark unsubscribed: %w", err)
		}
		return r.publish(ctx, messaging.SubjectSmsCommand, a)
	case models.CommandForward:
		return r.publish(ctx, messaging.SubjectSmsInbound, a)
	default:
		return r.publish(ctx, messaging.SubjectSmsCommand, a)
	}
}

func (r *Router) applySyncBatch(ctx context.Context, a models.ApplySyncBatch) error {
	_, err := r.ApplyBatch(ctx, a)
	return err
}

func (r *Router) completeQualityCheck(ctx context.Context, a models.CompleteQualityCheck) error {
	check := &store.ShiftCheck{
		ID:          uuid.New().String(),
		CartID:      a.CartID,
		EmployeeID:  a.EmployeeID,
		CompletedAt: a.CompletedAt,
	}
	if err := r.store.InsertShiftCheck(ctx, check); err != nil {
		return fmt.Errorf("record shift check: %w", err)
	}
	return nil
}

func (r *Router) logAlert(ctx context.Context, a models.LogAlert) error {
	alert := &store.Alert{
		ID:        uuid.New().String(),
		AlertType: a.AlertType,
		Message:   a.Message,
		Data:      a.Data,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.InsertAlert(ctx, alert); err != nil {
		return fmt.Errorf("log alert: %w", err)
	}
	return nil
}

func (r *Router) publish(ctx context.Context, subject string, data interface{}) error {
	if err := r.publisher.PublishJSON(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
