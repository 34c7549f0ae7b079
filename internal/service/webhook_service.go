// Package service implements the webhook processing pipeline: verify,
// classify, dedupe, dispatch. Handlers translate its errors to HTTP; the
// pipeline itself never touches a ResponseWriter.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/cartops-systems/cartops-gateway/internal/classifier"
	"github.com/cartops-systems/cartops-gateway/internal/idempotency"
	"github.com/cartops-systems/cartops-gateway/internal/logging"
	"github.com/cartops-systems/cartops-gateway/internal/metrics"
	"github.com/cartops-systems/cartops-gateway/internal/models"
	"github.com/cartops-systems/cartops-gateway/internal/signature"
	"github.com/cartops-systems/cartops-gateway/internal/store"
	"github.com/cartops-systems/cartops-gateway/internal/tokens"
)

var (
	ErrMissingSignature  = errors.New("missing signature")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrUnauthorizedAgent = errors.New("unauthorized agent")
)

// Guard admits or rejects a delivery by its (source, external id) key.
// Release undoes an admission whose dispatch failed.
type Guard interface {
	Admit(ctx context.Context, source models.Source, externalID string) (idempotency.Decision, error)
	Release(ctx context.Context, source models.Source, externalID string) error
}

// Dispatcher executes classified actions; implemented by the dispatch router.
type Dispatcher interface {
	Dispatch(ctx context.Context, action models.Action) error
	ApplyBatch(ctx context.Context, a models.ApplySyncBatch) (models.BatchResult, error)
}

// AgentStore covers the agent registry operations the service needs.
type AgentStore interface {
	GetAgentByHardwareID(ctx context.Context, hardwareID string) (*store.Agent, error)
	MarkAgentRegistered(ctx context.Context, hardwareID string) error
	TouchAgentLastSeen(ctx context.Context, hardwareID string) error
}

// Deps bundles the service's collaborators.
type Deps struct {
	Verifier *signature.Verifier
	Guard    Guard
	Router   Dispatcher
	Tokens   *tokens.TokenGenerator
	Agents   AgentStore
	Logger   *logging.Logger

	// NotificationURL is the exact URL registered with Square; it is part
	// of the signed payload.
	NotificationURL string

	// RequireSignature makes Square signature and agent token failures
	// fatal. Off only in development environments.
	RequireSignature bool

	// AgentConfig is handed to hardware units on successful registration.
	AgentConfig models.AgentConfig
}

type WebhookService struct {
	verifier         *signature.Verifier
	guard            Guard
	router           Dispatcher
	tokens           *tokens.TokenGenerator
	agents           AgentStore
	logger           *logging.Logger
	notificationURL  string
	requireSignature bool
	agentConfig      models.AgentConfig
}

func NewWebhookService(deps Deps) *WebhookService {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookService{
		verifier:         deps.Verifier,
		guard:            deps.Guard,
		router:           deps.Router,
		tokens:           deps.Tokens,
		agents:           deps.Agents,
		logger:           logger,
		notificationURL:  deps.NotificationURL,
		requireSignature: deps.RequireSignature,
		agentConfig:      deps.AgentConfig,
	}
}

// ProcessSquare handles a Square webhook delivery. The signature covers the
// notification URL concatenated with the raw body, so body must be the exact
// bytes received.
func (s *WebhookService) ProcessSquare(ctx context.Context, body []byte, signatureHeader string) (*models.SquareWebhookResponse, error) {
	if err := s.checkSquareSignature(ctx, body, signatureHeader); err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceSquare), string(models.OutcomeRejected)).Inc()
		return nil, err
	}

	event, action, err := classifier.ClassifySquare(body, time.Now().UTC())
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceSquare), string(models.OutcomeRejected)).Inc()
		return nil, err
	}

	if ignore, ok := action.(models.Ignore); ok {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceSquare), string(models.OutcomeIgnored)).Inc()
		s.logger.DebugContext(ctx, "ignored square event", logging.EventType(ignore.EventType))
		return &models.SquareWebhookResponse{Status: "ignored", Event: ignore.EventType}, nil
	}

	decision, err := s.guard.Admit(ctx, models.SourceSquare, event.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("admit square event: %w", err)
	}
	if decision == idempotency.Duplicate {
		metrics.DuplicateEvents.WithLabelValues(string(models.SourceSquare)).Inc()
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceSquare), string(models.OutcomeAcknowledged)).Inc()
		return &models.SquareWebhookResponse{Status: "already_processed", Event: event.EventType}, nil
	}

	if err := s.router.Dispatch(ctx, action); err != nil {
		// The side effect never landed. Give the key back so the
		// provider's retry is admitted instead of deduped.
		s.releaseKey(ctx, models.SourceSquare, event.ExternalID)
		return nil, err
	}

	metrics.WebhooksTotal.WithLabelValues(string(models.SourceSquare), string(models.OutcomeAcknowledged)).Inc()
	resp := &models.SquareWebhookResponse{Status: "processed", Event: event.EventType}
	if txn, ok := action.(models.RecordTransaction); ok {
		resp.TransactionID = txn.ExternalPaymentID
	}
	return resp, nil
}

// releaseKey undoes an admission whose dispatch failed. A failed release
// is logged rather than returned: the request already surfaces the dispatch
// error, and the orphaned key is the recoverable half of the failure.
func (s *WebhookService) releaseKey(ctx context.Context, source models.Source, externalID string) {
	if err := s.guard.Release(ctx, source, externalID); err != nil {
		s.logger.WarnContext(ctx, "failed to release idempotency key",
			logging.Source(string(source)), logging.ExternalID(externalID), logging.Error(err),
		)
	}
}

func (s *WebhookService) checkSquareSignature(ctx context.Context, body []byte, signatureHeader string) error {
	if signatureHeader == "" {
		if s.requireSignature {
			metrics.SignatureFailures.Inc()
			return ErrMissingSignature
		}
		s.logger.WarnContext(ctx, "square signature missing, accepting in non-production")
		return nil
	}

	if s.verifier.Verify(body, signatureHeader, s.notificationURL) {
		return nil
	}

	if s.requireSignature {
		metrics.SignatureFailures.Inc()
		return ErrInvalidSignature
	}
	s.logger.WarnContext(ctx, "square signature invalid, accepting in non-production")
	return nil
}

// ProcessTwilioSMS handles an inbound SMS. Twilio does not sign message
// bodies in a replay-proof way, so SMS skips the idempotency guard and the
// provider sid is stored for manual reconciliation.
func (s *WebhookService) ProcessTwilioSMS(ctx context.Context, form url.Values) (*models.SMSWebhookResponse, error) {
	_, action, err := classifier.ClassifyTwilioSMS(form, time.Now().UTC())
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceTwilioSMS), string(models.OutcomeRejected)).Inc()
		return nil, err
	}

	cmd := action.(models.EnqueueSmsCommand)
	if err := s.router.Dispatch(ctx, cmd); err != nil {
		return nil, err
	}

	metrics.WebhooksTotal.WithLabelValues(string(models.SourceTwilioSMS), string(models.OutcomeAcknowledged)).Inc()
	return &models.SMSWebhookResponse{
		Status: smsStatus(cmd.Command),
		From:   cmd.From,
		Body:   cmd.Body,
	}, nil
}

func smsStatus(cmd models.SmsCommand) string {
	switch cmd {
	case models.CommandUnsubscribe:
		return "unsubscribed"
	case models.CommandPreorder:
		return "order_initiated"
	case models.CommandHelp:
		return "help_sent"
	default:
		return "received"
	}
}

// ProcessTwilioStatus handles a delivery status callback. The same sid
// legitimately reports several statuses over its lifetime, so the dedupe key
// is sid plus status.
func (s *WebhookService) ProcessTwilioStatus(ctx context.Context, form url.Values) (*models.StatusWebhookResponse, error) {
	event, action, err := classifier.ClassifyTwilioStatus(form, time.Now().UTC())
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceTwilioStatus), string(models.OutcomeRejected)).Inc()
		return nil, err
	}

	update := action.(models.UpdateDeliveryStatus)

	decision, err := s.guard.Admit(ctx, models.SourceTwilioStatus, event.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("admit status callback: %w", err)
	}
	if decision == idempotency.Duplicate {
		metrics.DuplicateEvents.WithLabelValues(string(models.SourceTwilioStatus)).Inc()
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceTwilioStatus), string(models.OutcomeAcknowledged)).Inc()
		return &models.StatusWebhookResponse{Status: "already_processed", MessageSid: update.MessageSid}, nil
	}

	if err := s.router.Dispatch(ctx, update); err != nil {
		s.releaseKey(ctx, models.SourceTwilioStatus, event.ExternalID)
		return nil, err
	}

	metrics.WebhooksTotal.WithLabelValues(string(models.SourceTwilioStatus), string(models.OutcomeAcknowledged)).Inc()
	return &models.StatusWebhookResponse{Status: "processed", MessageSid: update.MessageSid}, nil
}

// ProcessAgentSync handles a batch upload from a registered hardware agent.
// In production the bearer token is mandatory and must match the hardware
// id inside the payload; development accepts token-less agents.
func (s *WebhookService) ProcessAgentSync(ctx context.Context, body []byte, bearerToken string) (*models.SyncResponse, error) {
	claims, err := s.tokens.ValidateAgentToken(bearerToken)
	if err != nil {
		if s.requireSignature {
			metrics.WebhooksTotal.WithLabelValues(string(models.SourceAgent), string(models.OutcomeRejected)).Inc()
			return nil, ErrUnauthorizedAgent
		}
		s.logger.WarnContext(ctx, "agent token missing or invalid, accepting in non-production")
		claims = nil
	}

	_, action, err := classifier.ClassifyAgentSync(body, time.Now().UTC())
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceAgent), string(models.OutcomeRejected)).Inc()
		return nil, err
	}

	batch := action.(models.ApplySyncBatch)
	if claims != nil && batch.HardwareID != claims.HardwareID {
		s.logger.WarnContext(ctx, "sync hardware id does not match token",
			logging.HardwareID(batch.HardwareID),
		)
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceAgent), string(models.OutcomeRejected)).Inc()
		return nil, ErrUnauthorizedAgent
	}

	if err := s.agents.TouchAgentLastSeen(ctx, batch.HardwareID); err != nil {
		// Liveness tracking is best effort.
		s.logger.WarnContext(ctx, "failed to update agent last seen",
			logging.HardwareID(batch.HardwareID), logging.Error(err),
		)
	}

	result, err := s.router.ApplyBatch(ctx, batch)
	if err != nil {
		return nil, err
	}

	metrics.WebhooksTotal.WithLabelValues(string(models.SourceAgent), string(models.OutcomeAcknowledged)).Inc()
	return &models.SyncResponse{
		Status:           "synced",
		HardwareID:       batch.HardwareID,
		RecordsProcessed: result.Applied,
		Failed:           result.Failed,
	}, nil
}

// RegisterAgent exchanges a provisioning registration code for a bearer
// token and the agent's operating config.
func (s *WebhookService) RegisterAgent(ctx context.Context, body []byte) (*models.RegisterResponse, error) {
	_, action, err := classifier.ClassifyAgentRegister(body, time.Now().UTC())
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceAgent), string(models.OutcomeRejected)).Inc()
		return nil, err
	}

	reg := action.(models.RegisterAgent)

	agent, err := s.agents.GetAgentByHardwareID(ctx, reg.HardwareID)
	if errors.Is(err, store.ErrNotFound) {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceAgent), string(models.OutcomeRejected)).Inc()
		return nil, ErrUnauthorizedAgent
	}
	if err != nil {
		return nil, fmt.Errorf("lookup agent: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(agent.RegistrationCodeHash), []byte(reg.RegistrationCode)); err != nil {
		s.logger.WarnContext(ctx, "registration code mismatch", logging.HardwareID(reg.HardwareID))
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceAgent), string(models.OutcomeRejected)).Inc()
		return nil, ErrUnauthorizedAgent
	}

	if err := s.agents.MarkAgentRegistered(ctx, reg.HardwareID); err != nil {
		return nil, fmt.Errorf("mark agent registered: %w", err)
	}

	token, err := s.tokens.GenerateAgentToken(reg.HardwareID)
	if err != nil {
		return nil, fmt.Errorf("issue agent token: %w", err)
	}

	metrics.WebhooksTotal.WithLabelValues(string(models.SourceAgent), string(models.OutcomeAcknowledged)).Inc()
	s.logger.InfoContext(ctx, "agent registered", logging.HardwareID(reg.HardwareID))
	return &models.RegisterResponse{
		Status:     "registered",
		HardwareID: reg.HardwareID,
		Config:     s.agentConfig,
		AgentToken: token,
	}, nil
}

// ProcessQualityComplete records a finished quality checklist reported by
// the workflow engine when a cart's shift check wraps up.
func (s *WebhookService) ProcessQualityComplete(ctx context.Context, body []byte) (*models.QualityCompleteResponse, error) {
	_, action, err := classifier.ClassifyQualityComplete(body, time.Now().UTC())
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceWorkflow), string(models.OutcomeRejected)).Inc()
		return nil, err
	}

	check := action.(models.CompleteQualityCheck)
	if err := s.router.Dispatch(ctx, check); err != nil {
		return nil, err
	}

	metrics.WebhooksTotal.WithLabelValues(string(models.SourceWorkflow), string(models.OutcomeAcknowledged)).Inc()
	return &models.QualityCompleteResponse{
		Status:     "processed",
		CartID:     check.CartID,
		EmployeeID: check.EmployeeID,
	}, nil
}

// ProcessAlert appends a workflow-generated alert to the alert log.
func (s *WebhookService) ProcessAlert(ctx context.Context, body []byte) (*models.AlertResponse, error) {
	_, action, err := classifier.ClassifyAlert(body, time.Now().UTC())
	if err != nil {
		metrics.WebhooksTotal.WithLabelValues(string(models.SourceWorkflow), string(models.OutcomeRejected)).Inc()
		return nil, err
	}

	alert := action.(models.LogAlert)
	if err := s.router.Dispatch(ctx, alert); err != nil {
		return nil, err
	}

	metrics.WebhooksTotal.WithLabelValues(string(models.SourceWorkflow), string(models.OutcomeAcknowledged)).Inc()
	return &models.AlertResponse{Status: "logged", AlertType: alert.AlertType}, nil
}
