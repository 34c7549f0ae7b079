// Package handlers translates HTTP requests into webhook pipeline calls and
// pipeline errors back into provider-friendly status codes.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cartops-systems/cartops-gateway/internal/classifier"
	"github.com/cartops-systems/cartops-gateway/internal/httputil"
	"github.com/cartops-systems/cartops-gateway/internal/logging"
	"github.com/cartops-systems/cartops-gateway/internal/models"
	"github.com/cartops-systems/cartops-gateway/internal/ratelimit"
	"github.com/cartops-systems/cartops-gateway/internal/service"
)

// SquareSignatureHeader carries the HMAC signature Square computes over the
// notification URL and raw body.
const SquareSignatureHeader = "X-Square-Signature"

// WebhookProcessor is the pipeline surface the handlers call into.
type WebhookProcessor interface {
	ProcessSquare(ctx context.Context, body []byte, signatureHeader string) (*models.SquareWebhookResponse, error)
	ProcessTwilioSMS(ctx context.Context, form url.Values) (*models.SMSWebhookResponse, error)
	ProcessTwilioStatus(ctx context.Context, form url.Values) (*models.StatusWebhookResponse, error)
	ProcessAgentSync(ctx context.Context, body []byte, bearerToken string) (*models.SyncResponse, error)
	RegisterAgent(ctx context.Context, body []byte) (*models.RegisterResponse, error)
	ProcessQualityComplete(ctx context.Context, body []byte) (*models.QualityCompleteResponse, error)
	ProcessAlert(ctx context.Context, body []byte) (*models.AlertResponse, error)
}

// Pinger reports data store reachability for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type WebhookHandler struct {
	service     WebhookProcessor
	limiter     ratelimit.RateLimiter
	store       Pinger
	logger      *logging.Logger
	maxBodySize int64
}

func NewWebhookHandler(svc WebhookProcessor, limiter ratelimit.RateLimiter, store Pinger, logger *logging.Logger, maxBodySize int64) *WebhookHandler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if maxBodySize <= 0 {
		maxBodySize = 1 << 20
	}
	return &WebhookHandler{
		service:     svc,
		limiter:     limiter,
		store:       store,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

func (h *WebhookHandler) HandleSquare(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, models.SourceSquare) {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.service.ProcessSquare(r.Context(), body, r.Header.Get(SquareSignatureHeader))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) HandleTwilioSMS(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, models.SourceTwilioSMS) {
		return
	}

	form, ok := h.readForm(w, r)
	if !ok {
		return
	}

	resp, err := h.service.ProcessTwilioSMS(r.Context(), form)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) HandleTwilioStatus(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, models.SourceTwilioStatus) {
		return
	}

	form, ok := h.readForm(w, r)
	if !ok {
		return
	}

	resp, err := h.service.ProcessTwilioStatus(r.Context(), form)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) HandleAgentSync(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, models.SourceAgent) {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.service.ProcessAgentSync(r.Context(), body, bearerToken(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) HandleAgentRegister(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, models.SourceAgent) {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.service.RegisterAgent(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) HandleQualityComplete(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, models.SourceWorkflow) {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.service.ProcessQualityComplete(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) HandleAlert(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, models.SourceWorkflow) {
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	resp, err := h.service.ProcessAlert(r.Context(), body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *WebhookHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
			})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// allow applies the per-source rate limit. A limiter outage fails open:
// dropping provider deliveries costs more than briefly skipping the limit.
func (h *WebhookHandler) allow(w http.ResponseWriter, r *http.Request, source models.Source) bool {
	allowed, err := h.limiter.Allow(r.Context(), string(source))
	if err != nil {
		h.logger.WarnContext(r.Context(), "rate limiter unavailable",
			logging.Source(string(source)), logging.Error(err),
		)
		return true
	}
	if !allowed {
		h.logger.WarnContext(r.Context(), "rate limited",
			logging.Source(string(source)), logging.IP(getClientIP(r)),
		)
		httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

func (h *WebhookHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "unreadable request body")
		return nil, false
	}
	defer r.Body.Close()
	return body, true
}

func (h *WebhookHandler) readForm(w http.ResponseWriter, r *http.Request) (url.Values, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "unreadable form body")
		return nil, false
	}
	return r.PostForm, true
}

func (h *WebhookHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, service.ErrMissingSignature),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrUnauthorizedAgent):
		h.logger.WarnContext(ctx, "rejected webhook",
			logging.Path(r.URL.Path), logging.IP(getClientIP(r)), logging.Error(err),
		)
		httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, classifier.ErrMalformedPayload):
		h.logger.WarnContext(ctx, "malformed webhook payload",
			logging.Path(r.URL.Path), logging.Error(err),
		)
		httputil.WriteError(w, http.StatusBadRequest, "malformed payload")
	default:
		// Anything else means the side effect did not land; the provider
		// should retry the delivery.
		h.logger.ErrorContext(ctx, "webhook processing failed",
			logging.Path(r.URL.Path), logging.Error(err),
		)
		httputil.WriteError(w, http.StatusBadGateway, "processing failed")
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
