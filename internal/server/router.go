package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cartops-systems/cartops-gateway/internal/handlers"
	"github.com/cartops-systems/cartops-gateway/internal/middleware"
)

// NewRouter constructs a ServeMux with webhook routes registered.
func NewRouter(h *handlers.WebhookHandler) http.Handler {
	mux := http.NewServeMux()

	// Provider webhooks
	mux.HandleFunc("POST /webhooks/square", h.HandleSquare)
	mux.HandleFunc("POST /webhooks/twilio/sms", h.HandleTwilioSMS)
	mux.HandleFunc("POST /webhooks/twilio/status", h.HandleTwilioStatus)
	mux.HandleFunc("POST /webhooks/quality-complete", h.HandleQualityComplete)
	mux.HandleFunc("POST /webhooks/alert", h.HandleAlert)

	// Hardware agent endpoints
	mux.HandleFunc("POST /webhooks/agent/sync", h.HandleAgentSync)
	mux.HandleFunc("POST /webhooks/agent/register", h.HandleAgentRegister)

	// Health endpoints
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
