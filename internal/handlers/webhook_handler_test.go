package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartops-systems/cartops-gateway/internal/classifier"
	"github.com/cartops-systems/cartops-gateway/internal/models"
	"github.com/cartops-systems/cartops-gateway/internal/service"
)

type fakeProcessor struct {
	squareResp   *models.SquareWebhookResponse
	smsResp      *models.SMSWebhookResponse
	statusResp   *models.StatusWebhookResponse
	syncResp     *models.SyncResponse
	registerResp *models.RegisterResponse
	qualityResp  *models.QualityCompleteResponse
	alertResp    *models.AlertResponse
	err          error

	gotBody  []byte
	gotSig   string
	gotToken string
	gotForm  url.Values
}

func (f *fakeProcessor) ProcessSquare(ctx context.Context, body []byte, sig string) (*models.SquareWebhookResponse, error) {
	f.gotBody, f.gotSig = body, sig
	return f.squareResp, f.err
}

func (f *fakeProcessor) ProcessTwilioSMS(ctx context.Context, form url.Values) (*models.SMSWebhookResponse, error) {
	f.gotForm = form
	return f.smsResp, f.err
}

func (f *fakeProcessor) ProcessTwilioStatus(ctx context.Context, form url.Values) (*models.StatusWebhookResponse, error) {
	f.gotForm = form
	return f.statusResp, f.err
}

func (f *fakeProcessor) ProcessAgentSync(ctx context.Context, body []byte, token string) (*models.SyncResponse, error) {
	f.gotBody, f.gotToken = body, token
	return f.syncResp, f.err
}

func (f *fakeProcessor) RegisterAgent(ctx context.Context, body []byte) (*models.RegisterResponse, error) {
	f.gotBody = body
	return f.registerResp, f.err
}

func (f *fakeProcessor) ProcessQualityComplete(ctx context.Context, body []byte) (*models.QualityCompleteResponse, error) {
	f.gotBody = body
	return f.qualityResp, f.err
}

func (f *fakeProcessor) ProcessAlert(ctx context.Context, body []byte) (*models.AlertResponse, error) {
	f.gotBody = body
	return f.alertResp, f.err
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string) (bool, error) { return false, nil }
func (denyLimiter) Close() error                                        { return nil }

type fakePinger struct{ err error }

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func newHandler(proc *fakeProcessor) *WebhookHandler {
	return NewWebhookHandler(proc, nil, &fakePinger{}, nil, 0)
}

func TestHandleSquare_Success(t *testing.T) {
	proc := &fakeProcessor{squareResp: &models.SquareWebhookResponse{Status: "processed", TransactionID: "pay-1"}}
	h := newHandler(proc)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/square", strings.NewReader(`{"type":"payment.completed"}`))
	req.Header.Set(SquareSignatureHeader, "abc123")
	rec := httptest.NewRecorder()
	h.HandleSquare(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", proc.gotSig)
	assert.JSONEq(t, `{"status":"processed","transaction_id":"pay-1"}`, rec.Body.String())
}

func TestHandleSquare_Unauthorized(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"missing signature", service.ErrMissingSignature},
		{"invalid signature", service.ErrInvalidSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(&fakeProcessor{err: tt.err})

			rec := httptest.NewRecorder()
			h.HandleSquare(rec, httptest.NewRequest(http.MethodPost, "/webhooks/square", strings.NewReader("{}")))

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestHandleSquare_MalformedPayload(t *testing.T) {
	h := newHandler(&fakeProcessor{err: classifier.ErrMalformedPayload})

	rec := httptest.NewRecorder()
	h.HandleSquare(rec, httptest.NewRequest(http.MethodPost, "/webhooks/square", strings.NewReader("not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSquare_StoreFailureIsBadGateway(t *testing.T) {
	h := newHandler(&fakeProcessor{err: errors.New("connection refused")})

	rec := httptest.NewRecorder()
	h.HandleSquare(rec, httptest.NewRequest(http.MethodPost, "/webhooks/square", strings.NewReader("{}")))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleSquare_RateLimited(t *testing.T) {
	proc := &fakeProcessor{squareResp: &models.SquareWebhookResponse{Status: "processed"}}
	h := NewWebhookHandler(proc, denyLimiter{}, &fakePinger{}, nil, 0)

	rec := httptest.NewRecorder()
	h.HandleSquare(rec, httptest.NewRequest(http.MethodPost, "/webhooks/square", strings.NewReader("{}")))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Nil(t, proc.gotBody)
}

func TestHandleTwilioSMS_ParsesForm(t *testing.T) {
	proc := &fakeProcessor{smsResp: &models.SMSWebhookResponse{Status: "received"}}
	h := newHandler(proc)

	form := url.Values{"From": {"+15035551234"}, "Body": {"hello"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleTwilioSMS(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "+15035551234", proc.gotForm.Get("From"))
}

func TestHandleTwilioStatus(t *testing.T) {
	proc := &fakeProcessor{statusResp: &models.StatusWebhookResponse{Status: "processed", MessageSid: "SM1"}}
	h := newHandler(proc)

	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleTwilioStatus(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "delivered", proc.gotForm.Get("MessageStatus"))
}

func TestHandleAgentSync_ExtractsBearerToken(t *testing.T) {
	proc := &fakeProcessor{syncResp: &models.SyncResponse{Status: "synced", HardwareID: "cart-01"}}
	h := newHandler(proc)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/agent/sync", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer tok-123")
	rec := httptest.NewRecorder()
	h.HandleAgentSync(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-123", proc.gotToken)
}

func TestHandleAgentSync_Unauthorized(t *testing.T) {
	h := newHandler(&fakeProcessor{err: service.ErrUnauthorizedAgent})

	rec := httptest.NewRecorder()
	h.HandleAgentSync(rec, httptest.NewRequest(http.MethodPost, "/webhooks/agent/sync", strings.NewReader("{}")))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleAgentRegister(t *testing.T) {
	proc := &fakeProcessor{registerResp: &models.RegisterResponse{
		Status:     "registered",
		HardwareID: "cart-01",
		AgentToken: "tok",
	}}
	h := newHandler(proc)

	body := `{"hardware_id":"cart-01","registration_code":"code"}`
	rec := httptest.NewRecorder()
	h.HandleAgentRegister(rec, httptest.NewRequest(http.MethodPost, "/webhooks/agent/register", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "registered", resp.Status)
	assert.Equal(t, "tok", resp.AgentToken)
}

func TestHandleQualityComplete(t *testing.T) {
	proc := &fakeProcessor{qualityResp: &models.QualityCompleteResponse{
		Status:     "processed",
		CartID:     "cart-03",
		EmployeeID: "emp-7",
	}}
	h := newHandler(proc)

	body := `{"cart_id":"cart-03","employee_id":"emp-7"}`
	rec := httptest.NewRecorder()
	h.HandleQualityComplete(rec, httptest.NewRequest(http.MethodPost, "/webhooks/quality-complete", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"processed","cart_id":"cart-03","employee_id":"emp-7"}`, rec.Body.String())
}

func TestHandleAlert(t *testing.T) {
	proc := &fakeProcessor{alertResp: &models.AlertResponse{Status: "logged", AlertType: "low_inventory"}}
	h := newHandler(proc)

	rec := httptest.NewRecorder()
	h.HandleAlert(rec, httptest.NewRequest(http.MethodPost, "/webhooks/alert", strings.NewReader(`{"type":"low_inventory"}`)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"logged","alert_type":"low_inventory"}`, rec.Body.String())
}

func TestHandleSquare_BodyTooLarge(t *testing.T) {
	proc := &fakeProcessor{squareResp: &models.SquareWebhookResponse{Status: "processed"}}
	h := NewWebhookHandler(proc, nil, &fakePinger{}, nil, 16)

	rec := httptest.NewRecorder()
	h.HandleSquare(rec, httptest.NewRequest(http.MethodPost, "/webhooks/square", strings.NewReader(strings.Repeat("x", 64))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newHandler(&fakeProcessor{})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	h := newHandler(&fakeProcessor{})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_StoreDown(t *testing.T) {
	h := NewWebhookHandler(&fakeProcessor{}, nil, &fakePinger{err: errors.New("down")}, nil, 0)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	assert.Equal(t, "1.2.3.4", getClientIP(req))

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Real-IP", "9.10.11.12")
	assert.Equal(t, "9.10.11.12", getClientIP(req))

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Equal(t, req.RemoteAddr, getClientIP(req))
}
