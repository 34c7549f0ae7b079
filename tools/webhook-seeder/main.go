// webhook-seeder posts realistic fake webhook traffic at a running gateway:
// signed Square payments and refunds, Twilio SMS form posts, and workflow
// alerts. Useful for exercising a development stack end to end.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/cartops-systems/cartops-gateway/internal/signature"
)

var (
	gatewayURL      = flag.String("gateway-url", "http://localhost:8080", "gateway base URL")
	signatureKey    = flag.String("signature-key", "", "Square webhook signature key (unsigned requests if empty)")
	notificationURL = flag.String("notification-url", "", "registered Square notification URL (defaults to gateway-url + /webhooks/square)")
	count           = flag.Int("count", 100, "number of webhooks to send")
	interval        = flag.Duration("interval", 100*time.Millisecond, "interval between webhooks")
	sources         = flag.String("sources", "square,sms,status,quality,alert", "comma-separated list of sources to generate")
	duplicateRate   = flag.Float64("duplicate-rate", 0.1, "fraction of square events re-sent to exercise deduplication")
)

func main() {
	flag.Parse()

	gofakeit.Seed(time.Now().UnixNano())

	signingURL := *notificationURL
	if signingURL == "" {
		signingURL = *gatewayURL + "/webhooks/square"
	}

	log.Printf("Starting webhook seeder:")
	log.Printf("  Gateway URL: %s", *gatewayURL)
	log.Printf("  Webhook count: %d", *count)
	log.Printf("  Interval: %v", *interval)
	log.Printf("  Duplicate rate: %.2f", *duplicateRate)

	kinds := strings.Split(*sources, ",")
	log.Printf("  Sources: %v", kinds)

	var signer *signature.Verifier
	if *signatureKey != "" {
		signer = signature.NewVerifier(*signatureKey)
	} else {
		log.Println("  No signature key - sending unsigned Square webhooks")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	seeder := &seeder{
		client:     client,
		gatewayURL: *gatewayURL,
		signingURL: signingURL,
		signer:     signer,
	}

	successCount := 0
	failCount := 0
	var lastSquare []byte

	for i := 0; i < *count; i++ {
		kind := kinds[rand.Intn(len(kinds))]

		var err error
		switch kind {
		case "square":
			if lastSquare != nil && rand.Float64() < *duplicateRate {
				err = seeder.postSquare(lastSquare)
			} else {
				lastSquare = squarePayload()
				err = seeder.postSquare(lastSquare)
			}
		case "sms":
			err = seeder.postForm("/webhooks/twilio/sms", smsForm())
		case "status":
			err = seeder.postForm("/webhooks/twilio/status", statusForm())
		case "quality":
			err = seeder.postJSON("/webhooks/quality-complete", qualityPayload())
		case "alert":
			err = seeder.postJSON("/webhooks/alert", alertPayload())
		default:
			log.Fatalf("Unknown source %q (supported: square, sms, status, quality, alert)", kind)
		}

		if err != nil {
			log.Printf("Failed to send %s webhook: %v", kind, err)
			failCount++
		} else {
			successCount++
			if successCount%50 == 0 {
				log.Printf("Progress: %d/%d webhooks sent", successCount, *count)
			}
		}

		if *interval > 0 && i < *count-1 {
			time.Sleep(*interval)
		}
	}

	log.Printf("\nSeeding complete:")
	log.Printf("  Success: %d webhooks", successCount)
	log.Printf("  Failed: %d webhooks", failCount)
}

type seeder struct {
	client     *http.Client
	gatewayURL string
	signingURL string
	signer     *signature.Verifier
}

func (s *seeder) postSquare(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, s.gatewayURL+"/webhooks/square", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.signer != nil {
		req.Header.Set("X-Square-Signature", s.signer.Sign(body, s.signingURL))
	}
	return s.do(req)
}

func (s *seeder) postJSON(path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.gatewayURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *seeder) postForm(path string, form url.Values) error {
	req, err := http.NewRequest(http.MethodPost, s.gatewayURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *seeder) do(req *http.Request) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}

func squarePayload() []byte {
	eventType := "payment.completed"
	if rand.Float64() < 0.1 {
		eventType = "refund.created"
	}

	var payload map[string]interface{}
	switch eventType {
	case "refund.created":
		payload = map[string]interface{}{
			"event_id": uuid.New().String(),
			"type":     eventType,
			"data": map[string]interface{}{
				"object": map[string]interface{}{
					"refund": map[string]interface{}{
						"id":         "ref_" + gofakeit.LetterN(12),
						"payment_id": "pay_" + gofakeit.LetterN(12),
						"created_at": time.Now().UTC().Format(time.RFC3339),
						"amount_money": map[string]interface{}{
							"amount":   gofakeit.Number(100, 2500),
							"currency": "USD",
						},
					},
				},
			},
		}
	default:
		payload = map[string]interface{}{
			"event_id": uuid.New().String(),
			"type":     eventType,
			"data": map[string]interface{}{
				"object": map[string]interface{}{
					"payment": map[string]interface{}{
						"id":          "pay_" + gofakeit.LetterN(12),
						"location_id": "loc_" + gofakeit.LetterN(8),
						"created_at":  time.Now().UTC().Format(time.RFC3339),
						"total_money": map[string]interface{}{
							"amount":   gofakeit.Number(300, 5000),
							"currency": "USD",
						},
					},
				},
			},
		}
	}

	body, _ := json.Marshal(payload)
	return body
}

func smsForm() url.Values {
	bodies := []string{
		"STOP",
		"HELP",
		fmt.Sprintf("ORDER %d %s", gofakeit.Number(1, 4), gofakeit.Word()),
		gofakeit.HipsterSentence(6),
	}
	return url.Values{
		"MessageSid": {"SM" + gofakeit.LetterN(32)},
		"From":       {gofakeit.Phone()},
		"To":         {gofakeit.Phone()},
		"Body":       {bodies[rand.Intn(len(bodies))]},
	}
}

func statusForm() url.Values {
	statuses := []string{"queued", "sent", "delivered", "failed"}
	return url.Values{
		"MessageSid":    {"SM" + gofakeit.LetterN(32)},
		"MessageStatus": {statuses[rand.Intn(len(statuses))]},
	}
}

func qualityPayload() map[string]interface{} {
	return map[string]interface{}{
		"cart_id":         "cart-" + gofakeit.DigitN(2),
		"employee_id":     "emp-" + gofakeit.DigitN(3),
		"completion_time": time.Now().UTC().Format(time.RFC3339),
	}
}

func alertPayload() map[string]interface{} {
	types := []string{"low_inventory", "cart_offline", "temperature_excursion"}
	return map[string]interface{}{
		"type":    types[rand.Intn(len(types))],
		"message": gofakeit.Sentence(8),
		"data": map[string]interface{}{
			"cart": "cart-" + gofakeit.DigitN(2),
		},
	}
}
