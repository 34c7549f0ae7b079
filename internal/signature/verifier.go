// Package signature implements webhook signature verification for Square.
//
// Square signs each delivery with HMAC-SHA256 over the notification URL
// concatenated with the raw request body, and sends the hex digest in the
// X-Square-Signature header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

type Verifier struct {
	key []byte
}

func NewVerifier(signatureKey string) *Verifier {
	return &Verifier{key: []byte(signatureKey)}
}

// Verify checks signatureHex against the HMAC-SHA256 of signingURL ++ payload.
// The comparison is constant time; a malformed hex signature returns false
// rather than an error.
func (v *Verifier) Verify(payload []byte, signatureHex, signingURL string) bool {
	provided, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(signingURL))
	mac.Write(payload)

	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign computes the hex signature for a payload. Used by tests and the
// webhook seeder; production signatures come from Square.
func (v *Verifier) Sign(payload []byte, signingURL string) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(signingURL))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
