package signature

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := NewVerifier("test-signature-key")
	payload := []byte(`{"type":"payment.completed","data":{"object":{}}}`)
	url := "https://api.example.com/webhooks/square"

	sig := v.Sign(payload, url)
	assert.True(t, v.Verify(payload, sig, url))
}

func TestVerify_FlippedByte(t *testing.T) {
	v := NewVerifier("test-signature-key")
	payload := []byte(`{"type":"payment.completed"}`)
	url := "https://api.example.com/webhooks/square"
	sig := v.Sign(payload, url)

	t.Run("flipped signature byte", func(t *testing.T) {
		raw, err := hex.DecodeString(sig)
		require.NoError(t, err)
		raw[0] ^= 0x01
		assert.False(t, v.Verify(payload, hex.EncodeToString(raw), url))
	})

	t.Run("flipped payload byte", func(t *testing.T) {
		tampered := make([]byte, len(payload))
		copy(tampered, payload)
		tampered[3] ^= 0x01
		assert.False(t, v.Verify(tampered, sig, url))
	})

	t.Run("different key", func(t *testing.T) {
		other := NewVerifier("test-signature-kez")
		assert.False(t, other.Verify(payload, sig, url))
	})

	t.Run("different URL", func(t *testing.T) {
		assert.False(t, v.Verify(payload, sig, "https://api.example.com/webhooks/other"))
	})
}

func TestVerify_MalformedHex(t *testing.T) {
	v := NewVerifier("test-signature-key")
	payload := []byte(`{}`)

	tests := []struct {
		name string
		sig  string
	}{
		{"not hex", "zzzz"},
		{"odd length", "abc"},
		{"whitespace", "ab cd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Must return false, never panic.
			assert.False(t, v.Verify(payload, tt.sig, "https://example.com"))
		})
	}
}

func TestVerify_EmptySignatureNeverMatches(t *testing.T) {
	v := NewVerifier("key")
	// Empty hex decodes cleanly to zero bytes; the digest comparison still
	// has to reject it.
	assert.False(t, v.Verify([]byte("payload"), "", "https://example.com"))
}
