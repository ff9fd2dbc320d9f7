// Package signature computes the keyed MAC that authenticates webhook
// payloads toward receiver endpoints.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign returns the hex HMAC-SHA256 of payload under secret. The payload must
// be the exact bytes sent on the wire; the receiver recomputes the MAC over
// the raw request body.
func Sign(payload []byte, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether signatureHex matches payload under secret using a
// constant-time comparison.
func Verify(payload []byte, secret, signatureHex string) bool {
	expected, err := Sign(payload, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signatureHex))
}
