package providers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// verifySignature checks an HMAC-SHA256 hex digest of the payload against the
// signature header. Comparison is constant time; a missing secret always fails
// closed. Headers of the form "sha256=<hex>" are accepted alongside bare hex.
func verifySignature(secret string, payload []byte, signatureHeader string) bool {
	if secret == "" {
		return false
	}
	provided := strings.TrimSpace(signatureHeader)
	provided = strings.TrimPrefix(provided, "sha256=")
	if provided == "" {
		return false
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(decoded, mac.Sum(nil))
}

// signPayload produces the hex digest adapters expect in webhook headers.
// Exposed for tests and local provider simulators.
func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
