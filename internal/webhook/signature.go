package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerkit/bank-sync/internal/adapter"
)

var (
	// ErrInvalidSignature is returned when the signature does not match the body
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedSignature is returned when the signature header is not in
	// the expected "sha256=<hex>" form
	ErrMalformedSignature = errors.New("malformed webhook signature")
)

const signaturePrefix = "sha256="

// Sign computes the signature header value for a webhook body.
// The body is canonicalized (RFC 8785) before hashing so that key ordering
// and whitespace differences between sender and receiver do not matter.
// Format: "sha256=<hex HMAC-SHA256>".
func Sign(secret string, body []byte, canonicalizer adapter.JCS) (string, error) {
	canonical, err := canonicalizer.Transform(body)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(canonical)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks a webhook signature header against the raw request body.
// Comparison is constant-time.
func Verify(secret string, signature string, body []byte, canonicalizer adapter.JCS) error {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return ErrMalformedSignature
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil {
		return ErrMalformedSignature
	}

	canonical, err := canonicalizer.Transform(body)
	if err != nil {
		return fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(canonical)
	expected := h.Sum(nil)

	if !hmac.Equal(provided, expected) {
		return ErrInvalidSignature
	}
	return nil
}
