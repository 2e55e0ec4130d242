package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ledgerkit/bank-sync/internal/adapter"
)

var (
	// ErrInvalidState is returned when a callback state fails verification
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrStateExpired is returned when a callback state is too old
	ErrStateExpired = errors.New("oauth state expired")
)

// StateSigner issues and verifies the OAuth state round-tripped through the
// provider's authorization redirect. The state carries the tenant id so the
// callback knows who the connection belongs to, and an HMAC so it cannot be
// forged or replayed for another tenant.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	clock  adapter.Clock
}

// NewStateSigner creates a state signer
func NewStateSigner(secret string, ttl time.Duration, clock adapter.Clock) *StateSigner {
	return &StateSigner{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Sign issues a state value for a tenant
func (s *StateSigner) Sign(tenantID string) string {
	payload := fmt.Sprintf("%s|%d|%s", tenantID, s.clock.Now().Unix(), ulid.Make())
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + s.mac(encoded)
}

// Verify checks a callback state and returns the tenant id it was issued for
func (s *StateSigner) Verify(state string) (string, error) {
	encoded, mac, found := strings.Cut(state, ".")
	if !found {
		return "", ErrInvalidState
	}
	if !hmac.Equal([]byte(s.mac(encoded)), []byte(mac)) {
		return "", ErrInvalidState
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidState
	}
	parts := strings.Split(string(payload), "|")
	if len(parts) != 3 {
		return "", ErrInvalidState
	}

	issuedAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrInvalidState
	}
	if s.clock.Now().Sub(time.Unix(issuedAt, 0)) > s.ttl {
		return "", ErrStateExpired
	}

	return parts[0], nil
}

func (s *StateSigner) mac(encoded string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(encoded))
	return hex.EncodeToString(h.Sum(nil))
}
