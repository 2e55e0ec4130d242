package rest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/golang/mock/gomock"

	"github.com/ledgerkit/bank-sync/internal/mocks"
)

func newStateSigner(t *testing.T, now time.Time, ttl time.Duration) *StateSigner {
	t.Helper()

	ctrl := gomock.NewController(t)
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(now).AnyTimes()

	return NewStateSigner("state-secret", ttl, clock)
}

func TestStateSignerRoundTrip(t *testing.T) {
	signer := newStateSigner(t, time.Now(), 15*time.Minute)

	state := signer.Sign("tenant-1")
	tenantID, err := signer.Verify(state)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)
}

func TestStateSignerUniquePerCall(t *testing.T) {
	signer := newStateSigner(t, time.Now(), 15*time.Minute)

	assert.NotEqual(t, signer.Sign("tenant-1"), signer.Sign("tenant-1"))
}

func TestStateSignerRejectsTamperedPayload(t *testing.T) {
	signer := newStateSigner(t, time.Now(), 15*time.Minute)

	state := signer.Sign("tenant-1")
	payload, sig, ok := strings.Cut(state, ".")
	require.True(t, ok)

	other := newStateSigner(t, time.Now(), 15*time.Minute)
	forged := strings.SplitN(other.Sign("tenant-2"), ".", 2)[0]

	_, err := signer.Verify(forged + "." + sig)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = signer.Verify(payload)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSignerRejectsWrongSecret(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(time.Now()).AnyTimes()

	signer := NewStateSigner("state-secret", 15*time.Minute, clock)
	other := NewStateSigner("different-secret", 15*time.Minute, clock)

	_, err := other.Verify(signer.Sign("tenant-1"))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStateSignerExpiry(t *testing.T) {
	ctrl := gomock.NewController(t)
	clock := mocks.NewMockClock(ctrl)

	now := time.Now()
	first := clock.EXPECT().Now().Return(now)
	clock.EXPECT().Now().Return(now.Add(16 * time.Minute)).After(first)

	signer := NewStateSigner("state-secret", 15*time.Minute, clock)
	state := signer.Sign("tenant-1")

	_, err := signer.Verify(state)
	assert.ErrorIs(t, err, ErrStateExpired)
}
