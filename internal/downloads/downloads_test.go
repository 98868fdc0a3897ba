package downloads_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle-service/internal/downloads"
	"raffle-service/internal/ledger/store"
)

func newTestLimiter(maxRedeems int, ttl time.Duration, now time.Time) *downloads.Limiter {
	l := downloads.NewLimiter(store.NewMemory(), maxRedeems, ttl)
	l.Now = func() time.Time { return now }
	return l
}

func TestIssueAndRedeem(t *testing.T) {
	now := time.Date(2025, 10, 5, 10, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(3, 48*time.Hour, now)
	ctx := context.Background()

	token, err := limiter.Issue(ctx, "RaffleTicket_GWS-123456.pdf", "application/pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	grant, err := limiter.Redeem(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "RaffleTicket_GWS-123456.pdf", grant.FileName)
	assert.Equal(t, "application/pdf", grant.ContentType)
	assert.Equal(t, 2, grant.RedeemsLeft)
}

func TestRedeemExhaustsLimit(t *testing.T) {
	now := time.Date(2025, 10, 5, 10, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(2, 48*time.Hour, now)
	ctx := context.Background()

	token, err := limiter.Issue(ctx, "bundle.zip", "application/zip")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := limiter.Redeem(ctx, token)
		require.NoError(t, err, "redeem %d within limit", i+1)
	}

	_, err = limiter.Redeem(ctx, token)
	assert.ErrorIs(t, err, downloads.ErrLimitReached)
}

func TestRedeemUnknownToken(t *testing.T) {
	now := time.Date(2025, 10, 5, 10, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(3, 48*time.Hour, now)

	_, err := limiter.Redeem(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, downloads.ErrTokenNotFound)
}

func TestRedeemExpiredToken(t *testing.T) {
	issuedAt := time.Date(2025, 10, 5, 10, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(3, time.Hour, issuedAt)
	ctx := context.Background()

	token, err := limiter.Issue(ctx, "bundle.zip", "application/zip")
	require.NoError(t, err)

	limiter.Now = func() time.Time { return issuedAt.Add(2 * time.Hour) }

	_, err = limiter.Redeem(ctx, token)
	assert.ErrorIs(t, err, downloads.ErrTokenExpired)
}

func TestTokensAreIndependent(t *testing.T) {
	now := time.Date(2025, 10, 5, 10, 0, 0, 0, time.UTC)
	limiter := newTestLimiter(1, 48*time.Hour, now)
	ctx := context.Background()

	first, err := limiter.Issue(ctx, "a.pdf", "application/pdf")
	require.NoError(t, err)
	second, err := limiter.Issue(ctx, "b.pdf", "application/pdf")
	require.NoError(t, err)

	_, err = limiter.Redeem(ctx, first)
	require.NoError(t, err)
	_, err = limiter.Redeem(ctx, first)
	assert.ErrorIs(t, err, downloads.ErrLimitReached)

	grant, err := limiter.Redeem(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "b.pdf", grant.FileName)
}
