package lock

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/alima/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerExclusive(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 4, 5, 9, 0, 0, 0, time.UTC))
	l := NewMemoryLocker(clk)
	ctx := context.Background()
	key := BillingKey(7, "03-2024")
	assert.Equal(t, "billing:7:03-2024", key)

	token, ok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, key, "someone-else"))
	_, ok, _ = l.TryLock(ctx, key, time.Minute)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, key, token))
	_, ok, _ = l.TryLock(ctx, key, time.Minute)
	assert.True(t, ok)
}

func TestMemoryLockerExpires(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 4, 5, 9, 0, 0, 0, time.UTC))
	l := NewMemoryLocker(clk)
	ctx := context.Background()

	_, ok, _ := l.TryLock(ctx, "k", time.Minute)
	require.True(t, ok)
	clk.Advance(61 * time.Second)
	_, ok, _ = l.TryLock(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestLockValidation(t *testing.T) {
	l := NewMemoryLocker(nil)
	_, _, err := l.TryLock(context.Background(), "", time.Minute)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, _, err = l.TryLock(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}
