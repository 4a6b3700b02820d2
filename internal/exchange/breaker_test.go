package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func failing(ctx context.Context) error { return assert.AnError }
func succeeding(ctx context.Context) error { return nil }

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	breaker := NewBreaker("binance", BreakerConfig{FailureThreshold: 3}, quietLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, breaker.Execute(ctx, failing), assert.AnError)
	}
	assert.Equal(t, BreakerOpen, breaker.State())

	// Further calls are short-circuited.
	err := breaker.Execute(ctx, succeeding)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	breaker := NewBreaker("binance", BreakerConfig{FailureThreshold: 3}, quietLogger())
	ctx := context.Background()

	require.Error(t, breaker.Execute(ctx, failing))
	require.Error(t, breaker.Execute(ctx, failing))
	require.NoError(t, breaker.Execute(ctx, succeeding))
	require.Error(t, breaker.Execute(ctx, failing))
	require.Error(t, breaker.Execute(ctx, failing))

	assert.Equal(t, BreakerClosed, breaker.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	breaker := NewBreaker("binance", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	}, quietLogger())
	ctx := context.Background()

	require.Error(t, breaker.Execute(ctx, failing))
	require.Equal(t, BreakerOpen, breaker.State())

	time.Sleep(30 * time.Millisecond)

	// First probe moves to half-open; two successes close it.
	require.NoError(t, breaker.Execute(ctx, succeeding))
	assert.Equal(t, BreakerHalfOpen, breaker.State())
	require.NoError(t, breaker.Execute(ctx, succeeding))
	assert.Equal(t, BreakerClosed, breaker.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	breaker := NewBreaker("binance", BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	}, quietLogger())
	ctx := context.Background()

	require.Error(t, breaker.Execute(ctx, failing))
	time.Sleep(30 * time.Millisecond)

	require.Error(t, breaker.Execute(ctx, failing))
	assert.Equal(t, BreakerOpen, breaker.State())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half_open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(99).String())
}
