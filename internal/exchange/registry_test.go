package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxquant/fundarb/internal/models"
)

func seededPaper(name, symbol string, rate float64) *PaperExchange {
	p := NewPaperExchange(name, decimal.NewFromInt(100000))
	p.SetFunding(models.FundingObservation{
		Symbol:          symbol,
		FundingRate:     decimal.NewFromFloat(rate),
		NextFundingTime: time.Now().Add(time.Hour),
		ObservedAt:      time.Now(),
	})
	return p
}

func TestRegistry_FundingSnapshots(t *testing.T) {
	binance := seededPaper("binance", "BTCUSDT", -0.004)
	bybit := seededPaper("bybit", "BTCUSDT", 0.003)
	registry := NewRegistry([]Port{binance, bybit}, BreakerConfig{}, time.Second, quietLogger())

	snapshots, failures := registry.FundingSnapshots(context.Background(), []string{"BTCUSDT"})

	assert.Empty(t, failures)
	require.Len(t, snapshots, 2)
	require.Len(t, snapshots["binance"], 1)
	assert.Equal(t, "binance", snapshots["binance"][0].Exchange)
	assert.True(t, snapshots["binance"][0].FundingRate.Equal(decimal.NewFromFloat(-0.004)))
}

func TestRegistry_FailureIsolation(t *testing.T) {
	binance := seededPaper("binance", "BTCUSDT", -0.004)
	bybit := seededPaper("bybit", "BTCUSDT", 0.003)
	bybit.FailSnapshots = assert.AnError
	registry := NewRegistry([]Port{binance, bybit}, BreakerConfig{}, time.Second, quietLogger())

	snapshots, failures := registry.FundingSnapshots(context.Background(), []string{"BTCUSDT"})

	// The healthy venue still answers.
	require.Len(t, snapshots, 1)
	assert.Contains(t, snapshots, "binance")

	require.Len(t, failures, 1)
	assert.Equal(t, "bybit", failures[0].Exchange)
	assert.ErrorIs(t, failures[0], assert.AnError)
}

func TestRegistry_BreakerOpensOnRepeatedFailures(t *testing.T) {
	bybit := seededPaper("bybit", "BTCUSDT", 0.003)
	bybit.FailSnapshots = assert.AnError
	registry := NewRegistry([]Port{bybit}, BreakerConfig{FailureThreshold: 2}, time.Second, quietLogger())

	ctx := context.Background()
	registry.FundingSnapshots(ctx, nil)
	registry.FundingSnapshots(ctx, nil)

	// Third fetch is short-circuited by the open breaker.
	_, failures := registry.FundingSnapshots(ctx, nil)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrBreakerOpen)
	assert.Equal(t, "open", registry.BreakerStates()["bybit"])
}

func TestRegistry_NamesSorted(t *testing.T) {
	registry := NewRegistry([]Port{
		NewPaperExchange("okx", decimal.Zero),
		NewPaperExchange("binance", decimal.Zero),
		NewPaperExchange("bybit", decimal.Zero),
	}, BreakerConfig{}, time.Second, quietLogger())

	assert.Equal(t, []string{"binance", "bybit", "okx"}, registry.Names())
}

func TestRegistry_PortLookup(t *testing.T) {
	binance := NewPaperExchange("binance", decimal.Zero)
	registry := NewRegistry([]Port{binance}, BreakerConfig{}, time.Second, quietLogger())

	port, ok := registry.Port("binance")
	require.True(t, ok)
	assert.Equal(t, "binance", port.Name())

	_, ok = registry.Port("kraken")
	assert.False(t, ok)
}

func TestRegistry_DisplayName(t *testing.T) {
	registry := NewRegistry(nil, BreakerConfig{}, time.Second, quietLogger())
	assert.Equal(t, "Binance", registry.DisplayName("binance"))
}

func TestCollectorFailure_Error(t *testing.T) {
	failure := &CollectorFailure{Exchange: "bybit", Err: assert.AnError}
	assert.Contains(t, failure.Error(), "bybit")
	assert.ErrorIs(t, failure, assert.AnError)
}
