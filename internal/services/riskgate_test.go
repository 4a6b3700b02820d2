package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxquant/fundarb/internal/models"
)

func testPortfolio(value int64, positions ...models.Position) models.PortfolioState {
	return models.PortfolioState{
		PortfolioValue: decimal.NewFromInt(value),
		OpenPositions:  len(positions),
		Positions:      positions,
	}
}

func TestAdmit_AllClear(t *testing.T) {
	gate := NewRiskGate(quietLogger())

	assessment := gate.Admit(
		models.Opportunity{Symbol: "BTCUSDT", Rule: models.RuleOppositeSign},
		decimal.NewFromInt(3000),
		testPortfolio(100000),
		models.DefaultRiskLimits(),
	)

	assert.True(t, assessment.Allowed)
	assert.Empty(t, assessment.Reasons)
}

func TestAdmit_SizeAtLimitAllowed(t *testing.T) {
	gate := NewRiskGate(quietLogger())
	limits := models.DefaultRiskLimits()

	assessment := gate.Admit(
		models.Opportunity{Symbol: "BTCUSDT"},
		limits.MaxPositionSize,
		testPortfolio(1000000),
		limits,
	)

	assert.True(t, assessment.Allowed)
}

func TestAdmit_SizeOverLimitRejected(t *testing.T) {
	gate := NewRiskGate(quietLogger())
	limits := models.DefaultRiskLimits()

	assessment := gate.Admit(
		models.Opportunity{Symbol: "BTCUSDT"},
		limits.MaxPositionSize.Add(decimal.NewFromInt(1)),
		testPortfolio(1000000),
		limits,
	)

	require.False(t, assessment.Allowed)
	assert.Contains(t, assessment.Reasons[0], "position size")
}

func TestAdmit_OpenPositionsAtLimitRejected(t *testing.T) {
	gate := NewRiskGate(quietLogger())
	limits := models.DefaultRiskLimits()
	limits.MaxOpenPositions = 1

	assessment := gate.Admit(
		models.Opportunity{Symbol: "BTCUSDT"},
		decimal.NewFromInt(1000),
		testPortfolio(100000, models.Position{Symbol: "ETHUSDT", Size: decimal.NewFromInt(3000)}),
		limits,
	)

	require.False(t, assessment.Allowed)
	assert.Contains(t, assessment.Reasons[0], "open positions")
}

func TestAdmit_PortfolioShareRejected(t *testing.T) {
	gate := NewRiskGate(quietLogger())
	limits := models.DefaultRiskLimits()

	// 5000 of 10000 is a 50% share against a 20% cap.
	assessment := gate.Admit(
		models.Opportunity{Symbol: "BTCUSDT"},
		decimal.NewFromInt(5000),
		testPortfolio(10000),
		limits,
	)

	require.False(t, assessment.Allowed)
	assert.Contains(t, assessment.Reasons[0], "portfolio share")
}

func TestAdmit_SameSymbolCorrelationRejected(t *testing.T) {
	gate := NewRiskGate(quietLogger())

	assessment := gate.Admit(
		models.Opportunity{Symbol: "BTCUSDT"},
		decimal.NewFromInt(1000),
		testPortfolio(100000, models.Position{Symbol: "BTCUSDT", Size: decimal.NewFromInt(3000)}),
		models.DefaultRiskLimits(),
	)

	require.False(t, assessment.Allowed)
	assert.Contains(t, assessment.Reasons[0], "correlation")
}

func TestAdmit_CollectsAllReasons(t *testing.T) {
	gate := NewRiskGate(quietLogger())
	limits := models.DefaultRiskLimits()
	limits.MaxOpenPositions = 1

	assessment := gate.Admit(
		models.Opportunity{Symbol: "BTCUSDT"},
		decimal.NewFromInt(50000),
		testPortfolio(10000, models.Position{Symbol: "BTCUSDT", Size: decimal.NewFromInt(3000)}),
		limits,
	)

	require.False(t, assessment.Allowed)
	// Size, open positions, portfolio share, and correlation all fail.
	assert.Len(t, assessment.Reasons, 4)
}

func TestAdmit_ZeroPortfolioValueSkipsShareCheck(t *testing.T) {
	gate := NewRiskGate(quietLogger())

	assessment := gate.Admit(
		models.Opportunity{Symbol: "BTCUSDT"},
		decimal.NewFromInt(1000),
		testPortfolio(0),
		models.DefaultRiskLimits(),
	)

	assert.True(t, assessment.Allowed)
}

func TestMetrics(t *testing.T) {
	gate := NewRiskGate(quietLogger())

	metrics := gate.Metrics(testPortfolio(100000,
		models.Position{Symbol: "BTCUSDT", Size: decimal.NewFromInt(3000)},
		models.Position{Symbol: "ETHUSDT", Size: decimal.NewFromInt(7000)},
	))

	assert.True(t, metrics.GrossExposure.Equal(decimal.NewFromInt(10000)))
	assert.True(t, metrics.LargestPosition.Equal(decimal.NewFromInt(7000)))
	assert.True(t, metrics.Utilization.Equal(decimal.NewFromFloat(0.1)))
	// Parametric one-day VaR at 95%: 10000 * 0.02 * 1.65.
	assert.True(t, metrics.ValueAtRisk.Equal(decimal.NewFromInt(330)))
	assert.Equal(t, 2, metrics.OpenPositions)
	assert.False(t, metrics.ComputedAt.IsZero())
}

func TestMetrics_EmptyPortfolio(t *testing.T) {
	gate := NewRiskGate(quietLogger())

	metrics := gate.Metrics(testPortfolio(100000))
	assert.True(t, metrics.GrossExposure.IsZero())
	assert.True(t, metrics.ValueAtRisk.IsZero())
	assert.Equal(t, 0, metrics.OpenPositions)
}
