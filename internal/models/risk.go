package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimits are the portfolio limits consulted by the risk gate. They are
// mutable only through UpdateLimits, which validates bounds at the boundary.
type RiskLimits struct {
	MaxLeverage      decimal.Decimal `json:"max_leverage"`
	MaxPositionSize  decimal.Decimal `json:"max_position_size"`
	MaxPortfolioRisk decimal.Decimal `json:"max_portfolio_risk"`
	MaxDailyLoss     decimal.Decimal `json:"max_daily_loss"`
	MaxOpenPositions int             `json:"max_open_positions"`
	CorrelationLimit decimal.Decimal `json:"correlation_limit"`
}

// DefaultRiskLimits returns conservative production defaults.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxLeverage:      decimal.NewFromInt(5),
		MaxPositionSize:  decimal.NewFromInt(10000),
		MaxPortfolioRisk: decimal.NewFromFloat(0.2),
		MaxDailyLoss:     decimal.NewFromInt(500),
		MaxOpenPositions: 3,
		CorrelationLimit: decimal.NewFromFloat(0.7),
	}
}

// RiskLimitsUpdate is a partial update: nil fields keep their current value.
type RiskLimitsUpdate struct {
	MaxLeverage      *decimal.Decimal `json:"max_leverage,omitempty"`
	MaxPositionSize  *decimal.Decimal `json:"max_position_size,omitempty"`
	MaxPortfolioRisk *decimal.Decimal `json:"max_portfolio_risk,omitempty"`
	MaxDailyLoss     *decimal.Decimal `json:"max_daily_loss,omitempty"`
	MaxOpenPositions *int             `json:"max_open_positions,omitempty"`
	CorrelationLimit *decimal.Decimal `json:"correlation_limit,omitempty"`
}

// Apply merges the update into the limits and validates the result.
func (u RiskLimitsUpdate) Apply(limits RiskLimits) (RiskLimits, error) {
	if u.MaxLeverage != nil {
		limits.MaxLeverage = *u.MaxLeverage
	}
	if u.MaxPositionSize != nil {
		limits.MaxPositionSize = *u.MaxPositionSize
	}
	if u.MaxPortfolioRisk != nil {
		limits.MaxPortfolioRisk = *u.MaxPortfolioRisk
	}
	if u.MaxDailyLoss != nil {
		limits.MaxDailyLoss = *u.MaxDailyLoss
	}
	if u.MaxOpenPositions != nil {
		limits.MaxOpenPositions = *u.MaxOpenPositions
	}
	if u.CorrelationLimit != nil {
		limits.CorrelationLimit = *u.CorrelationLimit
	}
	if err := limits.Validate(); err != nil {
		return RiskLimits{}, err
	}
	return limits, nil
}

// Validate checks that all limits remain within sane bounds.
func (l RiskLimits) Validate() error {
	if !l.MaxLeverage.IsPositive() || l.MaxLeverage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("max_leverage must be in (0, 100], got %s", l.MaxLeverage)
	}
	if !l.MaxPositionSize.IsPositive() {
		return fmt.Errorf("max_position_size must be positive, got %s", l.MaxPositionSize)
	}
	if !l.MaxPortfolioRisk.IsPositive() || l.MaxPortfolioRisk.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("max_portfolio_risk must be in (0, 1], got %s", l.MaxPortfolioRisk)
	}
	if l.MaxDailyLoss.IsNegative() {
		return fmt.Errorf("max_daily_loss must be non-negative, got %s", l.MaxDailyLoss)
	}
	if l.MaxOpenPositions < 1 {
		return fmt.Errorf("max_open_positions must be at least 1, got %d", l.MaxOpenPositions)
	}
	if l.CorrelationLimit.IsNegative() || l.CorrelationLimit.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("correlation_limit must be in [0, 1], got %s", l.CorrelationLimit)
	}
	return nil
}

// PortfolioState is a point-in-time snapshot of exposure handed to the risk
// gate alongside a candidate.
type PortfolioState struct {
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	OpenPositions  int             `json:"open_positions"`
	Positions      []Position      `json:"positions"`
}

// RiskAssessment is the risk gate's verdict. All applicable checks run; every
// failing reason is collected rather than short-circuiting on the first.
type RiskAssessment struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons,omitempty"`
}

// RiskMetrics is the read-path portfolio risk summary. It feeds monitoring and
// alerting; it does not gate admission.
type RiskMetrics struct {
	GrossExposure   decimal.Decimal `json:"gross_exposure"`
	LargestPosition decimal.Decimal `json:"largest_position"`
	Utilization     decimal.Decimal `json:"utilization"`
	ValueAtRisk     decimal.Decimal `json:"value_at_risk"`
	OpenPositions   int             `json:"open_positions"`
	ComputedAt      time.Time       `json:"computed_at"`
}
