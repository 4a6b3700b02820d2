package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fluxquant/fundarb/internal/models"
)

// SameSymbolCorrelation is the correlation assumed between two positions on
// the same symbol: effectively the same exposure.
var SameSymbolCorrelation = decimal.NewFromFloat(0.8)

// dailyVolatility and varConfidenceZ parameterize the VaR estimate on the
// monitoring read path (95% one-day, parametric).
var (
	dailyVolatility = decimal.NewFromFloat(0.02)
	varConfidenceZ  = decimal.NewFromFloat(1.65)
)

// RiskGate validates candidates against portfolio limits before execution.
// It is a pure decision over a state snapshot: all applicable checks run and
// every failing reason is collected, no short-circuiting.
type RiskGate struct {
	logger *logrus.Logger
}

// NewRiskGate creates a risk gate.
func NewRiskGate(logger *logrus.Logger) *RiskGate {
	return &RiskGate{logger: logger}
}

// Admit decides whether a candidate of the given notional size may proceed.
func (g *RiskGate) Admit(opp models.Opportunity, size decimal.Decimal, state models.PortfolioState, limits models.RiskLimits) models.RiskAssessment {
	var reasons []string

	// Size boundary: equal to the limit is allowed.
	if size.GreaterThan(limits.MaxPositionSize) {
		reasons = append(reasons, fmt.Sprintf("position size %s exceeds limit %s", size, limits.MaxPositionSize))
	}

	if state.OpenPositions >= limits.MaxOpenPositions {
		reasons = append(reasons, fmt.Sprintf("open positions %d at limit %d", state.OpenPositions, limits.MaxOpenPositions))
	}

	if state.PortfolioValue.IsPositive() {
		share := size.Div(state.PortfolioValue)
		if share.GreaterThan(limits.MaxPortfolioRisk) {
			reasons = append(reasons, fmt.Sprintf("portfolio share %s exceeds limit %s", share, limits.MaxPortfolioRisk))
		}
	}

	for _, position := range state.Positions {
		if position.Symbol == opp.Symbol {
			if SameSymbolCorrelation.GreaterThan(limits.CorrelationLimit) {
				reasons = append(reasons, fmt.Sprintf("correlation %s with open %s position exceeds limit %s",
					SameSymbolCorrelation, position.Symbol, limits.CorrelationLimit))
			}
			break
		}
	}

	if len(reasons) > 0 {
		g.logger.WithFields(logrus.Fields{
			"symbol":  opp.Symbol,
			"rule":    opp.Rule,
			"size":    size.String(),
			"reasons": reasons,
		}).Info("Risk gate rejected candidate")
		return models.RiskAssessment{Allowed: false, Reasons: reasons}
	}
	return models.RiskAssessment{Allowed: true}
}

// Metrics computes the portfolio risk summary for the monitoring read path.
// It mirrors the gate's view of exposure but never gates admission.
func (g *RiskGate) Metrics(state models.PortfolioState) models.RiskMetrics {
	gross := decimal.Zero
	largest := decimal.Zero
	for _, position := range state.Positions {
		gross = gross.Add(position.Size)
		if position.Size.GreaterThan(largest) {
			largest = position.Size
		}
	}

	utilization := decimal.Zero
	if state.PortfolioValue.IsPositive() {
		utilization = gross.Div(state.PortfolioValue)
	}

	return models.RiskMetrics{
		GrossExposure:   gross,
		LargestPosition: largest,
		Utilization:     utilization,
		ValueAtRisk:     gross.Mul(dailyVolatility).Mul(varConfidenceZ),
		OpenPositions:   state.OpenPositions,
		ComputedAt:      time.Now(),
	}
}
