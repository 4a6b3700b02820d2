package services

import (
	"github.com/shopspring/decimal"

	"github.com/fluxquant/fundarb/internal/models"
)

// Per-rule risk discount factors applied on top of the raw profit formula.
var ruleDiscounts = map[models.ScenarioRule]decimal.Decimal{
	models.RuleOppositeSign:          decimal.NewFromFloat(0.95),
	models.RuleSameSignSpread:        decimal.NewFromFloat(0.85),
	models.RulePriceGap:              decimal.NewFromFloat(0.75),
	models.RuleTimingDesync:          decimal.NewFromFloat(0.60),
	models.RuleSameDirectionHighRate: decimal.NewFromFloat(0.80),
}

var two = decimal.NewFromInt(2)

// ProfitEstimator computes expected and risk-weighted profit per scenario
// rule. It is a pure, deterministic calculator: no I/O and no shared state, so
// it can be unit-tested against literal rate pairs.
type ProfitEstimator struct{}

// NewProfitEstimator creates a profit estimator.
func NewProfitEstimator() *ProfitEstimator {
	return &ProfitEstimator{}
}

// RawProfit evaluates a rule's profit formula over a pair of funding rates.
// The result is symmetric under swapping the two exchanges; only the long and
// short labels change. Mark prices are only consulted by the price-gap rule.
func (e *ProfitEstimator) RawProfit(rule models.ScenarioRule, rateA, rateB decimal.Decimal, priceA, priceB *decimal.Decimal) decimal.Decimal {
	switch rule {
	case models.RuleOppositeSign:
		// Both legs receive funding.
		return rateA.Abs().Add(rateB.Abs())

	case models.RuleSameSignSpread, models.RuleSameDirectionHighRate:
		return rateA.Sub(rateB).Abs()

	case models.RulePriceGap:
		if priceA == nil || priceB == nil || !priceA.IsPositive() || !priceB.IsPositive() {
			return decimal.Zero
		}
		base := *priceA
		if priceB.LessThan(base) {
			base = *priceB
		}
		gap := priceA.Sub(*priceB).Abs().Div(base)
		avgFundingCost := rateA.Abs().Add(rateB.Abs()).Div(two)
		return gap.Sub(avgFundingCost)

	case models.RuleTimingDesync:
		if oppositeSign(rateA, rateB) {
			return rateA.Abs().Add(rateB.Abs())
		}
		// Same-sign desync takes half the spread as a timing-risk discount.
		return rateA.Sub(rateB).Abs().Div(two)

	default:
		return decimal.Zero
	}
}

// WeightedProfit applies the rule's fixed risk discount and the caller's
// confidence (default 1.0) on top of the raw formula.
func (e *ProfitEstimator) WeightedProfit(rule models.ScenarioRule, rateA, rateB, confidence decimal.Decimal, priceA, priceB *decimal.Decimal) decimal.Decimal {
	if confidence.IsZero() {
		confidence = decimal.NewFromInt(1)
	}
	discount, ok := ruleDiscounts[rule]
	if !ok {
		return decimal.Zero
	}
	return e.RawProfit(rule, rateA, rateB, priceA, priceB).Mul(discount).Mul(confidence)
}

func oppositeSign(a, b decimal.Decimal) bool {
	return a.Sign()*b.Sign() < 0
}

func sameSign(a, b decimal.Decimal) bool {
	return a.Sign() != 0 && a.Sign() == b.Sign()
}
