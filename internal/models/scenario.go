package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScenarioRule identifies one of the five fixed cross-exchange funding-rate
// classification rules. Rule identity is stable for the process lifetime and
// is used as a dedup/priority key.
type ScenarioRule string

const (
	RuleOppositeSign          ScenarioRule = "opposite_sign"
	RuleSameSignSpread        ScenarioRule = "same_sign_spread"
	RulePriceGap              ScenarioRule = "price_gap"
	RuleTimingDesync          ScenarioRule = "timing_desync"
	RuleSameDirectionHighRate ScenarioRule = "same_direction_high_rate"
)

// AllRules lists every scenario rule in priority order.
func AllRules() []ScenarioRule {
	return []ScenarioRule{
		RuleOppositeSign,
		RuleSameSignSpread,
		RulePriceGap,
		RuleTimingDesync,
		RuleSameDirectionHighRate,
	}
}

// RiskLevel categorizes how risky a scenario rule is considered.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// LegMode describes how the two legs of an opportunity are oriented.
type LegMode string

const (
	// LegModeLongShort is the usual hedge: long on one exchange, short on the other.
	LegModeLongShort LegMode = "long_short"
	// LegModeLongBoth and LegModeShortBoth apply to same-direction high-rate
	// opportunities where both legs point the same way.
	LegModeLongBoth  LegMode = "long_both"
	LegModeShortBoth LegMode = "short_both"
)

// RuleConfig carries the tunable parameters of one scenario rule. A RuleSet is
// built once at startup and treated as immutable afterwards.
type RuleConfig struct {
	Rule               ScenarioRule    `json:"rule"`
	MinProfitThreshold decimal.Decimal `json:"min_profit_threshold"`
	RiskLevel          RiskLevel       `json:"risk_level"`
}

// RuleSet is the immutable collection of scenario rules fed to the classifier.
type RuleSet []RuleConfig

// DefaultRuleSet returns the production rule set: exactly five rules with
// their default admission thresholds.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		{Rule: RuleOppositeSign, MinProfitThreshold: decimal.NewFromFloat(0.001), RiskLevel: RiskLow},
		{Rule: RuleSameSignSpread, MinProfitThreshold: decimal.NewFromFloat(0.0015), RiskLevel: RiskMedium},
		{Rule: RulePriceGap, MinProfitThreshold: decimal.NewFromFloat(0.002), RiskLevel: RiskMedium},
		{Rule: RuleTimingDesync, MinProfitThreshold: decimal.NewFromFloat(0.002), RiskLevel: RiskHigh},
		{Rule: RuleSameDirectionHighRate, MinProfitThreshold: decimal.NewFromFloat(0.0025), RiskLevel: RiskHigh},
	}
}

// Opportunity is a scored, symbol-scoped arbitrage candidate produced by one
// scenario rule in one scan cycle. At most one Opportunity per symbol survives
// ranking; a selected Opportunity is promoted to an ExecutionTask, all others
// are discarded with the cycle.
type Opportunity struct {
	Symbol               string          `json:"symbol"`
	Rule                 ScenarioRule    `json:"rule"`
	LegMode              LegMode         `json:"leg_mode"`
	LongExchange         string          `json:"long_exchange"`
	ShortExchange        string          `json:"short_exchange"`
	LongFundingRate      decimal.Decimal `json:"long_funding_rate"`
	ShortFundingRate     decimal.Decimal `json:"short_funding_rate"`
	ExpectedProfit       decimal.Decimal `json:"expected_profit"`
	WeightedProfit       decimal.Decimal `json:"weighted_profit"`
	LongNextFundingTime  time.Time       `json:"long_next_funding_time"`
	ShortNextFundingTime time.Time       `json:"short_next_funding_time"`
	DiscoveredAt         time.Time       `json:"discovered_at"`
}

// FundingDeadline returns the earlier of the two legs' next funding times,
// which is the moment the execution window is aligned to.
func (o Opportunity) FundingDeadline() time.Time {
	if o.ShortNextFundingTime.Before(o.LongNextFundingTime) {
		return o.ShortNextFundingTime
	}
	return o.LongNextFundingTime
}
