package services

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fluxquant/fundarb/internal/models"
)

// ClassifierConfig carries the classifier's tunables beyond the rule set.
type ClassifierConfig struct {
	// PriceGapMin is the minimum mark-price divergence fraction for the
	// price-gap rule.
	PriceGapMin decimal.Decimal
	// DesyncWindow is the maximum settlement-time distance for the
	// timing-desync rule.
	DesyncWindow time.Duration
	// HighRateFloor is the magnitude both rates must exceed for the
	// same-direction high-rate rule.
	HighRateFloor decimal.Decimal
	// Confidence scales weighted profit; zero means 1.0.
	Confidence decimal.Decimal
}

// Classifier maps pairs of funding-rate observations (same symbol, two
// exchanges) to candidate opportunities under five fixed scenario rules. It is
// a pure computation over the cycle's snapshot: the rule set is immutable
// after construction and classification has no side effects beyond counters.
type Classifier struct {
	rules     models.RuleSet
	estimator *ProfitEstimator
	cfg       ClassifierConfig
	logger    *logrus.Logger

	// priceGapSkips counts pairs the price-gap rule declined because a mark
	// price was unavailable: a declared no-op, not a silent one.
	priceGapSkips atomic.Uint64
}

// NewClassifier creates a classifier over an immutable rule set. Alternate
// rule sets can be injected for deterministic testing.
func NewClassifier(rules models.RuleSet, estimator *ProfitEstimator, cfg ClassifierConfig, logger *logrus.Logger) *Classifier {
	if cfg.PriceGapMin.IsZero() {
		cfg.PriceGapMin = decimal.NewFromFloat(0.005)
	}
	if cfg.DesyncWindow <= 0 {
		cfg.DesyncWindow = 30 * time.Minute
	}
	if cfg.HighRateFloor.IsZero() {
		cfg.HighRateFloor = decimal.NewFromFloat(0.0005)
	}
	return &Classifier{
		rules:     rules,
		estimator: estimator,
		cfg:       cfg,
		logger:    logger,
	}
}

// PriceGapSkips returns how many pairs the price-gap rule skipped for missing
// mark prices.
func (c *Classifier) PriceGapSkips() uint64 {
	return c.priceGapSkips.Load()
}

// Classify produces the raw candidates for one cycle: for every symbol common
// to at least two exchanges, every exchange pair is evaluated under every
// rule. A symbol may yield zero to N candidates; each rule independently
// admits via expectedProfit >= minProfitThreshold.
func (c *Classifier) Classify(snapshots map[string][]models.FundingObservation) []models.Opportunity {
	bySymbol := groupBySymbol(snapshots)

	var candidates []models.Opportunity
	for symbol, observations := range bySymbol {
		if len(observations) < 2 {
			continue
		}
		for i := 0; i < len(observations); i++ {
			for j := i + 1; j < len(observations); j++ {
				candidates = append(candidates, c.classifyPair(symbol, observations[i], observations[j])...)
			}
		}
	}
	return candidates
}

// classifyPair applies all five rules to one exchange pair.
func (c *Classifier) classifyPair(symbol string, a, b models.FundingObservation) []models.Opportunity {
	var out []models.Opportunity
	for _, rule := range c.rules {
		opp, ok := c.apply(rule, symbol, a, b)
		if !ok {
			continue
		}
		if opp.ExpectedProfit.LessThan(rule.MinProfitThreshold) {
			continue
		}
		out = append(out, opp)
	}
	return out
}

func (c *Classifier) apply(rule models.RuleConfig, symbol string, a, b models.FundingObservation) (models.Opportunity, bool) {
	var (
		long, short models.FundingObservation
		legMode     = models.LegModeLongShort
		matched     bool
	)

	switch rule.Rule {
	case models.RuleOppositeSign:
		if !oppositeSign(a.FundingRate, b.FundingRate) {
			return models.Opportunity{}, false
		}
		// Long the negative-rate leg, short the positive: both receive funding.
		long, short = a, b
		if a.FundingRate.IsPositive() {
			long, short = b, a
		}
		matched = true

	case models.RuleSameSignSpread:
		if !sameSign(a.FundingRate, b.FundingRate) || a.FundingRate.Equal(b.FundingRate) {
			return models.Opportunity{}, false
		}
		long, short = lowerRateFirst(a, b)
		matched = true

	case models.RulePriceGap:
		if !sameSign(a.FundingRate, b.FundingRate) {
			return models.Opportunity{}, false
		}
		if !a.HasMarkPrice() || !b.HasMarkPrice() {
			c.priceGapSkips.Add(1)
			return models.Opportunity{}, false
		}
		gap := a.MarkPrice.Sub(*b.MarkPrice).Abs().Div(decimal.Min(*a.MarkPrice, *b.MarkPrice))
		if gap.LessThan(c.cfg.PriceGapMin) {
			return models.Opportunity{}, false
		}
		// Long the cheaper venue, short the pricier one.
		long, short = a, b
		if a.MarkPrice.GreaterThan(*b.MarkPrice) {
			long, short = b, a
		}
		matched = true

	case models.RuleTimingDesync:
		delta := a.NextFundingTime.Sub(b.NextFundingTime)
		if delta < 0 {
			delta = -delta
		}
		if delta == 0 || delta >= c.cfg.DesyncWindow {
			return models.Opportunity{}, false
		}
		if oppositeSign(a.FundingRate, b.FundingRate) {
			long, short = a, b
			if a.FundingRate.IsPositive() {
				long, short = b, a
			}
		} else if sameSign(a.FundingRate, b.FundingRate) {
			long, short = lowerRateFirst(a, b)
		} else {
			return models.Opportunity{}, false
		}
		matched = true

	case models.RuleSameDirectionHighRate:
		if !sameSign(a.FundingRate, b.FundingRate) {
			return models.Opportunity{}, false
		}
		if a.FundingRate.Abs().LessThan(c.cfg.HighRateFloor) || b.FundingRate.Abs().LessThan(c.cfg.HighRateFloor) {
			return models.Opportunity{}, false
		}
		long, short = lowerRateFirst(a, b)
		if a.FundingRate.IsNegative() {
			legMode = models.LegModeLongBoth
		} else {
			legMode = models.LegModeShortBoth
		}
		matched = true
	}

	if !matched {
		return models.Opportunity{}, false
	}

	expected := c.estimator.RawProfit(rule.Rule, a.FundingRate, b.FundingRate, a.MarkPrice, b.MarkPrice)
	weighted := c.estimator.WeightedProfit(rule.Rule, a.FundingRate, b.FundingRate, c.cfg.Confidence, a.MarkPrice, b.MarkPrice)

	return models.Opportunity{
		Symbol:               symbol,
		Rule:                 rule.Rule,
		LegMode:              legMode,
		LongExchange:         long.Exchange,
		ShortExchange:        short.Exchange,
		LongFundingRate:      long.FundingRate,
		ShortFundingRate:     short.FundingRate,
		ExpectedProfit:       expected,
		WeightedProfit:       weighted,
		LongNextFundingTime:  long.NextFundingTime,
		ShortNextFundingTime: short.NextFundingTime,
		DiscoveredAt:         time.Now(),
	}, true
}

// groupBySymbol pivots the per-exchange snapshot map into per-symbol
// observation lists, one observation per exchange, in stable exchange order.
func groupBySymbol(snapshots map[string][]models.FundingObservation) map[string][]models.FundingObservation {
	exchanges := make([]string, 0, len(snapshots))
	for exchange := range snapshots {
		exchanges = append(exchanges, exchange)
	}
	sort.Strings(exchanges)

	bySymbol := make(map[string][]models.FundingObservation)
	for _, exchange := range exchanges {
		seen := make(map[string]bool)
		for _, obs := range snapshots[exchange] {
			if seen[obs.Symbol] {
				continue // one observation per exchange per symbol; first wins
			}
			seen[obs.Symbol] = true
			bySymbol[obs.Symbol] = append(bySymbol[obs.Symbol], obs)
		}
	}
	return bySymbol
}

func lowerRateFirst(a, b models.FundingObservation) (long, short models.FundingObservation) {
	if a.FundingRate.LessThanOrEqual(b.FundingRate) {
		return a, b
	}
	return b, a
}
