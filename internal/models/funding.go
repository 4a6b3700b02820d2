package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingObservation is a single exchange's funding snapshot for one perpetual
// symbol. Observations are created fresh each scan cycle and never mutated.
type FundingObservation struct {
	Exchange        string           `json:"exchange"`
	Symbol          string           `json:"symbol"`
	FundingRate     decimal.Decimal  `json:"funding_rate"`
	FundingTime     time.Time        `json:"funding_time"`
	NextFundingTime time.Time        `json:"next_funding_time"`
	MarkPrice       *decimal.Decimal `json:"mark_price,omitempty"`
	ObservedAt      time.Time        `json:"observed_at"`
}

// HasMarkPrice reports whether the exchange supplied a usable mark price.
func (o FundingObservation) HasMarkPrice() bool {
	return o.MarkPrice != nil && o.MarkPrice.IsPositive()
}
