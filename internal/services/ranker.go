package services

import (
	"sort"

	"github.com/fluxquant/fundarb/internal/models"
)

const (
	// DefaultBroadcastLimit bounds the ranked set published for observers.
	DefaultBroadcastLimit = 50
	// DefaultExecutionLimit bounds the slice considered for execution.
	DefaultExecutionLimit = 15
)

// Ranker reduces one cycle's raw candidates to a small ordered set: at most
// one opportunity per symbol, sorted descending by expected profit.
type Ranker struct{}

// NewRanker creates a ranker.
func NewRanker() *Ranker {
	return &Ranker{}
}

// Rank deduplicates per symbol (keeping the highest expected profit,
// first-encountered on ties), sorts descending by expected profit, and
// returns at most limit entries. Empty input yields an empty slice.
func (r *Ranker) Rank(candidates []models.Opportunity, limit int) []models.Opportunity {
	if limit <= 0 {
		limit = DefaultBroadcastLimit
	}

	best := make(map[string]models.Opportunity, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		current, seen := best[candidate.Symbol]
		if !seen {
			best[candidate.Symbol] = candidate
			order = append(order, candidate.Symbol)
			continue
		}
		if candidate.ExpectedProfit.GreaterThan(current.ExpectedProfit) {
			best[candidate.Symbol] = candidate
		}
	}

	winners := make([]models.Opportunity, 0, len(order))
	for _, symbol := range order {
		winners = append(winners, best[symbol])
	}

	sort.SliceStable(winners, func(i, j int) bool {
		return winners[i].ExpectedProfit.GreaterThan(winners[j].ExpectedProfit)
	})

	if len(winners) > limit {
		winners = winners[:limit]
	}
	return winners
}
