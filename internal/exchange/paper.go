package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fluxquant/fundarb/internal/models"
)

// PaperExchange is an in-memory connector used for dry runs and tests. Funding
// observations are seeded by the caller; orders never touch a real venue.
type PaperExchange struct {
	name string

	mu         sync.Mutex
	funding    map[string]models.FundingObservation
	positions  map[string]*models.Position
	marginUsed map[string]decimal.Decimal
	margin     decimal.Decimal

	// Error injection for failure-path tests.
	FailSnapshots error
	FailPlace     error
	FailClose     error

	// ClosePnL is the realized PnL reported for the next successful close.
	ClosePnL decimal.Decimal
}

// NewPaperExchange creates a paper connector with the given free margin.
func NewPaperExchange(name string, margin decimal.Decimal) *PaperExchange {
	return &PaperExchange{
		name:       name,
		funding:    make(map[string]models.FundingObservation),
		positions:  make(map[string]*models.Position),
		marginUsed: make(map[string]decimal.Decimal),
		margin:     margin,
	}
}

func (p *PaperExchange) Name() string { return p.name }

// SetFunding seeds or replaces the funding observation for a symbol.
func (p *PaperExchange) SetFunding(obs models.FundingObservation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	obs.Exchange = p.name
	p.funding[obs.Symbol] = obs
}

// SetPosition seeds a live position, used to exercise the admission guard.
func (p *PaperExchange) SetPosition(pos models.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos.Exchange = p.name
	p.positions[pos.Symbol] = &pos
}

func (p *PaperExchange) FundingSnapshots(ctx context.Context, symbols []string) ([]models.FundingObservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSnapshots != nil {
		return nil, p.FailSnapshots
	}

	if len(symbols) == 0 {
		out := make([]models.FundingObservation, 0, len(p.funding))
		for _, obs := range p.funding {
			out = append(out, obs)
		}
		return out, nil
	}

	var out []models.FundingObservation
	for _, symbol := range symbols {
		if obs, ok := p.funding[symbol]; ok {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (p *PaperExchange) OpenPosition(ctx context.Context, symbol string) (*models.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return nil, nil
	}
	copied := *pos
	return &copied, nil
}

func (p *PaperExchange) PlaceDirectionalOrder(ctx context.Context, symbol string, side models.OrderSide, margin, leverage decimal.Decimal) (*models.OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailPlace != nil {
		return nil, p.FailPlace
	}
	if margin.GreaterThan(p.margin) {
		return nil, fmt.Errorf("insufficient margin: have %s, need %s", p.margin, margin)
	}

	price := decimal.NewFromInt(100)
	if obs, ok := p.funding[symbol]; ok && obs.HasMarkPrice() {
		price = *obs.MarkPrice
	}

	now := time.Now()
	p.margin = p.margin.Sub(margin)
	p.marginUsed[symbol] = margin
	p.positions[symbol] = &models.Position{
		Exchange:   p.name,
		Symbol:     symbol,
		Side:       side,
		Size:       margin.Mul(leverage),
		EntryPrice: price,
		OpenedAt:   now,
	}

	return &models.OrderAck{
		OrderID:     uuid.New().String(),
		Exchange:    p.name,
		Symbol:      symbol,
		Side:        side,
		Margin:      margin,
		Leverage:    leverage,
		FilledPrice: price,
		PlacedAt:    now,
	}, nil
}

func (p *PaperExchange) ClosePosition(ctx context.Context, symbol string) (*models.CloseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailClose != nil {
		return nil, p.FailClose
	}
	if _, ok := p.positions[symbol]; !ok {
		return nil, fmt.Errorf("no open position for %s", symbol)
	}

	delete(p.positions, symbol)
	p.margin = p.margin.Add(p.marginUsed[symbol]).Add(p.ClosePnL)
	delete(p.marginUsed, symbol)

	return &models.CloseResult{
		Exchange:    p.name,
		Symbol:      symbol,
		RealizedPnL: p.ClosePnL,
		ClosedAt:    time.Now(),
	}, nil
}

func (p *PaperExchange) AvailableMargin(ctx context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.margin, nil
}
