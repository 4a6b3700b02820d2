package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fluxquant/fundarb/internal/models"
)

// Port is the capability set the engine consumes from one exchange connector.
// Implementations wrap the venue's REST/WS surface; the engine never talks to
// an exchange except through this interface.
type Port interface {
	// Name returns the lowercase exchange identifier (e.g. "binance").
	Name() string

	// FundingSnapshots returns the current funding observations for the given
	// symbols. An empty symbol list means all perpetual markets the venue
	// supports.
	FundingSnapshots(ctx context.Context, symbols []string) ([]models.FundingObservation, error)

	// OpenPosition returns the live position for a symbol, or nil when flat.
	OpenPosition(ctx context.Context, symbol string) (*models.Position, error)

	// PlaceDirectionalOrder opens a single-exchange directional position sized
	// from margin and leverage.
	PlaceDirectionalOrder(ctx context.Context, symbol string, side models.OrderSide, margin, leverage decimal.Decimal) (*models.OrderAck, error)

	// ClosePosition closes the open position for a symbol at market.
	ClosePosition(ctx context.Context, symbol string) (*models.CloseResult, error)

	// AvailableMargin returns the free collateral usable for a new position.
	AvailableMargin(ctx context.Context) (decimal.Decimal, error)
}
