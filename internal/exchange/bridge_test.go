package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxquant/fundarb/internal/models"
)

func newBridge(t *testing.T, handler http.HandlerFunc) *BridgeExchange {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewBridgeExchange("binance", BridgeConfig{
		ServiceURL: server.URL,
		Timeout:    5 * time.Second,
	}, quietLogger())
}

func TestBridge_FundingSnapshots(t *testing.T) {
	bridge := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/funding-rates/binance", r.URL.Path)

		var req map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"BTCUSDT"}, req["symbols"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"exchange": "binance",
			"rates": []map[string]interface{}{
				{
					"symbol":            "BTCUSDT",
					"funding_rate":      "-0.004",
					"next_funding_time": time.Now().Add(time.Hour).Format(time.RFC3339),
					"mark_price":        "65000",
				},
			},
		})
	})

	observations, err := bridge.FundingSnapshots(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, "binance", observations[0].Exchange)
	assert.Equal(t, "BTCUSDT", observations[0].Symbol)
	assert.True(t, observations[0].FundingRate.Equal(decimal.NewFromFloat(-0.004)))
	require.NotNil(t, observations[0].MarkPrice)
	assert.True(t, observations[0].MarkPrice.Equal(decimal.NewFromInt(65000)))
	assert.False(t, observations[0].ObservedAt.IsZero())
}

func TestBridge_FundingSnapshots_AllSymbolsUsesGet(t *testing.T) {
	bridge := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"exchange": "binance", "rates": []interface{}{}})
	})

	observations, err := bridge.FundingSnapshots(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, observations)
}

func TestBridge_OpenPosition_FlatOn404(t *testing.T) {
	bridge := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no position"})
	})

	position, err := bridge.OpenPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, position)
}

func TestBridge_OpenPosition_Live(t *testing.T) {
	bridge := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/positions/binance/BTCUSDT", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"symbol":      "BTCUSDT",
			"side":        "long",
			"size":        "3000",
			"entry_price": "65000",
		})
	})

	position, err := bridge.OpenPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, models.SideLong, position.Side)
	assert.True(t, position.Size.Equal(decimal.NewFromInt(3000)))
}

func TestBridge_PlaceDirectionalOrder(t *testing.T) {
	bridge := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders/binance", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BTCUSDT", req["symbol"])
		assert.Equal(t, "short", req["side"])

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"order_id":     "ord-1",
			"filled_price": "64990",
			"timestamp":    time.Now().Format(time.RFC3339),
		})
	})

	ack, err := bridge.PlaceDirectionalOrder(context.Background(), "BTCUSDT", models.SideShort, decimal.NewFromInt(1000), decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, "ord-1", ack.OrderID)
	assert.True(t, ack.FilledPrice.Equal(decimal.NewFromInt(64990)))
}

func TestBridge_ClosePosition(t *testing.T) {
	bridge := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/positions/binance/BTCUSDT/close", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"realized_pnl": "12.5",
			"timestamp":    time.Now().Format(time.RFC3339),
		})
	})

	result, err := bridge.ClosePosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, result.RealizedPnL.Equal(decimal.NewFromFloat(12.5)))
}

func TestBridge_AvailableMargin(t *testing.T) {
	bridge := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/balance/binance", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"available_margin": "100000"})
	})

	margin, err := bridge.AvailableMargin(context.Background())
	require.NoError(t, err)
	assert.True(t, margin.Equal(decimal.NewFromInt(100000)))
}

func TestBridge_ErrorResponseSurfaced(t *testing.T) {
	bridge := newBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "venue unreachable"})
	})

	_, err := bridge.AvailableMargin(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "venue unreachable")
}
