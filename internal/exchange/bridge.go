package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fluxquant/fundarb/internal/models"
)

// BridgeConfig configures a connector that talks to the ccxt sidecar service.
type BridgeConfig struct {
	ServiceURL string
	Timeout    time.Duration
}

// BridgeExchange implements Port against the ccxt sidecar, which wraps a
// venue's native REST API behind a uniform HTTP surface.
type BridgeExchange struct {
	name       string
	httpClient *http.Client
	baseURL    string
	logger     *logrus.Logger
}

// NewBridgeExchange creates a connector for one exchange behind the sidecar.
func NewBridgeExchange(name string, cfg BridgeConfig, logger *logrus.Logger) *BridgeExchange {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BridgeExchange{
		name:       name,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.ServiceURL, "/"),
		logger:     logger,
	}
}

func (b *BridgeExchange) Name() string { return b.name }

type bridgeFundingRate struct {
	Symbol          string           `json:"symbol"`
	FundingRate     decimal.Decimal  `json:"funding_rate"`
	FundingTime     time.Time        `json:"funding_time"`
	NextFundingTime time.Time        `json:"next_funding_time"`
	MarkPrice       *decimal.Decimal `json:"mark_price"`
	Timestamp       time.Time        `json:"timestamp"`
}

type bridgeFundingResponse struct {
	Exchange string              `json:"exchange"`
	Rates    []bridgeFundingRate `json:"rates"`
}

type bridgePosition struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	OpenedAt   time.Time       `json:"opened_at"`
}

type bridgeOrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Margin   decimal.Decimal `json:"margin"`
	Leverage decimal.Decimal `json:"leverage"`
}

type bridgeOrderResponse struct {
	OrderID     string          `json:"order_id"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	Timestamp   time.Time       `json:"timestamp"`
}

type bridgeCloseResponse struct {
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Timestamp   time.Time       `json:"timestamp"`
}

type bridgeBalanceResponse struct {
	AvailableMargin decimal.Decimal `json:"available_margin"`
}

type bridgeErrorResponse struct {
	Error string `json:"error"`
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bridge service error (%d): %s", e.code, e.msg)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (b *BridgeExchange) FundingSnapshots(ctx context.Context, symbols []string) ([]models.FundingObservation, error) {
	path := fmt.Sprintf("/api/funding-rates/%s", b.name)
	var body interface{}
	if len(symbols) > 0 {
		body = map[string][]string{"symbols": symbols}
	}

	method := http.MethodGet
	if body != nil {
		method = http.MethodPost
	}

	var response bridgeFundingResponse
	if err := b.makeRequest(ctx, method, path, body, &response); err != nil {
		return nil, fmt.Errorf("failed to fetch funding rates for %s: %w", b.name, err)
	}

	now := time.Now()
	observations := make([]models.FundingObservation, 0, len(response.Rates))
	for _, rate := range response.Rates {
		observations = append(observations, models.FundingObservation{
			Exchange:        b.name,
			Symbol:          rate.Symbol,
			FundingRate:     rate.FundingRate,
			FundingTime:     rate.FundingTime,
			NextFundingTime: rate.NextFundingTime,
			MarkPrice:       rate.MarkPrice,
			ObservedAt:      now,
		})
	}
	return observations, nil
}

func (b *BridgeExchange) OpenPosition(ctx context.Context, symbol string) (*models.Position, error) {
	path := fmt.Sprintf("/api/positions/%s/%s", b.name, symbol)
	var response bridgePosition
	err := b.makeRequest(ctx, http.MethodGet, path, nil, &response)
	if err != nil {
		if isNotFound(err) {
			return nil, nil // flat
		}
		return nil, fmt.Errorf("failed to fetch position for %s:%s: %w", b.name, symbol, err)
	}
	if response.Symbol == "" || response.Size.IsZero() {
		return nil, nil
	}
	return &models.Position{
		Exchange:   b.name,
		Symbol:     response.Symbol,
		Side:       models.OrderSide(response.Side),
		Size:       response.Size,
		EntryPrice: response.EntryPrice,
		OpenedAt:   response.OpenedAt,
	}, nil
}

func (b *BridgeExchange) PlaceDirectionalOrder(ctx context.Context, symbol string, side models.OrderSide, margin, leverage decimal.Decimal) (*models.OrderAck, error) {
	path := fmt.Sprintf("/api/orders/%s", b.name)
	req := bridgeOrderRequest{
		Symbol:   symbol,
		Side:     string(side),
		Margin:   margin,
		Leverage: leverage,
	}
	var response bridgeOrderResponse
	if err := b.makeRequest(ctx, http.MethodPost, path, req, &response); err != nil {
		return nil, fmt.Errorf("failed to place %s order on %s:%s: %w", side, b.name, symbol, err)
	}
	return &models.OrderAck{
		OrderID:     response.OrderID,
		Exchange:    b.name,
		Symbol:      symbol,
		Side:        side,
		Margin:      margin,
		Leverage:    leverage,
		FilledPrice: response.FilledPrice,
		PlacedAt:    response.Timestamp,
	}, nil
}

func (b *BridgeExchange) ClosePosition(ctx context.Context, symbol string) (*models.CloseResult, error) {
	path := fmt.Sprintf("/api/positions/%s/%s/close", b.name, symbol)
	var response bridgeCloseResponse
	if err := b.makeRequest(ctx, http.MethodPost, path, nil, &response); err != nil {
		return nil, fmt.Errorf("failed to close position on %s:%s: %w", b.name, symbol, err)
	}
	return &models.CloseResult{
		Exchange:    b.name,
		Symbol:      symbol,
		RealizedPnL: response.RealizedPnL,
		ClosedAt:    response.Timestamp,
	}, nil
}

func (b *BridgeExchange) AvailableMargin(ctx context.Context) (decimal.Decimal, error) {
	path := fmt.Sprintf("/api/balance/%s", b.name)
	var response bridgeBalanceResponse
	if err := b.makeRequest(ctx, http.MethodGet, path, nil, &response); err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch balance for %s: %w", b.name, err)
	}
	return response.AvailableMargin, nil
}

func (b *BridgeExchange) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := b.baseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			b.logger.WithError(err).Debug("Error closing response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := string(respBody)
		var errorResp bridgeErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error != "" {
			msg = errorResp.Error
		}
		return &statusError{code: resp.StatusCode, msg: msg}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
