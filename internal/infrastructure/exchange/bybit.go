package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/arex/position_tracker/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"

	// Bybit kline granularity in minutes, matching the replay resolution of
	// the primary oracle.
	bybitCandleInterval = "15"
)

// BybitAdapter is an alternate price oracle against Bybit V5 linear
// perpetuals, read-only market data. No websocket cache: every lookup is a
// REST round trip.
type BybitAdapter struct {
	baseURL string
	logger  *zap.Logger
	client  *http.Client
}

func NewBybitAdapter(baseURL string, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	return &BybitAdapter{
		baseURL: baseURL,
		logger:  logger,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BybitAdapter) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return domain.Upstreamf("request build failed: %v", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return domain.Upstreamf("request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Upstreamf("read from %s failed: %v", path, err)
	}
	if resp.StatusCode >= 400 {
		return domain.Upstreamf("request to %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return domain.Upstreamf("decode from %s failed: %v", path, err)
	}
	return nil
}

func (b *BybitAdapter) CurrentPrice(ctx context.Context, coin string) (float64, error) {
	symbol := symbolFor(coin)
	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	path := "/v5/market/tickers?category=linear&symbol=" + symbol
	if err := b.get(ctx, path, &result); err != nil {
		return 0, err
	}
	if result.RetCode != 0 {
		return 0, domain.Upstreamf("ticker for %s: %s", symbol, result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		return 0, domain.Upstreamf("no ticker for %s", symbol)
	}
	price, err := strconv.ParseFloat(result.Result.List[0].LastPrice, 64)
	if err != nil {
		return 0, domain.Upstreamf("invalid price %q for %s", result.Result.List[0].LastPrice, symbol)
	}
	return price, nil
}

func (b *BybitAdapter) HistoricalCandles(ctx context.Context, coin string, start, end int64) ([]domain.Candle, error) {
	symbol := symbolFor(coin)
	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			// Rows are [startTime, open, high, low, close, volume, turnover],
			// all strings, newest first.
			List [][]string `json:"list"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/v5/market/kline?category=linear&symbol=%s&interval=%s&start=%d&end=%d&limit=%d",
		symbol, bybitCandleInterval, start*1000, end*1000, candlePageLimit)
	if err := b.get(ctx, path, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, domain.Upstreamf("kline for %s: %s", symbol, result.RetMsg)
	}

	rows := result.Result.List
	candles := make([]domain.Candle, 0, len(rows))
	// Reverse into chronological order.
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 5 {
			return nil, domain.Upstreamf("malformed kline row for %s", symbol)
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, domain.Upstreamf("invalid kline timestamp %q for %s", row[0], symbol)
		}
		var prices [4]float64
		for j := 1; j <= 4; j++ {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, domain.Upstreamf("invalid kline price %q for %s", row[j], symbol)
			}
			prices[j-1] = v
		}
		candles = append(candles, domain.Candle{
			Timestamp: ts / 1000,
			Open:      prices[0],
			High:      prices[1],
			Low:       prices[2],
			Close:     prices[3],
		})
	}
	return candles, nil
}
