package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arex/position_tracker/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	BinanceBaseURL = "https://fapi.binance.com"
	BinanceWSURL   = "wss://fstream.binance.com/ws"

	// Candle granularity used for profit-extremes replay. One page of 1000
	// bars covers ~10 days; longer windows would need pagination, which is a
	// known limitation.
	candleInterval  = "15m"
	candlePageLimit = 1000

	// How long a websocket mark-price sample stays good enough to serve
	// CurrentPrice without a REST round trip.
	priceCacheTTL = 10 * time.Second
)

type pricePoint struct {
	price float64
	at    time.Time
}

// BinanceAdapter is the price oracle against Binance USD-M futures. Current
// prices are served from the websocket mark-price cache when fresh and fall
// back to the REST ticker; candles always go through REST.
type BinanceAdapter struct {
	baseURL string
	wsURL   string
	logger  *zap.Logger

	priceClient  *http.Client
	candleClient *http.Client

	mu         sync.RWMutex
	lastPrices map[string]pricePoint
}

func NewBinanceAdapter(baseURL, wsURL string, logger *zap.Logger) *BinanceAdapter {
	if baseURL == "" {
		baseURL = BinanceBaseURL
	}
	if wsURL == "" {
		wsURL = BinanceWSURL
	}
	return &BinanceAdapter{
		baseURL:      baseURL,
		wsURL:        wsURL,
		logger:       logger,
		priceClient:  &http.Client{Timeout: 5 * time.Second},
		candleClient: &http.Client{Timeout: 10 * time.Second},
		lastPrices:   make(map[string]pricePoint),
	}
}

// symbolFor maps a coin name to the perpetual futures symbol.
func symbolFor(coin string) string {
	return strings.ToUpper(coin) + "USDT"
}

func (b *BinanceAdapter) cachedPrice(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pp, ok := b.lastPrices[symbol]
	if !ok || time.Since(pp.at) > priceCacheTTL {
		return 0, false
	}
	return pp.price, true
}

func (b *BinanceAdapter) CurrentPrice(ctx context.Context, coin string) (float64, error) {
	symbol := symbolFor(coin)
	if price, ok := b.cachedPrice(symbol); ok {
		return price, nil
	}

	url := b.baseURL + "/fapi/v1/ticker/price?symbol=" + symbol
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, domain.Upstreamf("price request build failed: %v", err)
	}
	resp, err := b.priceClient.Do(req)
	if err != nil {
		return 0, domain.Upstreamf("price fetch for %s failed: %v", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, domain.Upstreamf("price read for %s failed: %v", symbol, err)
	}
	if resp.StatusCode >= 400 {
		return 0, domain.Upstreamf("price fetch for %s: status %d: %s", symbol, resp.StatusCode, string(body))
	}

	var result struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, domain.Upstreamf("price decode for %s failed: %v", symbol, err)
	}
	price, err := strconv.ParseFloat(result.Price, 64)
	if err != nil {
		return 0, domain.Upstreamf("invalid price %q for %s", result.Price, symbol)
	}
	return price, nil
}

func (b *BinanceAdapter) HistoricalCandles(ctx context.Context, coin string, start, end int64) ([]domain.Candle, error) {
	symbol := symbolFor(coin)
	// Binance expects milliseconds.
	url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=%d",
		b.baseURL, symbol, candleInterval, start*1000, end*1000, candlePageLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Upstreamf("candle request build failed: %v", err)
	}
	resp, err := b.candleClient.Do(req)
	if err != nil {
		return nil, domain.Upstreamf("candle fetch for %s failed: %v", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Upstreamf("candle read for %s failed: %v", symbol, err)
	}
	if resp.StatusCode >= 400 {
		return nil, domain.Upstreamf("candle fetch for %s: status %d: %s", symbol, resp.StatusCode, string(body))
	}

	// Kline rows are heterogeneous arrays:
	// [openTime, open, high, low, close, volume, ...]
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.Upstreamf("candle decode for %s failed: %v", symbol, err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 5 {
			return nil, domain.Upstreamf("malformed kline row for %s", symbol)
		}
		openTime, ok := row[0].(float64)
		if !ok {
			return nil, domain.Upstreamf("malformed kline timestamp for %s", symbol)
		}
		var prices [4]float64
		for i := 1; i <= 4; i++ {
			str, ok := row[i].(string)
			if !ok {
				return nil, domain.Upstreamf("malformed kline price for %s", symbol)
			}
			v, err := strconv.ParseFloat(str, 64)
			if err != nil {
				return nil, domain.Upstreamf("invalid kline price %q for %s", str, symbol)
			}
			prices[i-1] = v
		}
		candles = append(candles, domain.Candle{
			Timestamp: int64(openTime) / 1000,
			Open:      prices[0],
			High:      prices[1],
			Low:       prices[2],
			Close:     prices[3],
		})
	}
	return candles, nil
}

// RunPriceStream keeps a websocket subscription to the mark-price streams of
// the given coins and feeds the price cache. It reconnects on failure and
// returns when the context is cancelled. Purely an optimization: CurrentPrice
// works without it.
func (b *BinanceAdapter) RunPriceStream(ctx context.Context, coins []string) {
	if len(coins) == 0 {
		return
	}
	for {
		if err := b.streamOnce(ctx, coins); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("price stream disconnected, reconnecting", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (b *BinanceAdapter) streamOnce(ctx context.Context, coins []string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	params := make([]string, 0, len(coins))
	for _, coin := range coins {
		params = append(params, strings.ToLower(symbolFor(coin))+"@markPrice@1s")
	}
	sub := map[string]any{"method": "SUBSCRIBE", "params": params, "id": 1}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	b.logger.Info("price stream connected", zap.Strings("streams", params))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg struct {
			Symbol string `json:"s"`
			Price  string `json:"p"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Symbol == "" || msg.Price == "" {
			continue // subscription ack or unrelated frame
		}
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil {
			continue
		}
		b.mu.Lock()
		b.lastPrices[msg.Symbol] = pricePoint{price: price, at: time.Now()}
		b.mu.Unlock()
	}
}
