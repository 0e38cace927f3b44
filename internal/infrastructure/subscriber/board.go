package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arex/position_tracker/internal/domain"
)

// BoardClient talks to the subscriber board, which keys accounts by index.
// All calls share one short timeout so a slow subscriber cannot stall a
// fan-out.
type BoardClient struct {
	baseURL string
	client  *http.Client
}

func NewBoardClient(baseURL string) *BoardClient {
	return &BoardClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 4 * time.Second},
	}
}

func (c *BoardClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("board returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *BoardClient) OpenPosition(ctx context.Context, subscriberID int, side domain.Side, coin string, amountUSD float64) error {
	verb := "long"
	if side == domain.SideShort {
		verb = "short"
	}
	path := fmt.Sprintf("/%s/%s/%v?index=%d", verb, url.PathEscape(coin), amountUSD, subscriberID)
	_, err := c.get(ctx, path)
	return err
}

func (c *BoardClient) ClosePosition(ctx context.Context, subscriberID int, side domain.Side, coin string) error {
	verb := "closeLong"
	if side == domain.SideShort {
		verb = "closeShort"
	}
	path := fmt.Sprintf("/%s/%s?index=%d", verb, url.PathEscape(coin), subscriberID)
	_, err := c.get(ctx, path)
	return err
}

func (c *BoardClient) ListOpenSides(ctx context.Context, subscriberID int, coin string) (map[domain.Side]bool, error) {
	body, err := c.get(ctx, fmt.Sprintf("/list?index=%d", subscriberID))
	if err != nil {
		return nil, err
	}

	var positions []struct {
		CoinName     string `json:"coinName"`
		PositionSide string `json:"positionSide"`
	}
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("board list decode failed: %w", err)
	}

	sides := make(map[domain.Side]bool, 2)
	for _, p := range positions {
		if !strings.EqualFold(p.CoinName, coin) {
			continue
		}
		switch domain.Side(p.PositionSide) {
		case domain.SideLong:
			sides[domain.SideLong] = true
		case domain.SideShort:
			sides[domain.SideShort] = true
		}
	}
	return sides, nil
}
