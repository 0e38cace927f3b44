package usecase

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/arex/position_tracker/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PositionService owns the open/close state machine and the PnL arithmetic.
// It keeps no state across calls: the store is always re-read before a
// mutation, and no lock is held across a store, oracle or subscriber call.
type PositionService struct {
	store  domain.PositionStore
	oracle domain.PriceOracle
	calc   *ExtremesCalculator
	fanout FanOut
	logger *zap.Logger

	now func() time.Time // For testing

	// Pause between items in RecalculateHistoricalProfits so the candle
	// endpoint is not hammered.
	recalcDelay time.Duration
}

func NewPositionService(
	store domain.PositionStore,
	oracle domain.PriceOracle,
	fanout FanOut,
	logger *zap.Logger,
) *PositionService {
	return &PositionService{
		store:       store,
		oracle:      oracle,
		calc:        NewExtremesCalculator(oracle),
		fanout:      fanout,
		logger:      logger,
		now:         time.Now,
		recalcDelay: 100 * time.Millisecond,
	}
}

// OpenResult summarizes a newly opened position.
type OpenResult struct {
	ID           string          `json:"id"`
	CoinName     string          `json:"coinName"`
	PositionSide domain.Side     `json:"positionSide"`
	Status       domain.Status   `json:"status"`
	EntryTime    int64           `json:"entryTime"`
	EntryPrice   float64         `json:"entryPrice"`
	PositionSize float64         `json:"positionSize"`
	FanOut       DispatchSummary `json:"fanOut"`
}

// ClosedPosition is the per-position slice of a CloseResult.
type ClosedPosition struct {
	ID         string  `json:"id"`
	EntryPrice float64 `json:"entryPrice"`
	ExitPrice  float64 `json:"exitPrice"`
	Pnl        float64 `json:"pnl"`
}

// CloseResult summarizes a batch close of one (coin, side).
type CloseResult struct {
	CoinName        string           `json:"coinName"`
	PositionSide    domain.Side      `json:"positionSide"`
	ExitPrice       float64          `json:"exitPrice"`
	PositionsClosed int              `json:"positionsClosed"`
	Closed          []ClosedPosition `json:"closedPositions"`
	ErrorCount      int              `json:"errorCount"`
	FanOut          DispatchSummary  `json:"fanOut"`
}

// CloseByIDResult carries the mutated record's key fields.
type CloseByIDResult struct {
	ID            string      `json:"id"`
	CoinName      string      `json:"coinName"`
	PositionSide  domain.Side `json:"positionSide"`
	ExitTime      int64       `json:"exitTime"`
	ExitPrice     float64     `json:"exitPrice"`
	GrossPnl      float64     `json:"grossPnl"`
	Fee           float64     `json:"fee"`
	Pnl           float64     `json:"pnl"`
	MaxProfit     float64     `json:"maxProfit"`
	MinProfit     float64     `json:"minProfit"`
	MaxProfitTime int64       `json:"maxProfitTime"`
	MinProfitTime int64       `json:"minProfitTime"`
}

// DeleteResult identifies what was removed.
type DeleteResult struct {
	ID           string        `json:"id"`
	CoinName     string        `json:"coinName"`
	PositionSide domain.Side   `json:"positionSide"`
	Status       domain.Status `json:"status"`
}

// BulkDeleteResult summarizes a filtered deletion.
type BulkDeleteResult struct {
	Matched int64 `json:"matchedPositions"`
	Deleted int64 `json:"deletedCount"`
}

// SweepResult summarizes a batch maintenance pass.
type SweepResult struct {
	Total   int `json:"totalPositions"`
	Updated int `json:"updatedPositions"`
	Errors  int `json:"errorCount"`
}

// ExtraResult summarizes adding notional to an open position.
type ExtraResult struct {
	CoinName        string          `json:"coinName"`
	PositionSide    domain.Side     `json:"side"`
	AddedUSD        float64         `json:"addedUsd"`
	NewPositionSize float64         `json:"newPositionSize"`
	NewEntryPrice   float64         `json:"newEntryPrice"`
	CurrentPrice    float64         `json:"currentPrice"`
	FanOut          DispatchSummary `json:"fanOut"`
}

func validateCoin(coin string) error {
	if strings.TrimSpace(coin) == "" {
		return domain.Validationf("coin name is required")
	}
	return nil
}

// OpenPosition opens a new (coin, side) position sized in USD notional.
// At most one open position per (coin, side) is intended: the count-then-
// insert check rejects duplicates with ErrConflict. The check is not
// transactional; two concurrent opens for the same (coin, side) can both
// pass it, which is an accepted limitation of the store contract.
//
// An open Short on the same coin is auto-flipped: its close is issued and
// awaited before the new Long record is inserted (and vice versa), so a
// transient both-sides-open state is never visible.
func (s *PositionService) OpenPosition(ctx context.Context, book, coin string, side domain.Side, sizeUSD float64) (*OpenResult, error) {
	if err := validateCoin(coin); err != nil {
		return nil, err
	}
	if !side.Valid() {
		return nil, domain.Validationf("invalid side %q", side)
	}
	if sizeUSD <= 0 {
		return nil, domain.Validationf("position size must be positive, got %v", sizeUSD)
	}

	count, err := s.store.Count(ctx, book, domain.PositionFilter{
		Coin:   coin,
		Side:   side,
		Status: domain.StatusOpen,
	})
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, domain.Conflictf("%s position already open for %s", side, coin)
	}

	if _, err := s.CloseSide(ctx, book, coin, side.Opposite()); err != nil {
		return nil, err
	}

	entryPrice, err := s.oracle.CurrentPrice(ctx, coin)
	if err != nil {
		return nil, err
	}

	p := &domain.Position{
		ID:           uuid.NewString(),
		CoinName:     coin,
		PositionSide: side,
		Status:       domain.StatusOpen,
		EntryTime:    s.now().Unix(),
		EntryPrice:   entryPrice,
		PositionSize: sizeUSD,
	}
	if err := s.store.Insert(ctx, book, p); err != nil {
		return nil, err
	}

	s.logger.Info("position opened",
		zap.String("book", book), zap.String("coin", coin),
		zap.String("side", string(side)), zap.Float64("entryPrice", entryPrice),
		zap.Float64("sizeUsd", sizeUSD), zap.String("id", p.ID))

	action := domain.ActionLong
	if side == domain.SideShort {
		action = domain.ActionShort
	}
	summary := s.fanout.Dispatch(ctx, book, coin, action)

	return &OpenResult{
		ID:           p.ID,
		CoinName:     coin,
		PositionSide: side,
		Status:       domain.StatusOpen,
		EntryTime:    p.EntryTime,
		EntryPrice:   entryPrice,
		PositionSize: sizeUSD,
		FanOut:       summary,
	}, nil
}

// CloseSide closes every open position of one (coin, side) at a single exit
// price fetched once for the batch. With nothing open it is a no-op success
// with no store writes and no fan-out. Items are independent: a failing one
// is counted and the batch continues.
func (s *PositionService) CloseSide(ctx context.Context, book, coin string, side domain.Side) (*CloseResult, error) {
	if err := validateCoin(coin); err != nil {
		return nil, err
	}
	if !side.Valid() {
		return nil, domain.Validationf("invalid side %q", side)
	}

	positions, err := s.store.Find(ctx, book, domain.PositionFilter{
		Coin:   coin,
		Side:   side,
		Status: domain.StatusOpen,
	})
	if err != nil {
		return nil, err
	}

	result := &CloseResult{CoinName: coin, PositionSide: side}
	if len(positions) == 0 {
		return result, nil
	}

	exitPrice, err := s.oracle.CurrentPrice(ctx, coin)
	if err != nil {
		return nil, err
	}
	exitTime := s.now().Unix()
	result.ExitPrice = exitPrice

	closeAction := domain.ActionCloseLong
	if side == domain.SideShort {
		closeAction = domain.ActionCloseShort
	}

	for _, p := range positions {
		if err := s.closeOne(ctx, book, p, exitPrice, exitTime); err != nil {
			s.logger.Warn("failed to close position",
				zap.String("id", p.ID), zap.String("coin", coin), zap.Error(err))
			result.ErrorCount++
			continue
		}
		result.PositionsClosed++
		result.Closed = append(result.Closed, ClosedPosition{
			ID:         p.ID,
			EntryPrice: p.EntryPrice,
			ExitPrice:  exitPrice,
			Pnl:        *p.Pnl,
		})
		result.FanOut.Add(s.fanout.Dispatch(ctx, book, coin, closeAction))
	}
	return result, nil
}

// closeOne books the close into p and persists it. The profit-extremes
// replay degrades gracefully: when candles cannot be fetched, only the
// previously stored extremes are compared against the realized exit profit,
// and the close still completes.
func (s *PositionService) closeOne(ctx context.Context, book string, p *domain.Position, exitPrice float64, exitTime int64) error {
	grossPnl, fee, pnl := realizedPnl(p, exitPrice)

	ext, err := s.calc.Calculate(ctx, p, exitPrice, exitTime)
	if err != nil {
		s.logger.Warn("candle fetch failed, falling back to stored extremes",
			zap.String("id", p.ID), zap.String("coin", p.CoinName), zap.Error(err))
		ext = fallbackExtremes(p, pnl, exitTime)
	}

	p.Status = domain.StatusClose
	p.ExitTime = exitTime
	p.ExitPrice = &exitPrice
	p.GrossPnl = &grossPnl
	p.Fee = fee
	p.Pnl = &pnl
	p.MaxProfit = ext.MaxProfit
	p.MinProfit = ext.MinProfit
	p.MaxProfitTime = ext.MaxProfitTime
	p.MinProfitTime = ext.MinProfitTime

	return s.store.Update(ctx, book, p)
}

// fallbackExtremes widens the stored extremes with the realized exit profit.
func fallbackExtremes(p *domain.Position, exitProfit float64, exitTime int64) ProfitExtremes {
	ext := ProfitExtremes{
		MaxProfit:     p.MaxProfit,
		MinProfit:     p.MinProfit,
		MaxProfitTime: p.MaxProfitTime,
		MinProfitTime: p.MinProfitTime,
	}
	if exitProfit > ext.MaxProfit {
		ext.MaxProfit = exitProfit
		ext.MaxProfitTime = exitTime
	}
	if exitProfit < ext.MinProfit {
		ext.MinProfit = exitProfit
		ext.MinProfitTime = exitTime
	}
	return ext
}

// CloseByID closes a single position. Fan-out is notified as soon as the
// position is known to exist and runs detached: its success is not a
// precondition for the close being recorded.
func (s *PositionService) CloseByID(ctx context.Context, book, id string) (*CloseByIDResult, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Validationf("position id is required")
	}

	p, err := s.store.FindOne(ctx, book, id)
	if err != nil {
		return nil, err
	}

	go func(coin string) {
		s.fanout.Dispatch(context.WithoutCancel(ctx), book, coin, domain.ActionClose)
	}(p.CoinName)

	exitPrice, err := s.oracle.CurrentPrice(ctx, p.CoinName)
	if err != nil {
		return nil, err
	}
	exitTime := s.now().Unix()

	if err := s.closeOne(ctx, book, p, exitPrice, exitTime); err != nil {
		return nil, err
	}

	return &CloseByIDResult{
		ID:            p.ID,
		CoinName:      p.CoinName,
		PositionSide:  p.PositionSide,
		ExitTime:      p.ExitTime,
		ExitPrice:     *p.ExitPrice,
		GrossPnl:      *p.GrossPnl,
		Fee:           p.Fee,
		Pnl:           *p.Pnl,
		MaxProfit:     p.MaxProfit,
		MinProfit:     p.MinProfit,
		MaxProfitTime: p.MaxProfitTime,
		MinProfitTime: p.MinProfitTime,
	}, nil
}

// DeleteByID removes a single position record.
func (s *PositionService) DeleteByID(ctx context.Context, book, id string) (*DeleteResult, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.Validationf("position id is required")
	}
	p, err := s.store.FindOne(ctx, book, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, book, id); err != nil {
		return nil, err
	}
	return &DeleteResult{
		ID:           p.ID,
		CoinName:     p.CoinName,
		PositionSide: p.PositionSide,
		Status:       p.Status,
	}, nil
}

// BulkDelete removes all positions matching the filter. An empty filter is
// rejected before any store access so one malformed request cannot wipe a
// book.
func (s *PositionService) BulkDelete(ctx context.Context, book string, f domain.PositionFilter) (*BulkDeleteResult, error) {
	if f.IsZero() {
		return nil, domain.Validationf("filter is required for bulk delete")
	}
	matched, err := s.store.Count(ctx, book, f)
	if err != nil {
		return nil, err
	}
	if matched == 0 {
		return &BulkDeleteResult{}, nil
	}
	deleted, err := s.store.DeleteMany(ctx, book, f)
	if err != nil {
		return nil, err
	}
	return &BulkDeleteResult{Matched: matched, Deleted: deleted}, nil
}

// UpdateOpenProfitTracking sweeps every open position in the book, marks it
// to the current price with the entry fee only, and widens the stored
// extremes when the new value strictly exceeds them. Repeated sweeps at an
// unchanged price are no-ops. A failing item is logged, counted and skipped.
func (s *PositionService) UpdateOpenProfitTracking(ctx context.Context, book string) (*SweepResult, error) {
	positions, err := s.store.Find(ctx, book, domain.PositionFilter{Status: domain.StatusOpen})
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Total: len(positions)}
	for _, p := range positions {
		currentPrice, err := s.oracle.CurrentPrice(ctx, p.CoinName)
		if err != nil {
			s.logger.Warn("failed to fetch price for profit tracking",
				zap.String("id", p.ID), zap.String("coin", p.CoinName), zap.Error(err))
			result.Errors++
			continue
		}

		currentProfit := currentNetProfit(p, currentPrice)
		now := s.now().Unix()

		updated := false
		if currentProfit > p.MaxProfit {
			p.MaxProfit = currentProfit
			p.MaxProfitTime = now
			updated = true
		}
		if currentProfit < p.MinProfit {
			p.MinProfit = currentProfit
			p.MinProfitTime = now
			updated = true
		}
		if !updated {
			continue
		}

		if err := s.store.Update(ctx, book, p); err != nil {
			s.logger.Warn("failed to persist profit tracking update",
				zap.String("id", p.ID), zap.Error(err))
			result.Errors++
			continue
		}
		result.Updated++
	}
	return result, nil
}

// RecalculateHistoricalProfits re-derives the profit extremes of every closed
// position with valid timestamps from candle data, overwriting stored values.
// Given identical candles the pass is idempotent. Items are paced with a
// small fixed delay to respect the candle endpoint's rate limits; a single
// item's failure increments the error count and the batch continues.
func (s *PositionService) RecalculateHistoricalProfits(ctx context.Context, book string) (*SweepResult, error) {
	positions, err := s.store.Find(ctx, book, domain.PositionFilter{Status: domain.StatusClose})
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for i, p := range positions {
		if p.EntryTime <= 0 || p.ExitTime <= 0 || p.ExitPrice == nil {
			continue
		}
		result.Total++

		if i > 0 && s.recalcDelay > 0 {
			select {
			case <-time.After(s.recalcDelay):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		ext, err := s.calc.Calculate(ctx, p, *p.ExitPrice, p.ExitTime)
		if err != nil {
			s.logger.Warn("failed to recalculate profits",
				zap.String("id", p.ID), zap.String("coin", p.CoinName), zap.Error(err))
			result.Errors++
			continue
		}

		p.MaxProfit = ext.MaxProfit
		p.MinProfit = ext.MinProfit
		p.MaxProfitTime = ext.MaxProfitTime
		p.MinProfitTime = ext.MinProfitTime

		if err := s.store.Update(ctx, book, p); err != nil {
			s.logger.Warn("failed to persist recalculated profits",
				zap.String("id", p.ID), zap.Error(err))
			result.Errors++
			continue
		}
		result.Updated++
	}
	return result, nil
}

// AddExtra adds USD notional to the coin's open position, re-weighting the
// entry price at the current market price, and fans the additive open out to
// subscribers.
func (s *PositionService) AddExtra(ctx context.Context, book, coin string, extraUSD float64) (*ExtraResult, error) {
	if err := validateCoin(coin); err != nil {
		return nil, err
	}
	if extraUSD <= 0 {
		return nil, domain.Validationf("extra amount must be positive, got %v", extraUSD)
	}

	positions, err := s.store.Find(ctx, book, domain.PositionFilter{
		Coin:   coin,
		Status: domain.StatusOpen,
	})
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, domain.NotFoundf("no open position for %s", coin)
	}
	p := positions[0]

	price, err := s.oracle.CurrentPrice(ctx, coin)
	if err != nil {
		return nil, err
	}

	newSize := p.PositionSize + extraUSD
	// Weighted-average entry across the old notional and the addition.
	newEntry := (p.EntryPrice*p.PositionSize + price*extraUSD) / newSize
	p.PositionSize = newSize
	p.EntryPrice = newEntry

	if err := s.store.Update(ctx, book, p); err != nil {
		return nil, err
	}

	action := domain.ActionExtraLong
	if p.PositionSide == domain.SideShort {
		action = domain.ActionExtraShort
	}
	summary := s.fanout.Dispatch(ctx, book, coin, action)

	return &ExtraResult{
		CoinName:        coin,
		PositionSide:    p.PositionSide,
		AddedUSD:        extraUSD,
		NewPositionSize: newSize,
		NewEntryPrice:   newEntry,
		CurrentPrice:    price,
		FanOut:          summary,
	}, nil
}

// ListTrades returns positions of one book, optionally narrowed by coin and
// status. "closed" is accepted as an alias for "close"; "all" or empty means
// no status filter.
func (s *PositionService) ListTrades(ctx context.Context, book, coin, status string) ([]*domain.Position, error) {
	f := domain.PositionFilter{Coin: coin}
	switch strings.ToLower(status) {
	case "", "all":
	case "closed", "close":
		f.Status = domain.StatusClose
	case "open":
		f.Status = domain.StatusOpen
	default:
		return nil, domain.Validationf("unknown status %q", status)
	}
	return s.store.Find(ctx, book, f)
}

// CountOpenPositions counts open positions for a coin, optionally one side.
func (s *PositionService) CountOpenPositions(ctx context.Context, book, coin string, side domain.Side) (int64, error) {
	if err := validateCoin(coin); err != nil {
		return 0, err
	}
	if side != "" && !side.Valid() {
		return 0, domain.Validationf("invalid side %q", side)
	}
	return s.store.Count(ctx, book, domain.PositionFilter{
		Coin:   coin,
		Side:   side,
		Status: domain.StatusOpen,
	})
}

// CoinPerformance aggregates realized results per coin.
type CoinPerformance struct {
	CoinName   string  `json:"coinName"`
	TotalPnl   float64 `json:"totalPnl"`
	TradeCount int     `json:"tradeCount"`
	WinCount   int     `json:"winCount"`
	LossCount  int     `json:"lossCount"`
	WinRate    float64 `json:"winRate"`
}

// BestPerformers groups closed trades by coin and ranks coins by total
// realized pnl, best first.
func (s *PositionService) BestPerformers(ctx context.Context, book string) ([]CoinPerformance, error) {
	closed, err := s.store.Find(ctx, book, domain.PositionFilter{Status: domain.StatusClose})
	if err != nil {
		return nil, err
	}

	perf := make(map[string]*CoinPerformance)
	for _, p := range closed {
		cp, ok := perf[p.CoinName]
		if !ok {
			cp = &CoinPerformance{CoinName: p.CoinName}
			perf[p.CoinName] = cp
		}
		var pnl float64
		if p.Pnl != nil {
			pnl = *p.Pnl
		}
		cp.TotalPnl += pnl
		cp.TradeCount++
		if pnl > 0 {
			cp.WinCount++
		} else if pnl < 0 {
			cp.LossCount++
		}
	}

	coins := make([]CoinPerformance, 0, len(perf))
	for _, cp := range perf {
		cp.TotalPnl = round2(cp.TotalPnl)
		if cp.TradeCount > 0 {
			cp.WinRate = round2(float64(cp.WinCount) / float64(cp.TradeCount) * 100)
		}
		coins = append(coins, *cp)
	}
	sort.Slice(coins, func(i, j int) bool { return coins[i].TotalPnl > coins[j].TotalPnl })
	return coins, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
