package usecase

import (
	"context"

	"github.com/arex/position_tracker/internal/domain"
)

// FeeRate is the per-side taker fee applied to the USD notional.
const FeeRate = 0.0002

// currentNetProfit marks an open position to market: gross side-aware PnL
// minus the entry fee only. Used for open-position tracking and for candle
// checkpoints, where no exit has been paid for.
func currentNetProfit(p *domain.Position, price float64) float64 {
	quantity := p.Quantity()
	var grossPnl float64
	if p.PositionSide == domain.SideLong {
		grossPnl = (price - p.EntryPrice) * quantity
	} else {
		grossPnl = (p.EntryPrice - price) * quantity
	}
	return grossPnl - p.PositionSize*FeeRate
}

// realizedPnl books a close at exitPrice: gross PnL, the double entry+exit
// fee, and the net result.
func realizedPnl(p *domain.Position, exitPrice float64) (grossPnl, fee, pnl float64) {
	quantity := p.Quantity()
	if p.PositionSide == domain.SideLong {
		grossPnl = (exitPrice - p.EntryPrice) * quantity
	} else {
		grossPnl = (p.EntryPrice - exitPrice) * quantity
	}
	fee = p.PositionSize * FeeRate * 2
	pnl = grossPnl - fee
	return grossPnl, fee, pnl
}

// ProfitExtremes is the best and worst net profit achievable over a
// position's life, with the candle (or exit) timestamps where they occurred.
type ProfitExtremes struct {
	MaxProfit     float64
	MinProfit     float64
	MaxProfitTime int64
	MinProfitTime int64
}

// ExtremesCalculator replays historical candles to reconstruct profit
// extremes. True intrabar paths are unknown, so each candle is sampled at its
// four representative prices; that approximates the best and worst realizable
// exits without tick data.
type ExtremesCalculator struct {
	oracle domain.PriceOracle
}

func NewExtremesCalculator(oracle domain.PriceOracle) *ExtremesCalculator {
	return &ExtremesCalculator{oracle: oracle}
}

// FromCandles sweeps the candle series. The baseline is 0 ("never entered"):
// a position that was only ever under water keeps MaxProfit=0, and one that
// was only ever ahead keeps MinProfit=0, so MaxProfit >= MinProfit always.
// Candle checkpoints are hypothetical, so they carry the entry fee only.
func (c *ExtremesCalculator) FromCandles(p *domain.Position, candles []domain.Candle) ProfitExtremes {
	var ext ProfitExtremes
	for _, candle := range candles {
		for _, price := range [4]float64{candle.Open, candle.High, candle.Low, candle.Close} {
			netProfit := currentNetProfit(p, price)
			if netProfit > ext.MaxProfit {
				ext.MaxProfit = netProfit
				ext.MaxProfitTime = candle.Timestamp
			}
			if netProfit < ext.MinProfit {
				ext.MinProfit = netProfit
				ext.MinProfitTime = candle.Timestamp
			}
		}
	}
	return ext
}

// Calculate fetches candles for [entryTime, exitTime] and sweeps them, then
// evaluates the realized exit, with the real double close fee, as one final
// candidate attributed to exitTime. A candle-fetch failure is returned to the
// caller rather than silently defaulting to zero.
func (c *ExtremesCalculator) Calculate(ctx context.Context, p *domain.Position, exitPrice float64, exitTime int64) (ProfitExtremes, error) {
	candles, err := c.oracle.HistoricalCandles(ctx, p.CoinName, p.EntryTime, exitTime)
	if err != nil {
		return ProfitExtremes{}, err
	}

	ext := c.FromCandles(p, candles)

	_, _, exitProfit := realizedPnl(p, exitPrice)
	if exitProfit > ext.MaxProfit {
		ext.MaxProfit = exitProfit
		ext.MaxProfitTime = exitTime
	}
	if exitProfit < ext.MinProfit {
		ext.MinProfit = exitProfit
		ext.MinProfitTime = exitTime
	}
	return ext, nil
}
