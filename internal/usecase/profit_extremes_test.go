package usecase

import (
	"context"
	"testing"

	"github.com/arex/position_tracker/internal/domain"
	"github.com/stretchr/testify/require"
)

func longPosition() *domain.Position {
	return &domain.Position{
		ID:           "p1",
		CoinName:     "BTC",
		PositionSide: domain.SideLong,
		Status:       domain.StatusOpen,
		EntryTime:    1000,
		EntryPrice:   100,
		PositionSize: 1000, // quantity = 10
	}
}

func TestFromCandles_LongSweepsFourPrices(t *testing.T) {
	calc := NewExtremesCalculator(&mockOracle{})
	p := longPosition()

	candles := []domain.Candle{
		{Timestamp: 1100, Open: 100, High: 105, Low: 95, Close: 102},
		{Timestamp: 1200, Open: 102, High: 103, Low: 98, Close: 99},
	}

	ext := calc.FromCandles(p, candles)

	// Entry fee only: 1000 * 0.0002 = 0.2.
	// Best at high=105: (105-100)*10 - 0.2 = 49.8
	// Worst at low=95: (95-100)*10 - 0.2 = -50.2
	require.InDelta(t, 49.8, ext.MaxProfit, 1e-9)
	require.InDelta(t, -50.2, ext.MinProfit, 1e-9)
	require.Equal(t, int64(1100), ext.MaxProfitTime)
	require.Equal(t, int64(1100), ext.MinProfitTime)
}

func TestFromCandles_ShortSideInverted(t *testing.T) {
	calc := NewExtremesCalculator(&mockOracle{})
	p := longPosition()
	p.PositionSide = domain.SideShort

	candles := []domain.Candle{
		{Timestamp: 1100, Open: 100, High: 105, Low: 95, Close: 102},
	}

	ext := calc.FromCandles(p, candles)

	// Short profits when price falls: best at low=95, worst at high=105.
	require.InDelta(t, 49.8, ext.MaxProfit, 1e-9)
	require.InDelta(t, -50.2, ext.MinProfit, 1e-9)
}

func TestFromCandles_EmptySeriesKeepsBaseline(t *testing.T) {
	calc := NewExtremesCalculator(&mockOracle{})
	ext := calc.FromCandles(longPosition(), nil)

	require.Zero(t, ext.MaxProfit)
	require.Zero(t, ext.MinProfit)
	require.Zero(t, ext.MaxProfitTime)
	require.Zero(t, ext.MinProfitTime)
}

func TestFromCandles_AllLosingKeepsZeroMax(t *testing.T) {
	calc := NewExtremesCalculator(&mockOracle{})
	candles := []domain.Candle{
		{Timestamp: 1100, Open: 90, High: 92, Low: 85, Close: 88},
	}

	ext := calc.FromCandles(longPosition(), candles)

	// The baseline is "never entered": a position that was only ever under
	// water keeps MaxProfit = 0, so MaxProfit >= MinProfit holds.
	require.Zero(t, ext.MaxProfit)
	require.Negative(t, ext.MinProfit)
	require.GreaterOrEqual(t, ext.MaxProfit, ext.MinProfit)
}

func TestCalculate_ExitCandidateUsesDoubleFee(t *testing.T) {
	oracle := &mockOracle{candles: []domain.Candle{
		{Timestamp: 1100, Open: 100, High: 105, Low: 95, Close: 102},
	}}
	calc := NewExtremesCalculator(oracle)

	ext, err := calc.Calculate(context.Background(), longPosition(), 110, 2000)
	require.NoError(t, err)

	// Realized exit: (110-100)*10 - 1000*0.0002*2 = 100 - 0.4 = 99.6,
	// beating the candle best of 49.8 and attributed to the exit time.
	require.InDelta(t, 99.6, ext.MaxProfit, 1e-9)
	require.Equal(t, int64(2000), ext.MaxProfitTime)
	require.InDelta(t, -50.2, ext.MinProfit, 1e-9)
	require.Equal(t, int64(1100), ext.MinProfitTime)
}

func TestCalculate_ExitCandidateCanReplaceMin(t *testing.T) {
	oracle := &mockOracle{candles: []domain.Candle{
		{Timestamp: 1100, Open: 100, High: 104, Low: 99, Close: 100},
	}}
	calc := NewExtremesCalculator(oracle)

	ext, err := calc.Calculate(context.Background(), longPosition(), 90, 2000)
	require.NoError(t, err)

	// Exit at 90: (90-100)*10 - 0.4 = -100.4, worse than the candle low.
	require.InDelta(t, -100.4, ext.MinProfit, 1e-9)
	require.Equal(t, int64(2000), ext.MinProfitTime)
}

func TestCalculate_CandleFailureSurfaces(t *testing.T) {
	oracle := &mockOracle{candlesErr: domain.Upstreamf("klines timeout")}
	calc := NewExtremesCalculator(oracle)

	_, err := calc.Calculate(context.Background(), longPosition(), 110, 2000)
	require.Error(t, err)
}
