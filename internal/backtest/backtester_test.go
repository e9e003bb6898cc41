package backtest

import (
	"context"
	"testing"
	"time"

	"quantbt/internal/market"
	"quantbt/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted replays a fixed signal sequence, one signal per bar.
type scripted struct {
	signals []strategy.Signal
	idx     int
}

func (s *scripted) ProcessBar(market.Bar, strategy.PortfolioView) strategy.Signal {
	if s.idx >= len(s.signals) {
		return strategy.Signal{Action: strategy.Hold}
	}
	sig := s.signals[s.idx]
	s.idx++
	return sig
}

func (s *scripted) Parameters() strategy.Params { return strategy.Params{} }
func (s *scripted) Reset()                      { s.idx = 0 }

func buy(stopLoss, takeProfit float64) strategy.Signal {
	return strategy.Signal{Action: strategy.Buy, StopLoss: stopLoss, TakeProfit: takeProfit}
}

func sell() strategy.Signal { return strategy.Signal{Action: strategy.Sell} }
func hold() strategy.Signal { return strategy.Signal{Action: strategy.Hold} }

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// flatBars builds hourly bars where open/high/low/close all sit on the
// given closes.
func flatBars(closes ...float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Time:   testStart.Add(time.Duration(i) * time.Hour),
			Open:   c,
			High:   c,
			Low:    c,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

func newTestBacktester(t *testing.T, strat strategy.Strategy, bars []market.Bar, pcfg PortfolioConfig) *Backtester {
	t.Helper()
	bt, err := New(strat, Config{
		Symbol:    "BTCUSDT",
		Start:     testStart,
		End:       testStart.Add(time.Duration(len(bars)) * time.Hour),
		Portfolio: pcfg,
	})
	require.NoError(t, err)
	bt.SetQuiet(true)
	bt.SetBars(bars)
	return bt
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Symbol: "BTCUSDT", Start: testStart, End: testStart.Add(time.Hour)})
	assert.Error(t, err)

	_, err = New(&scripted{}, Config{Start: testStart, End: testStart.Add(time.Hour)})
	assert.Error(t, err)

	_, err = New(&scripted{}, Config{Symbol: "BTCUSDT", Start: testStart, End: testStart})
	assert.Error(t, err)
}

func TestRunRequiresBars(t *testing.T) {
	bt, err := New(&scripted{}, Config{Symbol: "BTCUSDT", Start: testStart, End: testStart.Add(time.Hour)})
	require.NoError(t, err)
	_, err = bt.Run(context.Background())
	assert.Error(t, err)
}

func TestSingleRoundTrip(t *testing.T) {
	strat := &scripted{signals: []strategy.Signal{buy(0, 0), hold(), sell()}}
	bars := flatBars(100, 110, 120, 130)
	bt := newTestBacktester(t, strat, bars, PortfolioConfig{
		InitialCapital:  10000,
		MaxPositionSize: 1.0,
		MaxPositions:    1,
	})

	results, err := bt.Run(context.Background())
	require.NoError(t, err)

	trades := bt.Portfolio().Trades()
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, ExitSignal, tr.ExitReason)
	assert.Equal(t, 100.0, tr.EntryPrice)
	assert.Equal(t, 120.0, tr.ExitPrice)
	assert.Equal(t, 100.0, tr.Quantity)
	assert.Equal(t, 2000.0, tr.PnL)
	assert.Equal(t, 2*time.Hour, tr.Duration)

	assert.Equal(t, 1, results.TotalTrades)
	assert.InDelta(t, 20.0, results.TotalReturn, 1e-9)
	assert.Equal(t, 100.0, results.WinRate)
	assert.Equal(t, 12000.0, bt.Portfolio().Equity())
	assert.Equal(t, bt.Portfolio().Cash(), bt.Portfolio().Equity())
}

func TestTakeProfitWinsSameBarTie(t *testing.T) {
	strat := &scripted{signals: []strategy.Signal{buy(90, 110)}}
	bars := flatBars(100, 100, 100)
	// The second bar sweeps through both protective levels.
	bars[1].Low = 85
	bars[1].High = 115
	bt := newTestBacktester(t, strat, bars, PortfolioConfig{
		InitialCapital:  10000,
		MaxPositionSize: 1.0,
	})

	_, err := bt.Run(context.Background())
	require.NoError(t, err)

	trades := bt.Portfolio().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ExitTakeProfit, trades[0].ExitReason)
	assert.Equal(t, 110.0, trades[0].ExitPrice)
}

func TestStopLossFillsAtLevel(t *testing.T) {
	strat := &scripted{signals: []strategy.Signal{buy(90, 0)}}
	bars := flatBars(100, 100, 100)
	bars[1].Low = 80
	bt := newTestBacktester(t, strat, bars, PortfolioConfig{
		InitialCapital:  10000,
		MaxPositionSize: 1.0,
	})

	_, err := bt.Run(context.Background())
	require.NoError(t, err)

	trades := bt.Portfolio().Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ExitStopLoss, trades[0].ExitReason)
	assert.Equal(t, 90.0, trades[0].ExitPrice)
	assert.Equal(t, -1000.0, trades[0].PnL)
}

func TestHoldOnlyRunYieldsZeroedResults(t *testing.T) {
	strat := &scripted{}
	bars := flatBars(100, 101, 102, 103)
	bt := newTestBacktester(t, strat, bars, PortfolioConfig{InitialCapital: 10000})

	results, err := bt.Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, results.TotalTrades)
	assert.Zero(t, results.TotalReturn)
	assert.Zero(t, results.SharpeRatio)
	assert.NotNil(t, results.MonthlyReturns)
	assert.Empty(t, results.MonthlyReturns)
	assert.NotNil(t, results.TradeDistribution)

	curve := bt.Portfolio().EquityCurve()
	require.Len(t, curve, len(bars)+1)
	for _, eq := range curve {
		assert.Equal(t, 10000.0, eq)
	}
}

func TestEndOfBacktestLiquidation(t *testing.T) {
	strat := &scripted{signals: []strategy.Signal{buy(0, 0)}}
	bars := flatBars(100, 105, 95)
	bt := newTestBacktester(t, strat, bars, PortfolioConfig{
		InitialCapital:  10000,
		MaxPositionSize: 1.0,
	})

	_, err := bt.Run(context.Background())
	require.NoError(t, err)

	p := bt.Portfolio()
	trades := p.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, ExitEndOfBacktest, trades[0].ExitReason)
	assert.Equal(t, 95.0, trades[0].ExitPrice)
	assert.Zero(t, p.OpenPositions())
	assert.Equal(t, p.Cash(), p.Equity())

	totalPnL := 0.0
	for _, tr := range trades {
		totalPnL += tr.PnL
	}
	assert.InDelta(t, p.Equity()-p.InitialCapital(), totalPnL, 1e-9)
}

func TestSlippageAndCommissionApplied(t *testing.T) {
	strat := &scripted{signals: []strategy.Signal{buy(0, 0), sell()}}
	bars := flatBars(100, 100, 100)
	bt := newTestBacktester(t, strat, bars, PortfolioConfig{
		InitialCapital:  10000,
		MaxPositionSize: 1.0,
		Slippage:        0.01,
		Commission:      5,
	})

	_, err := bt.Run(context.Background())
	require.NoError(t, err)

	trades := bt.Portfolio().Trades()
	require.Len(t, trades, 1)
	tr := trades[0]
	// Entry pays slippage up, the signal exit pays it down.
	assert.Equal(t, 101.0, tr.EntryPrice)
	assert.Equal(t, 99.0, tr.ExitPrice)
	// Both fills pay the flat commission.
	expected := tr.Quantity*(tr.ExitPrice-tr.EntryPrice) - 10
	assert.InDelta(t, expected, tr.PnL, 1e-9)
}

func TestContextCancellationStopsRun(t *testing.T) {
	strat := &scripted{}
	bars := flatBars(make([]float64, 600)...)
	for i := range bars {
		bars[i].Close = 100
	}
	bt := newTestBacktester(t, strat, bars, PortfolioConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bt.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
