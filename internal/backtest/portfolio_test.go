package backtest

import (
	"testing"
	"time"

	"quantbt/internal/market"
	"quantbt/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barAt(close float64) market.Bar {
	return market.Bar{Time: testStart, Open: close, High: close, Low: close, Close: close}
}

func TestPortfolioDefaults(t *testing.T) {
	p := NewPortfolio(PortfolioConfig{})
	assert.Equal(t, 100000.0, p.InitialCapital())
	assert.Equal(t, 100000.0, p.Cash())
	assert.Equal(t, 100000.0, p.Equity())
	require.Len(t, p.EquityCurve(), 1)
	assert.Equal(t, 100000.0, p.EquityCurve()[0])
}

func TestOpenPositionSizing(t *testing.T) {
	p := NewPortfolio(PortfolioConfig{InitialCapital: 10000, MaxPositionSize: 0.5})
	p.OpenPosition("BTCUSDT", strategy.Signal{Action: strategy.Buy}, barAt(100))

	pos, ok := p.Position("BTCUSDT")
	require.True(t, ok)
	// 50% of 10000 at price 100 buys exactly 50 whole units.
	assert.Equal(t, 50.0, pos.Quantity)
	assert.Equal(t, 5000.0, p.Cash())
}

func TestOpenPositionDeclines(t *testing.T) {
	t.Run("duplicate symbol", func(t *testing.T) {
		p := NewPortfolio(PortfolioConfig{InitialCapital: 10000, MaxPositionSize: 0.5})
		p.OpenPosition("BTCUSDT", strategy.Signal{}, barAt(100))
		cash := p.Cash()
		p.OpenPosition("BTCUSDT", strategy.Signal{}, barAt(100))
		assert.Equal(t, cash, p.Cash())
		assert.Equal(t, 1, p.OpenPositions())
	})

	t.Run("position cap", func(t *testing.T) {
		p := NewPortfolio(PortfolioConfig{InitialCapital: 10000, MaxPositionSize: 0.1, MaxPositions: 1})
		p.OpenPosition("BTCUSDT", strategy.Signal{}, barAt(10))
		p.OpenPosition("ETHUSDT", strategy.Signal{}, barAt(10))
		assert.Equal(t, 1, p.OpenPositions())
	})

	t.Run("quantity rounds to zero", func(t *testing.T) {
		p := NewPortfolio(PortfolioConfig{InitialCapital: 100, MaxPositionSize: 0.1})
		p.OpenPosition("BTCUSDT", strategy.Signal{}, barAt(5000))
		assert.Zero(t, p.OpenPositions())
		assert.Equal(t, 100.0, p.Cash())
	})
}

func TestWholeUnitsExactBudget(t *testing.T) {
	// A budget worth exactly N units must not round down to N-1 through
	// binary float noise.
	assert.Equal(t, 3.0, wholeUnits(0.3, 0.1))
	assert.Equal(t, 100.0, wholeUnits(10000, 100))
	assert.Zero(t, wholeUnits(0, 100))
	assert.Zero(t, wholeUnits(100, 0))
}

func TestClosePositionNoOpWithoutPosition(t *testing.T) {
	p := NewPortfolio(PortfolioConfig{InitialCapital: 10000})
	p.ClosePosition("BTCUSDT", 100, testStart, ExitSignal)
	assert.Empty(t, p.Trades())
	assert.Equal(t, 10000.0, p.Cash())
}

func TestMarkToMarketEquity(t *testing.T) {
	p := NewPortfolio(PortfolioConfig{InitialCapital: 10000, MaxPositionSize: 1.0})
	p.OpenPosition("BTCUSDT", strategy.Signal{}, barAt(100))
	require.Equal(t, 1, p.OpenPositions())

	p.MarkToMarket(barAt(110))
	assert.Equal(t, p.Cash()+100*110, p.Equity())
}

func TestDrawdownBookkeeping(t *testing.T) {
	p := NewPortfolio(PortfolioConfig{InitialCapital: 10000, MaxPositionSize: 1.0})
	p.OpenPosition("BTCUSDT", strategy.Signal{}, barAt(100))

	// Rally to a new peak, then fall 20% below it.
	p.MarkToMarket(barAt(120))
	p.RecordBar()
	assert.Equal(t, 12000.0, p.PeakEquity())
	assert.Zero(t, p.CurrentDrawdown())

	p.MarkToMarket(barAt(96))
	p.RecordBar()
	assert.Equal(t, 12000.0, p.PeakEquity())
	assert.Equal(t, 2400.0, p.CurrentDrawdown())
	assert.Equal(t, 2400.0, p.MaxDrawdown())
	assert.InDelta(t, 20.0, p.MaxDrawdownPct(), 1e-9)

	// The drawdown curve only records bars at or below the peak.
	require.Len(t, p.DrawdownCurve(), 1)
	assert.InDelta(t, 20.0, p.DrawdownCurve()[0], 1e-9)
}

func TestWinLossAggregates(t *testing.T) {
	p := NewPortfolio(PortfolioConfig{InitialCapital: 100000, MaxPositionSize: 0.1})

	open := func(symbol string, price float64) {
		p.OpenPosition(symbol, strategy.Signal{}, barAt(price))
	}
	closeAt := func(symbol string, price float64) {
		p.ClosePosition(symbol, price, testStart.Add(time.Hour), ExitSignal)
	}

	open("A", 100)
	closeAt("A", 110) // win
	open("B", 100)
	closeAt("B", 90) // loss
	open("C", 100)
	closeAt("C", 80) // loss

	assert.Equal(t, 3, p.TotalTrades())
	assert.Equal(t, 1, p.WinningTrades())
	assert.Equal(t, 2, p.LosingTrades())
	assert.Greater(t, p.GrossProfit(), 0.0)
	assert.Greater(t, p.GrossLoss(), 0.0)
}
