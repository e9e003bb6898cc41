package backtest

import (
	"context"
	"fmt"
	"time"

	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/strategy"
)

// Config describes one backtest run.
type Config struct {
	Symbol    string
	Start     time.Time
	End       time.Time
	Portfolio PortfolioConfig
}

// Backtester replays a bar series through a strategy against a simulated
// portfolio. Bars are consumed in order; all fills happen at bar
// granularity.
type Backtester struct {
	symbol    string
	start     time.Time
	end       time.Time
	strat     strategy.Strategy
	portfolio *Portfolio
	bars      []market.Bar
	quiet     bool

	results *Results
}

// New builds a backtester for one strategy over one symbol and date range.
func New(strat strategy.Strategy, cfg Config) (*Backtester, error) {
	if strat == nil {
		return nil, fmt.Errorf("backtest: strategy is required")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("backtest: symbol is required")
	}
	if !cfg.End.After(cfg.Start) {
		return nil, fmt.Errorf("backtest: end %s is not after start %s",
			cfg.End.Format("2006-01-02"), cfg.Start.Format("2006-01-02"))
	}
	return &Backtester{
		symbol:    cfg.Symbol,
		start:     cfg.Start,
		end:       cfg.End,
		strat:     strat,
		portfolio: NewPortfolio(cfg.Portfolio),
	}, nil
}

// SetBars hands the backtester its price series.
func (b *Backtester) SetBars(bars []market.Bar) {
	b.bars = bars
}

// SetQuiet suppresses per-run log lines. Optimizers running thousands of
// evaluations turn this on.
func (b *Backtester) SetQuiet(quiet bool) {
	b.quiet = quiet
}

func (b *Backtester) Portfolio() *Portfolio { return b.portfolio }
func (b *Backtester) Results() *Results     { return b.results }

// Run replays the bar series. For every bar, in order: mark open positions
// to the close, test protective exits against the bar's high/low, ask the
// strategy for a signal, execute it, then record end-of-bar equity. Any
// position still open after the last bar is force-closed at its close.
func (b *Backtester) Run(ctx context.Context) (*Results, error) {
	if len(b.bars) == 0 {
		return nil, fmt.Errorf("backtest: no data loaded for %s", b.symbol)
	}

	if !b.quiet {
		logger.Infof("backtest start: symbol=%s bars=%d range=%s..%s",
			b.symbol, len(b.bars),
			b.start.Format("2006-01-02"), b.end.Format("2006-01-02"))
	}
	b.strat.Reset()

	for i, bar := range b.bars {
		if i%256 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		b.portfolio.MarkToMarket(bar)
		b.checkExits(bar)

		signal := b.strat.ProcessBar(bar, b.portfolio)
		if signal.Action != strategy.Hold {
			b.executeSignal(signal, bar)
		}

		b.portfolio.RecordBar()
	}

	last := b.bars[len(b.bars)-1]
	b.closeAllPositions(last)

	b.results = computeResults(b.portfolio, b.bars, b.start, b.end)
	if !b.quiet {
		logger.Infof("backtest done: symbol=%s trades=%d return=%.2f%% maxDD=%.2f%%",
			b.symbol, b.results.TotalTrades, b.results.TotalReturn, b.results.MaxDrawdownPct)
	}
	return b.results, nil
}

// checkExits fires protective exits using the bar's extremes. When one bar
// touches both levels the take profit wins and the stop is ignored.
func (b *Backtester) checkExits(bar market.Bar) {
	for symbol, pos := range b.portfolio.positions {
		reason := ExitReason("")
		exitPrice := 0.0

		if pos.StopLoss > 0 && bar.Low <= pos.StopLoss {
			reason = ExitStopLoss
			exitPrice = pos.StopLoss
		}
		if pos.TakeProfit > 0 && bar.High >= pos.TakeProfit {
			reason = ExitTakeProfit
			exitPrice = pos.TakeProfit
		}

		if reason != "" {
			b.portfolio.ClosePosition(symbol, exitPrice, bar.Time, reason)
		}
	}
}

// executeSignal turns a BUY into a fill attempt and a SELL into a signal
// exit. Signal exits pay slippage on the close; protective exits fill at
// their exact level in checkExits.
func (b *Backtester) executeSignal(sig strategy.Signal, bar market.Bar) {
	switch sig.Action {
	case strategy.Buy:
		b.portfolio.OpenPosition(b.symbol, sig, bar)
	case strategy.Sell:
		if b.portfolio.HasPosition(b.symbol) {
			exitPrice := bar.Close * (1 - b.portfolio.slippage)
			b.portfolio.ClosePosition(b.symbol, exitPrice, bar.Time, ExitSignal)
		}
	}
}

// closeAllPositions liquidates whatever survived the final bar at its
// close, then settles equity so it matches cash exactly.
func (b *Backtester) closeAllPositions(last market.Bar) {
	for symbol := range b.portfolio.positions {
		b.portfolio.ClosePosition(symbol, last.Close, last.Time, ExitEndOfBacktest)
	}
	b.portfolio.equity = b.portfolio.cash
}
