package backtest

import (
	"math"
	"time"

	"quantbt/internal/market"
	"quantbt/internal/strategy"

	"github.com/shopspring/decimal"
)

// ExitReason records why a round-trip was closed.
type ExitReason string

const (
	ExitSignal        ExitReason = "SIGNAL"
	ExitStopLoss      ExitReason = "STOP_LOSS"
	ExitTakeProfit    ExitReason = "TAKE_PROFIT"
	ExitEndOfBacktest ExitReason = "END_OF_BACKTEST"
)

// Position is one open holding. At most one position per symbol exists at
// any time; the portfolio owns it from fill to close.
type Position struct {
	Symbol     string
	Quantity   float64
	EntryPrice float64
	EntryTime  time.Time
	StopLoss   float64
	TakeProfit float64
	LastPrice  float64
}

// Trade is the immutable record of a closed round-trip.
type Trade struct {
	Symbol     string        `json:"symbol"`
	EntryTime  time.Time     `json:"entry_time"`
	ExitTime   time.Time     `json:"exit_time"`
	EntryPrice float64       `json:"entry_price"`
	ExitPrice  float64       `json:"exit_price"`
	Quantity   float64       `json:"quantity"`
	PnL        float64       `json:"pnl"`
	PnLPercent float64       `json:"pnl_percent"`
	Duration   time.Duration `json:"duration"`
	ExitReason ExitReason    `json:"exit_reason"`
}

// PortfolioConfig carries the risk parameters for a simulated account.
// Zero values fall back to the defaults below.
type PortfolioConfig struct {
	InitialCapital  float64
	MaxPositionSize float64 // fraction of equity per position
	MaxPositions    int
	Slippage        float64 // e.g. 0.001 = 0.1% adverse fill
	Commission      float64 // flat per fill
}

func (c *PortfolioConfig) applyDefaults() {
	if c.InitialCapital <= 0 {
		c.InitialCapital = 100000
	}
	if c.MaxPositionSize <= 0 {
		c.MaxPositionSize = 0.1
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = 5
	}
	if c.Slippage < 0 {
		c.Slippage = 0
	}
	if c.Commission < 0 {
		c.Commission = 0
	}
}

// Portfolio is the mutable ledger of one simulated account: cash, open
// positions, the closed-trade log, the equity curve, and the running
// win/loss and drawdown aggregates.
type Portfolio struct {
	initialCapital float64
	cash           float64
	equity         float64
	positions      map[string]*Position
	trades         []Trade

	maxPositionSize float64
	maxPositions    int
	slippage        float64
	commission      float64

	equityCurve   []float64
	drawdownCurve []float64

	peakEquity      float64
	currentDrawdown float64
	maxDrawdown     float64
	maxDrawdownPct  float64

	totalTrades          int
	winningTrades        int
	losingTrades         int
	grossProfit          float64
	grossLoss            float64
	largestWin           float64
	largestLoss          float64
	consecutiveWins      int
	consecutiveLosses    int
	maxConsecutiveWins   int
	maxConsecutiveLosses int
}

// NewPortfolio builds an account with the given risk parameters. The
// equity curve starts with one entry holding the initial capital.
func NewPortfolio(cfg PortfolioConfig) *Portfolio {
	cfg.applyDefaults()
	return &Portfolio{
		initialCapital:  cfg.InitialCapital,
		cash:            cfg.InitialCapital,
		equity:          cfg.InitialCapital,
		positions:       make(map[string]*Position),
		maxPositionSize: cfg.MaxPositionSize,
		maxPositions:    cfg.MaxPositions,
		slippage:        cfg.Slippage,
		commission:      cfg.Commission,
		equityCurve:     []float64{cfg.InitialCapital},
		peakEquity:      cfg.InitialCapital,
	}
}

// Cash implements strategy.PortfolioView.
func (p *Portfolio) Cash() float64 { return p.cash }

// Equity implements strategy.PortfolioView.
func (p *Portfolio) Equity() float64 { return p.equity }

// HasPosition implements strategy.PortfolioView.
func (p *Portfolio) HasPosition(symbol string) bool {
	_, ok := p.positions[symbol]
	return ok
}

func (p *Portfolio) InitialCapital() float64 { return p.initialCapital }
func (p *Portfolio) Trades() []Trade         { return p.trades }
func (p *Portfolio) EquityCurve() []float64  { return p.equityCurve }
func (p *Portfolio) DrawdownCurve() []float64 {
	return p.drawdownCurve
}
func (p *Portfolio) PeakEquity() float64      { return p.peakEquity }
func (p *Portfolio) CurrentDrawdown() float64 { return p.currentDrawdown }
func (p *Portfolio) MaxDrawdown() float64     { return p.maxDrawdown }
func (p *Portfolio) MaxDrawdownPct() float64  { return p.maxDrawdownPct }
func (p *Portfolio) OpenPositions() int       { return len(p.positions) }

// Position returns the open position for symbol, if any.
func (p *Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// OpenPosition attempts a long fill from a BUY signal. Declines silently
// when a position already exists for the symbol, the position cap is
// reached, or the affordable quantity rounds down to zero; declined trades
// are valid non-events, not errors.
func (p *Portfolio) OpenPosition(symbol string, sig strategy.Signal, bar market.Bar) {
	if _, exists := p.positions[symbol]; exists {
		return
	}
	if len(p.positions) >= p.maxPositions {
		return
	}
	executionPrice := bar.Close * (1 + p.slippage)
	if executionPrice <= 0 {
		return
	}
	quantity := wholeUnits(p.equity*p.maxPositionSize, executionPrice)
	if quantity <= 0 {
		return
	}
	cost := quantity*executionPrice + p.commission
	if cost > p.cash {
		quantity = wholeUnits(p.cash-p.commission, executionPrice)
		if quantity <= 0 {
			return
		}
		cost = quantity*executionPrice + p.commission
	}

	p.positions[symbol] = &Position{
		Symbol:     symbol,
		Quantity:   quantity,
		EntryPrice: executionPrice,
		EntryTime:  bar.Time,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		LastPrice:  executionPrice,
	}
	p.cash -= cost
}

// wholeUnits floors budget/price to a whole unit count. decimal keeps the
// division exact enough that a budget of exactly N units never rounds to
// N-1 through float noise.
func wholeUnits(budget, price float64) float64 {
	if budget <= 0 || price <= 0 {
		return 0
	}
	qty := decimal.NewFromFloat(budget).Div(decimal.NewFromFloat(price)).Floor()
	f, _ := qty.Float64()
	return f
}

// ClosePosition closes the position for symbol at exitPrice and records the
// trade. No-op when no position exists.
func (p *Portfolio) ClosePosition(symbol string, exitPrice float64, exitTime time.Time, reason ExitReason) {
	pos, exists := p.positions[symbol]
	if !exists {
		return
	}

	proceeds := pos.Quantity*exitPrice - p.commission
	cost := pos.Quantity*pos.EntryPrice + p.commission
	pnl := proceeds - cost
	pnlPercent := 0.0
	if cost != 0 {
		pnlPercent = pnl / cost * 100
	}

	p.trades = append(p.trades, Trade{
		Symbol:     symbol,
		EntryTime:  pos.EntryTime,
		ExitTime:   exitTime,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Duration:   exitTime.Sub(pos.EntryTime),
		ExitReason: reason,
	})
	p.cash += proceeds
	p.totalTrades++

	if pnl > 0 {
		p.winningTrades++
		p.grossProfit += pnl
		p.consecutiveWins++
		p.consecutiveLosses = 0
		if p.consecutiveWins > p.maxConsecutiveWins {
			p.maxConsecutiveWins = p.consecutiveWins
		}
		if pnl > p.largestWin {
			p.largestWin = pnl
		}
	} else {
		p.losingTrades++
		p.grossLoss += math.Abs(pnl)
		p.consecutiveLosses++
		p.consecutiveWins = 0
		if p.consecutiveLosses > p.maxConsecutiveLosses {
			p.maxConsecutiveLosses = p.consecutiveLosses
		}
		if pnl < p.largestLoss {
			p.largestLoss = pnl
		}
	}

	delete(p.positions, symbol)
}

// MarkToMarket moves every open position to the bar's close and recomputes
// equity = cash + open position value.
func (p *Portfolio) MarkToMarket(bar market.Bar) {
	positionValue := 0.0
	for _, pos := range p.positions {
		pos.LastPrice = bar.Close
		positionValue += pos.Quantity * pos.LastPrice
	}
	p.equity = p.cash + positionValue
}

// RecordBar appends the end-of-bar equity reading to the curve and updates
// the peak-equity / drawdown bookkeeping. Called once per bar after all
// fills for the bar settled.
func (p *Portfolio) RecordBar() {
	positionValue := 0.0
	for _, pos := range p.positions {
		positionValue += pos.Quantity * pos.LastPrice
	}
	p.equity = p.cash + positionValue
	p.equityCurve = append(p.equityCurve, p.equity)

	if p.equity > p.peakEquity {
		p.peakEquity = p.equity
		p.currentDrawdown = 0
		return
	}
	p.currentDrawdown = p.peakEquity - p.equity
	drawdownPct := 0.0
	if p.peakEquity > 0 {
		drawdownPct = p.currentDrawdown / p.peakEquity * 100
	}
	if p.currentDrawdown > p.maxDrawdown {
		p.maxDrawdown = p.currentDrawdown
		p.maxDrawdownPct = drawdownPct
	}
	p.drawdownCurve = append(p.drawdownCurve, drawdownPct)
}

// stats snapshot helpers used by the results computation.

func (p *Portfolio) TotalTrades() int     { return p.totalTrades }
func (p *Portfolio) WinningTrades() int   { return p.winningTrades }
func (p *Portfolio) LosingTrades() int    { return p.losingTrades }
func (p *Portfolio) GrossProfit() float64 { return p.grossProfit }
func (p *Portfolio) GrossLoss() float64   { return p.grossLoss }
