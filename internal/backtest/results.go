package backtest

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"quantbt/internal/market"
)

const (
	tradingDaysPerYear = 252
	riskFreeRate       = 0.02
)

// Results is the full metrics report of a finished backtest.
type Results struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	TotalTrades      int     `json:"total_trades"`
	WinRate          float64 `json:"win_rate"`

	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	CalmarRatio    float64 `json:"calmar_ratio"`

	ProfitFactor  float64 `json:"profit_factor"`
	ExpectedValue float64 `json:"expected_value"`
	AverageTrade  float64 `json:"average_trade"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`

	AverageHoldTime time.Duration `json:"average_hold_time"`
	WinningHoldTime time.Duration `json:"winning_hold_time"`
	LosingHoldTime  time.Duration `json:"losing_hold_time"`

	WinLossRatio         float64 `json:"win_loss_ratio"`
	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	RecoveryFactor       float64 `json:"recovery_factor"`

	MonthlyReturns    map[string]float64 `json:"monthly_returns"`
	TradeDistribution []float64          `json:"trade_distribution"`
}

// computeResults derives the report from the settled portfolio. A run with
// zero trades yields a zeroed report rather than NaN-laden ratios.
func computeResults(p *Portfolio, bars []market.Bar, start, end time.Time) *Results {
	r := &Results{
		MonthlyReturns:    make(map[string]float64),
		TradeDistribution: []float64{},
	}
	if p.totalTrades == 0 {
		return r
	}

	r.TotalReturn = (p.equity - p.initialCapital) / p.initialCapital * 100

	years := end.Sub(start).Hours() / 24 / 365
	if years > 0 && p.equity > 0 {
		r.AnnualizedReturn = (math.Pow(p.equity/p.initialCapital, 1/years) - 1) * 100
	}

	r.TotalTrades = p.totalTrades
	r.WinRate = float64(p.winningTrades) / float64(p.totalTrades) * 100

	r.MaxDrawdown = p.maxDrawdown
	r.MaxDrawdownPct = p.maxDrawdownPct
	r.SharpeRatio = sharpeRatio(p.equityCurve)
	r.SortinoRatio = sortinoRatio(p.equityCurve)
	if p.maxDrawdownPct > 0 {
		r.CalmarRatio = r.AnnualizedReturn / p.maxDrawdownPct
	}

	if p.grossLoss > 0 {
		r.ProfitFactor = p.grossProfit / p.grossLoss
	} else if p.grossProfit > 0 {
		r.ProfitFactor = math.Inf(1)
	}

	totalPnL := p.grossProfit - p.grossLoss
	r.AverageTrade = totalPnL / float64(p.totalTrades)
	r.ExpectedValue = r.AverageTrade
	if p.winningTrades > 0 {
		r.AverageWin = p.grossProfit / float64(p.winningTrades)
	}
	if p.losingTrades > 0 {
		r.AverageLoss = -p.grossLoss / float64(p.losingTrades)
	}
	r.LargestWin = p.largestWin
	r.LargestLoss = p.largestLoss

	r.AverageHoldTime = averageHoldTime(p.trades, func(Trade) bool { return true })
	r.WinningHoldTime = averageHoldTime(p.trades, func(t Trade) bool { return t.PnL > 0 })
	r.LosingHoldTime = averageHoldTime(p.trades, func(t Trade) bool { return t.PnL < 0 })

	if r.AverageLoss != 0 {
		r.WinLossRatio = r.AverageWin / math.Abs(r.AverageLoss)
	}
	r.MaxConsecutiveWins = p.maxConsecutiveWins
	r.MaxConsecutiveLosses = p.maxConsecutiveLosses
	if p.maxDrawdown > 0 {
		r.RecoveryFactor = totalPnL / p.maxDrawdown
	}

	r.MonthlyReturns = monthlyReturns(p, bars)
	r.TradeDistribution = tradeDistribution(p.trades)
	return r
}

// barReturns converts the equity curve into simple per-bar returns.
func barReturns(curve []float64) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (curve[i]-curve[i-1])/curve[i-1])
	}
	return returns
}

// sharpeRatio annualizes mean/stddev of per-bar returns against a 2%
// risk-free rate, treating each bar as one trading day.
func sharpeRatio(curve []float64) float64 {
	returns := barReturns(curve)
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)))
	if stdDev == 0 {
		return 0
	}

	annualizedReturn := mean * tradingDaysPerYear
	annualizedStdDev := stdDev * math.Sqrt(tradingDaysPerYear)
	return (annualizedReturn - riskFreeRate) / annualizedStdDev
}

// sortinoRatio is the downside-deviation variant. A curve with no negative
// bars returns +Inf; callers that serialize results clamp it.
func sortinoRatio(curve []float64) float64 {
	returns := barReturns(curve)
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	downsideVariance := 0.0
	downsideCount := 0
	for _, r := range returns {
		if r < 0 {
			downsideVariance += r * r
			downsideCount++
		}
	}
	if downsideCount == 0 {
		return math.Inf(1)
	}

	downsideStdDev := math.Sqrt(downsideVariance / float64(downsideCount))
	if downsideStdDev == 0 {
		return 0
	}

	annualizedReturn := mean * tradingDaysPerYear
	annualizedDownside := downsideStdDev * math.Sqrt(tradingDaysPerYear)
	return (annualizedReturn - riskFreeRate) / annualizedDownside
}

func averageHoldTime(trades []Trade, keep func(Trade) bool) time.Duration {
	total := time.Duration(0)
	count := 0
	for _, t := range trades {
		if keep(t) {
			total += t.Duration
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// monthlyReturns chains month-close equity readings into per-month returns.
func monthlyReturns(p *Portfolio, bars []market.Bar) map[string]float64 {
	monthClose := make(map[string]float64)
	var months []string
	for i, bar := range bars {
		// equityCurve[0] is the initial capital; entry i+1 is bar i.
		if i+1 >= len(p.equityCurve) {
			break
		}
		month := bar.Time.Format("2006-01")
		if _, seen := monthClose[month]; !seen {
			months = append(months, month)
		}
		monthClose[month] = p.equityCurve[i+1]
	}
	sort.Strings(months)

	out := make(map[string]float64, len(months))
	prev := p.initialCapital
	for _, month := range months {
		closeEquity := monthClose[month]
		if prev != 0 {
			out[month] = (closeEquity - prev) / prev * 100
		}
		prev = closeEquity
	}
	return out
}

// Summary renders the report as a readable block for the run log.
func (r *Results) Summary(symbol, strategy string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "==== backtest results: %s / %s ====\n", symbol, strategy)
	fmt.Fprintf(&b, "total return: %.2f%% (annualized %.2f%%)\n", r.TotalReturn, r.AnnualizedReturn)
	fmt.Fprintf(&b, "trades: %d | win rate: %.1f%% | profit factor: %.2f\n",
		r.TotalTrades, r.WinRate, r.ProfitFactor)
	fmt.Fprintf(&b, "sharpe: %.2f | sortino: %.2f | calmar: %.2f\n",
		r.SharpeRatio, r.SortinoRatio, r.CalmarRatio)
	fmt.Fprintf(&b, "max drawdown: %.2f (%.2f%%) | recovery factor: %.2f\n",
		r.MaxDrawdown, r.MaxDrawdownPct, r.RecoveryFactor)
	fmt.Fprintf(&b, "avg trade: %.2f | avg win: %.2f | avg loss: %.2f\n",
		r.AverageTrade, r.AverageWin, r.AverageLoss)
	fmt.Fprintf(&b, "avg hold: %s | streaks: %dW / %dL",
		r.AverageHoldTime.Round(time.Minute), r.MaxConsecutiveWins, r.MaxConsecutiveLosses)
	return b.String()
}

// tradeDistribution returns the sorted per-trade P&L percentages.
func tradeDistribution(trades []Trade) []float64 {
	dist := make([]float64, 0, len(trades))
	for _, t := range trades {
		dist = append(dist, t.PnLPercent)
	}
	sort.Float64s(dist)
	return dist
}
