package strategy

import (
	"quantbt/internal/market"

	talib "github.com/markcheno/go-talib"
)

// RSI is a mean-reversion strategy: buy when RSI drops below the oversold
// level, sell when it rises above the overbought level.
type RSI struct {
	symbol          string
	period          int
	oversoldLevel   float64
	overboughtLevel float64
	stopLossPct     float64
	takeProfitPct   float64

	closes     []float64
	lastSignal Action
}

func NewRSI(symbol string) *RSI {
	return &RSI{
		symbol:          symbol,
		period:          14,
		oversoldLevel:   30,
		overboughtLevel: 70,
		stopLossPct:     0.05,
		takeProfitPct:   0.10,
	}
}

func (s *RSI) ProcessBar(bar market.Bar, view PortfolioView) Signal {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.period+1 {
		return Signal{Action: Hold}
	}
	series := talib.Rsi(s.closes, s.period)
	rsi := series[len(series)-1]

	if rsi < s.oversoldLevel && s.lastSignal != Buy {
		s.lastSignal = Buy
		return Signal{
			Action:     Buy,
			Quantity:   1,
			StopLoss:   bar.Close * (1 - s.stopLossPct),
			TakeProfit: bar.Close * (1 + s.takeProfitPct),
		}
	}
	if rsi > s.overboughtLevel && s.lastSignal != Sell {
		s.lastSignal = Sell
		return Signal{Action: Sell}
	}
	return Signal{Action: Hold}
}

func (s *RSI) Parameters() Params {
	return Params{
		"rsi_period":       IntValue(s.period),
		"oversold_level":   FloatValue(s.oversoldLevel),
		"overbought_level": FloatValue(s.overboughtLevel),
		"stop_loss_pct":    FloatValue(s.stopLossPct),
		"take_profit_pct":  FloatValue(s.takeProfitPct),
	}
}

func (s *RSI) SetParameters(params Params) error {
	if v, ok := params.Int("rsi_period"); ok {
		s.period = v
	}
	if v, ok := params.Float("oversold_level"); ok {
		s.oversoldLevel = v
	}
	if v, ok := params.Float("overbought_level"); ok {
		s.overboughtLevel = v
	}
	if v, ok := params.Float("stop_loss_pct"); ok {
		s.stopLossPct = v
	}
	if v, ok := params.Float("take_profit_pct"); ok {
		s.takeProfitPct = v
	}
	return nil
}

func (s *RSI) ParameterRanges() map[string]ParameterRange {
	return map[string]ParameterRange{
		"rsi_period":       IntRange("rsi_period", 7, 28, 7),
		"oversold_level":   FloatRange("oversold_level", 20, 35, 5),
		"overbought_level": FloatRange("overbought_level", 65, 80, 5),
		"stop_loss_pct":    FloatRange("stop_loss_pct", 0.02, 0.08, 0.02),
		"take_profit_pct":  FloatRange("take_profit_pct", 0.05, 0.15, 0.05),
	}
}

func (s *RSI) Reset() {
	s.closes = nil
	s.lastSignal = ""
}

func (s *RSI) Clone() Optimizable {
	cp := *s
	cp.closes = append([]float64(nil), s.closes...)
	return &cp
}
