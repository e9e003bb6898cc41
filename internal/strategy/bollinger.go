package strategy

import (
	"quantbt/internal/market"

	talib "github.com/markcheno/go-talib"
)

// Bollinger buys touches of the lower band and sells touches of the upper
// band.
type Bollinger struct {
	symbol        string
	period        int
	numStdDev     float64
	stopLossPct   float64
	takeProfitPct float64

	closes     []float64
	lastSignal Action
}

func NewBollinger(symbol string) *Bollinger {
	return &Bollinger{
		symbol:        symbol,
		period:        20,
		numStdDev:     2.0,
		stopLossPct:   0.05,
		takeProfitPct: 0.10,
	}
}

func (s *Bollinger) ProcessBar(bar market.Bar, view PortfolioView) Signal {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.period {
		return Signal{Action: Hold}
	}
	upper, _, lower := talib.BBands(s.closes, s.period, s.numStdDev, s.numStdDev, talib.SMA)
	upperBand := upper[len(upper)-1]
	lowerBand := lower[len(lower)-1]

	if bar.Close <= lowerBand && s.lastSignal != Buy {
		s.lastSignal = Buy
		return Signal{
			Action:     Buy,
			Quantity:   1,
			StopLoss:   bar.Close * (1 - s.stopLossPct),
			TakeProfit: bar.Close * (1 + s.takeProfitPct),
		}
	}
	if bar.Close >= upperBand && s.lastSignal != Sell {
		s.lastSignal = Sell
		return Signal{Action: Sell}
	}
	return Signal{Action: Hold}
}

func (s *Bollinger) Parameters() Params {
	return Params{
		"period":          IntValue(s.period),
		"num_std_dev":     FloatValue(s.numStdDev),
		"stop_loss_pct":   FloatValue(s.stopLossPct),
		"take_profit_pct": FloatValue(s.takeProfitPct),
	}
}

func (s *Bollinger) SetParameters(params Params) error {
	if v, ok := params.Int("period"); ok {
		s.period = v
	}
	if v, ok := params.Float("num_std_dev"); ok {
		s.numStdDev = v
	}
	if v, ok := params.Float("stop_loss_pct"); ok {
		s.stopLossPct = v
	}
	if v, ok := params.Float("take_profit_pct"); ok {
		s.takeProfitPct = v
	}
	return nil
}

func (s *Bollinger) ParameterRanges() map[string]ParameterRange {
	return map[string]ParameterRange{
		"period":          IntRange("period", 10, 30, 5),
		"num_std_dev":     FloatRange("num_std_dev", 1.5, 3.0, 0.5),
		"stop_loss_pct":   FloatRange("stop_loss_pct", 0.02, 0.08, 0.02),
		"take_profit_pct": FloatRange("take_profit_pct", 0.05, 0.15, 0.05),
	}
}

func (s *Bollinger) Reset() {
	s.closes = nil
	s.lastSignal = ""
}

func (s *Bollinger) Clone() Optimizable {
	cp := *s
	cp.closes = append([]float64(nil), s.closes...)
	return &cp
}
