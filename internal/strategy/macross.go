package strategy

import (
	"quantbt/internal/market"

	talib "github.com/markcheno/go-talib"
)

// MACross trades golden/death crosses of two simple moving averages.
type MACross struct {
	symbol        string
	shortPeriod   int
	longPeriod    int
	stopLossPct   float64
	takeProfitPct float64

	closes     []float64
	prevShort  float64
	prevLong   float64
	havePrev   bool
	lastSignal Action
}

func NewMACross(symbol string) *MACross {
	return &MACross{
		symbol:        symbol,
		shortPeriod:   10,
		longPeriod:    20,
		stopLossPct:   0.05,
		takeProfitPct: 0.10,
	}
}

func (s *MACross) ProcessBar(bar market.Bar, view PortfolioView) Signal {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.longPeriod {
		return Signal{Action: Hold}
	}
	shortSeries := talib.Sma(s.closes, s.shortPeriod)
	longSeries := talib.Sma(s.closes, s.longPeriod)
	shortMA := shortSeries[len(shortSeries)-1]
	longMA := longSeries[len(longSeries)-1]

	sig := Signal{Action: Hold}
	if s.havePrev {
		// Golden cross: short MA crosses above long MA.
		if s.prevShort <= s.prevLong && shortMA > longMA && s.lastSignal != Buy {
			sig = Signal{
				Action:     Buy,
				Quantity:   1,
				StopLoss:   bar.Close * (1 - s.stopLossPct),
				TakeProfit: bar.Close * (1 + s.takeProfitPct),
			}
			s.lastSignal = Buy
		}
		// Death cross: short MA crosses below long MA.
		if s.prevShort >= s.prevLong && shortMA < longMA && s.lastSignal != Sell {
			sig = Signal{Action: Sell}
			s.lastSignal = Sell
		}
	}
	s.prevShort = shortMA
	s.prevLong = longMA
	s.havePrev = true
	return sig
}

func (s *MACross) Parameters() Params {
	return Params{
		"short_period":    IntValue(s.shortPeriod),
		"long_period":     IntValue(s.longPeriod),
		"stop_loss_pct":   FloatValue(s.stopLossPct),
		"take_profit_pct": FloatValue(s.takeProfitPct),
	}
}

func (s *MACross) SetParameters(params Params) error {
	if v, ok := params.Int("short_period"); ok {
		s.shortPeriod = v
	}
	if v, ok := params.Int("long_period"); ok {
		s.longPeriod = v
	}
	if v, ok := params.Float("stop_loss_pct"); ok {
		s.stopLossPct = v
	}
	if v, ok := params.Float("take_profit_pct"); ok {
		s.takeProfitPct = v
	}
	return nil
}

func (s *MACross) ParameterRanges() map[string]ParameterRange {
	return map[string]ParameterRange{
		"short_period":    IntRange("short_period", 5, 20, 5),
		"long_period":     IntRange("long_period", 20, 60, 10),
		"stop_loss_pct":   FloatRange("stop_loss_pct", 0.02, 0.08, 0.02),
		"take_profit_pct": FloatRange("take_profit_pct", 0.05, 0.15, 0.05),
	}
}

func (s *MACross) Reset() {
	s.closes = nil
	s.prevShort = 0
	s.prevLong = 0
	s.havePrev = false
	s.lastSignal = ""
}

func (s *MACross) Clone() Optimizable {
	cp := *s
	cp.closes = append([]float64(nil), s.closes...)
	return &cp
}
