package strategy

import (
	"quantbt/internal/market"

	talib "github.com/markcheno/go-talib"
)

// MACD trades crossovers of the MACD line against its signal line.
type MACD struct {
	symbol        string
	fastPeriod    int
	slowPeriod    int
	signalPeriod  int
	stopLossPct   float64
	takeProfitPct float64

	closes     []float64
	prevMACD   float64
	prevSignal float64
	havePrev   bool
	lastSignal Action
}

func NewMACD(symbol string) *MACD {
	return &MACD{
		symbol:        symbol,
		fastPeriod:    12,
		slowPeriod:    26,
		signalPeriod:  9,
		stopLossPct:   0.05,
		takeProfitPct: 0.10,
	}
}

func (s *MACD) ProcessBar(bar market.Bar, view PortfolioView) Signal {
	s.closes = append(s.closes, bar.Close)
	if len(s.closes) < s.slowPeriod+s.signalPeriod {
		return Signal{Action: Hold}
	}
	macdLine, signalLine, _ := talib.Macd(s.closes, s.fastPeriod, s.slowPeriod, s.signalPeriod)
	macd := macdLine[len(macdLine)-1]
	sigLine := signalLine[len(signalLine)-1]

	sig := Signal{Action: Hold}
	if s.havePrev {
		if s.prevMACD <= s.prevSignal && macd > sigLine && s.lastSignal != Buy {
			sig = Signal{
				Action:     Buy,
				Quantity:   1,
				StopLoss:   bar.Close * (1 - s.stopLossPct),
				TakeProfit: bar.Close * (1 + s.takeProfitPct),
			}
			s.lastSignal = Buy
		}
		if s.prevMACD >= s.prevSignal && macd < sigLine && s.lastSignal != Sell {
			sig = Signal{Action: Sell}
			s.lastSignal = Sell
		}
	}
	s.prevMACD = macd
	s.prevSignal = sigLine
	s.havePrev = true
	return sig
}

func (s *MACD) Parameters() Params {
	return Params{
		"fast_period":     IntValue(s.fastPeriod),
		"slow_period":     IntValue(s.slowPeriod),
		"signal_period":   IntValue(s.signalPeriod),
		"stop_loss_pct":   FloatValue(s.stopLossPct),
		"take_profit_pct": FloatValue(s.takeProfitPct),
	}
}

func (s *MACD) SetParameters(params Params) error {
	if v, ok := params.Int("fast_period"); ok {
		s.fastPeriod = v
	}
	if v, ok := params.Int("slow_period"); ok {
		s.slowPeriod = v
	}
	if v, ok := params.Int("signal_period"); ok {
		s.signalPeriod = v
	}
	if v, ok := params.Float("stop_loss_pct"); ok {
		s.stopLossPct = v
	}
	if v, ok := params.Float("take_profit_pct"); ok {
		s.takeProfitPct = v
	}
	return nil
}

func (s *MACD) ParameterRanges() map[string]ParameterRange {
	return map[string]ParameterRange{
		"fast_period":     IntRange("fast_period", 8, 16, 4),
		"slow_period":     IntRange("slow_period", 20, 32, 6),
		"signal_period":   IntRange("signal_period", 6, 12, 3),
		"stop_loss_pct":   FloatRange("stop_loss_pct", 0.02, 0.08, 0.02),
		"take_profit_pct": FloatRange("take_profit_pct", 0.05, 0.15, 0.05),
	}
}

func (s *MACD) Reset() {
	s.closes = nil
	s.prevMACD = 0
	s.prevSignal = 0
	s.havePrev = false
	s.lastSignal = ""
}

func (s *MACD) Clone() Optimizable {
	cp := *s
	cp.closes = append([]float64(nil), s.closes...)
	return &cp
}
