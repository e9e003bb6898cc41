package strategy

import (
	"quantbt/internal/market"
)

// VWAP fades deviations from the rolling volume-weighted average price:
// buy when price sits below VWAP by the deviation threshold, sell when it
// sits above by the same threshold.
type VWAP struct {
	symbol        string
	period        int
	deviationPct  float64
	stopLossPct   float64
	takeProfitPct float64

	closes     []float64
	volumes    []float64
	lastSignal Action
}

func NewVWAP(symbol string) *VWAP {
	return &VWAP{
		symbol:        symbol,
		period:        20,
		deviationPct:  0.02,
		stopLossPct:   0.05,
		takeProfitPct: 0.10,
	}
}

func (s *VWAP) ProcessBar(bar market.Bar, view PortfolioView) Signal {
	s.closes = append(s.closes, bar.Close)
	s.volumes = append(s.volumes, bar.Volume)
	if len(s.closes) < s.period {
		return Signal{Action: Hold}
	}
	vwap := rollingVWAP(s.closes, s.volumes, s.period)

	if bar.Close < vwap*(1-s.deviationPct) && s.lastSignal != Buy {
		s.lastSignal = Buy
		return Signal{
			Action:     Buy,
			Quantity:   1,
			StopLoss:   bar.Close * (1 - s.stopLossPct),
			TakeProfit: bar.Close * (1 + s.takeProfitPct),
		}
	}
	if bar.Close > vwap*(1+s.deviationPct) && s.lastSignal != Sell {
		s.lastSignal = Sell
		return Signal{Action: Sell}
	}
	return Signal{Action: Hold}
}

// rollingVWAP computes VWAP over the trailing window. go-talib has no VWAP
// primitive, so this stays a local loop.
func rollingVWAP(closes, volumes []float64, period int) float64 {
	start := len(closes) - period
	sumPV := 0.0
	sumV := 0.0
	for i := start; i < len(closes); i++ {
		sumPV += closes[i] * volumes[i]
		sumV += volumes[i]
	}
	if sumV == 0 {
		return closes[len(closes)-1]
	}
	return sumPV / sumV
}

func (s *VWAP) Parameters() Params {
	return Params{
		"vwap_period":     IntValue(s.period),
		"deviation_pct":   FloatValue(s.deviationPct),
		"stop_loss_pct":   FloatValue(s.stopLossPct),
		"take_profit_pct": FloatValue(s.takeProfitPct),
	}
}

func (s *VWAP) SetParameters(params Params) error {
	if v, ok := params.Int("vwap_period"); ok {
		s.period = v
	}
	if v, ok := params.Float("deviation_pct"); ok {
		s.deviationPct = v
	}
	if v, ok := params.Float("stop_loss_pct"); ok {
		s.stopLossPct = v
	}
	if v, ok := params.Float("take_profit_pct"); ok {
		s.takeProfitPct = v
	}
	return nil
}

func (s *VWAP) ParameterRanges() map[string]ParameterRange {
	return map[string]ParameterRange{
		"vwap_period":     IntRange("vwap_period", 10, 40, 10),
		"deviation_pct":   FloatRange("deviation_pct", 0.01, 0.04, 0.01),
		"stop_loss_pct":   FloatRange("stop_loss_pct", 0.02, 0.08, 0.02),
		"take_profit_pct": FloatRange("take_profit_pct", 0.05, 0.15, 0.05),
	}
}

func (s *VWAP) Reset() {
	s.closes = nil
	s.volumes = nil
	s.lastSignal = ""
}

func (s *VWAP) Clone() Optimizable {
	cp := *s
	cp.closes = append([]float64(nil), s.closes...)
	cp.volumes = append([]float64(nil), s.volumes...)
	return &cp
}
