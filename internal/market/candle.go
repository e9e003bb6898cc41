package market

import "time"

// Candle is the raw exchange kline row, timestamps in Unix milliseconds.
// It is the storage and wire representation; simulations consume Bar.
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Bar converts the candle into the simulation representation.
func (c Candle) Bar() Bar {
	return Bar{
		Time:   time.UnixMilli(c.OpenTime).UTC(),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

// Bars converts a candle series, preserving order.
func Bars(candles []Candle) []Bar {
	out := make([]Bar, len(candles))
	for i, c := range candles {
		out[i] = c.Bar()
	}
	return out
}
