package market

import "time"

// Bar is a single OHLCV price bar. Bars are immutable once produced by a
// data source and are always ordered ascending by Time.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Closes extracts the close series, oldest first.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Highs extracts the high series.
func Highs(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// Lows extracts the low series.
func Lows(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// Volumes extracts the volume series.
func Volumes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// Subset returns the bars whose timestamps fall inside (start, end),
// exclusive on both ends. The returned slice shares backing storage with
// the input; callers must treat it as read-only.
func Subset(bars []Bar, start, end time.Time) []Bar {
	lo := 0
	for lo < len(bars) && !bars[lo].Time.After(start) {
		lo++
	}
	hi := lo
	for hi < len(bars) && bars[hi].Time.Before(end) {
		hi++
	}
	return bars[lo:hi]
}
