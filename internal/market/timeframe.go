package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe describes a bar interval (internal duration + the interval key
// the data source expects).
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

var supportedTimeframes = map[string]Timeframe{
	"5m":  {Key: "5m", Duration: 5 * time.Minute, SourceInterval: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, SourceInterval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, SourceInterval: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, SourceInterval: "1h"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, SourceInterval: "4h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1d"},
}

// ParseTimeframe returns the normalized timeframe definition.
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe: %s", input)
	}
	return tf, nil
}

// SupportedTimeframes returns all supported keys, sorted.
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (tf Timeframe) durationMillis() int64 {
	return tf.Duration.Milliseconds()
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange aligns millisecond timestamps down to the timeframe grid,
// guaranteeing start <= end.
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	step := tf.durationMillis()
	if end < start {
		start, end = end, start
	}
	alStart := alignDown(start, step)
	alEnd := alignDown(end, step)
	if alEnd < alStart {
		alEnd = alStart
	}
	return alStart, alEnd
}

// ExpectedBars counts the bars that should exist on [start, end] inclusive.
func (tf Timeframe) ExpectedBars(start, end int64) int64 {
	if end < start {
		return 0
	}
	step := tf.durationMillis()
	if step == 0 {
		return 0
	}
	return ((end - start) / step) + 1
}
