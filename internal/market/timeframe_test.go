package market

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)
	assert.Equal(t, time.Hour, tf.Duration)
	assert.Equal(t, "1h", tf.SourceInterval)

	_, err = ParseTimeframe("7m")
	assert.Error(t, err)
}

func TestSupportedTimeframes(t *testing.T) {
	keys := SupportedTimeframes()
	assert.Contains(t, keys, "5m")
	assert.Contains(t, keys, "1d")
	assert.True(t, sort.StringsAreSorted(keys))
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	hour := int64(3600_000)

	t.Run("aligns down to the grid", func(t *testing.T) {
		start, end := tf.AlignRange(hour+1, 3*hour+59)
		assert.Equal(t, hour, start)
		assert.Equal(t, 3*hour, end)
	})

	t.Run("swaps inverted bounds", func(t *testing.T) {
		start, end := tf.AlignRange(3*hour, hour)
		assert.Equal(t, hour, start)
		assert.Equal(t, 3*hour, end)
	})

	t.Run("degenerate range collapses to one slot", func(t *testing.T) {
		start, end := tf.AlignRange(hour+5, hour+10)
		assert.Equal(t, start, end)
	})
}

func TestExpectedBars(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	hour := int64(3600_000)

	assert.Equal(t, int64(1), tf.ExpectedBars(0, 0))
	assert.Equal(t, int64(4), tf.ExpectedBars(0, 3*hour))
	assert.Equal(t, int64(0), tf.ExpectedBars(hour, 0))
}

func TestSubset(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]Bar, 10)
	for i := range bars {
		bars[i] = Bar{Time: base.Add(time.Duration(i) * time.Hour), Close: float64(i)}
	}

	sub := Subset(bars, base.Add(2*time.Hour), base.Add(6*time.Hour))
	require.Len(t, sub, 3)
	assert.Equal(t, 3.0, sub[0].Close)
	assert.Equal(t, 5.0, sub[len(sub)-1].Close)

	assert.Empty(t, Subset(bars, base.Add(20*time.Hour), base.Add(30*time.Hour)))
}

func TestCandleBar(t *testing.T) {
	c := Candle{OpenTime: 1704067200000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
	bar := c.Bar()
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), bar.Time)
	assert.Equal(t, 1.5, bar.Close)

	bars := Bars([]Candle{c, {OpenTime: 1704070800000, Close: 2}})
	require.Len(t, bars, 2)
	assert.True(t, bars[1].Time.After(bars[0].Time))
}
