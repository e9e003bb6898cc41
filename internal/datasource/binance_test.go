package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKlines(t *testing.T) {
	// Binance kline rows: prices as strings, timestamps as numbers.
	body := []byte(`[
		[1704067200000,"42000.1","42500.5","41800.0","42300.2","1523.4",1704070799999,"64000000.0",4200,"800.1","33000000.0","0"],
		[1704070800000,"42300.2","42600.0","42100.0","42450.9","987.6",1704074399999,"41000000.0",3100,"500.2","21000000.0","0"]
	]`)

	candles := parseKlines(body)
	require.Len(t, candles, 2)

	first := candles[0]
	assert.Equal(t, int64(1704067200000), first.OpenTime)
	assert.Equal(t, int64(1704070799999), first.CloseTime)
	assert.Equal(t, 42000.1, first.Open)
	assert.Equal(t, 42500.5, first.High)
	assert.Equal(t, 41800.0, first.Low)
	assert.Equal(t, 42300.2, first.Close)
	assert.Equal(t, 1523.4, first.Volume)
	assert.Equal(t, int64(4200), first.Trades)
}

func TestParseKlinesSkipsShortRows(t *testing.T) {
	body := []byte(`[
		[1704067200000,"1","2","0.5","1.5"],
		[1704070800000,"1","2","0.5","1.5","10",1704074399999,"15",7,"5","7.5","0"]
	]`)
	candles := parseKlines(body)
	require.Len(t, candles, 1)
	assert.Equal(t, int64(1704070800000), candles[0].OpenTime)
}

func TestParseKlinesEmptyAndMalformed(t *testing.T) {
	assert.Empty(t, parseKlines([]byte(`[]`)))
	assert.Empty(t, parseKlines([]byte(`not json`)))
}
