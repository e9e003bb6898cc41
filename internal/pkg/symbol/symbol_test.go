package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	t.Run("internal form", func(t *testing.T) {
		sym := Parse("btc/usdt")
		assert.Equal(t, "BTC", sym.Base)
		assert.Equal(t, "USDT", sym.Quote)
		assert.Equal(t, "BTC/USDT", sym.Internal())
		assert.Equal(t, "BTCUSDT", sym.Exchange())
	})

	t.Run("exchange form", func(t *testing.T) {
		sym := Parse("ETHUSDT")
		assert.Equal(t, "ETH", sym.Base)
		assert.Equal(t, "USDT", sym.Quote)
	})

	t.Run("settlement suffix stripped", func(t *testing.T) {
		sym := Parse("BTC/USDT:USDT")
		assert.Equal(t, "BTC/USDT", sym.Internal())
	})

	t.Run("unknown quote", func(t *testing.T) {
		sym := Parse("FOOBAR")
		assert.Empty(t, sym.Base)
		assert.Empty(t, sym.Internal())
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Parse("  ").Base)
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "BTCUSDT", Normalize("btc/usdt"))
	assert.Equal(t, "BTCUSDT", Normalize("BTCUSDT"))
	assert.Equal(t, "SOLBNB", Normalize("sol/bnb"))
	// Unparseable inputs pass through uppercased.
	assert.Equal(t, "FOOBAR", Normalize("foobar"))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("BTCUSDT"))
	assert.True(t, IsValid("eth/usdc"))
	assert.False(t, IsValid(""))
	assert.False(t, IsValid("FOOBAR"))
}
