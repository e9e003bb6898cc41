package symbol

import (
	"strings"
)

// Symbol is a parsed trading pair. Requests may spell pairs either in the
// internal "BTC/USDT" form or the exchange "BTCUSDT" form; storage and the
// exchange APIs always use the joined form.
type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Parse accepts "btc/usdt", "BTCUSDT", or "BTC/USDT:USDT" style inputs.
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}

	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}

	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}

	quoteCurrencies := []string{"USDT", "BUSD", "USDC", "TUSD", "BTC", "ETH", "BNB"}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}

	return Symbol{}
}

// Normalize returns the exchange form, or the uppercased input when the
// pair cannot be parsed.
func Normalize(s string) string {
	if sym := Parse(s); sym.Base != "" {
		return sym.Exchange()
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
