package kucoin

import "strings"

// KuCoin's futures alphabet differs from everyone else's: Bitcoin trades as
// XBT and contract symbols carry a trailing M (XBTUSDTM, XBTUSDM). encode and
// decode are inverses so symbols survive a round trip unchanged.

func (k *KuCoin) encode(symbol string) string {
	if !k.futures() || symbol == "" {
		return symbol
	}
	if strings.HasPrefix(symbol, "BTC") {
		symbol = "XBT" + symbol[3:]
	}
	if strings.HasSuffix(symbol, "USDT") || strings.HasSuffix(symbol, "USDC") || strings.HasSuffix(symbol, "USD") {
		symbol += "M"
	}
	return symbol
}

func (k *KuCoin) decode(symbol string) string {
	if !k.futures() || symbol == "" {
		return symbol
	}
	for _, suffix := range []string{"USDTM", "USDCM", "USDM"} {
		if strings.HasSuffix(symbol, suffix) {
			symbol = symbol[:len(symbol)-1]
			break
		}
	}
	if strings.HasPrefix(symbol, "XBT") {
		symbol = "BTC" + symbol[3:]
	}
	return symbol
}

func decodeCurrency(c string) string {
	if c == "XBT" {
		return "BTC"
	}
	return c
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
