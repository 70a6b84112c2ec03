package currency

import (
	"fmt"
	"math"
	"strings"
)

// Asset names a ledger asset. Fiat assets use their ISO code.
type Asset string

const (
	CkBTC  Asset = "CKBTC"
	CkUSDC Asset = "CKUSDC"
)

// Supported fiat currencies in menu order.
var Fiat = []string{"KES", "UGX", "TZS", "RWF", "NGN", "GHS", "ZAR"}

// DefaultFiat is used when a phone prefix is not recognized.
const DefaultFiat = "UGX"

var phonePrefixes = []struct {
	prefix   string
	currency string
}{
	{"256", "UGX"},
	{"254", "KES"},
	{"255", "TZS"},
	{"250", "RWF"},
	{"234", "NGN"},
	{"233", "GHS"},
	{"27", "ZAR"},
}

// DetectFromPhone infers the home currency from a phone's country code.
func DetectFromPhone(phone string) string {
	digits := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	for _, p := range phonePrefixes {
		if strings.HasPrefix(digits, p.prefix) {
			return p.currency
		}
	}
	return DefaultFiat
}

// IsFiat reports whether code is a supported fiat currency.
func IsFiat(code string) bool {
	for _, c := range Fiat {
		if c == code {
			return true
		}
	}
	return false
}

// FiatByIndex maps a 1-based menu choice to a currency code.
func FiatByIndex(choice string) (string, bool) {
	if len(choice) != 1 || choice[0] < '1' || choice[0] > '7' {
		return "", false
	}
	return Fiat[choice[0]-'1'], true
}

// Decimals returns the number of minor-unit digits for an asset.
func Decimals(asset Asset) int {
	switch asset {
	case CkBTC:
		return 8
	case CkUSDC:
		return 6
	default:
		return 2
	}
}

func scale(asset Asset) float64 {
	return math.Pow10(Decimals(asset))
}

// ToMinor converts a major-unit amount into the asset's smallest unit.
// NaN maps to zero and values beyond the int64 range saturate.
func ToMinor(asset Asset, major float64) int64 {
	v := math.Round(major * scale(asset))
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}

// ToMajor converts smallest units back into major units.
func ToMajor(asset Asset, minor int64) float64 {
	return float64(minor) / scale(asset)
}

// Format renders an amount the way USSD screens show it: fiat and USDC
// with 2 decimals, BTC with 8.
func Format(asset Asset, minor int64) string {
	digits := 2
	if asset == CkBTC {
		digits = 8
	}
	return fmt.Sprintf("%.*f", digits, ToMajor(asset, minor))
}

// Label is the user-facing name of an asset.
func Label(asset Asset) string {
	switch asset {
	case CkBTC:
		return "ckBTC"
	case CkUSDC:
		return "ckUSDC"
	default:
		return string(asset)
	}
}
