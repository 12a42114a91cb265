// Package coins implements exact fixed-point coin arithmetic.
//
// Amounts are represented as int64 satoshis (1 coin = 1e8 satoshis),
// the same representation btcutil.Amount uses, to avoid the binary
// float rounding errors that would otherwise creep into quoting, coin
// selection and change calculation. On the wire (JSON, RPC params)
// amounts are always decimal strings.
package coins

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Satoshi is the smallest unit: one hundred-millionth of a coin.
const Satoshi int64 = 1

// OneCoin is 1.00000000 in satoshis. Left untyped so it converts
// implicitly to both int64 (used internally here) and Amount (used by
// callers), instead of forcing a conversion at every call site.
const OneCoin = 100_000_000

// Amount is an exact quantity of coin, stored as satoshis.
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// FromCoins converts a float64 coin value (e.g. parsed from untrusted
// JSON input) into an Amount, rounding to the nearest satoshi.
func FromCoins(coins float64) Amount {
	if math.IsNaN(coins) || math.IsInf(coins, 0) {
		return 0
	}
	return Amount(math.Round(coins * float64(OneCoin)))
}

// ToCoins returns the amount as a float64 number of coins. Only use
// this at RPC/display boundaries that require a float; never for
// arithmetic.
func (a Amount) ToCoins() float64 {
	return float64(a) / float64(OneCoin)
}

// ParseDecimal parses a decimal string ("0.00012345") into an Amount,
// preserving full precision (unlike FromCoins, which round-trips
// through float64).
func ParseDecimal(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("coins: empty amount string")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("coins: invalid amount %q: %w", s, err)
	}
	var fracVal int64
	if hasFrac {
		if len(frac) > 8 {
			frac = frac[:8]
		}
		for len(frac) < 8 {
			frac += "0"
		}
		fracVal, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("coins: invalid amount %q: %w", s, err)
		}
	}
	total := wholeVal*OneCoin + fracVal
	if neg {
		total = -total
	}
	return Amount(total), nil
}

// String renders the amount as a fixed 8-decimal-place string, the
// format expected on the wire by the node RPC and by the job store.
func (a Amount) String() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}
	whole := v / OneCoin
	frac := v % OneCoin
	s := fmt.Sprintf("%d.%08d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

// MarshalJSON renders the amount as a quoted decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON
// number, so API clients that send `"amount": 1.5` still work.
func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*a = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := ParseDecimal(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Quantize rounds down to the nearest satoshi; amounts are already
// integral satoshis so this is a no-op kept for call sites that
// previously operated on floats and now document the invariant.
func (a Amount) Quantize() Amount { return a }

func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// MulPercent multiplies the amount by a fraction (e.g. 0.0041 for
// 0.41%), rounding to the nearest satoshi. percent is a float64
// because fee percentages come from configuration, not from chained
// money arithmetic; apart from the FromCoins/ToCoins boundary
// conversions, the single multiply-and-round here is the only place
// floats touch amounts, and it happens once per computation rather
// than accumulating.
func (a Amount) MulPercent(percent float64) Amount {
	return Amount(math.Round(float64(a) * percent))
}
