package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// EtherDecimals is the number of decimals of every native token we support.
const EtherDecimals = 18

// FormatBigInt converts a base unit amount to a human-readable string.
// Example: amount=1234500000000000000, decimals=18 => "1.2345"
func FormatBigInt(amount *big.Int, decimals uint8) (string, error) {
	if amount == nil {
		return "0", nil
	}
	if decimals == 0 {
		return amount.String(), nil
	}

	// Integer division keeps every digit, big.Float would round long balances.
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	abs := new(big.Int).Abs(amount)
	whole, frac := new(big.Int).QuoRem(abs, divisor, new(big.Int))

	fracStr := frac.String()
	if pad := int(decimals) - len(fracStr); pad > 0 {
		fracStr = strings.Repeat("0", pad) + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")

	formatted := whole.String()
	if fracStr != "" {
		formatted += "." + fracStr
	}
	if amount.Sign() < 0 {
		formatted = "-" + formatted
	}
	return formatted, nil
}

// ParseUnits is the inverse of FormatBigInt: "0.001" with 18 decimals => 1000000000000000.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty amount")
	}
	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", value, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	out, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if negative {
		out.Neg(out)
	}
	return out, nil
}

// WeiToEther formats a wei amount in ether units.
func WeiToEther(wei *big.Int) string {
	s, _ := FormatBigInt(wei, EtherDecimals)
	return s
}

// EtherToWei parses an ether amount into wei.
func EtherToWei(ether string) (*big.Int, error) {
	return ParseUnits(ether, EtherDecimals)
}
