package x402

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MoneyParser converts a decimal money amount into an AssetAmount. Parsers
// are tried in registration order; returning (nil, nil) means "no opinion"
// and hands the amount to the next parser. The per-network default
// conversion always runs as the final fallback.
type MoneyParser func(amount float64, network Network) (*AssetAmount, error)

var moneyPattern = regexp.MustCompile(`^\$?\d+(\.\d+)?$`)

// ParseMoney normalizes a money price into a plain decimal string.
// Accepted inputs are strings like "$0.001" or "1.50" and plain numbers.
func ParseMoney(price Price) (string, error) {
	var s string
	switch v := price.(type) {
	case string:
		s = strings.TrimSpace(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	default:
		return "", NewPaymentError(ErrCodeInvalidMoneyFormat,
			fmt.Sprintf("unsupported price type %T", price), nil)
	}

	if !moneyPattern.MatchString(s) {
		return "", NewPaymentError(ErrCodeInvalidMoneyFormat,
			fmt.Sprintf("invalid money format: %s", s), nil)
	}

	return strings.TrimPrefix(s, "$"), nil
}

// ScaleDecimal converts a decimal string to the asset's smallest integer
// unit as a digit string. The conversion is exact: the fractional part is
// right-padded or truncated to the asset's decimal count, so no float math
// is involved. A zero amount yields "0", never the empty string.
func ScaleDecimal(decimal string, decimals int) string {
	intPart, fracPart, _ := strings.Cut(decimal, ".")

	if len(fracPart) < decimals {
		fracPart += strings.Repeat("0", decimals-len(fracPart))
	} else {
		fracPart = fracPart[:decimals]
	}

	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "0"
	}
	return combined
}

// ResolvePrice runs the money resolution chain shared by all scheme
// implementations: an AssetAmount passes through untouched (but must name
// an asset), a money value is parsed to a decimal and offered to each
// custom parser in order, and the scheme's default conversion applies when
// every parser declines.
func ResolvePrice(
	price Price,
	network Network,
	parsers []MoneyParser,
	defaultConvert func(decimal string, network Network) (AssetAmount, error),
) (AssetAmount, error) {
	if assetAmount, ok := price.(AssetAmount); ok {
		if assetAmount.Asset == "" {
			return AssetAmount{}, NewPaymentError(ErrCodeInvalidMoneyFormat,
				fmt.Sprintf("asset required for AssetAmount on %s", network), nil)
		}
		return assetAmount, nil
	}

	decimal, err := ParseMoney(price)
	if err != nil {
		return AssetAmount{}, err
	}

	amount, err := strconv.ParseFloat(decimal, 64)
	if err != nil {
		return AssetAmount{}, NewPaymentError(ErrCodeInvalidMoneyFormat,
			fmt.Sprintf("invalid money format: %s", decimal), nil)
	}

	for _, parser := range parsers {
		result, err := parser(amount, network)
		if err != nil {
			return AssetAmount{}, err
		}
		if result != nil {
			return *result, nil
		}
	}

	return defaultConvert(decimal, network)
}
