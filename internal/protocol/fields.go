package protocol

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Fixed wire precisions. The decimal point is always '.'.
const (
	// MoneyPlaces covers VAT rate, price with/without VAT and VAT amount.
	MoneyPlaces int32 = 2
	// UnitPlaces covers per-unit price, volume and credit amounts.
	UnitPlaces int32 = 4
)

// FormatMoney renders v with exactly two decimal digits.
func FormatMoney(v decimal.Decimal) string {
	return v.StringFixed(MoneyPlaces)
}

// FormatUnit renders v with exactly four decimal digits.
func FormatUnit(v decimal.Decimal) string {
	return v.StringFixed(UnitPlaces)
}

// FormatInt renders an integer argument such as a pump id.
func FormatInt(v int) string {
	return strconv.Itoa(v)
}

// ParseInt reads an integer argument.
func ParseInt(raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	return v, nil
}

// ParseDecimal reads a fixed-point argument written with a '.' separator.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidNumber, raw)
	}
	return v, nil
}
