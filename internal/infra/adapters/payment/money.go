package payment

import (
	"fmt"
	"strings"

	"saas-plan-payments/internal/domain"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists currencies without a minor unit on the provider APIs we
// talk to.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "IRR": true, "IRT": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true,
	"VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

func minorExp(currency string) int32 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// ToMinor converts amount to the provider's integer unit (cents, kobo, paise,
// rials). Fractions below the minor unit are rejected.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	exp := minorExp(currency)
	m := amount.Shift(exp)
	if !m.Equal(m.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more precision than %s allows", domain.ErrInvalidArgument, amount, currency)
	}
	if m.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", domain.ErrInvalidArgument, amount)
	}
	return m.IntPart(), nil
}

func FromMinor(v int64, currency string) decimal.Decimal {
	return decimal.New(v, -minorExp(currency))
}
