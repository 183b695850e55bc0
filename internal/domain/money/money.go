package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var ErrInvalidCurrency = errors.New("money: invalid currency code")

// Epsilon is the tolerance applied when comparing amounts that crossed a
// floating-point boundary (RPC payloads carry float64).
var Epsilon = decimal.RequireFromString("0.01")

// Money is an amount in a specific currency. Amounts are decimal to keep
// cent-level arithmetic exact.
type Money struct {
	Amount   decimal.Decimal
	Currency currency.Unit
}

func New(amount decimal.Decimal, code string) (Money, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return Money{Amount: amount, Currency: unit}, nil
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency.String()
}

// WithinEpsilon reports whether two amounts agree within Epsilon. Used to
// tolerate float rounding on amounts received over the wire.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// FromFloat converts a wire-format float64 amount back to a decimal rounded
// to cents.
func FromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
