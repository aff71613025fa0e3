// Package fixed implements exact unsigned arithmetic over six fractional digits.
//
// Every monetary quantity in the ledger (backing asset, claim tokens, coupon
// index) is an Amount: a uint64 count of 10^-6 units. Operations fail with
// fault.CodeArithmeticOverflow or fault.CodeArithmeticUnderflow instead of
// wrapping, and every division rounds toward zero.
package fixed

import (
	"fmt"
	"math/big"
	"math/bits"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"

	"github.com/arcbond/bondengine/internal/fault"
)

// Decimals is the number of fractional digits carried by an Amount.
const Decimals = 6

// Scale is one whole unit expressed in base units.
const Scale Amount = 1_000_000

// Amount is a non-negative fixed-point quantity in base units (10^-6).
type Amount uint64

// Zero is the additive identity.
const Zero Amount = 0

// Units converts a whole-unit count into an Amount. Panics on overflow;
// intended for constants and test fixtures.
func Units(n uint64) Amount {
	v, err := Mul(Amount(n), Scale)
	if err != nil {
		panic(fmt.Sprintf("fixed.Units(%d): %v", n, err))
	}
	return v
}

// Add returns a+b.
func Add(a, b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, overflow("add", a, b)
	}
	return Amount(sum), nil
}

// Sub returns a-b.
func Sub(a, b Amount) (Amount, error) {
	diff, borrow := bits.Sub64(uint64(a), uint64(b), 0)
	if borrow != 0 {
		return 0, fault.New(fault.CodeArithmeticUnderflow, "sub %d - %d", a, b).
			With("a", a.String()).With("b", b.String())
	}
	return Amount(diff), nil
}

// Mul returns a*b in base units (no rescaling).
func Mul(a, b Amount) (Amount, error) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 {
		return 0, overflow("mul", a, b)
	}
	return Amount(lo), nil
}

// MulDiv returns ⌊a·b/c⌋. The product is formed at arbitrary width so the
// intermediate never overflows; only a quotient beyond uint64 fails.
func MulDiv(a, b, c Amount) (Amount, error) {
	if c == 0 {
		return 0, fault.New(fault.CodeInvalidAmount, "mulDiv by zero")
	}
	prod := sdkmath.NewIntFromUint64(uint64(a)).Mul(sdkmath.NewIntFromUint64(uint64(b)))
	q := prod.Quo(sdkmath.NewIntFromUint64(uint64(c)))
	if !q.IsUint64() {
		return 0, fault.New(fault.CodeArithmeticOverflow, "mulDiv %d * %d / %d", a, b, c)
	}
	return Amount(q.Uint64()), nil
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// SaturatingSub returns max(0, a-b).
func SaturatingSub(a, b Amount) Amount {
	if b >= a {
		return 0
	}
	return a - b
}

// Parse reads a decimal string ("2", "0.02", "100000.000001") into an Amount.
// Negative values and more than six significant fractional digits are rejected.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fault.Wrap(fault.CodeInvalidAmount, err, "parse amount %q", s)
	}
	if d.IsNegative() {
		return 0, fault.New(fault.CodeInvalidAmount, "amount %q is negative", s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return 0, fault.New(fault.CodeInvalidAmount, "amount %q has more than %d decimals", s, Decimals)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fault.New(fault.CodeArithmeticOverflow, "amount %q out of range", s)
	}
	return Amount(bi.Uint64()), nil
}

// MustParse is Parse for constants; it panics on error.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount with exactly six decimals.
func (a Amount) String() string {
	return a.Decimal().StringFixed(Decimals)
}

// Decimal converts the amount to a decimal.Decimal in whole units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(a)), -Decimals)
}

// MarshalText renders the amount as a decimal string, so JSON and YAML
// carry "2.000000" rather than raw base units.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a decimal string. Accepts any form Parse accepts.
func (a *Amount) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a == 0
}

func overflow(op string, a, b Amount) *fault.Error {
	return fault.New(fault.CodeArithmeticOverflow, "%s %d, %d", op, a, b).
		With("a", a.String()).With("b", b.String())
}
