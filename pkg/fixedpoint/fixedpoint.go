package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the implicit scale of every price and amount in the system.
// A value of 2000 * 1e18 represents 2000.0.
const Decimals = 18

var (
	// Scale is 10^Decimals.
	Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	bpsDenom = big.NewInt(10_000)
)

var (
	ErrNegative      = errors.New("negative value")
	ErrZeroReference = errors.New("zero reference price")
)

// FromDecimalString parses a human decimal string ("2000.5") into a
// Scale-scaled unsigned fixed-point integer. Fractional digits beyond
// Decimals are truncated.
func FromDecimalString(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("fail to parse decimal '%v': %w", s, err)
	}
	if d.IsNegative() {
		return nil, ErrNegative
	}
	return d.Shift(Decimals).BigInt(), nil
}

// ToDecimalString renders a Scale-scaled value back to a decimal string.
func ToDecimalString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -Decimals).String()
}

// DeviationBps returns |exec - ref| * 10000 / ref using integer division.
// The division truncates toward zero, so the result never overstates the
// true deviation; callers comparing against a tolerance inherit that
// acceptance bias and must not round up.
func DeviationBps(exec, ref *big.Int) (*big.Int, error) {
	if ref == nil || ref.Sign() <= 0 {
		return nil, ErrZeroReference
	}
	if exec == nil || exec.Sign() < 0 {
		return nil, ErrNegative
	}
	diff := new(big.Int).Sub(exec, ref)
	diff.Abs(diff)
	diff.Mul(diff, bpsDenom)
	return diff.Quo(diff, ref), nil
}

// BpsOf returns v * bps / 10000, truncated.
func BpsOf(v *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(bps))
	return out.Quo(out, bpsDenom)
}

// MulDiv returns a * b / den, truncated. den must be non-zero.
func MulDiv(a, b, den *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}
