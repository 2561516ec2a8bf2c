package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := FromDecimalString(s)
	require.NoError(t, err)
	return v
}

func TestFromDecimalString(t *testing.T) {
	v := fp(t, "2000.5")
	expected, _ := new(big.Int).SetString("2000500000000000000000", 10)
	assert.Equal(t, 0, v.Cmp(expected))

	_, err := FromDecimalString("-1")
	assert.ErrorIs(t, err, ErrNegative)

	_, err = FromDecimalString("not a number")
	assert.Error(t, err)
}

func TestToDecimalStringRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "2000.5", "0.000000000000000001"} {
		assert.Equal(t, s, ToDecimalString(fp(t, s)))
	}
	assert.Equal(t, "0", ToDecimalString(nil))
}

func TestDeviationBps(t *testing.T) {
	oracle := fp(t, "2000")

	cases := []struct {
		exec     string
		expected int64
	}{
		{"2000", 0},
		{"2100", 500},  // +5%
		{"1900", 500},  // -5%, symmetric
		{"3000", 5000}, // +50%
		{"2000.1", 0},  // 0.5bps truncates to 0
		{"2101", 505},
	}
	for _, tc := range cases {
		dev, err := DeviationBps(fp(t, tc.exec), oracle)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, dev.Int64(), "exec=%v", tc.exec)
	}
}

func TestDeviationBpsTruncatesTowardZero(t *testing.T) {
	// |1-3| * 10000 / 3 = 6666.66... -> 6666, never rounded up
	dev, err := DeviationBps(big.NewInt(1), big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, int64(6666), dev.Int64())
}

func TestDeviationBpsRejectsBadInputs(t *testing.T) {
	_, err := DeviationBps(big.NewInt(1), big.NewInt(0))
	assert.ErrorIs(t, err, ErrZeroReference)

	_, err = DeviationBps(big.NewInt(1), nil)
	assert.ErrorIs(t, err, ErrZeroReference)

	_, err = DeviationBps(big.NewInt(-1), big.NewInt(1))
	assert.ErrorIs(t, err, ErrNegative)
}

func TestBpsOf(t *testing.T) {
	price := fp(t, "2000")
	// 10bps of 2000 = 2
	assert.Equal(t, "2", ToDecimalString(BpsOf(price, 10)))
	assert.Equal(t, "0", ToDecimalString(BpsOf(price, 0)))
}

func TestMulDiv(t *testing.T) {
	// 1000 * 10 / 2000 = 5 in fixed point
	margin := fp(t, "1000")
	notional := new(big.Int).Mul(margin, big.NewInt(10))
	size := MulDiv(notional, Scale, fp(t, "2000"))
	assert.Equal(t, "5", ToDecimalString(size))
}
