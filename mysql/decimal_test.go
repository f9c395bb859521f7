package mysql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// S1: a positive and negative DECIMAL(14,4) value encoded per the server's
// packed binary layout. The negative byte string below corrects a
// single-byte transcription slip in the source material (see DESIGN.md):
// byte index 3 must be 0xC7, not 0x37, for the bytes to actually be the
// bitwise complement of the positive encoding.
func TestFromBinaryPositive(t *testing.T) {
	buf := []byte{0x81, 0x0D, 0xFB, 0x38, 0xD2, 0x04, 0xD2}
	d, err := FromBinary(buf, 14, 4)
	require.NoError(t, err)
	require.False(t, d.Negative)
	require.Equal(t, "1234567890.1234", d.String())
}

func TestFromBinaryNegative(t *testing.T) {
	buf := []byte{0x7E, 0xF2, 0x04, 0xC7, 0x2D, 0xFB, 0x2D}
	d, err := FromBinary(buf, 14, 4)
	require.NoError(t, err)
	require.True(t, d.Negative)
	require.Equal(t, "-1234567890.1234", d.String())
}

func TestFromBinaryZero(t *testing.T) {
	// precision=4, scale=2: one partial integer byte, one partial
	// fractional byte. Only the buffer's first byte carries the sign-bit
	// flip, so a zero value is 0x80 followed by zero bytes.
	buf := []byte{0x80, 0x00}
	d, err := FromBinary(buf, 4, 2)
	require.NoError(t, err)
	require.Equal(t, "0", d.String())
}

func TestFromBinaryRejectsOversizedPrecision(t *testing.T) {
	_, err := FromBinary([]byte{0x80}, 66, 2)
	require.Error(t, err)
}

func TestFromBinaryRejectsScaleAbovePrecision(t *testing.T) {
	_, err := FromBinary([]byte{0x80}, 2, 4)
	require.Error(t, err)
}

func TestFromStringRoundTrip(t *testing.T) {
	cases := []string{
		"0",
		"1",
		"-1",
		"1234567890.1234",
		"-1234567890.1234",
		"0.1",
		"-0.001",
	}
	for _, c := range cases {
		d, err := FromString(c)
		require.NoError(t, err, c)
		require.Equal(t, c, d.String(), c)
	}
}

func TestFromStringTrimsTrailingFractionalZeros(t *testing.T) {
	d, err := FromString("1.20")
	require.NoError(t, err)
	require.Equal(t, "1.2", d.String())
}

func TestFromStringNegativeZeroNormalizes(t *testing.T) {
	d, err := FromString("-0")
	require.NoError(t, err)
	require.False(t, d.Negative)
	require.Equal(t, "0", d.String())
}

func TestFromStringRejectsEmpty(t *testing.T) {
	_, err := FromString("   ")
	require.Error(t, err)
}

func TestFromStringRejectsOverflow(t *testing.T) {
	digits := make([]byte, MaxDigits+1)
	for i := range digits {
		digits[i] = '9'
	}
	_, err := FromString(string(digits))
	require.Error(t, err)
}

func TestFloat64(t *testing.T) {
	d, err := FromString("12.5")
	require.NoError(t, err)
	require.InDelta(t, 12.5, d.Float64(), 1e-9)

	d, err = FromString("-3.25")
	require.NoError(t, err)
	require.InDelta(t, -3.25, d.Float64(), 1e-9)
}

func TestEqual(t *testing.T) {
	a, err := FromString("1.50")
	require.NoError(t, err)
	b, err := FromString("1.5")
	require.NoError(t, err)
	require.True(t, a.Equal(b))

	zeroA, err := FromString("0")
	require.NoError(t, err)
	zeroB, err := FromString("-0")
	require.NoError(t, err)
	require.True(t, zeroA.Equal(zeroB))
}

func TestDecimalBridge(t *testing.T) {
	d, err := FromString("42.125")
	require.NoError(t, err)
	sd, err := d.Decimal()
	require.NoError(t, err)
	require.Equal(t, "42.125", sd.String())
}
