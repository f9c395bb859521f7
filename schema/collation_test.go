package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCharsetOf(t *testing.T) {
	require.Equal(t, "utf8mb4", charsetOf("utf8mb4_general_ci"))
	require.Equal(t, "latin1", charsetOf("latin1_swedish_ci"))
	require.Equal(t, "binary", charsetOf("binary"))
}

func TestDecodeCollatedStringUTF8PassesThrough(t *testing.T) {
	s, err := DecodeCollatedString([]byte("héllo"), "utf8mb4_general_ci")
	require.NoError(t, err)
	require.Equal(t, "héllo", s)
}

func TestDecodeCollatedStringUnknownCollationPassesThrough(t *testing.T) {
	s, err := DecodeCollatedString([]byte("raw"), "some_made_up_collation")
	require.NoError(t, err)
	require.Equal(t, "raw", s)
}

func TestDecodeCollatedStringLatin1(t *testing.T) {
	// 0xE9 in windows-1252/cp1252 (what MySQL calls "latin1") is U+00E9 (é).
	s, err := DecodeCollatedString([]byte{'c', 'a', 'f', 0xE9}, "latin1_swedish_ci")
	require.NoError(t, err)
	require.Equal(t, "café", s)
}

func TestDecodeCollatedStringGBK(t *testing.T) {
	// GBK encoding of "中" (U+4E2D) is 0xD6 0xD0.
	s, err := DecodeCollatedString([]byte{0xD6, 0xD0}, "gbk_chinese_ci")
	require.NoError(t, err)
	require.Equal(t, "中", s)
}
