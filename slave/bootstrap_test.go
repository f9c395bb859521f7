package slave

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersionNumber(t *testing.T) {
	cases := map[string]int{
		"5.1.23":            50123,
		"5.6.4":             50604,
		"5.7.30-log":        50730,
		"8.0.28":            80028,
		"5.6.51-ubuntu0.1":  50651,
	}
	for v, want := range cases {
		got, err := parseVersionNumber(v)
		require.NoErrorf(t, err, "version %q", v)
		require.Equalf(t, want, got, "version %q", v)
	}
}

func TestParseVersionNumberInvalid(t *testing.T) {
	_, err := parseVersionNumber("not-a-version")
	require.Error(t, err)
}

func TestMinMasterVersionThreshold(t *testing.T) {
	old, err := parseVersionNumber("5.0.96")
	require.NoError(t, err)
	require.Less(t, old, minMasterVersion)

	min, err := parseVersionNumber("5.1.23")
	require.NoError(t, err)
	require.Equal(t, minMasterVersion, min)
}

func TestToUint32(t *testing.T) {
	require.EqualValues(t, 42, toUint32(int64(42)))
	require.EqualValues(t, 42, toUint32([]byte("42")))
	require.EqualValues(t, 42, toUint32("42"))
	require.EqualValues(t, 0, toUint32(nil))
	require.EqualValues(t, 0, toUint32(3.14))
}
