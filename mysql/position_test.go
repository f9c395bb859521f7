package mysql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionReachedOtherPosLegacy(t *testing.T) {
	a := NewPosition("mysql-bin.000003", 1000)
	b := NewPosition("mysql-bin.000003", 500)
	reached, err := a.ReachedOtherPos(b)
	require.NoError(t, err)
	require.True(t, reached)

	reached, err = b.ReachedOtherPos(a)
	require.NoError(t, err)
	require.False(t, reached)
}

func TestPositionReachedOtherPosLegacyDifferentFile(t *testing.T) {
	a := NewPosition("mysql-bin.000004", 4)
	b := NewPosition("mysql-bin.000003", 999999)
	reached, err := a.ReachedOtherPos(b)
	require.NoError(t, err)
	require.True(t, reached)
}

func TestPositionReachedOtherPosGTID(t *testing.T) {
	a := Position{}
	g1, err := ParseGTIDSet("3e11fa47-71ca-11e1-9e33-c80aa9429562:1-10")
	require.NoError(t, err)
	a.GTIDSet = g1

	b := Position{}
	g2, err := ParseGTIDSet("3e11fa47-71ca-11e1-9e33-c80aa9429562:1-5")
	require.NoError(t, err)
	b.GTIDSet = g2

	reached, err := a.ReachedOtherPos(b)
	require.NoError(t, err)
	require.True(t, reached)

	reached, err = b.ReachedOtherPos(a)
	require.NoError(t, err)
	require.False(t, reached)
}

func TestPositionReachedOtherPosMissingSource(t *testing.T) {
	a := Position{}
	g1, err := ParseGTIDSet("3e11fa47-71ca-11e1-9e33-c80aa9429562:1-10")
	require.NoError(t, err)
	a.GTIDSet = g1

	b := Position{}
	g2, err := ParseGTIDSet("7145bf69-d1ca-11e0-a8e5-000c29a3d9dc:1-5")
	require.NoError(t, err)
	b.GTIDSet = g2

	reached, err := a.ReachedOtherPos(b)
	require.NoError(t, err)
	require.False(t, reached)
}

func TestPositionReachedOtherPosGTIDBeatsLegacy(t *testing.T) {
	withGTID := Position{}
	g, err := ParseGTIDSet("3e11fa47-71ca-11e1-9e33-c80aa9429562:1-10")
	require.NoError(t, err)
	withGTID.GTIDSet = g

	legacyOnly := NewPosition("mysql-bin.000099", 99999)

	reached, err := withGTID.ReachedOtherPos(legacyOnly)
	require.NoError(t, err)
	require.True(t, reached)

	reached, err = legacyOnly.ReachedOtherPos(withGTID)
	require.NoError(t, err)
	require.False(t, reached)
}

func TestPositionStringIncludesGTIDMarker(t *testing.T) {
	p := NewPosition("", 0)
	require.Contains(t, p.String(), "GTIDs=-")

	g, err := ParseGTIDSet("3e11fa47-71ca-11e1-9e33-c80aa9429562:1-10")
	require.NoError(t, err)
	p.GTIDSet = g
	require.Contains(t, p.String(), "3e11fa4771ca11e19e33c80aa9429562:1-10")
}
