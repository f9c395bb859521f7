package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyColumnIntegers(t *testing.T) {
	f := classifyColumn("id", "int(11) unsigned", "", false)
	require.Equal(t, KindLong, f.Kind)
	require.True(t, f.Unsigned)

	f = classifyColumn("small", "smallint(6)", "", false)
	require.Equal(t, KindShort, f.Kind)
	require.False(t, f.Unsigned)

	f = classifyColumn("big", "bigint(20) unsigned", "", false)
	require.Equal(t, KindLongLong, f.Kind)
	require.True(t, f.Unsigned)
}

func TestClassifyColumnDecimal(t *testing.T) {
	f := classifyColumn("price", "decimal(10,2)", "", false)
	require.Equal(t, KindDecimal, f.Kind)
	require.Equal(t, 10, f.Precision)
	require.Equal(t, 2, f.Scale)
}

func TestClassifyColumnEnumSet(t *testing.T) {
	f := classifyColumn("status", "enum('a','b','c')", "", false)
	require.Equal(t, KindEnum, f.Kind)
	require.Equal(t, []string{"a", "b", "c"}, f.EnumValues)

	f = classifyColumn("flags", "set('x','y')", "", false)
	require.Equal(t, KindSet, f.Kind)
	require.Equal(t, []string{"x", "y"}, f.SetValues)
}

func TestClassifyColumnTemporalsUseOldStorageFlag(t *testing.T) {
	f := classifyColumn("t", "timestamp", "", true)
	require.Equal(t, KindTimestamp, f.Kind)
	require.True(t, f.IsOldStorage)

	f = classifyColumn("t", "timestamp", "", false)
	require.False(t, f.IsOldStorage)

	f = classifyColumn("d", "datetime(3)", "", false)
	require.Equal(t, KindDateTime, f.Kind)

	f = classifyColumn("tm", "time", "", true)
	require.Equal(t, KindTime, f.Kind)
	require.True(t, f.IsOldStorage)
}

func TestClassifyColumnBlobLengthClasses(t *testing.T) {
	require.Equal(t, BlobTiny, classifyColumn("a", "tinytext", "", false).BlobLength)
	require.Equal(t, BlobRegular, classifyColumn("a", "blob", "", false).BlobLength)
	require.Equal(t, BlobMedium, classifyColumn("a", "mediumblob", "", false).BlobLength)
	require.Equal(t, BlobLong, classifyColumn("a", "longtext", "", false).BlobLength)
}

func TestClassifyColumnStringSize(t *testing.T) {
	f := classifyColumn("name", "varchar(255)", "utf8mb4_general_ci", false)
	require.Equal(t, KindString, f.Kind)
	require.Equal(t, uint(255), f.MaxSize)
	require.Equal(t, "utf8mb4_general_ci", f.Collation)
}

func TestClassifyColumnBit(t *testing.T) {
	f := classifyColumn("flags", "bit(8)", "", false)
	require.Equal(t, KindBit, f.Kind)
}

func TestIsOldTemporalStorage(t *testing.T) {
	require.True(t, isOldTemporalStorage("5.1.23-log"))
	require.True(t, isOldTemporalStorage("5.6.3"))
	require.False(t, isOldTemporalStorage("5.6.4"))
	require.False(t, isOldTemporalStorage("5.7.20-log"))
	require.False(t, isOldTemporalStorage("8.0.28"))
}
