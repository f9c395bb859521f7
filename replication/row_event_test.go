package replication

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodeTableMapBody(tableID uint64, flags uint16, schema, table string, colTypes []byte, metaBlock []byte) []byte {
	buf := make([]byte, 0, 64)
	idBytes := make([]byte, 6)
	for i := 0; i < 6; i++ {
		idBytes[i] = byte(tableID >> (8 * uint(i)))
	}
	buf = append(buf, idBytes...)

	flagBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(flagBytes, flags)
	buf = append(buf, flagBytes...)

	buf = append(buf, byte(len(schema)))
	buf = append(buf, []byte(schema)...)
	buf = append(buf, 0)

	buf = append(buf, byte(len(table)))
	buf = append(buf, []byte(table)...)
	buf = append(buf, 0)

	buf = append(buf, byte(len(colTypes))) // column count, literal (<251)
	buf = append(buf, colTypes...)

	buf = append(buf, byte(len(metaBlock))) // meta block length, literal
	buf = append(buf, metaBlock...)

	nullBitmapLen := (len(colTypes) + 7) / 8
	buf = append(buf, make([]byte, nullBitmapLen)...)
	return buf
}

func TestTableMapEventDecode(t *testing.T) {
	body := encodeTableMapBody(99, 1, "shop", "orders",
		[]byte{byte(colLong), byte(colVarchar)},
		[]byte{0x20, 0x00}, // VARCHAR meta: max length 32
	)

	var e TableMapEvent
	require.NoError(t, e.Decode(body))
	require.EqualValues(t, 99, e.TableID)
	require.Equal(t, "shop", e.SchemaName)
	require.Equal(t, "orders", e.TableName)
	require.EqualValues(t, 2, e.ColumnCount)
	require.Equal(t, []byte{byte(colLong), byte(colVarchar)}, e.ColumnTypes)
	require.EqualValues(t, 32, e.ColumnMeta[1])
}

func TestTableMapEventDecodeTruncated(t *testing.T) {
	var e TableMapEvent
	require.Error(t, e.Decode([]byte{1, 2, 3}))
}

func TestTableMapEventNewTemporalStorage(t *testing.T) {
	e := TableMapEvent{ColumnTypes: []byte{byte(colLong), byte(colTimestamp2), byte(colDatetime), byte(colTime2)}}
	require.False(t, e.NewTemporalStorage(0))
	require.True(t, e.NewTemporalStorage(1))
	require.False(t, e.NewTemporalStorage(2))
	require.True(t, e.NewTemporalStorage(3))
}

func TestTableMapEventNewTemporalStorageOutOfRange(t *testing.T) {
	e := TableMapEvent{ColumnTypes: []byte{byte(colLong)}}
	require.False(t, e.NewTemporalStorage(-1))
	require.False(t, e.NewTemporalStorage(5))
}

func TestRowsEventDecode(t *testing.T) {
	body := []byte{5, 0, 0, 0, 0, 0, 1, 0}
	var e RowsEvent
	require.NoError(t, e.Decode(body))
	require.EqualValues(t, 5, e.TableID)
	require.Equal(t, body, e.RawBody)
}

func TestRowsEventDecodeTruncated(t *testing.T) {
	var e RowsEvent
	require.Error(t, e.Decode([]byte{1, 2}))
}

func tableMapForIntPair() *TableMapEvent {
	return &TableMapEvent{
		ColumnCount: 2,
		ColumnTypes: []byte{byte(colLong), byte(colLong)},
		ColumnMeta:  []uint16{0, 0},
	}
}

func TestRowsEventDecodeWithTableMapWrite(t *testing.T) {
	raw := encodeTwoLongColumnsRowBody(11, 1, 42)

	e := &RowsEvent{EventType: WRITE_ROWS_EVENTv2, Kind: RowsWrite, RawBody: raw}
	require.NoError(t, e.DecodeWithTableMap(tableMapForIntPair()))

	require.Len(t, e.Rows, 1)
	require.Len(t, e.Rows[0], 1)
	require.EqualValues(t, 1, e.Rows[0][0][0])
	require.EqualValues(t, 42, e.Rows[0][0][1])
}

func TestRowsEventDecodeWithTableMapUpdate(t *testing.T) {
	before := []int32{1, 10}
	after := []int32{1, 20}
	raw := encodeUpdateRowBody(11, before, after)

	e := &RowsEvent{EventType: UPDATE_ROWS_EVENTv2, Kind: RowsUpdate, RawBody: raw}
	require.NoError(t, e.DecodeWithTableMap(tableMapForIntPair()))

	require.Len(t, e.Rows, 1)
	require.Len(t, e.Rows[0], 2)
	require.EqualValues(t, 10, e.Rows[0][0][1])
	require.EqualValues(t, 20, e.Rows[0][1][1])
}

func TestRowsEventDecodeWithTableMapNullColumn(t *testing.T) {
	raw := encodeTwoLongColumnsRowBodyWithNull(11, 1)

	e := &RowsEvent{EventType: WRITE_ROWS_EVENTv2, Kind: RowsWrite, RawBody: raw}
	require.NoError(t, e.DecodeWithTableMap(tableMapForIntPair()))

	require.Len(t, e.Rows, 1)
	require.EqualValues(t, 1, e.Rows[0][0][0])
	require.Nil(t, e.Rows[0][0][1])
}

// encodeTwoLongColumnsRowBody builds a WRITE_ROWS_EVENTv2 raw body (table
// id, flags, the v2 extra-info length field, column count, present bitmap,
// then one row image) for a table with two non-nullable LONG columns.
func encodeTwoLongColumnsRowBody(tableID uint64, a, b int32) []byte {
	buf := []byte{}
	idBytes := make([]byte, 6)
	for i := 0; i < 6; i++ {
		idBytes[i] = byte(tableID >> (8 * uint(i)))
	}
	buf = append(buf, idBytes...)
	buf = append(buf, 0, 0) // flags
	buf = append(buf, 2, 0) // v2 extra info: length 2 (no extra bytes)
	buf = append(buf, 2)    // column count
	buf = append(buf, 0x03) // present bitmap
	buf = append(buf, 0x00) // null bitmap
	rowVals := make([]byte, 8)
	binary.LittleEndian.PutUint32(rowVals[0:4], uint32(a))
	binary.LittleEndian.PutUint32(rowVals[4:8], uint32(b))
	return append(buf, rowVals...)
}

func encodeTwoLongColumnsRowBodyWithNull(tableID uint64, a int32) []byte {
	buf := []byte{}
	idBytes := make([]byte, 6)
	for i := 0; i < 6; i++ {
		idBytes[i] = byte(tableID >> (8 * uint(i)))
	}
	buf = append(buf, idBytes...)
	buf = append(buf, 0, 0)
	buf = append(buf, 2, 0)
	buf = append(buf, 2)
	buf = append(buf, 0x03)
	buf = append(buf, 0x02) // null bitmap: column 1 (second present column) is null
	rowVals := make([]byte, 4)
	binary.LittleEndian.PutUint32(rowVals[0:4], uint32(a))
	return append(buf, rowVals...)
}

func encodeUpdateRowBody(tableID uint64, before, after []int32) []byte {
	buf := []byte{}
	idBytes := make([]byte, 6)
	for i := 0; i < 6; i++ {
		idBytes[i] = byte(tableID >> (8 * uint(i)))
	}
	buf = append(buf, idBytes...)
	buf = append(buf, 0, 0)
	buf = append(buf, 2, 0)
	buf = append(buf, 2)
	buf = append(buf, 0x03) // before bitmap
	buf = append(buf, 0x03) // after bitmap

	beforeNull := byte(0x00)
	afterNull := byte(0x00)
	buf = append(buf, beforeNull)
	beforeVals := make([]byte, 8)
	binary.LittleEndian.PutUint32(beforeVals[0:4], uint32(before[0]))
	binary.LittleEndian.PutUint32(beforeVals[4:8], uint32(before[1]))
	buf = append(buf, beforeVals...)

	buf = append(buf, afterNull)
	afterVals := make([]byte, 8)
	binary.LittleEndian.PutUint32(afterVals[0:4], uint32(after[0]))
	binary.LittleEndian.PutUint32(afterVals[4:8], uint32(after[1]))
	buf = append(buf, afterVals...)

	return buf
}
