package slave

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binlogkit/slave/replication"
	"github.com/binlogkit/slave/schema"
)

// encodeTwoLongColumnsRow builds a minimal WRITE_ROWS raw body for a table
// with two non-nullable LONG columns, both present, both non-null: tableID,
// flags, column count, a present bitmap, then one row image.
func encodeTwoLongColumnsRow(tableID uint64, a, b int32) []byte {
	buf := make([]byte, 6+2+1+1+1+4+4)
	pos := 0
	for i := 0; i < 6; i++ {
		buf[pos+i] = byte(tableID >> (8 * uint(i)))
	}
	pos += 6
	binary.LittleEndian.PutUint16(buf[pos:], 0) // flags
	pos += 2
	buf[pos] = 2 // column count (length-encoded literal)
	pos++
	buf[pos] = 0x03 // present bitmap: columns 0 and 1 present
	pos++
	buf[pos] = 0x00 // null bitmap: neither column null
	pos++
	binary.LittleEndian.PutUint32(buf[pos:], uint32(a))
	pos += 4
	binary.LittleEndian.PutUint32(buf[pos:], uint32(b))
	return buf
}

func newTestSession() *Session {
	return NewSession(Config{MySQLHost: "127.0.0.1", MySQLPort: 3306}, nil)
}

func TestNewSessionDefaults(t *testing.T) {
	s := newTestSession()
	require.NotNil(t, s.router)
	require.NotNil(t, s.State)
	require.NotNil(t, s.Stats)
	require.NotNil(t, s.tableMaps)
}

func TestSubscribeRegistersOnRouter(t *testing.T) {
	s := newTestSession()
	called := false
	s.Subscribe("shop", "orders", EventAll, RowTypeMap, nil, func(*RecordSet) { called = true })

	key := schema.TableKey{DB: "shop", Table: "orders"}
	require.True(t, s.router.Subscribed(key))

	tbl := newTestOrdersTable()
	s.router.Dispatch(tbl, replication.RowsWrite, nil, []interface{}{int64(1), "1"}, time.Now(), 1)
	require.True(t, called)
}

func TestHandleTableMapSkipsUnsubscribedTable(t *testing.T) {
	s := newTestSession()
	cache := schema.NewCache()

	tm := &replication.TableMapEvent{TableID: 7, SchemaName: "shop", TableName: "orders"}
	require.NoError(t, s.handleTableMap(tm, cache))

	require.Same(t, tm, s.tableMaps[7])
	_, ok := cache.LookupTableID(7)
	require.False(t, ok)

	// No subscription: buildAndCacheTable must not have been reached (it
	// would hit a nil *sqlx.DB and panic), so the table stays uncached.
	_, cached := cache.GetTable(schema.TableKey{DB: "shop", Table: "orders"})
	require.False(t, cached)
}

func TestHandleTableMapSkipsAlreadyCachedTable(t *testing.T) {
	s := newTestSession()
	s.Subscribe("shop", "orders", EventAll, RowTypeMap, nil, func(*RecordSet) {})

	cache := schema.NewCache()
	key := schema.TableKey{DB: "shop", Table: "orders"}
	cache.SetTable(key, newTestOrdersTable())

	tm := &replication.TableMapEvent{TableID: 9, SchemaName: "shop", TableName: "orders"}
	// Would panic dereferencing a nil *sqlx.DB if it reached buildAndCacheTable.
	require.NotPanics(t, func() {
		require.NoError(t, s.handleTableMap(tm, cache))
	})
}

func TestHandleQuerySkipsUnsubscribedTable(t *testing.T) {
	s := newTestSession()
	cache := schema.NewCache()

	qe := &replication.QueryEvent{Schema: "shop", Query: "ALTER TABLE orders ADD COLUMN note TEXT"}
	require.NotPanics(t, func() {
		require.NoError(t, s.handleQuery(qe, cache))
	})
}

func TestHandleRowsSkipsUnknownTableID(t *testing.T) {
	s := newTestSession()
	cache := schema.NewCache()

	ev := &replication.RowsEvent{TableID: 123, Kind: replication.RowsWrite}
	require.NoError(t, s.handleRows(ev, cache, 1, time.Now()))
}

func TestHandleRowsSkipsUnsubscribedTable(t *testing.T) {
	s := newTestSession()
	cache := schema.NewCache()

	tm := &replication.TableMapEvent{TableID: 5, SchemaName: "shop", TableName: "orders"}
	s.tableMaps[5] = tm

	ev := &replication.RowsEvent{TableID: 5, Kind: replication.RowsWrite}
	require.NoError(t, s.handleRows(ev, cache, 1, time.Now()))
}

func TestHandleRowsDispatchesFromCachedTable(t *testing.T) {
	s := newTestSession()
	var got *RecordSet
	s.Subscribe("shop", "orders", EventAll, RowTypeMap, nil, func(rs *RecordSet) { got = rs })

	cache := schema.NewCache()
	key := schema.TableKey{DB: "shop", Table: "orders"}
	cache.SetTable(key, &schema.Table{
		DB:    "shop",
		Table: "orders",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.KindLong},
			{Name: "customer_id", Kind: schema.KindLong},
		},
	})

	tm := &replication.TableMapEvent{
		TableID:     11,
		SchemaName:  "shop",
		TableName:   "orders",
		ColumnCount: 2,
		ColumnTypes: []byte{3, 3}, // MYSQL_TYPE_LONG, MYSQL_TYPE_LONG
		ColumnMeta:  []uint16{0, 0},
	}
	s.tableMaps[11] = tm

	ev := &replication.RowsEvent{
		TableID: 11,
		Kind:    replication.RowsWrite,
		RawBody: encodeTwoLongColumnsRow(11, 1, 42),
	}
	require.NoError(t, s.handleRows(ev, cache, 99, time.Now()))
	require.NotNil(t, got)
	require.EqualValues(t, 1, got.Row["id"].Value)
	require.EqualValues(t, 42, got.Row["customer_id"].Value)
	require.Equal(t, uint32(99), got.ServerID)
}
