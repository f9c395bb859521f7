package slave

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binlogkit/slave/replication"
	"github.com/binlogkit/slave/schema"
)

func newTestOrdersTable() *schema.Table {
	return &schema.Table{
		DB:    "shop",
		Table: "orders",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.KindLong},
			{Name: "total", Kind: schema.KindDecimal},
		},
	}
}

func TestRouterDispatchInsert(t *testing.T) {
	r := NewCallbackRouter(NewStateObserver(), NewStatsObserver())
	tbl := newTestOrdersTable()
	key := schema.TableKey{DB: tbl.DB, Table: tbl.Table}

	var got *RecordSet
	r.Register(key, EventAll, RowTypeMap, nil, func(rs *RecordSet) { got = rs })

	r.Dispatch(tbl, replication.RowsWrite, nil, []interface{}{int64(1), "9.99"}, time.Now(), 42)

	require.NotNil(t, got)
	require.Equal(t, TypeWrite, got.Type)
	require.Equal(t, uint32(42), got.ServerID)
	require.Nil(t, got.OldRow)
	require.Equal(t, int64(1), got.Row["id"].Value)
	require.Equal(t, "9.99", got.Row["total"].Value)

	stats := r.stats.TableStats(tbl.FullName())
	require.EqualValues(t, 1, stats.Total)
	require.EqualValues(t, 1, stats.Done)
}

func TestRouterDispatchUpdateBuildsBothImages(t *testing.T) {
	r := NewCallbackRouter(NewStateObserver(), NewStatsObserver())
	tbl := newTestOrdersTable()
	key := schema.TableKey{DB: tbl.DB, Table: tbl.Table}

	var got *RecordSet
	r.Register(key, EventAll, RowTypeMap, nil, func(rs *RecordSet) { got = rs })

	before := []interface{}{int64(1), "9.99"}
	after := []interface{}{int64(1), "19.99"}
	r.Dispatch(tbl, replication.RowsUpdate, before, after, time.Now(), 1)

	require.Equal(t, TypeUpdate, got.Type)
	require.Equal(t, "9.99", got.OldRow["total"].Value)
	require.Equal(t, "19.99", got.Row["total"].Value)
}

func TestRouterDispatchNoSubscriptionIsNoop(t *testing.T) {
	r := NewCallbackRouter(NewStateObserver(), NewStatsObserver())
	tbl := newTestOrdersTable()

	require.NotPanics(t, func() {
		r.Dispatch(tbl, replication.RowsWrite, nil, []interface{}{int64(1), "1"}, time.Now(), 1)
	})
	require.False(t, r.Subscribed(schema.TableKey{DB: tbl.DB, Table: tbl.Table}))
}

func TestRouterDispatchFilteredOutIsIgnored(t *testing.T) {
	r := NewCallbackRouter(NewStateObserver(), NewStatsObserver())
	tbl := newTestOrdersTable()
	key := schema.TableKey{DB: tbl.DB, Table: tbl.Table}

	called := false
	r.Register(key, EventInsert, RowTypeMap, nil, func(rs *RecordSet) { called = true })

	r.Dispatch(tbl, replication.RowsDelete, []interface{}{int64(1), "1"}, nil, time.Now(), 1)

	require.False(t, called)
	stats := r.stats.TableStats(tbl.FullName())
	require.EqualValues(t, 1, stats.Total)
	require.EqualValues(t, 1, stats.Ignored)
}

func TestRouterDispatchPanicCountsFailed(t *testing.T) {
	r := NewCallbackRouter(NewStateObserver(), NewStatsObserver())
	tbl := newTestOrdersTable()
	key := schema.TableKey{DB: tbl.DB, Table: tbl.Table}

	r.Register(key, EventAll, RowTypeMap, nil, func(rs *RecordSet) { panic("boom") })

	require.NotPanics(t, func() {
		r.Dispatch(tbl, replication.RowsWrite, nil, []interface{}{int64(1), "1"}, time.Now(), 1)
	})

	stats := r.stats.TableStats(tbl.FullName())
	require.EqualValues(t, 1, stats.Failed)
	require.EqualValues(t, 0, stats.Done)
}

func TestRouterColumnFilter(t *testing.T) {
	r := NewCallbackRouter(NewStateObserver(), NewStatsObserver())
	key := schema.TableKey{DB: "shop", Table: "orders"}

	require.Nil(t, r.ColumnFilter(key))

	r.Register(key, EventAll, RowTypeVector, []string{"total"}, func(*RecordSet) {})
	require.Equal(t, []string{"total"}, r.ColumnFilter(key))
}
