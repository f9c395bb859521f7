package slave

import (
	"time"

	"github.com/binlogkit/slave/replication"
	"github.com/binlogkit/slave/schema"
)

// Callback receives one decoded row image. Each call gets a RecordSet
// freshly built for it by CallbackRouter.Dispatch.
type Callback func(*RecordSet)

// subscription is one table's registration: its callback, the EventKind
// mask it wants, the RowType its RecordSets should be built in, and the
// column names (if any) it wants applied to every rebuilt schema.Table for
// this key. The *schema.Table itself is NOT owned here — it lives in the
// session's schema.Cache and is rebuilt on TableMapEvent/DDL, so Dispatch
// always takes the current one as a parameter rather than risking a stale
// pointer.
type subscription struct {
	callback     Callback
	filter       EventKind
	rowType      RowType
	columnFilter []string
}

// CallbackRouter dispatches decoded row events to per-table subscriptions,
// mirroring the original implementation's table.h: should_process gates a
// row image on its table's filter, and every dispatch touches StatsObserver
// and StateObserver the way Table::call_callback does.
type CallbackRouter struct {
	subs  map[schema.TableKey]*subscription
	state *StateObserver
	stats *StatsObserver
}

// NewCallbackRouter builds an empty router bound to the session's observers.
func NewCallbackRouter(state *StateObserver, stats *StatsObserver) *CallbackRouter {
	return &CallbackRouter{
		subs:  make(map[schema.TableKey]*subscription),
		state: state,
		stats: stats,
	}
}

// Register subscribes a callback to db.tbl, in the EventKind mask given by
// filter and the row shape rowType. columnFilter, if non-empty, is applied
// to every schema.Table the session builds for this key (see ColumnFilter).
func (r *CallbackRouter) Register(key schema.TableKey, filter EventKind, rowType RowType, columnFilter []string, cb Callback) {
	r.subs[key] = &subscription{
		callback:     cb,
		filter:       filter,
		rowType:      rowType,
		columnFilter: columnFilter,
	}
}

// Subscribed reports whether db.tbl has a registered callback at all, so
// the session loop can skip the cost of building a schema.Table for
// TableMapEvents nobody asked about.
func (r *CallbackRouter) Subscribed(key schema.TableKey) bool {
	_, ok := r.subs[key]
	return ok
}

// ColumnFilter returns the column names registered for key, if any, so the
// session can re-apply schema.Table.SetColumnFilter whenever it rebuilds
// that table (each rebuild is a fresh *schema.Table with its own filter
// state).
func (r *CallbackRouter) ColumnFilter(key schema.TableKey) []string {
	sub, ok := r.subs[key]
	if !ok {
		return nil
	}
	return sub.columnFilter
}

func eventKindOf(kind replication.RowsKind) EventKind {
	switch kind {
	case replication.RowsUpdate:
		return EventUpdate
	case replication.RowsDelete:
		return EventDelete
	default:
		return EventInsert
	}
}

func typeEventOf(kind replication.RowsKind) TypeEvent {
	switch kind {
	case replication.RowsUpdate:
		return TypeUpdate
	case replication.RowsDelete:
		return TypeDelete
	default:
		return TypeWrite
	}
}

// Dispatch routes one logical row change (a single before and/or after
// image, already decoded against the table's TableMapEvent) to table's
// subscription, if one exists. when is the originating event's header
// timestamp; serverID is the root master's server_id.
//
// A row whose kind the subscription's filter excludes is counted as
// Ignored, not Done, matching should_process's all-or-nothing semantics.
// A callback that panics is recovered, counted as Failed, and otherwise
// swallowed: one broken subscriber must not stop the replication stream.
func (r *CallbackRouter) Dispatch(table *schema.Table, kind replication.RowsKind, before, after []interface{}, when time.Time, serverID uint32) {
	key := schema.TableKey{DB: table.DB, Table: table.Table}
	sub, ok := r.subs[key]
	if !ok {
		return
	}

	fullName := table.FullName()
	r.stats.IncTotal(fullName)

	ek := eventKindOf(kind)
	if !shouldProcess(sub.filter, ek) {
		r.stats.IncIgnored(fullName)
		return
	}

	rs := &RecordSet{
		DB:       table.DB,
		Table:    table.Table,
		When:     when,
		Type:     typeEventOf(kind),
		RowType:  sub.rowType,
		ServerID: serverID,
	}
	if before != nil {
		rs.OldRow, rs.OldRowVec = buildRow(table, before)
	}
	if after != nil {
		rs.Row, rs.RowVec = buildRow(table, after)
	}

	start := time.Now()
	r.call(sub, fullName, rs, start)
}

// call invokes sub's callback, recovering from a panic the way
// Table::call_callback's caller must (the original relies on std::function
// not throwing; this module cannot make that assumption of Go callbacks).
func (r *CallbackRouter) call(sub *subscription, fullName string, rs *RecordSet, start time.Time) {
	defer func() {
		if p := recover(); p != nil {
			r.stats.IncFailed(fullName, time.Since(start))
		}
	}()

	sub.callback(rs)

	r.stats.IncDone(fullName, time.Since(start))
	r.state.SetLastFilteredUpdateTime(time.Now())
}
