package slave

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pingcap/errors"

	"github.com/binlogkit/slave/client"
	"github.com/binlogkit/slave/mysql"
	"github.com/binlogkit/slave/replication"
	"github.com/binlogkit/slave/schema"
)

// DDLCallback is invoked after a DDL statement has driven a subscribed
// table's schema rebuild, with the new field list, mirroring the per-table
// ddl_callback spec.md §6 names.
type DDLCallback func(key schema.TableKey, table *schema.Table)

// XIDCallback is invoked once per committed transaction, mirroring the
// global xid_callback spec.md §6 names.
type XIDCallback func(serverID uint32)

// Session drives one replication connection end to end: bootstrap, connect,
// register, checksum handshake, dump request, and the blocking read loop
// that decodes events and dispatches rows through a CallbackRouter. A
// Session runs at most one read loop at a time, matching the
// single-session-thread model spec.md §5 describes; Run blocks until ctx is
// cancelled or a bootstrap-fatal error occurs.
type Session struct {
	cfg    Config
	router *CallbackRouter
	State  *StateObserver
	Stats  *StatsObserver
	logger *slog.Logger

	DDLCallback DDLCallback
	XIDCallback XIDCallback

	mu            sync.Mutex
	serverID      uint32
	gtidMode      bool
	serverVersion string
	db            *sqlx.DB
	tableMaps     map[uint64]*replication.TableMapEvent
}

// NewSession builds a Session from cfg, with empty observers and no
// subscriptions. Subscribe before calling Run.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	state := NewStateObserver()
	stats := NewStatsObserver()
	return &Session{
		cfg:       cfg,
		router:    NewCallbackRouter(state, stats),
		State:     state,
		Stats:     stats,
		logger:    logger,
		tableMaps: make(map[uint64]*replication.TableMapEvent),
	}
}

// Subscribe registers cb for db.tbl's row changes matching filter, shaped as
// rowType. columnFilter, if non-empty, restricts RecordSets to those
// columns. Must be called before Run; the router is not safe to mutate
// concurrently with a running read loop.
func (s *Session) Subscribe(db, tbl string, filter EventKind, rowType RowType, columnFilter []string, cb Callback) {
	s.router.Register(schema.TableKey{DB: db, Table: tbl}, filter, rowType, columnFilter, cb)
}

// Run bootstraps the connection, then loops connect/register/dump/read
// until ctx is cancelled, reconnecting after any transient network error.
// Only bootstrap failures (version, binlog_format, GTID mode mismatch)
// return an error; everything after that is retried forever, per spec.md
// §7's propagation policy. This replaces the original implementation's
// close_connection/SIGURG interrupt mechanism with ctx cancellation, as
// the expanded design calls for.
func (s *Session) Run(ctx context.Context) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/?parseTime=true", s.cfg.MySQLUser, s.cfg.MySQLPass, s.cfg.MySQLHost, s.cfg.MySQLPort)
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return errors.Annotate(err, "slave: opening bootstrap connection")
	}
	defer db.Close()
	s.db = db

	info, err := Bootstrap(db, s.cfg.GTIDEnabled)
	if err != nil {
		return errors.Trace(err)
	}
	s.gtidMode = info.GTIDMode
	s.serverVersion = info.ServerVersion

	serverID, err := GenerateServerID(db, time.Now())
	if err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	s.serverID = serverID
	s.mu.Unlock()

	pos := info.Position
	if loaded, ok := s.State.LoadMasterPosition(); ok {
		pos = loaded
	}

	cache := schema.NewCache()
	hb := newHeartbeatLogger(s.logger)

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.State.SetConnecting(time.Now())
		if err := s.runOnce(ctx, &pos, cache, hb); err != nil {
			if errors.Cause(err) == context.Canceled {
				return nil
			}
			s.logger.Warn("replication connection ended, reconnecting", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.ConnectRetry()):
		}
	}
}

// runOnce owns one connect/register/dump/read cycle. Any error it returns
// (other than context.Canceled) is a transient network failure per spec.md
// §7 and triggers a reconnect from Run's loop.
func (s *Session) runOnce(ctx context.Context, pos *mysql.Position, cache *schema.Cache, hb *heartbeatLogger) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.MySQLHost, s.cfg.MySQLPort)
	conn, err := client.Dial(addr, s.cfg.MySQLUser, s.cfg.MySQLPass, 10*time.Second)
	if err != nil {
		return errors.Annotate(err, "slave: connecting to master")
	}
	defer conn.Close()

	if err := conn.RegisterSlave(s.serverID); err != nil {
		return errors.Annotate(err, "slave: COM_REGISTER_SLAVE")
	}
	if _, err := conn.ChecksumHandshake(); err != nil {
		return errors.Annotate(err, "slave: checksum handshake")
	}

	if s.gtidMode {
		if err := conn.DumpBinlogGTID(s.serverID, pos.GTIDSet); err != nil {
			return errors.Annotate(err, "slave: COM_BINLOG_DUMP_GTID")
		}
	} else {
		if err := conn.DumpBinlog(s.serverID, pos.LogName, pos.LogPos); err != nil {
			return errors.Annotate(err, "slave: COM_BINLOG_DUMP")
		}
	}

	decoder := replication.NewEventDecoder()
	var pendingGTID *replication.GTIDEvent
	packetNo := 0

	for {
		if ctx.Err() != nil {
			return context.Canceled
		}

		hb.LogStartReading()
		raw, err := conn.ReadEvent()
		if err != nil {
			return errors.Trace(err)
		}
		packetNo++
		hb.LogEventLenAndPacketNo(uint32(len(raw)), packetNo)

		s.State.SetStateProcessing(true)
		if procErr := s.processEvent(raw, pos, cache, decoder, &pendingGTID, hb); procErr != nil {
			s.Stats.IncErrorTick()
			s.logger.Error("error processing binlog event", slog.Any("error", procErr))
			time.Sleep(time.Second)
		}
		s.State.SetStateProcessing(false)
	}
}

// processEvent is the per-event block spec.md §4.5 describes: header decode
// and Position advancement happen unconditionally (every event, modeled or
// not), then the typed event (if any) is dispatched. A returned error means
// a decode-time problem with this one event; the caller accounts it and
// sleeps, it never reconnects the session.
func (s *Session) processEvent(raw []byte, pos *mysql.Position, cache *schema.Cache, decoder *replication.EventDecoder, pendingGTID **replication.GTIDEvent, hb *heartbeatLogger) error {
	var header replication.EventHeader
	if err := header.Decode(raw); err != nil {
		return errors.Trace(err)
	}

	if !header.IsArtificial() {
		pos.LogPos = header.LogPos
		s.State.SetLastEventTimePos(time.Unix(int64(header.Timestamp), 0), header.LogPos)
	}

	ev, err := decoder.Decode(raw)
	if err != nil {
		return errors.Trace(err)
	}
	if ev == nil {
		return nil
	}

	when := time.Unix(int64(header.Timestamp), 0)

	switch body := ev.Event.(type) {
	case *replication.HeartbeatEvent:
		hb.AddHeartbeat(uint(header.EventSize), time.Now())
		return nil

	case *replication.RotateEvent:
		hb.Flush()
		pos.LogName = body.NextLogName
		pos.LogPos = uint32(body.Position)
		cache.ClearTransient()
		s.tableMaps = make(map[uint64]*replication.TableMapEvent)
		return nil

	case *replication.FormatDescriptionEvent:
		hb.Flush()
		return nil

	case *replication.GTIDEvent:
		hb.Flush()
		*pendingGTID = body
		return nil

	case *replication.XIDEvent:
		hb.Flush()
		if *pendingGTID != nil {
			pos.AddGTID((*pendingGTID).SID, (*pendingGTID).GNO)
			*pendingGTID = nil
		}
		s.State.SetMasterPosition(*pos)
		if s.XIDCallback != nil {
			s.XIDCallback(header.ServerID)
		}
		return nil

	case *replication.QueryEvent:
		hb.Flush()
		return s.handleQuery(body, cache)

	case *replication.TableMapEvent:
		hb.Flush()
		return s.handleTableMap(body, cache)

	case *replication.RowsEvent:
		hb.Flush()
		return s.handleRows(body, cache, header.ServerID, when)

	default:
		return nil
	}
}

// handleTableMap remembers the wire-level column layout for TableID and,
// only for tables with a live subscription, builds (if not already cached)
// the schema.Table a RowsEvent for this id will need.
func (s *Session) handleTableMap(tm *replication.TableMapEvent, cache *schema.Cache) error {
	s.tableMaps[tm.TableID] = tm

	key := schema.TableKey{DB: tm.SchemaName, Table: tm.TableName}
	if !s.router.Subscribed(key) {
		return nil
	}
	cache.SetTableName(tm.TableID, tm.SchemaName, tm.TableName)
	if _, ok := cache.GetTable(key); ok {
		return nil
	}
	return s.buildAndCacheTable(key, cache, tm, false)
}

// handleQuery scans a non-row-based statement for the tables it affects
// and rebuilds their cached schema, notifying DDLCallback. A DDL statement
// naming a table nobody subscribed to is silently ignored, per spec.md §7.
func (s *Session) handleQuery(qe *replication.QueryEvent, cache *schema.Cache) error {
	for _, key := range replication.AffectedTables(qe.Query, qe.Schema) {
		if !s.router.Subscribed(key) {
			continue
		}
		if err := s.buildAndCacheTable(key, cache, nil, true); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// buildAndCacheTable fetches key's current column list, applies its
// subscription's column filter and (when tm is available) per-column
// temporal storage correction, installs it in cache, and — when notifyDDL
// is set — invokes DDLCallback with the rebuilt table.
func (s *Session) buildAndCacheTable(key schema.TableKey, cache *schema.Cache, tm *replication.TableMapEvent, notifyDDL bool) error {
	table, err := schema.BuildTable(s.db, key.DB, key.Table, s.serverVersion)
	if err != nil {
		return errors.Annotatef(err, "slave: building schema for %s.%s", key.DB, key.Table)
	}
	if tm != nil {
		for i := range table.Fields {
			table.ApplyTableMapStorage(i, tm.NewTemporalStorage(i))
		}
	}
	if cf := s.router.ColumnFilter(key); len(cf) > 0 {
		if err := table.SetColumnFilter(cf...); err != nil {
			return errors.Annotatef(err, "slave: applying column filter to %s.%s", key.DB, key.Table)
		}
	}
	cache.SetTable(key, table)

	if notifyDDL && s.DDLCallback != nil {
		s.DDLCallback(key, table)
	}
	return nil
}

// handleRows decodes one WRITE/UPDATE/DELETE rows event against its
// matching TableMapEvent and dispatches each logical row change through the
// router. An event whose TableID has no known TableMapEvent, or whose table
// has no subscription, is silently skipped, per spec.md §7.
func (s *Session) handleRows(ev *replication.RowsEvent, cache *schema.Cache, serverID uint32, when time.Time) error {
	tm, ok := s.tableMaps[ev.TableID]
	if !ok {
		return nil
	}
	key := schema.TableKey{DB: tm.SchemaName, Table: tm.TableName}
	if !s.router.Subscribed(key) {
		return nil
	}

	table, ok := cache.GetTable(key)
	if !ok {
		if err := s.buildAndCacheTable(key, cache, tm, false); err != nil {
			return errors.Trace(err)
		}
		table, ok = cache.GetTable(key)
		if !ok {
			return nil
		}
	}

	if err := ev.DecodeWithTableMap(tm); err != nil {
		return errors.Trace(err)
	}

	for _, group := range ev.Rows {
		var before, after []interface{}
		switch ev.Kind {
		case replication.RowsWrite:
			after = group[0]
		case replication.RowsDelete:
			before = group[0]
		case replication.RowsUpdate:
			before = group[0]
			after = group[1]
		}
		s.router.Dispatch(table, ev.Kind, before, after, when, serverID)
	}
	return nil
}
