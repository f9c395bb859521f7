package replication

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/pingcap/errors"

	"github.com/binlogkit/slave/mysql"
)

// EventHeaderSize is the fixed size of the common binlog event header:
// timestamp(4) + type(1) + server_id(4) + event_size(4) + log_pos(4) + flags(2).
const EventHeaderSize = 19

// ChecksumLength is the trailing CRC32 length when the master's
// binlog_checksum is not NONE.
const ChecksumLength = 4

// EventType is the single byte following the header timestamp identifying
// the event's wire shape. Values match the MySQL/MariaDB binlog protocol.
type EventType byte

const (
	UNKNOWN_EVENT EventType = iota
	START_EVENT_V3
	QUERY_EVENT
	STOP_EVENT
	ROTATE_EVENT
	INTVAR_EVENT
	LOAD_EVENT
	SLAVE_EVENT
	CREATE_FILE_EVENT
	APPEND_BLOCK_EVENT
	EXEC_LOAD_EVENT
	DELETE_FILE_EVENT
	NEW_LOAD_EVENT
	RAND_EVENT
	USER_VAR_EVENT
	FORMAT_DESCRIPTION_EVENT
	XID_EVENT
	BEGIN_LOAD_QUERY_EVENT
	EXECUTE_LOAD_QUERY_EVENT
	TABLE_MAP_EVENT
	WRITE_ROWS_EVENTv0
	UPDATE_ROWS_EVENTv0
	DELETE_ROWS_EVENTv0
	WRITE_ROWS_EVENTv1
	UPDATE_ROWS_EVENTv1
	DELETE_ROWS_EVENTv1
	INCIDENT_EVENT
	HEARTBEAT_LOG_EVENT
	IGNORABLE_EVENT
	ROWS_QUERY_EVENT
	WRITE_ROWS_EVENTv2
	UPDATE_ROWS_EVENTv2
	DELETE_ROWS_EVENTv2
	GTID_EVENT
	ANONYMOUS_GTID_EVENT
	PREVIOUS_GTIDS_EVENT
	TRANSACTION_CONTEXT_EVENT
	VIEW_CHANGE_EVENT
	XA_PREPARE_LOG_EVENT
	PARTIAL_UPDATE_ROWS_EVENT
	TRANSACTION_PAYLOAD_EVENT
	HEARTBEAT_LOG_EVENT_V2
)

// MariaDB assigns its own event types starting at 0xa0, coexisting with the
// MySQL range above on a MariaDB master.
const (
	MARIADB_ANNOTATE_ROWS_EVENT     EventType = 0xa0
	MARIADB_BINLOG_CHECKPOINT_EVENT EventType = 0xa1
	MARIADB_GTID_EVENT              EventType = 0xa2
	MARIADB_GTID_LIST_EVENT         EventType = 0xa3
	MARIADB_START_ENCRYPTION_EVENT  EventType = 0xa4
	MARIADB_QUERY_COMPRESSED_EVENT  EventType = 0xa5
)

func (t EventType) String() string {
	switch t {
	case QUERY_EVENT:
		return "QueryEvent"
	case ROTATE_EVENT:
		return "RotateEvent"
	case FORMAT_DESCRIPTION_EVENT:
		return "FormatDescriptionEvent"
	case XID_EVENT:
		return "XIDEvent"
	case TABLE_MAP_EVENT:
		return "TableMapEvent"
	case WRITE_ROWS_EVENTv1, WRITE_ROWS_EVENTv2:
		return "WriteRowsEvent"
	case UPDATE_ROWS_EVENTv1, UPDATE_ROWS_EVENTv2:
		return "UpdateRowsEvent"
	case DELETE_ROWS_EVENTv1, DELETE_ROWS_EVENTv2:
		return "DeleteRowsEvent"
	case GTID_EVENT:
		return "GTIDEvent"
	case HEARTBEAT_LOG_EVENT, HEARTBEAT_LOG_EVENT_V2:
		return "HeartbeatEvent"
	case MARIADB_ANNOTATE_ROWS_EVENT:
		return "MariadbAnnotateRowsEvent"
	case MARIADB_BINLOG_CHECKPOINT_EVENT:
		return "MariadbBinlogCheckpointEvent"
	case MARIADB_GTID_EVENT:
		return "MariadbGTIDEvent"
	case MARIADB_GTID_LIST_EVENT:
		return "MariadbGTIDListEvent"
	default:
		return fmt.Sprintf("EventType(%d)", byte(t))
	}
}

// ChecksumAlgorithm is the value FormatDescriptionEvent's trailing byte
// carries, mirroring binlog_checksum: only NONE and CRC32 are meaningful.
// The decoder strips and verifies a trailer only for CRC32; every other
// value is treated as "no checksum".
type ChecksumAlgorithm byte

const (
	ChecksumNone      ChecksumAlgorithm = 0
	ChecksumCRC32     ChecksumAlgorithm = 1
	ChecksumUndefined ChecksumAlgorithm = 255
)

// BinlogEvent is one decoded wire event: its common header plus the
// type-specific body. RawData retains the header+body exactly as received,
// including the checksum trailer when the stream carries one.
type BinlogEvent struct {
	RawData []byte
	Header  *EventHeader
	Event   Event
}

func (e *BinlogEvent) Dump(w io.Writer) {
	e.Header.Dump(w)
	e.Event.Dump(w)
}

// Event is implemented by every type-specific event body.
type Event interface {
	Dump(w io.Writer)
	Decode(data []byte) error
}

// EventHeader is the 19-byte header common to every binlog event.
type EventHeader struct {
	Timestamp uint32
	EventType EventType
	ServerID  uint32
	EventSize uint32
	LogPos    uint32
	Flags     uint16
}

// ArtificialFlag marks an event manufactured by the master rather than
// replayed from its own binlog (e.g. the FDE sent at dump start).
const ArtificialFlag = 0x0020

func (h *EventHeader) Decode(data []byte) error {
	if len(data) < EventHeaderSize {
		return errors.Errorf("replication: header size %d too short, need %d", len(data), EventHeaderSize)
	}

	pos := 0
	h.Timestamp = binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	h.EventType = EventType(data[pos])
	pos++
	h.ServerID = binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	h.EventSize = binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	h.LogPos = binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	h.Flags = binary.LittleEndian.Uint16(data[pos:])

	if h.EventSize < EventHeaderSize {
		return errors.Errorf("replication: invalid event size %d, must be >= %d", h.EventSize, EventHeaderSize)
	}
	return nil
}

// IsArtificial reports whether the header's timestamp is 0 — spec.md
// §4.4's "when < 0", a manufactured rather than replayed event.
func (h *EventHeader) IsArtificial() bool {
	return h.Timestamp == 0
}

func (h *EventHeader) Dump(w io.Writer) {
	fmt.Fprintf(w, "=== %s ===\n", h.EventType)
	fmt.Fprintf(w, "Date: %s\n", time.Unix(int64(h.Timestamp), 0).UTC())
	fmt.Fprintf(w, "Log position: %d\n", h.LogPos)
	fmt.Fprintf(w, "Event size: %d\n", h.EventSize)
}

// splitServerVersion parses "X.Y.Zabc" server version strings, where abc
// is any non-digit suffix (e.g. "-log", "-MariaDB").
func splitServerVersion(server string) (x, y, z int) {
	seps := strings.SplitN(server, ".", 3)
	if len(seps) < 3 {
		return 0, 0, 0
	}
	x, _ = strconv.Atoi(seps[0])
	y, _ = strconv.Atoi(seps[1])

	end := len(seps[2])
	for i, c := range seps[2] {
		if !unicode.IsNumber(c) {
			end = i
			break
		}
	}
	z, _ = strconv.Atoi(seps[2][:end])
	return x, y, z
}

func versionProduct(x, y, z int) int {
	return (x*256+y)*256 + z
}

// FormatDescriptionEvent is the first real event of every binlog file: it
// carries the master's server version and, for servers new enough to emit
// one, the checksum algorithm trailer. Must be processed even when marked
// artificial.
type FormatDescriptionEvent struct {
	BinlogVersion          uint16
	ServerVersion          string
	CreateTimestamp        uint32
	EventHeaderLength      uint8
	EventTypeHeaderLengths []byte
	ChecksumAlgorithm      ChecksumAlgorithm
}

// checksumCapableProduct is the version_product above which a server is
// known to emit the FDE's checksum trailer: 5.6.1 for MySQL, 5.3.0 for
// MariaDB.
func checksumCapableProduct(serverVersion string) int {
	if strings.Contains(strings.ToLower(serverVersion), "mariadb") {
		return versionProduct(5, 3, 0)
	}
	return versionProduct(5, 6, 1)
}

func (e *FormatDescriptionEvent) Decode(data []byte) error {
	if len(data) < 2+50+4+1 {
		return errors.Trace(ErrTruncatedEvent)
	}
	pos := 0
	e.BinlogVersion = binary.LittleEndian.Uint16(data[pos:])
	pos += 2

	serverVersionRaw := make([]byte, 50)
	copy(serverVersionRaw, data[pos:pos+50])
	pos += 50

	e.CreateTimestamp = binary.LittleEndian.Uint32(data[pos:])
	pos += 4

	e.EventHeaderLength = data[pos]
	pos++
	if e.EventHeaderLength != EventHeaderSize {
		return errors.Errorf("replication: invalid event header length %d, must be %d", e.EventHeaderLength, EventHeaderSize)
	}

	if end := bytes.IndexByte(serverVersionRaw, 0); end >= 0 {
		e.ServerVersion = string(serverVersionRaw[:end])
	} else {
		e.ServerVersion = string(serverVersionRaw)
	}

	x, y, z := splitServerVersion(e.ServerVersion)
	if versionProduct(x, y, z) >= checksumCapableProduct(e.ServerVersion) {
		e.ChecksumAlgorithm = ChecksumAlgorithm(data[len(data)-5])
		e.EventTypeHeaderLengths = data[pos : len(data)-5]
	} else {
		e.ChecksumAlgorithm = ChecksumUndefined
		e.EventTypeHeaderLengths = data[pos:]
	}
	return nil
}

func (e *FormatDescriptionEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "Binlog version: %d\n", e.BinlogVersion)
	fmt.Fprintf(w, "Server version: %s\n", e.ServerVersion)
	fmt.Fprintf(w, "Checksum algorithm: %d\n", e.ChecksumAlgorithm)
	fmt.Fprintln(w)
}

// RotateEvent announces the log file the stream continues in (or, sent at
// the very start of a dump, the current one). Position is always 4 for a
// genuine rotate.
type RotateEvent struct {
	Position    uint64
	NextLogName string
}

func (e *RotateEvent) Decode(data []byte) error {
	if len(data) < 8 {
		return errors.Trace(ErrTruncatedEvent)
	}
	e.Position = binary.LittleEndian.Uint64(data[0:8])
	e.NextLogName = string(data[8:])
	return nil
}

func (e *RotateEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "Position: %d\n", e.Position)
	fmt.Fprintf(w, "Next log name: %s\n", e.NextLogName)
	fmt.Fprintln(w)
}

// QueryEvent carries a single non-row-based statement (DDL, COMMIT, BEGIN,
// etc). DDL recognition lives in ddl.go.
type QueryEvent struct {
	SlaveProxyID  uint32
	ExecutionTime uint32
	ErrorCode     uint16
	StatusVars    []byte
	Schema        string
	Query         string
}

func (e *QueryEvent) Decode(data []byte) error {
	if len(data) < 13 {
		return errors.Trace(ErrTruncatedEvent)
	}
	pos := 0
	e.SlaveProxyID = binary.LittleEndian.Uint32(data[pos:])
	pos += 4
	e.ExecutionTime = binary.LittleEndian.Uint32(data[pos:])
	pos += 4

	schemaLength := int(data[pos])
	pos++
	e.ErrorCode = binary.LittleEndian.Uint16(data[pos:])
	pos += 2

	statusVarsLength := int(binary.LittleEndian.Uint16(data[pos:]))
	pos += 2

	if len(data) < pos+statusVarsLength+schemaLength+1 {
		return errors.Trace(ErrTruncatedEvent)
	}
	e.StatusVars = data[pos : pos+statusVarsLength]
	pos += statusVarsLength

	e.Schema = string(data[pos : pos+schemaLength])
	pos += schemaLength
	pos++ // trailing 0x00 after the schema name

	e.Query = string(data[pos:])
	return nil
}

func (e *QueryEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "Schema: %s\n", e.Schema)
	fmt.Fprintf(w, "Query: %s\n", e.Query)
	fmt.Fprintln(w)
}

// XIDEvent commits a transaction. If GTID replication is in use, the
// session folds the pending gtid_next into Position here (spec.md §4.4).
type XIDEvent struct {
	XID uint64
}

func (e *XIDEvent) Decode(data []byte) error {
	if len(data) < 8 {
		return errors.Trace(ErrTruncatedEvent)
	}
	e.XID = binary.LittleEndian.Uint64(data)
	return nil
}

func (e *XIDEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "XID: %d\n", e.XID)
	fmt.Fprintln(w)
}

// logicalTimestampTypeCode marks the optional last_committed/sequence_number
// pair MySQL 5.7.5+ appends for the binlog group-commit dependency tracker.
const logicalTimestampTypeCode = 2

// GTIDEvent announces the (server_uuid, transaction_number) the following
// transaction will commit as. The session stashes it as gtid_next and
// folds it into Position on the matching XIDEvent.
type GTIDEvent struct {
	CommitFlag uint8
	SID        uuid.UUID
	GNO        int64

	LastCommitted  int64
	SequenceNumber int64
}

func (e *GTIDEvent) Decode(data []byte) error {
	if len(data) < 1+mysql.SidLength+8 {
		return errors.Trace(ErrTruncatedEvent)
	}
	pos := 0
	e.CommitFlag = data[pos]
	pos++

	id, err := uuid.FromBytes(data[pos : pos+mysql.SidLength])
	if err != nil {
		return errors.Annotate(err, "replication: decoding GTID event SID")
	}
	e.SID = id
	pos += mysql.SidLength

	e.GNO = int64(binary.LittleEndian.Uint64(data[pos:]))
	pos += 8

	if len(data)-pos >= 1+8+8 && data[pos] == logicalTimestampTypeCode {
		pos++
		e.LastCommitted = int64(binary.LittleEndian.Uint64(data[pos:]))
		pos += 8
		e.SequenceNumber = int64(binary.LittleEndian.Uint64(data[pos:]))
		pos += 8
	}
	return nil
}

func (e *GTIDEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "Commit flag: %d\n", e.CommitFlag)
	fmt.Fprintf(w, "GTID_NEXT: %s:%d\n", e.SID.String(), e.GNO)
	fmt.Fprintln(w)
}

// HeartbeatEvent carries no application payload; the master sends it
// periodically on an idle binlog to keep the connection alive.
type HeartbeatEvent struct {
	LogName string
}

func (e *HeartbeatEvent) Decode(data []byte) error {
	e.LogName = string(data)
	return nil
}

func (e *HeartbeatEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "Heartbeat for: %s\n", e.LogName)
	fmt.Fprintln(w)
}

// stripChecksum removes the trailing CRC32 from a decoded event body when
// algo is CRC32. Callers pass the raw body (header already removed).
func stripChecksum(body []byte, algo ChecksumAlgorithm) ([]byte, error) {
	if algo != ChecksumCRC32 {
		return body, nil
	}
	if len(body) < ChecksumLength {
		return nil, errors.Trace(ErrTruncatedEvent)
	}
	return body[:len(body)-ChecksumLength], nil
}
