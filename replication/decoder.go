package replication

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pingcap/errors"
)

// EventDecoder turns raw binlog event bytes (as handed back by the
// replication socket) into BinlogEvent values, tracking the two bits of
// state that span the stream: the checksum algorithm announced by the
// FormatDescriptionEvent, and that FDE itself (needed by some MariaDB
// extension events).
type EventDecoder struct {
	checksum ChecksumAlgorithm
	fde      *FormatDescriptionEvent
}

// NewEventDecoder returns a decoder with no checksum algorithm known yet;
// it is discovered from the stream's own FormatDescriptionEvent.
func NewEventDecoder() *EventDecoder {
	return &EventDecoder{checksum: ChecksumUndefined}
}

// Decode parses one complete event (header + body, as delimited by the
// packet reader) into a BinlogEvent. A nil *BinlogEvent with a nil error
// means the event type is recognized but carries no payload this package
// models (the caller should simply continue the loop).
func (d *EventDecoder) Decode(raw []byte) (*BinlogEvent, error) {
	header := &EventHeader{}
	if err := header.Decode(raw); err != nil {
		return nil, err
	}

	body := raw[EventHeaderSize:]
	if header.EventType == FORMAT_DESCRIPTION_EVENT {
		// The FDE's own checksum algorithm byte lives inside its body and
		// must be read before we know whether to strip a trailer from it.
		fde := &FormatDescriptionEvent{}
		if err := fde.Decode(body); err != nil {
			return nil, err
		}
		d.fde = fde
		d.checksum = fde.ChecksumAlgorithm
		return &BinlogEvent{RawData: raw, Header: header, Event: fde}, nil
	}

	if err := d.verifyChecksum(raw); err != nil {
		return nil, err
	}
	body, err := stripChecksum(body, d.checksum)
	if err != nil {
		return nil, err
	}

	// "when < 0" (artificial, timestamp 0) events other than the FDE are
	// dropped per spec.md §4.4.
	if header.IsArtificial() {
		return nil, nil
	}

	ev, err := d.decodeBody(header.EventType, body)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, nil
	}
	return &BinlogEvent{RawData: raw, Header: header, Event: ev}, nil
}

func (d *EventDecoder) decodeBody(t EventType, body []byte) (Event, error) {
	var ev Event
	switch t {
	case ROTATE_EVENT:
		ev = &RotateEvent{}
	case QUERY_EVENT:
		ev = &QueryEvent{}
	case MARIADB_QUERY_COMPRESSED_EVENT:
		ev = &MariadbQueryCompressedEvent{}
	case XID_EVENT:
		ev = &XIDEvent{}
	case GTID_EVENT, ANONYMOUS_GTID_EVENT:
		ev = &GTIDEvent{}
	case HEARTBEAT_LOG_EVENT, HEARTBEAT_LOG_EVENT_V2:
		ev = &HeartbeatEvent{}
	case TABLE_MAP_EVENT:
		ev = &TableMapEvent{}
	case WRITE_ROWS_EVENTv1, WRITE_ROWS_EVENTv2:
		ev = &RowsEvent{EventType: t, Kind: RowsWrite}
	case UPDATE_ROWS_EVENTv1, UPDATE_ROWS_EVENTv2:
		ev = &RowsEvent{EventType: t, Kind: RowsUpdate}
	case DELETE_ROWS_EVENTv1, DELETE_ROWS_EVENTv2:
		ev = &RowsEvent{EventType: t, Kind: RowsDelete}
	case MARIADB_ANNOTATE_ROWS_EVENT:
		ev = &MariadbAnnotateRowsEvent{}
	case MARIADB_GTID_EVENT:
		ev = &MariadbGTIDEvent{}
	case MARIADB_GTID_LIST_EVENT:
		ev = &MariadbGTIDListEvent{}
	case MARIADB_BINLOG_CHECKPOINT_EVENT:
		ev = &MariadbBinlogCheckpointEvent{}
	default:
		return nil, nil
	}
	if err := ev.Decode(body); err != nil {
		return nil, err
	}
	return ev, nil
}

// verifyChecksum checks the trailing CRC32, when present, against the
// computed checksum of everything preceding it (header included).
func (d *EventDecoder) verifyChecksum(raw []byte) error {
	if d.checksum != ChecksumCRC32 {
		return nil
	}
	if len(raw) < ChecksumLength {
		return errors.Trace(ErrTruncatedEvent)
	}
	want := binary.LittleEndian.Uint32(raw[len(raw)-ChecksumLength:])
	got := crc32.ChecksumIEEE(raw[:len(raw)-ChecksumLength])
	if want != got {
		return errors.Trace(ErrBadChecksum)
	}
	return nil
}

// Checksum reports the checksum algorithm discovered from the stream's FDE.
func (d *EventDecoder) Checksum() ChecksumAlgorithm {
	return d.checksum
}

// FormatDescription returns the last FormatDescriptionEvent seen, or nil
// before one arrives.
func (d *EventDecoder) FormatDescription() *FormatDescriptionEvent {
	return d.fde
}
