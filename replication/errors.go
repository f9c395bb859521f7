package replication

import "github.com/pingcap/errors"

var (
	// ErrTruncatedEvent is returned when an event body is shorter than its
	// type requires to decode.
	ErrTruncatedEvent = errors.New("replication: event body truncated")
	// ErrUnknownTable is returned when a ROWS event references a table_id
	// the schema cache has no key for.
	ErrUnknownTable = errors.New("replication: unknown table_id")
	// ErrBadChecksum is returned when an event's trailing CRC32 does not
	// match its computed checksum.
	ErrBadChecksum = errors.New("replication: checksum mismatch")
)
