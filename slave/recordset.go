package slave

import (
	"time"

	goccyjson "github.com/goccy/go-json"

	"github.com/binlogkit/slave/schema"
)

// EventKind is a bitset over the three row-change kinds a table subscription
// can filter on, combinable with bitwise OR (EventInsert|EventUpdate).
type EventKind int

const (
	EventInsert EventKind = 1 << iota
	EventUpdate
	EventDelete

	EventAll = EventInsert | EventUpdate | EventDelete
)

// shouldProcess reports whether a table's configured filter wants events of
// kind: (filter & kind) == kind, so a combined filter only matches when
// every bit kind sets is also set in filter.
func shouldProcess(filter, kind EventKind) bool {
	return filter&kind == kind
}

// RowType selects the shape RecordSet delivers a row in: by column name
// (Map) or by the table's master-side column order (Vector). A table
// subscription picks exactly one.
type RowType int

const (
	RowTypeMap RowType = iota
	RowTypeVector
)

// FieldValue pairs a decoded column value with the MySQL type name it was
// decoded from, mirroring the original implementation's (type_string, value)
// pair so callers that only care about values can ignore the first element.
type FieldValue struct {
	Type  string
	Value interface{}
}

// Row is a column-name-keyed view of one row image.
type Row map[string]FieldValue

// RowVector is a master-column-order view of one row image; index i holds
// the ordinal-i master column (or, once a column filter has been applied,
// the caller's requested ordinal — see schema.Table.UserOrdinal).
type RowVector []FieldValue

// TypeEvent names the three kinds of change a RecordSet can carry.
type TypeEvent int

const (
	TypeWrite TypeEvent = iota
	TypeUpdate
	TypeDelete
)

func (t TypeEvent) String() string {
	switch t {
	case TypeWrite:
		return "Write"
	case TypeUpdate:
		return "Update"
	case TypeDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// RecordSet is what a table's callback receives for one row image: both
// Map and Vector shapes are always populated (the cost of building both is
// small relative to a network round trip; callers read whichever RowType
// they asked for), matching the RowType-but-keep-both contract named by
// the original implementation's RecordSet.
type RecordSet struct {
	DB    string
	Table string
	When  time.Time

	Type TypeEvent

	Row    Row
	OldRow Row

	RowVec    RowVector
	OldRowVec RowVector

	RowType RowType

	// ServerID is the root master's server_id, carried through from the
	// event header so multi-master topologies can tell originating source
	// apart.
	ServerID uint32
}

// MarshalRecordSet renders rs as a single line of JSON, the shape
// cmd/binlogcat prints one per decoded row. It uses the same JSON encoder
// replication.MarshalJSON does, for consistent number/string formatting of
// decoded column values across the module.
func MarshalRecordSet(rs *RecordSet) ([]byte, error) {
	return goccyjson.Marshal(rs)
}

// buildRow decodes one row image (in master column order, one value per
// master column, nil where the image omits it) into both RecordSet row
// shapes, honoring t's column filter: with a filter set, the vector is laid
// out in the filter's order via t.UserOrdinal.
func buildRow(t *schema.Table, values []interface{}) (Row, RowVector) {
	m := make(Row, len(values))
	filtered := t.FilterCount() > 0
	vec := make(RowVector, 0, len(values))
	if filtered {
		vec = make(RowVector, t.FilterCount())
	}
	for ordinal, v := range values {
		if !t.Included(ordinal) {
			continue
		}
		fv := FieldValue{Type: fieldTypeName(t, ordinal), Value: recode(t, ordinal, v)}
		if ordinal < len(t.Fields) {
			m[t.Fields[ordinal].Name] = fv
		}
		if !filtered {
			vec = append(vec, fv)
		} else if u := t.UserOrdinal(ordinal); u >= 0 && u < len(vec) {
			vec[u] = fv
		}
	}
	return m, vec
}

// recode re-decodes a CHAR/VARCHAR/TEXT column's value from its master-side
// collation to UTF-8, so a non-UTF8 column (e.g. latin1, gbk) reaches the
// callback as a correct Go string rather than raw collation bytes wrapped
// in a string. Every other Kind passes through untouched.
func recode(t *schema.Table, ordinal int, v interface{}) interface{} {
	if ordinal < 0 || ordinal >= len(t.Fields) {
		return v
	}
	f := t.Fields[ordinal]

	var raw []byte
	switch {
	case f.Kind == schema.KindString:
		s, ok := v.(string)
		if !ok {
			return v
		}
		raw = []byte(s)
	case f.Kind == schema.KindBlob && f.Collation != "":
		// TEXT columns decode off the BLOB wire family but, unlike a true
		// BLOB, carry a real charset/collation; a true BLOB's collation is
		// NULL and classifyColumn leaves it empty.
		b, ok := v.([]byte)
		if !ok {
			return v
		}
		raw = b
	default:
		return v
	}

	decoded, err := schema.DecodeCollatedString(raw, f.Collation)
	if err != nil {
		return v
	}
	return decoded
}

func fieldTypeName(t *schema.Table, ordinal int) string {
	if ordinal < 0 || ordinal >= len(t.Fields) {
		return ""
	}
	switch t.Fields[ordinal].Kind {
	case schema.KindTiny:
		return "TINY"
	case schema.KindShort:
		return "SHORT"
	case schema.KindMedium:
		return "INT24"
	case schema.KindLong:
		return "LONG"
	case schema.KindLongLong:
		return "LONGLONG"
	case schema.KindFloat:
		return "FLOAT"
	case schema.KindDouble:
		return "DOUBLE"
	case schema.KindDecimal:
		return "DECIMAL"
	case schema.KindYear:
		return "YEAR"
	case schema.KindDate:
		return "DATE"
	case schema.KindTime:
		return "TIME"
	case schema.KindDateTime:
		return "DATETIME"
	case schema.KindTimestamp:
		return "TIMESTAMP"
	case schema.KindEnum:
		return "ENUM"
	case schema.KindSet:
		return "SET"
	case schema.KindString:
		return "STRING"
	case schema.KindBlob:
		return "BLOB"
	case schema.KindBit:
		return "BIT"
	default:
		return "UNKNOWN"
	}
}
