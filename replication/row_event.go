package replication

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/pingcap/errors"

	"github.com/binlogkit/slave/mysql"
)

// wireColumnType is the raw MYSQL_TYPE_* byte a TableMapEvent carries per
// column, independent of any higher-level schema the caller may have
// fetched. Row values are decoded straight off this byte plus its
// accompanying metadata, since that is the only self-describing source
// the wire format actually offers.
type wireColumnType byte

const (
	colDecimal    wireColumnType = 0
	colTiny       wireColumnType = 1
	colShort      wireColumnType = 2
	colLong       wireColumnType = 3
	colFloat      wireColumnType = 4
	colDouble     wireColumnType = 5
	colNull       wireColumnType = 6
	colTimestamp  wireColumnType = 7
	colLongLong   wireColumnType = 8
	colInt24      wireColumnType = 9
	colDate       wireColumnType = 10
	colTime       wireColumnType = 11
	colDatetime   wireColumnType = 12
	colYear       wireColumnType = 13
	colNewDate    wireColumnType = 14
	colVarchar    wireColumnType = 15
	colBit        wireColumnType = 16
	colTimestamp2 wireColumnType = 17
	colDatetime2  wireColumnType = 18
	colTime2      wireColumnType = 19
	colJSON       wireColumnType = 245
	colNewDecimal wireColumnType = 246
	colEnum       wireColumnType = 247
	colSet        wireColumnType = 248
	colTinyBlob   wireColumnType = 249
	colMediumBlob wireColumnType = 250
	colLongBlob   wireColumnType = 251
	colBlob       wireColumnType = 252
	colVarString  wireColumnType = 253
	colString     wireColumnType = 254
	colGeometry   wireColumnType = 255
)

// tableIDSize is the width of the table_id field. Every server version
// this package targets (5.1.23+) uses 6 bytes; the 4-byte legacy encoding
// predates replication formats in scope here.
const tableIDSize = 6

// TableMapEvent describes the master-side column layout of one table,
// keyed by TableID for the ROWS events that follow until the next
// TableMapEvent for that id (or a Rotate, which invalidates the mapping).
type TableMapEvent struct {
	TableID     uint64
	Flags       uint16
	SchemaName  string
	TableName   string
	ColumnCount uint64
	ColumnTypes []byte
	ColumnMeta  []uint16
	NullBitmap  []byte
}

func (e *TableMapEvent) Decode(data []byte) error {
	if len(data) < tableIDSize+2+1 {
		return errors.Trace(ErrTruncatedEvent)
	}
	pos := 0
	e.TableID = readUint48(data[pos:])
	pos += tableIDSize

	e.Flags = binary.LittleEndian.Uint16(data[pos:])
	pos += 2

	schemaLen := int(data[pos])
	pos++
	if len(data) < pos+schemaLen+1 {
		return errors.Trace(ErrTruncatedEvent)
	}
	e.SchemaName = string(data[pos : pos+schemaLen])
	pos += schemaLen
	pos++ // 0x00 filler

	if len(data) < pos+1 {
		return errors.Trace(ErrTruncatedEvent)
	}
	tableLen := int(data[pos])
	pos++
	if len(data) < pos+tableLen+1 {
		return errors.Trace(ErrTruncatedEvent)
	}
	e.TableName = string(data[pos : pos+tableLen])
	pos += tableLen
	pos++ // 0x00 filler

	columnCount, _, n := mysql.LengthEncodedInt(data[pos:])
	pos += n
	e.ColumnCount = columnCount

	if len(data) < pos+int(columnCount) {
		return errors.Trace(ErrTruncatedEvent)
	}
	e.ColumnTypes = append([]byte(nil), data[pos:pos+int(columnCount)]...)
	pos += int(columnCount)

	metaBlockLen, _, n := mysql.LengthEncodedInt(data[pos:])
	pos += n
	if len(data) < pos+int(metaBlockLen) {
		return errors.Trace(ErrTruncatedEvent)
	}
	metaBlock := data[pos : pos+int(metaBlockLen)]
	pos += int(metaBlockLen)

	meta, err := decodeColumnMeta(e.ColumnTypes, metaBlock)
	if err != nil {
		return err
	}
	e.ColumnMeta = meta

	nullBitmapLen := int(columnCount+7) / 8
	if len(data) < pos+nullBitmapLen {
		return errors.Trace(ErrTruncatedEvent)
	}
	e.NullBitmap = data[pos : pos+nullBitmapLen]
	return nil
}

func (e *TableMapEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "Table: %s.%s\n", e.SchemaName, e.TableName)
	fmt.Fprintf(w, "TableID: %d\n", e.TableID)
	fmt.Fprintf(w, "Column count: %d\n", e.ColumnCount)
	fmt.Fprintln(w)
}

// NewTemporalStorage reports whether ordinal's wire column type is the
// post-5.6.4 TIMESTAMP2/DATETIME2/TIME2 encoding, for callers correcting a
// schema.Table built from SHOW FULL COLUMNS (which cannot tell storage
// variant apart on its own) via schema.Table.ApplyTableMapStorage.
func (e *TableMapEvent) NewTemporalStorage(ordinal int) bool {
	if ordinal < 0 || ordinal >= len(e.ColumnTypes) {
		return false
	}
	switch wireColumnType(e.ColumnTypes[ordinal]) {
	case colTimestamp2, colDatetime2, colTime2:
		return true
	default:
		return false
	}
}

func decodeColumnMeta(types []byte, meta []byte) ([]uint16, error) {
	out := make([]uint16, len(types))
	pos := 0
	for i, raw := range types {
		t := wireColumnType(raw)
		switch t {
		case colVarchar, colVarString, colBit:
			if pos+2 > len(meta) {
				return nil, errors.Trace(ErrTruncatedEvent)
			}
			out[i] = binary.LittleEndian.Uint16(meta[pos:])
			pos += 2
		case colNewDecimal, colDecimal, colString, colEnum, colSet:
			if pos+2 > len(meta) {
				return nil, errors.Trace(ErrTruncatedEvent)
			}
			out[i] = uint16(meta[pos])<<8 | uint16(meta[pos+1])
			pos += 2
		case colBlob, colDouble, colFloat, colGeometry, colJSON, colTime2, colDatetime2, colTimestamp2:
			if pos+1 > len(meta) {
				return nil, errors.Trace(ErrTruncatedEvent)
			}
			out[i] = uint16(meta[pos])
			pos++
		default:
			out[i] = 0
		}
	}
	return out, nil
}

// RowsKind distinguishes WRITE/UPDATE/DELETE so the session knows how many
// row images follow and which RecordSet shape to build.
type RowsKind int

const (
	RowsWrite RowsKind = iota
	RowsUpdate
	RowsDelete
)

// Row is one decoded row image: nil entries mean SQL NULL or a column the
// present-bitmap excluded from this image.
type Row []interface{}

// RowsEvent is the decoded form of a WRITE/UPDATE/DELETE rows event, in
// either the _V1 or non-V1 (V2) wire shape. UPDATE carries both a before
// and an after image per logical row; WRITE only an after image; DELETE
// only a before image.
type RowsEvent struct {
	EventType     EventType
	Kind          RowsKind
	TableID       uint64
	Flags         uint16
	ColumnCount   uint64
	ColumnsBefore []byte
	ColumnsAfter  []byte

	// Rows holds one group per logical row: for WRITE/DELETE the group is a
	// single Row; for UPDATE it is the (before, after) pair in that order.
	Rows [][]Row

	// RawBody is the event body as handed to Decode, retained so
	// DecodeWithTableMap can run later once the caller has the matching
	// TableMapEvent in hand.
	RawBody []byte
}

func isRowsV2(t EventType) bool {
	return t == WRITE_ROWS_EVENTv2 || t == UPDATE_ROWS_EVENTv2 || t == DELETE_ROWS_EVENTv2
}

func hasTwoBitmaps(kind RowsKind) bool {
	return kind == RowsUpdate
}

// DecodeWithTableMap parses the row images against the column types and
// metadata the matching TableMapEvent carries. This cannot be done from
// RowsEvent.Decode alone: rows events do not repeat column types, by
// design, so the caller (the session loop, which owns the schema cache)
// must supply the TableMapEvent it already has cached for TableID.
func (e *RowsEvent) DecodeWithTableMap(tm *TableMapEvent) error {
	data := e.RawBody
	pos := 0
	e.TableID = readUint48(data[pos:])
	pos += tableIDSize

	e.Flags = binary.LittleEndian.Uint16(data[pos:])
	pos += 2

	if isRowsV2(e.EventType) {
		if len(data) < pos+2 {
			return errors.Trace(ErrTruncatedEvent)
		}
		extraLen := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += extraLen // extraLen already includes the 2-byte length field
	}

	columnCount, _, n := mysql.LengthEncodedInt(data[pos:])
	pos += n
	e.ColumnCount = columnCount

	bitmapLen := int(columnCount+7) / 8
	if len(data) < pos+bitmapLen {
		return errors.Trace(ErrTruncatedEvent)
	}
	e.ColumnsBefore = data[pos : pos+bitmapLen]
	pos += bitmapLen

	if hasTwoBitmaps(e.Kind) {
		if len(data) < pos+bitmapLen {
			return errors.Trace(ErrTruncatedEvent)
		}
		e.ColumnsAfter = data[pos : pos+bitmapLen]
		pos += bitmapLen
	}

	for pos < len(data) {
		var group []Row

		row, consumed, err := decodeRowImage(data[pos:], tm, e.ColumnsBefore)
		if err != nil {
			return err
		}
		group = append(group, row)
		pos += consumed

		if hasTwoBitmaps(e.Kind) {
			row, consumed, err := decodeRowImage(data[pos:], tm, e.ColumnsAfter)
			if err != nil {
				return err
			}
			group = append(group, row)
			pos += consumed
		}
		e.Rows = append(e.Rows, group)
	}
	return nil
}

// Decode satisfies the Event interface for the generic decoder dispatch;
// it cannot fully decode a rows event on its own (see DecodeWithTableMap)
// so it only captures TableID/Flags, enough for the session to look up
// the cached TableMapEvent before calling DecodeWithTableMap.
func (e *RowsEvent) Decode(data []byte) error {
	if len(data) < tableIDSize+2 {
		return errors.Trace(ErrTruncatedEvent)
	}
	e.TableID = readUint48(data)
	e.Flags = binary.LittleEndian.Uint16(data[tableIDSize:])
	e.RawBody = data
	return nil
}

func (e *RowsEvent) Dump(w io.Writer) {
	fmt.Fprintf(w, "TableID: %d\n", e.TableID)
	fmt.Fprintf(w, "Row count: %d\n", len(e.Rows))
	fmt.Fprintln(w)
}

func decodeRowImage(data []byte, tm *TableMapEvent, present []byte) (Row, int, error) {
	presentCount := 0
	for i := 0; i < int(tm.ColumnCount); i++ {
		if isBitSet(present, i) {
			presentCount++
		}
	}
	nullBitmapLen := (presentCount + 7) / 8
	if len(data) < nullBitmapLen {
		return nil, 0, errors.Trace(ErrTruncatedEvent)
	}
	nullBitmap := data[:nullBitmapLen]
	pos := nullBitmapLen

	row := make(Row, tm.ColumnCount)
	nullIdx := 0
	for i := 0; i < int(tm.ColumnCount); i++ {
		if !isBitSet(present, i) {
			continue
		}
		isNull := isBitSet(nullBitmap, nullIdx)
		nullIdx++
		if isNull {
			row[i] = nil
			continue
		}
		v, n, err := decodeValue(data[pos:], wireColumnType(tm.ColumnTypes[i]), tm.ColumnMeta[i])
		if err != nil {
			return nil, 0, err
		}
		row[i] = v
		pos += n
	}
	return row, pos, nil
}

func isBitSet(bm []byte, i int) bool {
	if i/8 >= len(bm) {
		return false
	}
	return bm[i/8]&(1<<uint(i%8)) != 0
}

func readUint48(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40
}

func readUint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// decodeValue decodes one column value from a row image, returning the
// value, the number of bytes consumed, and an error. A MYSQL_TYPE_STRING
// column may, per protocol convention, actually be an ENUM/SET/CHAR
// disguised behind a combined (real_type, length) metadata word when the
// real type's length byte would otherwise overflow a single byte; that
// re-interpretation happens here exactly as it does in the row decoder
// this is grounded on.
func decodeValue(data []byte, ct wireColumnType, meta uint16) (interface{}, int, error) {
	length := 0
	if ct == colString {
		if meta >= 256 {
			b0 := byte(meta >> 8)
			b1 := byte(meta & 0xFF)
			if b0&0x30 != 0x30 {
				// b0's length bits spill into the real type byte; OR them
				// back into the length and recover the true pseudo-type.
				length = int(b1) | ((int(b0&0x30) ^ 0x30) << 4)
				ct = wireColumnType(b0 | 0x30)
			} else {
				length = int(b1)
				switch b0 {
				case byte(colSet), byte(colEnum):
					ct = wireColumnType(b0)
				default:
					ct = colString
				}
			}
		} else {
			length = int(meta)
		}
	}

	switch ct {
	case colNull:
		return nil, 0, nil

	case colTiny:
		return int64(int8(data[0])), 1, nil
	case colShort:
		return int64(int16(binary.LittleEndian.Uint16(data))), 2, nil
	case colInt24:
		v := int32(readUint24(data))
		if v&0x800000 != 0 {
			v -= 0x1000000
		}
		return int64(v), 3, nil
	case colLong:
		return int64(int32(binary.LittleEndian.Uint32(data))), 4, nil
	case colLongLong:
		return int64(binary.LittleEndian.Uint64(data)), 8, nil

	case colFloat:
		bits := binary.LittleEndian.Uint32(data)
		return float64(float32FromBits(bits)), 4, nil
	case colDouble:
		bits := binary.LittleEndian.Uint64(data)
		return float64FromBits(bits), 8, nil

	case colNewDecimal, colDecimal:
		precision := int(meta >> 8)
		scale := int(meta & 0xFF)
		n := decimalBinSize(precision, scale)
		if len(data) < n {
			return nil, 0, errors.Trace(ErrTruncatedEvent)
		}
		d, err := mysql.FromBinary(data[:n], precision, scale)
		if err != nil {
			return nil, 0, err
		}
		return d, n, nil

	case colYear:
		return int64(data[0]) + 1900, 1, nil
	case colDate:
		return decodeDate(readUint24(data)), 3, nil
	case colTime:
		return decodeTimeOld(readUint24(data)), 3, nil
	case colTime2:
		return decodeTime2(data, meta)
	case colTimestamp:
		sec := binary.LittleEndian.Uint32(data)
		return time.Unix(int64(sec), 0).UTC(), 4, nil
	case colTimestamp2:
		return decodeTimestamp2(data, meta)
	case colDatetime:
		return decodeDatetimeOld(binary.LittleEndian.Uint64(data)), 8, nil
	case colDatetime2:
		return decodeDatetime2(data, meta)

	case colVarchar, colVarString:
		return readLenPrefixedString(data, int(meta))
	case colString:
		return readLenPrefixedString(data, length)

	case colBlob, colGeometry:
		// meta here is the blob's length-prefix width in bytes (1-4), not a
		// max-length value: BLOB/TEXT columns carry that width directly in
		// their table-map metadata rather than a character count.
		return readBlobBytes(data, int(meta))
	case colJSON:
		raw, n, err := readBlobBytes(data, int(meta))
		if err != nil {
			return nil, 0, err
		}
		v, err := DecodeJSON(raw)
		if err != nil {
			return nil, 0, err
		}
		return v, n, nil
	case colTinyBlob:
		return readBlobBytes(data, 1)
	case colMediumBlob:
		return readBlobBytes(data, 3)
	case colLongBlob:
		return readBlobBytes(data, 4)

	case colBit:
		nbits := int((meta>>8)*8 + meta&0xFF)
		n := (nbits + 7) / 8
		if len(data) < n {
			return nil, 0, errors.Trace(ErrTruncatedEvent)
		}
		return append([]byte(nil), data[:n]...), n, nil
	case colSet:
		n := length
		if n == 0 {
			n = 1
		}
		if len(data) < n {
			return nil, 0, errors.Trace(ErrTruncatedEvent)
		}
		var v uint64
		for i := 0; i < n; i++ {
			v |= uint64(data[i]) << (8 * uint(i))
		}
		return v, n, nil
	case colEnum:
		n := length
		if n == 0 {
			n = 1
		}
		var v uint64
		for i := 0; i < n && i < len(data); i++ {
			v |= uint64(data[i]) << (8 * uint(i))
		}
		return v, n, nil

	default:
		return nil, 0, errors.Errorf("replication: unsupported column type %d", ct)
	}
}

func readLenPrefixedString(data []byte, maxLen int) (interface{}, int, error) {
	b, n, err := readLenPrefixedBytes(data, maxLen)
	if err != nil {
		return nil, 0, err
	}
	return string(b), n, nil
}

// readBlobBytes reads a length-prefixed blob whose prefix width (in
// bytes) is already known, as opposed to readLenPrefixedBytes which
// derives the prefix width from a declared max character length.
func readBlobBytes(data []byte, lenBytes int) ([]byte, int, error) {
	if lenBytes < 1 || lenBytes > 4 {
		return nil, 0, errors.Errorf("replication: invalid blob length-prefix width %d", lenBytes)
	}
	if len(data) < lenBytes {
		return nil, 0, errors.Trace(ErrTruncatedEvent)
	}
	var length int
	for i := 0; i < lenBytes; i++ {
		length |= int(data[i]) << (8 * uint(i))
	}
	if len(data) < lenBytes+length {
		return nil, 0, errors.Trace(ErrTruncatedEvent)
	}
	return data[lenBytes : lenBytes+length], lenBytes + length, nil
}

func readLenPrefixedBytes(data []byte, maxLen int) ([]byte, int, error) {
	lenBytes := 1
	if maxLen >= 256 {
		lenBytes = 2
	}
	if maxLen >= 65536 {
		lenBytes = 3
	}
	if maxLen >= 16777216 {
		lenBytes = 4
	}
	if len(data) < lenBytes {
		return nil, 0, errors.Trace(ErrTruncatedEvent)
	}
	var length int
	for i := 0; i < lenBytes; i++ {
		length |= int(data[i]) << (8 * uint(i))
	}
	if len(data) < lenBytes+length {
		return nil, 0, errors.Trace(ErrTruncatedEvent)
	}
	return data[lenBytes : lenBytes+length], lenBytes + length, nil
}

func decimalBinSize(precision, scale int) int {
	intg := precision - scale
	intg0 := intg / 9
	intg0x := intg % 9
	frac0 := scale / 9
	frac0x := scale % 9
	digits2bytes := [10]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}
	return intg0*4 + digits2bytes[intg0x] + frac0*4 + digits2bytes[frac0x]
}

func decodeDate(packed uint32) time.Time {
	day := int(packed & 0x1F)
	month := int((packed >> 5) & 0xF)
	year := int(packed >> 9)
	if year == 0 && month == 0 && day == 0 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func decodeTimeOld(packed uint32) string {
	v := int32(packed)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	hour := v / 10000
	minute := (v / 100) % 100
	second := v % 100
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, hour, minute, second)
}

func decodeDatetimeOld(packed uint64) time.Time {
	d := packed / 1000000
	t := packed % 1000000
	year := int(d / 10000)
	month := int((d / 100) % 100)
	day := int(d % 100)
	hour := int(t / 10000)
	minute := int((t / 100) % 100)
	second := int(t % 100)
	if year == 0 && month == 0 && day == 0 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
}

// decodeTime2/decodeDatetime2/decodeTimestamp2 implement the MySQL 5.6.4+
// "new" fractional-second temporal storage: a big-endian signed integer
// (offset so the all-zero bit pattern is the smallest representable
// value) followed by a fractional-seconds field whose width depends on
// the column's declared precision (0-6 digits -> 0/1/2/3 bytes).

func fracBytes(dec uint16) int {
	switch {
	case dec <= 0:
		return 0
	case dec <= 2:
		return 1
	case dec <= 4:
		return 2
	default:
		return 3
	}
}

func decodeTime2(data []byte, meta uint16) (interface{}, int, error) {
	if len(data) < 3 {
		return nil, 0, errors.Trace(ErrTruncatedEvent)
	}
	intPart := int64(readUint24(data)) - 0x800000
	n := 3
	nfrac := fracBytes(meta)
	var frac int64
	if nfrac > 0 {
		if len(data) < 3+nfrac {
			return nil, 0, errors.Trace(ErrTruncatedEvent)
		}
		frac = readBigEndianN(data[3:3+nfrac], nfrac)
		n += nfrac
	}

	negative := intPart < 0
	if negative {
		intPart = -intPart
	}
	hour := (intPart >> 12) & 0x3FF
	minute := (intPart >> 6) & 0x3F
	second := intPart & 0x3F

	sign := ""
	if negative {
		sign = "-"
	}
	if nfrac == 0 {
		return fmt.Sprintf("%s%02d:%02d:%02d", sign, hour, minute, second), n, nil
	}
	return fmt.Sprintf("%s%02d:%02d:%02d.%0*d", sign, hour, minute, second, nfrac*2, frac), n, nil
}

func decodeDatetime2(data []byte, meta uint16) (interface{}, int, error) {
	if len(data) < 5 {
		return nil, 0, errors.Trace(ErrTruncatedEvent)
	}
	intPart := int64(readBigEndianN(data[:5], 5)) - 0x8000000000
	n := 5
	nfrac := fracBytes(meta)
	var frac int64
	if nfrac > 0 {
		if len(data) < 5+nfrac {
			return nil, 0, errors.Trace(ErrTruncatedEvent)
		}
		frac = readBigEndianN(data[5:5+nfrac], nfrac)
		n += nfrac
	}

	ymd := (intPart >> 17) & 0x1FFFF
	ym := ymd >> 5
	day := int(ymd % 32)
	month := int(ym % 13)
	year := int(ym / 13)

	hms := intPart & 0x1FFFF
	second := int(hms & 0x3F)
	minute := int((hms >> 6) & 0x3F)
	hour := int(hms >> 12)

	nsec := int(frac) * pow10(9-2*nfrac)
	if year == 0 && month == 0 && day == 0 {
		return time.Time{}, n, nil
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, nsec, time.UTC), n, nil
}

func decodeTimestamp2(data []byte, meta uint16) (interface{}, int, error) {
	if len(data) < 4 {
		return nil, 0, errors.Trace(ErrTruncatedEvent)
	}
	sec := binary.BigEndian.Uint32(data)
	n := 4
	nfrac := fracBytes(meta)
	var frac int64
	if nfrac > 0 {
		if len(data) < 4+nfrac {
			return nil, 0, errors.Trace(ErrTruncatedEvent)
		}
		frac = readBigEndianN(data[4:4+nfrac], nfrac)
		n += nfrac
	}
	nsec := int(frac) * pow10(9-2*nfrac)
	return time.Unix(int64(sec), int64(nsec)).UTC(), n, nil
}

func readBigEndianN(b []byte, n int) int64 {
	var v int64
	for i := 0; i < n; i++ {
		v = v<<8 | int64(b[i])
	}
	return v
}

func pow10(n int) int {
	if n <= 0 {
		return 1
	}
	v := 1
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}

func float64FromBits(bits uint64) float64 {
	return math.Float64frombits(bits)
}
