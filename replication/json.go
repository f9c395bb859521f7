package replication

import (
	"encoding/binary"
	"fmt"
	"math"

	goccyjson "github.com/goccy/go-json"
	"github.com/pingcap/errors"

	"github.com/binlogkit/slave/mysql"
)

// MySQL's internal binary JSON representation (JSONB), as written to a
// JSON column's storage and to ROWS events. One leading type byte
// dispatches to a literal, a number, a string, an opaque MySQL type, or
// a length-prefixed object/array with its own key/value directories.
const (
	jsonbSmallObject byte = iota
	jsonbLargeObject
	jsonbSmallArray
	jsonbLargeArray
	jsonbLiteral
	jsonbInt16
	jsonbUint16
	jsonbInt32
	jsonbUint32
	jsonbInt64
	jsonbUint64
	jsonbDouble
	jsonbString
	jsonbOpaque byte = 0x0f
)

const (
	jsonbNullLiteral  byte = 0x00
	jsonbTrueLiteral  byte = 0x01
	jsonbFalseLiteral byte = 0x02
)

const (
	jsonbSmallOffsetSize = 2
	jsonbLargeOffsetSize = 4

	jsonbKeyEntrySizeSmall = 2 + jsonbSmallOffsetSize
	jsonbKeyEntrySizeLarge = 2 + jsonbLargeOffsetSize

	jsonbValueEntrySizeSmall = 1 + jsonbSmallOffsetSize
	jsonbValueEntrySizeLarge = 1 + jsonbLargeOffsetSize
)

// DecodeJSON decodes one JSONB-encoded column value into native Go
// values (map[string]interface{}, []interface{}, string, float64,
// int16/uint16/int32/uint32/int64/uint64, bool, nil; opaque payloads
// become a mysql.Decimal, a formatted time string, or the raw bytes as a
// string).
func DecodeJSON(data []byte) (interface{}, error) {
	d := &jsonBinaryDecoder{}
	if d.isDataShort(data, 1) {
		return nil, d.err
	}
	v := d.decodeValue(data[0], data[1:])
	if d.err != nil {
		return nil, d.err
	}
	return v, nil
}

// MarshalJSON re-serializes a value produced by DecodeJSON back to
// compact JSON text, for callers (logging, the cat CLI) that want text
// rather than a Go value tree.
func MarshalJSON(v interface{}) ([]byte, error) {
	return goccyjson.Marshal(v)
}

type jsonBinaryDecoder struct {
	err error
}

func (d *jsonBinaryDecoder) decodeValue(tp byte, data []byte) interface{} {
	if d.err != nil {
		return nil
	}
	switch tp {
	case jsonbSmallObject:
		return d.decodeObjectOrArray(data, true, true)
	case jsonbLargeObject:
		return d.decodeObjectOrArray(data, false, true)
	case jsonbSmallArray:
		return d.decodeObjectOrArray(data, true, false)
	case jsonbLargeArray:
		return d.decodeObjectOrArray(data, false, false)
	case jsonbLiteral:
		return d.decodeLiteral(data)
	case jsonbInt16:
		return d.decodeInt16(data)
	case jsonbUint16:
		return d.decodeUint16(data)
	case jsonbInt32:
		return d.decodeInt32(data)
	case jsonbUint32:
		return d.decodeUint32(data)
	case jsonbInt64:
		return d.decodeInt64(data)
	case jsonbUint64:
		return d.decodeUint64(data)
	case jsonbDouble:
		return d.decodeDouble(data)
	case jsonbString:
		return d.decodeString(data)
	case jsonbOpaque:
		return d.decodeOpaque(data)
	default:
		d.err = errors.Errorf("replication: invalid json type %d", tp)
	}
	return nil
}

func jsonbOffsetSize(isSmall bool) int {
	if isSmall {
		return jsonbSmallOffsetSize
	}
	return jsonbLargeOffsetSize
}

func jsonbKeyEntrySize(isSmall bool) int {
	if isSmall {
		return jsonbKeyEntrySizeSmall
	}
	return jsonbKeyEntrySizeLarge
}

func jsonbValueEntrySize(isSmall bool) int {
	if isSmall {
		return jsonbValueEntrySizeSmall
	}
	return jsonbValueEntrySizeLarge
}

func jsonbIsInline(tp byte, isSmall bool) bool {
	switch tp {
	case jsonbInt16, jsonbUint16, jsonbLiteral:
		return true
	case jsonbInt32, jsonbUint32:
		return !isSmall
	}
	return false
}

func (d *jsonBinaryDecoder) decodeObjectOrArray(data []byte, isSmall, isObject bool) interface{} {
	offsetSize := jsonbOffsetSize(isSmall)
	if d.isDataShort(data, 2*offsetSize) {
		return nil
	}

	count := d.decodeCount(data, isSmall)
	size := d.decodeCount(data[offsetSize:], isSmall)
	if d.isDataShort(data, size) {
		return nil
	}

	keyEntrySize := jsonbKeyEntrySize(isSmall)
	valueEntrySize := jsonbValueEntrySize(isSmall)
	headerSize := 2*offsetSize + count*valueEntrySize
	if isObject {
		headerSize += count * keyEntrySize
	}
	if headerSize > size {
		d.err = errors.Errorf("replication: json header size %d exceeds object size %d", headerSize, size)
		return nil
	}

	var keys []string
	if isObject {
		keys = make([]string, count)
		for i := 0; i < count; i++ {
			entryOffset := 2*offsetSize + keyEntrySize*i
			keyOffset := d.decodeCount(data[entryOffset:], isSmall)
			keyLength := int(d.decodeUint16(data[entryOffset+offsetSize:]))
			if keyOffset < headerSize {
				d.err = errors.Errorf("replication: json key offset %d before header end %d", keyOffset, headerSize)
				return nil
			}
			if d.isDataShort(data, keyOffset+keyLength) {
				return nil
			}
			keys[i] = string(data[keyOffset : keyOffset+keyLength])
		}
	}
	if d.err != nil {
		return nil
	}

	values := make([]interface{}, count)
	for i := 0; i < count; i++ {
		entryOffset := 2*offsetSize + valueEntrySize*i
		if isObject {
			entryOffset += keyEntrySize * count
		}
		tp := data[entryOffset]
		if jsonbIsInline(tp, isSmall) {
			values[i] = d.decodeValue(tp, data[entryOffset+1:entryOffset+valueEntrySize])
			continue
		}
		valueOffset := d.decodeCount(data[entryOffset+1:], isSmall)
		if d.isDataShort(data, valueOffset) {
			return nil
		}
		values[i] = d.decodeValue(tp, data[valueOffset:])
	}
	if d.err != nil {
		return nil
	}

	if !isObject {
		return values
	}
	m := make(map[string]interface{}, count)
	for i := 0; i < count; i++ {
		m[keys[i]] = values[i]
	}
	return m
}

func (d *jsonBinaryDecoder) decodeLiteral(data []byte) interface{} {
	if d.isDataShort(data, 1) {
		return nil
	}
	switch data[0] {
	case jsonbNullLiteral:
		return nil
	case jsonbTrueLiteral:
		return true
	case jsonbFalseLiteral:
		return false
	}
	d.err = errors.Errorf("replication: invalid json literal %x", data[0])
	return nil
}

func (d *jsonBinaryDecoder) isDataShort(data []byte, want int) bool {
	if d.err != nil {
		return true
	}
	if len(data) < want {
		d.err = errors.Errorf("replication: json data len %d shorter than %d", len(data), want)
	}
	return d.err != nil
}

func (d *jsonBinaryDecoder) decodeInt16(data []byte) int16 {
	if d.isDataShort(data, 2) {
		return 0
	}
	return int16(binary.LittleEndian.Uint16(data))
}

func (d *jsonBinaryDecoder) decodeUint16(data []byte) uint16 {
	if d.isDataShort(data, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(data)
}

func (d *jsonBinaryDecoder) decodeInt32(data []byte) int32 {
	if d.isDataShort(data, 4) {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(data))
}

func (d *jsonBinaryDecoder) decodeUint32(data []byte) uint32 {
	if d.isDataShort(data, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

func (d *jsonBinaryDecoder) decodeInt64(data []byte) int64 {
	if d.isDataShort(data, 8) {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(data))
}

func (d *jsonBinaryDecoder) decodeUint64(data []byte) uint64 {
	if d.isDataShort(data, 8) {
		return 0
	}
	return binary.LittleEndian.Uint64(data)
}

func (d *jsonBinaryDecoder) decodeDouble(data []byte) float64 {
	if d.isDataShort(data, 8) {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(data))
}

func (d *jsonBinaryDecoder) decodeString(data []byte) string {
	if d.err != nil {
		return ""
	}
	l, n := d.decodeVariableLength(data)
	if d.isDataShort(data, l+n) {
		return ""
	}
	return string(data[n : n+l])
}

func (d *jsonBinaryDecoder) decodeOpaque(data []byte) interface{} {
	if d.isDataShort(data, 1) {
		return nil
	}
	tp := wireColumnType(data[0])
	data = data[1:]
	l, n := d.decodeVariableLength(data)
	if d.isDataShort(data, l+n) {
		return nil
	}
	data = data[n : l+n]

	switch tp {
	case colNewDecimal:
		return d.decodeOpaqueDecimal(data)
	case colTime:
		return d.decodeOpaqueTime(data)
	case colDate, colDatetime, colTimestamp:
		return d.decodeOpaqueDatetime(data)
	default:
		return string(data)
	}
}

func (d *jsonBinaryDecoder) decodeOpaqueDecimal(data []byte) interface{} {
	if len(data) < 2 {
		d.err = errors.Trace(ErrTruncatedEvent)
		return nil
	}
	precision := int(data[0])
	scale := int(data[1])
	n := decimalBinSize(precision, scale)
	if len(data) < 2+n {
		d.err = errors.Trace(ErrTruncatedEvent)
		return nil
	}
	dec, err := mysql.FromBinary(data[2:2+n], precision, scale)
	if err != nil {
		d.err = err
		return nil
	}
	return dec
}

func (d *jsonBinaryDecoder) decodeOpaqueTime(data []byte) interface{} {
	v := d.decodeInt64(data)
	if v == 0 {
		return "00:00:00"
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	intPart := v >> 24
	hour := (intPart >> 12) % (1 << 10)
	minute := (intPart >> 6) % (1 << 6)
	second := intPart % (1 << 6)
	frac := v % (1 << 24)
	return fmt.Sprintf("%s%02d:%02d:%02d.%06d", sign, hour, minute, second, frac)
}

func (d *jsonBinaryDecoder) decodeOpaqueDatetime(data []byte) interface{} {
	v := d.decodeInt64(data)
	if v == 0 {
		return "0000-00-00 00:00:00"
	}
	if v < 0 {
		v = -v
	}
	intPart := v >> 24
	ymd := intPart >> 17
	ym := ymd >> 5
	hms := intPart % (1 << 17)
	year := ym / 13
	month := ym % 13
	day := ymd % (1 << 5)
	hour := hms >> 12
	minute := (hms >> 6) % (1 << 6)
	second := hms % (1 << 6)
	frac := v % (1 << 24)
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d.%06d", year, month, day, hour, minute, second, frac)
}

func (d *jsonBinaryDecoder) decodeCount(data []byte, isSmall bool) int {
	if isSmall {
		return int(d.decodeUint16(data))
	}
	return int(d.decodeUint32(data))
}

func (d *jsonBinaryDecoder) decodeVariableLength(data []byte) (int, int) {
	maxCount := 5
	if len(data) < maxCount {
		maxCount = len(data)
	}
	pos := 0
	length := uint64(0)
	for ; pos < maxCount; pos++ {
		v := data[pos]
		length |= uint64(v&0x7F) << uint(7*pos)
		if v&0x80 == 0 {
			if length > math.MaxUint32 {
				d.err = errors.Errorf("replication: json variable length %d overflows", length)
				return 0, 0
			}
			pos++
			return int(length), pos
		}
	}
	d.err = errors.New("replication: truncated json variable length")
	return 0, 0
}
