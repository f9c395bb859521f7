package mysql

import "encoding/binary"

// Packet header marker bytes, as used throughout the MySQL client/server
// protocol (first byte of a packet's body).
const (
	OKHeader  byte = 0x00
	EOFHeader byte = 0xfe
	ErrHeader byte = 0xff
)

// PutLengthEncodedInt appends n to buf using the MySQL "net_store_length"
// encoding: values below 251 are a single byte, larger values get a marker
// byte followed by a fixed-width little-endian integer. COM_REGISTER_SLAVE's
// string fields use only the single-byte and 0xFC forms (hostnames and
// credentials never approach 2^16), matching the original implementation's
// net_store_length_fast.
func PutLengthEncodedInt(buf []byte, n uint64) []byte {
	switch {
	case n < 251:
		return append(buf, byte(n))
	case n < 1<<16:
		b := make([]byte, 3)
		b[0] = 0xfc
		binary.LittleEndian.PutUint16(b[1:], uint16(n))
		return append(buf, b...)
	case n < 1<<24:
		b := make([]byte, 4)
		b[0] = 0xfd
		b[1] = byte(n)
		b[2] = byte(n >> 8)
		b[3] = byte(n >> 16)
		return append(buf, b...)
	default:
		b := make([]byte, 9)
		b[0] = 0xfe
		binary.LittleEndian.PutUint64(b[1:], n)
		return append(buf, b...)
	}
}

// LengthEncodedInt decodes a length-encoded integer from the head of b,
// returning the value, whether it represented SQL NULL (0xfb marker), and
// the number of bytes consumed.
func LengthEncodedInt(b []byte) (value uint64, isNull bool, n int) {
	if len(b) == 0 {
		return 0, false, 0
	}
	switch b[0] {
	case 0xfb:
		return 0, true, 1
	case 0xfc:
		if len(b) < 3 {
			return 0, false, 0
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), false, 3
	case 0xfd:
		if len(b) < 4 {
			return 0, false, 0
		}
		return uint64(b[1]) | uint64(b[2])<<8 | uint64(b[3])<<16, false, 4
	case 0xfe:
		if len(b) < 9 {
			return 0, false, 0
		}
		return binary.LittleEndian.Uint64(b[1:9]), false, 9
	default:
		return uint64(b[0]), false, 1
	}
}

// PutLengthEncodedString appends a length-encoded string (length-encoded
// int length prefix followed by the raw bytes).
func PutLengthEncodedString(buf []byte, s string) []byte {
	buf = PutLengthEncodedInt(buf, uint64(len(s)))
	return append(buf, s...)
}

// FixedLengthInt decodes a little-endian fixed width integer, as used by
// binlog event headers and COM_BINLOG_DUMP bodies.
func FixedLengthInt(b []byte) uint64 {
	var n uint64
	for i, v := range b {
		n |= uint64(v) << (uint(i) * 8)
	}
	return n
}

// Client capability flags, as sent in the handshake response packet. Only
// the subset a 5.1.23-5.7 replication connection needs is named here; this
// module never negotiates SSL, compression, or multi-statement support.
const (
	ClientLongPassword     uint32 = 1
	ClientFoundRows        uint32 = 2
	ClientLongFlag         uint32 = 4
	ClientConnectWithDB    uint32 = 8
	ClientProtocol41       uint32 = 0x0200
	ClientTransactions     uint32 = 0x2000
	ClientSecureConnection uint32 = 0x8000
	ClientPluginAuth       uint32 = 0x00080000
)

// Commands this module issues over the wire protocol.
const (
	ComQuery         byte = 0x03
	ComRegisterSlave byte = 0x15
	ComBinlogDump    byte = 0x12
	ComBinlogDumpGTID byte = 0x1e
)
