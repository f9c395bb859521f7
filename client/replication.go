package client

import (
	"encoding/binary"
	"os"

	"github.com/pingcap/errors"

	"github.com/binlogkit/slave/mysql"
)

// RegisterSlave sends COM_REGISTER_SLAVE, announcing this connection to the
// master as a replica with the given server ID. The master records it in
// SHOW SLAVE HOSTS; nothing in this module relies on that beyond
// GenerateServerID's collision check, but registering is required before a
// dump request on some server versions.
func (c *Conn) RegisterSlave(serverID uint32) error {
	host, err := os.Hostname()
	if err != nil {
		host = ""
	}
	const reportUser = ""
	const reportPassword = ""

	buf := make([]byte, 4, 32+len(host))
	binary.LittleEndian.PutUint32(buf, serverID)
	buf = mysql.PutLengthEncodedString(buf, host)
	buf = mysql.PutLengthEncodedString(buf, reportUser)
	buf = mysql.PutLengthEncodedString(buf, reportPassword)
	buf = append(buf, 0, 0) // report_port, unused
	buf = append(buf, 0, 0, 0, 0) // rpl_recovery_rank, unused
	buf = append(buf, 0, 0, 0, 0) // master_id, filled in by the master

	if err := c.writeCommand(mysql.ComRegisterSlave, buf); err != nil {
		return errors.Annotate(err, "client: sending COM_REGISTER_SLAVE")
	}
	data, err := c.readPacket()
	if err != nil {
		return errors.Annotate(err, "client: reading COM_REGISTER_SLAVE response")
	}
	if len(data) > 0 && data[0] == mysql.ErrHeader {
		return c.errorFromPacket(data)
	}
	return nil
}

// DumpBinlog starts the legacy (non-GTID) COM_BINLOG_DUMP stream at the
// given file/position, announcing serverID as this connection's identity.
func (c *Conn) DumpBinlog(serverID uint32, logName string, logPos uint32) error {
	buf := make([]byte, 0, 10+len(logName))
	buf = appendUint32(buf, logPos)
	buf = appendUint16(buf, 0) // binlog flags
	buf = appendUint32(buf, serverID)
	buf = append(buf, logName...)

	if err := c.writeCommand(mysql.ComBinlogDump, buf); err != nil {
		return errors.Annotate(err, "client: sending COM_BINLOG_DUMP")
	}
	return nil
}

// binlogThroughGTID is the COM_BINLOG_DUMP_GTID flags value requesting
// "send everything after this GTID set", the only mode this module uses.
const binlogThroughGTID = 4

// binlogHeaderSize is the placeholder binlog_pos value sent with
// COM_BINLOG_DUMP_GTID: position is meaningless once BINLOG_THROUGH_GTID is
// set, so the magic-number 4 (the binlog file's fixed header size) is sent
// for it, matching the original implementation.
const binlogHeaderSize = 4

// DumpBinlogGTID starts a GTID-mode COM_BINLOG_DUMP_GTID stream: the master
// sends every transaction not present in gtidSet, regardless of file/
// position. Requires a master new enough to support GTID_MODE=ON (5.6.5+).
func (c *Conn) DumpBinlogGTID(serverID uint32, gtidSet *mysql.GTIDSet) error {
	encoded := gtidSet.Encode()

	buf := make([]byte, 0, 18+len(encoded))
	buf = appendUint16(buf, binlogThroughGTID)
	buf = appendUint32(buf, serverID)
	buf = appendUint32(buf, 0) // binlog name length, unused in GTID mode
	buf = appendUint64(buf, binlogHeaderSize)
	buf = appendUint32(buf, uint32(len(encoded)))
	buf = append(buf, encoded...)

	if err := c.writeCommand(mysql.ComBinlogDumpGTID, buf); err != nil {
		return errors.Annotate(err, "client: sending COM_BINLOG_DUMP_GTID")
	}
	return nil
}

// ReadEvent reads one packet from an in-progress dump stream and strips its
// leading OK marker byte, returning the raw event bytes (header + body +
// checksum trailer) ready for replication.EventDecoder.Decode. An ERR
// packet (0xff) ends the stream and is returned as an error; MySQL sends
// one when the binlog file named by DumpBinlog has been purged, or when the
// connection is kicked by COM_QUIT from another session.
func (c *Conn) ReadEvent() ([]byte, error) {
	data, err := c.readPacket()
	if err != nil {
		return nil, errors.Annotate(err, "client: reading binlog dump packet")
	}
	if len(data) == 0 {
		return nil, errors.Trace(mysql.ErrMalformedPacket)
	}
	switch data[0] {
	case mysql.ErrHeader:
		return nil, c.errorFromPacket(data)
	case mysql.EOFHeader:
		return nil, errors.Errorf("client: master closed the binlog stream")
	case mysql.OKHeader:
		return data[1:], nil
	default:
		return nil, errors.Errorf("client: unexpected binlog dump packet marker 0x%x", data[0])
	}
}

// ChecksumHandshake negotiates binlog event checksums the way the original
// implementation's do_checksum_handshake does: set the session variable
// that enables CRC32 trailers if the server is new enough to know it (an
// ER_UNKNOWN_SYSTEM_VARIABLE response means it predates checksums and none
// are sent), then read back the algorithm actually in effect.
func (c *Conn) ChecksumHandshake() (string, error) {
	if err := c.Execute("SET @master_binlog_checksum = @@global.binlog_checksum"); err != nil {
		// A server too old to know about binlog_checksum has never enabled
		// it; there is nothing to negotiate.
		return "NONE", nil
	}
	row, err := c.QueryRow("SELECT @master_binlog_checksum")
	if err != nil {
		return "", errors.Annotate(err, "client: reading negotiated checksum algorithm")
	}
	if len(row) == 0 {
		return "NONE", nil
	}
	return row[0], nil
}

func appendUint16(buf []byte, v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return append(buf, b...)
}

func appendUint32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buf, b...)
}

func appendUint64(buf []byte, v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return append(buf, b...)
}
