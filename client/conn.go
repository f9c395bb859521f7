// Package client speaks just enough of the MySQL client/server protocol to
// drive a replication connection: the protocol-10 handshake, native password
// auth, a minimal COM_QUERY path for the handful of scalar queries the
// bootstrap sequence needs on the same session as the dump (the checksum
// variable is session-scoped), and the COM_REGISTER_SLAVE / COM_BINLOG_DUMP
// family. Anything that needs a real resultset (information_schema lookups,
// application queries) goes through database/sql instead; this package only
// grows what replication itself requires.
package client

import (
	"bufio"
	"crypto/sha1"
	"encoding/binary"
	"net"
	"time"

	"github.com/pingcap/errors"

	"github.com/binlogkit/slave/mysql"
)

const maxPacketSize = 1<<24 - 1

// Conn is one raw, unpooled connection to a MySQL-protocol server. Unlike
// the connection pool a general-purpose client needs, a replication session
// uses exactly one of these for its entire lifetime.
type Conn struct {
	netConn net.Conn
	reader  *bufio.Reader
	seq     byte

	capabilities  uint32
	serverVersion string
	connectionID  uint32
	salt          []byte
	status        uint16
}

// Dial opens a TCP connection to addr and completes the handshake and
// authentication, leaving the connection ready for COM_QUERY or the
// replication commands. Only mysql_native_password is supported, matching
// the 5.1.23-5.7 server range this module targets.
func Dial(addr, user, password string, timeout time.Duration) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Annotate(err, "client: dialing master")
	}
	c := &Conn{netConn: nc, reader: bufio.NewReaderSize(nc, 4096)}
	if err := c.handshake(user, password); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.netConn.Close()
}

// ServerVersion returns the version string the server announced in the
// handshake packet (e.g. "5.7.30-log").
func (c *Conn) ServerVersion() string {
	return c.serverVersion
}

// SetDeadline forwards to the underlying net.Conn, letting callers bound a
// blocking read (e.g. waiting for the next binlog event) without tearing
// down the connection on an ordinary idle period.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.netConn.SetDeadline(t)
}

// readPacket reads one logical packet, reassembling it across the 16MiB
// split-packet boundary the protocol imposes on any single payload.
func (c *Conn) readPacket() ([]byte, error) {
	var whole []byte
	for {
		header := make([]byte, 4)
		if _, err := readFull(c.reader, header); err != nil {
			return nil, errors.Annotate(err, "client: reading packet header")
		}
		length := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
		c.seq = header[3] + 1

		body := make([]byte, length)
		if length > 0 {
			if _, err := readFull(c.reader, body); err != nil {
				return nil, errors.Annotate(err, "client: reading packet body")
			}
		}
		whole = append(whole, body...)
		if length < maxPacketSize {
			return whole, nil
		}
	}
}

// writePacket frames data as one or more packets, splitting on the 16MiB
// boundary (a terminating zero-length packet follows a payload that is an
// exact multiple of the boundary, per protocol).
func (c *Conn) writePacket(data []byte) error {
	for {
		chunk := data
		if len(chunk) > maxPacketSize {
			chunk = chunk[:maxPacketSize]
		}
		header := []byte{byte(len(chunk)), byte(len(chunk) >> 8), byte(len(chunk) >> 16), c.seq}
		c.seq++
		if _, err := c.netConn.Write(header); err != nil {
			return errors.Annotate(err, "client: writing packet header")
		}
		if len(chunk) > 0 {
			if _, err := c.netConn.Write(chunk); err != nil {
				return errors.Annotate(err, "client: writing packet body")
			}
		}
		data = data[len(chunk):]
		if len(chunk) < maxPacketSize {
			return nil
		}
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// handshake parses the server's protocol-10 greeting and replies with a
// handshake response packet authenticated via mysql_native_password.
func (c *Conn) handshake(user, password string) error {
	greeting, err := c.readPacket()
	if err != nil {
		return err
	}
	if len(greeting) > 0 && greeting[0] == mysql.ErrHeader {
		return c.errorFromPacket(greeting)
	}
	if err := c.parseGreeting(greeting); err != nil {
		return err
	}

	auth := scrambleNativePassword(password, c.salt)
	resp := c.buildHandshakeResponse(user, auth)
	c.seq = 1
	if err := c.writePacket(resp); err != nil {
		return err
	}

	reply, err := c.readPacket()
	if err != nil {
		return err
	}
	switch {
	case len(reply) == 0:
		return errors.Trace(mysql.ErrMalformedPacket)
	case reply[0] == mysql.OKHeader:
		return nil
	case reply[0] == mysql.ErrHeader:
		return c.errorFromPacket(reply)
	case reply[0] == 0xfe:
		// Auth-switch-request: only ever expected when the server insists on
		// a plugin other than mysql_native_password, which this module does
		// not support (the 5.1.23-5.7 range this module targets always
		// offers mysql_native_password).
		return errors.Errorf("client: server requested unsupported auth plugin switch")
	default:
		return errors.Trace(mysql.ErrBadHandshake)
	}
}

func (c *Conn) parseGreeting(data []byte) error {
	if len(data) < 1 {
		return errors.Trace(mysql.ErrMalformedPacket)
	}
	pos := 0
	protocolVersion := data[pos]
	pos++
	if protocolVersion != 10 {
		return errors.Errorf("client: unsupported protocol version %d", protocolVersion)
	}

	end := indexByte(data[pos:], 0)
	if end < 0 {
		return errors.Trace(mysql.ErrMalformedPacket)
	}
	c.serverVersion = string(data[pos : pos+end])
	pos += end + 1

	if len(data) < pos+4 {
		return errors.Trace(mysql.ErrMalformedPacket)
	}
	c.connectionID = binary.LittleEndian.Uint32(data[pos:])
	pos += 4

	salt := append([]byte(nil), data[pos:pos+8]...)
	pos += 8
	pos++ // filler byte

	if len(data) < pos+2 {
		return errors.Trace(mysql.ErrMalformedPacket)
	}
	capLower := uint32(binary.LittleEndian.Uint16(data[pos:]))
	pos += 2

	var authDataLen int
	if len(data) > pos {
		pos++ // character set
		pos += 2 // status flags
		capUpper := uint32(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		c.capabilities = capLower | capUpper<<16
		authDataLen = int(data[pos])
		pos++
		pos += 10 // reserved
	} else {
		c.capabilities = capLower
	}

	if c.capabilities&mysql.ClientSecureConnection != 0 {
		rest := authDataLen - 8
		if rest < 13 {
			rest = 13
		}
		if len(data) >= pos+rest-1 {
			salt = append(salt, data[pos:pos+rest-1]...)
		}
	}
	c.salt = salt
	return nil
}

func (c *Conn) buildHandshakeResponse(user string, auth []byte) []byte {
	caps := mysql.ClientLongPassword | mysql.ClientProtocol41 | mysql.ClientSecureConnection |
		mysql.ClientLongFlag | mysql.ClientTransactions

	buf := make([]byte, 4+4+1+23)
	binary.LittleEndian.PutUint32(buf[0:4], caps)
	binary.LittleEndian.PutUint32(buf[4:8], maxPacketSize)
	buf[8] = 33 // utf8_general_ci

	buf = append(buf, user...)
	buf = append(buf, 0)
	buf = mysql.PutLengthEncodedInt(buf, uint64(len(auth)))
	buf = append(buf, auth...)
	return buf
}

func (c *Conn) errorFromPacket(data []byte) error {
	if len(data) < 3 {
		return errors.Trace(mysql.ErrMalformedPacket)
	}
	code := binary.LittleEndian.Uint16(data[1:3])
	pos := 3
	if len(data) >= pos+6 && data[pos] == '#' {
		pos += 6
	}
	return errors.Errorf("client: server error %d: %s", code, string(data[pos:]))
}

func indexByte(b []byte, v byte) int {
	for i, c := range b {
		if c == v {
			return i
		}
	}
	return -1
}

// scrambleNativePassword implements mysql_native_password:
// SHA1(password) XOR SHA1(salt + SHA1(SHA1(password))).
func scrambleNativePassword(password string, salt []byte) []byte {
	if password == "" {
		return nil
	}
	h := sha1.New()
	h.Write([]byte(password))
	stage1 := h.Sum(nil)

	h.Reset()
	h.Write(stage1)
	stage2 := h.Sum(nil)

	h.Reset()
	h.Write(salt)
	h.Write(stage2)
	scramble := h.Sum(nil)

	out := make([]byte, len(scramble))
	for i := range out {
		out[i] = scramble[i] ^ stage1[i]
	}
	return out
}

// Execute runs a statement that returns no resultset (SET, or any command
// whose response is a bare OK/ERR packet).
func (c *Conn) Execute(query string) error {
	if err := c.writeCommand(mysql.ComQuery, []byte(query)); err != nil {
		return err
	}
	data, err := c.readPacket()
	if err != nil {
		return err
	}
	if len(data) > 0 && data[0] == mysql.ErrHeader {
		return c.errorFromPacket(data)
	}
	return nil
}

// QueryRow runs a single-row, single-or-more-column SELECT and returns the
// row's column values as strings (MySQL's text resultset protocol sends
// every value as a length-encoded string regardless of its declared type).
// It serves small diagnostic queries such as ChecksumHandshake's SELECT
// @master_binlog_checksum (slave.Bootstrap runs its queries over
// database/sql instead); it reads exactly one data row and discards the
// rest of the resultset.
func (c *Conn) QueryRow(query string) ([]string, error) {
	rows, err := c.Query(query)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("client: query returned no rows: %s", query)
	}
	return rows[0], nil
}

// Query runs a SELECT/SHOW statement and returns every row's column values
// as strings.
func (c *Conn) Query(query string) ([][]string, error) {
	if err := c.writeCommand(mysql.ComQuery, []byte(query)); err != nil {
		return nil, err
	}
	first, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	if len(first) > 0 && first[0] == mysql.ErrHeader {
		return nil, c.errorFromPacket(first)
	}
	if len(first) > 0 && first[0] == mysql.OKHeader {
		return nil, nil
	}

	columnCount, _, _ := mysql.LengthEncodedInt(first)
	for i := uint64(0); i < columnCount; i++ {
		if _, err := c.readPacket(); err != nil {
			return nil, err
		}
	}
	if _, err := c.readPacket(); err != nil { // column-definitions EOF
		return nil, err
	}

	var rows [][]string
	for {
		data, err := c.readPacket()
		if err != nil {
			return nil, err
		}
		if len(data) > 0 && data[0] == mysql.EOFHeader && len(data) < 9 {
			return rows, nil
		}
		row := make([]string, 0, columnCount)
		pos := 0
		for i := uint64(0); i < columnCount; i++ {
			n, isNull, w := mysql.LengthEncodedInt(data[pos:])
			pos += w
			if isNull {
				row = append(row, "")
				continue
			}
			row = append(row, string(data[pos:pos+int(n)]))
			pos += int(n)
		}
		rows = append(rows, row)
	}
}

func (c *Conn) writeCommand(cmd byte, body []byte) error {
	c.seq = 0
	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, cmd)
	buf = append(buf, body...)
	return c.writePacket(buf)
}
