package client

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/binlogkit/slave/mysql"
)

// pipeConn is a net.Conn whose Write goes to an outbox buffer and whose Read
// comes from a preloaded inbox buffer, letting tests drive Conn without a
// real socket.
type pipeConn struct {
	outbox bytes.Buffer
	inbox  bytes.Buffer
}

func (p *pipeConn) Read(b []byte) (int, error)         { return p.inbox.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error)        { return p.outbox.Write(b) }
func (p *pipeConn) Close() error                       { return nil }
func (p *pipeConn) LocalAddr() net.Addr                { return nil }
func (p *pipeConn) RemoteAddr() net.Addr               { return nil }
func (p *pipeConn) SetDeadline(t time.Time) error      { return nil }
func (p *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipeConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestConn() (*Conn, *pipeConn) {
	pc := &pipeConn{}
	c := &Conn{netConn: pc, reader: bufio.NewReader(&pc.inbox)}
	return c, pc
}

func lastCommandBody(t *testing.T, pc *pipeConn) []byte {
	t.Helper()
	out := pc.outbox.Bytes()
	require.GreaterOrEqual(t, len(out), 4)
	length := int(out[0]) | int(out[1])<<8 | int(out[2])<<16
	require.Equal(t, len(out)-4, length)
	return out[4:]
}

func TestRegisterSlaveEncoding(t *testing.T) {
	c, pc := newTestConn()
	pc.inbox.Write([]byte{1, 0, 0, 0, mysql.OKHeader})

	require.NoError(t, c.RegisterSlave(42))
	body := lastCommandBody(t, pc)
	require.Equal(t, mysql.ComRegisterSlave, body[0])
	require.Equal(t, uint32(42), binary.LittleEndian.Uint32(body[1:5]))
}

func TestDumpBinlogEncoding(t *testing.T) {
	c, pc := newTestConn()
	require.NoError(t, c.DumpBinlog(7, "mysql-bin.000003", 4))

	body := lastCommandBody(t, pc)
	require.Equal(t, mysql.ComBinlogDump, body[0])
	require.Equal(t, uint32(4), binary.LittleEndian.Uint32(body[1:5]))
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(body[7:11]))
	require.Equal(t, "mysql-bin.000003", string(body[11:]))
}

func TestDumpBinlogGTIDEncoding(t *testing.T) {
	c, pc := newTestConn()
	gset := mysql.NewGTIDSet()
	sid := uuid.MustParse("3e11fa47-71ca-11e1-9e33-c80aa9429562")
	gset.AddGTID(sid, 1)
	gset.AddGTID(sid, 2)

	require.NoError(t, c.DumpBinlogGTID(7, gset))

	body := lastCommandBody(t, pc)
	require.Equal(t, mysql.ComBinlogDumpGTID, body[0])
	flags := binary.LittleEndian.Uint16(body[1:3])
	require.Equal(t, uint16(binlogThroughGTID), flags)
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(body[3:7]))
	dataSize := binary.LittleEndian.Uint32(body[19:23])
	require.Equal(t, gset.EncodedSize(), int(dataSize))
	require.Equal(t, gset.Encode(), body[23:23+int(dataSize)])
}

func TestReadEventStripsOKMarker(t *testing.T) {
	c, pc := newTestConn()
	payload := []byte{mysql.OKHeader, 1, 2, 3}
	pc.inbox.Write([]byte{byte(len(payload)), 0, 0, 0})
	pc.inbox.Write(payload)

	data, err := c.ReadEvent()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)
}

func TestReadEventPropagatesError(t *testing.T) {
	c, pc := newTestConn()
	payload := append([]byte{mysql.ErrHeader, 0x10, 0x04, '#', 'H', 'Y', '0', '0', '0'}, "binlog purged"...)
	pc.inbox.Write([]byte{byte(len(payload)), 0, 0, 0})
	pc.inbox.Write(payload)

	_, err := c.ReadEvent()
	require.Error(t, err)
}

func TestChecksumHandshakeFallsBackWhenUnsupported(t *testing.T) {
	c, pc := newTestConn()
	errPacket := []byte{mysql.ErrHeader, 0x2c, 0x14, '#', '4', '2', '0', '0', '0'}
	pc.inbox.Write([]byte{byte(len(errPacket)), 0, 0, 0})
	pc.inbox.Write(errPacket)

	alg, err := c.ChecksumHandshake()
	require.NoError(t, err)
	require.Equal(t, "NONE", alg)
}
