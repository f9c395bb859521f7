package mysql

import "github.com/pingcap/errors"

// Decimal codec errors, named after the original implementation's
// ERR_DECIMAL_* constants.
var (
	ErrDecimalBadNum   = errors.New("mysql: malformed decimal value")
	ErrDecimalOverflow = errors.New("mysql: decimal precision exceeds 65 digits")
)

// GTID / Position errors.
var (
	ErrGTIDEmptyInterval = errors.New("mysql: empty interval list for a UUID present in a GTID set")
	ErrGTIDMalformed     = errors.New("mysql: malformed GTID set string")
)

// Wire protocol errors.
var (
	ErrMalformedPacket = errors.New("mysql: malformed packet")
	ErrBadHandshake    = errors.New("mysql: unexpected handshake packet")
)

// SidLength is the byte length of a server UUID once hex-decoded, as used
// both in GTID wire encoding and in the GTID_LOG_EVENT body.
const SidLength = 16
