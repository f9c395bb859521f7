package mysql

import (
	"encoding/binary"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
)

// GTIDSet is an ordered-by-insertion map from server UUID (as its 32-char,
// dash-stripped hex form) to the set of transaction intervals executed for
// that source. An empty set means "no GTIDs seen yet".
type GTIDSet struct {
	sets map[string]*UUIDSet
	// order preserves first-seen order so String()/Encode() are stable and
	// match canonical MySQL output ordering for sets built by ParseGTIDSet.
	order []string
}

// NewGTIDSet returns an empty GTID set.
func NewGTIDSet() *GTIDSet {
	return &GTIDSet{sets: make(map[string]*UUIDSet)}
}

// IsEmpty reports whether no GTIDs have been recorded for any source.
func (g *GTIDSet) IsEmpty() bool {
	return g == nil || len(g.sets) == 0
}

func (g *GTIDSet) uuidSet(key string, sid uuid.UUID) *UUIDSet {
	if s, ok := g.sets[key]; ok {
		return s
	}
	s := &UUIDSet{SID: sid}
	g.sets[key] = s
	g.order = append(g.order, key)
	return s
}

// AddGTID records transaction n for the given server UUID, merging and
// coalescing intervals per the algorithm documented on UUIDSet.AddGTID.
func (g *GTIDSet) AddGTID(sid uuid.UUID, n int64) {
	key := dashless(sid)
	g.uuidSet(key, sid).AddGTID(n)
}

// ParseGTIDSet parses MySQL's canonical GTID_EXECUTED textual form:
//
//	gtid_set: uuid_set ["," uuid_set]... | ""
//	uuid_set: uuid (":" interval)+
//	interval: n ["-" m]
//
// Whitespace and newlines are stripped first. Intervals are appended in
// input order without merging: canonical MySQL output is already
// normalized, so no coalescing pass runs here (contrast with AddGTID).
func ParseGTIDSet(s string) (*GTIDSet, error) {
	g := NewGTIDSet()
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return g, nil
	}

	for _, token := range strings.Split(s, ",") {
		if token == "" {
			continue
		}
		parts := strings.Split(token, ":")
		if len(parts) < 2 {
			return nil, errors.Trace(ErrGTIDMalformed)
		}
		id, err := parseUUID(parts[0])
		if err != nil {
			return nil, err
		}
		key := dashless(id)
		us := g.uuidSet(key, id)
		for _, ivToken := range parts[1:] {
			iv, err := parseInterval(ivToken)
			if err != nil {
				return nil, err
			}
			us.Intervals = append(us.Intervals, iv)
		}
	}
	return g, nil
}

func parseInterval(s string) (Interval, error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Interval{}, errors.Annotate(err, "mysql: parsing GTID interval")
		}
		return Interval{First: n, Last: n}, nil
	}
	first, err := strconv.ParseInt(s[:dash], 10, 64)
	if err != nil {
		return Interval{}, errors.Annotate(err, "mysql: parsing GTID interval")
	}
	last, err := strconv.ParseInt(s[dash+1:], 10, 64)
	if err != nil {
		return Interval{}, errors.Annotate(err, "mysql: parsing GTID interval")
	}
	return Interval{First: first, Last: last}, nil
}

// String renders the set in the same format ParseGTIDSet accepts, with
// sources in first-seen order.
func (g *GTIDSet) String() string {
	if g.IsEmpty() {
		return ""
	}
	parts := make([]string, 0, len(g.order))
	for _, key := range g.order {
		parts = append(parts, g.sets[key].String())
	}
	return strings.Join(parts, ",")
}

// EncodedSize returns the byte length Encode would produce: 0 for an
// empty set, else 8 + sum(16 + 8 + 16*k) per source with k intervals.
func (g *GTIDSet) EncodedSize() int {
	if g.IsEmpty() {
		return 0
	}
	n := 8
	for _, key := range g.order {
		n += 16 + 8 + 16*len(g.sets[key].Intervals)
	}
	return n
}

// Encode writes the COM_BINLOG_DUMP_GTID wire form: n_sids:u64 LE, then per
// UUID 16 raw bytes, n_intervals:u64 LE, then per interval first:u64 LE and
// last+1:u64 LE (the wire's half-open convention, even though in-memory
// intervals are closed).
func (g *GTIDSet) Encode() []byte {
	size := g.EncodedSize()
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(g.order)))
	off := 8
	for _, key := range g.order {
		us := g.sets[key]
		copy(buf[off:off+16], us.SID[:])
		off += 16
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(len(us.Intervals)))
		off += 8
		for _, iv := range us.Intervals {
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(iv.First))
			off += 8
			binary.LittleEndian.PutUint64(buf[off:off+8], uint64(iv.Last+1))
			off += 8
		}
	}
	return buf
}

// Position is "how far we have read": a legacy (log_name, log_pos)
// coordinate plus an optional GTID set. Either or both may be populated;
// an empty GTID set means GTID mode is not in use (or no transaction has
// been executed yet).
type Position struct {
	LogName string
	LogPos  uint32
	GTIDSet *GTIDSet
}

// NewPosition returns a Position with an initialized, empty GTID set.
func NewPosition(logName string, logPos uint32) Position {
	return Position{LogName: logName, LogPos: logPos, GTIDSet: NewGTIDSet()}
}

// AddGTID records a (uuid, transaction) pair against this position's GTID
// set, initializing the set if necessary.
func (p *Position) AddGTID(sid uuid.UUID, n int64) {
	if p.GTIDSet == nil {
		p.GTIDSet = NewGTIDSet()
	}
	p.GTIDSet.AddGTID(sid, n)
}

// ReachedOtherPos reports whether this position is known to have consumed
// every event `other` has. Semantics:
//
//   - if neither side has GTIDs, compare (LogName, LogPos) lexicographically;
//   - if only one side has GTIDs, the GTID side is considered ahead;
//   - otherwise every UUID present in other must be present here with a
//     last-interval Last at least as large.
//
// An empty interval list for a UUID present on either side is a decode
// error (it indicates corrupted state, per the original implementation).
func (p Position) ReachedOtherPos(other Position) (bool, error) {
	pEmpty := p.GTIDSet.IsEmpty()
	oEmpty := other.GTIDSet.IsEmpty()

	if pEmpty && oEmpty {
		if p.LogName != other.LogName {
			return p.LogName > other.LogName, nil
		}
		return p.LogPos >= other.LogPos, nil
	}
	if pEmpty {
		return false, nil
	}
	if oEmpty {
		return true, nil
	}

	for _, key := range p.GTIDSet.order {
		if len(p.GTIDSet.sets[key].Intervals) == 0 {
			return false, errors.Annotatef(ErrGTIDEmptyInterval, "uuid %s", key)
		}
	}
	for _, key := range other.GTIDSet.order {
		otherSet := other.GTIDSet.sets[key]
		if len(otherSet.Intervals) == 0 {
			return false, errors.Annotatef(ErrGTIDEmptyInterval, "uuid %s", key)
		}
		mine, ok := p.GTIDSet.sets[key]
		if !ok {
			return false, nil
		}
		if len(mine.Intervals) == 0 {
			return false, errors.Annotatef(ErrGTIDEmptyInterval, "uuid %s", key)
		}
		mineLast := mine.Intervals[len(mine.Intervals)-1].Last
		otherLast := otherSet.Intervals[len(otherSet.Intervals)-1].Last
		if mineLast < otherLast {
			return false, nil
		}
	}
	return true, nil
}

// String renders a debug form: 'log_name:log_pos, GTIDs=...' or 'GTIDs=-'
// when no GTID has been seen.
func (p Position) String() string {
	var sb strings.Builder
	sb.WriteByte('\'')
	if p.LogName != "" && p.LogPos != 0 {
		sb.WriteString(p.LogName)
		sb.WriteByte(':')
		sb.WriteString(strconv.FormatUint(uint64(p.LogPos), 10))
		sb.WriteString(", ")
	}
	sb.WriteString("GTIDs=")
	if p.GTIDSet.IsEmpty() {
		sb.WriteByte('-')
	} else {
		sb.WriteString(p.GTIDSet.String())
	}
	sb.WriteByte('\'')
	return sb.String()
}

// sortedKeys is a small helper kept for callers that want deterministic
// iteration by key rather than first-seen order (e.g. diagnostics output).
func (g *GTIDSet) sortedKeys() []string {
	keys := make([]string, len(g.order))
	copy(keys, g.order)
	sort.Strings(keys)
	return keys
}
