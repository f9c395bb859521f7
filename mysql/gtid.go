package mysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
)

// Interval is a closed, inclusive range of transaction numbers [First, Last]
// for one GTID source. Unlike the half-open interval convention used on the
// wire (see EncodedSize/Encode), intervals held in memory are always
// closed: both endpoints were actually executed.
type Interval struct {
	First int64
	Last  int64
}

func (iv Interval) String() string {
	if iv.First == iv.Last {
		return strconv.FormatInt(iv.First, 10)
	}
	return fmt.Sprintf("%d-%d", iv.First, iv.Last)
}

// UUIDSet holds every interval executed for one source server UUID. The
// slice is kept sorted ascending by First, with no two intervals touching
// or overlapping (AddGTID below preserves this invariant; ParseGTIDSet
// appends intervals as given and relies on its input already being in
// that form).
type UUIDSet struct {
	SID       uuid.UUID
	Intervals []Interval
}

// AddGTID folds transaction number n into the set, preserving the sorted /
// disjoint / non-adjacent invariant. This walks the interval list exactly
// the way the original implementation's Position::addGtid does: a fast
// path for extending the interval immediately preceding n, an idempotence
// check, a left-extension path, an insertion path for a gap, and a
// trailing coalesce pass after either extension.
func (s *UUIDSet) AddGTID(n int64) {
	for i := range s.Intervals {
		iv := &s.Intervals[i]

		if iv.Last+1 == n { // fast path: most frequent case
			iv.Last++
			s.coalesceAt(i)
			return
		}
		if n >= iv.First && n <= iv.Last {
			return // idempotent: already recorded
		}
		if n+1 == iv.First {
			iv.First--
			s.coalesceAt(i)
			return
		}
		if n < iv.First {
			s.Intervals = append(s.Intervals, Interval{})
			copy(s.Intervals[i+1:], s.Intervals[i:])
			s.Intervals[i] = Interval{First: n, Last: n}
			return
		}
	}
	s.Intervals = append(s.Intervals, Interval{First: n, Last: n})
}

// coalesceAt merges s.Intervals[i] with its immediate successor if the
// extension at index i just made them adjacent.
func (s *UUIDSet) coalesceAt(i int) {
	if i+1 < len(s.Intervals) && s.Intervals[i].Last+1 == s.Intervals[i+1].First {
		s.Intervals[i].Last = s.Intervals[i+1].Last
		s.Intervals = append(s.Intervals[:i+1], s.Intervals[i+2:]...)
	}
}

func (s *UUIDSet) String() string {
	parts := make([]string, len(s.Intervals))
	for i, iv := range s.Intervals {
		parts[i] = iv.String()
	}
	return dashless(s.SID) + ":" + strings.Join(parts, ":")
}

func dashless(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

func parseUUID(s string) (uuid.UUID, error) {
	s = strings.ReplaceAll(s, "-", "")
	if len(s) != 32 {
		return uuid.UUID{}, errors.Trace(ErrGTIDMalformed)
	}
	dashed := s[0:8] + "-" + s[8:12] + "-" + s[12:16] + "-" + s[16:20] + "-" + s[20:32]
	id, err := uuid.Parse(dashed)
	if err != nil {
		return uuid.UUID{}, errors.Annotate(err, "mysql: parsing GTID source UUID")
	}
	return id, nil
}
