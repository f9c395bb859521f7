// Copyright 2012, Google Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pingcap/errors"
)

// Table is immutable once built: the master-side ordinal order of its
// fields never changes after BuildTable returns. The optional column filter
// narrows what RowEvent decoding emits without altering that order.
type Table struct {
	DB    string
	Table string

	Fields []Field

	filterMask  []byte
	filterPerm  []int // master ordinal -> user ordinal; -1 when excluded
	filterCount int
}

// FullName renders "db.table", matching the spec's full_name contract.
func (t *Table) FullName() string {
	return t.DB + "." + t.Table
}

func (t *Table) String() string {
	return t.FullName()
}

// FindField returns the master ordinal of the named column, or -1.
func (t *Table) FindField(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// SetColumnFilter restricts emitted columns to exactly `names`, in the
// given order, and builds the packed inclusion bitmap plus the
// master-ordinal-to-user-ordinal permutation the row decoder consults.
// Passing no names clears the filter (emit every column, master order).
func (t *Table) SetColumnFilter(names ...string) error {
	if len(names) == 0 {
		t.filterMask = nil
		t.filterPerm = nil
		t.filterCount = 0
		return nil
	}

	mask := make([]byte, (len(t.Fields)+7)/8)
	perm := make([]int, len(t.Fields))
	for i := range perm {
		perm[i] = -1
	}

	for userOrdinal, name := range names {
		ordinal := t.FindField(name)
		if ordinal < 0 {
			return errors.Errorf("table %s has no column named %q", t.FullName(), name)
		}
		mask[ordinal/8] |= 1 << uint(ordinal%8)
		perm[ordinal] = userOrdinal
	}

	t.filterMask = mask
	t.filterPerm = perm
	t.filterCount = len(names)
	return nil
}

// Included reports whether the master ordinal passes the column filter.
// An empty filter (no call to SetColumnFilter, or one with zero names)
// includes everything.
func (t *Table) Included(ordinal int) bool {
	if len(t.filterMask) == 0 {
		return true
	}
	if ordinal < 0 || ordinal/8 >= len(t.filterMask) {
		return false
	}
	return t.filterMask[ordinal/8]&(1<<uint(ordinal%8)) != 0
}

// UserOrdinal maps a master ordinal to its position in the filtered output,
// or -1 if the filter excludes it. With no filter it is the identity.
func (t *Table) UserOrdinal(ordinal int) int {
	if len(t.filterPerm) == 0 {
		return ordinal
	}
	if ordinal < 0 || ordinal >= len(t.filterPerm) {
		return -1
	}
	return t.filterPerm[ordinal]
}

// FilterCount returns how many columns the current filter selects, or 0
// when there is no filter.
func (t *Table) FilterCount() int {
	return t.filterCount
}

// ApplyTableMapStorage corrects the storage variant of a temporal field
// from the TableMap event's column-type byte: newStorage true means
// TIMESTAMP2/DATETIME2/TIME2, false means the legacy encoding.
func (t *Table) ApplyTableMapStorage(ordinal int, newStorage bool) {
	if ordinal < 0 || ordinal >= len(t.Fields) {
		return
	}
	f := &t.Fields[ordinal]
	switch f.Kind {
	case KindTime, KindDateTime, KindTimestamp:
		f.IsOldStorage = !newStorage
	}
}

type columnRow struct {
	Field     string         `db:"Field"`
	Type      string         `db:"Type"`
	Collation sql.NullString `db:"Collation"`
	Extra     string         `db:"Extra"`
}

// BuildTable reads SHOW FULL COLUMNS for db.table and classifies each
// column into a Field. serverVersion decides IsOldStorage for temporal
// columns (< 5.6.4 means the legacy TIME/DATETIME/TIMESTAMP encoding); a
// later TableMap event may still correct individual fields via
// ApplyTableMapStorage.
func BuildTable(conn *sqlx.DB, db, table, serverVersion string) (*Table, error) {
	var rows []columnRow
	query := fmt.Sprintf("show full columns from `%s`.`%s`", db, table)
	if err := conn.Select(&rows, query); err != nil {
		return nil, errors.Annotatef(err, "schema: building table %s.%s", db, table)
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("schema: table %s.%s has no columns", db, table)
	}

	oldStorage := isOldTemporalStorage(serverVersion)
	t := &Table{DB: db, Table: table, Fields: make([]Field, 0, len(rows))}
	for _, r := range rows {
		t.Fields = append(t.Fields, classifyColumn(r.Field, r.Type, r.Collation.String, oldStorage))
	}
	return t, nil
}

// isOldTemporalStorage reports whether a master reporting serverVersion
// predates 5.6.4, the release that introduced fractional-second temporal
// storage (TIMESTAMP2/DATETIME2/TIME2).
func isOldTemporalStorage(serverVersion string) bool {
	major, minor, patch := parseServerVersion(serverVersion)
	if major != 5 {
		return major < 5
	}
	if minor != 6 {
		return minor < 6
	}
	return patch < 4
}

func parseServerVersion(v string) (major, minor, patch int) {
	end := strings.IndexAny(v, "-+ ")
	if end > 0 {
		v = v[:end]
	}
	parts := strings.SplitN(v, ".", 3)
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		patch, _ = strconv.Atoi(parts[2])
	}
	return major, minor, patch
}
