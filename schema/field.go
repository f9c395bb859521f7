// Copyright 2012, Google Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

import (
	"strconv"
	"strings"
)

// Kind tags the variant a Field decodes as. Every value the row-event
// decoder needs to branch on has exactly one Kind.
type Kind int

const (
	KindTiny Kind = iota
	KindShort
	KindMedium
	KindLong
	KindLongLong
	KindFloat
	KindDouble
	KindDecimal
	KindYear
	KindDate
	KindTime
	KindDateTime
	KindTimestamp
	KindEnum
	KindSet
	KindString // CHAR/VARCHAR
	KindBlob   // BLOB/TEXT family, see BlobLength
	KindBit
)

// BlobLength distinguishes the four storage-length classes MySQL uses for
// the BLOB/TEXT family; the row decoder needs this to know how many
// length-prefix bytes precede the value (1/2/3/4 respectively).
type BlobLength int

const (
	BlobTiny BlobLength = iota + 1
	BlobRegular
	BlobMedium
	BlobLong
)

// Field is the decoded form of one column of a Table: enough metadata to
// interpret that column's bytes in a ROWS event. Temporal fields
// (TIME/DATETIME/TIMESTAMP) carry IsOldStorage, fixed at build time from the
// master's version and possibly corrected later by a TableMap event's
// column-type byte (legacy codes mean old storage; the V2 codes mean new).
type Field struct {
	Name string
	Kind Kind

	Unsigned bool // integer kinds

	IsOldStorage bool // TIME/DATETIME/TIMESTAMP only

	Collation string // STRING kind, and BLOB kind for TEXT columns
	MaxSize   uint   // STRING kind: CHAR/VARCHAR display width

	EnumValues []string
	SetValues  []string

	BlobLength BlobLength // BLOB kind only

	Precision int // DECIMAL kind
	Scale     int // DECIMAL kind
}

// classifyColumn builds a Field from a SHOW FULL COLUMNS row, the way the
// original client-side schema cache does it: pattern-match the raw
// column-type string rather than parse it formally. oldTemporalStorage
// selects IsOldStorage for TIME/DATETIME/TIMESTAMP columns, decided once per
// Table from the master's reported version (< 5.6.4 means old storage) and
// possibly overridden later per-column by the TableMap event.
func classifyColumn(name, columnType, collation string, oldTemporalStorage bool) Field {
	f := Field{Name: name, Collation: collation}

	switch {
	case strings.HasPrefix(columnType, "tinyint"):
		f.Kind = KindTiny
	case strings.HasPrefix(columnType, "smallint"):
		f.Kind = KindShort
	case strings.HasPrefix(columnType, "mediumint"):
		f.Kind = KindMedium
	case strings.HasPrefix(columnType, "bigint"):
		f.Kind = KindLongLong
	case strings.HasPrefix(columnType, "int"):
		f.Kind = KindLong
	case strings.HasPrefix(columnType, "year"):
		f.Kind = KindYear
	case strings.HasPrefix(columnType, "float"):
		f.Kind = KindFloat
	case strings.HasPrefix(columnType, "double"):
		f.Kind = KindDouble
	case strings.HasPrefix(columnType, "decimal") || strings.HasPrefix(columnType, "numeric"):
		f.Kind = KindDecimal
		f.Precision, f.Scale = parseDecimalArgs(columnType)
	case columnType == "date":
		f.Kind = KindDate
	case strings.HasPrefix(columnType, "datetime"):
		f.Kind = KindDateTime
		f.IsOldStorage = oldTemporalStorage
	case strings.HasPrefix(columnType, "timestamp"):
		f.Kind = KindTimestamp
		f.IsOldStorage = oldTemporalStorage
	case strings.HasPrefix(columnType, "time"):
		f.Kind = KindTime
		f.IsOldStorage = oldTemporalStorage
	case strings.HasPrefix(columnType, "enum("):
		f.Kind = KindEnum
		f.EnumValues = parseQuotedList(columnType, "enum(")
	case strings.HasPrefix(columnType, "set("):
		f.Kind = KindSet
		f.SetValues = parseQuotedList(columnType, "set(")
	case strings.HasPrefix(columnType, "bit"):
		f.Kind = KindBit
	case strings.Contains(columnType, "blob"), strings.Contains(columnType, "text"):
		f.Kind = KindBlob
		f.BlobLength = blobLengthClass(columnType)
	case strings.HasPrefix(columnType, "char"), strings.HasPrefix(columnType, "varchar"),
		strings.HasPrefix(columnType, "binary"), strings.HasPrefix(columnType, "varbinary"):
		f.Kind = KindString
		f.MaxSize = sizeArg(columnType)
	default:
		f.Kind = KindString
		f.MaxSize = sizeArg(columnType)
	}

	if strings.Contains(columnType, "unsigned") {
		f.Unsigned = true
	}
	return f
}

func blobLengthClass(columnType string) BlobLength {
	switch {
	case strings.HasPrefix(columnType, "tiny"):
		return BlobTiny
	case strings.HasPrefix(columnType, "medium"):
		return BlobMedium
	case strings.HasPrefix(columnType, "long"):
		return BlobLong
	default:
		return BlobRegular
	}
}

func sizeArg(columnType string) uint {
	start := strings.IndexByte(columnType, '(')
	end := strings.IndexByte(columnType, ')')
	if start < 0 || end < 0 || end < start {
		return 0
	}
	n, err := strconv.Atoi(columnType[start+1 : end])
	if err != nil || n < 0 {
		return 0
	}
	return uint(n)
}

func parseDecimalArgs(columnType string) (precision, scale int) {
	start := strings.IndexByte(columnType, '(')
	end := strings.IndexByte(columnType, ')')
	if start < 0 || end < 0 || end < start {
		return 10, 0
	}
	parts := strings.Split(columnType[start+1:end], ",")
	precision, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
	if len(parts) > 1 {
		scale, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}
	return precision, scale
}

func parseQuotedList(columnType, prefix string) []string {
	body := strings.TrimSuffix(strings.TrimPrefix(columnType, prefix), ")")
	body = strings.ReplaceAll(body, "'", "")
	if body == "" {
		return nil
	}
	return strings.Split(body, ",")
}
