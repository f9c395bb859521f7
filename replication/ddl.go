package replication

import (
	"regexp"
	"strings"

	"github.com/binlogkit/slave/schema"
)

// Comments and embedded newlines in DDL text would otherwise break the
// single-line patterns below; both are folded to a single space first.
var ddlCommentRegexp = regexp.MustCompile(`(?s)/\*.*?\*/`)

var (
	alterRenameRegexp = regexp.MustCompile(
		"(?i)alter\\s+table\\s+.*rename\\s+(?:to\\s+|as\\s+)?(?:`?(\\w+)`?\\.)?`?(\\w+)`?")
	renameTableRegexp = regexp.MustCompile(
		"(?i)rename\\s+table\\s+(?:`?\\w+`?\\.)?`?(?:\\w+)`?\\s+to\\s+(?:`?(\\w+)`?\\.)?`?(\\w+)`?")
	renameTableSubRegexp = regexp.MustCompile(
		"(?i)(?:`?\\w+`?\\.)?`?(?:\\w+)`?\\s+to\\s+(?:`?(\\w+)`?\\.)?`?(\\w+)`?")
	createTableRegexp = regexp.MustCompile(
		"(?i)create\\s+table(?:\\s+if\\s+not\\s+exists)?\\s+(?:`?(\\w+)`?\\.)?`?(\\w+)`?")
	alterTableRegexp = regexp.MustCompile(
		"(?i)alter\\s+table\\s+(?:`?(\\w+)`?\\.)?`?(\\w+)`?")
)

// AffectedTables scans a QueryEvent's statement text for the table(s) a
// DDL statement touches, so the caller can invalidate or rebuild its
// schema cache entry for just those tables rather than the whole cache.
// defaultDB is used when a statement's table reference carries no
// explicit db qualifier (the common case).
//
// Statements this package does not recognize as DDL (DML, SET, BEGIN,
// administrative commands) return no tables, which callers should treat
// as "nothing to invalidate", not as an error.
func AffectedTables(query, defaultDB string) []schema.TableKey {
	s := strings.ReplaceAll(query, "\n", " ")
	s = ddlCommentRegexp.ReplaceAllString(s, " ")

	if m := alterRenameRegexp.FindStringSubmatch(s); m != nil {
		return []schema.TableKey{keyFrom(m[1], m[2], defaultDB)}
	}

	if m := renameTableRegexp.FindStringSubmatch(s); m != nil {
		keys := []schema.TableKey{keyFrom(m[1], m[2], defaultDB)}
		keys = append(keys, renameTableTail(s, defaultDB)...)
		return keys
	}

	if m := createTableRegexp.FindStringSubmatch(s); m != nil {
		return []schema.TableKey{keyFrom(m[1], m[2], defaultDB)}
	}

	if m := alterTableRegexp.FindStringSubmatch(s); m != nil {
		return []schema.TableKey{keyFrom(m[1], m[2], defaultDB)}
	}

	return nil
}

// renameTableTail parses the remaining "a TO b, c TO d, ..." pairs of a
// multi-table RENAME TABLE statement; the first pair is already captured
// by renameTableRegexp and is skipped here.
func renameTableTail(s string, defaultDB string) []schema.TableKey {
	parts := strings.Split(s, ",")
	var keys []schema.TableKey
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if m := renameTableSubRegexp.FindStringSubmatch(part); m != nil {
			keys = append(keys, keyFrom(m[1], m[2], defaultDB))
		}
	}
	return keys
}

func keyFrom(db, table, defaultDB string) schema.TableKey {
	if db == "" {
		db = defaultDB
	}
	return schema.TableKey{DB: db, Table: table}
}
