// Copyright 2012, Google Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

// TableKey identifies a table by (table, db). The ordering is deliberately
// table-name-first: callers that want tables grouped by name across
// databases (dashboards, filters) get that for free from a sorted slice of
// keys. Use DB/Table fields directly when you just need the pair.
type TableKey struct {
	Table string
	DB    string
}

// Less orders keys lexicographically by (Table, DB), matching the
// table-name-first contract above.
func (k TableKey) Less(o TableKey) bool {
	if k.Table != o.Table {
		return k.Table < o.Table
	}
	return k.DB < o.DB
}

func (k TableKey) String() string {
	return k.DB + "." + k.Table
}
