// Copyright 2012, Google Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package schema

// Cache is the session's view of table metadata: a transient table_id to
// TableKey mapping (valid only within the current binlog file; Rotate
// invalidates it) and a durable TableKey to *Table mapping rebuilt on DDL.
// Only keys present in the caller's replication set are ever populated.
// Cache is owned by exactly one goroutine (the replication session loop);
// it is not safe for concurrent use.
type Cache struct {
	idToKey    map[uint64]TableKey
	keyToTable map[TableKey]*Table
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{
		idToKey:    make(map[uint64]TableKey),
		keyToTable: make(map[TableKey]*Table),
	}
}

// SetTableName installs or overwrites the table_id to (db, table) mapping
// seen in a TableMap event.
func (c *Cache) SetTableName(tableID uint64, db, table string) {
	c.idToKey[tableID] = TableKey{DB: db, Table: table}
}

// LookupTableID resolves a TableMap event's table_id to the key recorded
// for it, if any.
func (c *Cache) LookupTableID(tableID uint64) (TableKey, bool) {
	k, ok := c.idToKey[tableID]
	return k, ok
}

// SetTable installs or replaces the Table for a key, built fresh from a
// schema rebuild (initial bootstrap or post-DDL).
func (c *Cache) SetTable(key TableKey, t *Table) {
	c.keyToTable[key] = t
}

// GetTable returns the cached Table for a key, or ok=false if it has never
// been built (e.g. the table is outside the replication set, or has not
// been seen since the last clear/DDL rebuild).
func (c *Cache) GetTable(key TableKey) (*Table, bool) {
	t, ok := c.keyToTable[key]
	return t, ok
}

// ClearTransient drops the table_id mapping only. Called on ROTATE_EVENT:
// table_ids are scoped to a single binlog file and must not be trusted
// across a rotation, but the built Table metadata survives.
func (c *Cache) ClearTransient() {
	c.idToKey = make(map[uint64]TableKey)
}

// Clear drops both mappings entirely.
func (c *Cache) Clear() {
	c.idToKey = make(map[uint64]TableKey)
	c.keyToTable = make(map[TableKey]*Table)
}
