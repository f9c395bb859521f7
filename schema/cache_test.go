package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheSetAndLookupTableID(t *testing.T) {
	c := NewCache()
	c.SetTableName(42, "shop", "orders")

	key, ok := c.LookupTableID(42)
	require.True(t, ok)
	require.Equal(t, TableKey{DB: "shop", Table: "orders"}, key)

	_, ok = c.LookupTableID(999)
	require.False(t, ok)
}

func TestCacheSetAndGetTable(t *testing.T) {
	c := NewCache()
	key := TableKey{DB: "shop", Table: "orders"}
	tbl := &Table{DB: "shop", Table: "orders"}
	c.SetTable(key, tbl)

	got, ok := c.GetTable(key)
	require.True(t, ok)
	require.Same(t, tbl, got)
}

func TestCacheClearTransientKeepsTables(t *testing.T) {
	c := NewCache()
	c.SetTableName(1, "shop", "orders")
	key := TableKey{DB: "shop", Table: "orders"}
	c.SetTable(key, &Table{DB: "shop", Table: "orders"})

	c.ClearTransient()

	_, ok := c.LookupTableID(1)
	require.False(t, ok)

	_, ok = c.GetTable(key)
	require.True(t, ok)
}

func TestCacheClearDropsEverything(t *testing.T) {
	c := NewCache()
	c.SetTableName(1, "shop", "orders")
	key := TableKey{DB: "shop", Table: "orders"}
	c.SetTable(key, &Table{DB: "shop", Table: "orders"})

	c.Clear()

	_, ok := c.LookupTableID(1)
	require.False(t, ok)
	_, ok = c.GetTable(key)
	require.False(t, ok)
}
