package replication

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/binlogkit/slave/schema"
)

func TestAffectedTablesCreateTable(t *testing.T) {
	keys := AffectedTables("CREATE TABLE orders (id INT)", "shop")
	require.Equal(t, []schema.TableKey{{DB: "shop", Table: "orders"}}, keys)
}

func TestAffectedTablesCreateTableWithExplicitSchema(t *testing.T) {
	keys := AffectedTables("CREATE TABLE `billing`.`invoices` (id INT)", "shop")
	require.Equal(t, []schema.TableKey{{DB: "billing", Table: "invoices"}}, keys)
}

func TestAffectedTablesAlterTable(t *testing.T) {
	keys := AffectedTables("ALTER TABLE orders ADD COLUMN note TEXT", "shop")
	require.Equal(t, []schema.TableKey{{DB: "shop", Table: "orders"}}, keys)
}

func TestAffectedTablesAlterTableRename(t *testing.T) {
	keys := AffectedTables("ALTER TABLE orders RENAME TO legacy_orders", "shop")
	require.Equal(t, []schema.TableKey{{DB: "shop", Table: "legacy_orders"}}, keys)
}

func TestAffectedTablesRenameTableSingle(t *testing.T) {
	keys := AffectedTables("RENAME TABLE orders TO legacy_orders", "shop")
	require.Equal(t, []schema.TableKey{{DB: "shop", Table: "legacy_orders"}}, keys)
}

func TestAffectedTablesRenameTableMultiple(t *testing.T) {
	keys := AffectedTables("RENAME TABLE orders TO legacy_orders, customers TO legacy_customers", "shop")
	require.Equal(t, []schema.TableKey{
		{DB: "shop", Table: "legacy_orders"},
		{DB: "shop", Table: "legacy_customers"},
	}, keys)
}

func TestAffectedTablesIgnoresNonDDL(t *testing.T) {
	require.Nil(t, AffectedTables("INSERT INTO orders VALUES (1)", "shop"))
	require.Nil(t, AffectedTables("BEGIN", "shop"))
	require.Nil(t, AffectedTables("COMMIT", "shop"))
}

func TestAffectedTablesStripsBlockComments(t *testing.T) {
	keys := AffectedTables("ALTER /* gh-ost */ TABLE orders ADD COLUMN note TEXT", "shop")
	require.Equal(t, []schema.TableKey{{DB: "shop", Table: "orders"}}, keys)
}
