package slave

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binlogkit/slave/schema"
)

func TestBuildRowRecodesLatin1Column(t *testing.T) {
	table := &schema.Table{
		DB:    "shop",
		Table: "customers",
		Fields: []schema.Field{
			{Name: "id", Kind: schema.KindLong},
			{Name: "name", Kind: schema.KindString, Collation: "latin1_swedish_ci"},
		},
	}

	row, vec := buildRow(table, []interface{}{int32(1), string([]byte{'c', 'a', 'f', 0xE9})})
	require.Equal(t, "café", row["name"].Value)
	require.Equal(t, "café", vec[1].Value)
}

func TestBuildRowLeavesUTF8ColumnAlone(t *testing.T) {
	table := &schema.Table{
		DB:    "shop",
		Table: "customers",
		Fields: []schema.Field{
			{Name: "name", Kind: schema.KindString, Collation: "utf8mb4_general_ci"},
		},
	}

	row, _ := buildRow(table, []interface{}{"hello"})
	require.Equal(t, "hello", row["name"].Value)
}

func TestBuildRowLeavesTrueBlobAlone(t *testing.T) {
	table := &schema.Table{
		DB:    "shop",
		Table: "assets",
		Fields: []schema.Field{
			{Name: "payload", Kind: schema.KindBlob},
		},
	}

	raw := []byte{0x00, 0xFF, 0x10}
	row, _ := buildRow(table, []interface{}{raw})
	require.Equal(t, raw, row["payload"].Value)
}

func TestBuildRowRecodesTextColumnWithCollation(t *testing.T) {
	table := &schema.Table{
		DB:    "shop",
		Table: "notes",
		Fields: []schema.Field{
			{Name: "body", Kind: schema.KindBlob, Collation: "gbk_chinese_ci"},
		},
	}

	row, _ := buildRow(table, []interface{}{[]byte{0xD6, 0xD0}})
	require.Equal(t, "中", row["body"].Value)
}

func TestMarshalRecordSet(t *testing.T) {
	rs := &RecordSet{
		DB:    "shop",
		Table: "orders",
		When:  time.Unix(1000, 0).UTC(),
		Type:  TypeWrite,
		Row:   Row{"id": FieldValue{Type: "LONG", Value: int32(1)}},
	}
	buf, err := MarshalRecordSet(rs)
	require.NoError(t, err)
	require.Contains(t, string(buf), `"DB":"shop"`)
	require.Contains(t, string(buf), `"Table":"orders"`)
}
