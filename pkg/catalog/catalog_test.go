package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chamgo/chameleon/pkg/testutils"
)

func TestTypeMapLookup(t *testing.T) {
	m := TypeMap{
		"users": {"id": "int", "name": "varchar"},
	}
	typ, ok := m.Lookup("users", "name")
	assert.True(t, ok)
	assert.Equal(t, "varchar", typ)

	_, ok = m.Lookup("users", "missing")
	assert.False(t, ok)

	_, ok = m.Lookup("missing_table", "id")
	assert.False(t, ok)
}

func TestTableHelpers(t *testing.T) {
	tbl := &Table{
		Schema: "app",
		Name:   "users",
		Columns: []Column{
			{Name: "id", IsPrimaryKey: true},
			{Name: "name"},
		},
	}
	assert.Equal(t, "app.users", tbl.QualifiedName())
	assert.Equal(t, []string{"id", "name"}, tbl.ColumnNames())
	assert.Equal(t, []string{"id"}, tbl.PrimaryKeyColumns())
}

func TestBuildKeyMap(t *testing.T) {
	tables := []*Table{
		{Name: "users", Columns: []Column{{Name: "id", IsPrimaryKey: true}}},
		{Name: "audit_log", Columns: []Column{{Name: "note"}}},
	}
	km := BuildKeyMap(tables)
	assert.Equal(t, []string{"id"}, km["users"])
	_, ok := km["audit_log"]
	assert.False(t, ok)
}

func TestReaderLoad(t *testing.T) {
	db := testutils.RequireMySQL(t)
	defer db.Close()

	testutils.RunSQL(t, db, "DROP TABLE IF EXISTS catalog_reader_t")
	testutils.RunSQL(t, db, `CREATE TABLE catalog_reader_t (
		id INT NOT NULL PRIMARY KEY,
		name VARCHAR(32),
		status ENUM('active','inactive','pending'),
		UNIQUE KEY uq_name (name))`)

	reader := NewReader(db, "test", []string{"catalog_reader_t"})
	tables, typeMap, dropped, err := reader.Load(t.Context())
	assert.NoError(t, err)
	assert.Empty(t, dropped)
	assert.Len(t, tables, 1)
	assert.Equal(t, "catalog_reader_t", tables[0].Name)
	assert.Equal(t, "int", typeMap["catalog_reader_t"]["id"])
	assert.Equal(t, []string{"id"}, tables[0].PrimaryKeyColumns())

	var hasUniqueIndex bool
	for _, idx := range tables[0].Indexes {
		if idx.Name == "uq_name" {
			hasUniqueIndex = true
			assert.True(t, idx.Unique)
		}
	}
	assert.True(t, hasUniqueIndex)

	for _, c := range tables[0].Columns {
		if c.Name == "status" {
			assert.Equal(t, []string{"active", "inactive", "pending"}, c.EnumValues)
		}
	}
}

func TestParseEnumValues(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, parseEnumValues("enum('a','b','c')"))
	assert.Equal(t, []string{"it's", "b"}, parseEnumValues("enum('it''s','b')"))
	assert.Nil(t, parseEnumValues("varchar(32)"))
}
