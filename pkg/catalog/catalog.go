// Package catalog implements the Catalog Reader (spec.md §4.1): it queries
// the source's information schema and produces table descriptors plus the
// flat type map consumed at event-decode time.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pingcap/errors"
)

// Column is a single column descriptor (spec.md §3).
type Column struct {
	Name         string
	OrdinalPos   int
	DeclaredType string
	MaxLength    sql.NullInt64
	NumericPrec  sql.NullInt64
	NumericScale sql.NullInt64
	Nullable     bool
	Default      sql.NullString
	IsPrimaryKey bool
	Extra        string
	EnumValues   []string
}

// Index is a BTREE index descriptor, columns ordered by their position
// within the index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// Table is the immutable-per-snapshot table descriptor (spec.md §3). Tables
// are loaded once by Reader.Load at startup; a replicated DDL statement does
// not reload them, so the descriptor and the type map keep the pre-DDL
// column set for the rest of the process.
type Table struct {
	Schema  string
	Name    string
	Columns []Column
	Indexes []Index
}

// QualifiedName returns "schema.table".
func (t *Table) QualifiedName() string { return t.Schema + "." + t.Name }

// ColumnNames returns the table's column names in ordinal order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKeyColumns returns the table's primary key column names in ordinal
// order, or nil if the table has none.
func (t *Table) PrimaryKeyColumns() []string {
	var keys []string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			keys = append(keys, c.Name)
		}
	}
	return keys
}

// KeyMap is table name -> primary key column names, used by the target's
// replay step to locate the row a post-image (update) or pre-image (delete)
// change record refers to.
type KeyMap map[string][]string

// BuildKeyMap derives a KeyMap from loaded table descriptors.
func BuildKeyMap(tables []*Table) KeyMap {
	km := make(KeyMap, len(tables))
	for _, t := range tables {
		if keys := t.PrimaryKeyColumns(); len(keys) > 0 {
			km[t.Name] = keys
		}
	}
	return km
}

// TypeMap is the sole source of truth at event-decode time for deciding
// whether a value must be hex-encoded (spec.md §3).
type TypeMap map[string]map[string]string // table -> column -> declared type

// Lookup returns the declared type for table.column, and whether it was found.
func (m TypeMap) Lookup(table, column string) (string, bool) {
	cols, ok := m[table]
	if !ok {
		return "", false
	}
	t, ok := cols[column]
	return t, ok
}

// Reader loads table descriptors and the type map from a source MySQL
// connection (spec.md §4.1).
type Reader struct {
	db       *sql.DB
	database string
	allow    map[string]bool // empty means "all base tables"
}

func NewReader(db *sql.DB, database string, allowList []string) *Reader {
	allow := make(map[string]bool, len(allowList))
	for _, t := range allowList {
		allow[t] = true
	}
	return &Reader{db: db, database: database, allow: allow}
}

// Load enumerates tracked tables and builds a descriptor plus type map entry
// for each. A table that disappears between the listing query and its
// column query is reported via the returned slice of names but is not fatal
// (spec.md §4.1).
func (r *Reader) Load(ctx context.Context) ([]*Table, TypeMap, []string, error) {
	names, err := r.listTables(ctx)
	if err != nil {
		return nil, nil, nil, errors.Annotate(err, "catalog: list tables")
	}
	typeMap := make(TypeMap, len(names))
	var tables []*Table
	var dropped []string
	for _, name := range names {
		tbl, err := r.loadTable(ctx, name)
		if err == sql.ErrNoRows {
			dropped = append(dropped, name)
			continue
		}
		if err != nil {
			return nil, nil, nil, errors.Annotatef(err, "catalog: load table %s", name)
		}
		cols := make(map[string]string, len(tbl.Columns))
		for _, c := range tbl.Columns {
			cols[c.Name] = c.DeclaredType
		}
		typeMap[tbl.Name] = cols
		tables = append(tables, tbl)
	}
	return tables, typeMap, dropped, nil
}

func (r *Reader) listTables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`, r.database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if len(r.allow) == 0 || r.allow[name] {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

func (r *Reader) loadTable(ctx context.Context, name string) (*Table, error) {
	cols, err := r.loadColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, sql.ErrNoRows
	}
	idx, err := r.loadIndexes(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Table{Schema: r.database, Name: name, Columns: cols, Indexes: idx}, nil
}

func (r *Reader) loadColumns(ctx context.Context, name string) ([]Column, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT column_name, ordinal_position, data_type, column_type, character_maximum_length,
		       numeric_precision, numeric_scale, is_nullable, column_default,
		       column_key, extra
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, r.database, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var c Column
		var nullable, key, columnType string
		if err := rows.Scan(&c.Name, &c.OrdinalPos, &c.DeclaredType, &columnType, &c.MaxLength,
			&c.NumericPrec, &c.NumericScale, &nullable, &c.Default, &key, &c.Extra); err != nil {
			return nil, err
		}
		c.Nullable = nullable == "YES"
		c.IsPrimaryKey = key == "PRI"
		if c.DeclaredType == "enum" {
			c.EnumValues = parseEnumValues(columnType)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// parseEnumValues extracts the value list from a MySQL ENUM column_type
// string such as enum('a','b','c'), the way pg_chameleon's get_column_metadata
// derives it via SUBSTRING(COLUMN_TYPE,5). A doubled single quote inside a
// value ('') is unescaped to a literal quote.
func parseEnumValues(columnType string) []string {
	if !strings.HasPrefix(strings.ToLower(columnType), "enum(") {
		return nil
	}
	start := strings.IndexByte(columnType, '(')
	end := strings.LastIndexByte(columnType, ')')
	if start < 0 || end <= start {
		return nil
	}
	body := []rune(columnType[start+1 : end])
	var values []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(body); i++ {
		switch r := body[i]; {
		case inQuote && r == '\'' && i+1 < len(body) && body[i+1] == '\'':
			cur.WriteRune('\'')
			i++
		case r == '\'':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			values = append(values, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(values, cur.String())
}

func (r *Reader) loadIndexes(ctx context.Context, name string) ([]Index, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT index_name, column_name, non_unique
		FROM information_schema.statistics
		WHERE table_schema = ? AND table_name = ? AND index_type = 'BTREE'
		ORDER BY index_name, seq_in_index`, r.database, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byName := make(map[string]*Index)
	var order []string
	for rows.Next() {
		var idxName, colName string
		var nonUnique int
		if err := rows.Scan(&idxName, &colName, &nonUnique); err != nil {
			return nil, err
		}
		idx, ok := byName[idxName]
		if !ok {
			idx = &Index{Name: idxName, Unique: nonUnique == 0}
			byName[idxName] = idx
			order = append(order, idxName)
		}
		idx.Columns = append(idx.Columns, colName)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result := make([]Index, 0, len(order))
	for _, n := range order {
		result = append(result, *byName[n])
	}
	return result, nil
}

// ErrMissingDatabase reports a configuration with no my_database set. No
// code in this module returns it; NewReader accepts an empty database name.
var ErrMissingDatabase = fmt.Errorf("catalog: my_database is required")
