package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chamgo/chameleon/pkg/catalog"
)

func cols() []catalog.Column {
	return []catalog.Column{
		{Name: "id", DeclaredType: "int"},
		{Name: "payload", DeclaredType: "blob"},
		{Name: "flags", DeclaredType: "bit"},
		{Name: "name", DeclaredType: "varchar"},
	}
}

func TestBuildChoosesExpressionByTypeClass(t *testing.T) {
	exprs := Build(cols(), HexifySet{"blob": true})
	byName := make(map[string]ColumnExpr, len(exprs))
	for _, e := range exprs {
		byName[e.Name] = e
	}

	assert.Contains(t, byName["payload"].Ins, "hex(`payload`)")
	assert.Contains(t, byName["flags"].Ins, "cast(`flags` AS unsigned) AS `flags`")
	assert.Equal(t, "`id`", unwrapNullSentinel(byName["id"].CSV))
	assert.Equal(t, "`name`", unwrapNullSentinel(byName["name"].CSV))
}

// unwrapNullSentinel strips the COALESCE/REPLACE wrapper CSV expressions carry,
// leaving the bare column expression for assertions.
func unwrapNullSentinel(csv string) string {
	const prefix = "COALESCE(REPLACE("
	const suffix = ", '\"', '\"\"'), 'NULL')"
	if len(csv) > len(prefix)+len(suffix) {
		return csv[len(prefix) : len(csv)-len(suffix)]
	}
	return csv
}

func TestCSVSelectMatchesGenerateSelectShape(t *testing.T) {
	exprs := Build(cols(), HexifySet{})
	sel := CSVSelect(exprs)
	assert.Contains(t, sel, "CONCAT_WS")
	assert.Contains(t, sel, `'"NULL"','NULL'`)
	assert.Contains(t, sel, "`id`")
}

func TestInsertSelectJoinsPerColumnExpressions(t *testing.T) {
	exprs := Build(cols(), HexifySet{"blob": true})
	sel := InsertSelect(exprs)
	assert.Equal(t, "`id`,hex(`payload`),cast(`flags` AS unsigned) AS `flags`,`name`", sel)
}
