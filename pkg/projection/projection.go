// Package projection implements the Projection Builder (spec.md §4.2): for
// each column it chooses a CSV-mode and an insert-mode source-side select
// expression, and composes them into the two whole-row SELECT column lists
// consumed by the Snapshot Engine.
package projection

import (
	"fmt"
	"strings"

	"github.com/chamgo/chameleon/pkg/catalog"
)

// HexifySet is the configured set of declared type names (e.g. binary, blob
// variants) whose columns are hex-encoded at the source. An empty set is
// legal (spec.md §3).
type HexifySet map[string]bool

// ColumnExpr holds both projections for one column.
type ColumnExpr struct {
	Name string
	CSV  string // wrapped with NULL-sentinel handling
	Ins  string // plain typed select, aliased back to the column name for bit
}

// Build computes the per-column expressions for a table (spec.md §4.2 table).
func Build(cols []catalog.Column, hexify HexifySet) []ColumnExpr {
	out := make([]ColumnExpr, 0, len(cols))
	for _, c := range cols {
		quoted := "`" + c.Name + "`"
		var csvExpr, insExpr string
		switch {
		case hexify[c.DeclaredType]:
			csvExpr = fmt.Sprintf("hex(%s)", quoted)
			insExpr = fmt.Sprintf("hex(%s)", quoted)
		case c.DeclaredType == "bit":
			csvExpr = fmt.Sprintf("cast(%s AS unsigned)", quoted)
			insExpr = fmt.Sprintf("cast(%s AS unsigned) AS %s", quoted, quoted)
		default:
			csvExpr = quoted
			insExpr = quoted
		}
		out = append(out, ColumnExpr{
			Name: c.Name,
			CSV:  wrapNullSentinel(csvExpr),
			Ins:  insExpr,
		})
	}
	return out
}

// wrapNullSentinel coalesces NULL to the literal sentinel "NULL"; the
// sentinel is un-quoted again by CSVSelect's outer REPLACE, so it round-trips
// as SQL NULL for the target's bulk loader.
func wrapNullSentinel(expr string) string {
	return fmt.Sprintf("COALESCE(REPLACE(%s, '\"', '\"\"'), 'NULL')", expr)
}

// CSVSelect builds the single-column "data" expression used by the CSV-mode
// SELECT, reproducing pg_chameleon's generate_select(mode="csv") exactly:
// each wrapped column is joined with CONCAT_WS, the row is quoted, and the
// literal "NULL" sentinel is un-quoted back to bare NULL.
func CSVSelect(cols []ColumnExpr) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.CSV
	}
	joined := strings.Join(parts, ",")
	return fmt.Sprintf(`REPLACE(CONCAT('"',CONCAT_WS('","',%s),'"'),'"NULL"','NULL')`, joined)
}

// InsertSelect builds the column list used by the INSERT-mode fallback
// SELECT, reproducing generate_select(mode="insert").
func InsertSelect(cols []ColumnExpr) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.Ins
	}
	return strings.Join(parts, ",")
}
