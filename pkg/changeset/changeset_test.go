package changeset

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chamgo/chameleon/pkg/value"
)

func TestPositionLess(t *testing.T) {
	a := Position{LogFile: "binlog.000001", LogPos: 100}
	b := Position{LogFile: "binlog.000001", LogPos: 200}
	c := Position{LogFile: "binlog.000002", LogPos: 1}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, b.Less(c), "a later file always sorts after an earlier one regardless of position")
	assert.False(t, c.Less(a))
	assert.False(t, a.Less(a))
}

func TestChangeRecordCarriesEventData(t *testing.T) {
	rec := ChangeRecord{
		Global: GlobalData{
			Position: Position{LogFile: "binlog.000001", LogPos: 4},
			Schema:   "app",
			Table:    "users",
			BatchID:  1,
			Action:   ActionInsert,
		},
		Event: EventData{
			"id":   value.Int(1),
			"name": value.String("ada"),
		},
	}
	assert.Equal(t, ActionInsert, rec.Global.Action)
	assert.Equal(t, int64(1), rec.Event["id"].Int())
	assert.Empty(t, rec.Global.DDLQuery)
}
