package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAcceptsReplicatedVerbsAndRelations(t *testing.T) {
	desc, ok := Normalize("CREATE TABLE `app`.`users` (id INT)")
	assert.True(t, ok)
	assert.Equal(t, "CREATE", desc.Verb)
	assert.Equal(t, "TABLE", desc.Relation)
	assert.Equal(t, "users", desc.Table)
	assert.Contains(t, desc.Text, `"app"`)
	assert.NotContains(t, desc.Text, "`")
}

func TestNormalizeAlterTable(t *testing.T) {
	desc, ok := Normalize("ALTER TABLE `app`.`users` ADD COLUMN age INT")
	assert.True(t, ok)
	assert.Equal(t, "ALTER", desc.Verb)
	assert.Equal(t, "TABLE", desc.Relation)
	assert.Equal(t, "app", desc.Schema)
	assert.Equal(t, "users", desc.Table)
}

func TestNormalizeDropIndex(t *testing.T) {
	desc, ok := Normalize("DROP INDEX idx_name ON `app`.`users`")
	assert.True(t, ok)
	assert.Equal(t, "DROP", desc.Verb)
	assert.Equal(t, "INDEX", desc.Relation)
}

func TestNormalizeRejectsUnreplicatedVerbs(t *testing.T) {
	_, ok := Normalize("INSERT INTO users VALUES (1)")
	assert.False(t, ok)

	_, ok = Normalize("GRANT ALL ON app.* TO 'repl'@'%'")
	assert.False(t, ok)
}

func TestNormalizeRejectsUnreplicatedRelations(t *testing.T) {
	_, ok := Normalize("CREATE VIEW v AS SELECT 1")
	assert.False(t, ok)
}

func TestNormalizeEmptyQuery(t *testing.T) {
	_, ok := Normalize("   ")
	assert.False(t, ok)
}
