package dbconn

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/chamgo/chameleon/pkg/testutils"
)

func TestReadLockCapturesMasterStatus(t *testing.T) {
	db := testutils.RequireMySQL(t)
	defer db.Close()

	testutils.RunSQL(t, db, "DROP TABLE IF EXISTS readlock_t")
	testutils.RunSQL(t, db, "CREATE TABLE readlock_t (id INT NOT NULL PRIMARY KEY)")

	lock, err := NewReadLock(t.Context(), db, []string{"`test`.`readlock_t`"}, NewDBConfig(), logrus.New())
	assert.NoError(t, err)

	file, pos, err := lock.MasterStatus(t.Context())
	assert.NoError(t, err)
	assert.NotEmpty(t, file)
	assert.Positive(t, pos)

	assert.NoError(t, lock.Close())
}
