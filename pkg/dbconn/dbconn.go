// Package dbconn contains database-related utility functions for the source
// MySQL connection: standardized session variables, retry classification,
// and the snapshot read lock.
package dbconn

import (
	"context"
	"database/sql"
	"math/rand"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
	errCannotConnect   = 2003
	errConnLost        = 2013
	errReadOnly        = 1290
	errQueryKilled     = 1836
)

// DBConfig holds the session-level settings applied to every connection and
// transaction opened against the source.
type DBConfig struct {
	LockWaitTimeout       int
	InnodbLockWaitTimeout int
	MaxRetries            int
	MaxOpenConnections    int

	TLSMode             string
	TLSCertificatePath  string
	InterpolateParams   bool
}

func NewDBConfig() *DBConfig {
	return &DBConfig{
		LockWaitTimeout:       30,
		InnodbLockWaitTimeout: 3,
		MaxRetries:            5,
		MaxOpenConnections:    4,
		TLSMode:               "PREFERRED",
	}
}

func standardizeTrx(ctx context.Context, trx *sql.Tx, config *DBConfig) error {
	stmts := []string{
		"SET time_zone='+00:00'",
		// A user might have set their SQL mode to empty even if the server has
		// it enabled; we need to be able to reproduce the same values when
		// copying historical rows (e.g. '0000-00-00 00:00:00').
		"SET sql_mode=''",
		"SET NAMES 'binary'",
	}
	for _, s := range stmts {
		if _, err := trx.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	if _, err := trx.ExecContext(ctx, "SET innodb_lock_wait_timeout=?", config.InnodbLockWaitTimeout); err != nil {
		return err
	}
	if _, err := trx.ExecContext(ctx, "SET lock_wait_timeout=?", config.LockWaitTimeout); err != nil {
		return err
	}
	return nil
}

// canRetryError looks at the MySQL error and decides if it is considered a
// permanent failure or not. A "retryable" error means rollback the
// transaction and start it again.
func canRetryError(err error) bool {
	var errNumber uint16
	if val, ok := err.(*mysql.MySQLError); ok {
		errNumber = val.Number
	}
	switch errNumber {
	case errLockWaitTimeout, errDeadlock, errCannotConnect,
		errConnLost, errReadOnly, errQueryKilled:
		return true
	default:
		return false
	}
}

func backoff(i int) {
	randFactor := i * rand.Intn(10) * int(time.Millisecond)
	time.Sleep(time.Duration(randFactor))
}

// BeginStandardTrx is like db.BeginTx but standardizes session variables in
// advance and returns the connection id.
func BeginStandardTrx(ctx context.Context, db *sql.DB, config *DBConfig) (*sql.Tx, int, error) {
	trx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	if err := standardizeTrx(ctx, trx, config); err != nil {
		return nil, 0, err
	}
	var connectionID int
	if err := trx.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&connectionID); err != nil {
		return nil, 0, err
	}
	return trx, connectionID, nil
}
