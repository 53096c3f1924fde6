//go:build integration

package target

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"

	"github.com/chamgo/chameleon/pkg/changeset"
	"github.com/chamgo/chameleon/pkg/testutils"
	"github.com/chamgo/chameleon/pkg/value"
)

func setupTestClient(t *testing.T) *Client {
	t.Helper()
	pool, err := pgxpool.New(context.Background(), testutils.PostgresDSN())
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(pool.Close)

	c := New(pool)
	if err := c.EnsureSchema(context.Background()); err != nil {
		t.Skipf("postgres schema setup failed: %v", err)
	}
	return c
}

func TestCheckpointProtocolRoundTrip(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	_, err := c.pool.Exec(ctx, "DROP TABLE IF EXISTS users")
	assert.NoError(t, err)
	_, err = c.pool.Exec(ctx, "CREATE TABLE users (id BIGINT PRIMARY KEY, name TEXT)")
	assert.NoError(t, err)

	assert.NoError(t, c.SeedBatch(ctx, changeset.MasterStatus{LogFile: "binlog.000001", LogPos: 4}))

	batches, err := c.GetBatchData(ctx)
	assert.NoError(t, err)
	assert.Len(t, batches, 1)
	head := batches[0]

	rec := changeset.ChangeRecord{
		Global: changeset.GlobalData{
			Position: changeset.Position{LogFile: "binlog.000001", LogPos: 120},
			Schema:   "app",
			Table:    "users",
			BatchID:  head.BatchID,
			LogTable: head.LogTable,
			Action:   changeset.ActionInsert,
		},
		Event: changeset.EventData{"id": value.Int(1), "name": value.String("ada")},
	}
	assert.NoError(t, c.WriteBatch(ctx, []changeset.ChangeRecord{rec}))

	newID, opened, err := c.SaveMasterStatus(ctx, []changeset.MasterStatus{{LogFile: "binlog.000001", LogPos: 200}})
	assert.NoError(t, err)
	assert.True(t, opened, "a staged row should open a new batch window")
	assert.NotEqual(t, head.BatchID, newID)

	assert.NoError(t, c.SetBatchProcessed(ctx, head.BatchID))
	assert.NoError(t, c.ProcessBatch(ctx))
}

func TestCopyDataLoadsRows(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	_, err := c.pool.Exec(ctx, "DROP TABLE IF EXISTS copy_data_t")
	assert.NoError(t, err)
	_, err = c.pool.Exec(ctx, "CREATE TABLE copy_data_t (id INT PRIMARY KEY, name TEXT)")
	assert.NoError(t, err)

	csv := strings.NewReader("1,\"ada\"\n2,\"grace\"\n")
	assert.NoError(t, c.CopyData(ctx, "copy_data_t", []string{"id", "name"}, csv))

	var count int
	assert.NoError(t, c.pool.QueryRow(ctx, "SELECT count(*) FROM copy_data_t").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestInsertDataFallback(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	_, err := c.pool.Exec(ctx, "DROP TABLE IF EXISTS insert_data_t")
	assert.NoError(t, err)
	_, err = c.pool.Exec(ctx, "CREATE TABLE insert_data_t (id INT PRIMARY KEY, name TEXT)")
	assert.NoError(t, err)

	rows := [][]value.Value{
		{value.Int(1), value.String("ada")},
		{value.Int(2), value.Null()},
	}
	assert.NoError(t, c.InsertData(ctx, "insert_data_t", []string{"id", "name"}, rows))

	var count int
	assert.NoError(t, c.pool.QueryRow(ctx, "SELECT count(*) FROM insert_data_t").Scan(&count))
	assert.Equal(t, 2, count)
}
