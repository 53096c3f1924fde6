// Package target implements the Postgres side of the Checkpoint Protocol
// (spec.md §4.7): it satisfies pkg/cdc.TargetWriter and
// pkg/snapshot.TargetWriter, and owns the batch/staging/master-status
// bookkeeping those protocols describe as "target-owned".
package target

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pingcap/errors"

	"github.com/chamgo/chameleon/pkg/changeset"
	"github.com/chamgo/chameleon/pkg/ddl"
	"github.com/chamgo/chameleon/pkg/value"
)

const (
	batchTable      = "chameleon_replica_batch"
	statusTable     = "chameleon_master_status"
	defaultLogTable = "chameleon_log_replica"
)

// Client is the Postgres target. A single Client satisfies both
// pkg/cdc.TargetWriter and pkg/snapshot.TargetWriter.
type Client struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// EnsureSchema creates the staging/bookkeeping tables if they don't exist.
// Called once at startup, before the first snapshot or CDC cycle.
func (c *Client) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id_batch BIGSERIAL PRIMARY KEY,
			start_log_file TEXT NOT NULL,
			start_log_position BIGINT NOT NULL,
			log_table TEXT NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT false
		)`, batchTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id SMALLINT PRIMARY KEY DEFAULT 1,
			log_file TEXT NOT NULL,
			log_position BIGINT NOT NULL
		)`, statusTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			id_batch BIGINT NOT NULL,
			binlog TEXT NOT NULL,
			logpos BIGINT NOT NULL,
			schema_name TEXT NOT NULL,
			table_name TEXT NOT NULL,
			action TEXT NOT NULL,
			ddl_query TEXT,
			event_data JSONB,
			pkey_cols JSONB,
			applied BOOLEAN NOT NULL DEFAULT false
		)`, defaultLogTable),
	}
	for _, s := range stmts {
		if _, err := c.pool.Exec(ctx, s); err != nil {
			return errors.Annotatef(err, "target: ensure schema: %s", s)
		}
	}
	return nil
}

// SeedBatch creates the first batch descriptor at the position captured by
// the initial snapshot, so the CDC engine has somewhere to resume from
// (spec.md §3 invariant: the target's recorded start position equals the
// source's master status captured under the read lock).
func (c *Client) SeedBatch(ctx context.Context, status changeset.MasterStatus) error {
	_, err := c.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (start_log_file, start_log_position, log_table, processed)
		VALUES ($1, $2, $3, false)`, batchTable), status.LogFile, status.LogPos, defaultLogTable)
	return errors.Annotate(err, "target: seed batch")
}

// GetBatchData returns the open (unprocessed) batches, oldest first.
func (c *Client) GetBatchData(ctx context.Context) ([]changeset.BatchDescriptor, error) {
	rows, err := c.pool.Query(ctx, fmt.Sprintf(`
		SELECT id_batch, start_log_file, start_log_position, log_table
		FROM %s WHERE NOT processed ORDER BY id_batch`, batchTable))
	if err != nil {
		return nil, errors.Annotate(err, "target: get batch data")
	}
	defer rows.Close()
	var out []changeset.BatchDescriptor
	for rows.Next() {
		var b changeset.BatchDescriptor
		if err := rows.Scan(&b.BatchID, &b.StartLogFile, &b.StartLogPosition, &b.LogTable); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// WriteBatch atomically appends records to staging (spec.md §4.7).
func (c *Client) WriteBatch(ctx context.Context, records []changeset.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return errors.Annotate(err, "target: write batch begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, rec := range records {
		eventJSON, err := marshalEvent(rec.Event)
		if err != nil {
			return errors.Annotate(err, "target: marshal event data")
		}
		keysJSON, err := json.Marshal(rec.Global.Keys)
		if err != nil {
			return errors.Annotate(err, "target: marshal pkey columns")
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id_batch, binlog, logpos, schema_name, table_name, action, ddl_query, event_data, pkey_cols)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, rec.Global.LogTable),
			rec.Global.BatchID, rec.Global.Position.LogFile, rec.Global.Position.LogPos,
			rec.Global.Schema, rec.Global.Table, string(rec.Global.Action),
			nullIfEmpty(rec.Global.DDLQuery), eventJSON, keysJSON)
		if err != nil {
			return errors.Annotate(err, "target: insert staged record")
		}
	}
	return errors.Annotate(tx.Commit(ctx), "target: write batch commit")
}

// SaveMasterStatus persists the latest acknowledged position, and opens a
// new batch window if the current one has staged rows awaiting replay. If
// nothing was staged, it returns (0, false): the empty-batch outcome whose
// id-reuse handling lives in pkg/cdc (see DESIGN.md's Open Question
// decision — this is intentional, not a silently replicated bug).
func (c *Client) SaveMasterStatus(ctx context.Context, status []changeset.MasterStatus) (int64, bool, error) {
	if len(status) == 0 {
		return 0, false, nil
	}
	s := status[len(status)-1]
	_, err := c.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, log_file, log_position) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET log_file = EXCLUDED.log_file, log_position = EXCLUDED.log_position
	`, statusTable), s.LogFile, s.LogPos)
	if err != nil {
		return 0, false, errors.Annotate(err, "target: save master status")
	}

	var staged int
	if err := c.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, defaultLogTable)).Scan(&staged); err != nil {
		return 0, false, errors.Annotate(err, "target: count staged rows")
	}
	if staged == 0 {
		return 0, false, nil
	}

	var newID int64
	err = c.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (start_log_file, start_log_position, log_table, processed)
		VALUES ($1, $2, $3, false) RETURNING id_batch`, batchTable),
		s.LogFile, s.LogPos, defaultLogTable).Scan(&newID)
	if err != nil {
		return 0, false, errors.Annotate(err, "target: open new batch window")
	}
	return newID, true, nil
}

// SetBatchProcessed marks the given batch fully applied.
func (c *Client) SetBatchProcessed(ctx context.Context, batchID int64) error {
	_, err := c.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET processed = true WHERE id_batch = $1`, batchTable), batchID)
	return errors.Annotate(err, "target: set batch processed")
}

// stagedRow is one unapplied row from the log table (spec.md §4.7 process_batch).
type stagedRow struct {
	id        int64
	tableName string
	action    string
	ddlQuery  *string
	event     map[string]any
	keys      []string
}

// ProcessBatch replays staged, unapplied rows into their final tables, in
// the order they were written (spec.md §4.6 step 8). Update and delete
// records locate their row by the table's primary key columns, carried on
// the staged row as pkey_cols; a table with no primary key falls back to
// matching every column in the record's image, which is only reliable when
// no other column changed between the pre- and post-image.
func (c *Client) ProcessBatch(ctx context.Context) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return errors.Annotate(err, "target: process batch begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT id, table_name, action, ddl_query, event_data, pkey_cols
		FROM %s WHERE NOT applied ORDER BY id`, defaultLogTable))
	if err != nil {
		return errors.Annotate(err, "target: process batch select staged rows")
	}
	var staged []stagedRow
	for rows.Next() {
		var s stagedRow
		var eventJSON, keysJSON []byte
		if err := rows.Scan(&s.id, &s.tableName, &s.action, &s.ddlQuery, &eventJSON, &keysJSON); err != nil {
			rows.Close()
			return errors.Annotate(err, "target: process batch scan staged row")
		}
		if len(eventJSON) > 0 {
			if err := json.Unmarshal(eventJSON, &s.event); err != nil {
				rows.Close()
				return errors.Annotate(err, "target: process batch unmarshal event data")
			}
		}
		if len(keysJSON) > 0 {
			if err := json.Unmarshal(keysJSON, &s.keys); err != nil {
				rows.Close()
				return errors.Annotate(err, "target: process batch unmarshal pkey columns")
			}
		}
		staged = append(staged, s)
	}
	if err := rows.Err(); err != nil {
		return errors.Annotate(err, "target: process batch read staged rows")
	}
	rows.Close()

	ids := make([]int64, 0, len(staged))
	for _, s := range staged {
		if err := applyStagedRow(ctx, tx, s); err != nil {
			return errors.Annotatef(err, "target: process batch apply %s to %s", s.action, s.tableName)
		}
		ids = append(ids, s.id)
	}
	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, defaultLogTable), ids); err != nil {
			return errors.Annotate(err, "target: process batch clear applied rows")
		}
	}
	return errors.Annotate(tx.Commit(ctx), "target: process batch commit")
}

func applyStagedRow(ctx context.Context, tx pgx.Tx, s stagedRow) error {
	switch changeset.Action(s.action) {
	case changeset.ActionDDL:
		if s.ddlQuery == nil {
			return nil
		}
		_, err := tx.Exec(ctx, *s.ddlQuery)
		return err
	case changeset.ActionInsert:
		cols, args := eventColumns(s.event)
		quotedCols := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		for i, col := range cols {
			quotedCols[i] = quoteIdent(col)
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		}
		stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING`,
			quoteIdent(s.tableName), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
		_, err := tx.Exec(ctx, stmt, args...)
		return err
	case changeset.ActionUpdate:
		keyCols := matchColumns(s)
		setCols, setArgs := eventColumns(s.event)
		setClauses := make([]string, 0, len(setCols))
		args := make([]any, 0, len(setArgs))
		for i, col := range setCols {
			args = append(args, setArgs[i])
			setClauses = append(setClauses, fmt.Sprintf("%s = $%d", quoteIdent(col), len(args)))
		}
		whereClause, whereArgs := keyWhere(keyCols, s.event, len(args))
		args = append(args, whereArgs...)
		stmt := fmt.Sprintf(`UPDATE %s SET %s WHERE %s`,
			quoteIdent(s.tableName), strings.Join(setClauses, ", "), whereClause)
		_, err := tx.Exec(ctx, stmt, args...)
		return err
	case changeset.ActionDelete:
		keyCols := matchColumns(s)
		whereClause, args := keyWhere(keyCols, s.event, 0)
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE %s`, quoteIdent(s.tableName), whereClause)
		_, err := tx.Exec(ctx, stmt, args...)
		return err
	default:
		return errors.Errorf("target: unknown staged action %q", s.action)
	}
}

// matchColumns returns the columns to match a staged row's event image
// against: the table's primary key when known, else every column present.
func matchColumns(s stagedRow) []string {
	if len(s.keys) > 0 {
		return s.keys
	}
	cols := make([]string, 0, len(s.event))
	for col := range s.event {
		cols = append(cols, col)
	}
	return cols
}

// keyWhere builds an "col1 = $n AND col2 = $n+1 ..." clause over cols, with
// placeholders starting at argOffset+1, and returns the matching argument
// values drawn from event in the same order.
func keyWhere(cols []string, event map[string]any, argOffset int) (string, []any) {
	clauses := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		clauses[i] = fmt.Sprintf("%s = $%d", quoteIdent(col), argOffset+i+1)
		args[i] = event[col]
	}
	return strings.Join(clauses, " AND "), args
}

// eventColumns returns a staged row's event image as parallel, stably
// ordered column-name/value slices suitable for building SQL args.
func eventColumns(event map[string]any) ([]string, []any) {
	cols := make([]string, 0, len(event))
	for col := range event {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = event[col]
	}
	return cols, args
}

// ApplyDDL applies a normalized DDL descriptor directly against the target
// (ddl_mode=sync, spec.md §9).
func (c *Client) ApplyDDL(ctx context.Context, desc *ddl.Descriptor) error {
	_, err := c.pool.Exec(ctx, desc.Text)
	return errors.Annotatef(err, "target: apply ddl %q", desc.Text)
}

// CopyData streams a CSV wire-format slice (spec.md §6) straight into a raw
// COPY FROM STDIN, avoiding any Go-side CSV parsing.
func (c *Client) CopyData(ctx context.Context, table string, columns []string, csv io.Reader) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return errors.Annotate(err, "target: acquire connection for copy")
	}
	defer conn.Release()

	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = quoteIdent(col)
	}
	copySQL := fmt.Sprintf(`COPY %s (%s) FROM STDIN WITH (FORMAT csv, NULL 'NULL')`,
		quoteIdent(table), strings.Join(quotedCols, ", "))
	_, err = conn.Conn().PgConn().CopyFrom(ctx, csv, copySQL)
	return errors.Annotatef(err, "target: copy_data %s", table)
}

// InsertData is the per-row fallback when CopyData fails (spec.md §4.3
// step 5).
func (c *Client) InsertData(ctx context.Context, table string, columns []string, rows [][]value.Value) error {
	if len(rows) == 0 {
		return nil
	}
	quotedCols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = quoteIdent(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		quoteIdent(table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return errors.Annotate(err, "target: insert_data begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for _, row := range rows {
		args := make([]any, len(row))
		for i, v := range row {
			args[i] = v.Native()
		}
		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return errors.Annotatef(err, "target: insert_data %s", table)
		}
	}
	return errors.Annotate(tx.Commit(ctx), "target: insert_data commit")
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalEvent(e changeset.EventData) ([]byte, error) {
	plain := make(map[string]any, len(e))
	for k, v := range e {
		plain[k] = v.Native()
	}
	return json.Marshal(plain)
}
