// Package snapshot implements the Snapshot Engine (spec.md §4.3): it locks
// tracked tables, captures the source's master status, then streams each
// table to the target in fixed-size windows via bulk-load with a per-row
// insert fallback.
package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"
	"golang.org/x/sync/errgroup"

	"github.com/chamgo/chameleon/pkg/catalog"
	"github.com/chamgo/chameleon/pkg/changeset"
	"github.com/chamgo/chameleon/pkg/dbconn"
	"github.com/chamgo/chameleon/pkg/projection"
	"github.com/chamgo/chameleon/pkg/value"
)

// TargetWriter is the subset of the Checkpoint Protocol (spec.md §4.7) the
// Snapshot Engine needs. Defined here, not in pkg/target, for the same
// cyclic-reference reason as pkg/cdc.TargetWriter (spec.md §9).
type TargetWriter interface {
	CopyData(ctx context.Context, table string, columns []string, csv io.Reader) error
	InsertData(ctx context.Context, table string, columns []string, rows [][]value.Value) error
}

// ProgressFunc is called after each slice, grounded in pg_chameleon's
// print_progress (spec.md SPEC_FULL supplemented feature).
type ProgressFunc func(table string, slice, totalSlices int, rowsCopied, totalRows int64)

type Config struct {
	Window    int    // rows per slice, spec.md default 10000
	CopyMode  string // "direct" | "file"
	Concurrency int
}

// Engine runs the snapshot protocol end to end.
type Engine struct {
	db     *sql.DB
	dbCfg  *dbconn.DBConfig
	target TargetWriter
	cfg    Config
	logger loggers.Advanced
}

func NewEngine(db *sql.DB, dbCfg *dbconn.DBConfig, target TargetWriter, cfg Config, logger loggers.Advanced) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = 10000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Engine{db: db, dbCfg: dbCfg, target: target, cfg: cfg, logger: logger}
}

// Run executes the full protocol (spec.md §4.3 steps 1-6) and returns the
// master status captured while the lock was held.
func (e *Engine) Run(ctx context.Context, tables []*catalog.Table, hexify projection.HexifySet, progress ProgressFunc) (changeset.MasterStatus, error) {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = "`" + t.Name + "`"
	}

	lock, err := dbconn.NewReadLock(ctx, e.db, names, e.dbCfg, e.logger)
	if err != nil {
		return changeset.MasterStatus{}, errors.Annotate(err, "snapshot: acquire read lock")
	}
	logFile, logPos, err := lock.MasterStatus(ctx)
	if err != nil {
		_ = lock.Close()
		return changeset.MasterStatus{}, errors.Annotate(err, "snapshot: capture master status")
	}
	status := changeset.MasterStatus{LogFile: logFile, LogPos: logPos}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, t := range tables {
		t := t
		g.Go(func() error {
			return e.copyTable(gctx, t, hexify, progress)
		})
	}
	if err := g.Wait(); err != nil {
		_ = lock.Close()
		return changeset.MasterStatus{}, errors.Annotate(err, "snapshot: copy tables")
	}

	// The lock is released once every table has finished copying, before Run
	// returns. Run does not persist status itself: the caller records it
	// after Run returns, so the lock is already released at that point.
	if err := lock.Close(); err != nil {
		return status, errors.Annotate(err, "snapshot: release read lock")
	}
	return status, nil
}

func (e *Engine) copyTable(ctx context.Context, t *catalog.Table, hexify projection.HexifySet, progress ProgressFunc) error {
	var total int64
	if err := e.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM `%s`", t.Name)).Scan(&total); err != nil {
		return errors.Annotatef(err, "snapshot: count rows for %s", t.Name)
	}
	window := e.cfg.Window
	totalSlices := int((total + int64(window) - 1) / int64(window))
	if totalSlices == 0 {
		totalSlices = 1 // zero-row tables still produce one empty slice (spec.md §4.3 edge case)
	}

	cols := projection.Build(t.Columns, hexify)
	csvSelect := projection.CSVSelect(cols)
	insertSelect := projection.InsertSelect(cols)
	colNames := t.ColumnNames()

	var copied int64
	for slice := 0; slice < totalSlices; slice++ {
		offset := slice * window
		if err := e.copySlice(ctx, t, csvSelect, insertSelect, colNames, offset, window); err != nil {
			return errors.Annotatef(err, "snapshot: copy slice %d of %s", slice, t.Name)
		}
		copied += int64(window)
		if copied > total {
			copied = total
		}
		if progress != nil {
			progress(t.Name, slice+1, totalSlices, copied, total)
		}
	}
	return nil
}

// copySlice tries the CSV bulk-load path first; any error from the target
// falls back to the typed-insert path on a secondary cursor (spec.md §4.3
// step 5), so the primary cursor's result stream is left undisturbed.
func (e *Engine) copySlice(ctx context.Context, t *catalog.Table, csvSelect, insertSelect string, colNames []string, offset, limit int) error {
	query := fmt.Sprintf("SELECT %s AS data FROM `%s` LIMIT %d, %d", csvSelect, t.Name, offset, limit)
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			rows.Close()
			return err
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	reader, cleanup, err := e.materialize(&buf)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := e.target.CopyData(ctx, t.Name, colNames, reader); err != nil {
		e.logger.Infof("table %s error in target copy, falling back to insert statements: %v", t.Name, err)
		return e.insertFallback(ctx, t, insertSelect, colNames, offset, limit)
	}
	return nil
}

// materialize implements copy_mode (SPEC_FULL supplemented feature):
// "direct" hands the target an in-memory reader over the slice, "file"
// writes the slice to a temp file and rewinds it for reading. In both modes
// the source rows are already fully read and closed before the target write.
func (e *Engine) materialize(buf *bytes.Buffer) (io.Reader, func(), error) {
	if e.cfg.CopyMode != "file" {
		return bytes.NewReader(buf.Bytes()), func() {}, nil
	}
	f, err := os.CreateTemp("", "chameleon-snapshot-*.csv")
	if err != nil {
		return nil, nil, err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, nil, err
	}
	name := f.Name()
	return f, func() { f.Close(); os.Remove(name) }, nil
}

// insertFallback re-selects the slice with the typed-insert projection and
// hands the rows to the target's per-row insert path. The query runs through
// the engine's *sql.DB pool: it is not a prepared statement and is not pinned
// to the connection that ran the CSV select, whose rows are already closed.
func (e *Engine) insertFallback(ctx context.Context, t *catalog.Table, insertSelect string, colNames []string, offset, limit int) error {
	query := fmt.Sprintf("SELECT %s FROM `%s` LIMIT %d, %d", insertSelect, t.Name, offset, limit)
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	var result [][]value.Value
	for rows.Next() {
		raw := make([]interface{}, len(colNames))
		ptrs := make([]interface{}, len(colNames))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make([]value.Value, len(colNames))
		for i, v := range raw {
			row[i] = value.FromNative(v)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return e.target.InsertData(ctx, t.Name, colNames, result)
}
