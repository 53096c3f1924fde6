// Package cdc implements the CDC Engine (spec.md §4.6): it drives the Binlog
// Decoder, applies the hexify rule, batches change records, and drives the
// Checkpoint Protocol (spec.md §4.7) against a TargetWriter.
//
// TargetWriter is defined here, not in pkg/target, so that this package
// never imports the target implementation: per spec.md §9's design note on
// cyclic engine/target references, the two sides are composed only at the
// top-level process (cmd/chameleon), each depending on a narrow interface
// rather than on each other's concrete package.
package cdc

import (
	"context"

	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"

	"github.com/chamgo/chameleon/pkg/binlog"
	"github.com/chamgo/chameleon/pkg/catalog"
	"github.com/chamgo/chameleon/pkg/changeset"
	"github.com/chamgo/chameleon/pkg/config"
	"github.com/chamgo/chameleon/pkg/ddl"
)

// TargetWriter is the Checkpoint Protocol contract (spec.md §4.7).
type TargetWriter interface {
	// GetBatchData returns the (possibly empty) ordered list of open
	// batches; the engine consumes only the head.
	GetBatchData(ctx context.Context) ([]changeset.BatchDescriptor, error)
	// WriteBatch atomically appends records to staging for the open batch.
	WriteBatch(ctx context.Context, records []changeset.ChangeRecord) error
	// SaveMasterStatus returns (newBatchID, true) if a new window is
	// opened, or (0, false) otherwise.
	SaveMasterStatus(ctx context.Context, status []changeset.MasterStatus) (int64, bool, error)
	// SetBatchProcessed marks the given batch fully applied.
	SetBatchProcessed(ctx context.Context, batchID int64) error
	// ProcessBatch replays staged rows into final tables.
	ProcessBatch(ctx context.Context) error
	// ApplyDDL applies a normalized DDL descriptor directly (ddl_mode=sync).
	ApplyDDL(ctx context.Context, desc *ddl.Descriptor) error
}

// Engine drives one replication cycle at a time (spec.md §5: single-threaded
// cooperative core).
type Engine struct {
	cfg      config.Config
	typeMap  catalog.TypeMap
	keyMap   catalog.KeyMap
	target   TargetWriter
	decoder  *binlog.Decoder
	logger   loggers.Advanced

	prevBatchID int64
	havePrev    bool
}

func NewEngine(cfg config.Config, typeMap catalog.TypeMap, target TargetWriter, decoder *binlog.Decoder, logger loggers.Advanced) *Engine {
	return &Engine{cfg: cfg, typeMap: typeMap, target: target, decoder: decoder, logger: logger}
}

// SetKeyMap attaches the tracked tables' primary key columns, so emitted
// change records carry the information the target needs to locate a row on
// replay (update/delete). Optional: a table absent from km simply emits
// records with no Keys, and the target falls back to matching the full row.
func (e *Engine) SetKeyMap(km catalog.KeyMap) {
	e.keyMap = km
}

// RunCycle executes one pull cycle (spec.md §4.6). It returns (false, nil)
// when there was no pending batch to process.
func (e *Engine) RunCycle(ctx context.Context) (ran bool, err error) {
	batches, err := e.target.GetBatchData(ctx)
	if err != nil {
		return false, errors.Annotate(err, "cdc: get batch data")
	}
	if len(batches) == 0 {
		return false, nil
	}
	head := batches[0]

	startPos := changeset.Position{LogFile: head.StartLogFile, LogPos: head.StartLogPosition}
	if err := e.decoder.Run(ctx, startPos); err != nil {
		return false, errors.Annotate(err, "cdc: open decoder")
	}
	defer e.decoder.Close()

	var accumulated []changeset.ChangeRecord
	var lastPos changeset.Position = startPos
	flushThreshold := e.cfg.ReplicaBatchSize
	bounded := e.cfg.FlushMode != "per-batch"

	flush := func() error {
		if len(accumulated) == 0 {
			return nil
		}
		if err := e.target.WriteBatch(ctx, accumulated); err != nil {
			return errors.Annotate(err, "cdc: write batch")
		}
		accumulated = accumulated[:0]
		return nil
	}

	for {
		ev, err := e.decoder.Next(ctx)
		if err != nil {
			// Decoder error: close the stream and abort the cycle without
			// marking the batch processed; the next cycle resumes at the
			// same coordinates (spec.md §4.6 Failure semantics).
			return false, errors.Annotate(err, "cdc: decoder")
		}
		if ev == nil {
			break // clean stream close (per-batch window exhausted)
		}
		lastPos = ev.Position

		switch ev.Kind {
		case binlog.EventDDL:
			desc, ok := ddl.Normalize(ev.Query)
			if !ok {
				continue // non-matching DDL discarded silently, per spec.md §4.5
			}
			if err := e.handleDDL(ctx, desc, &accumulated, head); err != nil {
				return false, err
			}
		case binlog.EventRow:
			rec := e.toChangeRecord(ev, head)
			accumulated = append(accumulated, rec)
		}

		if bounded && len(accumulated) >= flushThreshold {
			if err := flush(); err != nil {
				return false, err
			}
		}
	}

	if err := flush(); err != nil {
		return false, err
	}

	status := []changeset.MasterStatus{{LogFile: lastPos.LogFile, LogPos: lastPos.LogPos}}
	newID, opened, err := e.target.SaveMasterStatus(ctx, status)
	if err != nil {
		return false, errors.Annotate(err, "cdc: save master status")
	}
	if opened {
		e.prevBatchID = newID
		e.havePrev = true
	} else {
		// Empty-batch outcome: keep the previously remembered id, exactly as
		// pg_chameleon's run_replica does (see DESIGN.md's Open Question
		// decision — this is deliberate, not a silently replicated bug).
		e.logger.Debugf("cdc: save_master_status returned no new batch id, keeping previous id %d", e.prevBatchID)
	}
	if e.havePrev {
		if err := e.target.SetBatchProcessed(ctx, e.prevBatchID); err != nil {
			return false, errors.Annotate(err, "cdc: set batch processed")
		}
		e.havePrev = false
	}
	if err := e.target.ProcessBatch(ctx); err != nil {
		return false, errors.Annotate(err, "cdc: process batch")
	}
	return true, nil
}

// handleDDL implements the §9 DDL forwarding decision: mode (a) applies
// synchronously now (the default); mode (b) queues the descriptor alongside
// row records for replay-time application; mode (c) aborts the cycle.
func (e *Engine) handleDDL(ctx context.Context, desc *ddl.Descriptor, accumulated *[]changeset.ChangeRecord, head changeset.BatchDescriptor) error {
	switch e.cfg.DDLMode {
	case config.DDLModeAbort:
		return errors.Errorf("cdc: ddl_mode=abort, refusing to continue past DDL: %s", desc.Text)
	case config.DDLModeQueue:
		*accumulated = append(*accumulated, changeset.ChangeRecord{
			Global: changeset.GlobalData{
				Schema:   desc.Schema,
				Table:    desc.Table,
				BatchID:  head.BatchID,
				LogTable: head.LogTable,
				Action:   changeset.ActionDDL,
				DDLQuery: desc.Text,
			},
		})
		return nil
	default: // config.DDLModeSync
		return errors.Annotate(e.target.ApplyDDL(ctx, desc), "cdc: apply ddl")
	}
}

// toChangeRecord applies the hexify rule (spec.md §4.6 step 3) and builds the
// record's envelope.
func (e *Engine) toChangeRecord(ev *binlog.Event, head changeset.BatchDescriptor) changeset.ChangeRecord {
	event := make(changeset.EventData, len(ev.Values))
	cols := e.typeMap[ev.Table]
	for name, v := range ev.Values {
		if t, ok := cols[name]; ok && e.cfg.HexifySet()[t] && !v.IsNull() {
			v = v.Hex()
		}
		event[name] = v
	}
	return changeset.ChangeRecord{
		Global: changeset.GlobalData{
			Position: ev.Position,
			Schema:   ev.Schema,
			Table:    ev.Table,
			BatchID:  head.BatchID,
			LogTable: head.LogTable,
			Action:   ev.Action,
			Keys:     e.keyMap[ev.Table],
		},
		Event: event,
	}
}

// Run drives cycles until ctx is canceled or a cycle finds no pending batch.
// Per spec.md §5, exactly one decoder stream is open at a time; cycles never
// overlap.
func Run(ctx context.Context, e *Engine) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		ran, err := e.RunCycle(ctx)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}
