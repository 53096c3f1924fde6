// Package changeset defines the data model shared between the CDC engine and
// the target: change records, batch descriptors, and master status, per
// spec.md §3 and the staging contract in §6.
package changeset

import "github.com/chamgo/chameleon/pkg/value"

// Action identifies the kind of row mutation a ChangeRecord carries.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionDDL is the CDC engine's representation of a normalized DDL
	// descriptor queued alongside row records (spec.md §9, mode (b)).
	ActionDDL Action = "ddl"
)

// Position is a source binlog coordinate: (log file, log position).
type Position struct {
	LogFile string
	LogPos  uint32
}

// Less reports whether p sorts strictly before o, comparing log file names
// lexically (rotation always advances the file name) and then position.
func (p Position) Less(o Position) bool {
	if p.LogFile != o.LogFile {
		return p.LogFile < o.LogFile
	}
	return p.LogPos < o.LogPos
}

// GlobalData is the per-record envelope carried alongside EventData, mirroring
// spec.md §6's staging contract (global_data / event_data).
type GlobalData struct {
	Position Position
	Schema   string
	Table    string
	BatchID  int64
	LogTable string
	Action   Action
	// DDLQuery is populated only when Action == ActionDDL; it is the
	// normalized statement text produced by pkg/ddl.
	DDLQuery string
	// Keys is the table's primary key column names, carried so the target's
	// replay step can locate the row an update/delete record refers to
	// without a second catalog lookup. Nil when the table has no primary key.
	Keys []string
}

// EventData is the column-name -> value mapping for a change record: the
// post-image for insert/update, the pre-image for delete. Columns absent from
// the row image are omitted; a column whose value is SQL NULL is present and
// holds value.Null().
type EventData map[string]value.Value

// ChangeRecord is one emitted change: a row mutation or a queued DDL
// descriptor.
type ChangeRecord struct {
	Global GlobalData
	Event  EventData
}

// BatchDescriptor is target-owned (spec.md §3): the CDC engine consumes these,
// it never creates them. Batches are totally ordered by BatchID.
type BatchDescriptor struct {
	BatchID          int64
	StartLogFile     string
	StartLogPosition uint32
	LogTable         string
}

// MasterStatus is the last durably acknowledged source position for the
// current batch.
type MasterStatus struct {
	LogFile string
	LogPos  uint32
}
