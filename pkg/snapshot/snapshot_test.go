package snapshot

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/chamgo/chameleon/pkg/value"
)

type fakeTarget struct {
	copied  []copyCall
	inserts []insertCall
	failCopyFor string
}

type copyCall struct {
	table string
	cols  []string
	data  string
}

type insertCall struct {
	table string
	cols  []string
	rows  [][]value.Value
}

func (f *fakeTarget) CopyData(_ context.Context, table string, columns []string, csv io.Reader) error {
	if table == f.failCopyFor {
		return assert.AnError
	}
	data, err := io.ReadAll(csv)
	if err != nil {
		return err
	}
	f.copied = append(f.copied, copyCall{table: table, cols: columns, data: string(data)})
	return nil
}

func (f *fakeTarget) InsertData(_ context.Context, table string, columns []string, rows [][]value.Value) error {
	f.inserts = append(f.inserts, insertCall{table: table, cols: columns, rows: rows})
	return nil
}

func TestMaterializeDirectMode(t *testing.T) {
	e := &Engine{cfg: Config{CopyMode: "direct"}, logger: logrus.New()}
	var buf bytes.Buffer
	buf.WriteString("1,\"a\"\n")

	r, cleanup, err := e.materialize(&buf)
	assert.NoError(t, err)
	defer cleanup()

	data, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "1,\"a\"\n", string(data))
}

func TestMaterializeFileMode(t *testing.T) {
	e := &Engine{cfg: Config{CopyMode: "file"}, logger: logrus.New()}
	var buf bytes.Buffer
	buf.WriteString("1,\"a\"\n")

	r, cleanup, err := e.materialize(&buf)
	assert.NoError(t, err)
	defer cleanup()

	data, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "1,\"a\"\n", string(data))
}

func TestNewEngineAppliesDefaults(t *testing.T) {
	e := NewEngine(nil, nil, &fakeTarget{}, Config{}, logrus.New())
	assert.Equal(t, 10000, e.cfg.Window)
	assert.Equal(t, 1, e.cfg.Concurrency)
}
