package binlog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/chamgo/chameleon/pkg/changeset"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestNextReturnsQueuedEvents(t *testing.T) {
	d := NewDecoder(Config{})
	d.events <- Event{Kind: EventRow, Position: changeset.Position{LogFile: "binlog.000001", LogPos: 10}}

	ev, err := d.Next(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, ev)
	assert.Equal(t, EventRow, ev.Kind)
}

func TestNextPropagatesStreamError(t *testing.T) {
	d := NewDecoder(Config{})
	d.errs <- assert.AnError
	close(d.events)

	ev, err := d.Next(context.Background())
	assert.Nil(t, ev)
	assert.Error(t, err)
}

func TestNextCleanCloseReturnsNilEvent(t *testing.T) {
	d := NewDecoder(Config{})
	close(d.events)

	ev, err := d.Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, ev)
}

func TestNextRespectsContextCancellation(t *testing.T) {
	d := NewDecoder(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	ev, err := d.Next(ctx)
	assert.Nil(t, ev)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOnRotateUpdatesLogFile(t *testing.T) {
	d := NewDecoder(Config{})
	d.logFile = "binlog.000001"

	err := d.OnRotate(&replication.EventHeader{}, &replication.RotateEvent{NextLogName: []byte("binlog.000002")})
	assert.NoError(t, err)
	assert.Equal(t, "binlog.000002", d.logFile)
}
